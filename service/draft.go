package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/gofrs/uuid/v5"
	"github.com/zlnvch/storystack/cache"
	"github.com/zlnvch/storystack/models"
	"github.com/zlnvch/storystack/worker"
)

// Draft is the editing-time state of a stack. It lives in the cache while
// the editor is open and is flushed to the store by the autosave batcher.
// EditedIndex and Selection are part of the draft, not the persisted
// aggregate: switching the edited slide must clear the selection, and
// that rule is enforced here where both live together.
type Draft struct {
	Stack           models.Stack     `json:"stack"`
	EditedIndex     int              `json:"edited_index"`
	Selection       models.Selection `json:"selection"`
	Saved           bool             `json:"saved"`
	OwnerProvider   string           `json:"owner_provider"`
	OwnerProviderId string           `json:"owner_provider_id"`
}

// OpenDraft returns the editing state for stackId, creating a new empty
// draft when stackId is empty and rehydrating from the store when the
// draft is not cached.
func (s *Service) OpenDraft(ctx context.Context, user models.User, stackId string) (Draft, error) {
	if stackId == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return Draft{}, err
		}

		draft := Draft{
			Stack: models.Stack{
				Id:           id.String(),
				OwnerId:      user.Id,
				Participants: []string{},
				Hashtags:     []string{},
				MediaItems:   []models.Slide{},
			},
			OwnerProvider:   user.Provider,
			OwnerProviderId: user.ProviderId,
		}
		if err := s.putDraft(ctx, draft); err != nil {
			return Draft{}, err
		}
		return draft, nil
	}

	draft, err := s.loadDraft(ctx, stackId)
	if err == nil {
		if draft.Stack.OwnerId != user.Id {
			return Draft{}, NewError(KindInsufficientPermissions, "draft does not belong to user", nil)
		}
		return draft, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		return Draft{}, err
	}

	// Cache miss: rehydrate from the persisted aggregate
	stack, err := s.Store.GetStack(ctx, user.Id, stackId)
	if err != nil {
		return Draft{}, err
	}

	draft = Draft{
		Stack:           stack,
		Saved:           true,
		OwnerProvider:   user.Provider,
		OwnerProviderId: user.ProviderId,
	}
	if err := s.putDraft(ctx, draft); err != nil {
		return Draft{}, err
	}
	return draft, nil
}

func (s *Service) GetDraft(ctx context.Context, user models.User, stackId string) (Draft, error) {
	draft, err := s.loadDraft(ctx, stackId)
	if err != nil {
		return Draft{}, err
	}
	if draft.Stack.OwnerId != user.Id {
		return Draft{}, NewError(KindInsufficientPermissions, "draft does not belong to user", nil)
	}
	return draft, nil
}

// SetEditedSlide moves the editing cursor. The selection is always
// cleared so a stale selected layer id from the previous slide can never
// leak into edits on the new one.
func (s *Service) SetEditedSlide(ctx context.Context, stackId string, index int) (Draft, error) {
	return s.mutateDraft(ctx, stackId, func(draft *Draft) error {
		if index < 0 || index >= len(draft.Stack.MediaItems) {
			return fmt.Errorf("slide index %d out of range", index)
		}
		draft.EditedIndex = index
		draft.Selection = models.Selection{Kind: models.SelectNone}
		return nil
	})
}

// DiscardDraft abandons the editing session. Already-persisted stacks
// stay in the store; only the editing state and caches are torn down,
// asynchronously via the cleanup queue. Ownership is verified before
// any side effect: the cleanup consumer trusts the message.
func (s *Service) DiscardDraft(ctx context.Context, user models.User, stackId string, sessionId string) error {
	draft, err := s.loadDraft(ctx, stackId)
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		return err
	}

	var itemIds []string
	if err == nil {
		if draft.Stack.OwnerId != user.Id {
			return NewError(KindInsufficientPermissions, "draft does not belong to user", nil)
		}
		for _, slide := range draft.Stack.MediaItems {
			if slide.ProviderItemId != "" {
				itemIds = append(itemIds, slide.ProviderItemId)
			}
		}
	} else {
		// No cached draft: the persisted aggregate is the ownership
		// record. The store query is keyed by owner, so a foreign or
		// unknown stack id comes back not-found.
		if _, err := s.Store.GetStack(ctx, user.Id, stackId); err != nil {
			return err
		}
	}

	if sessionId != "" {
		session, err := s.loadSession(ctx, sessionId)
		if err == nil && session.UserId != user.Id {
			return NewError(KindInsufficientPermissions, "session does not belong to user", nil)
		}
	}

	s.AutosaveBatcher.DiscardCh <- worker.DiscardDraftRequest{StackId: stackId}

	msg := worker.DiscardStackMessage{
		StackId:   stackId,
		SessionId: sessionId,
		ItemIds:   itemIds,
	}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.MQ.Send(ctx, string(msgBytes))
}

func (s *Service) loadDraft(ctx context.Context, stackId string) (Draft, error) {
	draftBytes, err := s.Cache.GetDraft(ctx, stackId)
	if err != nil {
		return Draft{}, err
	}

	var draft Draft
	if err := json.Unmarshal(draftBytes, &draft); err != nil {
		return Draft{}, fmt.Errorf("decode draft: %w", err)
	}
	return draft, nil
}

func (s *Service) putDraft(ctx context.Context, draft Draft) error {
	draftBytes, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	return s.Cache.PutDraft(ctx, draft.Stack.Id, draftBytes)
}

// mutateDraft is the single write path for editing operations: load,
// apply, store back, mark dirty for autosave, broadcast.
func (s *Service) mutateDraft(ctx context.Context, stackId string, apply func(draft *Draft) error) (Draft, error) {
	draft, err := s.loadDraft(ctx, stackId)
	if err != nil {
		return Draft{}, err
	}

	if err := apply(&draft); err != nil {
		return Draft{}, err
	}

	if err := s.putDraft(ctx, draft); err != nil {
		return Draft{}, err
	}

	s.markDirty(draft)
	s.publishStackEvent(ctx, stackId, "draft_updated", nil)

	return draft, nil
}

func (s *Service) markDirty(draft Draft) {
	s.AutosaveBatcher.SaveCh <- worker.DraftSave{
		StackId:        draft.Stack.Id,
		UserProvider:   draft.OwnerProvider,
		UserProviderId: draft.OwnerProviderId,
		IsNew:          !draft.Saved,
	}
}

type stackEvent struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func (s *Service) publishStackEvent(ctx context.Context, stackId string, eventType string, data any) {
	msgBytes, err := json.Marshal(stackEvent{Type: eventType, Data: data})
	if err != nil {
		return
	}
	if err := s.Cache.Publish(ctx, "stack:"+stackId, msgBytes); err != nil {
		log.Printf("Failed to publish %s for stack %s: %v", eventType, stackId, err)
	}
}

// editedSlide returns a pointer into the draft's slide sequence for the
// currently edited index.
func editedSlide(draft *Draft) (*models.Slide, error) {
	if draft.EditedIndex < 0 || draft.EditedIndex >= len(draft.Stack.MediaItems) {
		return nil, errors.New("no slide is being edited")
	}
	return &draft.Stack.MediaItems[draft.EditedIndex], nil
}
