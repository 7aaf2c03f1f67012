package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zlnvch/storystack/models"
)

// Serialize assembles the persisted aggregate from a draft. The output
// is deterministic: the cover is always the first slide's URL and slides
// keep their sequence order with all nested layers, trim windows and
// sync flags. A stack failing the persistence rules yields a validation
// error, never a malformed aggregate.
func Serialize(draft Draft) (models.Stack, error) {
	if err := draft.Stack.ValidateForSave(); err != nil {
		return models.Stack{}, NewError(KindValidationError, err.Error(), err)
	}
	return draft.Stack.Aggregate(), nil
}

// DeserializeStack is the inverse used when loading the persisted form.
func DeserializeStack(data []byte) (models.Stack, error) {
	var stack models.Stack
	if err := json.Unmarshal(data, &stack); err != nil {
		return models.Stack{}, fmt.Errorf("decode stack: %w", err)
	}
	return stack, nil
}

// StackMetaPatch updates the aggregate-level fields of the draft.
type StackMetaPatch struct {
	Title        *string   `json:"title,omitempty"`
	Description  *string   `json:"description,omitempty"`
	Participants *[]string `json:"participants,omitempty"`
	Hashtags     *[]string `json:"hashtags,omitempty"`
	MusicUrl     *string   `json:"music_url,omitempty"`
	MusicName    *string   `json:"music_name,omitempty"`
}

func (s *Service) UpdateStackMeta(ctx context.Context, stackId string, patch StackMetaPatch) (Draft, error) {
	return s.mutateDraft(ctx, stackId, func(draft *Draft) error {
		if patch.Title != nil {
			draft.Stack.Title = *patch.Title
		}
		if patch.Description != nil {
			draft.Stack.Description = *patch.Description
		}
		if patch.Participants != nil {
			draft.Stack.Participants = *patch.Participants
		}
		if patch.Hashtags != nil {
			draft.Stack.Hashtags = *patch.Hashtags
		}
		if patch.MusicUrl != nil {
			draft.Stack.MusicUrl = *patch.MusicUrl
		}
		if patch.MusicName != nil {
			draft.Stack.MusicName = *patch.MusicName
		}
		return nil
	})
}

// SaveStack validates, serializes and writes the draft synchronously.
// This is the explicit "save" action; the autosave batcher keeps the
// store loosely current in between.
func (s *Service) SaveStack(ctx context.Context, user models.User, stackId string) (models.Stack, error) {
	draft, err := s.GetDraft(ctx, user, stackId)
	if err != nil {
		return models.Stack{}, err
	}

	stack, err := Serialize(draft)
	if err != nil {
		return models.Stack{}, err
	}

	if err := s.Store.SaveStack(ctx, stack); err != nil {
		return models.Stack{}, err
	}

	if !draft.Saved {
		if err := s.Store.IncrementUserStackCount(ctx, draft.OwnerProvider, draft.OwnerProviderId, 1); err != nil {
			return models.Stack{}, err
		}
		draft.Saved = true
		if err := s.putDraft(ctx, draft); err != nil {
			return models.Stack{}, err
		}
	}

	return stack, nil
}

func (s *Service) GetStack(ctx context.Context, user models.User, stackId string) (models.Stack, error) {
	return s.Store.GetStack(ctx, user.Id, stackId)
}

func (s *Service) ListStacks(ctx context.Context, user models.User) ([]models.Stack, error) {
	return s.Store.ListUserStacks(ctx, user.Id)
}

// DeleteStack queues cleanup of the editing state via the discard path,
// then removes the persisted aggregate. Discard runs first because its
// ownership check falls back to the stored stack when no draft is cached.
func (s *Service) DeleteStack(ctx context.Context, user models.User, stackId string) error {
	if err := s.DiscardDraft(ctx, user, stackId, ""); err != nil {
		return err
	}

	if err := s.Store.DeleteStack(ctx, user.Id, stackId); err != nil {
		return err
	}

	return s.Store.IncrementUserStackCount(ctx, user.Provider, user.ProviderId, -1)
}
