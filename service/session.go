package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zlnvch/storystack/models"
	"github.com/zlnvch/storystack/provider"
)

const pickerPageSize = 25

// StartPickerSession creates a remote picker session, records it in the
// cache and starts the 3s poller. The caller opens PickerUri in a new
// top-level browsing context; no items are fetched yet.
func (s *Service) StartPickerSession(ctx context.Context, shutdownCtx context.Context, user models.User) (models.PickerSession, error) {
	token, err := s.providerToken(ctx, user.Id)
	if err != nil {
		return models.PickerSession{}, err
	}

	info, err := s.Provider.CreateSession(ctx, token)
	if err != nil {
		return models.PickerSession{}, classifyProviderError(err)
	}

	// The user cannot have finished selecting yet, so the session moves
	// to waiting immediately after creation.
	session := models.PickerSession{
		Id:        info.Id,
		UserId:    user.Id,
		PickerUri: info.PickerUri,
		State:     models.SessionWaitingForUser,
		Created:   time.Now().Unix(),
	}
	if err := s.putSession(ctx, session); err != nil {
		return models.PickerSession{}, err
	}

	s.SessionPoller.Start(shutdownCtx, session.Id, func(pollCtx context.Context, sessionId string) bool {
		return s.pollOnce(pollCtx, user.Id, sessionId)
	})

	return session, nil
}

func (s *Service) GetPickerSession(ctx context.Context, userId string, sessionId string) (models.PickerSession, error) {
	session, err := s.loadSession(ctx, sessionId)
	if err != nil {
		return models.PickerSession{}, err
	}
	if session.UserId != userId {
		return models.PickerSession{}, NewError(KindInsufficientPermissions, "session does not belong to user", nil)
	}
	return session, nil
}

// FetchNow is the user-invoked "I've selected, fetch now" action. It
// performs exactly the fetch a poll tick would, collapsing the wait
// without changing the transition rules.
func (s *Service) FetchNow(ctx context.Context, userId string, sessionId string) (models.PickerSession, []models.ProviderItem, error) {
	session, items, err := s.fetchSessionItems(ctx, userId, sessionId, false)
	if err != nil {
		return session, nil, err
	}
	if session.State == models.SessionItemsReady || session.State == models.SessionError {
		s.SessionPoller.Stop(sessionId)
	}
	return session, items, nil
}

// ResumeVisible runs when the client document regains foreground
// visibility while still waiting with zero items. The refresh is best
// effort: failures are swallowed and never produce an Error state; only
// explicit polls and FetchNow do.
func (s *Service) ResumeVisible(ctx context.Context, userId string, sessionId string) (models.PickerSession, []models.ProviderItem) {
	session, err := s.loadSession(ctx, sessionId)
	if err != nil || session.UserId != userId || session.State != models.SessionWaitingForUser {
		return session, nil
	}

	session, items, err := s.fetchSessionItems(ctx, userId, sessionId, true)
	if err != nil {
		log.Printf("Silent refresh for session %s failed: %v", sessionId, err)
		return session, nil
	}
	if session.State == models.SessionItemsReady {
		s.SessionPoller.Stop(sessionId)
	}
	return session, items
}

// pollOnce is the poller callback. Returns true when polling must stop:
// items arrived or the session hit a terminal error.
func (s *Service) pollOnce(ctx context.Context, userId string, sessionId string) bool {
	session, _, err := s.fetchSessionItems(ctx, userId, sessionId, false)
	if err != nil {
		return !Recoverable(err)
	}
	return session.State == models.SessionItemsReady || session.State == models.SessionError
}

// fetchSessionItems performs one item-list fetch and advances the state
// machine. In silent mode errors are returned but never recorded as an
// Error state. The cancellation check before each state write keeps a
// torn-down session from being resurrected by an in-flight fetch.
func (s *Service) fetchSessionItems(ctx context.Context, userId string, sessionId string, silent bool) (models.PickerSession, []models.ProviderItem, error) {
	session, err := s.loadSession(ctx, sessionId)
	if err != nil {
		return models.PickerSession{}, nil, err
	}
	if session.UserId != userId {
		return models.PickerSession{}, nil, NewError(KindInsufficientPermissions, "session does not belong to user", nil)
	}

	// Terminal states never fetch again
	if session.State == models.SessionItemsReady || session.State == models.SessionError {
		return session, nil, nil
	}

	token, err := s.providerToken(ctx, userId)
	if err != nil {
		if silent {
			return session, nil, err
		}
		return s.recordSessionError(ctx, session, err)
	}

	session.State = models.SessionPolling
	if err := s.putSessionIfLive(ctx, session); err != nil {
		return session, nil, err
	}

	page, err := s.Provider.ListSessionItems(ctx, token, sessionId, pickerPageSize, "")
	if err != nil {
		classified := classifyProviderError(err)

		if errors.Is(err, provider.ErrPendingUserAction) {
			// Selection not finished: stay in waiting, keep polling
			session.State = models.SessionWaitingForUser
			if err := s.putSessionIfLive(ctx, session); err != nil {
				return session, nil, err
			}
			s.publishSessionEvent(ctx, session, nil)
			return session, nil, classified
		}

		if silent {
			session.State = models.SessionWaitingForUser
			_ = s.putSessionIfLive(ctx, session)
			return session, nil, classified
		}
		return s.recordSessionError(ctx, session, classified)
	}

	if len(page.Items) == 0 {
		// Zero items with no precondition error: treat as still waiting
		// rather than inventing an empty terminal state.
		session.State = models.SessionWaitingForUser
		if err := s.putSessionIfLive(ctx, session); err != nil {
			return session, nil, err
		}
		s.publishSessionEvent(ctx, session, nil)
		return session, nil, nil
	}

	session.State = models.SessionItemsReady
	session.PageTokens = []string{""}
	session.NextToken = page.NextPageToken
	if err := s.putSessionIfLive(ctx, session); err != nil {
		return session, nil, err
	}
	s.publishSessionEvent(ctx, session, page.Items)

	return session, page.Items, nil
}

// NextPage fetches the page after the current one, pushing its token on
// the session's token stack so PrevPage can walk back.
func (s *Service) NextPage(ctx context.Context, userId string, sessionId string) ([]models.ProviderItem, error) {
	session, err := s.GetPickerSession(ctx, userId, sessionId)
	if err != nil {
		return nil, err
	}
	if session.State != models.SessionItemsReady {
		return nil, NewError(KindValidationError, "session has no items yet", nil)
	}
	if session.NextToken == "" {
		return nil, NewError(KindValidationError, "no further pages", nil)
	}

	token, err := s.providerToken(ctx, userId)
	if err != nil {
		return nil, err
	}

	page, err := s.Provider.ListSessionItems(ctx, token, sessionId, pickerPageSize, session.NextToken)
	if err != nil {
		return nil, classifyProviderError(err)
	}

	session.PageTokens = append(session.PageTokens, session.NextToken)
	session.NextToken = page.NextPageToken
	if err := s.putSession(ctx, session); err != nil {
		return nil, err
	}

	return page.Items, nil
}

// PrevPage pops the token stack and refetches the previous page.
func (s *Service) PrevPage(ctx context.Context, userId string, sessionId string) ([]models.ProviderItem, error) {
	session, err := s.GetPickerSession(ctx, userId, sessionId)
	if err != nil {
		return nil, err
	}
	if session.State != models.SessionItemsReady {
		return nil, NewError(KindValidationError, "session has no items yet", nil)
	}
	if len(session.PageTokens) <= 1 {
		return nil, NewError(KindValidationError, "already on the first page", nil)
	}

	token, err := s.providerToken(ctx, userId)
	if err != nil {
		return nil, err
	}

	session.PageTokens = session.PageTokens[:len(session.PageTokens)-1]
	prevToken := session.PageTokens[len(session.PageTokens)-1]

	page, err := s.Provider.ListSessionItems(ctx, token, sessionId, pickerPageSize, prevToken)
	if err != nil {
		return nil, classifyProviderError(err)
	}

	session.NextToken = page.NextPageToken
	if err := s.putSession(ctx, session); err != nil {
		return nil, err
	}

	return page.Items, nil
}

// ImportSessionItems appends the session's current items to the stack's
// slide sequence as synced slides.
func (s *Service) ImportSessionItems(ctx context.Context, userId string, stackId string, sessionId string) ([]models.Slide, error) {
	session, items, err := s.FetchNow(ctx, userId, sessionId)
	if err != nil {
		return nil, err
	}
	if session.State != models.SessionItemsReady {
		return nil, NewError(KindValidationError, "session has no items to import", nil)
	}

	// A session that reached ItemsReady earlier skips the fetch above, so
	// refetch the page the client is looking at.
	if len(items) == 0 {
		token, err := s.providerToken(ctx, userId)
		if err != nil {
			return nil, err
		}

		pageToken := ""
		if n := len(session.PageTokens); n > 0 {
			pageToken = session.PageTokens[n-1]
		}
		page, err := s.Provider.ListSessionItems(ctx, token, sessionId, pickerPageSize, pageToken)
		if err != nil {
			return nil, classifyProviderError(err)
		}
		items = page.Items
	}
	if len(items) == 0 {
		return nil, NewError(KindValidationError, "session has no items to import", nil)
	}

	return s.AppendMedia(ctx, stackId, items)
}

// AbandonSession tears the session down without importing. The slides it
// already yielded are untouched.
func (s *Service) AbandonSession(ctx context.Context, userId string, sessionId string) error {
	session, err := s.loadSession(ctx, sessionId)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		// Already gone: stopping the poller is still worthwhile
		s.SessionPoller.Stop(sessionId)
		return nil
	}
	if session.UserId != userId {
		return NewError(KindInsufficientPermissions, "session does not belong to user", nil)
	}

	s.SessionPoller.Stop(sessionId)
	return s.Cache.DeleteSession(ctx, sessionId)
}

func (s *Service) recordSessionError(ctx context.Context, session models.PickerSession, err error) (models.PickerSession, []models.ProviderItem, error) {
	classified := classifyProviderError(err)
	session.State = models.SessionError
	session.ErrorKind = string(KindOf(classified))
	if putErr := s.putSessionIfLive(ctx, session); putErr != nil {
		return session, nil, putErr
	}
	s.publishSessionEvent(ctx, session, nil)
	return session, nil, classified
}

func classifyProviderError(err error) error {
	var de *DomainError
	if errors.As(err, &de) {
		return err
	}

	switch {
	case errors.Is(err, provider.ErrPendingUserAction):
		return NewError(KindPendingUserAction, "selection not finished", err)
	case errors.Is(err, provider.ErrSessionExpired), errors.Is(err, provider.ErrUnauthorized):
		return NewError(KindSessionExpired, "sign in again to continue", err)
	case errors.Is(err, provider.ErrInsufficientScope):
		return NewError(KindInsufficientPermissions, "grant photo access to continue", err)
	}
	return NewError(KindProviderError, err.Error(), err)
}

func (s *Service) loadSession(ctx context.Context, sessionId string) (models.PickerSession, error) {
	sessionBytes, err := s.Cache.GetSession(ctx, sessionId)
	if err != nil {
		return models.PickerSession{}, err
	}

	var session models.PickerSession
	if err := json.Unmarshal(sessionBytes, &session); err != nil {
		return models.PickerSession{}, fmt.Errorf("decode session: %w", err)
	}
	return session, nil
}

func (s *Service) putSession(ctx context.Context, session models.PickerSession) error {
	sessionBytes, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return s.Cache.PutSession(ctx, session.Id, sessionBytes)
}

// putSessionIfLive refuses to write state for a cancelled context, so an
// abandoned session is never resurrected by an in-flight fetch.
func (s *Service) putSessionIfLive(ctx context.Context, session models.PickerSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.putSession(ctx, session)
}

type sessionItemData struct {
	Id       string `json:"id"`
	BaseUrl  string `json:"base_url"`
	Kind     string `json:"kind"`
	Filename string `json:"filename"`
}

type sessionStateData struct {
	SessionId string            `json:"session_id"`
	State     string            `json:"state"`
	ErrorKind string            `json:"error_kind,omitempty"`
	Items     []sessionItemData `json:"items,omitempty"`
}

type sessionStateMessage struct {
	Type string           `json:"type"`
	Data sessionStateData `json:"data"`
}

func (s *Service) publishSessionEvent(ctx context.Context, session models.PickerSession, items []models.ProviderItem) {
	data := sessionStateData{
		SessionId: session.Id,
		State:     string(session.State),
		ErrorKind: session.ErrorKind,
	}
	for _, item := range items {
		data.Items = append(data.Items, sessionItemData{
			Id:       item.Id,
			BaseUrl:  item.BaseUrl,
			Kind:     string(item.Kind),
			Filename: item.Filename,
		})
	}

	msgBytes, err := json.Marshal(sessionStateMessage{Type: "session_state", Data: data})
	if err != nil {
		return
	}
	if err := s.Cache.Publish(ctx, "picker:"+session.Id, msgBytes); err != nil {
		log.Printf("Failed to publish session state for %s: %v", session.Id, err)
	}
}
