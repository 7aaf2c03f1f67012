package service_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/storystack/cache"
	"github.com/zlnvch/storystack/models"
	"github.com/zlnvch/storystack/service"
	"github.com/zlnvch/storystack/store"
	"github.com/zlnvch/storystack/worker"
)

func TestOpenDraft_NewStack(t *testing.T) {
	svc, _, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	user := models.User{Id: "user1", Provider: "google", ProviderId: "123"}

	var saved service.Draft
	mockCache.On("PutDraft", ctx, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		assert.NoError(t, json.Unmarshal(args.Get(2).([]byte), &saved))
	}).Return(nil)

	draft, err := svc.OpenDraft(ctx, user, "")

	assert.NoError(t, err)
	assert.NotEmpty(t, draft.Stack.Id)
	assert.Equal(t, "user1", draft.Stack.OwnerId)
	assert.NotNil(t, draft.Stack.MediaItems)
	assert.Empty(t, draft.Stack.MediaItems)
	assert.False(t, draft.Saved)
	assert.Equal(t, draft.Stack.Id, saved.Stack.Id)
}

func TestOpenDraft_CacheHit(t *testing.T) {
	svc, _, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	user := models.User{Id: "user1"}
	existing := service.Draft{
		Stack:       models.Stack{Id: "stack1", OwnerId: "user1", Title: "WIP"},
		EditedIndex: 2,
	}
	existingBytes, err := json.Marshal(existing)
	assert.NoError(t, err)
	mockCache.On("GetDraft", ctx, "stack1").Return(existingBytes, nil)

	draft, err := svc.OpenDraft(ctx, user, "stack1")

	assert.NoError(t, err)
	assert.Equal(t, "WIP", draft.Stack.Title)
	assert.Equal(t, 2, draft.EditedIndex)
}

func TestOpenDraft_WrongOwner(t *testing.T) {
	svc, _, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	existing := service.Draft{Stack: models.Stack{Id: "stack1", OwnerId: "owner"}}
	existingBytes, err := json.Marshal(existing)
	assert.NoError(t, err)
	mockCache.On("GetDraft", ctx, "stack1").Return(existingBytes, nil)

	_, err = svc.OpenDraft(ctx, models.User{Id: "intruder"}, "stack1")
	assert.Error(t, err)
}

func TestOpenDraft_RehydratesFromStore(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	user := models.User{Id: "user1", Provider: "google", ProviderId: "123"}

	mockCache.On("GetDraft", ctx, "stack1").Return(nil, cache.ErrCacheMiss)
	mockStore.On("GetStack", ctx, "user1", "stack1").Return(models.Stack{
		Id:      "stack1",
		OwnerId: "user1",
		Title:   "Persisted",
		MediaItems: []models.Slide{
			{Id: "slide1", Kind: models.MediaImage},
		},
	}, nil)
	mockCache.On("PutDraft", ctx, "stack1", mock.Anything).Return(nil)

	draft, err := svc.OpenDraft(ctx, user, "stack1")

	assert.NoError(t, err)
	assert.Equal(t, "Persisted", draft.Stack.Title)
	assert.True(t, draft.Saved, "rehydrated drafts are already persisted")
	assert.Equal(t, 0, draft.EditedIndex)
}

func TestDiscardDraft_QueuesCleanup(t *testing.T) {
	svc, _, mockCache, mockMQ, _ := setupService(t)
	ctx := context.Background()

	user := models.User{Id: "user1"}
	draft := service.Draft{
		Stack: models.Stack{
			Id:      "stack1",
			OwnerId: "user1",
			MediaItems: []models.Slide{
				{Id: "slide1", ProviderItemId: "item1"},
				{Id: "slide2"}, // local, no provider item
				{Id: "slide3", ProviderItemId: "item3"},
			},
		},
	}
	draftBytes, err := json.Marshal(draft)
	assert.NoError(t, err)
	mockCache.On("GetDraft", ctx, "stack1").Return(draftBytes, nil)

	session := models.PickerSession{Id: "session1", UserId: "user1", State: models.SessionItemsReady}
	sessionBytes, err := json.Marshal(session)
	assert.NoError(t, err)
	mockCache.On("GetSession", ctx, "session1").Return(sessionBytes, nil)

	var sentBody string
	mockMQ.On("Send", ctx, mock.Anything).Run(func(args mock.Arguments) {
		sentBody = args.String(1)
	}).Return(nil)

	err = svc.DiscardDraft(ctx, user, "stack1", "session1")
	assert.NoError(t, err)

	// The pending autosave is cancelled
	select {
	case req := <-svc.AutosaveBatcher.DiscardCh:
		assert.Equal(t, "stack1", req.StackId)
	case <-time.After(100 * time.Millisecond):
		assert.Fail(t, "timed out waiting for discard request in batcher")
	}

	var msg worker.DiscardStackMessage
	assert.NoError(t, json.Unmarshal([]byte(sentBody), &msg))
	assert.Equal(t, "stack1", msg.StackId)
	assert.Equal(t, "session1", msg.SessionId)
	assert.Equal(t, []string{"item1", "item3"}, msg.ItemIds)
}

func TestDiscardDraft_MissingDraftStillQueues(t *testing.T) {
	svc, mockStore, mockCache, mockMQ, _ := setupService(t)
	ctx := context.Background()

	mockCache.On("GetDraft", ctx, "stack1").Return(nil, cache.ErrCacheMiss)
	mockStore.On("GetStack", ctx, "user1", "stack1").Return(models.Stack{Id: "stack1", OwnerId: "user1"}, nil)
	mockMQ.On("Send", ctx, mock.Anything).Return(nil)

	err := svc.DiscardDraft(ctx, models.User{Id: "user1"}, "stack1", "")

	assert.NoError(t, err)
	mockMQ.AssertCalled(t, "Send", ctx, mock.Anything)
}

func TestDiscardDraft_WrongOwnerLeavesStateIntact(t *testing.T) {
	svc, _, mockCache, mockMQ, _ := setupService(t)
	ctx := context.Background()

	draft := service.Draft{Stack: models.Stack{Id: "stack1", OwnerId: "owner"}}
	draftBytes, err := json.Marshal(draft)
	assert.NoError(t, err)
	mockCache.On("GetDraft", ctx, "stack1").Return(draftBytes, nil)

	err = svc.DiscardDraft(ctx, models.User{Id: "intruder"}, "stack1", "")

	assert.Error(t, err)
	assert.Equal(t, service.KindInsufficientPermissions, service.KindOf(err))
	assert.Empty(t, svc.AutosaveBatcher.DiscardCh, "no pending autosave was cancelled")
	mockMQ.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestDiscardDraft_ForeignSessionRejected(t *testing.T) {
	svc, _, mockCache, mockMQ, _ := setupService(t)
	ctx := context.Background()

	draft := service.Draft{Stack: models.Stack{Id: "stack1", OwnerId: "user1"}}
	draftBytes, err := json.Marshal(draft)
	assert.NoError(t, err)
	mockCache.On("GetDraft", ctx, "stack1").Return(draftBytes, nil)

	session := models.PickerSession{Id: "session1", UserId: "other"}
	sessionBytes, err := json.Marshal(session)
	assert.NoError(t, err)
	mockCache.On("GetSession", ctx, "session1").Return(sessionBytes, nil)

	err = svc.DiscardDraft(ctx, models.User{Id: "user1"}, "stack1", "session1")

	assert.Error(t, err)
	assert.Equal(t, service.KindInsufficientPermissions, service.KindOf(err))
	assert.Empty(t, svc.AutosaveBatcher.DiscardCh)
	mockMQ.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestDiscardDraft_UnknownStackRejected(t *testing.T) {
	svc, mockStore, mockCache, mockMQ, _ := setupService(t)
	ctx := context.Background()

	mockCache.On("GetDraft", ctx, "stack1").Return(nil, cache.ErrCacheMiss)
	mockStore.On("GetStack", ctx, "intruder", "stack1").Return(models.Stack{}, store.ErrItemNotFound)

	err := svc.DiscardDraft(ctx, models.User{Id: "intruder"}, "stack1", "")

	assert.Error(t, err)
	mockMQ.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}
