package worker_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	cachemocks "github.com/zlnvch/storystack/cache/mocks"
	"github.com/zlnvch/storystack/models"
	storemocks "github.com/zlnvch/storystack/store/mocks"
	"github.com/zlnvch/storystack/worker"
)

type draftEnvelope struct {
	Stack models.Stack `json:"stack"`
	Saved bool         `json:"saved"`
}

func cachedDraft(t *testing.T, stack models.Stack, saved bool) []byte {
	b, err := json.Marshal(draftEnvelope{Stack: stack, Saved: saved})
	assert.NoError(t, err)
	return b
}

// flushableStack passes the persistence eligibility rules.
func flushableStack(id string) models.Stack {
	return models.Stack{
		Id:      id,
		OwnerId: "user1",
		Title:   "Trip",
		MediaItems: []models.Slide{
			{Id: "slide1", Url: "https://lh3.example.com/a=w2048-h2048", Kind: models.MediaImage},
		},
	}
}

func TestAutosaveBatcher_FlushWritesAggregate(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)

	mockCache.On("GetDraft", mock.Anything, "stack1").Return(cachedDraft(t, flushableStack("stack1"), false), nil)

	savedCh := make(chan models.Stack, 1)
	mockStore.On("SaveStack", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		savedCh <- args.Get(1).(models.Stack)
	}).Return(nil)

	batcher := worker.NewAutosaveBatcher(mockStore, mockCache, 20)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go batcher.Run(ctx)

	batcher.SaveCh <- worker.DraftSave{StackId: "stack1"}

	select {
	case saved := <-savedCh:
		assert.Equal(t, "stack1", saved.Id)
		assert.Equal(t, "Trip", saved.Title)
		assert.Equal(t, "https://lh3.example.com/a=w2048-h2048", saved.CoverUrl, "cover derived from the first slide")
		assert.NotNil(t, saved.Participants)
		assert.NotNil(t, saved.Hashtags)
	case <-time.After(time.Second):
		assert.Fail(t, "timed out waiting for autosave flush")
	}
}

func TestAutosaveBatcher_CoalescesSavesPerStack(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)

	mockCache.On("GetDraft", mock.Anything, "stack1").Return(cachedDraft(t, flushableStack("stack1"), false), nil)

	savedCh := make(chan struct{}, 16)
	mockStore.On("SaveStack", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		savedCh <- struct{}{}
	}).Return(nil)

	batcher := worker.NewAutosaveBatcher(mockStore, mockCache, 50)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go batcher.Run(ctx)

	// A burst of edits within one flush window
	for i := 0; i < 10; i++ {
		batcher.SaveCh <- worker.DraftSave{StackId: "stack1"}
	}

	select {
	case <-savedCh:
	case <-time.After(time.Second):
		assert.Fail(t, "timed out waiting for autosave flush")
	}

	// No further writes for the same window
	select {
	case <-savedCh:
		assert.Fail(t, "burst of edits flushed more than once")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAutosaveBatcher_FirstSaveIncrementsCount(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)

	mockCache.On("GetDraft", mock.Anything, "stack1").Return(cachedDraft(t, flushableStack("stack1"), false), nil)
	mockStore.On("SaveStack", mock.Anything, mock.Anything).Return(nil)

	incrementedCh := make(chan struct{}, 1)
	mockStore.On("IncrementUserStackCount", mock.Anything, "google", "123", 1).Run(func(args mock.Arguments) {
		incrementedCh <- struct{}{}
	}).Return(nil)

	// The counted draft is written back with the saved flag set
	markedCh := make(chan []byte, 1)
	mockCache.On("PutDraft", mock.Anything, "stack1", mock.Anything).Run(func(args mock.Arguments) {
		markedCh <- args.Get(2).([]byte)
	}).Return(nil)

	batcher := worker.NewAutosaveBatcher(mockStore, mockCache, 20)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go batcher.Run(ctx)

	batcher.SaveCh <- worker.DraftSave{
		StackId:        "stack1",
		UserProvider:   "google",
		UserProviderId: "123",
		IsNew:          true,
	}

	select {
	case <-incrementedCh:
	case <-time.After(time.Second):
		assert.Fail(t, "timed out waiting for stack count increment")
	}

	select {
	case marked := <-markedCh:
		var env draftEnvelope
		assert.NoError(t, json.Unmarshal(marked, &env))
		assert.True(t, env.Saved)
		assert.Equal(t, "stack1", env.Stack.Id, "rest of the envelope intact")
	case <-time.After(time.Second):
		assert.Fail(t, "timed out waiting for saved flag write-back")
	}
}

func TestAutosaveBatcher_SkipsIneligibleDraft(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)

	// Cached but not yet save-eligible: no title, no slides
	stack := models.Stack{Id: "stack1", OwnerId: "user1"}
	fetchedCh := make(chan struct{}, 1)
	mockCache.On("GetDraft", mock.Anything, "stack1").Run(func(args mock.Arguments) {
		fetchedCh <- struct{}{}
	}).Return(cachedDraft(t, stack, false), nil)

	batcher := worker.NewAutosaveBatcher(mockStore, mockCache, 20)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go batcher.Run(ctx)

	batcher.SaveCh <- worker.DraftSave{StackId: "stack1", IsNew: true}

	select {
	case <-fetchedCh:
	case <-time.After(time.Second):
		assert.Fail(t, "timed out waiting for flush")
	}
	time.Sleep(50 * time.Millisecond)

	mockStore.AssertNotCalled(t, "SaveStack", mock.Anything, mock.Anything)
	mockStore.AssertNotCalled(t, "IncrementUserStackCount", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAutosaveBatcher_CountsFirstSaveOnceAcrossWindows(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)

	stack := flushableStack("stack1")
	mockCache.On("GetDraft", mock.Anything, "stack1").Return(cachedDraft(t, stack, false), nil).Once()
	mockCache.On("GetDraft", mock.Anything, "stack1").Return(cachedDraft(t, stack, true), nil)
	mockCache.On("PutDraft", mock.Anything, "stack1", mock.Anything).Return(nil)

	savedCh := make(chan struct{}, 4)
	mockStore.On("SaveStack", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		savedCh <- struct{}{}
	}).Return(nil)
	mockStore.On("IncrementUserStackCount", mock.Anything, "google", "123", 1).Return(nil)

	batcher := worker.NewAutosaveBatcher(mockStore, mockCache, 30)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go batcher.Run(ctx)

	// A draft edited across two flush windows keeps reporting IsNew until
	// the saved flag lands in the cache; only the first flush may count.
	save := worker.DraftSave{StackId: "stack1", UserProvider: "google", UserProviderId: "123", IsNew: true}

	batcher.SaveCh <- save
	select {
	case <-savedCh:
	case <-time.After(time.Second):
		assert.Fail(t, "timed out waiting for first flush")
	}

	batcher.SaveCh <- save
	select {
	case <-savedCh:
	case <-time.After(time.Second):
		assert.Fail(t, "timed out waiting for second flush")
	}

	mockStore.AssertNumberOfCalls(t, "IncrementUserStackCount", 1)
}

func TestAutosaveBatcher_DiscardCancelsPendingSave(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)

	batcher := worker.NewAutosaveBatcher(mockStore, mockCache, 500)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go batcher.Run(ctx)

	batcher.SaveCh <- worker.DraftSave{StackId: "stack1"}
	batcher.DiscardCh <- worker.DiscardDraftRequest{StackId: "stack1"}

	time.Sleep(700 * time.Millisecond)
	mockStore.AssertNotCalled(t, "SaveStack", mock.Anything, mock.Anything)
	mockCache.AssertNotCalled(t, "GetDraft", mock.Anything, mock.Anything)
}

func TestAutosaveBatcher_ShutdownFlushesPending(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)

	mockCache.On("GetDraft", mock.Anything, "stack1").Return(cachedDraft(t, flushableStack("stack1"), false), nil)

	savedCh := make(chan struct{}, 1)
	mockStore.On("SaveStack", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		savedCh <- struct{}{}
	}).Return(nil)

	// Long ticker so only shutdown can flush
	batcher := worker.NewAutosaveBatcher(mockStore, mockCache, 60000)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		batcher.Run(ctx)
		close(done)
	}()

	batcher.SaveCh <- worker.DraftSave{StackId: "stack1"}
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-savedCh:
	case <-time.After(time.Second):
		assert.Fail(t, "timed out waiting for shutdown flush")
	}
	<-done
}
