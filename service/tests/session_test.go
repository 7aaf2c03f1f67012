package service_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	cachemocks "github.com/zlnvch/storystack/cache/mocks"
	"github.com/zlnvch/storystack/models"
	mqmocks "github.com/zlnvch/storystack/mq/mocks"
	"github.com/zlnvch/storystack/provider"
	providermocks "github.com/zlnvch/storystack/provider/mocks"
	"github.com/zlnvch/storystack/service"
	storemocks "github.com/zlnvch/storystack/store/mocks"
	"github.com/zlnvch/storystack/worker"
	"golang.org/x/oauth2"
)

// Helper to setup the service with mocks
func setupService(t *testing.T) (*service.Service, *storemocks.MockStore, *cachemocks.MockCache, *mqmocks.MockMQ, *providermocks.MockProvider) {
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)
	mockMQ := new(mqmocks.MockMQ)
	mockProvider := new(providermocks.MockProvider)

	// Real workers are used; tests verify items are pushed to their channels
	autosaveBatcher := worker.NewAutosaveBatcher(mockStore, mockCache, 60000)
	sessionPoller := worker.NewSessionPoller(60000)
	t.Cleanup(sessionPoller.StopAll)

	svc, err := service.NewService(
		mockStore,
		mockCache,
		mockMQ,
		mockProvider,
		autosaveBatcher,
		sessionPoller,
		&oauth2.Config{ClientID: "client", ClientSecret: "secret"},
		[]byte("secret"),
		"https://proxy.example.com/media",
	)
	assert.NoError(t, err)

	return svc, mockStore, mockCache, mockMQ, mockProvider
}

// providerTokenBytes returns a cached oauth token that does not need a
// refresh during the test.
func providerTokenBytes(t *testing.T) []byte {
	tok := oauth2.Token{
		AccessToken: "access-token",
		Expiry:      time.Now().Add(time.Hour),
	}
	tokenBytes, err := json.Marshal(tok)
	assert.NoError(t, err)
	return tokenBytes
}

func sessionBytes(t *testing.T, session models.PickerSession) []byte {
	b, err := json.Marshal(session)
	assert.NoError(t, err)
	return b
}

func TestStartPickerSession_StartsPoller(t *testing.T) {
	svc, _, mockCache, _, mockProvider := setupService(t)
	ctx := context.Background()

	user := models.User{Id: "user1", Provider: "google", ProviderId: "123"}

	mockCache.On("GetProviderToken", ctx, user.Id).Return(providerTokenBytes(t), nil)
	mockProvider.On("CreateSession", ctx, "access-token").Return(provider.SessionInfo{
		Id:        "session1",
		PickerUri: "https://photospicker.example.com/pick/session1",
	}, nil)
	mockCache.On("PutSession", ctx, "session1", mock.Anything).Return(nil)

	session, err := svc.StartPickerSession(ctx, context.Background(), user)

	assert.NoError(t, err)
	assert.Equal(t, "session1", session.Id)
	assert.Equal(t, models.SessionWaitingForUser, session.State)
	assert.NotEmpty(t, session.PickerUri)
	assert.True(t, svc.SessionPoller.Active("session1"))
}

func TestStartPickerSession_NoCredential(t *testing.T) {
	svc, _, mockCache, _, mockProvider := setupService(t)
	ctx := context.Background()

	user := models.User{Id: "user1"}

	mockCache.On("GetProviderToken", ctx, user.Id).Return(nil, assert.AnError)

	_, err := svc.StartPickerSession(ctx, context.Background(), user)

	assert.Error(t, err)
	assert.Equal(t, service.KindSessionExpired, service.KindOf(err))
	mockProvider.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything)
}

func TestFetchNow_PendingThenReady(t *testing.T) {
	svc, _, mockCache, _, mockProvider := setupService(t)
	ctx := context.Background()

	waiting := models.PickerSession{
		Id:     "session1",
		UserId: "user1",
		State:  models.SessionWaitingForUser,
	}

	mockCache.On("GetSession", ctx, "session1").Return(sessionBytes(t, waiting), nil)
	mockCache.On("GetProviderToken", ctx, "user1").Return(providerTokenBytes(t), nil)
	mockCache.On("Publish", mock.Anything, "picker:session1", mock.Anything).Return(nil)

	var putSessions []models.PickerSession
	mockCache.On("PutSession", ctx, "session1", mock.Anything).Run(func(args mock.Arguments) {
		var s models.PickerSession
		assert.NoError(t, json.Unmarshal(args.Get(2).([]byte), &s))
		putSessions = append(putSessions, s)
	}).Return(nil)

	// First fetch: the user has not finished selecting
	mockProvider.On("ListSessionItems", ctx, "access-token", "session1", 25, "").
		Return(provider.ItemPage{}, provider.ErrPendingUserAction).Once()

	session, items, err := svc.FetchNow(ctx, "user1", "session1")

	assert.Error(t, err)
	assert.True(t, service.Recoverable(err))
	assert.Equal(t, service.KindPendingUserAction, service.KindOf(err))
	assert.Equal(t, models.SessionWaitingForUser, session.State)
	assert.Empty(t, items)

	// Second fetch: three items arrive
	mockProvider.On("ListSessionItems", ctx, "access-token", "session1", 25, "").
		Return(provider.ItemPage{
			Items: []models.ProviderItem{
				{Id: "item1", BaseUrl: "https://lh3.example.com/1", Kind: models.MediaImage},
				{Id: "item2", BaseUrl: "https://lh3.example.com/2", Kind: models.MediaImage},
				{Id: "item3", BaseUrl: "https://lh3.example.com/3", Kind: models.MediaVideo},
			},
			NextPageToken: "page2",
		}, nil).Once()

	session, items, err = svc.FetchNow(ctx, "user1", "session1")

	assert.NoError(t, err)
	assert.Equal(t, models.SessionItemsReady, session.State)
	assert.Len(t, items, 3)
	assert.Equal(t, []string{""}, session.PageTokens)
	assert.Equal(t, "page2", session.NextToken)

	// The polling state was written before each fetch
	assert.GreaterOrEqual(t, len(putSessions), 2)
	assert.Equal(t, models.SessionPolling, putSessions[0].State)
	assert.Equal(t, models.SessionItemsReady, putSessions[len(putSessions)-1].State)
}

func TestFetchNow_ZeroItemsStaysWaiting(t *testing.T) {
	svc, _, mockCache, _, mockProvider := setupService(t)
	ctx := context.Background()

	waiting := models.PickerSession{Id: "session1", UserId: "user1", State: models.SessionWaitingForUser}

	mockCache.On("GetSession", ctx, "session1").Return(sessionBytes(t, waiting), nil)
	mockCache.On("GetProviderToken", ctx, "user1").Return(providerTokenBytes(t), nil)
	mockCache.On("PutSession", ctx, "session1", mock.Anything).Return(nil)
	mockCache.On("Publish", mock.Anything, "picker:session1", mock.Anything).Return(nil)

	mockProvider.On("ListSessionItems", ctx, "access-token", "session1", 25, "").
		Return(provider.ItemPage{}, nil)

	session, items, err := svc.FetchNow(ctx, "user1", "session1")

	assert.NoError(t, err)
	assert.Equal(t, models.SessionWaitingForUser, session.State)
	assert.Empty(t, items)
}

func TestFetchNow_ExpiredCredentialIsTerminal(t *testing.T) {
	svc, _, mockCache, _, mockProvider := setupService(t)
	ctx := context.Background()

	waiting := models.PickerSession{Id: "session1", UserId: "user1", State: models.SessionWaitingForUser}

	mockCache.On("GetSession", ctx, "session1").Return(sessionBytes(t, waiting), nil)
	mockCache.On("GetProviderToken", ctx, "user1").Return(providerTokenBytes(t), nil)
	mockCache.On("Publish", mock.Anything, "picker:session1", mock.Anything).Return(nil)

	var lastPut models.PickerSession
	mockCache.On("PutSession", ctx, "session1", mock.Anything).Run(func(args mock.Arguments) {
		assert.NoError(t, json.Unmarshal(args.Get(2).([]byte), &lastPut))
	}).Return(nil)

	mockProvider.On("ListSessionItems", ctx, "access-token", "session1", 25, "").
		Return(provider.ItemPage{}, provider.ErrSessionExpired)

	session, _, err := svc.FetchNow(ctx, "user1", "session1")

	assert.Error(t, err)
	assert.False(t, service.Recoverable(err))
	assert.Equal(t, service.KindSessionExpired, service.KindOf(err))
	assert.Equal(t, models.SessionError, session.State)
	assert.Equal(t, string(service.KindSessionExpired), session.ErrorKind)
	assert.Equal(t, models.SessionError, lastPut.State)
}

func TestFetchNow_WrongUser(t *testing.T) {
	svc, _, mockCache, _, mockProvider := setupService(t)
	ctx := context.Background()

	session := models.PickerSession{Id: "session1", UserId: "owner", State: models.SessionWaitingForUser}
	mockCache.On("GetSession", ctx, "session1").Return(sessionBytes(t, session), nil)

	_, _, err := svc.FetchNow(ctx, "intruder", "session1")

	assert.Error(t, err)
	mockProvider.AssertNotCalled(t, "ListSessionItems", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestNextPage_PushesTokenStack(t *testing.T) {
	svc, _, mockCache, _, mockProvider := setupService(t)
	ctx := context.Background()

	ready := models.PickerSession{
		Id:         "session1",
		UserId:     "user1",
		State:      models.SessionItemsReady,
		PageTokens: []string{""},
		NextToken:  "page2",
	}

	mockCache.On("GetSession", ctx, "session1").Return(sessionBytes(t, ready), nil)
	mockCache.On("GetProviderToken", ctx, "user1").Return(providerTokenBytes(t), nil)

	var saved models.PickerSession
	mockCache.On("PutSession", ctx, "session1", mock.Anything).Run(func(args mock.Arguments) {
		assert.NoError(t, json.Unmarshal(args.Get(2).([]byte), &saved))
	}).Return(nil)

	mockProvider.On("ListSessionItems", ctx, "access-token", "session1", 25, "page2").
		Return(provider.ItemPage{
			Items:         []models.ProviderItem{{Id: "item26"}},
			NextPageToken: "page3",
		}, nil)

	items, err := svc.NextPage(ctx, "user1", "session1")

	assert.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, []string{"", "page2"}, saved.PageTokens)
	assert.Equal(t, "page3", saved.NextToken)
}

func TestNextPage_NoFurtherPages(t *testing.T) {
	svc, _, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	ready := models.PickerSession{
		Id:         "session1",
		UserId:     "user1",
		State:      models.SessionItemsReady,
		PageTokens: []string{""},
	}
	mockCache.On("GetSession", ctx, "session1").Return(sessionBytes(t, ready), nil)

	_, err := svc.NextPage(ctx, "user1", "session1")

	assert.Error(t, err)
	assert.Equal(t, service.KindValidationError, service.KindOf(err))
}

func TestPrevPage_PopsTokenStack(t *testing.T) {
	svc, _, mockCache, _, mockProvider := setupService(t)
	ctx := context.Background()

	ready := models.PickerSession{
		Id:         "session1",
		UserId:     "user1",
		State:      models.SessionItemsReady,
		PageTokens: []string{"", "page2"},
		NextToken:  "page3",
	}

	mockCache.On("GetSession", ctx, "session1").Return(sessionBytes(t, ready), nil)
	mockCache.On("GetProviderToken", ctx, "user1").Return(providerTokenBytes(t), nil)

	var saved models.PickerSession
	mockCache.On("PutSession", ctx, "session1", mock.Anything).Run(func(args mock.Arguments) {
		assert.NoError(t, json.Unmarshal(args.Get(2).([]byte), &saved))
	}).Return(nil)

	mockProvider.On("ListSessionItems", ctx, "access-token", "session1", 25, "").
		Return(provider.ItemPage{
			Items:         []models.ProviderItem{{Id: "item1"}},
			NextPageToken: "page2",
		}, nil)

	items, err := svc.PrevPage(ctx, "user1", "session1")

	assert.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, []string{""}, saved.PageTokens)
	assert.Equal(t, "page2", saved.NextToken)
}

func TestPrevPage_OnFirstPage(t *testing.T) {
	svc, _, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	ready := models.PickerSession{
		Id:         "session1",
		UserId:     "user1",
		State:      models.SessionItemsReady,
		PageTokens: []string{""},
	}
	mockCache.On("GetSession", ctx, "session1").Return(sessionBytes(t, ready), nil)

	_, err := svc.PrevPage(ctx, "user1", "session1")

	assert.Error(t, err)
	assert.Equal(t, service.KindValidationError, service.KindOf(err))
}

func TestAbandonSession_StopsPollerAndDeletes(t *testing.T) {
	svc, _, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	session := models.PickerSession{Id: "session1", UserId: "user1", State: models.SessionWaitingForUser}
	mockCache.On("GetSession", ctx, "session1").Return(sessionBytes(t, session), nil)
	mockCache.On("DeleteSession", ctx, "session1").Return(nil)

	svc.SessionPoller.Start(context.Background(), "session1", func(context.Context, string) bool { return false })
	assert.True(t, svc.SessionPoller.Active("session1"))

	err := svc.AbandonSession(ctx, "user1", "session1")

	assert.NoError(t, err)
	assert.False(t, svc.SessionPoller.Active("session1"))
	mockCache.AssertCalled(t, "DeleteSession", ctx, "session1")
}

func TestImportSessionItems_ReadySessionRefetchesPage(t *testing.T) {
	svc, _, mockCache, _, mockProvider := setupService(t)
	ctx := context.Background()

	ready := models.PickerSession{
		Id:         "session1",
		UserId:     "user1",
		State:      models.SessionItemsReady,
		PageTokens: []string{""},
	}
	mockCache.On("GetSession", ctx, "session1").Return(sessionBytes(t, ready), nil)
	mockCache.On("GetProviderToken", ctx, "user1").Return(providerTokenBytes(t), nil)

	mockProvider.On("ListSessionItems", ctx, "access-token", "session1", 25, "").
		Return(provider.ItemPage{
			Items: []models.ProviderItem{
				{Id: "item1", BaseUrl: "https://lh3.example.com/1", Kind: models.MediaImage, Filename: "a.jpg"},
				{Id: "item2", BaseUrl: "https://lh3.example.com/2", Kind: models.MediaVideo, Filename: "b.mp4"},
			},
		}, nil)

	draft := service.Draft{
		Stack: models.Stack{Id: "stack1", OwnerId: "user1", MediaItems: []models.Slide{}},
	}
	stubDraft(t, mockCache, draft)

	slides, err := svc.ImportSessionItems(ctx, "user1", "stack1", "session1")

	assert.NoError(t, err)
	assert.Len(t, slides, 2)
	assert.True(t, slides[0].Synced)
	assert.Equal(t, "item1", slides[0].ProviderItemId)
	assert.Equal(t, models.MediaVideo, slides[1].Kind)
}
