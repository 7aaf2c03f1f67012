package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/storystack/models"
	"github.com/zlnvch/storystack/provider"
)

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) CreateSession(ctx context.Context, accessToken string) (provider.SessionInfo, error) {
	args := m.Called(ctx, accessToken)
	return args.Get(0).(provider.SessionInfo), args.Error(1)
}

func (m *MockProvider) ListSessionItems(ctx context.Context, accessToken string, sessionId string, pageSize int, pageToken string) (provider.ItemPage, error) {
	args := m.Called(ctx, accessToken, sessionId, pageSize, pageToken)
	return args.Get(0).(provider.ItemPage), args.Error(1)
}

func (m *MockProvider) GetMediaItem(ctx context.Context, accessToken string, itemId string) (models.ProviderItem, error) {
	args := m.Called(ctx, accessToken, itemId)
	return args.Get(0).(models.ProviderItem), args.Error(1)
}

func (m *MockProvider) UploadBytes(ctx context.Context, accessToken string, filename string, data []byte) (string, error) {
	args := m.Called(ctx, accessToken, filename, data)
	return args.String(0), args.Error(1)
}

func (m *MockProvider) BatchCreate(ctx context.Context, accessToken string, items []provider.NewItem) ([]provider.CreateResult, error) {
	args := m.Called(ctx, accessToken, items)
	return args.Get(0).([]provider.CreateResult), args.Error(1)
}

func (m *MockProvider) Download(ctx context.Context, accessToken string, baseUrl string) ([]byte, error) {
	args := m.Called(ctx, accessToken, baseUrl)
	return args.Get(0).([]byte), args.Error(1)
}
