package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Publish(ctx context.Context, channel string, message []byte) error {
	args := m.Called(ctx, channel, message)
	return args.Error(0)
}

func (m *MockCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	args := m.Called(ctx, channel, handler)
	return args.Error(0)
}

func (m *MockCache) PutDraft(ctx context.Context, stackId string, draft []byte) error {
	args := m.Called(ctx, stackId, draft)
	return args.Error(0)
}

func (m *MockCache) GetDraft(ctx context.Context, stackId string) ([]byte, error) {
	args := m.Called(ctx, stackId)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockCache) DeleteDraft(ctx context.Context, stackId string) error {
	args := m.Called(ctx, stackId)
	return args.Error(0)
}

func (m *MockCache) PutSession(ctx context.Context, sessionId string, session []byte) error {
	args := m.Called(ctx, sessionId, session)
	return args.Error(0)
}

func (m *MockCache) GetSession(ctx context.Context, sessionId string) ([]byte, error) {
	args := m.Called(ctx, sessionId)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockCache) DeleteSession(ctx context.Context, sessionId string) error {
	args := m.Called(ctx, sessionId)
	return args.Error(0)
}

func (m *MockCache) SetResolvedUrl(ctx context.Context, itemId string, url string, ttl time.Duration) error {
	args := m.Called(ctx, itemId, url, ttl)
	return args.Error(0)
}

func (m *MockCache) GetResolvedUrl(ctx context.Context, itemId string) (string, error) {
	args := m.Called(ctx, itemId)
	return args.String(0), args.Error(1)
}

func (m *MockCache) InvalidateResolvedUrls(ctx context.Context, itemIds []string) error {
	args := m.Called(ctx, itemIds)
	return args.Error(0)
}

func (m *MockCache) SetProviderToken(ctx context.Context, userId string, token []byte, ttl time.Duration) error {
	args := m.Called(ctx, userId, token, ttl)
	return args.Error(0)
}

func (m *MockCache) GetProviderToken(ctx context.Context, userId string) ([]byte, error) {
	args := m.Called(ctx, userId)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}
