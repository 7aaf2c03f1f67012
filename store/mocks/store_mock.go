package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/storystack/models"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockStore) GetUser(ctx context.Context, provider string, providerId string) (models.User, error) {
	args := m.Called(ctx, provider, providerId)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockStore) DeleteUser(ctx context.Context, provider string, providerId string) error {
	args := m.Called(ctx, provider, providerId)
	return args.Error(0)
}

func (m *MockStore) SaveStack(ctx context.Context, stack models.Stack) error {
	args := m.Called(ctx, stack)
	return args.Error(0)
}

func (m *MockStore) GetStack(ctx context.Context, ownerId string, stackId string) (models.Stack, error) {
	args := m.Called(ctx, ownerId, stackId)
	return args.Get(0).(models.Stack), args.Error(1)
}

func (m *MockStore) DeleteStack(ctx context.Context, ownerId string, stackId string) error {
	args := m.Called(ctx, ownerId, stackId)
	return args.Error(0)
}

func (m *MockStore) ListUserStacks(ctx context.Context, ownerId string) ([]models.Stack, error) {
	args := m.Called(ctx, ownerId)
	return args.Get(0).([]models.Stack), args.Error(1)
}

func (m *MockStore) IncrementUserStackCount(ctx context.Context, provider string, providerId string, count int) error {
	args := m.Called(ctx, provider, providerId, count)
	return args.Error(0)
}
