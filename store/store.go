package store

import (
	"context"
	"errors"

	"github.com/zlnvch/storystack/models"
)

type StackStore interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	GetUser(ctx context.Context, provider string, providerId string) (models.User, error)
	DeleteUser(ctx context.Context, provider string, providerId string) error

	SaveStack(ctx context.Context, stack models.Stack) error
	GetStack(ctx context.Context, ownerId string, stackId string) (models.Stack, error)
	DeleteStack(ctx context.Context, ownerId string, stackId string) error
	ListUserStacks(ctx context.Context, ownerId string) ([]models.Stack, error)

	IncrementUserStackCount(ctx context.Context, provider string, providerId string, count int) error
}

// Custom error types for clarity
var (
	ErrItemNotFound    = errors.New("item does not exist")
	ErrConditionFailed = errors.New("condition not met")
)
