package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by the Get methods when the key is absent.
// Callers treat a miss as "fall back to the store or the provider".
var ErrCacheMiss = errors.New("cache miss")

type StackCache interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func(message []byte)) error

	PutDraft(ctx context.Context, stackId string, draft []byte) error
	GetDraft(ctx context.Context, stackId string) ([]byte, error)
	DeleteDraft(ctx context.Context, stackId string) error

	PutSession(ctx context.Context, sessionId string, session []byte) error
	GetSession(ctx context.Context, sessionId string) ([]byte, error)
	DeleteSession(ctx context.Context, sessionId string) error

	SetResolvedUrl(ctx context.Context, itemId string, url string, ttl time.Duration) error
	GetResolvedUrl(ctx context.Context, itemId string) (string, error)
	InvalidateResolvedUrls(ctx context.Context, itemIds []string) error

	SetProviderToken(ctx context.Context, userId string, token []byte, ttl time.Duration) error
	GetProviderToken(ctx context.Context, userId string) ([]byte, error)
}
