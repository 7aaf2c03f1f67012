package redis

import (
	"context"
	"crypto/tls"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zlnvch/storystack/cache"
)

type RedisStackCache struct {
	client redis.UniversalClient
}

func NewRedisStackCache(ctx context.Context, devMode bool, redis_endpoint string) (*RedisStackCache, error) {
	var client redis.UniversalClient
	if devMode {
		client = redis.NewClient(&redis.Options{
			Addr: redis_endpoint,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr: redis_endpoint,
			// AWS elasticache endpoints require TLS
			TLSConfig: &tls.Config{},
		})
	}

	err := client.Ping(ctx).Err()
	if err != nil {
		return nil, err
	}

	return &RedisStackCache{client: client}, nil
}

func (redisCache *RedisStackCache) Publish(ctx context.Context, channel string, message []byte) error {
	if err := redisCache.client.Publish(ctx, channel, message).Err(); err != nil {
		return err
	}
	return nil
}

func (redisCache *RedisStackCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	pubsub := redisCache.client.Subscribe(ctx, channel)
	// Ensure subscription is established
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		log.Printf("Pubsub channel closed: %s", channel)
		return err
	}

	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	return nil
}

// Key builders use hash tags so all keys for one entity land on the same
// cluster slot.
func buildDraftKey(stackId string) string {
	return "draft:{" + stackId + "}"
}

func buildSessionKey(sessionId string) string {
	return "session:{" + sessionId + "}"
}

func buildResolvedUrlKey(itemId string) string {
	return "resolved:{" + itemId + "}"
}

func buildProviderTokenKey(userId string) string {
	return "user:{" + userId + "}:provider_token"
}

const (
	// An abandoned draft survives a day before the editor has to reload
	// it from the store.
	draftTTL = 24 * time.Hour

	// The picker session itself expires upstream after minutes; keep the
	// local record a bit longer so late polls read a terminal state
	// instead of a miss.
	sessionTTL = 2 * time.Hour
)

func (redisCache *RedisStackCache) PutDraft(ctx context.Context, stackId string, draft []byte) error {
	return redisCache.client.Set(ctx, buildDraftKey(stackId), draft, draftTTL).Err()
}

func (redisCache *RedisStackCache) GetDraft(ctx context.Context, stackId string) ([]byte, error) {
	val, err := redisCache.client.Get(ctx, buildDraftKey(stackId)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, cache.ErrCacheMiss
		}
		return nil, err
	}
	// Sliding expiry: an actively edited draft never ages out
	redisCache.client.Expire(ctx, buildDraftKey(stackId), draftTTL)
	return val, nil
}

func (redisCache *RedisStackCache) DeleteDraft(ctx context.Context, stackId string) error {
	return redisCache.client.Del(ctx, buildDraftKey(stackId)).Err()
}

func (redisCache *RedisStackCache) PutSession(ctx context.Context, sessionId string, session []byte) error {
	return redisCache.client.Set(ctx, buildSessionKey(sessionId), session, sessionTTL).Err()
}

func (redisCache *RedisStackCache) GetSession(ctx context.Context, sessionId string) ([]byte, error) {
	val, err := redisCache.client.Get(ctx, buildSessionKey(sessionId)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, cache.ErrCacheMiss
		}
		return nil, err
	}
	return val, nil
}

func (redisCache *RedisStackCache) DeleteSession(ctx context.Context, sessionId string) error {
	return redisCache.client.Del(ctx, buildSessionKey(sessionId)).Err()
}

func (redisCache *RedisStackCache) SetResolvedUrl(ctx context.Context, itemId string, url string, ttl time.Duration) error {
	return redisCache.client.Set(ctx, buildResolvedUrlKey(itemId), url, ttl).Err()
}

func (redisCache *RedisStackCache) GetResolvedUrl(ctx context.Context, itemId string) (string, error) {
	val, err := redisCache.client.Get(ctx, buildResolvedUrlKey(itemId)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", cache.ErrCacheMiss
		}
		return "", err
	}
	return val, nil
}

func (redisCache *RedisStackCache) InvalidateResolvedUrls(ctx context.Context, itemIds []string) error {
	if len(itemIds) == 0 {
		return nil
	}

	// In Redis Cluster, keys with different hash tags hash to different
	// slots, so each key is deleted separately.
	for _, itemId := range itemIds {
		if err := redisCache.client.Del(ctx, buildResolvedUrlKey(itemId)).Err(); err != nil {
			return err
		}
	}

	return nil
}

func (redisCache *RedisStackCache) SetProviderToken(ctx context.Context, userId string, token []byte, ttl time.Duration) error {
	return redisCache.client.Set(ctx, buildProviderTokenKey(userId), token, ttl).Err()
}

func (redisCache *RedisStackCache) GetProviderToken(ctx context.Context, userId string) ([]byte, error) {
	val, err := redisCache.client.Get(ctx, buildProviderTokenKey(userId)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, cache.ErrCacheMiss
		}
		return nil, err
	}
	return val, nil
}
