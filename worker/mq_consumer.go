package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/zlnvch/storystack/cache"
	"github.com/zlnvch/storystack/mq"
)

// DiscardStackMessage is enqueued when a stack (or an editing session) is
// abandoned. The consumer tears down everything the editor left behind:
// the redis draft, cached resolved URLs for the stack's provider items,
// the picker session record and its poller.
type DiscardStackMessage struct {
	StackId   string   `json:"stackId"`
	SessionId string   `json:"sessionId,omitempty"`
	ItemIds   []string `json:"itemIds,omitempty"`
}

type CleanupConsumer struct {
	cleanupQueue  mq.MessageQueue
	stackCache    cache.StackCache
	sessionPoller *SessionPoller
}

func NewCleanupConsumer(cleanupQueue mq.MessageQueue, stackCache cache.StackCache, sessionPoller *SessionPoller) *CleanupConsumer {
	return &CleanupConsumer{
		cleanupQueue:  cleanupQueue,
		stackCache:    stackCache,
		sessionPoller: sessionPoller,
	}
}

const visibilityTimeout = 60

func (consumer CleanupConsumer) Run(shutdownCtx context.Context) {
	for {
		msg, err := consumer.cleanupQueue.Receive(shutdownCtx, visibilityTimeout)

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Printf("cleanup consumer receive error: %v", err)
			continue
		}

		if msg == nil {
			continue
		}

		var discardMsg DiscardStackMessage
		if err := json.Unmarshal([]byte(msg.Body), &discardMsg); err != nil {
			continue
		}

		// timeout should be a little less than queue visibility timeout
		ctx, cancel := context.WithTimeout(context.Background(), (visibilityTimeout-1)*time.Second)

		if discardMsg.SessionId != "" {
			consumer.sessionPoller.Stop(discardMsg.SessionId)
			if err := consumer.stackCache.DeleteSession(ctx, discardMsg.SessionId); err != nil {
				log.Printf("Failed to delete session %s: %v", discardMsg.SessionId, err)
			}
		}

		if discardMsg.StackId != "" {
			if err := consumer.stackCache.DeleteDraft(ctx, discardMsg.StackId); err != nil {
				log.Printf("Failed to delete draft %s: %v", discardMsg.StackId, err)
			}
		}

		if err := consumer.stackCache.InvalidateResolvedUrls(ctx, discardMsg.ItemIds); err != nil {
			log.Printf("Failed to invalidate resolved urls: %v", err)
		}

		if err := consumer.cleanupQueue.Delete(ctx, msg); err != nil {
			log.Printf("Failed to delete cleanup message: %v", err)
		}

		cancel()
	}
}
