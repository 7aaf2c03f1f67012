package ws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/zlnvch/storystack/cache"
	"github.com/zlnvch/storystack/service"
)

type subscription struct {
	client     *Client
	channelKey string
}

// Hub maintains the set of active clients and fans cache pub/sub
// messages out to them. Channel keys are the same strings the service
// publishes on: "stack:{stackId}" for edit events and upload progress,
// "picker:{sessionId}" for session state changes.
type Hub struct {
	stackCache                cache.StackCache
	OpenCh                    chan *Client
	CloseCh                   chan *Client
	SubscribeCh               chan subscription
	UnsubscribeCh             chan subscription
	UserDeletedCh             chan string
	userToClients             map[string]map[*Client]struct{}
	channelToClients          map[string]map[*Client]struct{}
	channelToSubscriberCancel map[string]context.CancelFunc
}

func NewHub(stackCache cache.StackCache) *Hub {
	return &Hub{
		stackCache:                stackCache,
		OpenCh:                    make(chan *Client, 256),
		CloseCh:                   make(chan *Client, 256),
		SubscribeCh:               make(chan subscription, 1024),
		UnsubscribeCh:             make(chan subscription, 1024),
		UserDeletedCh:             make(chan string, 64),
		userToClients:             make(map[string]map[*Client]struct{}),
		channelToClients:          make(map[string]map[*Client]struct{}),
		channelToSubscriberCancel: make(map[string]context.CancelFunc),
	}
}

const (
	maxConnectionsPerUser         = 3
	maxSubscriptionsPerConnection = 20
)

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.OpenCh:
			if _, ok := h.userToClients[client.user.Id]; !ok {
				h.userToClients[client.user.Id] = make(map[*Client]struct{})
			}

			if len(h.userToClients[client.user.Id]) >= maxConnectionsPerUser {
				log.Printf("User %s reached max connections (%d)", client.user.Id, maxConnectionsPerUser)
				close(client.Send)
				continue
			}

			h.userToClients[client.user.Id][client] = struct{}{}

		case client := <-h.CloseCh:
			for channel := range client.subscribedChannels {
				delete(h.channelToClients[channel], client)
				if len(h.channelToClients[channel]) == 0 {
					if cancel, ok := h.channelToSubscriberCancel[channel]; ok {
						cancel()
						delete(h.channelToSubscriberCancel, channel)
					}
					delete(h.channelToClients, channel)
				}
			}
			delete(h.userToClients[client.user.Id], client)
			if len(h.userToClients[client.user.Id]) == 0 {
				delete(h.userToClients, client.user.Id)
			}

		case sub := <-h.SubscribeCh:
			if len(sub.client.subscribedChannels) >= maxSubscriptionsPerConnection {
				log.Printf("Connection by user %s reached max subscriptions (%d)", sub.client.user.Id, maxSubscriptionsPerConnection)
				continue
			}
			if h.channelToClients[sub.channelKey] == nil {
				log.Printf("Subscriber does not exist, creating for channel: %s", sub.channelKey)

				ctx, cancel := context.WithCancel(context.Background())
				channelKey := sub.channelKey

				err := h.stackCache.Subscribe(ctx, channelKey, func(messageBytes []byte) {
					for client := range h.channelToClients[channelKey] {
						client.Send <- messageBytes
					}
				})
				if err != nil {
					log.Printf("Failed to create redis sub for channel %s: %v", channelKey, err)
					cancel()
					continue
				}

				h.channelToClients[sub.channelKey] = make(map[*Client]struct{})
				h.channelToSubscriberCancel[sub.channelKey] = cancel
			}
			h.channelToClients[sub.channelKey][sub.client] = struct{}{}
			sub.client.subscribedChannels[sub.channelKey] = struct{}{}

		case unsub := <-h.UnsubscribeCh:
			delete(h.channelToClients[unsub.channelKey], unsub.client)
			delete(unsub.client.subscribedChannels, unsub.channelKey)
			if len(h.channelToClients[unsub.channelKey]) == 0 {
				if cancel, ok := h.channelToSubscriberCancel[unsub.channelKey]; ok {
					cancel()
					delete(h.channelToSubscriberCancel, unsub.channelKey)
				}
				delete(h.channelToClients, unsub.channelKey)
			}

		case userId := <-h.UserDeletedCh:
			if clients, ok := h.userToClients[userId]; ok {
				for client := range clients {
					close(client.Send)
					delete(h.userToClients[userId], client)
				}
				delete(h.userToClients, userId)
			}
		}
	}
}

func (h *Hub) InitSubscriptions(shutdownCtx context.Context) error {
	err := h.stackCache.Subscribe(shutdownCtx, "user-deleted", func(message []byte) {
		var userDeletedMsg service.UserDeletedMessage
		if err := json.Unmarshal(message, &userDeletedMsg); err == nil {
			h.UserDeletedCh <- userDeletedMsg.UserId
		}
	})
	if err != nil {
		log.Printf("WS hub failed to subscribe to user-deleted: %v", err)
		return err
	}

	return nil
}
