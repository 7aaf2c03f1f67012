package service

import (
	"github.com/zlnvch/storystack/cache"
	"github.com/zlnvch/storystack/mq"
	"github.com/zlnvch/storystack/provider"
	"github.com/zlnvch/storystack/store"
	"github.com/zlnvch/storystack/worker"
	"golang.org/x/oauth2"
)

type Service struct {
	Store           store.StackStore
	Cache           cache.StackCache
	MQ              mq.MessageQueue
	Provider        provider.PhotoProvider
	AutosaveBatcher *worker.AutosaveBatcher
	SessionPoller   *worker.SessionPoller
	OAuthConfig     *oauth2.Config
	JWTSecret       []byte
	ProxyBase       string
}

func NewService(
	store store.StackStore,
	cache cache.StackCache,
	mq mq.MessageQueue,
	photoProvider provider.PhotoProvider,
	autosaveBatcher *worker.AutosaveBatcher,
	sessionPoller *worker.SessionPoller,
	oauthConfig *oauth2.Config,
	jwtSecret []byte,
	proxyBase string,
) (*Service, error) {
	oauthConfig, err := addOauthEndpointAndScopes(oauthConfig)
	if err != nil {
		return nil, err
	}

	return &Service{
		Store:           store,
		Cache:           cache,
		MQ:              mq,
		Provider:        photoProvider,
		AutosaveBatcher: autosaveBatcher,
		SessionPoller:   sessionPoller,
		OAuthConfig:     oauthConfig,
		JWTSecret:       jwtSecret,
		ProxyBase:       proxyBase,
	}, nil
}
