package api

import (
	"context"
	"log"
	"net/http"

	"github.com/zlnvch/storystack/api/rest"
	"github.com/zlnvch/storystack/api/ws"
	"github.com/zlnvch/storystack/cache"
	"github.com/zlnvch/storystack/mq"
	"github.com/zlnvch/storystack/provider"
	"github.com/zlnvch/storystack/service"
	"github.com/zlnvch/storystack/store"
	"github.com/zlnvch/storystack/worker"
	"golang.org/x/oauth2"
)

type StorystackAPI struct {
	restHandler *rest.Handler
	wsHandler   *ws.Handler
	shutdownCtx context.Context
}

func NewStorystackAPI(
	stackStore store.StackStore,
	cleanupQueue mq.MessageQueue,
	stackCache cache.StackCache,
	photoProvider provider.PhotoProvider,
	oauthConfig *oauth2.Config,
	jwtSecret []byte,
	proxyBase string,
	shutdownCtx context.Context,
) (*StorystackAPI, error) {
	wsHub := ws.NewHub(stackCache)
	err := wsHub.InitSubscriptions(shutdownCtx)
	if err != nil {
		log.Printf("Failed to start WS Hub subscriptions service: %v", err)
		return &StorystackAPI{}, err
	}
	go wsHub.Run()

	autosaveBatcher := worker.NewAutosaveBatcher(stackStore, stackCache, 5000)
	go autosaveBatcher.Run(shutdownCtx)

	sessionPoller := worker.NewSessionPoller(3000)

	cleanupConsumer := worker.NewCleanupConsumer(cleanupQueue, stackCache, sessionPoller)
	go cleanupConsumer.Run(shutdownCtx)

	svc, err := service.NewService(
		stackStore,
		stackCache,
		cleanupQueue,
		photoProvider,
		autosaveBatcher,
		sessionPoller,
		oauthConfig,
		jwtSecret,
		proxyBase,
	)
	if err != nil {
		log.Printf("Failed to create service: %v", err)
		return &StorystackAPI{}, err
	}

	restHandler := rest.NewHandler(svc, shutdownCtx)
	wsHandler := ws.NewHandler(svc, wsHub)

	return &StorystackAPI{
		restHandler: restHandler,
		wsHandler:   wsHandler,
		shutdownCtx: shutdownCtx,
	}, nil
}

func (api *StorystackAPI) RegisterRoutes(mux *http.ServeMux, requiredOrigin string) {
	// Health check endpoint (no auth required)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("POST /login", api.restHandler.HandleLogin)
	mux.HandleFunc("GET /me", api.restHandler.HandleGetMe)
	mux.HandleFunc("DELETE /me", api.restHandler.HandleDeleteMe)

	mux.HandleFunc("GET /stacks", api.restHandler.HandleListStacks)
	mux.HandleFunc("GET /stacks/{stackId}", api.restHandler.HandleGetStack)
	mux.HandleFunc("DELETE /stacks/{stackId}", api.restHandler.HandleDeleteStack)
	mux.HandleFunc("POST /stacks/{stackId}/save", api.restHandler.HandleSaveStack)

	mux.HandleFunc("POST /drafts", api.restHandler.HandleOpenDraft)
	mux.HandleFunc("GET /drafts/{stackId}", api.restHandler.HandleGetDraft)
	mux.HandleFunc("DELETE /drafts/{stackId}", api.restHandler.HandleDiscardDraft)
	mux.HandleFunc("PATCH /drafts/{stackId}/meta", api.restHandler.HandleUpdateMeta)
	mux.HandleFunc("POST /drafts/{stackId}/edited-slide", api.restHandler.HandleSetEditedSlide)

	mux.HandleFunc("POST /drafts/{stackId}/slides/remove", api.restHandler.HandleRemoveSlide)
	mux.HandleFunc("POST /drafts/{stackId}/slides/reorder", api.restHandler.HandleReorderSlide)
	mux.HandleFunc("POST /drafts/{stackId}/slides/{slideId}/video-meta", api.restHandler.HandleSetVideoMeta)
	mux.HandleFunc("POST /drafts/{stackId}/slides/{slideId}/trim", api.restHandler.HandleSetTrim)
	mux.HandleFunc("GET /drafts/{stackId}/slides/{slideId}/media", api.restHandler.HandleSlideMedia)

	mux.HandleFunc("POST /drafts/{stackId}/layers/text", api.restHandler.HandleAddTextLayer)
	mux.HandleFunc("POST /drafts/{stackId}/layers/sticker", api.restHandler.HandleAddStickerLayer)
	mux.HandleFunc("PATCH /drafts/{stackId}/layers/text/{layerId}", api.restHandler.HandleUpdateTextLayer)
	mux.HandleFunc("PATCH /drafts/{stackId}/layers/sticker/{layerId}", api.restHandler.HandleUpdateStickerLayer)
	mux.HandleFunc("PATCH /drafts/{stackId}/caption", api.restHandler.HandleUpdateCaption)
	mux.HandleFunc("DELETE /drafts/{stackId}/layers/{layerId}", api.restHandler.HandleRemoveLayer)
	mux.HandleFunc("POST /drafts/{stackId}/selection", api.restHandler.HandleSelect)

	mux.HandleFunc("POST /sessions", api.restHandler.HandleStartSession)
	mux.HandleFunc("GET /sessions/{sessionId}", api.restHandler.HandleGetSession)
	mux.HandleFunc("POST /sessions/{sessionId}/fetch", api.restHandler.HandleFetchNow)
	mux.HandleFunc("POST /sessions/{sessionId}/resume", api.restHandler.HandleResumeVisible)
	mux.HandleFunc("POST /sessions/{sessionId}/next-page", api.restHandler.HandleNextPage)
	mux.HandleFunc("POST /sessions/{sessionId}/prev-page", api.restHandler.HandlePrevPage)
	mux.HandleFunc("POST /sessions/{sessionId}/import", api.restHandler.HandleImportSession)
	mux.HandleFunc("DELETE /sessions/{sessionId}", api.restHandler.HandleAbandonSession)

	mux.HandleFunc("POST /drafts/{stackId}/uploads", api.restHandler.HandleUpload)

	wsUpgrader := api.wsHandler.NewWsUpgrader(requiredOrigin)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		api.wsHandler.ServeWS(wsUpgrader, w, r, api.shutdownCtx)
	})
}
