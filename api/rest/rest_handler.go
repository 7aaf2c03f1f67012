package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/zlnvch/storystack/cache"
	"github.com/zlnvch/storystack/models"
	"github.com/zlnvch/storystack/service"
	"github.com/zlnvch/storystack/store"
)

type Handler struct {
	Service *service.Service

	// shutdownCtx is the parent for session poller goroutines so they
	// stop with the process, not with the request that started them.
	shutdownCtx context.Context
}

func NewHandler(svc *service.Service, shutdownCtx context.Context) *Handler {
	return &Handler{Service: svc, shutdownCtx: shutdownCtx}
}

type loginRequest struct {
	Code string `json:"code"`
}

type loginResponse struct {
	Username string `json:"username"`
	Id       string `json:"id"`
	Provider string `json:"provider"`
	Token    string `json:"token"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, token, err := h.Service.Login(r.Context(), req.Code)
	if err != nil {
		log.Printf("Login failed: %v", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	resp := loginResponse{
		Username: user.Username,
		Id:       user.Id,
		Provider: user.Provider,
		Token:    token,
	}
	h.sendResponse(w, resp)
}

type getUserResponse struct {
	Username   string `json:"username"`
	Id         string `json:"id"`
	Provider   string `json:"provider"`
	StackCount int    `json:"stackCount"`
}

func (h *Handler) HandleGetMe(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	resp := getUserResponse{
		Username:   user.Username,
		Id:         user.Id,
		Provider:   user.Provider,
		StackCount: user.StackCount,
	}
	h.sendResponse(w, resp)
}

func (h *Handler) HandleDeleteMe(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	if err := h.Service.DeleteUser(r.Context(), user); err != nil {
		http.Error(w, "failed to delete user", http.StatusInternalServerError)
		return
	}
	h.sendResponse(w, successResponse{Success: true})
}

// --- Stacks ---

func (h *Handler) HandleListStacks(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	stacks, err := h.Service.ListStacks(r.Context(), user)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, map[string]any{"stacks": stacks})
}

// HandleGetStack returns the persisted aggregate with every slide URL
// resolved to something currently displayable.
func (h *Handler) HandleGetStack(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	stack, err := h.Service.GetStack(r.Context(), user, r.PathValue("stackId"))
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	h.Service.ResolveStackUrls(r.Context(), user.Id, &stack)
	h.sendResponse(w, stack)
}

func (h *Handler) HandleDeleteStack(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	if err := h.Service.DeleteStack(r.Context(), user, r.PathValue("stackId")); err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, successResponse{Success: true})
}

func (h *Handler) HandleSaveStack(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	stack, err := h.Service.SaveStack(r.Context(), user, r.PathValue("stackId"))
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, stack)
}

// --- Drafts ---

type openDraftRequest struct {
	StackId string `json:"stackId"`
}

func (h *Handler) HandleOpenDraft(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req openDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	draft, err := h.Service.OpenDraft(r.Context(), user, req.StackId)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, draft)
}

func (h *Handler) HandleGetDraft(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	draft, err := h.Service.GetDraft(r.Context(), user, r.PathValue("stackId"))
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, draft)
}

func (h *Handler) HandleDiscardDraft(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	sessionId := r.URL.Query().Get("sessionId")
	if err := h.Service.DiscardDraft(r.Context(), user, r.PathValue("stackId"), sessionId); err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, successResponse{Success: true})
}

func (h *Handler) HandleUpdateMeta(w http.ResponseWriter, r *http.Request) {
	_, stackId, ok := h.authorizeDraft(w, r)
	if !ok {
		return
	}

	var patch service.StackMetaPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	draft, err := h.Service.UpdateStackMeta(r.Context(), stackId, patch)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, draft)
}

type editedSlideRequest struct {
	Index int `json:"index"`
}

func (h *Handler) HandleSetEditedSlide(w http.ResponseWriter, r *http.Request) {
	_, stackId, ok := h.authorizeDraft(w, r)
	if !ok {
		return
	}

	var req editedSlideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	draft, err := h.Service.SetEditedSlide(r.Context(), stackId, req.Index)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, draft)
}

// --- Slides ---

func (h *Handler) HandleRemoveSlide(w http.ResponseWriter, r *http.Request) {
	_, stackId, ok := h.authorizeDraft(w, r)
	if !ok {
		return
	}

	var req editedSlideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.Service.RemoveSlide(r.Context(), stackId, req.Index); err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, successResponse{Success: true})
}

type reorderRequest struct {
	FromIndex int `json:"fromIndex"`
	ToIndex   int `json:"toIndex"`
}

func (h *Handler) HandleReorderSlide(w http.ResponseWriter, r *http.Request) {
	_, stackId, ok := h.authorizeDraft(w, r)
	if !ok {
		return
	}

	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.Service.ReorderSlide(r.Context(), stackId, req.FromIndex, req.ToIndex); err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, successResponse{Success: true})
}

type videoMetaRequest struct {
	Duration float64 `json:"duration"`
	FrameFit string  `json:"frameFit"`
}

func (h *Handler) HandleSetVideoMeta(w http.ResponseWriter, r *http.Request) {
	_, stackId, ok := h.authorizeDraft(w, r)
	if !ok {
		return
	}

	var req videoMetaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	slide, err := h.Service.SetVideoMeta(r.Context(), stackId, r.PathValue("slideId"), req.Duration, req.FrameFit)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, slide)
}

type trimRequest struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (h *Handler) HandleSetTrim(w http.ResponseWriter, r *http.Request) {
	_, stackId, ok := h.authorizeDraft(w, r)
	if !ok {
		return
	}

	var req trimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	slide, err := h.Service.SetTrimWindow(r.Context(), stackId, r.PathValue("slideId"), req.Start, req.End)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, slide)
}

// HandleSlideMedia streams the raw media bytes behind a slide.
func (h *Handler) HandleSlideMedia(w http.ResponseWriter, r *http.Request) {
	user, stackId, ok := h.authorizeDraft(w, r)
	if !ok {
		return
	}

	draft, err := h.Service.GetDraft(r.Context(), user, stackId)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	slideId := r.PathValue("slideId")
	for _, slide := range draft.Stack.MediaItems {
		if slide.Id != slideId {
			continue
		}
		data, err := h.Service.DownloadSlideMedia(r.Context(), user.Id, slide)
		if err != nil {
			h.sendServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(data)
		return
	}
	http.Error(w, "slide not found", http.StatusNotFound)
}

// --- Layers ---

type addTextRequest struct {
	Text string `json:"text"`
}

func (h *Handler) HandleAddTextLayer(w http.ResponseWriter, r *http.Request) {
	_, stackId, ok := h.authorizeDraft(w, r)
	if !ok {
		return
	}

	var req addTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	layer, err := h.Service.AddTextLayer(r.Context(), stackId, req.Text)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, layer)
}

type addStickerRequest struct {
	Glyph string `json:"glyph"`
}

func (h *Handler) HandleAddStickerLayer(w http.ResponseWriter, r *http.Request) {
	_, stackId, ok := h.authorizeDraft(w, r)
	if !ok {
		return
	}

	var req addStickerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	layer, err := h.Service.AddStickerLayer(r.Context(), stackId, req.Glyph)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, layer)
}

func (h *Handler) HandleUpdateTextLayer(w http.ResponseWriter, r *http.Request) {
	_, stackId, ok := h.authorizeDraft(w, r)
	if !ok {
		return
	}

	var patch service.TextLayerPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	layer, err := h.Service.UpdateTextLayer(r.Context(), stackId, r.PathValue("layerId"), patch)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, layer)
}

func (h *Handler) HandleUpdateStickerLayer(w http.ResponseWriter, r *http.Request) {
	_, stackId, ok := h.authorizeDraft(w, r)
	if !ok {
		return
	}

	var patch service.StickerLayerPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	layer, err := h.Service.UpdateStickerLayer(r.Context(), stackId, r.PathValue("layerId"), patch)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, layer)
}

func (h *Handler) HandleUpdateCaption(w http.ResponseWriter, r *http.Request) {
	_, stackId, ok := h.authorizeDraft(w, r)
	if !ok {
		return
	}

	var patch service.CaptionPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	caption, err := h.Service.UpdateCaption(r.Context(), stackId, patch)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, caption)
}

func (h *Handler) HandleRemoveLayer(w http.ResponseWriter, r *http.Request) {
	_, stackId, ok := h.authorizeDraft(w, r)
	if !ok {
		return
	}

	if err := h.Service.RemoveLayer(r.Context(), stackId, r.PathValue("layerId")); err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, successResponse{Success: true})
}

func (h *Handler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	_, stackId, ok := h.authorizeDraft(w, r)
	if !ok {
		return
	}

	var selection models.Selection
	if err := json.NewDecoder(r.Body).Decode(&selection); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.Service.Select(r.Context(), stackId, selection); err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, successResponse{Success: true})
}

// --- Picker sessions ---

func (h *Handler) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	session, err := h.Service.StartPickerSession(r.Context(), h.shutdownCtx, user)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, session)
}

func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	session, err := h.Service.GetPickerSession(r.Context(), user.Id, r.PathValue("sessionId"))
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, session)
}

type sessionItemsResponse struct {
	Session models.PickerSession  `json:"session"`
	Items   []models.ProviderItem `json:"items"`
}

func (h *Handler) HandleFetchNow(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	session, items, err := h.Service.FetchNow(r.Context(), user.Id, r.PathValue("sessionId"))
	if err != nil && !service.Recoverable(err) {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, sessionItemsResponse{Session: session, Items: items})
}

func (h *Handler) HandleResumeVisible(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	session, items := h.Service.ResumeVisible(r.Context(), user.Id, r.PathValue("sessionId"))
	h.sendResponse(w, sessionItemsResponse{Session: session, Items: items})
}

func (h *Handler) HandleNextPage(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	items, err := h.Service.NextPage(r.Context(), user.Id, r.PathValue("sessionId"))
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, map[string]any{"items": items})
}

func (h *Handler) HandlePrevPage(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	items, err := h.Service.PrevPage(r.Context(), user.Id, r.PathValue("sessionId"))
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, map[string]any{"items": items})
}

type importRequest struct {
	StackId string `json:"stackId"`
}

func (h *Handler) HandleImportSession(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	slides, err := h.Service.ImportSessionItems(r.Context(), user.Id, req.StackId, r.PathValue("sessionId"))
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, map[string]any{"slides": slides})
}

func (h *Handler) HandleAbandonSession(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	if err := h.Service.AbandonSession(r.Context(), user.Id, r.PathValue("sessionId")); err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, successResponse{Success: true})
}

// --- Uploads ---

const maxUploadBytes = 128 << 20

// HandleUpload accepts a multipart form of files and pushes them to the
// provider, appending the created items to the draft as slides.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	user, stackId, ok := h.authorizeDraft(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	var files []service.UploadFile
	for _, header := range r.MultipartForm.File["files"] {
		f, err := header.Open()
		if err != nil {
			http.Error(w, "failed to read file", http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			http.Error(w, "failed to read file", http.StatusBadRequest)
			return
		}
		files = append(files, service.UploadFile{Filename: header.Filename, Data: data})
	}

	if len(files) == 0 {
		http.Error(w, "no files provided", http.StatusBadRequest)
		return
	}

	results, err := h.Service.UploadBatch(r.Context(), user, stackId, files)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendResponse(w, map[string]any{"results": results})
}

// --- Helpers ---

type successResponse struct {
	Success bool `json:"success"`
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	token := h.getTokenFromAuthHeader(r)
	user, err := h.Service.AuthenticateToken(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return models.User{}, false
	}
	return user, true
}

// authorizeDraft authenticates the caller and checks they own the draft
// named in the path before any mutation touches it.
func (h *Handler) authorizeDraft(w http.ResponseWriter, r *http.Request) (models.User, string, bool) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return models.User{}, "", false
	}

	stackId := r.PathValue("stackId")
	if _, err := h.Service.GetDraft(r.Context(), user, stackId); err != nil {
		h.sendServiceError(w, err)
		return models.User{}, "", false
	}
	return user, stackId, true
}

func (h *Handler) sendResponse(w http.ResponseWriter, resp any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) sendServiceError(w http.ResponseWriter, err error) {
	var de *service.DomainError
	if errors.As(err, &de) {
		status := http.StatusInternalServerError
		switch de.Kind {
		case service.KindValidationError:
			status = http.StatusBadRequest
		case service.KindSessionExpired:
			status = http.StatusUnauthorized
		case service.KindInsufficientPermissions:
			status = http.StatusForbidden
		case service.KindPendingUserAction:
			status = http.StatusConflict
		case service.KindProviderError, service.KindUploadFailed:
			status = http.StatusBadGateway
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(errorResponse{Error: string(de.Kind), Message: de.Message})
		return
	}

	if errors.Is(err, store.ErrItemNotFound) || errors.Is(err, cache.ErrCacheMiss) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	log.Printf("Request failed: %v", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func (h *Handler) getTokenFromAuthHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return ""
	}
	return strings.TrimPrefix(authHeader, prefix)
}
