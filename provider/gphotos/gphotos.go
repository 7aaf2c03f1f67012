package gphotos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/zlnvch/storystack/models"
	"github.com/zlnvch/storystack/provider"
)

const (
	defaultPickerEndpoint  = "https://photospicker.googleapis.com/v1"
	defaultLibraryEndpoint = "https://photoslibrary.googleapis.com/v1"

	requestTimeout = 15 * time.Second
)

// GPhotosProvider talks to the Google Photos Picker and Library APIs.
// Endpoints are overridable so tests and local dev can point at a stub.
type GPhotosProvider struct {
	httpClient      *http.Client
	pickerEndpoint  string
	libraryEndpoint string
}

func NewGPhotosProvider(pickerEndpoint string, libraryEndpoint string) *GPhotosProvider {
	if pickerEndpoint == "" {
		pickerEndpoint = defaultPickerEndpoint
	}
	if libraryEndpoint == "" {
		libraryEndpoint = defaultLibraryEndpoint
	}
	return &GPhotosProvider{
		httpClient:      &http.Client{Timeout: requestTimeout},
		pickerEndpoint:  pickerEndpoint,
		libraryEndpoint: libraryEndpoint,
	}
}

type sessionResponse struct {
	Id        string `json:"id"`
	PickerUri string `json:"pickerUri"`
}

func (p *GPhotosProvider) CreateSession(ctx context.Context, accessToken string) (provider.SessionInfo, error) {
	body, err := p.doJSON(ctx, http.MethodPost, p.pickerEndpoint+"/sessions", accessToken, []byte("{}"))
	if err != nil {
		return provider.SessionInfo{}, err
	}

	var resp sessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return provider.SessionInfo{}, fmt.Errorf("decode session response: %w", err)
	}
	if resp.Id == "" || resp.PickerUri == "" {
		return provider.SessionInfo{}, fmt.Errorf("session response missing id or pickerUri")
	}

	return provider.SessionInfo{Id: resp.Id, PickerUri: resp.PickerUri}, nil
}

type mediaItemResponse struct {
	Id        string `json:"id"`
	BaseUrl   string `json:"baseUrl"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mimeType"`
	MediaFile *struct {
		BaseUrl  string `json:"baseUrl"`
		Filename string `json:"filename"`
		MimeType string `json:"mimeType"`
	} `json:"mediaFile"`
	Type string `json:"type"`
}

type listItemsResponse struct {
	MediaItems    []mediaItemResponse `json:"mediaItems"`
	NextPageToken string              `json:"nextPageToken"`
}

func (p *GPhotosProvider) ListSessionItems(ctx context.Context, accessToken string, sessionId string, pageSize int, pageToken string) (provider.ItemPage, error) {
	q := url.Values{}
	q.Set("sessionId", sessionId)
	if pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(pageSize))
	}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	body, err := p.doJSON(ctx, http.MethodGet, p.pickerEndpoint+"/mediaItems?"+q.Encode(), accessToken, nil)
	if err != nil {
		return provider.ItemPage{}, err
	}

	var resp listItemsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return provider.ItemPage{}, fmt.Errorf("decode media items response: %w", err)
	}

	page := provider.ItemPage{NextPageToken: resp.NextPageToken}
	for _, item := range resp.MediaItems {
		page.Items = append(page.Items, itemFromResponse(item))
	}
	return page, nil
}

func (p *GPhotosProvider) GetMediaItem(ctx context.Context, accessToken string, itemId string) (models.ProviderItem, error) {
	body, err := p.doJSON(ctx, http.MethodGet, p.libraryEndpoint+"/mediaItems/"+url.PathEscape(itemId), accessToken, nil)
	if err != nil {
		return models.ProviderItem{}, err
	}

	var resp mediaItemResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.ProviderItem{}, fmt.Errorf("decode media item response: %w", err)
	}
	return itemFromResponse(resp), nil
}

func (p *GPhotosProvider) UploadBytes(ctx context.Context, accessToken string, filename string, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.libraryEndpoint+"/uploads", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Goog-Upload-File-Name", filename)
	req.Header.Set("X-Goog-Upload-Protocol", "raw")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp.StatusCode, body)
	}

	// The upload endpoint returns the opaque token as the raw response body.
	return string(body), nil
}

type batchCreateRequest struct {
	NewMediaItems []newMediaItem `json:"newMediaItems"`
}

type newMediaItem struct {
	Description     string          `json:"description,omitempty"`
	SimpleMediaItem simpleMediaItem `json:"simpleMediaItem"`
}

type simpleMediaItem struct {
	UploadToken string `json:"uploadToken"`
}

type batchCreateResponse struct {
	NewMediaItemResults []struct {
		UploadToken string `json:"uploadToken"`
		Status      struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"status"`
		MediaItem mediaItemResponse `json:"mediaItem"`
	} `json:"newMediaItemResults"`
}

func (p *GPhotosProvider) BatchCreate(ctx context.Context, accessToken string, items []provider.NewItem) ([]provider.CreateResult, error) {
	req := batchCreateRequest{}
	for _, item := range items {
		req.NewMediaItems = append(req.NewMediaItems, newMediaItem{
			Description:     item.Description,
			SimpleMediaItem: simpleMediaItem{UploadToken: item.UploadToken},
		})
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	body, err := p.doJSON(ctx, http.MethodPost, p.libraryEndpoint+"/mediaItems:batchCreate", accessToken, reqBody)
	if err != nil {
		return nil, err
	}

	var resp batchCreateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode batch create response: %w", err)
	}

	results := make([]provider.CreateResult, 0, len(resp.NewMediaItemResults))
	for _, r := range resp.NewMediaItemResults {
		results = append(results, provider.CreateResult{
			Item:    itemFromResponse(r.MediaItem),
			Status:  r.Status.Code,
			Message: r.Status.Message,
		})
	}
	return results, nil
}

// Download fetches the media bytes behind a provider base URL.
// Unauthenticated variants are tried first because most signed base URLs
// are publicly fetchable while fresh; the Bearer retries only run when a
// credential exists.
func (p *GPhotosProvider) Download(ctx context.Context, accessToken string, baseUrl string) ([]byte, error) {
	candidates := []string{baseUrl + "=d", baseUrl + "=w9999-h9999", baseUrl}

	var lastErr error
	for _, u := range candidates {
		data, err := p.fetchRaw(ctx, u, "")
		if err == nil {
			return data, nil
		}
		lastErr = err
	}

	if accessToken != "" {
		for _, u := range candidates[:2] {
			data, err := p.fetchRaw(ctx, u, accessToken)
			if err == nil {
				return data, nil
			}
			lastErr = err
		}
	}

	return nil, fmt.Errorf("all download attempts failed: %w", lastErr)
}

func itemFromResponse(item mediaItemResponse) models.ProviderItem {
	baseUrl := item.BaseUrl
	filename := item.Filename
	mimeType := item.MimeType
	// Picker API nests the file fields; Library API keeps them flat.
	if item.MediaFile != nil {
		baseUrl = item.MediaFile.BaseUrl
		filename = item.MediaFile.Filename
		mimeType = item.MediaFile.MimeType
	}

	kind := models.MediaImage
	if item.Type == "VIDEO" || (len(mimeType) >= 5 && mimeType[:5] == "video") {
		kind = models.MediaVideo
	}

	return models.ProviderItem{
		Id:       item.Id,
		BaseUrl:  baseUrl,
		Kind:     kind,
		Filename: filename,
	}
}
