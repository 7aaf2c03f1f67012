package provider

import (
	"context"
	"errors"

	"github.com/zlnvch/storystack/models"
)

// SessionInfo is returned by CreateSession. PickerUri is opened by the
// client in a new top-level browsing context; the backend never loads it.
type SessionInfo struct {
	Id        string
	PickerUri string
}

// ItemPage is one page of picked media items. NextPageToken is empty on
// the last page.
type ItemPage struct {
	Items         []models.ProviderItem
	NextPageToken string
}

type NewItem struct {
	Description string
	UploadToken string
}

// CreateResult is the per-item outcome of a batch create. Status 0 means
// the provider accepted the item.
type CreateResult struct {
	Item    models.ProviderItem
	Status  int
	Message string
}

type PhotoProvider interface {
	CreateSession(ctx context.Context, accessToken string) (SessionInfo, error)
	ListSessionItems(ctx context.Context, accessToken string, sessionId string, pageSize int, pageToken string) (ItemPage, error)
	GetMediaItem(ctx context.Context, accessToken string, itemId string) (models.ProviderItem, error)
	UploadBytes(ctx context.Context, accessToken string, filename string, data []byte) (string, error)
	BatchCreate(ctx context.Context, accessToken string, items []NewItem) ([]CreateResult, error)
	Download(ctx context.Context, accessToken string, baseUrl string) ([]byte, error)
}

// Classified upstream failures. The service layer translates these into
// its string-coded error kinds; anything else is a generic provider error.
var (
	ErrPendingUserAction = errors.New("user has not finished selecting")
	ErrSessionExpired    = errors.New("provider session expired")
	ErrUnauthorized      = errors.New("provider credential rejected")
	ErrInsufficientScope = errors.New("provider permissions missing")
)
