package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/storystack/models"
)

func TestResolveSlideUrl_CacheHit(t *testing.T) {
	svc, _, mockCache, _, mockProvider := setupService(t)
	ctx := context.Background()

	slide := models.Slide{Id: "slide1", ProviderItemId: "item1", Kind: models.MediaImage}

	mockCache.On("GetResolvedUrl", ctx, "item1").Return("https://lh3.example.com/fresh=w2048-h2048", nil)

	url := svc.ResolveSlideUrl(ctx, "user1", slide)

	assert.Equal(t, "https://lh3.example.com/fresh=w2048-h2048", url)
	mockProvider.AssertNotCalled(t, "GetMediaItem", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolveSlideUrl_RefreshesFromProvider(t *testing.T) {
	svc, _, mockCache, _, mockProvider := setupService(t)
	ctx := context.Background()

	slide := models.Slide{Id: "slide1", ProviderItemId: "item1", Kind: models.MediaImage}

	mockCache.On("GetResolvedUrl", ctx, "item1").Return("", assert.AnError)
	mockCache.On("GetProviderToken", ctx, "user1").Return(providerTokenBytes(t), nil)
	mockProvider.On("GetMediaItem", ctx, "access-token", "item1").
		Return(models.ProviderItem{Id: "item1", BaseUrl: "https://lh3.example.com/fresh"}, nil)
	mockCache.On("SetResolvedUrl", ctx, "item1", "https://lh3.example.com/fresh=w2048-h2048", mock.Anything).Return(nil)

	url := svc.ResolveSlideUrl(ctx, "user1", slide)

	assert.Equal(t, "https://lh3.example.com/fresh=w2048-h2048", url)
	mockCache.AssertCalled(t, "SetResolvedUrl", ctx, "item1", "https://lh3.example.com/fresh=w2048-h2048", mock.Anything)
}

func TestResolveSlideUrl_VideoSuffix(t *testing.T) {
	svc, _, mockCache, _, mockProvider := setupService(t)
	ctx := context.Background()

	slide := models.Slide{Id: "slide1", ProviderItemId: "item1", Kind: models.MediaVideo}

	mockCache.On("GetResolvedUrl", ctx, "item1").Return("", assert.AnError)
	mockCache.On("GetProviderToken", ctx, "user1").Return(providerTokenBytes(t), nil)
	mockProvider.On("GetMediaItem", ctx, "access-token", "item1").
		Return(models.ProviderItem{Id: "item1", BaseUrl: "https://lh3.example.com/vid"}, nil)
	mockCache.On("SetResolvedUrl", ctx, "item1", "https://lh3.example.com/vid=dv", mock.Anything).Return(nil)

	url := svc.ResolveSlideUrl(ctx, "user1", slide)

	assert.Equal(t, "https://lh3.example.com/vid=dv", url)
}

func TestResolveSlideUrl_RefreshFailureFallsBackToProxy(t *testing.T) {
	svc, _, mockCache, _, mockProvider := setupService(t)
	ctx := context.Background()

	slide := models.Slide{
		Id:             "slide1",
		ProviderItemId: "item1",
		Kind:           models.MediaImage,
		Url:            "https://lh3.googleusercontent.com/stale",
	}

	mockCache.On("GetResolvedUrl", ctx, "item1").Return("", assert.AnError)
	mockCache.On("GetProviderToken", ctx, "user1").Return(providerTokenBytes(t), nil)
	mockProvider.On("GetMediaItem", ctx, "access-token", "item1").
		Return(models.ProviderItem{}, assert.AnError)

	url := svc.ResolveSlideUrl(ctx, "user1", slide)

	// Degrades to the proxy wrapping the last known URL, never fails the view
	assert.Contains(t, url, "https://proxy.example.com/media?")
	assert.Contains(t, url, "stale")
}

func TestResolveSlideUrl_LocalAssetPassthrough(t *testing.T) {
	svc, _, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	slide := models.Slide{Id: "slide1", Url: "https://cdn.example.com/own.png", Kind: models.MediaImage}

	url := svc.ResolveSlideUrl(ctx, "user1", slide)

	assert.Equal(t, "https://cdn.example.com/own.png", url)
	mockCache.AssertNotCalled(t, "GetResolvedUrl", mock.Anything, mock.Anything)
}

func TestResolveStackUrls_SetsCover(t *testing.T) {
	svc, _, _, _, _ := setupService(t)
	ctx := context.Background()

	stack := models.Stack{
		Id: "stack1",
		MediaItems: []models.Slide{
			{Id: "slide1", Url: "https://cdn.example.com/a.png"},
			{Id: "slide2", Url: "https://cdn.example.com/b.png"},
		},
	}

	svc.ResolveStackUrls(ctx, "user1", &stack)

	assert.Equal(t, "https://cdn.example.com/a.png", stack.CoverUrl)
}
