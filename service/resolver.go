package service

import (
	"context"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/zlnvch/storystack/models"
)

const (
	// Provider base URLs are signed for roughly an hour; expire the
	// cached resolution well before that.
	resolvedUrlTTL = 45 * time.Minute

	imageSizeSuffix = "=w2048-h2048"
	videoSuffix     = "=dv"
)

// ResolveSlideUrl returns a currently usable display URL for a slide.
// Resolution order: fresh provider metadata when an item id and
// credential exist, then proxy wrapping of the last known provider URL,
// then the URL unchanged for locally hosted assets. Any failure in the
// first step degrades to the second instead of failing the view.
func (s *Service) ResolveSlideUrl(ctx context.Context, userId string, slide models.Slide) string {
	if slide.ProviderItemId == "" {
		if providerHosted(slide.Url) {
			return s.proxyWrap(ctx, userId, slide.Url)
		}
		return slide.Url
	}

	if cached, err := s.Cache.GetResolvedUrl(ctx, slide.ProviderItemId); err == nil {
		return cached
	}

	token, err := s.providerToken(ctx, userId)
	if err == nil {
		item, fetchErr := s.Provider.GetMediaItem(ctx, token, slide.ProviderItemId)
		if fetchErr == nil && item.BaseUrl != "" {
			resolved := item.BaseUrl + directUrlSuffix(slide.Kind)
			if cacheErr := s.Cache.SetResolvedUrl(ctx, slide.ProviderItemId, resolved, resolvedUrlTTL); cacheErr != nil {
				log.Printf("Failed to cache resolved url for item %s: %v", slide.ProviderItemId, cacheErr)
			}
			return resolved
		}
		if fetchErr != nil {
			log.Printf("Metadata refresh failed for item %s, falling back to proxy: %v", slide.ProviderItemId, fetchErr)
		}
	}

	// Credential missing or refresh failed: proxy the last known URL
	if providerHosted(slide.Url) {
		return s.proxyWrap(ctx, userId, slide.Url)
	}
	return slide.Url
}

// ResolveStackUrls resolves every slide of a stack in place, for handing
// a display-ready aggregate to the client.
func (s *Service) ResolveStackUrls(ctx context.Context, userId string, stack *models.Stack) {
	for i := range stack.MediaItems {
		stack.MediaItems[i].Url = s.ResolveSlideUrl(ctx, userId, stack.MediaItems[i])
	}
	if len(stack.MediaItems) > 0 {
		stack.CoverUrl = stack.MediaItems[0].Url
	}
}

// DownloadSlideMedia fetches the raw bytes behind a slide, using the
// provider's unauthenticated-then-authenticated fallback chain.
func (s *Service) DownloadSlideMedia(ctx context.Context, userId string, slide models.Slide) ([]byte, error) {
	token, err := s.providerToken(ctx, userId)
	if err != nil {
		token = ""
	}

	data, err := s.Provider.Download(ctx, token, strings.TrimSuffix(slide.Url, directUrlSuffix(slide.Kind)))
	if err != nil {
		return nil, classifyProviderError(err)
	}
	return data, nil
}

func directUrlSuffix(kind models.MediaKind) string {
	if kind == models.MediaVideo {
		return videoSuffix
	}
	return imageSizeSuffix
}

func providerHosted(rawUrl string) bool {
	u, err := url.Parse(rawUrl)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "googleusercontent.com" || strings.HasSuffix(host, ".googleusercontent.com")
}

// proxyWrap routes a provider-hosted URL through the authenticated media
// proxy. Whatever credential is available rides along; with none, the
// proxy serves public share links only.
func (s *Service) proxyWrap(ctx context.Context, userId string, rawUrl string) string {
	if s.ProxyBase == "" {
		return rawUrl
	}

	q := url.Values{}
	q.Set("url", rawUrl)
	if token, err := s.providerToken(ctx, userId); err == nil && token != "" {
		q.Set("token", token)
	}
	return s.ProxyBase + "?" + q.Encode()
}
