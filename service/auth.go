package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zlnvch/storystack/models"
	"golang.org/x/oauth2"
)

type googleUser struct {
	Email string `json:"email"`
	Sub   string `json:"sub"`
}

const (
	userinfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

	// Fallback token lifetime in the cache when Google omits an expiry;
	// with a refresh token present the token source renews transparently.
	providerTokenTTL = 45 * time.Minute
)

func addOauthEndpointAndScopes(oauthConfig *oauth2.Config) (*oauth2.Config, error) {
	if oauthConfig == nil {
		return nil, errors.New("oauth config is required")
	}

	oauthConfig.Endpoint = oauth2.Endpoint{
		AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL: "https://oauth2.googleapis.com/token",
	}
	// The picker scopes double as the Photos API credential, so one
	// sign-in covers both login and media access.
	oauthConfig.Scopes = []string{
		"openid",
		"email",
		"https://www.googleapis.com/auth/photospicker.mediaitems.readonly",
		"https://www.googleapis.com/auth/photoslibrary.appendonly",
	}

	return oauthConfig, nil
}

func (s *Service) handleOauth(ctx context.Context, code string) (models.User, *oauth2.Token, error) {
	tok, err := s.OAuthConfig.Exchange(ctx, code)
	if err != nil {
		log.Println("Error:", err)
		return models.User{}, nil, err
	}

	client := s.OAuthConfig.Client(ctx, tok)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userinfoURL, nil)
	if err != nil {
		return models.User{}, nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Println("Error:", err)
		return models.User{}, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.User{}, nil, err
	}

	var g googleUser
	if err := json.Unmarshal(body, &g); err != nil {
		return models.User{}, nil, err
	}

	user := models.User{
		Username:   g.Email,
		Provider:   "google",
		ProviderId: g.Sub,
	}
	return user, tok, nil
}

func (s *Service) CreateJWT(id string, provider string, providerId string) (string, error) {
	claims := jwt.MapClaims{
		"id":         id,
		"provider":   provider,
		"providerId": providerId,
		"exp":        time.Now().Add(24 * time.Hour).Unix(),
		"iat":        time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(s.JWTSecret)
	if err != nil {
		return "", err
	}

	return signedToken, nil
}

func (s *Service) VerifyJWT(tokenString string) (string, string, string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return s.JWTSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", "", "", err
	}

	if !token.Valid {
		return "", "", "", errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", "", errors.New("invalid token claims")
	}

	id, ok := claims["id"].(string)
	if !ok {
		return "", "", "", errors.New("missing id claim")
	}

	provider, ok := claims["provider"].(string)
	if !ok {
		return "", "", "", errors.New("missing provider claim")
	}

	providerId, ok := claims["providerId"].(string)
	if !ok {
		return "", "", "", errors.New("missing providerId claim")
	}

	return id, provider, providerId, nil
}

func (s *Service) AuthenticateToken(ctx context.Context, token string) (models.User, error) {
	if len(token) == 0 {
		return models.User{}, errors.New("token not provided")
	}

	_, provider, providerId, err := s.VerifyJWT(token)
	if err != nil {
		return models.User{}, err
	}

	user, err := s.Store.GetUser(ctx, provider, providerId)
	if err != nil {
		return models.User{}, err
	}

	return user, nil
}

func (s *Service) Login(ctx context.Context, code string) (models.User, string, error) {
	user, oauthToken, err := s.handleOauth(ctx, code)
	if err != nil {
		return models.User{}, "", fmt.Errorf("oauth failed: %w", err)
	}

	createdUser, err := s.Store.CreateUser(ctx, user)
	if err != nil {
		return models.User{}, "", fmt.Errorf("create user failed: %w", err)
	}

	if err := s.storeProviderToken(ctx, createdUser.Id, oauthToken); err != nil {
		return models.User{}, "", fmt.Errorf("store provider token failed: %w", err)
	}

	token, err := s.CreateJWT(createdUser.Id, createdUser.Provider, createdUser.ProviderId)
	if err != nil {
		return models.User{}, "", fmt.Errorf("token generation failed: %w", err)
	}

	return createdUser, token, nil
}

// UserDeletedMessage is broadcast so the ws hub can drop the user's
// connections.
type UserDeletedMessage struct {
	UserId string `json:"userId"`
}

func (s *Service) DeleteUser(ctx context.Context, user models.User) error {
	if err := s.Store.DeleteUser(ctx, user.Provider, user.ProviderId); err != nil {
		return err
	}

	msgBytes, err := json.Marshal(UserDeletedMessage{UserId: user.Id})
	if err == nil {
		if err := s.Cache.Publish(ctx, "user-deleted", msgBytes); err != nil {
			log.Printf("Failed to publish user-deleted for %s: %v", user.Id, err)
		}
	}
	return nil
}

func (s *Service) storeProviderToken(ctx context.Context, userId string, tok *oauth2.Token) error {
	tokenBytes, err := json.Marshal(tok)
	if err != nil {
		return err
	}

	ttl := providerTokenTTL
	if tok.RefreshToken != "" {
		// With a refresh token the record outlives the access token
		ttl = 30 * 24 * time.Hour
	} else if !tok.Expiry.IsZero() {
		ttl = time.Until(tok.Expiry)
	}

	return s.Cache.SetProviderToken(ctx, userId, tokenBytes, ttl)
}

// providerToken returns a live Google access token for the user,
// refreshing through the oauth2 token source when the cached one has
// expired. A missing record means the user must sign in again.
func (s *Service) providerToken(ctx context.Context, userId string) (string, error) {
	tokenBytes, err := s.Cache.GetProviderToken(ctx, userId)
	if err != nil {
		return "", NewError(KindSessionExpired, "sign in again to continue", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(tokenBytes, &tok); err != nil {
		return "", NewError(KindSessionExpired, "sign in again to continue", err)
	}

	if tok.Valid() {
		return tok.AccessToken, nil
	}

	fresh, err := s.OAuthConfig.TokenSource(ctx, &tok).Token()
	if err != nil {
		return "", NewError(KindSessionExpired, "sign in again to continue", err)
	}

	if fresh.AccessToken != tok.AccessToken {
		if err := s.storeProviderToken(ctx, userId, fresh); err != nil {
			log.Printf("Failed to store refreshed provider token for user %s: %v", userId, err)
		}
	}

	return fresh.AccessToken, nil
}
