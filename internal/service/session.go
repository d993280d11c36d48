package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"rustshop-api/internal/cache"
	"rustshop-api/internal/model"
)

const (
	// SessionPrefix is the prefix for all session tokens
	SessionPrefix = "rss_"

	// SessionTTL is the default session lifetime
	SessionTTL = 24 * time.Hour

	sessionCacheKeyPrefix = "session:"
)

// ErrSessionNotFound is returned for unknown or expired session tokens.
var ErrSessionNotFound = errors.New("session not found or expired")

// SessionData identifies the logged-in user behind a session token. The
// Steam login flow itself is handled by the identity provider in front of
// this service; here a token simply maps to an account.
type SessionData struct {
	UserID    int64     `json:"user_id"`
	SteamID   string    `json:"steam_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionService issues and resolves storefront session tokens, stored in
// the shared cache so every API instance sees the same sessions.
type SessionService struct {
	cache cache.Cache
}

// NewSessionService creates a new session service.
func NewSessionService(c cache.Cache) *SessionService {
	return &SessionService{cache: c}
}

// Create issues a session token for the user.
func (s *SessionService) Create(ctx context.Context, user *model.User) (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	token := SessionPrefix + hex.EncodeToString(tokenBytes)

	now := time.Now().UTC()
	data := SessionData{
		UserID:    user.ID,
		SteamID:   user.SteamID,
		CreatedAt: now,
		ExpiresAt: now.Add(SessionTTL),
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("serialize session: %w", err)
	}

	if err := s.cache.Set(ctx, sessionCacheKeyPrefix+token, jsonData, SessionTTL); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}

	return token, nil
}

// Resolve validates a token and returns the session behind it.
func (s *SessionService) Resolve(ctx context.Context, token string) (*SessionData, error) {
	if token == "" || !strings.HasPrefix(token, SessionPrefix) {
		return nil, ErrSessionNotFound
	}

	jsonData, err := s.cache.Get(ctx, sessionCacheKeyPrefix+token)
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("read session: %w", err)
	}

	var data SessionData
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}

	if time.Now().After(data.ExpiresAt) {
		_ = s.cache.Delete(ctx, sessionCacheKeyPrefix+token)
		return nil, ErrSessionNotFound
	}

	return &data, nil
}

// Revoke deletes a session token.
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	return s.cache.Delete(ctx, sessionCacheKeyPrefix+token)
}
