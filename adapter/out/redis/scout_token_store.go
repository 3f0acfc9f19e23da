package redisadapter

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"scout_server/core/port/out"
	"scout_server/pkg/apperr"
)

// tokenKey Redis key prefix for stored OAuth tokens
const tokenKey = "oauth:token:"

var _ out.TokenSourcePort = (*TokenStore)(nil)

// TokenStore implements out.TokenSourcePort over Redis. The auth service
// deposits each user's OAuth token as JSON; this store refreshes expired
// access tokens in place using the shared OAuth client config.
type TokenStore struct {
	client *redis.Client
	config *oauth2.Config
}

// NewTokenStore creates a new Redis token store.
func NewTokenStore(client *redis.Client, config *oauth2.Config) *TokenStore {
	return &TokenStore{client: client, config: config}
}

// Token returns a valid OAuth token for the user, refreshing it when the
// stored access token has expired.
func (s *TokenStore) Token(ctx context.Context, userID string) (*oauth2.Token, error) {
	raw, err := s.client.Get(ctx, tokenKey+userID).Result()
	if err == redis.Nil {
		return nil, apperr.Unauthorized("no mail credentials for user")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return nil, fmt.Errorf("failed to decode stored token: %w", err)
	}

	if token.Valid() {
		return &token, nil
	}

	refreshed, err := s.config.TokenSource(ctx, &token).Token()
	if err != nil {
		return nil, apperr.Unauthorized("mail credentials expired")
	}

	if refreshed.AccessToken != token.AccessToken {
		if err := s.save(ctx, userID, refreshed); err != nil {
			// Stale cache is tolerable; the next call refreshes again.
			return refreshed, nil
		}
	}
	return refreshed, nil
}

func (s *TokenStore) save(ctx context.Context, userID string, token *oauth2.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	// Refresh tokens are long-lived; cap the key so revoked users age out.
	if err := s.client.Set(ctx, tokenKey+userID, data, 30*24*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}
