package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/aegis-iam/aegis/internal/platform/httpx"
	"github.com/aegis-iam/aegis/internal/rbac"
)

// TokenStore holds issued bearer tokens in Redis. Each token is an opaque
// uuid keyed to a claims snapshot; the record expires with the refresh
// window, so an expired token simply stops resolving.
type TokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTokenStore constructs a TokenStore. ttl bounds how long a token record
// survives in Redis; the refresh cutoff inside the claims is enforced
// separately by the service.
func NewTokenStore(client *redis.Client, ttl time.Duration) *TokenStore {
	return &TokenStore{client: client, ttl: ttl}
}

// Issue stores the claims under a fresh token value.
func (ts *TokenStore) Issue(ctx context.Context, claims rbac.Claims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("auth: marshal claims: %w", err)
	}
	token := uuid.NewString()
	if err := ts.client.Set(ctx, ts.key(token), payload, ts.ttl).Err(); err != nil {
		return "", fmt.Errorf("auth: store token: %w", err)
	}
	return token, nil
}

// Get resolves a token back to its claims snapshot. Unknown or expired
// tokens yield ErrUnauthorized.
func (ts *TokenStore) Get(ctx context.Context, token string) (rbac.Claims, error) {
	payload, err := ts.client.Get(ctx, ts.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return rbac.Claims{}, fmt.Errorf("%w: unknown token", httpx.ErrUnauthorized)
		}
		return rbac.Claims{}, err
	}
	var claims rbac.Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return rbac.Claims{}, fmt.Errorf("auth: unmarshal claims: %w", err)
	}
	return claims, nil
}

// Revoke deletes a token record. Revoking an unknown token is a no-op.
func (ts *TokenStore) Revoke(ctx context.Context, token string) error {
	if err := ts.client.Del(ctx, ts.key(token)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func (ts *TokenStore) key(token string) string {
	return "token:" + token
}
