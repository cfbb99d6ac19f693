// Package cache shares short-lived state between worker instances through Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tinywideclouds/go-notification-worker/internal/platform/fcm"
)

const credentialKey = "notify:fcm:credential"

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns redis.Nil when the key does not exist.
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// CredentialStore is the shared tier behind fcm.CredentialCache. Entries expire from
// Redis at the point the in-process cache would stop handing them out.
type CredentialStore struct {
	cache  CacheClient
	now    func() time.Time
	logger *slog.Logger
}

func NewCredentialStore(cache CacheClient, logger *slog.Logger) *CredentialStore {
	return &CredentialStore{
		cache:  cache,
		now:    time.Now,
		logger: logger.With("component", "CredentialStore"),
	}
}

// Load returns nil, nil on a miss.
func (s *CredentialStore) Load(ctx context.Context) (*fcm.Credential, error) {
	var cred fcm.Credential
	err := s.cache.Get(ctx, credentialKey, &cred)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read shared credential: %w", err)
	}
	return &cred, nil
}

func (s *CredentialStore) Save(ctx context.Context, cred fcm.Credential) error {
	ttl := cred.ExpiresAt.Sub(s.now()) - fcm.RefreshMargin
	if ttl <= 0 {
		s.logger.Debug("Credential too close to expiry to share", "expires_at", cred.ExpiresAt)
		return nil
	}
	if err := s.cache.Set(ctx, credentialKey, cred, ttl); err != nil {
		return fmt.Errorf("failed to write shared credential: %w", err)
	}
	return nil
}

// Invalidate drops the shared entry so the next caller performs a fresh exchange.
func (s *CredentialStore) Invalidate(ctx context.Context) error {
	return s.cache.Del(ctx, credentialKey)
}
