// Package resolver maps recipients onto channel-specific destinations.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/tinywideclouds/go-notification-worker/pkg/dispatch"
)

// Resolver reads destinations fresh from the address store for every call.
type Resolver struct {
	store dispatch.AddressStore
}

func New(store dispatch.AddressStore) *Resolver {
	return &Resolver{store: store}
}

// Email returns the trimmed address, or "" when the recipient has none.
func (r *Resolver) Email(ctx context.Context, recipientID string) (string, error) {
	email, err := r.store.FetchEmail(ctx, recipientID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch email for %s: %w", recipientID, err)
	}
	return strings.TrimSpace(email), nil
}

// PushTokens returns the recipient's trimmed, non-empty tokens in stored order.
// Duplicates are passed through untouched.
func (r *Resolver) PushTokens(ctx context.Context, recipientID string) ([]string, error) {
	raw, err := r.store.FetchPushTokens(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch push tokens for %s: %w", recipientID, err)
	}

	tokens := make([]string, 0, len(raw))
	for _, t := range raw {
		if trimmed := strings.TrimSpace(t); trimmed != "" {
			tokens = append(tokens, trimmed)
		}
	}
	return tokens, nil
}
