// Package dispatch defines the contracts between the dispatch engine and its collaborators:
// the durable job queue, the address store and the channel transports.
package dispatch

import (
	"context"
	"errors"

	"github.com/tinywideclouds/go-notification-worker/pkg/notification"
)

var (
	// ErrEmptyEmail is the job failure for a recipient without a usable address.
	ErrEmptyEmail = errors.New("Profile email is empty")
	// ErrNoPushTokens is the job failure for a recipient without active registrations.
	ErrNoPushTokens = errors.New("No active push tokens")
	// ErrEmailNotConfigured is returned lazily when the email provider has no credentials.
	ErrEmailNotConfigured = errors.New("email provider is not configured")
)

// JobQueue is the durable queue the worker claims from and reports to.
// Claim must be atomic: a job is never handed to two concurrent callers.
type JobQueue interface {
	Claim(ctx context.Context, channel notification.Channel, limit int) ([]notification.Job, error)
	Mark(ctx context.Context, jobID string, success bool, errorMessage string) error
}

// AddressStore looks up where a recipient can be reached.
type AddressStore interface {
	// FetchEmail returns the stored address, or "" if the recipient has none.
	FetchEmail(ctx context.Context, recipientID string) (string, error)
	// FetchPushTokens returns the active registration tokens in stored order.
	FetchPushTokens(ctx context.Context, recipientID string) ([]string, error)
	TokenInvalidator
}

// TokenInvalidator deactivates a dead push registration.
type TokenInvalidator interface {
	DeactivatePushToken(ctx context.Context, token string) error
}

// EmailSender delivers one job to one address.
type EmailSender interface {
	SendEmail(ctx context.Context, job notification.Job, address string) error
}

// PushSender delivers one job to a set of registration tokens. A nil error means at
// least one token accepted the message; the receipt is informational.
type PushSender interface {
	SendPush(ctx context.Context, job notification.Job, tokens []string) (string, error)
}
