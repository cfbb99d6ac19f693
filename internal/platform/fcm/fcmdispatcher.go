// Package fcm delivers push notifications through the Firebase Cloud Messaging HTTP v1
// API, authenticating with a cached service-account access token.
package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-notification-worker/pkg/dispatch"
	"github.com/tinywideclouds/go-notification-worker/pkg/notification"
)

const defaultBaseURL = "https://fcm.googleapis.com"

// Tokens issued by the retired Expo push service. They cannot be delivered through FCM.
var legacyTokenPrefixes = []string{"ExponentPushToken[", "ExpoPushToken["}

var errLegacyToken = errors.New("legacy Expo push token is no longer supported")

// IsLegacyToken reports whether token was issued by the retired push provider.
func IsLegacyToken(token string) bool {
	for _, prefix := range legacyTokenPrefixes {
		if strings.HasPrefix(token, prefix) {
			return true
		}
	}
	return false
}

// CredentialProvider hands out a valid FCM bearer credential.
type CredentialProvider interface {
	Get(ctx context.Context) (Credential, error)
}

// credentialInvalidator is implemented by providers that can drop a rejected credential.
type credentialInvalidator interface {
	Invalidate(ctx context.Context) error
}

type Dispatcher struct {
	credentials CredentialProvider
	invalidator dispatch.TokenInvalidator
	httpClient  *http.Client
	baseURL     string
	logger      *slog.Logger
}

type DispatcherOption func(*Dispatcher)

func WithBaseURL(baseURL string) DispatcherOption {
	return func(d *Dispatcher) { d.baseURL = strings.TrimRight(baseURL, "/") }
}

func WithHTTPClient(client *http.Client) DispatcherOption {
	return func(d *Dispatcher) { d.httpClient = client }
}

func NewDispatcher(credentials CredentialProvider, invalidator dispatch.TokenInvalidator, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		credentials: credentials,
		invalidator: invalidator,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     defaultBaseURL,
		logger:      logger.With("component", "FCMDispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type tokenFailure struct {
	token string
	err   error
}

// SendPush sends the job to every token independently.
//
// One accepted token is enough for the job to succeed; failures of the other tokens
// are only logged. When no token succeeds the first recorded failure is returned.
// Dead tokens (legacy format or reported unregistered) are deactivated on the way.
// If no credential can be obtained, every remaining network token fails with that error.
func (d *Dispatcher) SendPush(ctx context.Context, job notification.Job, tokens []string) (string, error) {
	if len(tokens) == 0 {
		return "", dispatch.ErrNoPushTokens
	}

	data := notification.FlattenData(job)
	logger := d.logger.With("job_id", job.ID)

	var (
		failures  []tokenFailure
		succeeded int
		cred      *Credential
		credErr   error
	)

	for _, token := range tokens {
		if IsLegacyToken(token) {
			d.deactivate(ctx, token).Log(ctx, logger, "token", redact(token))
			failures = append(failures, tokenFailure{token: token, err: errLegacyToken})
			continue
		}

		if cred == nil && credErr == nil {
			c, err := d.credentials.Get(ctx)
			if err != nil {
				credErr = fmt.Errorf("fcm credentials unavailable: %w", err)
			} else {
				cred = &c
			}
		}
		if credErr != nil {
			failures = append(failures, tokenFailure{token: token, err: credErr})
			continue
		}

		err := d.send(ctx, *cred, token, job, data)
		if err == nil {
			succeeded++
			continue
		}

		var pe *ProviderError
		if errors.As(err, &pe) {
			if pe.Unregistered() {
				logger.Info("Deactivating unregistered token", "token", redact(token))
				d.deactivate(ctx, token).Log(ctx, logger, "token", redact(token))
			}
			if pe.HTTPStatus == http.StatusUnauthorized {
				d.invalidateCredential(ctx, logger)
			}
		}
		failures = append(failures, tokenFailure{token: token, err: err})
	}

	receipt := fmt.Sprintf("success:%d failed:%d", succeeded, len(failures))

	if succeeded > 0 {
		if len(failures) > 0 {
			logger.Warn("Push partially delivered", "receipt", receipt, "token_errors", describe(failures))
		}
		return receipt, nil
	}
	if len(failures) > 0 {
		return "", failures[0].err
	}
	return "", errors.New("push delivery failed for all tokens")
}

type sendRequest struct {
	Message *messaging.Message `json:"message"`
}

func (d *Dispatcher) buildMessage(token string, job notification.Job, data map[string]string) *messaging.Message {
	return &messaging.Message{
		Token: token,
		Data:  data,
		Notification: &messaging.Notification{
			Title: job.Title,
			Body:  job.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound: "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority":  "10",
				"apns-push-type": "alert",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default"},
			},
		},
	}
}

func (d *Dispatcher) send(ctx context.Context, cred Credential, token string, job notification.Job, data map[string]string) error {
	body, err := json.Marshal(sendRequest{Message: d.buildMessage(token, job, data)})
	if err != nil {
		return fmt.Errorf("failed to encode fcm message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/projects/%s/messages:send", d.baseURL, cred.ProjectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build fcm request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fcm transport failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("failed to read fcm response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return ParseProviderError(resp.StatusCode, respBody)
}

// invalidateCredential drops a credential the send API rejected so the next job exchanges
// a fresh one.
func (d *Dispatcher) invalidateCredential(ctx context.Context, logger *slog.Logger) {
	inv, ok := d.credentials.(credentialInvalidator)
	if !ok {
		return
	}
	logger.Warn("FCM rejected the access token, invalidating credential")
	dispatch.Attempt("invalidate_credential", func() error {
		return inv.Invalidate(ctx)
	}).Log(ctx, logger)
}

func (d *Dispatcher) deactivate(ctx context.Context, token string) dispatch.BestEffort {
	return dispatch.Attempt("deactivate_push_token", func() error {
		return d.invalidator.DeactivatePushToken(ctx, token)
	})
}

func describe(failures []tokenFailure) []string {
	out := make([]string, 0, len(failures))
	for _, f := range failures {
		out = append(out, fmt.Sprintf("%s: %s", redact(f.token), f.err))
	}
	return out
}

// redact keeps enough of a token to correlate log lines.
func redact(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:12] + "…"
}
