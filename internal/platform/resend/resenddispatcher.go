// Package resend delivers transactional email through the Resend HTTP API.
package resend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tinywideclouds/go-notification-worker/pkg/dispatch"
	"github.com/tinywideclouds/go-notification-worker/pkg/notification"
)

const DefaultBaseURL = "https://api.resend.com"

type Config struct {
	APIKey  string
	From    string
	BaseURL string
}

// Configured reports whether both the key and the sender address are present.
func (c Config) Configured() bool {
	return strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.From) != ""
}

type Dispatcher struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

func NewDispatcher(cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Dispatcher{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With("component", "ResendDispatcher"),
	}
}

type sendEmailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

// SendEmail posts a single plain-text message. A missing key or sender is reported on
// use, so a worker without email credentials can still deliver push.
func (d *Dispatcher) SendEmail(ctx context.Context, job notification.Job, address string) error {
	if !d.cfg.Configured() {
		return dispatch.ErrEmailNotConfigured
	}

	body, err := json.Marshal(sendEmailRequest{
		From:    d.cfg.From,
		To:      []string{address},
		Subject: job.Title,
		Text:    job.Body,
	})
	if err != nil {
		return fmt.Errorf("failed to encode email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.BaseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build email request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("email transport failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("failed to read Resend response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Resend error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	d.logger.Debug("Email accepted", "job_id", job.ID, "status", resp.StatusCode)
	return nil
}
