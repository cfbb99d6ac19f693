package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-notification-worker/internal/trigger"
)

const (
	SecretHeader = "x-worker-secret"
	maxBodyBytes = 1 << 20
)

// Runner executes a validated trigger request.
type Runner interface {
	Run(ctx context.Context, req trigger.Request) trigger.Report
}

type TriggerAPI struct {
	Runner       Runner
	Secret       string
	DefaultLimit int
	Logger       *slog.Logger
}

func NewTriggerAPI(runner Runner, secret string, defaultLimit int, logger *slog.Logger) *TriggerAPI {
	return &TriggerAPI{
		Runner:       runner,
		Secret:       secret,
		DefaultLimit: defaultLimit,
		Logger:       logger.With("component", "TriggerAPI"),
	}
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// ServeHTTP handles POST triggers. Delivery failures are reported inside a 200 body;
// only method, secret and channel selection problems produce error statuses.
func (api *TriggerAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Use POST"})
		return
	}

	if !api.authorized(r) {
		api.Logger.Warn("Rejected trigger with bad secret", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Unauthorized"})
		return
	}

	// A body that cannot be read is handled like an empty one.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		api.Logger.Warn("Failed to read trigger body", "err", err)
		body = nil
	}

	req, err := trigger.ParseRequest(body, api.DefaultLimit)
	if err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, trigger.ErrNoValidChannels) {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	report := api.Runner.Run(r.Context(), req)
	writeJSON(w, http.StatusOK, report)
}

// authorized is open when no secret is configured.
func (api *TriggerAPI) authorized(r *http.Request) bool {
	if api.Secret == "" {
		return true
	}
	got := r.Header.Get(SecretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(api.Secret)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
