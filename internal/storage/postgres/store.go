// Package postgres implements the job queue and the address store on the notification
// schema: the claim/mark SQL functions, profiles and profile_push_tokens.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
	"github.com/tinywideclouds/go-notification-worker/pkg/notification"
)

const (
	claimQuery = `SELECT id, profile_id, hall_id, tournament_id, channel, kind, title, body, payload
FROM claim_notification_queue_jobs($1, $2)`
	markQuery       = `SELECT mark_notification_queue_job($1, $2, $3)`
	emailQuery      = `SELECT email FROM profiles WHERE id = $1`
	tokensQuery     = `SELECT push_token FROM profile_push_tokens WHERE profile_id = $1 AND is_active`
	deactivateQuery = `UPDATE profile_push_tokens SET is_active = false WHERE push_token = $1 AND is_active`
)

// Store satisfies both dispatch.JobQueue and dispatch.AddressStore.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With("component", "PostgresStore"),
	}
}

// Claim atomically takes up to limit pending jobs for the channel. Locking and state
// transitions live in the SQL function.
func (s *Store) Claim(ctx context.Context, channel notification.Channel, limit int) ([]notification.Job, error) {
	rows, err := s.db.QueryContext(ctx, claimQuery, string(channel), limit)
	if err != nil {
		return nil, fmt.Errorf("claim query failed: %w", err)
	}
	defer rows.Close()

	jobs := make([]notification.Job, 0)
	for rows.Next() {
		var (
			job                  notification.Job
			hallID, tournamentID sql.NullString
			kind, title, body    sql.NullString
			channelName          string
			payload              []byte
		)
		if err := rows.Scan(&job.ID, &job.RecipientID, &hallID, &tournamentID, &channelName, &kind, &title, &body, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan claimed job: %w", err)
		}
		job.Channel = notification.Channel(channelName)
		job.HallID = hallID.String
		job.TournamentID = tournamentID.String
		job.Kind = kind.String
		job.Title = title.String
		job.Body = body.String
		job.Payload = s.decodePayload(job.ID, payload)
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read claimed jobs: %w", err)
	}
	return jobs, nil
}

// decodePayload never fails the claim: the job is already owned by this run and must
// still reach a terminal state.
func (s *Store) decodePayload(jobID string, raw []byte) map[string]notification.Value {
	if len(raw) == 0 {
		return nil
	}
	var payload map[string]notification.Value
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warn("Ignoring undecodable job payload", "job_id", jobID, "err", err)
		return nil
	}
	return payload
}

// Mark records the terminal state. The error text is stored as NULL on success.
func (s *Store) Mark(ctx context.Context, jobID string, success bool, errorMessage string) error {
	var errText sql.NullString
	if !success {
		errText = sql.NullString{String: errorMessage, Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, markQuery, jobID, success, errText); err != nil {
		return fmt.Errorf("failed to mark job %s: %w", jobID, err)
	}
	return nil
}

func (s *Store) FetchEmail(ctx context.Context, recipientID string) (string, error) {
	var email sql.NullString
	err := s.db.QueryRowContext(ctx, emailQuery, recipientID).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("email query failed: %w", err)
	}
	return email.String, nil
}

func (s *Store) FetchPushTokens(ctx context.Context, recipientID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, tokensQuery, recipientID)
	if err != nil {
		return nil, fmt.Errorf("push token query failed: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token sql.NullString
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("failed to scan push token: %w", err)
		}
		tokens = append(tokens, token.String)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read push tokens: %w", err)
	}
	return tokens, nil
}

// DeactivatePushToken flags every active registration holding the token.
func (s *Store) DeactivatePushToken(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, deactivateQuery, token)
	if err != nil {
		return fmt.Errorf("failed to deactivate push token: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Info("Deactivated push token", "rows", n)
	}
	return nil
}
