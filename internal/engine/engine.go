// Package engine contains the dispatch loop: claim a batch for one channel, deliver every
// job through that channel's transport and record each job's terminal outcome.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-notification-worker/pkg/dispatch"
	"github.com/tinywideclouds/go-notification-worker/pkg/notification"
)

// DestinationResolver looks up where a recipient is reached on each channel.
type DestinationResolver interface {
	Email(ctx context.Context, recipientID string) (string, error)
	PushTokens(ctx context.Context, recipientID string) ([]string, error)
}

type Engine struct {
	queue    dispatch.JobQueue
	resolver DestinationResolver
	email    dispatch.EmailSender
	push     dispatch.PushSender
	logger   *slog.Logger
}

func New(
	queue dispatch.JobQueue,
	resolver DestinationResolver,
	email dispatch.EmailSender,
	push dispatch.PushSender,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		queue:    queue,
		resolver: resolver,
		email:    email,
		push:     push,
		logger:   logger.With("component", "DispatchEngine"),
	}
}

// Dispatch claims up to limit jobs for channel and processes them one at a time in
// claim order. Every claimed job lands in exactly one of Sent or Failed.
//
// With dryRun set, jobs are claimed and destinations resolved, but nothing is sent and
// no outcome is written back to the queue.
//
// Only a failed claim is returned as an error; per-job problems are in the Result.
func (e *Engine) Dispatch(ctx context.Context, channel notification.Channel, limit int, dryRun bool) (*notification.Result, error) {
	if _, ok := notification.ParseChannel(string(channel)); !ok {
		return nil, fmt.Errorf("unsupported channel %q", channel)
	}

	jobs, err := e.queue.Claim(ctx, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim %s jobs: %w", channel, err)
	}

	result := notification.NewResult(channel, len(jobs))
	e.logger.Info("Claimed jobs", "channel", channel, "claimed", len(jobs), "limit", limit, "dry_run", dryRun)

	for _, job := range jobs {
		jobLogger := e.logger.With("job_id", job.ID, "channel", channel)

		if err := e.deliver(ctx, channel, job, dryRun, jobLogger); err != nil {
			message := err.Error()
			if !dryRun {
				e.markFailed(ctx, job.ID, message).Log(ctx, jobLogger)
			}
			result.RecordFailure(job.ID, message)
			jobLogger.Error("Job failed", "err", message)
			continue
		}

		if !dryRun {
			// The job was delivered; a failed write here does not undo that.
			dispatch.Attempt("mark_success", func() error {
				return e.queue.Mark(ctx, job.ID, true, "")
			}).Log(ctx, jobLogger)
		}
		result.RecordSent()
		jobLogger.Debug("Job sent")
	}

	e.logger.Info("Channel dispatched",
		"channel", channel, "claimed", result.Claimed, "sent", result.Sent, "failed", result.Failed)
	return result, nil
}

func (e *Engine) deliver(ctx context.Context, channel notification.Channel, job notification.Job, dryRun bool, logger *slog.Logger) error {
	switch channel {
	case notification.ChannelEmail:
		address, err := e.resolver.Email(ctx, job.RecipientID)
		if err != nil {
			return err
		}
		if address == "" {
			return dispatch.ErrEmptyEmail
		}
		if dryRun {
			return nil
		}
		return e.email.SendEmail(ctx, job, address)

	case notification.ChannelPush:
		tokens, err := e.resolver.PushTokens(ctx, job.RecipientID)
		if err != nil {
			return err
		}
		if len(tokens) == 0 {
			return dispatch.ErrNoPushTokens
		}
		if dryRun {
			return nil
		}
		receipt, err := e.push.SendPush(ctx, job, tokens)
		if err != nil {
			return err
		}
		logger.Debug("Push dispatched", "receipt", receipt)
		return nil

	default:
		return fmt.Errorf("unsupported channel %q", channel)
	}
}

func (e *Engine) markFailed(ctx context.Context, jobID, message string) dispatch.BestEffort {
	return dispatch.Attempt("mark_failed", func() error {
		return e.queue.Mark(ctx, jobID, false, message)
	})
}
