package trigger

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-notification-worker/pkg/notification"
)

// Dispatcher runs one channel. It is satisfied by *engine.Engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, channel notification.Channel, limit int, dryRun bool) (*notification.Result, error)
}

// Report is the aggregated outcome of a trigger run, serialized as the trigger response.
type Report struct {
	OK        bool                   `json:"ok"`
	RunID     string                 `json:"-"`
	DryRun    bool                   `json:"dry_run"`
	Limit     int                    `json:"limit"`
	Channels  []notification.Channel `json:"channels"`
	Totals    notification.Totals    `json:"totals"`
	Summaries []notification.Result  `json:"summaries"`
}

type Runner struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

func NewRunner(dispatcher Dispatcher, logger *slog.Logger) *Runner {
	return &Runner{
		dispatcher: dispatcher,
		logger:     logger.With("component", "TriggerRunner"),
	}
}

// Run processes the requested channels in order. A channel that fails outright is
// reported as a channel_error summary and does not stop the remaining channels.
func (r *Runner) Run(ctx context.Context, req Request) Report {
	runID := uuid.NewString()
	logger := r.logger.With("run_id", runID)
	start := time.Now()

	logger.Info("Trigger run started", "channels", req.Channels, "limit", req.Limit, "dry_run", req.DryRun)

	summaries := make([]notification.Result, 0, len(req.Channels))
	for _, channel := range req.Channels {
		result, err := r.dispatcher.Dispatch(ctx, channel, req.Limit, req.DryRun)
		if err != nil {
			logger.Error("Channel failed", "channel", channel, "err", err)
			summaries = append(summaries, notification.ChannelErrorResult(channel, err))
			continue
		}
		summaries = append(summaries, *result)
	}

	report := Report{
		OK:        true,
		RunID:     runID,
		DryRun:    req.DryRun,
		Limit:     req.Limit,
		Channels:  req.Channels,
		Totals:    notification.SumTotals(summaries),
		Summaries: summaries,
	}

	logger.Info("Trigger run finished",
		"claimed", report.Totals.Claimed,
		"sent", report.Totals.Sent,
		"failed", report.Totals.Failed,
		"duration", time.Since(start),
	)
	return report
}
