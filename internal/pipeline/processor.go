package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-notification-worker/internal/trigger"
)

// Runner executes one trigger request.
type Runner interface {
	Run(ctx context.Context, req trigger.Request) trigger.Report
}

// NewProcessor acknowledges every parsed trigger once its run completes. Job and channel
// failures are already recorded in the queue, so redelivery would only re-run the batch.
func NewProcessor(runner Runner, logger *slog.Logger) messagepipeline.StreamProcessor[trigger.Request] {
	logger = logger.With("component", "TriggerProcessor")

	return func(ctx context.Context, original messagepipeline.Message, req *trigger.Request) error {
		report := runner.Run(ctx, *req)
		logger.Info("Pub/Sub trigger processed",
			"pubsub_msg_id", original.ID,
			"run_id", report.RunID,
			"claimed", report.Totals.Claimed,
			"sent", report.Totals.Sent,
			"failed", report.Totals.Failed,
		)
		return nil
	}
}
