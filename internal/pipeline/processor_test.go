package pipeline_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-notification-worker/internal/pipeline"
	"github.com/tinywideclouds/go-notification-worker/internal/trigger"
	"github.com/tinywideclouds/go-notification-worker/pkg/notification"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, req trigger.Request) trigger.Report {
	return m.Called(ctx, req).Get(0).(trigger.Report)
}

func TestProcessor_RunsRequest(t *testing.T) {
	ctx := context.Background()
	runner := new(mockRunner)
	req := trigger.Request{Channels: []notification.Channel{notification.ChannelPush}, Limit: 5}

	runner.On("Run", ctx, req).Return(trigger.Report{
		OK:     true,
		RunID:  "run-1",
		Totals: notification.Totals{Claimed: 2, Sent: 1, Failed: 1},
	}).Once()

	process := pipeline.NewProcessor(runner, newTestLogger())
	msg := messagepipeline.Message{MessageData: messagepipeline.MessageData{ID: "msg-1"}}

	// Job failures are recorded in the queue; the message is still acknowledged.
	require.NoError(t, process(ctx, msg, &req))
	runner.AssertExpectations(t)
}
