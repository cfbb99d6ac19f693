// Package pipeline runs trigger requests delivered over Pub/Sub through the same
// Runner the HTTP endpoint uses.
package pipeline

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-notification-worker/internal/trigger"
)

// NewTriggerTransformer returns a dataflow Transformer that parses a message payload
// with the HTTP trigger's rules. A payload naming no valid channel is rejected with
// skip=true so the StreamingService can Nack it towards the dead-letter topic.
func NewTriggerTransformer(defaultLimit int) func(context.Context, *messagepipeline.Message) (*trigger.Request, bool, error) {
	return func(_ context.Context, msg *messagepipeline.Message) (*trigger.Request, bool, error) {
		req, err := trigger.ParseRequest(msg.Payload, defaultLimit)
		if err != nil {
			return nil, true, fmt.Errorf("invalid trigger request in message %s: %w", msg.ID, err)
		}
		return &req, false, nil
	}
}
