// --- File: internal/pipeline/transformer.go ---
// Package pipeline turns Pub/Sub messages into broadcasts.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
)

// BroadcastRequest is the trigger message published by upstream services.
// The payload itself is fixed; the request only carries a correlation ID.
type BroadcastRequest struct {
	RequestID string `json:"request_id"`
}

// BroadcastRequestTransformer is a dataflow Transformer that decodes and
// validates a raw message payload into a BroadcastRequest.
func BroadcastRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*BroadcastRequest, bool, error) {
	var req BroadcastRequest

	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		// skip=true lets the StreamingService route the message to the DLQ.
		return nil, true, fmt.Errorf("failed to unmarshal broadcast request from message %s: %w", msg.ID, err)
	}
	if req.RequestID == "" {
		return nil, true, fmt.Errorf("broadcast request in message %s is missing request_id", msg.ID)
	}

	return &req, false, nil
}
