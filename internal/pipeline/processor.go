package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-webpush-service/pkg/dispatch"
)

// Broadcaster is the engine operation the pipeline drives.
type Broadcaster interface {
	Broadcast(ctx context.Context, payload dispatch.Payload) (*dispatch.Report, error)
}

// NewProcessor broadcasts the default payload for every trigger message.
// Per-subscriber delivery failures are contained by the engine; only a
// storage failure is returned, so the message is nacked and redelivered.
func NewProcessor(engine Broadcaster, logger *slog.Logger) messagepipeline.StreamProcessor[BroadcastRequest] {
	return func(ctx context.Context, original messagepipeline.Message, request *BroadcastRequest) error {
		procLogger := logger.With(
			"request_id", request.RequestID,
			"pubsub_msg_id", original.ID,
		)

		report, err := engine.Broadcast(ctx, dispatch.DefaultPayload)
		if err != nil {
			procLogger.Error("Broadcast failed", "err", err)
			return err
		}

		procLogger.Info("Broadcast dispatched",
			"broadcast_id", report.BroadcastID,
			"receipt", report.Receipt(),
		)
		return nil
	}
}
