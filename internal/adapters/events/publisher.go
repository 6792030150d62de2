package events

import (
	"context"
	"log/slog"

	"github.com/wiye1050/gestionclinica-sub004/internal/contracts"
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
)

// LoggingPublisher replaces the broker in local runs.
type LoggingPublisher struct {
	logger *slog.Logger
}

func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: logger}
}

func (p *LoggingPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	p.logger.InfoContext(ctx, "event published",
		"module", "events.publisher",
		"layer", "adapter",
		"operation", "publish",
		"outcome", "success",
		"event_type", eventType,
		"partition_key", partitionKey,
		"payload_bytes", len(payload),
	)
	return nil
}

func (p *LoggingPublisher) PublishDLQ(ctx context.Context, record contracts.DLQRecord) error {
	p.logger.WarnContext(ctx, "event dead-lettered",
		"module", "events.publisher",
		"layer", "adapter",
		"operation", "publish_dlq",
		"outcome", "success",
		"event_type", record.OriginalEvent.EventType,
		"error_summary", record.ErrorSummary,
		"trace_id", record.TraceID,
	)
	return nil
}

var (
	_ ports.EventPublisher = (*LoggingPublisher)(nil)
	_ ports.DLQPublisher   = (*LoggingPublisher)(nil)
)
