package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/wiye1050/gestionclinica-sub004/internal/contracts"
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
)

type Message struct {
	Topic   string
	Key     string
	Payload []byte
}

type Consumer interface {
	Poll(ctx context.Context, max int) ([]Message, error)
}

// EventHandler applies one canonical event from another service.
type EventHandler interface {
	HandleCanonicalEvent(ctx context.Context, envelope contracts.EventEnvelope) error
}

// ConsumerWorker drains the inbound topics. Messages the handler cannot
// apply are parked on the DLQ because the reader has already committed them.
type ConsumerWorker struct {
	logger   *slog.Logger
	consumer Consumer
	handler  EventHandler
	dlq      ports.DLQPublisher
	interval time.Duration
	nowFn    func() time.Time
}

func NewConsumerWorker(logger *slog.Logger, consumer Consumer, handler EventHandler, dlq ports.DLQPublisher, interval time.Duration) *ConsumerWorker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &ConsumerWorker{
		logger: logger, consumer: consumer, handler: handler, dlq: dlq, interval: interval,
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (w *ConsumerWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.ErrorContext(ctx, "consumer iteration failed",
				"module", "events.consumer_worker",
				"layer", "adapter",
				"operation", "process_once",
				"outcome", "failure",
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce polls one batch and returns how many messages were applied.
func (w *ConsumerWorker) ProcessOnce(ctx context.Context) (int, error) {
	msgs, err := w.consumer.Poll(ctx, 50)
	if err != nil {
		return 0, err
	}
	handled := 0
	for _, msg := range msgs {
		var envelope contracts.EventEnvelope
		if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
			w.deadLetter(ctx, msg, contracts.EventEnvelope{PartitionKey: msg.Key}, err)
			continue
		}
		if err := w.handler.HandleCanonicalEvent(ctx, envelope); err != nil {
			w.deadLetter(ctx, msg, envelope, err)
			continue
		}
		handled++
	}
	return handled, nil
}

func (w *ConsumerWorker) deadLetter(ctx context.Context, msg Message, envelope contracts.EventEnvelope, cause error) {
	w.logger.WarnContext(ctx, "inbound event dead-lettered",
		"module", "events.consumer_worker",
		"layer", "adapter",
		"operation", "handle_event",
		"outcome", "failure",
		"topic", msg.Topic,
		"event_type", envelope.EventType,
		"event_id", envelope.EventID,
		"error", cause,
	)
	if w.dlq == nil {
		return
	}
	now := w.nowFn()
	if err := w.dlq.PublishDLQ(ctx, contracts.DLQRecord{
		OriginalEvent: envelope,
		ErrorSummary:  cause.Error(),
		RetryCount:    1,
		FirstSeenAt:   now,
		LastErrorAt:   now,
		SourceTopic:   msg.Topic,
		TraceID:       envelope.TraceID,
	}); err != nil {
		w.logger.ErrorContext(ctx, "dlq publish failed",
			"module", "events.consumer_worker",
			"layer", "adapter",
			"operation", "publish_dlq",
			"outcome", "failure",
			"error", err,
		)
	}
}
