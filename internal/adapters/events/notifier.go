package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wiye1050/gestionclinica-sub004/internal/contracts"
	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
)

// OutboxNotifier hands notifications to the delivery service by enqueueing
// notification.requested on the outbox.
type OutboxNotifier struct {
	outbox        ports.OutboxRepository
	sourceService string
	nowFn         func() time.Time
}

func NewOutboxNotifier(outbox ports.OutboxRepository, sourceService string) *OutboxNotifier {
	return &OutboxNotifier{
		outbox:        outbox,
		sourceService: sourceService,
		nowFn:         func() time.Time { return time.Now().UTC() },
	}
}

func (n *OutboxNotifier) Notify(ctx context.Context, note ports.Notification) error {
	if strings.TrimSpace(note.PatientID) == "" || strings.TrimSpace(note.Template) == "" {
		return fmt.Errorf("%w: notification requires patient and template", domain.ErrInvalidInput)
	}
	data, err := json.Marshal(contracts.NotificationRequestedPayload{
		PatientID: note.PatientID,
		EpisodeID: note.EpisodeID,
		Template:  note.Template,
		Data:      note.Data,
	})
	if err != nil {
		return err
	}
	now := n.nowFn()
	eventID := uuid.New()
	env := contracts.EventEnvelope{
		EventID:          eventID.String(),
		EventType:        domain.EventNotificationRequested,
		EventClass:       domain.CanonicalEventClass(domain.EventNotificationRequested),
		OccurredAt:       now,
		PartitionKeyPath: domain.CanonicalPartitionKeyPath(domain.EventNotificationRequested),
		PartitionKey:     note.PatientID,
		SourceService:    n.sourceService,
		TraceID:          uuid.NewString(),
		SchemaVersion:    "1.0",
		Data:             data,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return n.outbox.Enqueue(ctx, ports.OutboxEvent{
		EventID:          eventID,
		EventType:        env.EventType,
		PartitionKey:     env.PartitionKey,
		PartitionKeyPath: env.PartitionKeyPath,
		Payload:          payload,
		OccurredAt:       now,
		SchemaVersion:    env.SchemaVersion,
		TraceID:          env.TraceID,
	})
}

type LoggingNotifier struct {
	logger *slog.Logger
}

func NewLoggingNotifier(logger *slog.Logger) *LoggingNotifier {
	return &LoggingNotifier{logger: logger}
}

func (n *LoggingNotifier) Notify(ctx context.Context, note ports.Notification) error {
	n.logger.InfoContext(ctx, "notification requested",
		"module", "events.notifier",
		"layer", "adapter",
		"operation", "notify",
		"outcome", "success",
		"template", note.Template,
		"episode_id", note.EpisodeID,
	)
	return nil
}

var (
	_ ports.Notifier = (*OutboxNotifier)(nil)
	_ ports.Notifier = (*LoggingNotifier)(nil)
)
