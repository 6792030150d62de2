package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/wiye1050/gestionclinica-sub004/internal/contracts"
	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
)

type inboundEventData struct {
	EpisodeID string `json:"episode_id"`
	ActorID   string `json:"actor_id,omitempty"`
	ActorRole string `json:"actor_role,omitempty"`
	domain.EventPayload
}

// HandleCanonicalEvent feeds an event consumed from another service into the
// episode it targets. Guard rejections are terminal for the message and are
// not retried.
func (s *Service) HandleCanonicalEvent(ctx context.Context, envelope contracts.EventEnvelope) error {
	if err := validateEnvelope(envelope); err != nil {
		return err
	}
	eventType, ok := domain.InboundEventType(envelope.EventType)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnsupportedEventType, envelope.EventType)
	}
	expectedClass := domain.CanonicalEventClass(envelope.EventType)
	if strings.TrimSpace(envelope.EventClass) != "" && envelope.EventClass != expectedClass {
		return domain.ErrUnsupportedEventClass
	}
	if err := validatePartitionKeyInvariant(envelope, domain.CanonicalPartitionKeyPath(envelope.EventType)); err != nil {
		return err
	}

	now := s.nowFn()
	if s.eventDedup != nil {
		dup, err := s.eventDedup.IsDuplicate(ctx, envelope.EventID, now)
		if err != nil {
			return err
		}
		if dup {
			return nil
		}
	}

	var data inboundEventData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return domain.ErrInvalidEnvelope
	}
	actor := Actor{
		SubjectID: nonEmpty(data.ActorID, envelope.SourceService),
		Role:      domain.RoleSystem,
		RequestID: envelope.TraceID,
	}
	payload := data.EventPayload
	payload.SourceActorRole = strings.TrimSpace(data.ActorRole)
	_, err := s.ApplyEvent(ctx, actor, envelope.PartitionKey, ApplyEventInput{
		EventID:    stableEventID(envelope.SourceService, envelope.EventID),
		Type:       eventType,
		OccurredAt: envelope.OccurredAt,
		Payload:    payload,
	})
	if err != nil && !isTerminalRejection(err) {
		return err
	}
	if err != nil {
		s.logger.WarnContext(ctx, "inbound event rejected by episode",
			"operation", "handle_canonical_event",
			"outcome", "rejected",
			"event_type", envelope.EventType,
			"episode_id", envelope.PartitionKey,
			"error", err,
		)
	}

	if s.eventDedup != nil {
		return s.eventDedup.MarkProcessed(ctx, envelope.EventID, envelope.EventType, now.Add(s.cfg.EventDedupTTL))
	}
	return nil
}

func isTerminalRejection(err error) bool {
	return errors.Is(err, domain.ErrGuardRejected) ||
		errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrEpisodeClosed) ||
		errors.Is(err, domain.ErrNotFound)
}

// SweepRecalls emits maintenance.recall_due for every maintenance episode
// whose recall date has passed. Event ids are derived from the episode and
// cycle so overlapping sweeps do not double-apply.
func (s *Service) SweepRecalls(ctx context.Context, now time.Time) (int, error) {
	if now.IsZero() {
		now = s.nowFn()
	}
	due, err := s.episodes.ListDueRecalls(ctx, now, s.cfg.RecallSweepBatchSize)
	if err != nil {
		return 0, err
	}
	actor := Actor{SubjectID: s.cfg.ServiceName, Role: domain.RoleSystem, RequestID: stableEventID("recall-sweep", now.Format(time.RFC3339))}
	applied := 0
	for _, ep := range due {
		result, err := s.ApplyEvent(ctx, actor, ep.ID, ApplyEventInput{
			EventID:    stableEventID("recall", ep.ID, fmt.Sprint(ep.Facts.MaintenanceCycle)),
			Type:       domain.EventMaintenanceRecallDue,
			OccurredAt: now,
		})
		if err != nil {
			s.logger.WarnContext(ctx, "recall sweep skipped episode",
				"operation", "sweep_recalls",
				"outcome", "failure",
				"episode_id", ep.ID,
				"error", err,
			)
			continue
		}
		if !result.Duplicate {
			applied++
		}
	}
	return applied, nil
}

// PurgeEventDedup removes inbound dedup markers that expired at now.
func (s *Service) PurgeEventDedup(ctx context.Context, now time.Time) (int64, error) {
	if s.eventDedup == nil {
		return 0, nil
	}
	if now.IsZero() {
		now = s.nowFn()
	}
	return s.eventDedup.PurgeExpired(ctx, now)
}

func validateEnvelope(event contracts.EventEnvelope) error {
	if strings.TrimSpace(event.EventID) == "" || strings.TrimSpace(event.EventType) == "" || event.OccurredAt.IsZero() {
		return domain.ErrInvalidEnvelope
	}
	if strings.TrimSpace(event.SourceService) == "" || strings.TrimSpace(event.TraceID) == "" || strings.TrimSpace(event.SchemaVersion) == "" {
		return domain.ErrInvalidEnvelope
	}
	if len(event.Data) == 0 || !gjson.ValidBytes(event.Data) {
		return domain.ErrInvalidEnvelope
	}
	return nil
}

// validatePartitionKeyInvariant checks that the partition key is the value
// found at partition_key_path inside the envelope.
func validatePartitionKeyInvariant(event contracts.EventEnvelope, expectedPath string) error {
	if strings.TrimSpace(expectedPath) == "" || event.PartitionKeyPath != expectedPath {
		return domain.ErrInvalidEnvelope
	}
	if expectedPath == "envelope.source_service" {
		if event.PartitionKey != event.SourceService {
			return domain.ErrInvalidEnvelope
		}
		return nil
	}
	if !strings.HasPrefix(expectedPath, "data.") {
		return domain.ErrInvalidEnvelope
	}
	value := gjson.GetBytes(event.Data, strings.TrimPrefix(expectedPath, "data."))
	if !value.Exists() || value.String() == "" || value.String() != event.PartitionKey {
		return domain.ErrInvalidEnvelope
	}
	return nil
}
