package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wiye1050/gestionclinica-sub004/internal/contracts"
	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
)

const (
	idempotencyStatusReserved  = "reserved"
	idempotencyStatusCompleted = "completed"
	schemaVersion              = "1.0"
	dlqTopic                   = "clinic.dlq"
)

// runIdempotent replays the cached response for a repeated Idempotency-Key
// and rejects a key reused with a different request body.
func runIdempotent[T any](ctx context.Context, s *Service, actor Actor, scope string, request any, run func() (T, error)) (T, error) {
	var zero T
	key := strings.TrimSpace(actor.IdempotencyKey)
	if s.idempotency == nil || key == "" {
		return run()
	}
	key = scope + ":" + key
	requestHash := hashPayload(request)
	now := s.nowFn()

	existing, err := s.idempotency.Get(ctx, key, now)
	if err != nil {
		return zero, err
	}
	if existing != nil {
		if existing.RequestHash != requestHash {
			_ = s.publishDLQIdempotencyConflict(ctx, key, actor.RequestID)
			return zero, domain.ErrIdempotencyConflict
		}
		if existing.Status == idempotencyStatusCompleted && len(existing.ResponseBody) > 0 {
			var cached T
			if err := json.Unmarshal(existing.ResponseBody, &cached); err != nil {
				return zero, err
			}
			return cached, nil
		}
	} else if err := s.idempotency.Reserve(ctx, key, requestHash, now.Add(s.cfg.IdempotencyTTL)); err != nil {
		return zero, fmt.Errorf("%w: %v", domain.ErrIdempotencyConflict, err)
	}

	out, err := run()
	if err != nil {
		return zero, err
	}
	body, err := json.Marshal(out)
	if err != nil {
		return zero, err
	}
	if err := s.idempotency.Complete(ctx, key, 200, body, s.nowFn()); err != nil {
		s.logger.WarnContext(ctx, "idempotency completion failed",
			"operation", "complete_idempotency",
			"outcome", "failure",
			"scope", scope,
			"error", err,
		)
	}
	return out, nil
}

func hashPayload(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (s *Service) buildOutboxEvent(eventType, partitionKey, traceID string, data any) (ports.OutboxEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return ports.OutboxEvent{}, err
	}
	occurredAt := s.nowFn()
	env := contracts.EventEnvelope{
		EventID:          uuid.NewString(),
		EventType:        eventType,
		EventClass:       domain.CanonicalEventClass(eventType),
		OccurredAt:       occurredAt,
		PartitionKeyPath: domain.CanonicalPartitionKeyPath(eventType),
		PartitionKey:     partitionKey,
		SourceService:    s.cfg.ServiceName,
		TraceID:          nonEmpty(traceID, uuid.NewString()),
		SchemaVersion:    schemaVersion,
		Data:             raw,
	}
	if err := validatePartitionKeyInvariant(env, env.PartitionKeyPath); err != nil {
		return ports.OutboxEvent{}, err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return ports.OutboxEvent{}, err
	}
	eventID, err := uuid.Parse(env.EventID)
	if err != nil {
		return ports.OutboxEvent{}, err
	}
	return ports.OutboxEvent{
		EventID:          eventID,
		EventType:        eventType,
		PartitionKey:     partitionKey,
		PartitionKeyPath: env.PartitionKeyPath,
		Payload:          payload,
		OccurredAt:       occurredAt,
		SchemaVersion:    schemaVersion,
		TraceID:          env.TraceID,
	}, nil
}

func (s *Service) transitionOutbox(actor Actor, ep domain.Episode, rec domain.EventRecord) ([]ports.OutboxEvent, error) {
	recorded, err := s.buildOutboxEvent(domain.EventEpisodeEventRecorded, ep.ID, actor.RequestID, contracts.EpisodeEventRecordedPayload{
		EpisodeID:  ep.ID,
		EventID:    rec.EventID,
		EventType:  string(rec.Type),
		Stage:      string(rec.ToStage),
		Sequence:   rec.Sequence,
		RecordedAt: rec.RecordedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	out := []ports.OutboxEvent{recorded}
	if rec.Advanced() || rec.Type == domain.EventEpisodeOpened {
		changed, err := s.buildOutboxEvent(domain.EventEpisodeStageChanged, ep.ID, actor.RequestID, contracts.EpisodeStageChangedPayload{
			EpisodeID: ep.ID,
			PatientID: ep.PatientID,
			EventID:   rec.EventID,
			EventType: string(rec.Type),
			FromStage: string(rec.FromStage),
			ToStage:   string(rec.ToStage),
			Sequence:  rec.Sequence,
			Hash:      rec.Hash,
			ChangedAt: rec.RecordedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return nil, err
		}
		out = append(out, changed)
	}
	return out, nil
}

func (s *Service) publishDLQIdempotencyConflict(ctx context.Context, key, traceID string) error {
	if s.dlq == nil {
		return nil
	}
	now := s.nowFn()
	data, _ := json.Marshal(map[string]string{"key": key})
	return s.dlq.PublishDLQ(ctx, contracts.DLQRecord{
		OriginalEvent: contracts.EventEnvelope{
			EventID:          uuid.NewString(),
			EventType:        domain.EventIdempotencyConflictOps,
			EventClass:       domain.CanonicalEventClassOps,
			OccurredAt:       now,
			PartitionKeyPath: domain.CanonicalPartitionKeyPath(domain.EventIdempotencyConflictOps),
			PartitionKey:     s.cfg.ServiceName,
			SourceService:    s.cfg.ServiceName,
			TraceID:          nonEmpty(traceID, uuid.NewString()),
			SchemaVersion:    schemaVersion,
			Data:             data,
		},
		ErrorSummary: "idempotency key reused with mismatched payload",
		RetryCount:   1,
		FirstSeenAt:  now,
		LastErrorAt:  now,
		SourceTopic:  "api",
		DLQTopic:     dlqTopic,
		TraceID:      nonEmpty(traceID, uuid.NewString()),
	})
}

func (s *Service) notify(ctx context.Context, n ports.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.WarnContext(ctx, "notification dispatch failed",
			"operation", "notify",
			"outcome", "failure",
			"template", n.Template,
			"episode_id", n.EpisodeID,
			"error", err,
		)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

func nonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

// stableEventID derives a deterministic event id so that retried system
// events deduplicate against the log.
func stableEventID(parts ...string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.Join(parts, ":"))).String()
}
