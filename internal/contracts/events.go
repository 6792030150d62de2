package contracts

import (
	"encoding/json"
	"time"
)

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	EventClass       string          `json:"event_class,omitempty"`
	OccurredAt       time.Time       `json:"occurred_at"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    string          `json:"schema_version"`
	Data             json.RawMessage `json:"data"`
}

type EpisodeStageChangedPayload struct {
	EpisodeID string `json:"episode_id"`
	PatientID string `json:"patient_id"`
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	FromStage string `json:"from_stage"`
	ToStage   string `json:"to_stage"`
	Sequence  int64  `json:"sequence"`
	Hash      string `json:"hash"`
	ChangedAt string `json:"changed_at"`
}

type EpisodeEventRecordedPayload struct {
	EpisodeID  string `json:"episode_id"`
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	Stage      string `json:"stage"`
	Sequence   int64  `json:"sequence"`
	RecordedAt string `json:"recorded_at"`
}

type NotificationRequestedPayload struct {
	PatientID string            `json:"patient_id"`
	EpisodeID string            `json:"episode_id,omitempty"`
	Template  string            `json:"template"`
	Data      map[string]string `json:"data,omitempty"`
}

type DLQRecord struct {
	OriginalEvent EventEnvelope `json:"original_event"`
	ErrorSummary  string        `json:"error_summary"`
	RetryCount    int           `json:"retry_count"`
	FirstSeenAt   time.Time     `json:"first_seen_at"`
	LastErrorAt   time.Time     `json:"last_error_at"`
	SourceTopic   string        `json:"source_topic,omitempty"`
	DLQTopic      string        `json:"dlq_topic,omitempty"`
	TraceID       string        `json:"trace_id,omitempty"`
}
