package postgres

import (
	"time"

	"github.com/google/uuid"
)

type episodeModel struct {
	EpisodeID     string     `gorm:"column:episode_id;primaryKey"`
	PatientID     string     `gorm:"column:patient_id"`
	Stage         string     `gorm:"column:stage"`
	Version       int64      `gorm:"column:version"`
	Facts         string     `gorm:"column:facts;type:jsonb"`
	OpenedAt      time.Time  `gorm:"column:opened_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime:false"`
	ClosedAt      *time.Time `gorm:"column:closed_at"`
	NextRecallAt  *time.Time `gorm:"column:next_recall_at"`
	LastEventHash string     `gorm:"column:last_event_hash"`
}

func (episodeModel) TableName() string { return "episodes" }

type episodeEventModel struct {
	EventID    string    `gorm:"column:event_id;primaryKey"`
	EpisodeID  string    `gorm:"column:episode_id"`
	Sequence   int64     `gorm:"column:sequence"`
	EventType  string    `gorm:"column:event_type"`
	FromStage  string    `gorm:"column:from_stage"`
	ToStage    string    `gorm:"column:to_stage"`
	OccurredAt time.Time `gorm:"column:occurred_at"`
	RecordedAt time.Time `gorm:"column:recorded_at"`
	ActorID    string    `gorm:"column:actor_id"`
	ActorRole  string    `gorm:"column:actor_role"`
	Payload    string    `gorm:"column:payload;type:jsonb"`
	PrevHash   string    `gorm:"column:prev_hash"`
	Hash       string    `gorm:"column:hash"`
}

func (episodeEventModel) TableName() string { return "episode_events" }

type documentModel struct {
	Collection string    `gorm:"column:collection;primaryKey"`
	ID         string    `gorm:"column:id;primaryKey"`
	Data       string    `gorm:"column:data;type:jsonb"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (documentModel) TableName() string { return "documents" }

type outboxModel struct {
	OutboxID         uuid.UUID  `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType        string     `gorm:"column:event_type"`
	PartitionKey     string     `gorm:"column:partition_key"`
	PartitionKeyPath string     `gorm:"column:partition_key_path"`
	Payload          string     `gorm:"column:payload"`
	SchemaVersion    string     `gorm:"column:schema_version"`
	TraceID          string     `gorm:"column:trace_id"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
	FirstSeenAt      time.Time  `gorm:"column:first_seen_at"`
	PublishedAt      *time.Time `gorm:"column:published_at"`
	RetryCount       int        `gorm:"column:retry_count"`
	LastError        *string    `gorm:"column:last_error"`
	LastErrorAt      *time.Time `gorm:"column:last_error_at"`
}

func (outboxModel) TableName() string { return "clinic_outbox" }

type idempotencyModel struct {
	IdempotencyKey string    `gorm:"column:idempotency_key;primaryKey"`
	RequestHash    string    `gorm:"column:request_hash"`
	Status         string    `gorm:"column:status"`
	ResponseCode   int       `gorm:"column:response_code"`
	ResponseBody   *string   `gorm:"column:response_body"`
	ExpiresAt      time.Time `gorm:"column:expires_at"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (idempotencyModel) TableName() string { return "clinic_idempotency" }

type eventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	EventType   string    `gorm:"column:event_type"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
}

func (eventDedupModel) TableName() string { return "clinic_event_dedup" }
