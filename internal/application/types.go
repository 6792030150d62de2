package application

import (
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
)

type Config struct {
	ServiceName           string
	IdempotencyTTL        time.Duration
	EventDedupTTL         time.Duration
	RecallSweepBatchSize  int
	DuplicateNameDistance int
	DefaultListLimit      int
	MaxListLimit          int
	MaxConsentBytes       int64
}

type Actor struct {
	SubjectID      string
	Role           string
	RequestID      string
	IdempotencyKey string
}

// withoutIdempotency is used for follow-up calls made on behalf of a request
// that already holds its key.
func (a Actor) withoutIdempotency() Actor {
	a.IdempotencyKey = ""
	return a
}

type Dependencies struct {
	Config Config

	Episodes    ports.EpisodeStore
	Documents   ports.DocumentStore
	Files       ports.FileStore
	Idempotency ports.IdempotencyRepository
	EventDedup  ports.EventDedupRepository
	Outbox      ports.OutboxRepository
	DLQ         ports.DLQPublisher

	Authorizer ports.Authorizer
	Notifier   ports.Notifier
	Observer   ports.Observer
	Encryption ports.Encryption

	Machine *domain.Machine
	Logger  *slog.Logger
	Clock   func() time.Time
}

type Service struct {
	cfg Config

	episodes    ports.EpisodeStore
	documents   ports.DocumentStore
	files       ports.FileStore
	idempotency ports.IdempotencyRepository
	eventDedup  ports.EventDedupRepository
	outbox      ports.OutboxRepository
	dlq         ports.DLQPublisher

	authorizer ports.Authorizer
	notifier   ports.Notifier
	observer   ports.Observer
	encryption ports.Encryption

	machine *domain.Machine
	logger  *slog.Logger
	nowFn   func() time.Time

	rejected atomic.Int64
}

type OpenEpisodeInput struct {
	PatientID  string
	OccurredAt time.Time
}

type ApplyEventInput struct {
	EventID         string
	Type            domain.EventType
	OccurredAt      time.Time
	ExpectedVersion *int64
	Payload         domain.EventPayload
}

type TransitionResult struct {
	Episode   domain.Episode     `json:"episode"`
	Record    domain.EventRecord `json:"record"`
	Advanced  bool               `json:"advanced"`
	Duplicate bool               `json:"duplicate"`
}

type VerifyResult struct {
	EpisodeID     string `json:"episode_id"`
	Valid         bool   `json:"valid"`
	Events        int    `json:"events"`
	HeadHash      string `json:"head_hash"`
	SnapshotMatch bool   `json:"snapshot_match"`
	Problem       string `json:"problem,omitempty"`
}

type CreatePatientInput struct {
	FirstName  string
	LastName   string
	BirthDate  string
	Email      string
	Phone      string
	NationalID string
	Notes      string
}

type UpdatePatientInput struct {
	FirstName  *string
	LastName   *string
	BirthDate  *string
	Email      *string
	Phone      *string
	NationalID *string
	Notes      *string
}

type PatientResult struct {
	Patient            domain.Patient `json:"patient"`
	PossibleDuplicates []string       `json:"possible_duplicates,omitempty"`
}

type PatientFilter struct {
	IncludeArchived bool
	Limit           int
	Offset          int
}

type ScheduleAppointmentInput struct {
	PatientID      string
	EpisodeID      string
	ServiceID      string
	PractitionerID string
	StartsAt       time.Time
	EndsAt         time.Time
}

type AppointmentFilter struct {
	PatientID      string
	PractitionerID string
	Status         string
	Day            time.Time
	Limit          int
	Offset         int
}

type AppointmentResult struct {
	Appointment domain.Appointment `json:"appointment"`
	Transition  *TransitionResult  `json:"transition,omitempty"`
}

type ServiceItemInput struct {
	Code            string
	Name            string
	Category        string
	PriceCents      int64
	Currency        string
	DefaultSessions int
}

type UpdateServiceItemInput struct {
	Name            *string
	Category        *string
	PriceCents      *int64
	DefaultSessions *int
	Active          *bool
}

type InventoryItemInput struct {
	SKU          string
	Name         string
	Unit         string
	Quantity     int
	ReorderLevel int
}

type UploadConsentInput struct {
	PatientID   string
	EpisodeID   string
	Kind        string
	ContentType string
	Body        io.Reader
}

type StageFunnel struct {
	Stages map[domain.Stage]int `json:"stages"`
	Total  int                  `json:"total"`
}

type OperationalSummary struct {
	GeneratedAt        time.Time            `json:"generated_at"`
	EpisodesByStage    map[domain.Stage]int `json:"episodes_by_stage"`
	AppointmentsStatus map[string]int       `json:"appointments_by_status"`
	LowStockItems      int                  `json:"low_stock_items"`
	ActiveServices     int                  `json:"active_services"`

	// TransitionsRejected counts rejections seen by this process since start.
	TransitionsRejected int64 `json:"transitions_rejected"`
}

type ConsentDocumentFilter struct {
	PatientID string
	EpisodeID string
	Limit     int
	Offset    int
}
