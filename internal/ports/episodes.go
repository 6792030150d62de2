package ports

import (
	"context"
	"time"

	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
)

// EpisodeFilter selects episodes newest first by OpenedAt, ties broken by id.
type EpisodeFilter struct {
	PatientID string
	Stage     domain.Stage
	// OpenOnly drops closed and cancelled episodes.
	OpenOnly bool
	Limit    int
	Offset   int
}

// EpisodeStore persists episode snapshots together with their append-only
// event log. Every write also enqueues the given outbox events in the same
// unit of work.
type EpisodeStore interface {
	// Create stores a freshly opened episode. It fails with ErrConflict when
	// the patient already has a non-terminal episode.
	Create(ctx context.Context, episode domain.Episode, record domain.EventRecord, outbox []OutboxEvent) error
	// Append stores record and the advanced snapshot when the persisted
	// version still equals expectedVersion, otherwise ErrVersionConflict.
	Append(ctx context.Context, episode domain.Episode, record domain.EventRecord, expectedVersion int64, outbox []OutboxEvent) error
	Get(ctx context.Context, episodeID string) (domain.Episode, error)
	List(ctx context.Context, filter EpisodeFilter) ([]domain.Episode, error)
	Events(ctx context.Context, episodeID string) ([]domain.EventRecord, error)
	EventByID(ctx context.Context, eventID string) (domain.EventRecord, error)
	ListDueRecalls(ctx context.Context, now time.Time, limit int) ([]domain.Episode, error)
	CountByStage(ctx context.Context) (map[domain.Stage]int, error)
}
