package postgres

import (
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
	"gorm.io/gorm"
)

type Repositories struct {
	Episodes    ports.EpisodeStore
	Documents   ports.DocumentStore
	Outbox      ports.OutboxRepository
	EventDedup  ports.EventDedupRepository
	Idempotency ports.IdempotencyRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Episodes:    &episodeStore{db: db},
		Documents:   &documentStore{db: db},
		Outbox:      &outboxRepository{db: db},
		EventDedup:  &eventDedupRepository{db: db},
		Idempotency: &idempotencyRepository{db: db},
	}
}
