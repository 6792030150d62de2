package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
)

// EpisodeStore keeps snapshots and logs in process. Outbox events are handed
// to the shared OutboxRepository under the same lock as the write.
type EpisodeStore struct {
	mu       sync.RWMutex
	episodes map[string]domain.Episode
	order    []string
	events   map[string][]domain.EventRecord
	byEvent  map[string]domain.EventRecord
	outbox   *OutboxRepository
}

func NewEpisodeStore(outbox *OutboxRepository) *EpisodeStore {
	return &EpisodeStore{
		episodes: map[string]domain.Episode{},
		events:   map[string][]domain.EventRecord{},
		byEvent:  map[string]domain.EventRecord{},
		outbox:   outbox,
	}
}

func (s *EpisodeStore) Create(ctx context.Context, episode domain.Episode, record domain.EventRecord, outbox []ports.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.episodes[episode.ID]; ok {
		return domain.ErrConflict
	}
	if _, ok := s.byEvent[record.EventID]; ok {
		return domain.ErrConflict
	}
	for _, id := range s.order {
		existing := s.episodes[id]
		if existing.PatientID == episode.PatientID && !existing.Closed() {
			return domain.ErrConflict
		}
	}
	if err := s.enqueue(ctx, outbox); err != nil {
		return err
	}
	s.episodes[episode.ID] = episode
	s.order = append(s.order, episode.ID)
	s.events[episode.ID] = []domain.EventRecord{record}
	s.byEvent[record.EventID] = record
	return nil
}

func (s *EpisodeStore) Append(ctx context.Context, episode domain.Episode, record domain.EventRecord, expectedVersion int64, outbox []ports.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.episodes[episode.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	if _, ok := s.byEvent[record.EventID]; ok {
		return domain.ErrConflict
	}
	if err := s.enqueue(ctx, outbox); err != nil {
		return err
	}
	s.episodes[episode.ID] = episode
	s.events[episode.ID] = append(s.events[episode.ID], record)
	s.byEvent[record.EventID] = record
	return nil
}

func (s *EpisodeStore) enqueue(ctx context.Context, events []ports.OutboxEvent) error {
	if s.outbox == nil {
		return nil
	}
	for _, event := range events {
		if err := s.outbox.Enqueue(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (s *EpisodeStore) Get(_ context.Context, episodeID string) (domain.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.episodes[episodeID]
	if !ok {
		return domain.Episode{}, domain.ErrNotFound
	}
	return ep, nil
}

func (s *EpisodeStore) List(_ context.Context, filter ports.EpisodeFilter) ([]domain.Episode, error) {
	s.mu.RLock()
	matched := make([]domain.Episode, 0)
	for _, id := range s.order {
		ep := s.episodes[id]
		if filter.PatientID != "" && ep.PatientID != filter.PatientID {
			continue
		}
		if filter.Stage != "" && ep.Stage != filter.Stage {
			continue
		}
		if filter.OpenOnly && ep.Closed() {
			continue
		}
		matched = append(matched, ep)
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].OpenedAt.Equal(matched[j].OpenedAt) {
			return matched[i].OpenedAt.After(matched[j].OpenedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if filter.Offset >= len(matched) {
		return []domain.Episode{}, nil
	}
	matched = matched[max(filter.Offset, 0):]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *EpisodeStore) Events(_ context.Context, episodeID string) ([]domain.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.episodes[episodeID]; !ok {
		return nil, domain.ErrNotFound
	}
	return slices.Clone(s.events[episodeID]), nil
}

func (s *EpisodeStore) EventByID(_ context.Context, eventID string) (domain.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byEvent[eventID]
	if !ok {
		return domain.EventRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *EpisodeStore) ListDueRecalls(_ context.Context, now time.Time, limit int) ([]domain.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Episode, 0)
	for _, id := range s.order {
		ep := s.episodes[id]
		if ep.Stage != domain.StageMaintenance || ep.Facts.NextRecallAt == nil {
			continue
		}
		if ep.Facts.NextRecallAt.After(now) {
			continue
		}
		out = append(out, ep)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Facts.NextRecallAt.Before(*out[j].Facts.NextRecallAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *EpisodeStore) CountByStage(_ context.Context) (map[domain.Stage]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[domain.Stage]int{}
	for _, ep := range s.episodes {
		out[ep.Stage]++
	}
	return out, nil
}

// Tamper overwrites a stored record. Used by tests exercising verification.
func (s *EpisodeStore) Tamper(episodeID string, sequence int64, mutate func(*domain.EventRecord)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.events[episodeID]
	for i := range records {
		if records[i].Sequence == sequence {
			mutate(&records[i])
			return true
		}
	}
	return false
}

// TamperSnapshot rewrites a stored snapshot in place, bypassing the log.
func (s *EpisodeStore) TamperSnapshot(episodeID string, mutate func(*domain.Episode)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.episodes[episodeID]
	if !ok {
		return false
	}
	mutate(&ep)
	s.episodes[episodeID] = ep
	return true
}

var _ ports.EpisodeStore = (*EpisodeStore)(nil)
