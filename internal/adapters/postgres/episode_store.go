package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
	"gorm.io/gorm"
)

// episodeStore writes the snapshot, the log entry and the outbox rows in one
// transaction. The version column is the optimistic lock.
type episodeStore struct {
	db *gorm.DB
}

func (s *episodeStore) Create(ctx context.Context, episode domain.Episode, record domain.EventRecord, outbox []ports.OutboxEvent) error {
	row, err := toEpisodeModel(episode)
	if err != nil {
		return err
	}
	event, err := toEventModel(record)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if err := tx.Create(&event).Error; err != nil {
			return err
		}
		return enqueueAll(tx, outbox)
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: patient already has an open episode", domain.ErrConflict)
	}
	return err
}

func (s *episodeStore) Append(ctx context.Context, episode domain.Episode, record domain.EventRecord, expectedVersion int64, outbox []ports.OutboxEvent) error {
	row, err := toEpisodeModel(episode)
	if err != nil {
		return err
	}
	event, err := toEventModel(record)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&episodeModel{}).
			Where("episode_id = ? AND version = ?", episode.ID, expectedVersion).
			Updates(map[string]any{
				"stage":           row.Stage,
				"version":         row.Version,
				"facts":           row.Facts,
				"updated_at":      row.UpdatedAt,
				"closed_at":       row.ClosedAt,
				"next_recall_at":  row.NextRecallAt,
				"last_event_hash": row.LastEventHash,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&episodeModel{}).Where("episode_id = ?", episode.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return domain.ErrNotFound
			}
			return domain.ErrVersionConflict
		}
		if err := tx.Create(&event).Error; err != nil {
			return err
		}
		return enqueueAll(tx, outbox)
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: event %s already recorded", domain.ErrConflict, record.EventID)
	}
	return err
}

func (s *episodeStore) Get(ctx context.Context, episodeID string) (domain.Episode, error) {
	var row episodeModel
	if err := s.db.WithContext(ctx).Where("episode_id = ?", episodeID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Episode{}, domain.ErrNotFound
		}
		return domain.Episode{}, err
	}
	return fromEpisodeModel(row)
}

func (s *episodeStore) List(ctx context.Context, filter ports.EpisodeFilter) ([]domain.Episode, error) {
	q := s.db.WithContext(ctx).Model(&episodeModel{})
	if filter.PatientID != "" {
		q = q.Where("patient_id = ?", filter.PatientID)
	}
	if filter.Stage != "" {
		q = q.Where("stage = ?", string(filter.Stage))
	}
	if filter.OpenOnly {
		q = q.Where("stage NOT IN ?", []string{string(domain.StageClosed), string(domain.StageCancelled)})
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var rows []episodeModel
	if err := q.Order("opened_at desc, id asc").Offset(filter.Offset).Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return mapEpisodes(rows)
}

func (s *episodeStore) Events(ctx context.Context, episodeID string) ([]domain.EventRecord, error) {
	var rows []episodeEventModel
	if err := s.db.WithContext(ctx).Where("episode_id = ?", episodeID).Order("sequence asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.ErrNotFound
	}
	out := make([]domain.EventRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := fromEventModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *episodeStore) EventByID(ctx context.Context, eventID string) (domain.EventRecord, error) {
	var row episodeEventModel
	if err := s.db.WithContext(ctx).Where("event_id = ?", eventID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.EventRecord{}, domain.ErrNotFound
		}
		return domain.EventRecord{}, err
	}
	return fromEventModel(row)
}

func (s *episodeStore) ListDueRecalls(ctx context.Context, now time.Time, limit int) ([]domain.Episode, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []episodeModel
	err := s.db.WithContext(ctx).
		Where("stage = ? AND next_recall_at IS NOT NULL AND next_recall_at <= ?", string(domain.StageMaintenance), now).
		Order("next_recall_at asc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return mapEpisodes(rows)
}

func (s *episodeStore) CountByStage(ctx context.Context) (map[domain.Stage]int, error) {
	type stageCount struct {
		Stage string
		Count int
	}
	var rows []stageCount
	if err := s.db.WithContext(ctx).Model(&episodeModel{}).Select("stage, count(*) as count").Group("stage").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[domain.Stage]int, len(rows))
	for _, row := range rows {
		out[domain.Stage(row.Stage)] = row.Count
	}
	return out, nil
}

func mapEpisodes(rows []episodeModel) ([]domain.Episode, error) {
	out := make([]domain.Episode, 0, len(rows))
	for _, row := range rows {
		ep, err := fromEpisodeModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, nil
}

var _ ports.EpisodeStore = (*episodeStore)(nil)
