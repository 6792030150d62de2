package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
)

func toEpisodeModel(ep domain.Episode) (episodeModel, error) {
	facts, err := json.Marshal(ep.Facts)
	if err != nil {
		return episodeModel{}, fmt.Errorf("encode facts: %w", err)
	}
	return episodeModel{
		EpisodeID:     ep.ID,
		PatientID:     ep.PatientID,
		Stage:         string(ep.Stage),
		Version:       ep.Version,
		Facts:         string(facts),
		OpenedAt:      ep.OpenedAt,
		UpdatedAt:     ep.UpdatedAt,
		ClosedAt:      ep.ClosedAt,
		NextRecallAt:  ep.Facts.NextRecallAt,
		LastEventHash: ep.LastEventHash,
	}, nil
}

func fromEpisodeModel(row episodeModel) (domain.Episode, error) {
	var facts domain.Facts
	if err := json.Unmarshal([]byte(row.Facts), &facts); err != nil {
		return domain.Episode{}, fmt.Errorf("decode facts: %w", err)
	}
	return domain.Episode{
		ID:            row.EpisodeID,
		PatientID:     row.PatientID,
		Stage:         domain.Stage(row.Stage),
		Version:       row.Version,
		Facts:         facts,
		OpenedAt:      row.OpenedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
		ClosedAt:      utcPtr(row.ClosedAt),
		LastEventHash: row.LastEventHash,
	}, nil
}

func toEventModel(rec domain.EventRecord) (episodeEventModel, error) {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return episodeEventModel{}, fmt.Errorf("encode payload: %w", err)
	}
	return episodeEventModel{
		EventID:    rec.EventID,
		EpisodeID:  rec.EpisodeID,
		Sequence:   rec.Sequence,
		EventType:  string(rec.Type),
		FromStage:  string(rec.FromStage),
		ToStage:    string(rec.ToStage),
		OccurredAt: rec.OccurredAt,
		RecordedAt: rec.RecordedAt,
		ActorID:    rec.ActorID,
		ActorRole:  rec.ActorRole,
		Payload:    string(payload),
		PrevHash:   rec.PrevHash,
		Hash:       rec.Hash,
	}, nil
}

func fromEventModel(row episodeEventModel) (domain.EventRecord, error) {
	var payload domain.EventPayload
	if err := json.Unmarshal([]byte(row.Payload), &payload); err != nil {
		return domain.EventRecord{}, fmt.Errorf("decode payload: %w", err)
	}
	return domain.EventRecord{
		EventID:    row.EventID,
		EpisodeID:  row.EpisodeID,
		Sequence:   row.Sequence,
		Type:       domain.EventType(row.EventType),
		FromStage:  domain.Stage(row.FromStage),
		ToStage:    domain.Stage(row.ToStage),
		OccurredAt: row.OccurredAt.UTC(),
		RecordedAt: row.RecordedAt.UTC(),
		ActorID:    row.ActorID,
		ActorRole:  row.ActorRole,
		Payload:    payload,
		PrevHash:   row.PrevHash,
		Hash:       row.Hash,
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
