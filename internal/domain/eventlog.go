package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// EventRecord is an immutable entry of an episode's log.
type EventRecord struct {
	EventID    string       `json:"event_id"`
	EpisodeID  string       `json:"episode_id"`
	Sequence   int64        `json:"sequence"`
	Type       EventType    `json:"event_type"`
	FromStage  Stage        `json:"from_stage"`
	ToStage    Stage        `json:"to_stage"`
	OccurredAt time.Time    `json:"occurred_at"`
	RecordedAt time.Time    `json:"recorded_at"`
	ActorID    string       `json:"actor_id,omitempty"`
	ActorRole  string       `json:"actor_role,omitempty"`
	Payload    EventPayload `json:"payload"`
	PrevHash   string       `json:"prev_hash"`
	Hash       string       `json:"hash"`
}

func (r EventRecord) Advanced() bool {
	return r.FromStage != r.ToStage
}

type hashedRecord struct {
	EventID    string       `json:"event_id"`
	EpisodeID  string       `json:"episode_id"`
	Sequence   int64        `json:"sequence"`
	Type       EventType    `json:"event_type"`
	FromStage  Stage        `json:"from_stage"`
	ToStage    Stage        `json:"to_stage"`
	OccurredAt string       `json:"occurred_at"`
	RecordedAt string       `json:"recorded_at"`
	ActorID    string       `json:"actor_id"`
	ActorRole  string       `json:"actor_role"`
	Payload    EventPayload `json:"payload"`
	PrevHash   string       `json:"prev_hash"`
}

// ComputeHash returns the hex sha256 of the record's canonical JSON form,
// excluding the Hash field itself.
func ComputeHash(r EventRecord) string {
	b, err := json.Marshal(hashedRecord{
		EventID:    r.EventID,
		EpisodeID:  r.EpisodeID,
		Sequence:   r.Sequence,
		Type:       r.Type,
		FromStage:  r.FromStage,
		ToStage:    r.ToStage,
		OccurredAt: r.OccurredAt.UTC().Format(time.RFC3339Nano),
		RecordedAt: r.RecordedAt.UTC().Format(time.RFC3339Nano),
		ActorID:    r.ActorID,
		ActorRole:  r.ActorRole,
		Payload:    r.Payload,
		PrevHash:   r.PrevHash,
	})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

type ChainError struct {
	Sequence int64
	Reason   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("%s at sequence %d: %s", ErrChainBroken, e.Sequence, e.Reason)
}

func (e *ChainError) Unwrap() error {
	return ErrChainBroken
}

// VerifyChain checks sequence contiguity and hash links of an ordered log.
func VerifyChain(records []EventRecord) error {
	prev := ""
	for i, rec := range records {
		want := int64(i + 1)
		if rec.Sequence != want {
			return &ChainError{Sequence: rec.Sequence, Reason: fmt.Sprintf("expected sequence %d", want)}
		}
		if rec.PrevHash != prev {
			return &ChainError{Sequence: rec.Sequence, Reason: "previous hash mismatch"}
		}
		if ComputeHash(rec) != rec.Hash {
			return &ChainError{Sequence: rec.Sequence, Reason: "content hash mismatch"}
		}
		prev = rec.Hash
	}
	return nil
}

// Replay rebuilds an episode from its verified log. Guards are not
// re-evaluated; each recorded edge must exist in the transition table.
func (m *Machine) Replay(records []EventRecord) (Episode, error) {
	if len(records) == 0 {
		return Episode{}, fmt.Errorf("%w: empty event log", ErrNotFound)
	}
	if err := VerifyChain(records); err != nil {
		return Episode{}, err
	}
	first := records[0]
	if first.Type != EventEpisodeOpened {
		return Episode{}, &ChainError{Sequence: first.Sequence, Reason: "log does not start with " + string(EventEpisodeOpened)}
	}
	ep := NewEpisode(first.EpisodeID, first.Payload.PatientID, first.OccurredAt)
	ep.Version = first.Sequence
	ep.LastEventHash = first.Hash
	ep.UpdatedAt = first.RecordedAt

	for _, rec := range records[1:] {
		if rec.EpisodeID != ep.ID {
			return Episode{}, &ChainError{Sequence: rec.Sequence, Reason: "record belongs to another episode"}
		}
		if rec.FromStage != ep.Stage {
			return Episode{}, &ChainError{Sequence: rec.Sequence, Reason: fmt.Sprintf("from stage %s but episode is %s", rec.FromStage, ep.Stage)}
		}
		if ep.Stage.Terminal() || !m.allows(rec.FromStage, rec.ToStage, rec.Type) {
			return Episode{}, &ChainError{Sequence: rec.Sequence, Reason: fmt.Sprintf("no edge %s -> %s on %s", rec.FromStage, rec.ToStage, rec.Type)}
		}
		applyEffect(&ep.Facts, DomainEvent{
			ID:         rec.EventID,
			EpisodeID:  rec.EpisodeID,
			Type:       rec.Type,
			OccurredAt: rec.OccurredAt,
			Payload:    rec.Payload,
		})
		ep.Stage = rec.ToStage
		ep.Version = rec.Sequence
		ep.LastEventHash = rec.Hash
		ep.UpdatedAt = rec.RecordedAt
		if ep.Stage.Terminal() {
			closedAt := rec.OccurredAt
			ep.ClosedAt = &closedAt
		}
	}
	return ep, nil
}

// SnapshotDiff lists the fields in which a stored snapshot differs from the
// episode rebuilt from its log. Timestamps compare by instant.
func SnapshotDiff(stored, replayed Episode) []string {
	a, b := stored.inUTC(), replayed.inUTC()
	var diff []string
	check := func(field string, x, y any) {
		xb, errX := json.Marshal(x)
		yb, errY := json.Marshal(y)
		if errX != nil || errY != nil || !bytes.Equal(xb, yb) {
			diff = append(diff, field)
		}
	}
	check("episode_id", a.ID, b.ID)
	check("patient_id", a.PatientID, b.PatientID)
	check("stage", a.Stage, b.Stage)
	check("version", a.Version, b.Version)
	check("opened_at", a.OpenedAt, b.OpenedAt)
	check("updated_at", a.UpdatedAt, b.UpdatedAt)
	check("closed_at", a.ClosedAt, b.ClosedAt)
	check("last_event_hash", a.LastEventHash, b.LastEventHash)
	check("facts", a.Facts, b.Facts)
	return diff
}

func (e Episode) inUTC() Episode {
	out := e.clone()
	out.OpenedAt = out.OpenedAt.UTC()
	out.UpdatedAt = out.UpdatedAt.UTC()
	if out.ClosedAt != nil {
		t := out.ClosedAt.UTC()
		out.ClosedAt = &t
	}
	for kind, at := range out.Facts.Consents {
		out.Facts.Consents[kind] = at.UTC()
	}
	if out.Facts.NextRecallAt != nil {
		t := out.Facts.NextRecallAt.UTC()
		out.Facts.NextRecallAt = &t
	}
	return out
}
