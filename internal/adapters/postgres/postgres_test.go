package postgres

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
	"gorm.io/gorm"
)

func TestEpisodeRowsKeepTheChainVerifiable(t *testing.T) {
	t.Parallel()
	opened := time.Date(2026, 2, 3, 10, 0, 0, 123456789, time.FixedZone("CET", 3600))
	machine := domain.NewMachine().WithClock(func() time.Time { return opened })
	ep, rec, err := machine.Open(domain.DomainEvent{
		ID:         "ev-1",
		EpisodeID:  "ep-1",
		Type:       domain.EventEpisodeOpened,
		OccurredAt: opened,
		ActorID:    "dr-house",
		Payload:    domain.EventPayload{PatientID: "p-1", Notes: "walk-in"},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	row, err := toEpisodeModel(ep)
	if err != nil {
		t.Fatalf("episode model: %v", err)
	}
	back, err := fromEpisodeModel(row)
	if err != nil {
		t.Fatalf("episode from model: %v", err)
	}
	if !reflect.DeepEqual(back, ep) {
		t.Fatalf("episode changed\n got=%+v\nwant=%+v", back, ep)
	}

	eventRow, err := toEventModel(rec)
	if err != nil {
		t.Fatalf("event model: %v", err)
	}
	eventRow.RecordedAt = eventRow.RecordedAt.In(time.FixedZone("X", -5*3600))
	restored, err := fromEventModel(eventRow)
	if err != nil {
		t.Fatalf("event from model: %v", err)
	}
	if err := domain.VerifyChain([]domain.EventRecord{restored}); err != nil {
		t.Fatalf("chain broken after round trip: %v", err)
	}
}

func TestDocumentStoreRejectsUnsafeFields(t *testing.T) {
	t.Parallel()
	store := &documentStore{db: &gorm.DB{}}
	_, err := store.List(context.Background(), ports.DocumentQuery{
		Collection: ports.CollectionPatients,
		Where:      map[string]string{"last_name') OR 1=1 --": "x"},
	})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid filter field, got %v", err)
	}
	if err := store.Put(context.Background(), ports.CollectionPatients, "p-1", []byte("{broken"), time.Now()); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid json, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()
	cases := map[string]struct {
		err  error
		want bool
	}{
		"translated": {gorm.ErrDuplicatedKey, true},
		"raw":        {errors.New(`ERROR: duplicate key value violates unique constraint "episodes_pkey"`), true},
		"other":      {errors.New("connection refused"), false},
		"nil":        {nil, false},
	}
	for name, tc := range cases {
		if got := isUniqueViolation(tc.err); got != tc.want {
			t.Fatalf("%s: got %v want %v", name, got, tc.want)
		}
	}
}
