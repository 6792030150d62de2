package memory

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func openEpisode(t *testing.T, m *domain.Machine, id, patientID string) (domain.Episode, domain.EventRecord) {
	t.Helper()
	ep, rec, err := m.Open(domain.DomainEvent{
		ID:         "ev-open-" + id,
		EpisodeID:  id,
		Type:       domain.EventEpisodeOpened,
		OccurredAt: t0,
		ActorID:    "user-1",
		Payload:    domain.EventPayload{PatientID: patientID},
	})
	if err != nil {
		t.Fatalf("open episode: %v", err)
	}
	return ep, rec
}

func TestEpisodeStoreRejectsSecondOpenEpisodeForPatient(t *testing.T) {
	t.Parallel()
	repos := NewRepositories()
	m := domain.NewMachine()
	ctx := context.Background()

	ep, rec := openEpisode(t, m, "ep-1", "pat-1")
	if err := repos.Episodes.Create(ctx, ep, rec, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	other, otherRec := openEpisode(t, m, "ep-2", "pat-1")
	if err := repos.Episodes.Create(ctx, other, otherRec, nil); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestEpisodeStoreAppendChecksVersion(t *testing.T) {
	t.Parallel()
	repos := NewRepositories()
	m := domain.NewMachine()
	ctx := context.Background()

	ep, rec := openEpisode(t, m, "ep-1", "pat-1")
	if err := repos.Episodes.Create(ctx, ep, rec, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	next, nextRec, err := m.Apply(ep, domain.DomainEvent{
		ID:         "ev-consent",
		EpisodeID:  "ep-1",
		Type:       domain.EventConsentSigned,
		OccurredAt: t0.Add(time.Minute),
		ActorID:    "user-1",
		Payload:    domain.EventPayload{ConsentKind: domain.ConsentPrivacy},
	}, domain.References{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := repos.Episodes.Append(ctx, next, nextRec, ep.Version+1, nil); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if err := repos.Episodes.Append(ctx, next, nextRec, ep.Version, nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := repos.Episodes.Append(ctx, next, nextRec, next.Version, nil); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected duplicate event conflict, got %v", err)
	}
	events, err := repos.Episodes.Events(ctx, "ep-1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 || events[1].Sequence != 2 {
		t.Fatalf("unexpected log %+v", events)
	}
}

func TestEpisodeStoreEnqueuesOutboxWithWrite(t *testing.T) {
	t.Parallel()
	repos := NewRepositories()
	m := domain.NewMachine()
	ctx := context.Background()

	ep, rec := openEpisode(t, m, "ep-1", "pat-1")
	outbox := []ports.OutboxEvent{{EventType: domain.EventEpisodeStageChanged, PartitionKey: "ep-1", OccurredAt: t0}}
	outbox[0].EventID[0] = 1
	if err := repos.Episodes.Create(ctx, ep, rec, outbox); err != nil {
		t.Fatalf("create: %v", err)
	}
	pending, err := repos.Outbox.FetchUnpublished(ctx, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(pending) != 1 || pending[0].PartitionKey != "ep-1" {
		t.Fatalf("unexpected outbox %+v", pending)
	}
	if err := repos.Outbox.MarkPublished(ctx, pending[0].OutboxID, t0); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	pending, _ = repos.Outbox.FetchUnpublished(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("expected empty outbox, got %d", len(pending))
	}
}

func TestDocumentStoreFiltersAndOrders(t *testing.T) {
	t.Parallel()
	store := NewDocumentStore()
	ctx := context.Background()
	docs := map[string]string{
		"a": `{"name":"Zoe","active":true,"price":300}`,
		"b": `{"name":"Ana","active":false,"price":100}`,
		"c": `{"name":"Luis","active":true,"price":20}`,
	}
	for _, id := range []string{"a", "b", "c"} {
		if err := store.Put(ctx, "services", id, []byte(docs[id]), t0); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}

	rows, err := store.List(ctx, ports.DocumentQuery{Collection: "services", Where: map[string]string{"active": "true"}, OrderBy: "price"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 || string(rows[0]) != docs["c"] || string(rows[1]) != docs["a"] {
		t.Fatalf("unexpected rows %q", rows)
	}

	rows, err = store.List(ctx, ports.DocumentQuery{Collection: "services", OrderBy: "name", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || string(rows[0]) != docs["c"] {
		t.Fatalf("unexpected page %q", rows)
	}

	if _, err := store.Get(ctx, "services", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.Put(ctx, "services", "bad", []byte("{"), t0); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestIdempotencyRepositoryLifecycle(t *testing.T) {
	t.Parallel()
	repos := NewRepositories()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := repos.Idempotency.Reserve(ctx, "k", "h1", now.Add(time.Hour)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := repos.Idempotency.Reserve(ctx, "k", "h2", now.Add(time.Hour)); !errors.Is(err, domain.ErrIdempotencyConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := repos.Idempotency.Complete(ctx, "k", 200, []byte(`{"ok":true}`), now); err != nil {
		t.Fatalf("complete: %v", err)
	}
	rec, err := repos.Idempotency.Get(ctx, "k", now)
	if err != nil || rec == nil {
		t.Fatalf("get: %v %v", rec, err)
	}
	if rec.Status != "completed" || string(rec.ResponseBody) != `{"ok":true}` {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec, _ := repos.Idempotency.Get(ctx, "k", now.Add(2*time.Hour)); rec != nil {
		t.Fatalf("expected expired record to be dropped")
	}
}

func TestEpisodeStoreListsNewestFirstWithIDTiebreak(t *testing.T) {
	t.Parallel()
	repos := NewRepositories()
	m := domain.NewMachine()
	ctx := context.Background()

	for i, id := range []string{"ep-b", "ep-a", "ep-c"} {
		ep, rec := openEpisode(t, m, id, "pat-"+id)
		if id == "ep-c" {
			ep.OpenedAt = t0.Add(time.Hour)
		}
		if err := repos.Episodes.Create(ctx, ep, rec, nil); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	ids := func(filter ports.EpisodeFilter) []string {
		t.Helper()
		eps, err := repos.Episodes.List(ctx, filter)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		out := make([]string, 0, len(eps))
		for _, ep := range eps {
			out = append(out, ep.ID)
		}
		return out
	}

	if got := ids(ports.EpisodeFilter{}); !slices.Equal(got, []string{"ep-c", "ep-a", "ep-b"}) {
		t.Fatalf("order = %v", got)
	}
	if got := ids(ports.EpisodeFilter{Limit: 1, Offset: 1}); !slices.Equal(got, []string{"ep-a"}) {
		t.Fatalf("page = %v", got)
	}

	repos.Episodes.TamperSnapshot("ep-a", func(ep *domain.Episode) { ep.Stage = domain.StageCancelled })
	if got := ids(ports.EpisodeFilter{OpenOnly: true}); !slices.Equal(got, []string{"ep-c", "ep-b"}) {
		t.Fatalf("open only = %v", got)
	}
}

func TestEventDedupPurgeExpired(t *testing.T) {
	t.Parallel()
	repos := NewRepositories()
	ctx := context.Background()

	if err := repos.EventDedup.MarkProcessed(ctx, "evt-old", "consent.form_signed", t0); err != nil {
		t.Fatalf("mark old: %v", err)
	}
	if err := repos.EventDedup.MarkProcessed(ctx, "evt-new", "consent.form_signed", t0.Add(time.Hour)); err != nil {
		t.Fatalf("mark new: %v", err)
	}
	purged, err := repos.EventDedup.PurgeExpired(ctx, t0)
	if err != nil || purged != 1 {
		t.Fatalf("purged=%d err=%v, want 1", purged, err)
	}
	if dup, _ := repos.EventDedup.IsDuplicate(ctx, "evt-new", t0); !dup {
		t.Fatalf("live marker was purged")
	}
	if dup, _ := repos.EventDedup.IsDuplicate(ctx, "evt-old", t0.Add(-time.Minute)); dup {
		t.Fatalf("expired marker survived purge")
	}
}
