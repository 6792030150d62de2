package application_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/wiye1050/gestionclinica-sub004/internal/application"
	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
)

func withKey(actor application.Actor, key string) application.Actor {
	actor.IdempotencyKey = key
	return actor
}

func TestApplyEventRetryWithIdempotencyKeyAppendsOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ep := f.open(f.patient("Ana", "Lopez").PatientID)
	actor := withKey(f.clinician, "consent-retry-1")
	input := application.ApplyEventInput{
		Type:    domain.EventConsentSigned,
		Payload: domain.EventPayload{ConsentKind: domain.ConsentPrivacy},
	}

	first, err := f.svc.ApplyEvent(f.ctx, actor, ep.ID, input)
	if err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	f.clock.Advance(time.Minute)
	second, err := f.svc.ApplyEvent(f.ctx, actor, ep.ID, input)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if second.Record.Sequence != first.Record.Sequence || second.Record.EventID != first.Record.EventID {
		t.Fatalf("retry produced a new record: first=%+v second=%+v", first.Record, second.Record)
	}
	log, err := f.svc.GetEventLog(f.ctx, f.clinician, ep.ID)
	if err != nil {
		t.Fatalf("event log: %v", err)
	}
	if len(log) != 2 {
		t.Fatalf("log length = %d, want 2", len(log))
	}

	input.Type = domain.EventIntakeCompleted
	input.Payload = domain.EventPayload{}
	if _, err := f.svc.ApplyEvent(f.ctx, actor, ep.ID, input); !errors.Is(err, domain.ErrIdempotencyConflict) {
		t.Fatalf("expected key reuse with another event to conflict, got %v", err)
	}
}

func TestAdjustStockRetryWithIdempotencyKeyAppliesOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	item, err := f.svc.CreateInventoryItem(f.ctx, f.clinician, application.InventoryItemInput{SKU: "gauze", Name: "Gauze", Quantity: 10, ReorderLevel: 2})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	actor := withKey(f.clinician, "stock-retry-1")
	for attempt := 0; attempt < 2; attempt++ {
		got, err := f.svc.AdjustStock(f.ctx, actor, item.ItemID, -3, "session")
		if err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		if got.Quantity != 7 {
			t.Fatalf("attempt %d: quantity = %d, want 7", attempt, got.Quantity)
		}
	}
	if _, err := f.svc.AdjustStock(f.ctx, actor, item.ItemID, -4, "session"); !errors.Is(err, domain.ErrIdempotencyConflict) {
		t.Fatalf("expected key reuse with another delta to conflict, got %v", err)
	}
	stored, err := f.svc.ListInventory(f.ctx, f.clinician, 10, 0)
	if err != nil {
		t.Fatalf("list inventory: %v", err)
	}
	if len(stored) != 1 || stored[0].Quantity != 7 {
		t.Fatalf("stored stock = %+v, want quantity 7", stored)
	}
}

func TestMutationsRejectReusedIdempotencyKey(t *testing.T) {
	t.Parallel()

	strPtr := func(v string) *string { return &v }

	cases := []struct {
		name string
		// run performs the mutation; variant 1 sends a different request.
		run func(f *fixture, actor application.Actor, variant int) error
	}{
		{
			name: "update patient",
			run: func(f *fixture, actor application.Actor, variant int) error {
				p := f.patient("Ana", "Lopez")
				_, err := f.svc.UpdatePatient(f.ctx, actor, p.PatientID, application.UpdatePatientInput{Phone: strPtr("+34 600 00" + string(rune('0'+variant)) + " 00")})
				return err
			},
		},
		{
			name: "archive patient",
			run: func(f *fixture, actor application.Actor, _ int) error {
				_, err := f.svc.ArchivePatient(f.ctx, actor, f.patient("Luis", "Garcia").PatientID)
				return err
			},
		},
		{
			name: "update service",
			run: func(f *fixture, actor application.Actor, variant int) error {
				svc := f.service("SVC"+string(rune('A'+variant)), 1000)
				_, err := f.svc.UpdateServiceItem(f.ctx, actor, svc.ServiceID, application.UpdateServiceItemInput{Name: strPtr("Renamed")})
				return err
			},
		},
		{
			name: "confirm appointment",
			run: func(f *fixture, actor application.Actor, variant int) error {
				appt := f.appointment(f.patient("Ana", "Lopez").PatientID, variant)
				_, err := f.svc.ConfirmAppointment(f.ctx, actor, appt.AppointmentID)
				return err
			},
		},
		{
			name: "cancel appointment",
			run: func(f *fixture, actor application.Actor, variant int) error {
				appt := f.appointment(f.patient("Ana", "Lopez").PatientID, variant)
				_, err := f.svc.CancelAppointment(f.ctx, actor, appt.AppointmentID, "patient called")
				return err
			},
		},
		{
			name: "create and score evaluation",
			run: func(f *fixture, actor application.Actor, variant int) error {
				ep := f.open(f.patient("Eva"+string(rune('a'+variant)), "Ruiz").PatientID)
				evaluation, err := f.svc.CreateEvaluation(f.ctx, f.supervisor, ep.ID, "trainee-1")
				if err != nil {
					return err
				}
				_, err = f.svc.ScoreEvaluation(f.ctx, actor, evaluation.EvaluationID, map[string]int{"anamnesis": 3 + variant}, "")
				return err
			},
		},
		{
			name: "upload consent document",
			run: func(f *fixture, actor application.Actor, variant int) error {
				kind := []string{"privacy", "treatment"}[variant]
				_, err := f.svc.UploadConsentDocument(f.ctx, actor, application.UploadConsentInput{
					PatientID:   f.patient("Ana", "Lopez").PatientID,
					Kind:        kind,
					ContentType: "application/pdf",
					Body:        strings.NewReader("%PDF-1.7 consent"),
				})
				return err
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			actor := withKey(f.supervisor, "reused-key")
			if err := tc.run(f, actor, 0); err != nil {
				t.Fatalf("first request: %v", err)
			}
			if err := tc.run(f, actor, 1); !errors.Is(err, domain.ErrIdempotencyConflict) {
				t.Fatalf("expected idempotency conflict, got %v", err)
			}
		})
	}
}
