package application_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/wiye1050/gestionclinica-sub004/internal/adapters/memory"
	"github.com/wiye1050/gestionclinica-sub004/internal/adapters/storage"
	"github.com/wiye1050/gestionclinica-sub004/internal/application"
	"github.com/wiye1050/gestionclinica-sub004/internal/contracts"
	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
)

var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []ports.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg ports.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) templates() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, msg := range n.sent {
		out = append(out, msg.Template)
	}
	return out
}

type recordingDLQ struct {
	mu      sync.Mutex
	records []contracts.DLQRecord
}

func (d *recordingDLQ) PublishDLQ(_ context.Context, record contracts.DLQRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, record)
	return nil
}

func (d *recordingDLQ) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records)
}

type reversingEncryption struct{}

func (reversingEncryption) Encrypt(subjectID, value string) ([]byte, error) {
	out := []byte(value)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return append([]byte(subjectID+":"), out...), nil
}

func (reversingEncryption) Decrypt(string, []byte) (string, error) { return "", nil }

type fixture struct {
	t        *testing.T
	ctx      context.Context
	svc      *application.Service
	repos    *memory.Repositories
	clock    *clock
	notifier *recordingNotifier
	dlq      *recordingDLQ

	clinician  application.Actor
	reception  application.Actor
	supervisor application.Actor
	trainee    application.Actor
}

func newFixture(t *testing.T, tweak ...func(*application.Config)) *fixture {
	t.Helper()
	files, err := storage.NewLocalFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	cfg := application.Config{}
	for _, fn := range tweak {
		fn(&cfg)
	}
	f := &fixture{
		t:          t,
		ctx:        context.Background(),
		repos:      memory.NewRepositories(),
		clock:      &clock{now: baseTime},
		notifier:   &recordingNotifier{},
		dlq:        &recordingDLQ{},
		clinician:  application.Actor{SubjectID: "dr-house", Role: domain.RoleClinician, RequestID: "req-1"},
		reception:  application.Actor{SubjectID: "desk-1", Role: domain.RoleReception},
		supervisor: application.Actor{SubjectID: "sup-1", Role: domain.RoleSupervisor},
		trainee:    application.Actor{SubjectID: "trainee-1", Role: domain.RoleTrainee},
	}
	f.svc = application.NewService(application.Dependencies{
		Config:      cfg,
		Episodes:    f.repos.Episodes,
		Documents:   f.repos.Documents,
		Files:       files,
		Idempotency: f.repos.Idempotency,
		EventDedup:  f.repos.EventDedup,
		Outbox:      f.repos.Outbox,
		DLQ:         f.dlq,
		Notifier:    f.notifier,
		Encryption:  reversingEncryption{},
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:       f.clock.Now,
	})
	return f
}

func (f *fixture) patient(first, last string) domain.Patient {
	f.t.Helper()
	res, err := f.svc.CreatePatient(f.ctx, f.reception, application.CreatePatientInput{
		FirstName: first,
		LastName:  last,
		BirthDate: "1980-05-01",
		Email:     "patient@example.com",
	})
	if err != nil {
		f.t.Fatalf("create patient: %v", err)
	}
	return res.Patient
}

func (f *fixture) service(code string, priceCents int64) domain.ServiceItem {
	f.t.Helper()
	item, err := f.svc.CreateServiceItem(f.ctx, f.clinician, application.ServiceItemInput{
		Code:            code,
		Name:            "Service " + code,
		PriceCents:      priceCents,
		Currency:        "EUR",
		DefaultSessions: 2,
	})
	if err != nil {
		f.t.Fatalf("create service: %v", err)
	}
	return item
}

func (f *fixture) open(patientID string) domain.Episode {
	f.t.Helper()
	ep, err := f.svc.OpenEpisode(f.ctx, f.clinician, application.OpenEpisodeInput{PatientID: patientID})
	if err != nil {
		f.t.Fatalf("open episode: %v", err)
	}
	return ep
}

func (f *fixture) apply(actor application.Actor, episodeID string, eventType domain.EventType, payload domain.EventPayload) (application.TransitionResult, error) {
	f.clock.Advance(time.Minute)
	return f.svc.ApplyEvent(f.ctx, actor, episodeID, application.ApplyEventInput{Type: eventType, Payload: payload})
}

func (f *fixture) must(episodeID string, eventType domain.EventType, payload domain.EventPayload, want domain.Stage) domain.Episode {
	f.t.Helper()
	res, err := f.apply(f.clinician, episodeID, eventType, payload)
	if err != nil {
		f.t.Fatalf("%s: %v", eventType, err)
	}
	if res.Episode.Stage != want {
		f.t.Fatalf("%s: stage %s, want %s", eventType, res.Episode.Stage, want)
	}
	return res.Episode
}

// appointment books a one-hour slot with dr-house, offset by slot hours.
func (f *fixture) appointment(patientID string, slot int) domain.Appointment {
	f.t.Helper()
	start := f.clock.Now().Add(time.Duration(24+slot) * time.Hour)
	appt, err := f.svc.ScheduleAppointment(f.ctx, f.reception, application.ScheduleAppointmentInput{
		PatientID:      patientID,
		PractitionerID: "dr-house",
		StartsAt:       start,
		EndsAt:         start.Add(time.Hour),
	})
	if err != nil {
		f.t.Fatalf("schedule appointment: %v", err)
	}
	return appt
}

// toExploration walks a fresh episode up to a confirmed appointment.
func (f *fixture) toExploration(patient domain.Patient, svc domain.ServiceItem) (domain.Episode, domain.Appointment) {
	f.t.Helper()
	ep := f.open(patient.PatientID)
	f.must(ep.ID, domain.EventConsentSigned, domain.EventPayload{ConsentKind: domain.ConsentPrivacy}, domain.StageCapture)
	f.must(ep.ID, domain.EventIntakeCompleted, domain.EventPayload{}, domain.StageTriage)
	f.must(ep.ID, domain.EventTriageRouted, domain.EventPayload{TriageRoute: domain.TriageRouteInternal, ServiceID: svc.ServiceID}, domain.StageScheduling)
	appt, err := f.svc.ScheduleAppointment(f.ctx, f.reception, application.ScheduleAppointmentInput{
		PatientID:      patient.PatientID,
		EpisodeID:      ep.ID,
		ServiceID:      svc.ServiceID,
		PractitionerID: "dr-house",
		StartsAt:       f.clock.Now().Add(24 * time.Hour),
		EndsAt:         f.clock.Now().Add(25 * time.Hour),
	})
	if err != nil {
		f.t.Fatalf("schedule appointment: %v", err)
	}
	res, err := f.svc.ConfirmAppointment(f.ctx, f.reception, appt.AppointmentID)
	if err != nil {
		f.t.Fatalf("confirm appointment: %v", err)
	}
	if res.Transition == nil || res.Transition.Episode.Stage != domain.StageExploration {
		f.t.Fatalf("confirmation did not move episode to exploration: %+v", res.Transition)
	}
	return res.Transition.Episode, res.Appointment
}
