package domain_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
)

var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type journey struct {
	t       *testing.T
	machine *domain.Machine
	ep      domain.Episode
	log     []domain.EventRecord
	refs    domain.References
	seq     int
	clock   time.Time
}

func newJourney(t *testing.T) *journey {
	t.Helper()
	j := &journey{t: t, clock: baseTime}
	j.machine = domain.NewMachine().WithClock(func() time.Time { return j.clock })
	j.refs = domain.References{
		Patient: &domain.Patient{PatientID: "pat-1", FirstName: "Ana", LastName: "Ruiz", BirthDate: "1990-04-12", Phone: "+34 600 000 000"},
		Services: map[string]domain.ServiceItem{
			"svc-physio": {ServiceID: "svc-physio", Code: "PHY", Name: "Physio", PriceCents: 4500, Currency: "EUR", Active: true},
			"svc-xray":   {ServiceID: "svc-xray", Code: "XR", Name: "X-ray", PriceCents: 3000, Currency: "EUR", Active: true},
			"svc-old":    {ServiceID: "svc-old", Code: "OLD", Name: "Retired", PriceCents: 100, Currency: "EUR", Active: false},
		},
	}
	ep, rec, err := j.machine.Open(domain.DomainEvent{
		ID:         "evt-0",
		EpisodeID:  "ep-1",
		Type:       domain.EventEpisodeOpened,
		OccurredAt: baseTime,
		Payload:    domain.EventPayload{PatientID: "pat-1"},
	})
	if err != nil {
		t.Fatalf("open episode: %v", err)
	}
	j.ep = ep
	j.log = append(j.log, rec)
	return j
}

func (j *journey) event(typ domain.EventType, p domain.EventPayload) domain.DomainEvent {
	j.seq++
	j.clock = j.clock.Add(time.Hour)
	return domain.DomainEvent{
		ID:         fmt.Sprintf("evt-%d", j.seq),
		EpisodeID:  j.ep.ID,
		Type:       typ,
		OccurredAt: j.clock,
		ActorID:    "user-1",
		ActorRole:  domain.RoleClinician,
		Payload:    p,
	}
}

func (j *journey) try(typ domain.EventType, p domain.EventPayload) error {
	next, rec, err := j.machine.Apply(j.ep, j.event(typ, p), j.refs)
	if err != nil {
		return err
	}
	j.ep = next
	j.log = append(j.log, rec)
	return nil
}

func (j *journey) must(typ domain.EventType, p domain.EventPayload, want domain.Stage) {
	j.t.Helper()
	if err := j.try(typ, p); err != nil {
		j.t.Fatalf("%s from %s: %v", typ, j.ep.Stage, err)
	}
	if j.ep.Stage != want {
		j.t.Fatalf("after %s: stage=%s want=%s", typ, j.ep.Stage, want)
	}
}

func (j *journey) toScheduling() {
	j.t.Helper()
	j.must(domain.EventConsentSigned, domain.EventPayload{ConsentKind: domain.ConsentPrivacy}, domain.StageCapture)
	j.must(domain.EventIntakeCompleted, domain.EventPayload{}, domain.StageTriage)
	j.must(domain.EventTriageRouted, domain.EventPayload{TriageRoute: domain.TriageRouteInternal, ServiceID: "svc-physio"}, domain.StageScheduling)
}

func (j *journey) confirmAppointment(id string) {
	j.t.Helper()
	j.refs.Appointment = &domain.Appointment{AppointmentID: id, PatientID: "pat-1", Status: domain.AppointmentStatusConfirmed}
	j.must(domain.EventAppointmentConfirmed, domain.EventPayload{AppointmentID: id}, domain.StageExploration)
}

func (j *journey) toBudget() {
	j.t.Helper()
	j.toScheduling()
	j.confirmAppointment("appt-1")
	j.must(domain.EventExplorationCompleted, domain.EventPayload{Findings: "lumbar pain"}, domain.StageDiagnosis)
	j.must(domain.EventDiagnosisRecorded, domain.EventPayload{DiagnosisCodes: []string{"M54.5"}}, domain.StagePlan)
	j.must(domain.EventPlanProposed, domain.EventPayload{PlanItems: []domain.PlanItem{{ServiceID: "svc-physio", Quantity: 2}}}, domain.StageBudget)
	j.must(domain.EventBudgetIssued, domain.EventPayload{BudgetTotalCents: 9000, Currency: "eur"}, domain.StageBudget)
}

func TestFullJourneyReachesMaintenanceAndCloses(t *testing.T) {
	t.Parallel()

	j := newJourney(t)
	j.toBudget()
	j.must(domain.EventBudgetAccepted, domain.EventPayload{}, domain.StageBudget)
	j.must(domain.EventConsentSigned, domain.EventPayload{ConsentKind: domain.ConsentTreatment}, domain.StageTreatment)
	j.must(domain.EventTreatmentSessionComplete, domain.EventPayload{SessionNumber: 1}, domain.StageTreatment)
	j.must(domain.EventTreatmentSessionComplete, domain.EventPayload{SessionNumber: 2}, domain.StageFollowUp)
	j.must(domain.EventFollowUpCompleted, domain.EventPayload{Outcome: domain.OutcomeResolved}, domain.StageDischarge)
	j.must(domain.EventMaintenanceEnrolled, domain.EventPayload{RecallIntervalDays: 180}, domain.StageMaintenance)
	j.must(domain.EventEpisodeClosed, domain.EventPayload{}, domain.StageClosed)

	if j.ep.Version != int64(len(j.log)) {
		t.Fatalf("version=%d log=%d", j.ep.Version, len(j.log))
	}
	if j.ep.ClosedAt == nil {
		t.Fatalf("expected closed_at on terminal episode")
	}
	if err := j.try(domain.EventConsentSigned, domain.EventPayload{ConsentKind: domain.ConsentPrivacy}); !errors.Is(err, domain.ErrEpisodeClosed) {
		t.Fatalf("expected ErrEpisodeClosed, got %v", err)
	}
}

func TestGuardFailuresAreReportedTogether(t *testing.T) {
	t.Parallel()

	j := newJourney(t)
	j.refs.Patient = &domain.Patient{PatientID: "pat-1", FirstName: "Ana"}
	err := j.try(domain.EventIntakeCompleted, domain.EventPayload{})
	if !errors.Is(err, domain.ErrGuardRejected) {
		t.Fatalf("expected ErrGuardRejected, got %v", err)
	}
	var guardErr *domain.GuardError
	if !errors.As(err, &guardErr) {
		t.Fatalf("expected *GuardError, got %T", err)
	}
	if len(guardErr.Failed) != 2 || guardErr.Failed[0] != "patient_record_complete" || guardErr.Failed[1] != "privacy_consent_signed" {
		t.Fatalf("unexpected failed guards: %v", guardErr.Failed)
	}
	if j.ep.Stage != domain.StageCapture || j.ep.Version != 1 {
		t.Fatalf("rejected event must not change the episode: %+v", j.ep)
	}
}

func TestEventNotAcceptedInStage(t *testing.T) {
	t.Parallel()

	j := newJourney(t)
	err := j.try(domain.EventBudgetAccepted, domain.EventPayload{})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTriageReferralDischarges(t *testing.T) {
	t.Parallel()

	j := newJourney(t)
	j.must(domain.EventConsentSigned, domain.EventPayload{ConsentKind: domain.ConsentPrivacy}, domain.StageCapture)
	j.must(domain.EventIntakeCompleted, domain.EventPayload{}, domain.StageTriage)
	if err := j.try(domain.EventTriageRouted, domain.EventPayload{TriageRoute: domain.TriageRouteReferral}); !errors.Is(err, domain.ErrGuardRejected) {
		t.Fatalf("expected referral without destination to be rejected, got %v", err)
	}
	j.must(domain.EventTriageRouted, domain.EventPayload{TriageRoute: domain.TriageRouteReferral, ReferralDestination: "Hospital Central"}, domain.StageDischarge)
	if j.ep.Facts.ReferralDestination != "Hospital Central" {
		t.Fatalf("referral destination not recorded: %+v", j.ep.Facts)
	}
}

func TestTriageRejectsInactiveService(t *testing.T) {
	t.Parallel()

	j := newJourney(t)
	j.must(domain.EventConsentSigned, domain.EventPayload{ConsentKind: domain.ConsentPrivacy}, domain.StageCapture)
	j.must(domain.EventIntakeCompleted, domain.EventPayload{}, domain.StageTriage)
	err := j.try(domain.EventTriageRouted, domain.EventPayload{TriageRoute: domain.TriageRouteInternal, ServiceID: "svc-old"})
	var guardErr *domain.GuardError
	if !errors.As(err, &guardErr) || guardErr.Failed[0] != "triage_service_active" {
		t.Fatalf("expected triage_service_active failure, got %v", err)
	}
}

func TestAppointmentForAnotherPatientIsRejected(t *testing.T) {
	t.Parallel()

	j := newJourney(t)
	j.toScheduling()
	j.refs.Appointment = &domain.Appointment{AppointmentID: "appt-9", PatientID: "pat-2", Status: domain.AppointmentStatusConfirmed}
	if err := j.try(domain.EventAppointmentConfirmed, domain.EventPayload{AppointmentID: "appt-9"}); !errors.Is(err, domain.ErrGuardRejected) {
		t.Fatalf("expected guard rejection, got %v", err)
	}
}

func TestCancelledAppointmentReturnsToScheduling(t *testing.T) {
	t.Parallel()

	j := newJourney(t)
	j.toScheduling()
	j.confirmAppointment("appt-1")
	if err := j.try(domain.EventAppointmentCancelled, domain.EventPayload{AppointmentID: "appt-other"}); !errors.Is(err, domain.ErrGuardRejected) {
		t.Fatalf("expected mismatched cancellation to be rejected, got %v", err)
	}
	j.must(domain.EventAppointmentCancelled, domain.EventPayload{AppointmentID: "appt-1"}, domain.StageScheduling)
	if j.ep.Facts.AppointmentID != "" {
		t.Fatalf("active appointment should be cleared, got %q", j.ep.Facts.AppointmentID)
	}
	j.confirmAppointment("appt-2")
}

func TestTraineeExplorationNeedsSignedOffEvaluation(t *testing.T) {
	t.Parallel()

	j := newJourney(t)
	j.toScheduling()
	j.confirmAppointment("appt-1")

	payload := domain.EventPayload{Findings: "knee effusion", PerformerID: "trainee-1", PerformerTrainee: true, EvaluationID: "eval-1"}
	j.refs.Evaluation = &domain.Evaluation{EvaluationID: "eval-1", EpisodeID: "ep-1", TraineeID: "trainee-1", Status: domain.EvaluationStatusDraft}
	if err := j.try(domain.EventExplorationCompleted, payload); !errors.Is(err, domain.ErrGuardRejected) {
		t.Fatalf("expected draft evaluation to block, got %v", err)
	}
	j.refs.Evaluation.Status = domain.EvaluationStatusSignedOff
	j.must(domain.EventExplorationCompleted, payload, domain.StageDiagnosis)
}

func TestDiagnosisWithoutTreatmentDischarges(t *testing.T) {
	t.Parallel()

	j := newJourney(t)
	j.toScheduling()
	j.confirmAppointment("appt-1")
	j.must(domain.EventExplorationCompleted, domain.EventPayload{Findings: "normal"}, domain.StageDiagnosis)
	noTreatment := false
	j.must(domain.EventDiagnosisRecorded, domain.EventPayload{DiagnosisCodes: []string{"Z00.0"}, RequiresTreatment: &noTreatment}, domain.StageDischarge)
}

func TestBudgetMustMatchPlanPricing(t *testing.T) {
	t.Parallel()

	j := newJourney(t)
	j.toScheduling()
	j.confirmAppointment("appt-1")
	j.must(domain.EventExplorationCompleted, domain.EventPayload{Findings: "x"}, domain.StageDiagnosis)
	j.must(domain.EventDiagnosisRecorded, domain.EventPayload{DiagnosisCodes: []string{"M54.5"}}, domain.StagePlan)
	if err := j.try(domain.EventPlanProposed, domain.EventPayload{PlanItems: []domain.PlanItem{{ServiceID: "svc-old", Quantity: 1}}}); !errors.Is(err, domain.ErrGuardRejected) {
		t.Fatalf("expected inactive service to block plan, got %v", err)
	}
	j.must(domain.EventPlanProposed, domain.EventPayload{PlanItems: []domain.PlanItem{{ServiceID: "svc-physio", Quantity: 3}, {ServiceID: "svc-xray", Quantity: 1}}}, domain.StageBudget)
	if err := j.try(domain.EventBudgetAccepted, domain.EventPayload{}); !errors.Is(err, domain.ErrGuardRejected) {
		t.Fatalf("expected acceptance before issue to be rejected, got %v", err)
	}
	if err := j.try(domain.EventBudgetIssued, domain.EventPayload{BudgetTotalCents: 1000}); !errors.Is(err, domain.ErrGuardRejected) {
		t.Fatalf("expected mismatched total to be rejected, got %v", err)
	}
	j.must(domain.EventBudgetIssued, domain.EventPayload{BudgetTotalCents: 16500, Currency: "EUR"}, domain.StageBudget)
	if j.ep.Facts.SessionsPlanned != 4 {
		t.Fatalf("sessions planned=%d want=4", j.ep.Facts.SessionsPlanned)
	}
}

func TestBudgetRejectionReturnsToPlan(t *testing.T) {
	t.Parallel()

	j := newJourney(t)
	j.toBudget()
	j.must(domain.EventBudgetRejected, domain.EventPayload{Reason: "too expensive"}, domain.StagePlan)
	j.must(domain.EventPlanProposed, domain.EventPayload{PlanItems: []domain.PlanItem{{ServiceID: "svc-physio", Quantity: 1}}}, domain.StageBudget)
	if j.ep.Facts.BudgetStatus != "" {
		t.Fatalf("new plan must reset budget status, got %q", j.ep.Facts.BudgetStatus)
	}
}

func TestAcceptedBudgetWithPriorConsentStartsTreatment(t *testing.T) {
	t.Parallel()

	j := newJourney(t)
	j.must(domain.EventConsentSigned, domain.EventPayload{ConsentKind: domain.ConsentTreatment}, domain.StageCapture)
	j.toBudget()
	j.must(domain.EventBudgetAccepted, domain.EventPayload{}, domain.StageTreatment)
}

func TestSessionsMustBeSequential(t *testing.T) {
	t.Parallel()

	j := newJourney(t)
	j.toBudget()
	j.must(domain.EventConsentSigned, domain.EventPayload{ConsentKind: domain.ConsentTreatment}, domain.StageBudget)
	j.must(domain.EventBudgetAccepted, domain.EventPayload{}, domain.StageTreatment)
	if err := j.try(domain.EventTreatmentSessionComplete, domain.EventPayload{SessionNumber: 2}); !errors.Is(err, domain.ErrGuardRejected) {
		t.Fatalf("expected skipped session to be rejected, got %v", err)
	}
	j.must(domain.EventTreatmentSessionComplete, domain.EventPayload{SessionNumber: 1}, domain.StageTreatment)
	j.must(domain.EventTreatmentSessionComplete, domain.EventPayload{SessionNumber: 2}, domain.StageFollowUp)

	j.must(domain.EventFollowUpCompleted, domain.EventPayload{Outcome: domain.OutcomeRetreat, AdditionalSessions: 1}, domain.StageTreatment)
	j.must(domain.EventTreatmentSessionComplete, domain.EventPayload{SessionNumber: 3}, domain.StageFollowUp)
	if err := j.try(domain.EventFollowUpCompleted, domain.EventPayload{Outcome: "unknown"}); !errors.Is(err, domain.ErrGuardRejected) {
		t.Fatalf("expected unknown outcome to be rejected, got %v", err)
	}
}

func TestMaintenanceRecallStartsNewCycle(t *testing.T) {
	t.Parallel()

	j := newJourney(t)
	j.must(domain.EventConsentSigned, domain.EventPayload{ConsentKind: domain.ConsentPrivacy}, domain.StageCapture)
	j.must(domain.EventIntakeCompleted, domain.EventPayload{}, domain.StageTriage)
	j.must(domain.EventTriageRouted, domain.EventPayload{TriageRoute: domain.TriageRouteReferral, ReferralDestination: "ENT"}, domain.StageDischarge)
	if err := j.try(domain.EventMaintenanceEnrolled, domain.EventPayload{RecallIntervalDays: 0}); !errors.Is(err, domain.ErrGuardRejected) {
		t.Fatalf("expected zero interval to be rejected, got %v", err)
	}
	j.must(domain.EventMaintenanceEnrolled, domain.EventPayload{RecallIntervalDays: 30}, domain.StageMaintenance)
	if j.ep.Facts.NextRecallAt == nil {
		t.Fatalf("expected next recall")
	}
	if err := j.try(domain.EventMaintenanceRecallDue, domain.EventPayload{}); !errors.Is(err, domain.ErrGuardRejected) {
		t.Fatalf("expected early recall to be rejected, got %v", err)
	}
	j.clock = j.ep.Facts.NextRecallAt.Add(time.Minute)
	j.must(domain.EventMaintenanceRecallDue, domain.EventPayload{}, domain.StageScheduling)
	if j.ep.Facts.MaintenanceCycle != 1 || j.ep.Facts.NextRecallAt != nil {
		t.Fatalf("unexpected facts after recall: %+v", j.ep.Facts)
	}
}

func TestCancelRequiresReasonFromAnyActiveStage(t *testing.T) {
	t.Parallel()

	j := newJourney(t)
	j.toScheduling()
	if err := j.try(domain.EventEpisodeCancelled, domain.EventPayload{}); !errors.Is(err, domain.ErrGuardRejected) {
		t.Fatalf("expected missing reason to be rejected, got %v", err)
	}
	j.must(domain.EventEpisodeCancelled, domain.EventPayload{Reason: "patient moved"}, domain.StageCancelled)
	if got := j.machine.Available(j.ep); len(got) != 0 {
		t.Fatalf("terminal episode should offer no events, got %v", got)
	}
}

func TestAvailableEventsForStage(t *testing.T) {
	t.Parallel()

	j := newJourney(t)
	got := j.machine.Available(j.ep)
	want := []domain.EventType{domain.EventConsentSigned, domain.EventIntakeCompleted, domain.EventEpisodeCancelled}
	if len(got) != len(want) {
		t.Fatalf("available=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("available=%v want=%v", got, want)
		}
	}
}

func TestApplyRejectsForeignEvent(t *testing.T) {
	t.Parallel()

	j := newJourney(t)
	ev := j.event(domain.EventConsentSigned, domain.EventPayload{ConsentKind: domain.ConsentPrivacy})
	ev.EpisodeID = "ep-other"
	if _, _, err := j.machine.Apply(j.ep, ev, j.refs); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
