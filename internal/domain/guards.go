package domain

import (
	"fmt"
	"strings"
)

// References are read-only snapshots of collaborating records the
// application resolves before a transition is evaluated.
type References struct {
	Patient     *Patient
	Appointment *Appointment
	Services    map[string]ServiceItem
	Evaluation  *Evaluation
}

type GuardContext struct {
	Before Episode
	After  Episode
	Event  DomainEvent
	Refs   References
}

type Guard struct {
	Name  string
	Check func(GuardContext) bool
}

type GuardError struct {
	Stage  Stage
	Event  EventType
	Target Stage
	Failed []string
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("%s: %s -> %s on %s failed [%s]", ErrGuardRejected, e.Stage, e.Target, e.Event, strings.Join(e.Failed, ", "))
}

func (e *GuardError) Unwrap() error {
	return ErrGuardRejected
}

var (
	guardConsentKindKnown = Guard{Name: "consent_kind_known", Check: func(c GuardContext) bool {
		return c.Event.Payload.ConsentKind.Valid()
	}}
	guardPatientRecordComplete = Guard{Name: "patient_record_complete", Check: func(c GuardContext) bool {
		p := c.Refs.Patient
		return p != nil && p.PatientID == c.Before.PatientID && p.RecordComplete()
	}}
	guardPrivacyConsentSigned = Guard{Name: "privacy_consent_signed", Check: func(c GuardContext) bool {
		return c.After.Facts.HasConsent(ConsentPrivacy)
	}}
	guardTriageRouteValid = Guard{Name: "triage_route_valid", Check: func(c GuardContext) bool {
		return c.Event.Payload.TriageRoute == TriageRouteInternal
	}}
	guardTriageServiceActive = Guard{Name: "triage_service_active", Check: func(c GuardContext) bool {
		svc, ok := c.Refs.Services[c.Event.Payload.ServiceID]
		return ok && svc.Active
	}}
	guardReferralDestination = Guard{Name: "referral_destination_present", Check: func(c GuardContext) bool {
		return strings.TrimSpace(c.Event.Payload.ReferralDestination) != ""
	}}
	guardAppointmentMatchesPatient = Guard{Name: "appointment_matches_patient", Check: func(c GuardContext) bool {
		a := c.Refs.Appointment
		if a == nil || a.AppointmentID != c.Event.Payload.AppointmentID {
			return false
		}
		if a.EpisodeID != "" && a.EpisodeID != c.Before.ID {
			return false
		}
		return a.PatientID == c.Before.PatientID
	}}
	guardAppointmentConfirmed = Guard{Name: "appointment_confirmed", Check: func(c GuardContext) bool {
		return c.Refs.Appointment != nil && c.Refs.Appointment.Status == AppointmentStatusConfirmed
	}}
	guardAppointmentMatchesEpisode = Guard{Name: "appointment_matches_episode", Check: func(c GuardContext) bool {
		id := c.Event.Payload.AppointmentID
		return id != "" && id == c.Before.Facts.AppointmentID
	}}
	guardFindingsRecorded = Guard{Name: "findings_recorded", Check: func(c GuardContext) bool {
		return strings.TrimSpace(c.Event.Payload.Findings) != ""
	}}
	// Trainee work needs a signed-off supervision evaluation for this episode.
	guardSupervisionSignedOff = Guard{Name: "supervision_signed_off", Check: func(c GuardContext) bool {
		if !c.Event.Payload.PerformerTrainee {
			return true
		}
		ev := c.Refs.Evaluation
		if ev == nil || ev.EvaluationID != c.Event.Payload.EvaluationID {
			return false
		}
		return ev.EpisodeID == c.Before.ID && ev.Status == EvaluationStatusSignedOff
	}}
	guardDiagnosisCodesPresent = Guard{Name: "diagnosis_codes_present", Check: func(c GuardContext) bool {
		codes := c.Event.Payload.DiagnosisCodes
		if len(codes) == 0 {
			return false
		}
		for _, code := range codes {
			if strings.TrimSpace(code) == "" {
				return false
			}
		}
		return true
	}}
	guardPlanItemsPresent = Guard{Name: "plan_items_present", Check: func(c GuardContext) bool {
		items := c.Event.Payload.PlanItems
		if len(items) == 0 {
			return false
		}
		for _, item := range items {
			if item.ServiceID == "" || item.Quantity <= 0 {
				return false
			}
		}
		return true
	}}
	guardPlanServicesActive = Guard{Name: "plan_services_active", Check: func(c GuardContext) bool {
		for _, item := range c.Event.Payload.PlanItems {
			svc, ok := c.Refs.Services[item.ServiceID]
			if !ok || !svc.Active {
				return false
			}
		}
		return true
	}}
	guardBudgetMatchesPlan = Guard{Name: "budget_matches_plan", Check: func(c GuardContext) bool {
		total, currency, ok := PlanTotal(c.Before.Facts.Plan, c.Refs.Services)
		if !ok || total <= 0 {
			return false
		}
		if c.Event.Payload.Currency != "" && !strings.EqualFold(c.Event.Payload.Currency, currency) {
			return false
		}
		return c.Event.Payload.BudgetTotalCents == total
	}}
	guardBudgetIssued = Guard{Name: "budget_issued", Check: func(c GuardContext) bool {
		return c.Before.Facts.BudgetStatus == BudgetStatusIssued
	}}
	guardSessionSequenceValid = Guard{Name: "session_sequence_valid", Check: func(c GuardContext) bool {
		n := c.Event.Payload.SessionNumber
		return n == c.Before.Facts.SessionsCompleted+1 && n <= c.Before.Facts.SessionsPlanned
	}}
	guardOutcomeValid = Guard{Name: "outcome_valid", Check: func(c GuardContext) bool {
		o := c.Event.Payload.Outcome
		return o == OutcomeResolved || o == OutcomeRetreat
	}}
	guardAdditionalSessions = Guard{Name: "additional_sessions_positive", Check: func(c GuardContext) bool {
		return c.Event.Payload.AdditionalSessions > 0
	}}
	guardRecallIntervalValid = Guard{Name: "recall_interval_valid", Check: func(c GuardContext) bool {
		d := c.Event.Payload.RecallIntervalDays
		return d >= MinRecallIntervalDays && d <= MaxRecallIntervalDays
	}}
	guardRecallIsDue = Guard{Name: "recall_is_due", Check: func(c GuardContext) bool {
		next := c.Before.Facts.NextRecallAt
		return next != nil && !c.Event.OccurredAt.Before(*next)
	}}
	guardReasonPresent = Guard{Name: "reason_present", Check: func(c GuardContext) bool {
		return strings.TrimSpace(c.Event.Payload.Reason) != ""
	}}
)

// PlanTotal prices a plan against the catalog. ok is false when a service is
// missing or the plan mixes currencies.
func PlanTotal(plan []PlanItem, services map[string]ServiceItem) (int64, string, bool) {
	var total int64
	currency := ""
	for _, item := range plan {
		svc, found := services[item.ServiceID]
		if !found {
			return 0, "", false
		}
		if currency == "" {
			currency = svc.Currency
		} else if !strings.EqualFold(currency, svc.Currency) {
			return 0, "", false
		}
		total += svc.PriceCents * int64(item.Quantity)
	}
	return total, strings.ToUpper(currency), true
}

func evaluateGuards(guards []Guard, c GuardContext) []string {
	var failed []string
	for _, g := range guards {
		if !g.Check(c) {
			failed = append(failed, g.Name)
		}
	}
	return failed
}
