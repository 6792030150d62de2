package domain

import (
	"strings"
	"time"
)

// applyEffect folds an event into the facts. It never fails; guards decide
// afterwards whether the resulting state is acceptable.
func applyEffect(f *Facts, ev DomainEvent) {
	p := ev.Payload
	switch ev.Type {
	case EventConsentSigned:
		if f.Consents == nil {
			f.Consents = map[ConsentKind]time.Time{}
		}
		f.Consents[p.ConsentKind] = normalizeTime(ev.OccurredAt)
		if ref := strings.TrimSpace(p.ConsentDocumentRef); ref != "" {
			f.ConsentDocuments = append(f.ConsentDocuments, ref)
		}
	case EventIntakeCompleted:
		f.IntakeCompleted = true
	case EventTriageRouted:
		f.TriageRoute = p.TriageRoute
		f.TriageServiceID = p.ServiceID
		f.ReferralDestination = strings.TrimSpace(p.ReferralDestination)
	case EventAppointmentConfirmed:
		f.AppointmentID = p.AppointmentID
	case EventAppointmentCancelled:
		if p.AppointmentID == f.AppointmentID {
			f.AppointmentID = ""
		}
	case EventExplorationCompleted:
		f.Findings = strings.TrimSpace(p.Findings)
		f.EvaluationID = p.EvaluationID
	case EventDiagnosisRecorded:
		f.DiagnosisCodes = append([]string(nil), p.DiagnosisCodes...)
		f.RequiresTreatment = p.RequiresTreatment == nil || *p.RequiresTreatment
	case EventPlanProposed:
		f.Plan = append([]PlanItem(nil), p.PlanItems...)
		f.SessionsPlanned = 0
		for _, item := range p.PlanItems {
			f.SessionsPlanned += item.Quantity
		}
		f.SessionsCompleted = 0
		f.BudgetStatus = ""
		f.BudgetTotalCents = 0
		f.Currency = ""
	case EventBudgetIssued:
		f.BudgetTotalCents = p.BudgetTotalCents
		f.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
		f.BudgetStatus = BudgetStatusIssued
	case EventBudgetAccepted:
		f.BudgetStatus = BudgetStatusAccepted
	case EventBudgetRejected:
		f.BudgetStatus = BudgetStatusRejected
	case EventTreatmentSessionComplete:
		f.SessionsCompleted = p.SessionNumber
	case EventFollowUpCompleted:
		f.Outcome = p.Outcome
		if p.Outcome == OutcomeRetreat && p.AdditionalSessions > 0 {
			f.SessionsPlanned += p.AdditionalSessions
		}
	case EventMaintenanceEnrolled:
		f.RecallIntervalDays = p.RecallIntervalDays
		next := normalizeTime(ev.OccurredAt).AddDate(0, 0, p.RecallIntervalDays)
		f.NextRecallAt = &next
	case EventMaintenanceRecallDue:
		f.MaintenanceCycle++
		f.NextRecallAt = nil
		f.AppointmentID = ""
		f.Findings = ""
		f.EvaluationID = ""
		f.DiagnosisCodes = nil
		f.Plan = nil
		f.SessionsPlanned = 0
		f.SessionsCompleted = 0
		f.BudgetTotalCents = 0
		f.Currency = ""
		f.BudgetStatus = ""
		f.Outcome = ""
	case EventEpisodeCancelled:
		f.CancelReason = strings.TrimSpace(p.Reason)
	}
}
