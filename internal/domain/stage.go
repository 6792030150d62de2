package domain

import (
	"fmt"
	"strings"
)

type Stage string

const (
	StageCapture     Stage = "capture"
	StageTriage      Stage = "triage"
	StageScheduling  Stage = "scheduling"
	StageExploration Stage = "exploration"
	StageDiagnosis   Stage = "diagnosis"
	StagePlan        Stage = "plan"
	StageBudget      Stage = "budget"
	StageTreatment   Stage = "treatment"
	StageFollowUp    Stage = "follow_up"
	StageDischarge   Stage = "discharge"
	StageMaintenance Stage = "maintenance"
	StageClosed      Stage = "closed"
	StageCancelled   Stage = "cancelled"
)

// ActiveStages lists the journey stages in clinical order.
var ActiveStages = []Stage{
	StageCapture,
	StageTriage,
	StageScheduling,
	StageExploration,
	StageDiagnosis,
	StagePlan,
	StageBudget,
	StageTreatment,
	StageFollowUp,
	StageDischarge,
	StageMaintenance,
}

func (s Stage) Terminal() bool {
	return s == StageClosed || s == StageCancelled
}

func (s Stage) Valid() bool {
	if s.Terminal() {
		return true
	}
	for _, candidate := range ActiveStages {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseStage(raw string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown stage %q", ErrInvalidInput, raw)
	}
	return s, nil
}

type EventType string

const (
	EventEpisodeOpened            EventType = "episode.opened"
	EventConsentSigned            EventType = "consent.signed"
	EventIntakeCompleted          EventType = "intake.completed"
	EventTriageRouted             EventType = "triage.routed"
	EventAppointmentConfirmed     EventType = "appointment.confirmed"
	EventAppointmentCancelled     EventType = "appointment.cancelled"
	EventExplorationCompleted     EventType = "exploration.completed"
	EventDiagnosisRecorded        EventType = "diagnosis.recorded"
	EventPlanProposed             EventType = "plan.proposed"
	EventBudgetIssued             EventType = "budget.issued"
	EventBudgetAccepted           EventType = "budget.accepted"
	EventBudgetRejected           EventType = "budget.rejected"
	EventTreatmentSessionComplete EventType = "treatment.session_completed"
	EventFollowUpCompleted        EventType = "follow_up.completed"
	EventMaintenanceEnrolled      EventType = "maintenance.enrolled"
	EventMaintenanceRecallDue     EventType = "maintenance.recall_due"
	EventEpisodeClosed            EventType = "episode.closed"
	EventEpisodeCancelled         EventType = "episode.cancelled"
)

var knownEventTypes = map[EventType]struct{}{
	EventEpisodeOpened:            {},
	EventConsentSigned:            {},
	EventIntakeCompleted:          {},
	EventTriageRouted:             {},
	EventAppointmentConfirmed:     {},
	EventAppointmentCancelled:     {},
	EventExplorationCompleted:     {},
	EventDiagnosisRecorded:        {},
	EventPlanProposed:             {},
	EventBudgetIssued:             {},
	EventBudgetAccepted:           {},
	EventBudgetRejected:           {},
	EventTreatmentSessionComplete: {},
	EventFollowUpCompleted:        {},
	EventMaintenanceEnrolled:      {},
	EventMaintenanceRecallDue:     {},
	EventEpisodeClosed:            {},
	EventEpisodeCancelled:         {},
}

func ParseEventType(raw string) (EventType, error) {
	t := EventType(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := knownEventTypes[t]; !ok {
		return "", fmt.Errorf("%w: unknown event type %q", ErrInvalidInput, raw)
	}
	return t, nil
}

type ConsentKind string

const (
	ConsentPrivacy     ConsentKind = "privacy"
	ConsentTreatment   ConsentKind = "treatment"
	ConsentDataSharing ConsentKind = "data_sharing"
)

func (k ConsentKind) Valid() bool {
	switch k {
	case ConsentPrivacy, ConsentTreatment, ConsentDataSharing:
		return true
	default:
		return false
	}
}

type TriageRoute string

const (
	TriageRouteInternal TriageRoute = "internal"
	TriageRouteReferral TriageRoute = "referral"
)

type BudgetStatus string

const (
	BudgetStatusIssued   BudgetStatus = "issued"
	BudgetStatusAccepted BudgetStatus = "accepted"
	BudgetStatusRejected BudgetStatus = "rejected"
)

type FollowUpOutcome string

const (
	OutcomeResolved FollowUpOutcome = "resolved"
	OutcomeRetreat  FollowUpOutcome = "retreat"
)

const (
	MinRecallIntervalDays = 1
	MaxRecallIntervalDays = 730
)
