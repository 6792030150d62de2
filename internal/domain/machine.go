package domain

import (
	"fmt"
	"strings"
	"time"
)

// Transition is one edge of the episode graph. When selects between edges
// that share a source stage and event; it sees the episode after the event's
// effect has been applied. A nil When always matches.
type Transition struct {
	From   Stage
	On     EventType
	To     Stage
	Label  string
	When   func(after Episode, ev DomainEvent) bool
	Guards []Guard
}

// Stays reports whether the edge keeps the episode in its current stage.
func (t Transition) Stays() bool {
	return t.From == t.To
}

func (t Transition) GuardNames() []string {
	out := make([]string, 0, len(t.Guards))
	for _, g := range t.Guards {
		out = append(out, g.Name)
	}
	return out
}

type Machine struct {
	table map[Stage]map[EventType][]Transition
	order []Transition
	now   func() time.Time
}

func NewMachine() *Machine {
	m := &Machine{
		table: map[Stage]map[EventType][]Transition{},
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, t := range clinicalTransitions() {
		m.add(t)
	}
	for _, stage := range ActiveStages {
		if !m.hasUnconditional(stage, EventConsentSigned) {
			m.add(Transition{From: stage, On: EventConsentSigned, To: stage, Guards: []Guard{guardConsentKindKnown}})
		}
		m.add(Transition{From: stage, On: EventEpisodeCancelled, To: StageCancelled, Guards: []Guard{guardReasonPresent}})
	}
	return m
}

// WithClock overrides the recording clock.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	if now != nil {
		m.now = now
	}
	return m
}

func (m *Machine) add(t Transition) {
	byEvent, ok := m.table[t.From]
	if !ok {
		byEvent = map[EventType][]Transition{}
		m.table[t.From] = byEvent
	}
	byEvent[t.On] = append(byEvent[t.On], t)
	m.order = append(m.order, t)
}

func (m *Machine) hasUnconditional(stage Stage, ev EventType) bool {
	for _, t := range m.table[stage][ev] {
		if t.When == nil {
			return true
		}
	}
	return false
}

func clinicalTransitions() []Transition {
	return []Transition{
		{From: StageCapture, On: EventConsentSigned, To: StageCapture, Guards: []Guard{guardConsentKindKnown}},
		{From: StageCapture, On: EventIntakeCompleted, To: StageTriage, Guards: []Guard{guardPatientRecordComplete, guardPrivacyConsentSigned}},

		{From: StageTriage, On: EventTriageRouted, To: StageDischarge, Label: "referral",
			When:   func(_ Episode, ev DomainEvent) bool { return ev.Payload.TriageRoute == TriageRouteReferral },
			Guards: []Guard{guardReferralDestination}},
		{From: StageTriage, On: EventTriageRouted, To: StageScheduling, Guards: []Guard{guardTriageRouteValid, guardTriageServiceActive}},

		{From: StageScheduling, On: EventAppointmentConfirmed, To: StageExploration, Guards: []Guard{guardAppointmentMatchesPatient, guardAppointmentConfirmed}},
		{From: StageScheduling, On: EventAppointmentCancelled, To: StageScheduling},

		{From: StageExploration, On: EventAppointmentCancelled, To: StageScheduling, Guards: []Guard{guardAppointmentMatchesEpisode}},
		{From: StageExploration, On: EventExplorationCompleted, To: StageDiagnosis, Guards: []Guard{guardFindingsRecorded, guardSupervisionSignedOff}},

		{From: StageDiagnosis, On: EventDiagnosisRecorded, To: StageDischarge, Label: "no treatment",
			When:   func(after Episode, _ DomainEvent) bool { return !after.Facts.RequiresTreatment },
			Guards: []Guard{guardDiagnosisCodesPresent}},
		{From: StageDiagnosis, On: EventDiagnosisRecorded, To: StagePlan, Guards: []Guard{guardDiagnosisCodesPresent}},

		{From: StagePlan, On: EventPlanProposed, To: StageBudget, Guards: []Guard{guardPlanItemsPresent, guardPlanServicesActive}},

		{From: StageBudget, On: EventBudgetIssued, To: StageBudget, Guards: []Guard{guardBudgetMatchesPlan}},
		{From: StageBudget, On: EventBudgetAccepted, To: StageTreatment, Label: "treatment consent held",
			When:   func(after Episode, _ DomainEvent) bool { return after.Facts.HasConsent(ConsentTreatment) },
			Guards: []Guard{guardBudgetIssued}},
		{From: StageBudget, On: EventBudgetAccepted, To: StageBudget, Label: "awaiting treatment consent", Guards: []Guard{guardBudgetIssued}},
		{From: StageBudget, On: EventConsentSigned, To: StageTreatment, Label: "budget accepted",
			When: func(after Episode, ev DomainEvent) bool {
				return after.Facts.BudgetStatus == BudgetStatusAccepted && ev.Payload.ConsentKind == ConsentTreatment
			},
			Guards: []Guard{guardConsentKindKnown}},
		{From: StageBudget, On: EventConsentSigned, To: StageBudget, Guards: []Guard{guardConsentKindKnown}},
		{From: StageBudget, On: EventBudgetRejected, To: StagePlan, Guards: []Guard{guardBudgetIssued}},

		{From: StageTreatment, On: EventTreatmentSessionComplete, To: StageFollowUp, Label: "all sessions completed",
			When: func(after Episode, _ DomainEvent) bool {
				return after.Facts.SessionsCompleted >= after.Facts.SessionsPlanned
			},
			Guards: []Guard{guardSessionSequenceValid}},
		{From: StageTreatment, On: EventTreatmentSessionComplete, To: StageTreatment, Guards: []Guard{guardSessionSequenceValid}},

		{From: StageFollowUp, On: EventFollowUpCompleted, To: StageTreatment, Label: "retreat",
			When:   func(_ Episode, ev DomainEvent) bool { return ev.Payload.Outcome == OutcomeRetreat },
			Guards: []Guard{guardOutcomeValid, guardAdditionalSessions}},
		{From: StageFollowUp, On: EventFollowUpCompleted, To: StageDischarge, Guards: []Guard{guardOutcomeValid}},

		{From: StageDischarge, On: EventMaintenanceEnrolled, To: StageMaintenance, Guards: []Guard{guardRecallIntervalValid}},
		{From: StageDischarge, On: EventEpisodeClosed, To: StageClosed},

		{From: StageMaintenance, On: EventMaintenanceRecallDue, To: StageScheduling, Guards: []Guard{guardRecallIsDue}},
		{From: StageMaintenance, On: EventEpisodeClosed, To: StageClosed},
	}
}

// Transitions returns the full table in declaration order.
func (m *Machine) Transitions() []Transition {
	return append([]Transition(nil), m.order...)
}

// Available lists the event types the episode's current stage accepts.
func (m *Machine) Available(ep Episode) []EventType {
	if ep.Stage.Terminal() {
		return nil
	}
	seen := map[EventType]struct{}{}
	var out []EventType
	for _, t := range m.order {
		if t.From != ep.Stage {
			continue
		}
		if _, ok := seen[t.On]; ok {
			continue
		}
		seen[t.On] = struct{}{}
		out = append(out, t.On)
	}
	return out
}

// Open starts a new episode from an episode.opened event.
func (m *Machine) Open(ev DomainEvent) (Episode, EventRecord, error) {
	if ev.Type != EventEpisodeOpened {
		return Episode{}, EventRecord{}, fmt.Errorf("%w: episodes open with %s", ErrInvalidInput, EventEpisodeOpened)
	}
	if err := ev.Validate(); err != nil {
		return Episode{}, EventRecord{}, err
	}
	if strings.TrimSpace(ev.Payload.PatientID) == "" {
		return Episode{}, EventRecord{}, fmt.Errorf("%w: patient_id is required", ErrInvalidInput)
	}
	ep := NewEpisode(ev.EpisodeID, ev.Payload.PatientID, ev.OccurredAt)
	rec := m.record(ep, ev, StageCapture, StageCapture)
	ep.Version = rec.Sequence
	ep.LastEventHash = rec.Hash
	ep.UpdatedAt = rec.RecordedAt
	return ep, rec, nil
}

// Apply validates ev against the episode and returns the advanced episode
// together with the log record to append. The input episode is not modified.
func (m *Machine) Apply(ep Episode, ev DomainEvent, refs References) (Episode, EventRecord, error) {
	if err := ev.Validate(); err != nil {
		return Episode{}, EventRecord{}, err
	}
	if ev.EpisodeID != ep.ID {
		return Episode{}, EventRecord{}, fmt.Errorf("%w: event targets episode %s", ErrInvalidInput, ev.EpisodeID)
	}
	if ep.Stage.Terminal() {
		return Episode{}, EventRecord{}, fmt.Errorf("%w: episode %s is %s", ErrEpisodeClosed, ep.ID, ep.Stage)
	}
	if ev.Type == EventEpisodeOpened {
		return Episode{}, EventRecord{}, fmt.Errorf("%w: episode %s already open", ErrInvalidTransition, ep.ID)
	}

	after := ep.clone()
	applyEffect(&after.Facts, ev)

	t, ok := m.selectTransition(ep.Stage, after, ev)
	if !ok {
		return Episode{}, EventRecord{}, fmt.Errorf("%w: %s does not accept %s", ErrInvalidTransition, ep.Stage, ev.Type)
	}
	after.Stage = t.To
	if failed := evaluateGuards(t.Guards, GuardContext{Before: ep, After: after, Event: ev, Refs: refs}); len(failed) > 0 {
		return Episode{}, EventRecord{}, &GuardError{Stage: ep.Stage, Event: ev.Type, Target: t.To, Failed: failed}
	}

	rec := m.record(ep, ev, ep.Stage, t.To)
	after.Version = rec.Sequence
	after.LastEventHash = rec.Hash
	after.UpdatedAt = rec.RecordedAt
	if t.To.Terminal() {
		closedAt := rec.OccurredAt
		after.ClosedAt = &closedAt
	}
	return after, rec, nil
}

func (m *Machine) selectTransition(from Stage, after Episode, ev DomainEvent) (Transition, bool) {
	for _, t := range m.table[from][ev.Type] {
		if t.When == nil || t.When(after, ev) {
			return t, true
		}
	}
	return Transition{}, false
}

// allows reports whether any edge connects from and to on the event type.
// Replay uses it because guards depend on references that are not logged.
func (m *Machine) allows(from, to Stage, ev EventType) bool {
	for _, t := range m.table[from][ev] {
		if t.To == to {
			return true
		}
	}
	return false
}

func (m *Machine) record(ep Episode, ev DomainEvent, from, to Stage) EventRecord {
	rec := EventRecord{
		EventID:    ev.ID,
		EpisodeID:  ep.ID,
		Sequence:   ep.Version + 1,
		Type:       ev.Type,
		FromStage:  from,
		ToStage:    to,
		OccurredAt: normalizeTime(ev.OccurredAt),
		RecordedAt: normalizeTime(m.now()),
		ActorID:    ev.ActorID,
		ActorRole:  ev.ActorRole,
		Payload:    ev.Payload,
		PrevHash:   ep.LastEventHash,
	}
	rec.Hash = ComputeHash(rec)
	return rec
}
