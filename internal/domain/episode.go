package domain

import (
	"fmt"
	"strings"
	"time"
)

type PlanItem struct {
	ServiceID string `json:"service_id"`
	Quantity  int    `json:"quantity"`
}

type SupplyUsage struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// EventPayload carries the optional fields of every event type. Only the
// fields relevant to the event's type are read by effects and guards.
type EventPayload struct {
	PatientID           string          `json:"patient_id,omitempty"`
	ConsentKind         ConsentKind     `json:"consent_kind,omitempty"`
	ConsentDocumentRef  string          `json:"consent_document_ref,omitempty"`
	TriageRoute         TriageRoute     `json:"triage_route,omitempty"`
	ServiceID           string          `json:"service_id,omitempty"`
	ReferralDestination string          `json:"referral_destination,omitempty"`
	AppointmentID       string          `json:"appointment_id,omitempty"`
	Findings            string          `json:"findings,omitempty"`
	PerformerID         string          `json:"performer_id,omitempty"`
	PerformerTrainee    bool            `json:"performer_trainee,omitempty"`
	EvaluationID        string          `json:"evaluation_id,omitempty"`
	DiagnosisCodes      []string        `json:"diagnosis_codes,omitempty"`
	RequiresTreatment   *bool           `json:"requires_treatment,omitempty"`
	PlanItems           []PlanItem      `json:"plan_items,omitempty"`
	BudgetTotalCents    int64           `json:"budget_total_cents,omitempty"`
	Currency            string          `json:"currency,omitempty"`
	SessionNumber       int             `json:"session_number,omitempty"`
	Supplies            []SupplyUsage   `json:"supplies,omitempty"`
	Outcome             FollowUpOutcome `json:"outcome,omitempty"`
	AdditionalSessions  int             `json:"additional_sessions,omitempty"`
	RecallIntervalDays  int             `json:"recall_interval_days,omitempty"`
	Reason              string          `json:"reason,omitempty"`
	Notes               string          `json:"notes,omitempty"`
	// SourceActorRole is the role an upstream producer claims. It is never
	// used for authorization.
	SourceActorRole string `json:"source_actor_role,omitempty"`
}

type DomainEvent struct {
	ID         string       `json:"event_id"`
	EpisodeID  string       `json:"episode_id"`
	Type       EventType    `json:"event_type"`
	OccurredAt time.Time    `json:"occurred_at"`
	ActorID    string       `json:"actor_id,omitempty"`
	ActorRole  string       `json:"actor_role,omitempty"`
	Payload    EventPayload `json:"payload"`
}

func (e DomainEvent) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: event_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(e.EpisodeID) == "" {
		return fmt.Errorf("%w: episode_id is required", ErrInvalidInput)
	}
	if _, err := ParseEventType(string(e.Type)); err != nil {
		return err
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: occurred_at is required", ErrInvalidInput)
	}
	return nil
}

// Facts is the clinical state accumulated from the event log.
type Facts struct {
	Consents            map[ConsentKind]time.Time `json:"consents,omitempty"`
	ConsentDocuments    []string                  `json:"consent_documents,omitempty"`
	IntakeCompleted     bool                      `json:"intake_completed"`
	TriageRoute         TriageRoute               `json:"triage_route,omitempty"`
	TriageServiceID     string                    `json:"triage_service_id,omitempty"`
	ReferralDestination string                    `json:"referral_destination,omitempty"`
	AppointmentID       string                    `json:"appointment_id,omitempty"`
	Findings            string                    `json:"findings,omitempty"`
	EvaluationID        string                    `json:"evaluation_id,omitempty"`
	DiagnosisCodes      []string                  `json:"diagnosis_codes,omitempty"`
	RequiresTreatment   bool                      `json:"requires_treatment"`
	Plan                []PlanItem                `json:"plan,omitempty"`
	SessionsPlanned     int                       `json:"sessions_planned"`
	SessionsCompleted   int                       `json:"sessions_completed"`
	BudgetTotalCents    int64                     `json:"budget_total_cents"`
	Currency            string                    `json:"currency,omitempty"`
	BudgetStatus        BudgetStatus              `json:"budget_status,omitempty"`
	Outcome             FollowUpOutcome           `json:"outcome,omitempty"`
	MaintenanceCycle    int                       `json:"maintenance_cycle"`
	RecallIntervalDays  int                       `json:"recall_interval_days,omitempty"`
	NextRecallAt        *time.Time                `json:"next_recall_at,omitempty"`
	CancelReason        string                    `json:"cancel_reason,omitempty"`
}

func (f Facts) HasConsent(kind ConsentKind) bool {
	_, ok := f.Consents[kind]
	return ok
}

func (f Facts) clone() Facts {
	out := f
	if f.Consents != nil {
		out.Consents = make(map[ConsentKind]time.Time, len(f.Consents))
		for k, v := range f.Consents {
			out.Consents[k] = v
		}
	}
	out.ConsentDocuments = append([]string(nil), f.ConsentDocuments...)
	out.DiagnosisCodes = append([]string(nil), f.DiagnosisCodes...)
	out.Plan = append([]PlanItem(nil), f.Plan...)
	if f.NextRecallAt != nil {
		t := *f.NextRecallAt
		out.NextRecallAt = &t
	}
	return out
}

type Episode struct {
	ID            string     `json:"episode_id"`
	PatientID     string     `json:"patient_id"`
	Stage         Stage      `json:"stage"`
	Version       int64      `json:"version"`
	Facts         Facts      `json:"facts"`
	OpenedAt      time.Time  `json:"opened_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	LastEventHash string     `json:"last_event_hash"`
}

func NewEpisode(id, patientID string, openedAt time.Time) Episode {
	openedAt = normalizeTime(openedAt)
	return Episode{
		ID:        id,
		PatientID: patientID,
		Stage:     StageCapture,
		OpenedAt:  openedAt,
		UpdatedAt: openedAt,
	}
}

func (e Episode) Closed() bool {
	return e.Stage.Terminal()
}

func (e Episode) clone() Episode {
	out := e
	out.Facts = e.Facts.clone()
	if e.ClosedAt != nil {
		t := *e.ClosedAt
		out.ClosedAt = &t
	}
	return out
}

// normalizeTime drops sub-microsecond precision so timestamps survive a
// round trip through postgres unchanged.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
