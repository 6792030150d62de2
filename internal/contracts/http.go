package contracts

import "time"

type SuccessResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type ErrorPayload struct {
	Code      string   `json:"code"`
	Message   string   `json:"message"`
	RequestID string   `json:"request_id,omitempty"`
	Failed    []string `json:"failed_guards,omitempty"`
}

type ErrorResponse struct {
	Status    string       `json:"status"`
	Code      string       `json:"code,omitempty"`
	Message   string       `json:"message,omitempty"`
	RequestID string       `json:"request_id,omitempty"`
	Error     ErrorPayload `json:"error"`
}

type OpenEpisodeRequest struct {
	PatientID  string     `json:"patient_id"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
}

type PlanItemRequest struct {
	ServiceID string `json:"service_id"`
	Quantity  int    `json:"quantity"`
}

type SupplyUsageRequest struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type ApplyEventRequest struct {
	EventID             string               `json:"event_id"`
	EventType           string               `json:"event_type"`
	OccurredAt          *time.Time           `json:"occurred_at,omitempty"`
	ExpectedVersion     *int64               `json:"expected_version,omitempty"`
	ConsentKind         string               `json:"consent_kind,omitempty"`
	ConsentDocumentRef  string               `json:"consent_document_ref,omitempty"`
	TriageRoute         string               `json:"triage_route,omitempty"`
	ServiceID           string               `json:"service_id,omitempty"`
	ReferralDestination string               `json:"referral_destination,omitempty"`
	AppointmentID       string               `json:"appointment_id,omitempty"`
	Findings            string               `json:"findings,omitempty"`
	PerformerTrainee    bool                 `json:"performer_trainee,omitempty"`
	EvaluationID        string               `json:"evaluation_id,omitempty"`
	DiagnosisCodes      []string             `json:"diagnosis_codes,omitempty"`
	RequiresTreatment   *bool                `json:"requires_treatment,omitempty"`
	PlanItems           []PlanItemRequest    `json:"plan_items,omitempty"`
	BudgetTotalCents    int64                `json:"budget_total_cents,omitempty"`
	Currency            string               `json:"currency,omitempty"`
	SessionNumber       int                  `json:"session_number,omitempty"`
	Supplies            []SupplyUsageRequest `json:"supplies,omitempty"`
	Outcome             string               `json:"outcome,omitempty"`
	AdditionalSessions  int                  `json:"additional_sessions,omitempty"`
	RecallIntervalDays  int                  `json:"recall_interval_days,omitempty"`
	Reason              string               `json:"reason,omitempty"`
	Notes               string               `json:"notes,omitempty"`
}

type TransitionResponse struct {
	Episode   any  `json:"episode"`
	Record    any  `json:"record"`
	Advanced  bool `json:"advanced"`
	Duplicate bool `json:"duplicate"`
}

type VerifyEpisodeResponse struct {
	EpisodeID     string `json:"episode_id"`
	Valid         bool   `json:"valid"`
	Events        int    `json:"events"`
	HeadHash      string `json:"head_hash"`
	SnapshotMatch bool   `json:"snapshot_match"`
	Problem       string `json:"problem,omitempty"`
}

type CreatePatientRequest struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	BirthDate  string `json:"birth_date"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	NationalID string `json:"national_id,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type UpdatePatientRequest struct {
	FirstName  *string `json:"first_name,omitempty"`
	LastName   *string `json:"last_name,omitempty"`
	BirthDate  *string `json:"birth_date,omitempty"`
	Email      *string `json:"email,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	NationalID *string `json:"national_id,omitempty"`
	Notes      *string `json:"notes,omitempty"`
}

type CreatePatientResponse struct {
	Patient           any      `json:"patient"`
	PossibleDuplicate []string `json:"possible_duplicates,omitempty"`
}

type ScheduleAppointmentRequest struct {
	PatientID      string    `json:"patient_id"`
	EpisodeID      string    `json:"episode_id,omitempty"`
	ServiceID      string    `json:"service_id,omitempty"`
	PractitionerID string    `json:"practitioner_id,omitempty"`
	StartsAt       time.Time `json:"starts_at"`
	EndsAt         time.Time `json:"ends_at"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

type ServiceItemRequest struct {
	Code            string `json:"code"`
	Name            string `json:"name"`
	Category        string `json:"category,omitempty"`
	PriceCents      int64  `json:"price_cents"`
	Currency        string `json:"currency"`
	DefaultSessions int    `json:"default_sessions"`
}

type UpdateServiceItemRequest struct {
	Name            *string `json:"name,omitempty"`
	Category        *string `json:"category,omitempty"`
	PriceCents      *int64  `json:"price_cents,omitempty"`
	DefaultSessions *int    `json:"default_sessions,omitempty"`
	Active          *bool   `json:"active,omitempty"`
}

type CreateEvaluationRequest struct {
	EpisodeID string `json:"episode_id"`
	TraineeID string `json:"trainee_id"`
}

type ScoreEvaluationRequest struct {
	Scores   map[string]int `json:"scores"`
	Comments string         `json:"comments,omitempty"`
}

type InventoryItemRequest struct {
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	Unit         string `json:"unit,omitempty"`
	Quantity     int    `json:"quantity"`
	ReorderLevel int    `json:"reorder_level"`
}

type AdjustStockRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

type StageFunnelResponse struct {
	Stages map[string]int `json:"stages"`
	Total  int            `json:"total"`
}

type OperationalSummaryResponse struct {
	GeneratedAt        time.Time      `json:"generated_at"`
	EpisodesByStage    map[string]int `json:"episodes_by_stage"`
	AppointmentsStatus map[string]int `json:"appointments_by_status"`
	LowStockItems      int            `json:"low_stock_items"`
	ActiveServices     int            `json:"active_services"`
}
