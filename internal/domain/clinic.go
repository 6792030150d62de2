package domain

import (
	"strings"
	"time"
)

const (
	AppointmentStatusScheduled = "scheduled"
	AppointmentStatusConfirmed = "confirmed"
	AppointmentStatusCancelled = "cancelled"
	AppointmentStatusCompleted = "completed"
)

const (
	EvaluationStatusDraft     = "draft"
	EvaluationStatusSignedOff = "signed_off"
)

const (
	RoleAdmin        = "admin"
	RoleReception    = "reception"
	RoleClinician    = "clinician"
	RoleTrainee      = "trainee"
	RoleSupervisor   = "supervisor"
	RoleInventory    = "inventory"
	RoleSystem       = "system"
	RoleOperator     = "operator"
	RoleReportViewer = "report_viewer"
)

type Patient struct {
	PatientID           string     `json:"patient_id"`
	FirstName           string     `json:"first_name"`
	LastName            string     `json:"last_name"`
	BirthDate           string     `json:"birth_date"`
	Email               string     `json:"email,omitempty"`
	Phone               string     `json:"phone,omitempty"`
	NationalIDEncrypted string     `json:"national_id_encrypted,omitempty"`
	NationalIDLast4     string     `json:"national_id_last4,omitempty"`
	Notes               string     `json:"notes,omitempty"`
	Archived            bool       `json:"archived"`
	ArchivedAt          *time.Time `json:"archived_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func (p Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// RecordComplete reports whether the patient has enough identifying and
// contact data to leave capture.
func (p Patient) RecordComplete() bool {
	if p.Archived {
		return false
	}
	if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
		return false
	}
	if strings.TrimSpace(p.BirthDate) == "" {
		return false
	}
	return strings.TrimSpace(p.Email) != "" || strings.TrimSpace(p.Phone) != ""
}

type Appointment struct {
	AppointmentID  string    `json:"appointment_id"`
	PatientID      string    `json:"patient_id"`
	EpisodeID      string    `json:"episode_id,omitempty"`
	ServiceID      string    `json:"service_id,omitempty"`
	PractitionerID string    `json:"practitioner_id,omitempty"`
	StartsAt       time.Time `json:"starts_at"`
	EndsAt         time.Time `json:"ends_at"`
	Status         string    `json:"status"`
	CancelReason   string    `json:"cancel_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type ServiceItem struct {
	ServiceID       string    `json:"service_id"`
	Code            string    `json:"code"`
	Name            string    `json:"name"`
	Category        string    `json:"category,omitempty"`
	PriceCents      int64     `json:"price_cents"`
	Currency        string    `json:"currency"`
	DefaultSessions int       `json:"default_sessions"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Evaluation struct {
	EvaluationID string         `json:"evaluation_id"`
	EpisodeID    string         `json:"episode_id"`
	TraineeID    string         `json:"trainee_id"`
	SupervisorID string         `json:"supervisor_id,omitempty"`
	Scores       map[string]int `json:"scores,omitempty"`
	Comments     string         `json:"comments,omitempty"`
	Status       string         `json:"status"`
	SignedOffAt  *time.Time     `json:"signed_off_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (e Evaluation) AverageScore() float64 {
	if len(e.Scores) == 0 {
		return 0
	}
	total := 0
	for _, v := range e.Scores {
		total += v
	}
	return float64(total) / float64(len(e.Scores))
}

type InventoryItem struct {
	ItemID       string    `json:"item_id"`
	SKU          string    `json:"sku"`
	Name         string    `json:"name"`
	Unit         string    `json:"unit,omitempty"`
	Quantity     int       `json:"quantity"`
	ReorderLevel int       `json:"reorder_level"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (i InventoryItem) LowStock() bool {
	return i.Quantity <= i.ReorderLevel
}

type ConsentDocument struct {
	DocumentID  string    `json:"document_id"`
	PatientID   string    `json:"patient_id"`
	EpisodeID   string    `json:"episode_id,omitempty"`
	Kind        string    `json:"kind"`
	FileKey     string    `json:"file_key"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	SHA256      string    `json:"sha256"`
	UploadedBy  string    `json:"uploaded_by"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
