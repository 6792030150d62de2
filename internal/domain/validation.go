package domain

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
)

var (
	birthDateLayout    = "2006-01-02"
	phonePattern       = regexp.MustCompile(`^\+?[0-9 ()-]{6,20}$`)
	currencyPattern    = regexp.MustCompile(`^[A-Z]{3}$`)
	serviceCodePattern = regexp.MustCompile(`^[A-Z0-9_-]{2,20}$`)
	rubricPattern      = regexp.MustCompile(`^[a-z][a-z0-9_]{1,39}$`)
)

const (
	MinRubricScore = 1
	MaxRubricScore = 5
)

// NormalizeName lowercases and collapses whitespace for name comparisons.
func NormalizeName(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), " ")
}

func ValidatePatient(p Patient) error {
	if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
		return fmt.Errorf("%w: first_name and last_name are required", ErrInvalidInput)
	}
	if p.BirthDate != "" {
		born, err := time.Parse(birthDateLayout, p.BirthDate)
		if err != nil {
			return fmt.Errorf("%w: birth_date must be YYYY-MM-DD", ErrInvalidInput)
		}
		if born.After(time.Now().UTC()) {
			return fmt.Errorf("%w: birth_date is in the future", ErrInvalidInput)
		}
	}
	if p.Email != "" {
		if _, err := mail.ParseAddress(p.Email); err != nil {
			return fmt.Errorf("%w: invalid email", ErrInvalidInput)
		}
	}
	if p.Phone != "" && !phonePattern.MatchString(p.Phone) {
		return fmt.Errorf("%w: invalid phone", ErrInvalidInput)
	}
	return nil
}

func ValidateAppointment(a Appointment) error {
	if strings.TrimSpace(a.PatientID) == "" {
		return fmt.Errorf("%w: patient_id is required", ErrInvalidInput)
	}
	if a.StartsAt.IsZero() || a.EndsAt.IsZero() {
		return fmt.Errorf("%w: starts_at and ends_at are required", ErrInvalidInput)
	}
	if !a.EndsAt.After(a.StartsAt) {
		return fmt.Errorf("%w: ends_at must be after starts_at", ErrInvalidInput)
	}
	return nil
}

func ValidateServiceItem(s ServiceItem) error {
	if !serviceCodePattern.MatchString(s.Code) {
		return fmt.Errorf("%w: code must match %s", ErrInvalidInput, serviceCodePattern.String())
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if s.PriceCents < 0 {
		return fmt.Errorf("%w: price_cents must be >= 0", ErrInvalidInput)
	}
	if !currencyPattern.MatchString(s.Currency) {
		return fmt.Errorf("%w: currency must be an ISO 4217 code", ErrInvalidInput)
	}
	if s.DefaultSessions < 0 {
		return fmt.Errorf("%w: default_sessions must be >= 0", ErrInvalidInput)
	}
	return nil
}

func ValidateScores(scores map[string]int) error {
	if len(scores) == 0 {
		return fmt.Errorf("%w: scores are required", ErrInvalidInput)
	}
	for criterion, score := range scores {
		if !rubricPattern.MatchString(criterion) {
			return fmt.Errorf("%w: invalid rubric criterion %q", ErrInvalidInput, criterion)
		}
		if score < MinRubricScore || score > MaxRubricScore {
			return fmt.Errorf("%w: score for %s must be %d-%d", ErrInvalidInput, criterion, MinRubricScore, MaxRubricScore)
		}
	}
	return nil
}

func ValidateInventoryItem(i InventoryItem) error {
	if strings.TrimSpace(i.SKU) == "" || strings.TrimSpace(i.Name) == "" {
		return fmt.Errorf("%w: sku and name are required", ErrInvalidInput)
	}
	if i.Quantity < 0 || i.ReorderLevel < 0 {
		return fmt.Errorf("%w: quantity and reorder_level must be >= 0", ErrInvalidInput)
	}
	return nil
}
