package ports

import (
	"context"
	"time"
)

const (
	CollectionPatients         = "patients"
	CollectionAppointments     = "appointments"
	CollectionServices         = "services"
	CollectionEvaluations      = "evaluations"
	CollectionInventory        = "inventory"
	CollectionConsentDocuments = "consent_documents"
)

// DocumentQuery filters a collection by equality on top-level JSON fields.
type DocumentQuery struct {
	Collection string
	Where      map[string]string
	OrderBy    string
	Limit      int
	Offset     int
}

// DocumentStore is the generic record store behind the CRUD collections.
type DocumentStore interface {
	Put(ctx context.Context, collection, id string, data []byte, at time.Time) error
	Get(ctx context.Context, collection, id string) ([]byte, error)
	List(ctx context.Context, query DocumentQuery) ([][]byte, error)
	Delete(ctx context.Context, collection, id string) error
	// Update rewrites one document atomically: fn sees the current bytes and
	// no other writer can change the document until fn returns.
	Update(ctx context.Context, collection, id string, at time.Time, fn func(current []byte) ([]byte, error)) error
}
