package ports

import (
	"context"
	"io"

	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
)

type FileRef struct {
	Key         string
	ContentType string
	SizeBytes   int64
	SHA256      string
}

// FileStore keeps uploaded binary documents such as signed consent forms.
type FileStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) (FileRef, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

type Notification struct {
	PatientID string
	EpisodeID string
	Template  string
	Data      map[string]string
}

// Notifier hands notifications to the delivery service. Delivery itself is
// asynchronous and never blocks a transition.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Observer receives state machine outcomes for metrics.
type Observer interface {
	TransitionApplied(from, to domain.Stage, event domain.EventType)
	TransitionRejected(stage domain.Stage, event domain.EventType, reason string)
	DuplicateEvent(event domain.EventType)
}

type Encryption interface {
	Encrypt(subjectID string, value string) ([]byte, error)
	Decrypt(subjectID string, payload []byte) (string, error)
}
