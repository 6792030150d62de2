package ports

import (
	"context"

	"github.com/wiye1050/gestionclinica-sub004/internal/contracts"
)

type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

type DLQPublisher interface {
	PublishDLQ(ctx context.Context, record contracts.DLQRecord) error
}
