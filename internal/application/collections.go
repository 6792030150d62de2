package application

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
)

// collection is a typed view over one DocumentStore collection.
type collection[T any] struct {
	store ports.DocumentStore
	name  string
}

func newCollection[T any](store ports.DocumentStore, name string) collection[T] {
	return collection[T]{store: store, name: name}
}

func (c collection[T]) put(ctx context.Context, id string, v T, at time.Time) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.name, err)
	}
	return c.store.Put(ctx, c.name, id, raw, at)
}

func (c collection[T]) get(ctx context.Context, id string) (T, error) {
	var out T
	raw, err := c.store.Get(ctx, c.name, id)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", c.name, err)
	}
	return out, nil
}

func (c collection[T]) list(ctx context.Context, where map[string]string, orderBy string, limit, offset int) ([]T, error) {
	rows, err := c.store.List(ctx, ports.DocumentQuery{
		Collection: c.name,
		Where:      where,
		OrderBy:    orderBy,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(rows))
	for _, raw := range rows {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("decode %s: %w", c.name, err)
		}
		out = append(out, item)
	}
	return out, nil
}

// update applies fn to the stored record under the store's row lock.
func (c collection[T]) update(ctx context.Context, id string, at time.Time, fn func(*T) error) (T, error) {
	var out T
	err := c.store.Update(ctx, c.name, id, at, func(current []byte) ([]byte, error) {
		var item T
		if err := json.Unmarshal(current, &item); err != nil {
			return nil, fmt.Errorf("decode %s: %w", c.name, err)
		}
		if err := fn(&item); err != nil {
			return nil, err
		}
		raw, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", c.name, err)
		}
		out = item
		return raw, nil
	})
	return out, err
}

// scan pages through every matching record so in-memory filters never see a
// truncated collection.
func (c collection[T]) scan(ctx context.Context, where map[string]string, orderBy string, pageSize int, fn func(T) error) error {
	if pageSize <= 0 {
		pageSize = 200
	}
	for offset := 0; ; offset += pageSize {
		page, err := c.list(ctx, where, orderBy, pageSize, offset)
		if err != nil {
			return err
		}
		for _, item := range page {
			if err := fn(item); err != nil {
				return err
			}
		}
		if len(page) < pageSize {
			return nil
		}
	}
}

func (s *Service) patients() collection[domain.Patient] {
	return newCollection[domain.Patient](s.documents, ports.CollectionPatients)
}

func (s *Service) appointments() collection[domain.Appointment] {
	return newCollection[domain.Appointment](s.documents, ports.CollectionAppointments)
}

func (s *Service) services() collection[domain.ServiceItem] {
	return newCollection[domain.ServiceItem](s.documents, ports.CollectionServices)
}

func (s *Service) evaluations() collection[domain.Evaluation] {
	return newCollection[domain.Evaluation](s.documents, ports.CollectionEvaluations)
}

func (s *Service) inventory() collection[domain.InventoryItem] {
	return newCollection[domain.InventoryItem](s.documents, ports.CollectionInventory)
}

func (s *Service) consentDocuments() collection[domain.ConsentDocument] {
	return newCollection[domain.ConsentDocument](s.documents, ports.CollectionConsentDocuments)
}
