package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
)

func (s *Service) CreateServiceItem(ctx context.Context, actor Actor, input ServiceItemInput) (domain.ServiceItem, error) {
	if err := s.authorize(ctx, actor, ActionCatalogWrite); err != nil {
		return domain.ServiceItem{}, err
	}
	now := s.nowFn()
	item := domain.ServiceItem{
		ServiceID:       uuid.NewString(),
		Code:            strings.ToUpper(strings.TrimSpace(input.Code)),
		Name:            strings.TrimSpace(input.Name),
		Category:        strings.TrimSpace(input.Category),
		PriceCents:      input.PriceCents,
		Currency:        strings.ToUpper(strings.TrimSpace(input.Currency)),
		DefaultSessions: input.DefaultSessions,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := domain.ValidateServiceItem(item); err != nil {
		return domain.ServiceItem{}, err
	}
	return runIdempotent(ctx, s, actor, "create_service", input, func() (domain.ServiceItem, error) {
		existing, err := s.services().list(ctx, map[string]string{"code": item.Code}, "", 1, 0)
		if err != nil {
			return domain.ServiceItem{}, err
		}
		if len(existing) > 0 {
			return domain.ServiceItem{}, fmt.Errorf("%w: service code %s already exists", domain.ErrConflict, item.Code)
		}
		if err := s.services().put(ctx, item.ServiceID, item, now); err != nil {
			return domain.ServiceItem{}, err
		}
		return item, nil
	})
}

func (s *Service) UpdateServiceItem(ctx context.Context, actor Actor, serviceID string, input UpdateServiceItemInput) (domain.ServiceItem, error) {
	if err := s.authorize(ctx, actor, ActionCatalogWrite); err != nil {
		return domain.ServiceItem{}, err
	}
	request := struct {
		ServiceID string                 `json:"service_id"`
		Input     UpdateServiceItemInput `json:"input"`
	}{serviceID, input}
	return runIdempotent(ctx, s, actor, "update_service", request, func() (domain.ServiceItem, error) {
		now := s.nowFn()
		return s.services().update(ctx, serviceID, now, func(item *domain.ServiceItem) error {
			if input.Name != nil {
				item.Name = strings.TrimSpace(*input.Name)
			}
			if input.Category != nil {
				item.Category = strings.TrimSpace(*input.Category)
			}
			if input.PriceCents != nil {
				item.PriceCents = *input.PriceCents
			}
			if input.DefaultSessions != nil {
				item.DefaultSessions = *input.DefaultSessions
			}
			if input.Active != nil {
				item.Active = *input.Active
			}
			if err := domain.ValidateServiceItem(*item); err != nil {
				return err
			}
			item.UpdatedAt = now
			return nil
		})
	})
}

// DeactivateServiceItem retires a service. Episodes already planned with it
// keep their budget; new plans are rejected by the plan guards.
func (s *Service) DeactivateServiceItem(ctx context.Context, actor Actor, serviceID string) (domain.ServiceItem, error) {
	inactive := false
	return s.UpdateServiceItem(ctx, actor, serviceID, UpdateServiceItemInput{Active: &inactive})
}

func (s *Service) GetServiceItem(ctx context.Context, actor Actor, serviceID string) (domain.ServiceItem, error) {
	if err := s.authorize(ctx, actor, ActionCatalogRead); err != nil {
		return domain.ServiceItem{}, err
	}
	return s.services().get(ctx, serviceID)
}

func (s *Service) ListServiceItems(ctx context.Context, actor Actor, activeOnly bool, limit, offset int) ([]domain.ServiceItem, error) {
	if err := s.authorize(ctx, actor, ActionCatalogRead); err != nil {
		return nil, err
	}
	where := map[string]string{}
	if activeOnly {
		where["active"] = "true"
	}
	return s.services().list(ctx, where, "code", s.clampLimit(limit), offset)
}
