package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
)

func (s *Service) CreateInventoryItem(ctx context.Context, actor Actor, input InventoryItemInput) (domain.InventoryItem, error) {
	if err := s.authorize(ctx, actor, ActionInventoryWrite); err != nil {
		return domain.InventoryItem{}, err
	}
	now := s.nowFn()
	item := domain.InventoryItem{
		ItemID:       uuid.NewString(),
		SKU:          strings.ToUpper(strings.TrimSpace(input.SKU)),
		Name:         strings.TrimSpace(input.Name),
		Unit:         strings.TrimSpace(input.Unit),
		Quantity:     input.Quantity,
		ReorderLevel: input.ReorderLevel,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := domain.ValidateInventoryItem(item); err != nil {
		return domain.InventoryItem{}, err
	}
	return runIdempotent(ctx, s, actor, "create_inventory_item", input, func() (domain.InventoryItem, error) {
		existing, err := s.inventory().list(ctx, map[string]string{"sku": item.SKU}, "", 1, 0)
		if err != nil {
			return domain.InventoryItem{}, err
		}
		if len(existing) > 0 {
			return domain.InventoryItem{}, fmt.Errorf("%w: sku %s already exists", domain.ErrConflict, item.SKU)
		}
		if err := s.inventory().put(ctx, item.ItemID, item, now); err != nil {
			return domain.InventoryItem{}, err
		}
		return item, nil
	})
}

// AdjustStock applies a signed delta. Stock never goes below zero.
func (s *Service) AdjustStock(ctx context.Context, actor Actor, itemID string, delta int, reason string) (domain.InventoryItem, error) {
	if err := s.authorize(ctx, actor, ActionInventoryWrite); err != nil {
		return domain.InventoryItem{}, err
	}
	if delta == 0 {
		return domain.InventoryItem{}, fmt.Errorf("%w: delta must not be zero", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(reason) == "" {
		return domain.InventoryItem{}, fmt.Errorf("%w: reason is required", domain.ErrInvalidInput)
	}
	request := stockAdjustment{ItemID: itemID, Delta: delta, Reason: reason}
	return runIdempotent(ctx, s, actor, "adjust_stock", request, func() (domain.InventoryItem, error) {
		return s.adjustStock(ctx, itemID, delta, reason)
	})
}

type stockAdjustment struct {
	ItemID string `json:"item_id"`
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

func (s *Service) adjustStock(ctx context.Context, itemID string, delta int, reason string) (domain.InventoryItem, error) {
	now := s.nowFn()
	item, err := s.inventory().update(ctx, itemID, now, func(item *domain.InventoryItem) error {
		if item.Quantity+delta < 0 {
			return fmt.Errorf("%w: insufficient stock for %s (have %d, need %d)", domain.ErrConflict, item.SKU, item.Quantity, -delta)
		}
		item.Quantity += delta
		item.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.InventoryItem{}, err
	}
	s.logger.InfoContext(ctx, "stock adjusted",
		"operation", "adjust_stock",
		"outcome", "success",
		"item_id", item.ItemID,
		"delta", delta,
		"quantity", item.Quantity,
		"reason", reason,
	)
	return item, nil
}

// consumeSupplies deducts the supplies recorded on a completed treatment
// session.
func (s *Service) consumeSupplies(ctx context.Context, ep domain.Episode, rec domain.EventRecord) {
	for _, usage := range rec.Payload.Supplies {
		if usage.ItemID == "" || usage.Quantity <= 0 {
			continue
		}
		reason := fmt.Sprintf("episode %s session %d", ep.ID, rec.Payload.SessionNumber)
		if _, err := s.adjustStock(ctx, usage.ItemID, -usage.Quantity, reason); err != nil {
			s.logger.WarnContext(ctx, "supply consumption failed",
				"operation", "consume_supplies",
				"outcome", "failure",
				"episode_id", ep.ID,
				"item_id", usage.ItemID,
				"error", err,
			)
		}
	}
}

func (s *Service) ListInventory(ctx context.Context, actor Actor, limit, offset int) ([]domain.InventoryItem, error) {
	if err := s.authorize(ctx, actor, ActionInventoryRead); err != nil {
		return nil, err
	}
	return s.inventory().list(ctx, nil, "sku", s.clampLimit(limit), offset)
}

func (s *Service) LowStock(ctx context.Context, actor Actor) ([]domain.InventoryItem, error) {
	if err := s.authorize(ctx, actor, ActionInventoryRead); err != nil {
		return nil, err
	}
	return s.lowStockItems(ctx)
}

func (s *Service) lowStockItems(ctx context.Context) ([]domain.InventoryItem, error) {
	out := make([]domain.InventoryItem, 0)
	err := s.inventory().scan(ctx, nil, "sku", s.cfg.MaxListLimit, func(item domain.InventoryItem) error {
		if item.LowStock() {
			out = append(out, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
