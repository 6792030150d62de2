package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/tidwall/gjson"
	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var documentField = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// documentStore keeps every CRUD collection in one jsonb table. Filters and
// ordering address top-level fields through data->>'field'.
type documentStore struct {
	db *gorm.DB
}

func (s *documentStore) Put(ctx context.Context, collection, id string, data []byte, at time.Time) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("%w: document is not valid json", domain.ErrInvalidInput)
	}
	row := documentModel{Collection: collection, ID: id, Data: string(data), CreatedAt: at, UpdatedAt: at}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&row).Error
}

func (s *documentStore) Get(ctx context.Context, collection, id string) ([]byte, error) {
	var row documentModel
	if err := s.db.WithContext(ctx).Where("collection = ? AND id = ?", collection, id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return []byte(row.Data), nil
}

func (s *documentStore) List(ctx context.Context, query ports.DocumentQuery) ([][]byte, error) {
	fields := make([]string, 0, len(query.Where))
	for field := range query.Where {
		if !documentField.MatchString(field) {
			return nil, fmt.Errorf("%w: invalid filter field %q", domain.ErrInvalidInput, field)
		}
		fields = append(fields, field)
	}
	if query.OrderBy != "" && !documentField.MatchString(query.OrderBy) {
		return nil, fmt.Errorf("%w: invalid order field %q", domain.ErrInvalidInput, query.OrderBy)
	}
	sort.Strings(fields)

	q := s.db.WithContext(ctx).Model(&documentModel{}).Where("collection = ?", query.Collection)
	for _, field := range fields {
		q = q.Where("data ->> ? = ?", field, query.Where[field])
	}
	if query.OrderBy != "" {
		q = q.Order(clause.OrderBy{Expression: clause.Expr{SQL: "data ->> ?, created_at, id", Vars: []any{query.OrderBy}}})
	} else {
		q = q.Order("created_at asc, id asc")
	}
	if query.Offset > 0 {
		q = q.Offset(query.Offset)
	}
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}

	var rows []documentModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(rows))
	for _, row := range rows {
		out = append(out, []byte(row.Data))
	}
	return out, nil
}

func (s *documentStore) Delete(ctx context.Context, collection, id string) error {
	res := s.db.WithContext(ctx).Where("collection = ? AND id = ?", collection, id).Delete(&documentModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Update locks the row with SELECT ... FOR UPDATE for the duration of fn.
func (s *documentStore) Update(ctx context.Context, collection, id string, at time.Time, fn func(current []byte) ([]byte, error)) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row documentModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("collection = ? AND id = ?", collection, id).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		next, err := fn([]byte(row.Data))
		if err != nil {
			return err
		}
		if !gjson.ValidBytes(next) {
			return fmt.Errorf("%w: document is not valid json", domain.ErrInvalidInput)
		}
		return tx.Model(&documentModel{}).
			Where("collection = ? AND id = ?", collection, id).
			Updates(map[string]any{"data": string(next), "updated_at": at}).Error
	})
}

var _ ports.DocumentStore = (*documentStore)(nil)
