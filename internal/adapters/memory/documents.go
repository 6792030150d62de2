package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
)

type document struct {
	data      []byte
	updatedAt time.Time
}

// DocumentStore is a map of collections of raw JSON documents. Filters and
// ordering read top-level fields with gjson.
type DocumentStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]document
	order       map[string][]string
}

func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		collections: map[string]map[string]document{},
		order:       map[string][]string{},
	}
}

func (s *DocumentStore) Put(_ context.Context, collection, id string, data []byte, at time.Time) error {
	if collection == "" || id == "" {
		return fmt.Errorf("%w: collection and id are required", domain.ErrInvalidInput)
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("%w: document is not valid json", domain.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.collections[collection]
	if !ok {
		docs = map[string]document{}
		s.collections[collection] = docs
	}
	if _, exists := docs[id]; !exists {
		s.order[collection] = append(s.order[collection], id)
	}
	docs[id] = document{data: slices.Clone(data), updatedAt: at}
	return nil
}

func (s *DocumentStore) Get(_ context.Context, collection, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", domain.ErrNotFound, strings.TrimSuffix(collection, "s"), id)
	}
	return slices.Clone(doc.data), nil
}

func (s *DocumentStore) List(_ context.Context, query ports.DocumentQuery) ([][]byte, error) {
	s.mu.RLock()
	matched := make([][]byte, 0)
	docs := s.collections[query.Collection]
	for _, id := range s.order[query.Collection] {
		doc, ok := docs[id]
		if !ok || !matches(doc.data, query.Where) {
			continue
		}
		matched = append(matched, slices.Clone(doc.data))
	}
	s.mu.RUnlock()

	if query.OrderBy != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			return less(gjson.GetBytes(matched[i], query.OrderBy), gjson.GetBytes(matched[j], query.OrderBy))
		})
	}
	if query.Offset > 0 {
		if query.Offset >= len(matched) {
			return [][]byte{}, nil
		}
		matched = matched[query.Offset:]
	}
	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}
	return matched, nil
}

func (s *DocumentStore) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collections[collection]
	if _, ok := docs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(docs, id)
	s.order[collection] = slices.DeleteFunc(s.order[collection], func(v string) bool { return v == id })
	return nil
}

func (s *DocumentStore) Update(_ context.Context, collection, id string, at time.Time, fn func(current []byte) ([]byte, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.collections[collection][id]
	if !ok {
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, strings.TrimSuffix(collection, "s"), id)
	}
	next, err := fn(slices.Clone(doc.data))
	if err != nil {
		return err
	}
	if !gjson.ValidBytes(next) {
		return fmt.Errorf("%w: document is not valid json", domain.ErrInvalidInput)
	}
	s.collections[collection][id] = document{data: slices.Clone(next), updatedAt: at}
	return nil
}

func matches(data []byte, where map[string]string) bool {
	for field, want := range where {
		if gjson.GetBytes(data, field).String() != want {
			return false
		}
	}
	return true
}

func less(a, b gjson.Result) bool {
	if a.Type == gjson.Number && b.Type == gjson.Number {
		return a.Num < b.Num
	}
	if ta, errA := time.Parse(time.RFC3339Nano, a.String()); errA == nil {
		if tb, errB := time.Parse(time.RFC3339Nano, b.String()); errB == nil {
			return ta.Before(tb)
		}
	}
	return a.String() < b.String()
}

var _ ports.DocumentStore = (*DocumentStore)(nil)
