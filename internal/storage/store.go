// Package storage persists published predictions.
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/yourorg/accafreeze-engine/internal/model"
)

// ErrNotFound is returned when no prediction exists for a fixture
var ErrNotFound = errors.New("prediction not found")

// HistoryStore is the durable record of published predictions. Inserts are
// insert-if-absent and freeze updates only apply to unfrozen records, so the
// store itself enforces write-once semantics.
type HistoryStore interface {
	// Get returns the prediction for a fixture, or ErrNotFound
	Get(ctx context.Context, fixtureID string) (model.PublishedPrediction, error)

	// PutIfAbsent inserts p unless a record for the fixture exists. It returns
	// the stored record and whether p was inserted.
	PutIfAbsent(ctx context.Context, p model.PublishedPrediction) (model.PublishedPrediction, bool, error)

	// UpdateFreeze sets the freeze fields of an unfrozen record. It returns the
	// stored record and whether it was updated.
	UpdateFreeze(ctx context.Context, fixtureID, result string, profitLoss float64, frozenAt time.Time) (model.PublishedPrediction, bool, error)

	// List returns every record ordered by publication time, then fixture id
	List(ctx context.Context) ([]model.PublishedPrediction, error)
}

// MemoryStore is an in-process HistoryStore
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]model.PublishedPrediction
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]model.PublishedPrediction)}
}

// Get implements HistoryStore
func (s *MemoryStore) Get(_ context.Context, fixtureID string) (model.PublishedPrediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.records[fixtureID]
	if !ok {
		return model.PublishedPrediction{}, ErrNotFound
	}
	return clone(p), nil
}

// PutIfAbsent implements HistoryStore
func (s *MemoryStore) PutIfAbsent(_ context.Context, p model.PublishedPrediction) (model.PublishedPrediction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[p.FixtureID]; ok {
		return clone(existing), false, nil
	}
	s.records[p.FixtureID] = clone(p)
	return clone(p), true, nil
}

// UpdateFreeze implements HistoryStore
func (s *MemoryStore) UpdateFreeze(_ context.Context, fixtureID, result string, profitLoss float64, frozenAt time.Time) (model.PublishedPrediction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.records[fixtureID]
	if !ok {
		return model.PublishedPrediction{}, false, ErrNotFound
	}
	if p.IsFrozen {
		return clone(p), false, nil
	}

	at := frozenAt.UTC()
	p.IsFrozen = true
	p.Result = result
	p.ProfitLoss = profitLoss
	p.FrozenAt = &at
	s.records[fixtureID] = p
	return clone(p), true, nil
}

// List implements HistoryStore
func (s *MemoryStore) List(_ context.Context) ([]model.PublishedPrediction, error) {
	s.mu.RLock()
	out := make([]model.PublishedPrediction, 0, len(s.records))
	for _, p := range s.records {
		out = append(out, clone(p))
	}
	s.mu.RUnlock()

	SortPredictions(out)
	return out, nil
}

// Tamper overwrites a stored record without any checks. It exists for
// integrity drills and tests.
func (s *MemoryStore) Tamper(p model.PublishedPrediction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[p.FixtureID] = clone(p)
}

// SortPredictions orders by publication time, then fixture id
func SortPredictions(ps []model.PublishedPrediction) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].PublishedAt.Equal(ps[j].PublishedAt) {
			return ps[i].PublishedAt.Before(ps[j].PublishedAt)
		}
		return ps[i].FixtureID < ps[j].FixtureID
	})
}

func clone(p model.PublishedPrediction) model.PublishedPrediction {
	if p.FrozenAt != nil {
		at := *p.FrozenAt
		p.FrozenAt = &at
	}
	return p
}
