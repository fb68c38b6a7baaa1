package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/canonica-labs/groundsql/internal/errors"
	"github.com/canonica-labs/groundsql/internal/pipeline"
)

// MemoryRepository keeps states in process memory. States are stored as
// clones, so callers never share slices with the repository. Use it only
// in tests and throwaway runs.
type MemoryRepository struct {
	mu     sync.RWMutex
	states map[string]pipeline.State

	saveFailure error
	saves       int
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{states: map[string]pipeline.State{}}
}

// FailSaves makes every later Save return err; nil restores normal saves.
func (r *MemoryRepository) FailSaves(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveFailure = err
}

// Saves counts successful Save calls.
func (r *MemoryRepository) Saves() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.saves
}

// Save implements StateRepository.
func (r *MemoryRepository) Save(ctx context.Context, s pipeline.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.ID == "" {
		return errors.New("storage: state id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveFailure != nil {
		return errors.Wrapf(r.saveFailure, "storage: save state %s", s.ID)
	}
	r.states[s.ID] = s.Clone()
	r.saves++
	return nil
}

// Get implements StateRepository.
func (r *MemoryRepository) Get(ctx context.Context, id string) (pipeline.State, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.State{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.states[id]
	if !ok {
		return pipeline.State{}, errors.NewStateNotFound(id)
	}
	return s.Clone(), nil
}

// List implements StateRepository.
func (r *MemoryRepository) List(ctx context.Context, limit int) ([]pipeline.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]pipeline.State, 0, len(r.states))
	for _, s := range r.states {
		out = append(out, s.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if n := listLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// CheckConnectivity implements StateRepository.
func (r *MemoryRepository) CheckConnectivity(ctx context.Context) error {
	return ctx.Err()
}

// Close implements StateRepository.
func (r *MemoryRepository) Close() error {
	return nil
}
