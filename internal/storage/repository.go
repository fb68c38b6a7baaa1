// Package storage persists pipeline states so a question can wait at the
// approval gate for as long as it takes, across restarts and processes.
//
// SQLite is the default backend, Redis serves shared deployments, and the
// in-memory repository exists only for tests.
package storage

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/canonica-labs/groundsql/internal/config"
	"github.com/canonica-labs/groundsql/internal/errors"
	"github.com/canonica-labs/groundsql/internal/pipeline"
)

// Backends accepted by pipeline.state_backend.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// DefaultListLimit applies when List is called with a non-positive limit.
const DefaultListLimit = 20

// StateRepository persists pipeline states. All implementations must be
// safe for concurrent use and respect context cancellation.
type StateRepository interface {
	// Save inserts or replaces the state with s.ID.
	Save(ctx context.Context, s pipeline.State) error

	// Get returns the state with id, or *errors.ErrStateNotFound.
	Get(ctx context.Context, id string) (pipeline.State, error)

	// List returns up to limit states, newest first. It returns an empty
	// slice, never nil, when nothing is stored.
	List(ctx context.Context, limit int) ([]pipeline.State, error)

	// CheckConnectivity verifies the backend is reachable.
	CheckConnectivity(ctx context.Context) error

	Close() error
}

var _ pipeline.StateStore = StateRepository(nil)

// Open builds the repository cfg selects. SQLite databases are migrated
// before Open returns.
func Open(ctx context.Context, cfg config.PipelineConfig) (StateRepository, error) {
	switch strings.ToLower(cfg.StateBackend) {
	case "", BackendSQLite:
		return OpenSQLite(ctx, cfg.StateDSN)
	case BackendRedis:
		return OpenRedis(ctx, RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.ApprovalTTL,
		})
	case BackendMemory:
		return NewMemoryRepository(), nil
	default:
		return nil, errors.Newf("storage: unknown state backend %q (want sqlite, redis or memory)", cfg.StateBackend)
	}
}

func encodeState(s pipeline.State) ([]byte, error) {
	if s.ID == "" {
		return nil, errors.New("storage: state id is required")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, errors.Wrapf(err, "storage: encode state %s", s.ID)
	}
	return data, nil
}

func decodeState(id string, data []byte) (pipeline.State, error) {
	var s pipeline.State
	if err := json.Unmarshal(data, &s); err != nil {
		return pipeline.State{}, errors.Wrapf(err, "storage: decode state %s", id)
	}
	return s, nil
}

func listLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
