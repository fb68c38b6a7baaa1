// Package adapters defines the relational store the pipeline executes
// approved SQL against and introspects for schema snapshots.
//
// Adapters are thin: they run the statement they are given under a
// per-call timeout, translate it to the store's dialect and classify
// failures. They never decide whether a statement is safe to run.
package adapters

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/canonica-labs/groundsql/internal/config"
	"github.com/canonica-labs/groundsql/internal/errors"
	"github.com/canonica-labs/groundsql/internal/schema"
	gsql "github.com/canonica-labs/groundsql/internal/sql"
)

// Record is one result row keyed by column name.
type Record = map[string]any

// QueryResult is the result of Execute.
type QueryResult struct {
	// Columns are the result column names in select order.
	Columns []string `json:"columns"`

	// Rows is never nil for a successful query; an empty result is an
	// empty slice.
	Rows []Record `json:"rows"`

	RowCount int `json:"row_count"`

	// Metadata carries adapter details such as the executed statement.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Store is a relational store. Execute failures are
// *errors.ErrExecutionFailure.
type Store interface {
	// Name returns the driver name.
	Name() string

	// Dialect is the dialect Execute translates T-SQL statements into.
	Dialect() gsql.Dialect

	Execute(ctx context.Context, query string) (*QueryResult, error)

	// ListTables returns base table names.
	ListTables(ctx context.Context) ([]string, error)

	// DescribeTable returns the ordered columns of a table.
	DescribeTable(ctx context.Context, table string) ([]schema.Column, error)

	Ping(ctx context.Context) error

	// Close is idempotent.
	Close() error
}

var _ schema.Introspector = Store(nil)

// Factory opens a store from configuration. Opening does not dial; use
// Ping to check connectivity.
type Factory func(cfg config.StoreConfig) (Store, error)

// Registry maps driver names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for driver, replacing any previous one.
func (r *Registry) Register(driver string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(driver)] = f
}

// Get returns the factory for driver.
func (r *Registry) Get(driver string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[strings.ToLower(driver)]
	return f, ok
}

// Available returns the registered driver names, sorted.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens a store for cfg.Driver.
func (r *Registry) Open(cfg config.StoreConfig) (Store, error) {
	f, ok := r.Get(cfg.Driver)
	if !ok {
		return nil, errors.Newf("no adapter registered for driver %q (available: %s)",
			cfg.Driver, strings.Join(r.Available(), ", "))
	}
	return f(cfg)
}
