// Package duckdb provides the DuckDB store adapter, used for local
// development against a file or in-memory database.
package duckdb

import (
	"database/sql"

	_ "github.com/marcboeker/go-duckdb" // registers "duckdb"

	"github.com/canonica-labs/groundsql/internal/adapters"
	"github.com/canonica-labs/groundsql/internal/config"
	"github.com/canonica-labs/groundsql/internal/errors"
	gsql "github.com/canonica-labs/groundsql/internal/sql"
)

// Name is the driver name in configuration.
const Name = "duckdb"

const (
	listTablesQuery = `SELECT table_name
FROM information_schema.tables
WHERE table_type = 'BASE TABLE' AND table_schema = current_schema()
ORDER BY table_name`

	describeTableQuery = `SELECT column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = ?
ORDER BY ordinal_position`
)

// Open opens a DuckDB database. An empty DSN is an in-memory database.
func Open(cfg config.StoreConfig) (adapters.Store, error) {
	path := cfg.DSN
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(err, "duckdb: failed to open database")
	}
	return New(db, cfg), nil
}

// New wraps an existing pool.
func New(db *sql.DB, cfg config.StoreConfig) *adapters.SQLStore {
	return adapters.NewSQLStore(db, adapters.SQLStoreConfig{
		Name:         Name,
		Dialect:      gsql.DialectANSI,
		QueryTimeout: cfg.QueryTimeout,
		Introspection: adapters.Introspection{
			ListTables:    listTablesQuery,
			DescribeTable: describeTableQuery,
		},
	})
}
