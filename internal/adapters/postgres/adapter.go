// Package postgres provides the PostgreSQL store adapter. Amazon Redshift
// speaks the same protocol and INFORMATION_SCHEMA, so it is served by the
// same adapter under the "redshift" driver name.
package postgres

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq" // registers "postgres"

	"github.com/canonica-labs/groundsql/internal/adapters"
	"github.com/canonica-labs/groundsql/internal/config"
	"github.com/canonica-labs/groundsql/internal/errors"
	gsql "github.com/canonica-labs/groundsql/internal/sql"
)

// Driver names in configuration.
const (
	Name         = "postgres"
	RedshiftName = "redshift"
)

const (
	listTablesQuery = `SELECT table_name
FROM information_schema.tables
WHERE table_type = 'BASE TABLE' AND table_schema = current_schema()
ORDER BY table_name`

	describeTableQuery = `SELECT column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1
ORDER BY ordinal_position`
)

// Open opens a PostgreSQL pool from cfg.DSN.
func Open(cfg config.StoreConfig) (adapters.Store, error) {
	return open(Name, cfg)
}

// OpenRedshift opens a Redshift pool from cfg.DSN.
func OpenRedshift(cfg config.StoreConfig) (adapters.Store, error) {
	return open(RedshiftName, cfg)
}

func open(name string, cfg config.StoreConfig) (adapters.Store, error) {
	if cfg.DSN == "" {
		return nil, errors.NewMissingConfiguration([]string{"store.dsn"})
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: failed to open connection", name)
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return newStore(name, db, cfg), nil
}

// New wraps an existing pool.
func New(db *sql.DB, cfg config.StoreConfig) *adapters.SQLStore {
	return newStore(Name, db, cfg)
}

func newStore(name string, db *sql.DB, cfg config.StoreConfig) *adapters.SQLStore {
	return adapters.NewSQLStore(db, adapters.SQLStoreConfig{
		Name:         name,
		Dialect:      gsql.DialectANSI,
		QueryTimeout: cfg.QueryTimeout,
		Introspection: adapters.Introspection{
			ListTables:    listTablesQuery,
			DescribeTable: describeTableQuery,
		},
	})
}
