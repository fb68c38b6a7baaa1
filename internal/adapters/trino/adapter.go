// Package trino provides the Trino store adapter.
//
// The DSN has the trino-go-client form
// http[s]://user@host:port?catalog=X&schema=Y; introspection is scoped to
// that catalog and schema.
package trino

import (
	"database/sql"
	"net/url"
	"time"

	_ "github.com/trinodb/trino-go-client/trino" // registers "trino"

	"github.com/canonica-labs/groundsql/internal/adapters"
	"github.com/canonica-labs/groundsql/internal/config"
	"github.com/canonica-labs/groundsql/internal/errors"
	gsql "github.com/canonica-labs/groundsql/internal/sql"
)

// Name is the driver name in configuration.
const Name = "trino"

const (
	listTablesQuery = `SELECT table_name
FROM information_schema.tables
WHERE table_type = 'BASE TABLE' AND table_schema = ?
ORDER BY table_name`

	describeTableQuery = `SELECT column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = ? AND table_name = ?
ORDER BY ordinal_position`
)

// Open opens a Trino pool from cfg.DSN.
func Open(cfg config.StoreConfig) (adapters.Store, error) {
	if cfg.DSN == "" {
		return nil, errors.NewMissingConfiguration([]string{"store.dsn"})
	}
	schemaName, err := SchemaFromDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("trino", cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "trino: failed to open connection")
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)
	return New(db, schemaName, cfg), nil
}

// SchemaFromDSN returns the schema query parameter of dsn, "default" when
// absent.
func SchemaFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", errors.Wrap(err, "trino: invalid DSN")
	}
	if s := u.Query().Get("schema"); s != "" {
		return s, nil
	}
	return "default", nil
}

// New wraps an existing pool whose session uses schemaName.
func New(db *sql.DB, schemaName string, cfg config.StoreConfig) *adapters.SQLStore {
	return adapters.NewSQLStore(db, adapters.SQLStoreConfig{
		Name:         Name,
		Dialect:      gsql.DialectANSI,
		QueryTimeout: cfg.QueryTimeout,
		Introspection: adapters.Introspection{
			ListTables:        listTablesQuery,
			ListTablesArgs:    []any{schemaName},
			DescribeTable:     describeTableQuery,
			DescribeTableArgs: []any{schemaName},
		},
	})
}
