// Package snowflake provides the Snowflake data warehouse adapter.
package snowflake

import (
	"database/sql"
	"time"

	_ "github.com/snowflakedb/gosnowflake" // registers "snowflake"

	"github.com/canonica-labs/groundsql/internal/adapters"
	"github.com/canonica-labs/groundsql/internal/config"
	"github.com/canonica-labs/groundsql/internal/errors"
	gsql "github.com/canonica-labs/groundsql/internal/sql"
)

// Name is the driver name in configuration.
const Name = "snowflake"

const (
	listTablesQuery = `SELECT TABLE_NAME
FROM INFORMATION_SCHEMA.TABLES
WHERE TABLE_TYPE = 'BASE TABLE' AND TABLE_SCHEMA = CURRENT_SCHEMA()
ORDER BY TABLE_NAME`

	describeTableQuery = `SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = CURRENT_SCHEMA() AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION`
)

// Open opens a Snowflake pool from cfg.DSN.
func Open(cfg config.StoreConfig) (adapters.Store, error) {
	if cfg.DSN == "" {
		return nil, errors.NewMissingConfiguration([]string{"store.dsn"})
	}
	db, err := sql.Open("snowflake", cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "snowflake: failed to open connection")
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(5 * time.Minute)
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
