// Package mssql provides the Microsoft SQL Server store adapter, the
// default store. Statements pass through in T-SQL unchanged.
package mssql

import (
	"database/sql"

	_ "github.com/microsoft/go-mssqldb" // registers "sqlserver"

	"github.com/canonica-labs/groundsql/internal/adapters"
	"github.com/canonica-labs/groundsql/internal/config"
	"github.com/canonica-labs/groundsql/internal/errors"
	gsql "github.com/canonica-labs/groundsql/internal/sql"
)

// Name is the driver name in configuration.
const Name = "mssql"

const (
	listTablesQuery = `SELECT TABLE_NAME
FROM INFORMATION_SCHEMA.TABLES
WHERE TABLE_TYPE = 'BASE TABLE'
ORDER BY TABLE_NAME`

	describeTableQuery = `SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_NAME = @p1
ORDER BY ORDINAL_POSITION`
)

// Open opens a SQL Server pool from cfg. The DSN comes from cfg.DSN or is
// built from server, database and credentials.
func Open(cfg config.StoreConfig) (adapters.Store, error) {
	dsn := cfg.ConnectionString()
	if dsn == "" {
		return nil, errors.NewMissingConfiguration([]string{"store.dsn"})
	}
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "mssql: failed to open connection")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return New(db, cfg), nil
}

// New wraps an existing pool.
func New(db *sql.DB, cfg config.StoreConfig) *adapters.SQLStore {
	return adapters.NewSQLStore(db, adapters.SQLStoreConfig{
		Name:         Name,
		Dialect:      gsql.DialectTSQL,
		QueryTimeout: cfg.QueryTimeout,
		Introspection: adapters.Introspection{
			ListTables:    listTablesQuery,
			DescribeTable: describeTableQuery,
		},
	})
}
