// Package drivers registers every built-in store adapter.
package drivers

import (
	"github.com/canonica-labs/groundsql/internal/adapters"
	"github.com/canonica-labs/groundsql/internal/adapters/duckdb"
	"github.com/canonica-labs/groundsql/internal/adapters/mssql"
	"github.com/canonica-labs/groundsql/internal/adapters/postgres"
	"github.com/canonica-labs/groundsql/internal/adapters/snowflake"
	"github.com/canonica-labs/groundsql/internal/adapters/trino"
)

// Registry returns a registry with all built-in adapters.
func Registry() *adapters.Registry {
	r := adapters.NewRegistry()
	r.Register(mssql.Name, mssql.Open)
	r.Register(duckdb.Name, duckdb.Open)
	r.Register(postgres.Name, postgres.Open)
	r.Register(postgres.RedshiftName, postgres.OpenRedshift)
	r.Register(trino.Name, trino.Open)
	r.Register(snowflake.Name, snowflake.Open)
	return r
}
