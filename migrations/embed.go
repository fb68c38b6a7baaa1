// Package migrations embeds the SQL migrations for the pipeline state database.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
