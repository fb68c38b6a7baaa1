// Package main is the entrypoint for the groundsql CLI.
package main

import (
	"os"

	"github.com/canonica-labs/groundsql/internal/cli"
)

var (
	version = ""
	commit  = ""
	date    = ""
)

func main() {
	cli.SetVersionInfo(version, commit, date)
	os.Exit(cli.New().Execute())
}
