package cli

import (
	"github.com/spf13/cobra"

	"github.com/canonica-labs/groundsql/internal/errors"
	"github.com/canonica-labs/groundsql/pkg/models"
)

func (c *CLI) newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Schema snapshot commands",
		Long:  `Show or refresh the schema snapshot questions are grounded in.`,
	}
	cmd.AddCommand(c.newSchemaShowCmd())
	cmd.AddCommand(c.newSchemaRefreshCmd())
	return cmd
}

func (c *CLI) newSchemaShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List tables and columns of the schema snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := c.client(ctx)
			if err != nil {
				return err
			}
			s, err := b.Schema(ctx)
			if err != nil {
				return err
			}
			return c.showSchema(s)
		},
	}
}

func (c *CLI) newSchemaRefreshCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Reload the schema snapshot from its source",
		Long: `Reload the schema snapshot.

Sources:
  live         introspect the relational store (INFORMATION_SCHEMA)
  spreadsheet  read schema.spreadsheet_path (.xlsx)
  manual       read schema.manual_path (YAML), or the built-in sample

On failure the previous snapshot stays in use.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := c.client(ctx)
			if err != nil {
				return err
			}
			s, err := b.RefreshSchema(ctx, source)
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return c.outputJSON(s)
			}
			c.printf("✓ Schema refreshed: %d tables\n", len(s.Tables))
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "live, spreadsheet or manual (default: schema.source)")
	return cmd
}

func (c *CLI) showSchema(s models.Schema) error {
	if c.jsonOutput {
		return c.outputJSON(s)
	}
	if len(s.Tables) == 0 {
		c.println("Schema snapshot is empty.")
		return nil
	}
	c.printf("Schema captured %s, %d tables\n\n", s.CapturedAt.Local().Format("2006-01-02 15:04:05"), len(s.Tables))

	rows := make([]map[string]any, 0)
	for _, t := range s.Tables {
		for _, col := range t.Columns {
			null := "NOT NULL"
			if col.Nullable {
				null = "NULL"
			}
			rows = append(rows, map[string]any{
				"table":    t.Name,
				"column":   col.Name,
				"type":     col.DataType,
				"nullable": null,
			})
		}
		if len(t.Columns) == 0 {
			rows = append(rows, map[string]any{"table": t.Name, "column": "(no columns)"})
		}
	}
	return c.printTable([]string{"table", "column", "type", "nullable"}, rows)
}

func (c *CLI) newSQLCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sql",
		Short: "Statement checks",
	}
	cmd.AddCommand(c.newSQLCheckCmd())
	return cmd
}

func (c *CLI) newSQLCheckCmd() *cobra.Command {
	var rowLimit int
	cmd := &cobra.Command{
		Use:   "check <SQL>",
		Short: "Run a statement through the safety gate without executing it",
		Long: `Run a statement through the safety gate and the row limit.
Nothing is executed. Exit code 0 means accepted, 1 means refused.

Example:
  groundsql sql check "SELECT name FROM client"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := c.client(ctx)
			if err != nil {
				return err
			}
			res, err := b.CheckSQL(ctx, args[0], rowLimit)
			if err != nil {
				return err
			}
			if c.jsonOutput {
				if err := c.outputJSON(res); err != nil {
					return err
				}
			} else if res.Valid {
				c.printf("✓ %s\n", res.Message)
				c.printf("  Runs as: %s\n", res.LimitedSQL)
			}
			if !res.Valid {
				return refused(res)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&rowLimit, "row-limit", 0, "row limit to apply (default: pipeline.row_limit)")
	return cmd
}

// refused reports a statement the safety gate did not accept.
func refused(res models.SQLCheckResult) error {
	reason := ""
	if res.Rule != "" {
		reason = "rule " + res.Rule
	}
	return &errors.GroundError{
		Code:       errors.CodeValidation,
		Message:    res.Message,
		Reason:     reason,
		Suggestion: "only a single SELECT statement is accepted",
	}
}
