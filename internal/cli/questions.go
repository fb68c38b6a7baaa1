package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/canonica-labs/groundsql/internal/present"
	"github.com/canonica-labs/groundsql/pkg/models"
)

const stepAwaitingApproval = "awaiting_approval"

func (c *CLI) newAskCmd() *cobra.Command {
	var (
		approve bool
		export  string
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question in plain language",
		Long: `Ask a question about the data in plain language.

The question is grounded in the schema, turned into a single SELECT
statement and checked by the safety gate. It then waits for approval
unless --approve is given.

Example:
  groundsql ask "show client city in new york"
  groundsql ask --approve --csv clients.csv "list clients in boston"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runAsk(cmd.Context(), strings.Join(args, " "), approve, export)
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "approve and run the statement right away")
	cmd.Flags().StringVar(&export, "csv", "", "write result rows to this file (.csv or .xlsx)")
	return cmd
}

func (c *CLI) runAsk(ctx context.Context, question string, approve bool, export string) error {
	b, err := c.client(ctx)
	if err != nil {
		return err
	}
	q, err := b.Ask(ctx, question)
	if err != nil {
		return err
	}
	c.debugf("question %s stopped at %s\n", q.ID, q.Step)

	if approve && q.Step == stepAwaitingApproval {
		if !c.jsonOutput {
			c.printf("Generated SQL:\n  %s\n\n", q.SQL)
		}
		q, err = b.Approve(ctx, q.ID)
		if err != nil {
			return err
		}
	}
	return c.showQuestion(q, export)
}

func (c *CLI) newApproveCmd() *cobra.Command {
	var export string
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a question waiting for approval and run it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := c.client(ctx)
			if err != nil {
				return err
			}
			q, err := b.Approve(ctx, args[0])
			if err != nil {
				return err
			}
			return c.showQuestion(q, export)
		},
	}
	cmd.Flags().StringVar(&export, "csv", "", "write result rows to this file (.csv or .xlsx)")
	return cmd
}

func (c *CLI) newRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a question waiting for approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := c.client(ctx)
			if err != nil {
				return err
			}
			q, err := b.Reject(ctx, args[0], reason)
			if err != nil {
				return err
			}
			return c.showQuestion(q, "")
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the statement was rejected")
	return cmd
}

func (c *CLI) newShowCmd() *cobra.Command {
	var export string
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a question and its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := c.client(ctx)
			if err != nil {
				return err
			}
			q, err := b.Question(ctx, args[0])
			if err != nil {
				return err
			}
			return c.showQuestion(q, export)
		},
	}
	cmd.Flags().StringVar(&export, "csv", "", "write result rows to this file (.csv or .xlsx)")
	return cmd
}

func (c *CLI) newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent questions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := c.client(ctx)
			if err != nil {
				return err
			}
			list, err := b.History(ctx, limit)
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return c.outputJSON(list)
			}
			if len(list.Questions) == 0 {
				c.println("No questions yet.")
				return nil
			}
			rows := make([]map[string]any, 0, len(list.Questions))
			for _, q := range list.Questions {
				rows = append(rows, map[string]any{
					"id":       q.ID,
					"step":     q.Step,
					"asked_by": q.AskedBy,
					"question": truncate(q.Question, 60),
					"updated":  q.UpdatedAt.Local().Format(time.DateTime),
				})
			}
			return c.printTable([]string{"id", "step", "asked_by", "question", "updated"}, rows)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "how many questions to list")
	return cmd
}

// showQuestion prints q and, when export is set, writes its rows there.
func (c *CLI) showQuestion(q models.Question, export string) error {
	if export != "" && q.Rows != nil {
		if err := present.Export(export, q.Columns, q.Rows); err != nil {
			return err
		}
		c.debugf("wrote %d rows to %s\n", len(q.Rows), export)
	}
	if c.jsonOutput {
		return c.outputJSON(q)
	}

	c.printf("%s %s\n", pterm.Bold.Sprint("Question:"), q.Question)
	c.printf("%s %s\n", pterm.Bold.Sprint("ID:      "), q.ID)
	c.printf("%s %s\n", pterm.Bold.Sprint("Step:    "), stepLabel(q.Step))
	if len(q.GroundedTables) > 0 {
		c.printf("%s %s\n", pterm.Bold.Sprint("Tables:  "), strings.Join(q.GroundedTables, ", "))
	}
	if q.SQL != "" {
		c.printf("\n%s\n  %s\n", pterm.Bold.Sprint("SQL:"), q.SQL)
	}
	if q.ValidationMessage != "" {
		c.printf("\n%s\n", q.ValidationMessage)
	}
	for _, m := range q.Messages {
		if m.Level != "info" {
			c.printf("  [%s] %s\n", m.Level, m.Text)
		} else {
			c.debugf("[%s] %s\n", m.Stage, m.Text)
		}
	}

	switch {
	case q.Step == stepAwaitingApproval:
		c.printf("\nApprove with:  groundsql approve %s\n", q.ID)
		c.printf("Reject with:   groundsql reject %s --reason \"...\"\n", q.ID)
	case q.Summary != "":
		c.printf("\n%s\n", q.Summary)
		if len(q.Rows) > 0 && !strings.Contains(q.Summary, "formatting failed") {
			c.println("")
			if err := c.printTable(q.Columns, q.Rows); err != nil {
				return err
			}
		}
	case q.ExecutionError != "":
		c.printf("\nQuery execution failed: %s\n", q.ExecutionError)
	case q.FatalError != "":
		c.printf("\n%s\n", q.FatalError)
	}
	if export != "" && q.Rows != nil {
		c.printf("\nWrote %d rows to %s\n", len(q.Rows), export)
	}
	return nil
}

func (c *CLI) printTable(columns []string, rows []map[string]any) error {
	out, err := present.Table(columns, rows)
	if err != nil {
		return err
	}
	c.println(out)
	return nil
}

func stepLabel(step string) string {
	switch step {
	case "formatted":
		return pterm.Green(step)
	case stepAwaitingApproval:
		return pterm.Yellow(step)
	case "abstained_no_schema", "abstained_sentinel", "rejected":
		return pterm.Yellow(step)
	case "validation_failed", "execution_failed", "error":
		return pterm.Red(step)
	default:
		return step
	}
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return fmt.Sprintf("%s...", string([]rune(s)[:n-3]))
}
