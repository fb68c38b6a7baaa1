package cli

import (
	"sort"

	"github.com/spf13/cobra"
)

func (c *CLI) newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit trail commands",
		Long:  `Commands over the pipeline audit trail.`,
	}
	cmd.AddCommand(c.newAuditSummaryCmd())
	return cmd
}

func (c *CLI) newAuditSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show audit summary",
		Long: `Display aggregated audit statistics:
  - step outcomes (completed, pending, abstained, rejected, failed)
  - top abstention, rejection and failure reasons
  - top grounded tables

No result rows are exposed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := c.client(ctx)
			if err != nil {
				return err
			}
			summary, err := b.AuditSummary(ctx)
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return c.outputJSON(summary)
			}

			c.println("Outcomes:")
			outcomes := make([]string, 0, len(summary.Outcomes))
			for o := range summary.Outcomes {
				outcomes = append(outcomes, o)
			}
			sort.Strings(outcomes)
			for _, o := range outcomes {
				c.printf("  %-10s %d\n", o+":", summary.Outcomes[o])
			}

			if len(summary.TopReasons) > 0 {
				c.println("\nTop Reasons:")
				for _, r := range summary.TopReasons {
					c.printf("  - %s: %d\n", r.Reason, r.Count)
				}
			}
			if len(summary.TopTables) > 0 {
				c.println("\nTop Tables:")
				for _, t := range summary.TopTables {
					c.printf("  - %s: %d\n", t.Table, t.Count)
				}
			}
			return nil
		},
	}
}
