package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/canonica-labs/groundsql/internal/errors"
)

func (c *CLI) newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run system diagnostics",
		Long: `Run system diagnostics.

Checks:
  - configuration (required credentials present)
  - relational store connectivity
  - state store connectivity
  - schema snapshot
  - text oracle configuration`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runDoctor(cmd)
		},
	}
}

// DiagnosticCheck represents a single diagnostic check result.
type DiagnosticCheck struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

func (c *CLI) runDoctor(cmd *cobra.Command) error {
	checks := []DiagnosticCheck{c.checkConfig()}
	allPassed := checks[0].Passed

	if allPassed {
		ctx := cmd.Context()
		b, err := c.client(ctx)
		if err != nil {
			checks = append(checks, DiagnosticCheck{Name: "startup", Message: describe(err)})
			allPassed = false
		} else if health, err := b.Status(ctx); err != nil {
			checks = append(checks, DiagnosticCheck{Name: "status", Message: describe(err)})
			allPassed = false
		} else {
			for _, comp := range health.Components {
				checks = append(checks, DiagnosticCheck{Name: comp.Name, Passed: comp.Ready, Message: comp.Message})
				allPassed = allPassed && comp.Ready
			}
		}
	}

	if c.jsonOutput {
		if err := c.outputJSON(map[string]interface{}{
			"checks":     checks,
			"all_passed": allPassed,
		}); err != nil {
			return err
		}
	} else {
		c.println("groundsql diagnostics")
		c.println("=====================")
		for _, check := range checks {
			c.printCheck(check)
		}
		c.println("")
	}

	if !allPassed {
		return &errors.GroundError{
			Code:       errors.CodeUpstream,
			Message:    "some checks failed",
			Suggestion: "fix the failing components above and run 'groundsql doctor' again",
		}
	}
	c.println("✓ All checks passed")
	return nil
}

func (c *CLI) printCheck(check DiagnosticCheck) {
	mark := "✗"
	if check.Passed {
		mark = "✓"
	}
	c.printf("%s %s: %s\n", mark, check.Name, check.Message)
}

func (c *CLI) checkConfig() DiagnosticCheck {
	check := DiagnosticCheck{Name: "configuration"}
	if c.cfg == nil {
		check.Message = "no configuration loaded"
		return check
	}
	if c.remote() {
		check.Passed = true
		check.Message = fmt.Sprintf("gateway %s", c.cfg.Endpoint)
		return check
	}
	if c.backend == nil {
		if err := c.cfg.Validate(); err != nil {
			check.Message = describe(err)
			return check
		}
	}
	check.Passed = true
	check.Message = "in-process pipeline"
	return check
}

// describe renders an error on one line with its reason.
func describe(err error) string {
	ge, ok := errors.Details(err)
	if !ok {
		return strings.SplitN(err.Error(), "\n", 2)[0]
	}
	if ge.Reason == "" {
		return ge.Message
	}
	return ge.Message + " (" + ge.Reason + ")"
}
