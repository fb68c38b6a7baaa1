// Package cli provides the groundsql command-line interface.
//
// Commands run the pipeline in-process by default. With --endpoint (or
// endpoint in the config file) they become a client of a running gateway
// and send the same requests over HTTP.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/canonica-labs/groundsql/internal/config"
	"github.com/canonica-labs/groundsql/internal/errors"
	"github.com/canonica-labs/groundsql/internal/observability"
)

// Exit codes, one per error code.
const (
	ExitSuccess    = 0
	ExitValidation = 1
	ExitAuth       = 2
	ExitUpstream   = 3
	ExitInternal   = 4
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// CLI holds the command-line interface state.
type CLI struct {
	rootCmd *cobra.Command
	cfg     *config.Config
	out     io.Writer
	errOut  io.Writer

	backend    Backend
	newBackend func(ctx context.Context) (Backend, error)
	ownBackend bool

	// Global flags
	configPath string
	endpoint   string
	token      string
	jsonOutput bool
	quiet      bool
	debug      bool
}

// New creates a new CLI instance writing to stdout and stderr.
func New() *CLI {
	c := &CLI{out: os.Stdout, errOut: os.Stderr}
	c.newBackend = c.openBackend
	c.rootCmd = c.newRootCmd()
	return c
}

// NewWithBackend creates a CLI whose commands use b instead of building one
// from configuration.
func NewWithBackend(b Backend, out, errOut io.Writer) *CLI {
	c := &CLI{out: out, errOut: errOut, backend: b, cfg: &config.Config{}}
	c.rootCmd = c.newRootCmd()
	c.rootCmd.PersistentPreRunE = nil
	return c
}

// SetArgs replaces os.Args[1:] for the next Execute.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// Execute runs the CLI and returns the process exit code.
func (c *CLI) Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer c.closeBackend()
	if err := c.rootCmd.ExecuteContext(ctx); err != nil {
		c.printError(err)
		return ExitCode(err)
	}
	return ExitSuccess
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	switch errors.CodeOf(err) {
	case errors.CodeValidation:
		return ExitValidation
	case errors.CodeAuth:
		return ExitAuth
	case errors.CodeUpstream:
		return ExitUpstream
	default:
		return ExitInternal
	}
}

func (c *CLI) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groundsql",
		Short: "groundsql - ask questions of a SQL database in plain language",
		Long: `groundsql turns a natural-language question into a single read-only
SELECT statement grounded in the live schema, and runs it only after a
human approved it.

Every question goes through:
  • intent analysis and schema grounding (abstains when nothing matches)
  • SQL synthesis by the text oracle
  • a safety gate and a row limit
  • the approval gate, then execution and a short summary`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initConfig()
		},
	}
	cmd.SetOut(c.out)
	cmd.SetErr(c.errOut)

	// Global flags
	cmd.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default: ./groundsql.yaml or ~/.groundsql/config.yaml)")
	cmd.PersistentFlags().StringVar(&c.endpoint, "endpoint", "", "gateway URL; empty runs the pipeline in-process")
	cmd.PersistentFlags().StringVar(&c.token, "token", "", "gateway bearer token (overrides config)")
	cmd.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "machine-readable JSON output")
	cmd.PersistentFlags().BoolVar(&c.quiet, "quiet", false, "suppress non-essential output")
	cmd.PersistentFlags().BoolVar(&c.debug, "debug", false, "verbose debug logs")

	cmd.AddCommand(c.newAskCmd())
	cmd.AddCommand(c.newApproveCmd())
	cmd.AddCommand(c.newRejectCmd())
	cmd.AddCommand(c.newShowCmd())
	cmd.AddCommand(c.newHistoryCmd())
	cmd.AddCommand(c.newSchemaCmd())
	cmd.AddCommand(c.newSQLCmd())
	cmd.AddCommand(c.newAuditCmd())
	cmd.AddCommand(c.newAuthCmd())
	cmd.AddCommand(c.newDoctorCmd())
	cmd.AddCommand(c.newVersionCmd())

	return cmd
}

func (c *CLI) initConfig() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg

	// Override with flags
	if c.endpoint != "" {
		c.cfg.Endpoint = c.endpoint
	}
	if c.token != "" {
		c.cfg.Token = c.token
	}
	if c.debug {
		c.cfg.Logging.Level = "debug"
	}

	return nil
}

// client returns the backend, building it on first use.
func (c *CLI) client(ctx context.Context) (Backend, error) {
	if c.backend != nil {
		return c.backend, nil
	}
	b, err := c.newBackend(ctx)
	if err != nil {
		return nil, err
	}
	c.backend = b
	c.ownBackend = true
	return b, nil
}

func (c *CLI) closeBackend() {
	if c.backend == nil || !c.ownBackend {
		return
	}
	if err := c.backend.Close(); err != nil {
		c.debugf("close: %v\n", err)
	}
}

func (c *CLI) remote() bool {
	return c.cfg != nil && c.cfg.Endpoint != ""
}

func (c *CLI) openBackend(ctx context.Context) (Backend, error) {
	if c.remote() {
		c.debugf("using gateway %s\n", c.cfg.Endpoint)
		return NewGatewayClient(c.cfg.Endpoint, c.getToken()), nil
	}
	logger, err := c.logger()
	if err != nil {
		return nil, err
	}
	return OpenLocal(ctx, c.cfg, logger)
}

// logger is quiet unless --debug or logging.level asks for more.
func (c *CLI) logger() (*zap.Logger, error) {
	lc := c.cfg.Logging
	if !c.debug && lc.Level == "" {
		lc.Level = "warn"
	}
	return observability.NewLogger(lc)
}

// Helper functions for output

func (c *CLI) printf(format string, args ...interface{}) {
	if !c.quiet {
		fmt.Fprintf(c.out, format, args...)
	}
}

func (c *CLI) println(args ...interface{}) {
	if !c.quiet {
		fmt.Fprintln(c.out, args...)
	}
}

func (c *CLI) errorf(format string, args ...interface{}) {
	fmt.Fprintf(c.errOut, format, args...)
}

func (c *CLI) debugf(format string, args ...interface{}) {
	if c.debug {
		fmt.Fprintf(c.errOut, "[DEBUG] "+format, args...)
	}
}

func (c *CLI) outputJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printError renders err with its reason and suggestion, or as an error
// object with --json.
func (c *CLI) printError(err error) {
	ge, ok := errors.Details(err)
	if c.jsonOutput {
		body := map[string]interface{}{"error": err.Error(), "exit_code": ExitCode(err)}
		if ok {
			body["error"] = ge.Message
			body["reason"] = ge.Reason
			body["suggestion"] = ge.Suggestion
		}
		enc := json.NewEncoder(c.errOut)
		enc.SetIndent("", "  ")
		_ = enc.Encode(body)
		return
	}
	if !ok {
		c.errorf("Error: %v\n", err)
		return
	}
	c.errorf("Error: %s\n", ge.Message)
	if ge.Reason != "" {
		c.errorf("Reason: %s\n", ge.Reason)
	}
	if ge.Suggestion != "" {
		c.errorf("Suggestion: %s\n", ge.Suggestion)
	}
	if ge.Cause != nil {
		c.debugf("cause: %v\n", ge.Cause)
	}
}
