package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/canonica-labs/groundsql/internal/auth"
	"github.com/canonica-labs/groundsql/internal/errors"
)

func (c *CLI) newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Gateway authentication commands",
		Long:  `Manage the bearer token sent to a groundsql gateway.`,
	}

	cmd.AddCommand(c.newAuthLoginCmd())
	cmd.AddCommand(c.newAuthStatusCmd())
	cmd.AddCommand(c.newAuthLogoutCmd())
	cmd.AddCommand(c.newAuthTokenCmd())

	return cmd
}

func (c *CLI) newAuthLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Store a gateway token",
		Long: `Store a static bearer token for the gateway in ~/.groundsql/token.

The token comes from --token. Tokens are configured on the gateway under
server.tokens.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runAuthLogin()
		},
	}
}

func (c *CLI) runAuthLogin() error {
	token := strings.TrimSpace(c.token)
	if token == "" {
		return errors.NewAuthFailed("token required")
	}

	configDir, err := c.getConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	tokenFile := filepath.Join(configDir, "token")
	if err := os.WriteFile(tokenFile, []byte(token), 0o600); err != nil {
		return errors.Wrap(err, "failed to save token")
	}

	c.println("✓ Token saved")
	c.printf("  Token file: %s\n", tokenFile)
	return nil
}

func (c *CLI) newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Display who the current token authenticates as",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := c.client(ctx)
			if err != nil {
				return err
			}
			st, err := b.WhoAmI(ctx)
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return c.outputJSON(st)
			}
			c.println("Authentication Status:")
			c.printf("  User:   %s\n", st.UserName)
			c.printf("  Roles:  %s\n", strings.Join(st.Roles, ", "))
			if c.remote() {
				c.printf("  Token source: %s\n", c.getTokenSource())
			} else {
				c.println("  Mode:   in-process (no gateway)")
			}
			if !st.ExpiresAt.IsZero() {
				c.printf("  Expires: %s\n", st.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func (c *CLI) newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, err := c.getConfigDir()
			if err != nil {
				return err
			}
			tokenFile := filepath.Join(configDir, "token")
			if err := os.Remove(tokenFile); err != nil && !os.IsNotExist(err) {
				return errors.Wrap(err, "failed to remove token")
			}
			c.println("✓ Logged out")
			return nil
		},
	}
}

func (c *CLI) newAuthTokenCmd() *cobra.Command {
	var (
		user  string
		roles []string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed gateway token",
		Long: `Mint an HS256 token signed with server.jwt_secret. Gateways sharing
the secret accept it until it expires.

Example:
  groundsql auth token --user bob --role approver --ttl 8h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := c.cfg.Server.JWTSecret
			if secret == "" {
				return errors.NewMissingConfiguration([]string{"server.jwt_secret"})
			}
			if ttl <= 0 {
				ttl = c.cfg.Server.JWTTTL
			}
			signer, err := auth.NewJWTAuthenticator(secret)
			if err != nil {
				return err
			}
			token, exp, err := signer.Issue(user, roles, ttl)
			if err != nil {
				return &errors.GroundError{Code: errors.CodeValidation, Message: "cannot mint token", Reason: describe(err)}
			}
			if c.jsonOutput {
				return c.outputJSON(map[string]interface{}{"token": token, "user": user, "roles": roles, "expires_at": exp})
			}
			fmt.Fprintln(c.out, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user name recorded on approvals")
	cmd.Flags().StringSliceVar(&roles, "role", []string{auth.RoleAnalyst}, "role to grant (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: server.jwt_ttl)")
	return cmd
}

// Helper functions

func (c *CLI) getConfigDir() (string, error) {
	if dir := os.Getenv("GROUNDSQL_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get home directory")
	}
	return filepath.Join(home, ".groundsql"), nil
}

// getToken prefers the flag, then the config file, then the token file.
func (c *CLI) getToken() string {
	if c.token != "" {
		return c.token
	}
	if c.cfg != nil && c.cfg.Token != "" {
		return c.cfg.Token
	}

	configDir, err := c.getConfigDir()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(configDir, "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (c *CLI) getTokenSource() string {
	if c.token != "" {
		return "command-line flag"
	}
	if c.cfg != nil && c.cfg.Token != "" {
		return "config file"
	}
	return "token file (~/.groundsql/token)"
}
