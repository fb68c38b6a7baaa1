// Package config provides configuration loading for the groundsql CLI and gateway.
//
// Sources, lowest precedence first: built-in defaults, the YAML config file,
// a .env file in the working directory, then GROUNDSQL_* environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/canonica-labs/groundsql/internal/errors"
)

// Config holds the application configuration.
type Config struct {
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Store    StoreConfig    `mapstructure:"store"`
	Schema   SchemaConfig   `mapstructure:"schema"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Server   ServerConfig   `mapstructure:"server"`

	// Endpoint is the gateway URL used by remote CLI commands. Empty runs
	// the pipeline in-process.
	Endpoint string `mapstructure:"endpoint"`
	// Token is the bearer token the CLI sends to the gateway.
	Token string `mapstructure:"token"`
}

// OracleConfig configures the OpenAI-compatible chat completions endpoint.
type OracleConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	Temperature       float64       `mapstructure:"temperature"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// StoreConfig configures the relational store that answers questions.
type StoreConfig struct {
	// Driver is one of mssql, duckdb, postgres, redshift, trino, snowflake.
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Server   string `mapstructure:"server"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	// MaxAttempts bounds executions of an approved statement when the store
	// fails with a connection error or a timeout.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// SchemaConfig configures the schema snapshot cache.
type SchemaConfig struct {
	TTL       time.Duration `mapstructure:"ttl"`
	CachePath string        `mapstructure:"cache_path"`
	// Source is the default refresh source: live, spreadsheet or manual.
	Source          string `mapstructure:"source"`
	SpreadsheetPath string `mapstructure:"spreadsheet_path"`
	SpreadsheetTab  string `mapstructure:"spreadsheet_sheet"`
	ManualPath      string `mapstructure:"manual_path"`
	// Watch reloads the snapshot when the spreadsheet or manual file changes.
	Watch bool `mapstructure:"watch"`
}

// PipelineConfig configures the question pipeline and its state backend.
type PipelineConfig struct {
	RowLimit      int           `mapstructure:"row_limit"`
	MaxTables     int           `mapstructure:"max_tables"`
	StateBackend  string        `mapstructure:"state_backend"`
	StateDSN      string        `mapstructure:"state_dsn"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	ApprovalTTL   time.Duration `mapstructure:"approval_ttl"`
	AuditLogPath  string        `mapstructure:"audit_log_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig holds gateway HTTP configuration.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Tokens       []TokenConfig `mapstructure:"tokens"`
	// JWTSecret enables HS256 tokens minted by "groundsql auth token".
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTTTL    time.Duration `mapstructure:"jwt_ttl"`
}

// TokenConfig maps a static bearer token to a user.
type TokenConfig struct {
	Token string   `mapstructure:"token"`
	User  string   `mapstructure:"user"`
	Roles []string `mapstructure:"roles"`
}

// Drivers lists the supported store drivers.
var Drivers = []string{"mssql", "duckdb", "postgres", "redshift", "trino", "snowflake"}

// Load loads configuration from file and environment.
func Load(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".groundsql"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("groundsql")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("GROUNDSQL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("oracle.api_key", "GROUNDSQL_ORACLE_API_KEY", "OPENAI_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "error reading config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "error parsing config")
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	cfg.Schema.Source = strings.ToLower(strings.TrimSpace(cfg.Schema.Source))

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("endpoint", "")
	v.SetDefault("token", "")

	v.SetDefault("oracle.base_url", "https://api.openai.com/v1")
	v.SetDefault("oracle.api_key", "")
	v.SetDefault("oracle.model", "gpt-4o-mini")
	v.SetDefault("oracle.temperature", 0.0)
	v.SetDefault("oracle.timeout", "30s")
	v.SetDefault("oracle.max_attempts", 3)
	v.SetDefault("oracle.initial_backoff", "500ms")
	v.SetDefault("oracle.max_backoff", "8s")
	v.SetDefault("oracle.requests_per_second", 2.0)

	v.SetDefault("store.driver", "mssql")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.server", "")
	v.SetDefault("store.database", "")
	v.SetDefault("store.username", "")
	v.SetDefault("store.password", "")
	v.SetDefault("store.query_timeout", "30s")
	v.SetDefault("store.max_attempts", 1)
	v.SetDefault("store.max_open_conns", 4)

	v.SetDefault("schema.ttl", "1h")
	v.SetDefault("schema.cache_path", "schema_cache.json")
	v.SetDefault("schema.source", "live")
	v.SetDefault("schema.spreadsheet_path", "")
	v.SetDefault("schema.spreadsheet_sheet", "")
	v.SetDefault("schema.manual_path", "")
	v.SetDefault("schema.watch", false)

	v.SetDefault("pipeline.row_limit", 100)
	v.SetDefault("pipeline.max_tables", 5)
	v.SetDefault("pipeline.state_backend", "sqlite")
	v.SetDefault("pipeline.state_dsn", "groundsql.db")
	v.SetDefault("pipeline.redis_addr", "localhost:6379")
	v.SetDefault("pipeline.redis_password", "")
	v.SetDefault("pipeline.redis_db", 0)
	v.SetDefault("pipeline.approval_ttl", "24h")
	v.SetDefault("pipeline.audit_log_path", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.tokens", []TokenConfig{})
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.jwt_ttl", "12h")
}

// Validate checks the settings a running pipeline cannot do without. A
// missing credential is fatal: callers must stop before building anything.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Oracle.APIKey) == "" {
		missing = append(missing, "oracle.api_key")
	}
	if c.Store.ConnectionString() == "" {
		missing = append(missing, "store.dsn")
	}
	if len(missing) > 0 {
		return errors.NewMissingConfiguration(missing)
	}

	if !isOneOf(c.Store.Driver, Drivers) {
		return errors.Newf("unsupported store driver %q (want one of %s)", c.Store.Driver, strings.Join(Drivers, ", "))
	}
	if !isOneOf(c.Schema.Source, []string{"live", "spreadsheet", "manual"}) {
		return errors.Newf("unsupported schema source %q", c.Schema.Source)
	}
	if !isOneOf(c.Pipeline.StateBackend, []string{"sqlite", "redis", "memory"}) {
		return errors.Newf("unsupported state backend %q", c.Pipeline.StateBackend)
	}
	if c.Pipeline.RowLimit <= 0 {
		return errors.Newf("pipeline.row_limit must be positive, got %d", c.Pipeline.RowLimit)
	}
	if c.Schema.TTL <= 0 {
		return errors.Newf("schema.ttl must be positive, got %s", c.Schema.TTL)
	}
	return nil
}

// ConnectionString returns the DSN, building a sqlserver:// URL from the
// discrete server settings when the driver is mssql and no DSN is set.
func (s StoreConfig) ConnectionString() string {
	if s.DSN != "" {
		return s.DSN
	}
	if s.Driver != "mssql" || s.Server == "" {
		return ""
	}
	u := &url.URL{Scheme: "sqlserver", Host: s.Server}
	if s.Username != "" {
		u.User = url.UserPassword(s.Username, s.Password)
	}
	q := url.Values{}
	if s.Database != "" {
		q.Set("database", s.Database)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func isOneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// String renders the configuration with secrets masked.
func (c *Config) String() string {
	return fmt.Sprintf("oracle=%s model=%s key=%s store=%s schema.source=%s state=%s row_limit=%d",
		c.Oracle.BaseURL, c.Oracle.Model, mask(c.Oracle.APIKey), c.Store.Driver,
		c.Schema.Source, c.Pipeline.StateBackend, c.Pipeline.RowLimit)
}

func mask(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
