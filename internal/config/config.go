package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	migerr "github.com/acme-corp/pg-mongo-migrator/internal/errors"
)

// EnvPrefix prefixes every environment override, e.g. MIGRATOR_SOURCE_PASSWORD.
const EnvPrefix = "MIGRATOR"

// Sink types.
const (
	SinkMongo    = "mongodb"
	SinkJSONFile = "jsonfile"
)

// Backoff strategies.
const (
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// Config holds all configuration for one migration run. It is loaded once
// at startup and read-only afterwards.
type Config struct {
	Source         SourceConfig     `mapstructure:"source"`
	Sink           SinkConfig       `mapstructure:"sink"`
	BatchSize      int              `mapstructure:"batch_size"`
	Concurrency    int              `mapstructure:"concurrency"`
	MaxRetries     int              `mapstructure:"max_retries"`
	AttemptTimeout time.Duration    `mapstructure:"attempt_timeout"`
	Backoff        BackoffConfig    `mapstructure:"backoff"`
	Checkpoint     CheckpointConfig `mapstructure:"checkpoint"`
	Metrics        MetricsConfig    `mapstructure:"metrics"`
	Log            LogConfig        `mapstructure:"log"`
}

// SourceConfig defines the relational source. DSN wins over the discrete
// connection fields when both are set.
type SourceConfig struct {
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
	// Query selects the rows to migrate; its predicate is reused for the count.
	Query   string `mapstructure:"query"`
	OrderBy string `mapstructure:"order_by"`
}

// SinkConfig defines the document sink.
type SinkConfig struct {
	Type       string `mapstructure:"type"` // "mongodb", "jsonfile"
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
	Path       string `mapstructure:"path"` // jsonfile only
}

// BackoffConfig shapes the delay between retry attempts.
type BackoffConfig struct {
	Strategy string        `mapstructure:"strategy"` // "linear", "exponential"
	Base     time.Duration `mapstructure:"base"`
	Max      time.Duration `mapstructure:"max"`
	Jitter   float64       `mapstructure:"jitter"`
}

type CheckpointConfig struct {
	Path string `mapstructure:"path"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key so environment overrides work even when
// the key is absent from the file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("source.dsn", "")
	v.SetDefault("source.host", "localhost")
	v.SetDefault("source.port", 5432)
	v.SetDefault("source.database", "")
	v.SetDefault("source.user", "")
	v.SetDefault("source.password", "")
	v.SetDefault("source.sslmode", "prefer")
	v.SetDefault("source.query", "")
	v.SetDefault("source.order_by", "")

	v.SetDefault("sink.type", SinkMongo)
	v.SetDefault("sink.uri", "mongodb://localhost:27017")
	v.SetDefault("sink.database", "")
	v.SetDefault("sink.collection", "")
	v.SetDefault("sink.path", "migration.ndjson")

	v.SetDefault("batch_size", 1000)
	v.SetDefault("concurrency", 4)
	v.SetDefault("max_retries", 3)
	v.SetDefault("attempt_timeout", 0)

	v.SetDefault("backoff.strategy", BackoffLinear)
	v.SetDefault("backoff.base", 5*time.Second)
	v.SetDefault("backoff.max", time.Minute)
	v.SetDefault("backoff.jitter", 0.0)

	v.SetDefault("checkpoint.path", "checkpoint.txt")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Prepare registers defaults and MIGRATOR_* environment lookups on v.
func Prepare(v *viper.Viper) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from path (or ./migrator.{yaml,json,toml} when
// path is empty) and MIGRATOR_* environment variables, then validates it.
// Flags should already be bound to v.
func Load(v *viper.Viper, path string) (*Config, error) {
	Prepare(v)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("migrator")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, migerr.NewConfiguration("config: read", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, migerr.NewConfiguration("config: parse", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.Source.Query) == "" {
		add("source.query is required")
	}
	if c.Source.DSN == "" && (c.Source.Host == "" || c.Source.Database == "") {
		add("source.dsn or source.host and source.database are required")
	}
	if c.Source.Port < 0 || c.Source.Port > 65535 {
		add("source.port %d is out of range", c.Source.Port)
	}

	switch c.Sink.Type {
	case SinkMongo:
		if c.Sink.URI == "" || c.Sink.Database == "" || c.Sink.Collection == "" {
			add("sink.uri, sink.database and sink.collection are required for %s", SinkMongo)
		}
	case SinkJSONFile:
		if c.Sink.Path == "" {
			add("sink.path is required for %s", SinkJSONFile)
		}
	default:
		add("unsupported sink.type %q", c.Sink.Type)
	}

	if c.BatchSize <= 0 {
		add("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.Concurrency <= 0 {
		add("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.MaxRetries < 0 {
		add("max_retries must not be negative, got %d", c.MaxRetries)
	}
	if c.AttemptTimeout < 0 {
		add("attempt_timeout must not be negative")
	}

	switch c.Backoff.Strategy {
	case BackoffLinear, BackoffExponential:
	default:
		add("unsupported backoff.strategy %q", c.Backoff.Strategy)
	}
	if c.Backoff.Base < 0 || c.Backoff.Max < 0 {
		add("backoff durations must not be negative")
	}
	if c.Backoff.Jitter < 0 || c.Backoff.Jitter >= 1 {
		add("backoff.jitter must be in [0, 1), got %v", c.Backoff.Jitter)
	}

	if c.Checkpoint.Path == "" {
		add("checkpoint.path is required")
	}

	if len(errs) > 0 {
		return migerr.NewConfiguration("config: validate", errors.Join(errs...))
	}
	return nil
}

// SourceDSN returns the Postgres connection string.
func (c *Config) SourceDSN() string {
	if c.Source.DSN != "" {
		return c.Source.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Source.Host, strconv.Itoa(c.Source.Port)),
		Path:   "/" + c.Source.Database,
	}
	if c.Source.User != "" {
		if c.Source.Password != "" {
			u.User = url.UserPassword(c.Source.User, c.Source.Password)
		} else {
			u.User = url.User(c.Source.User)
		}
	}
	if c.Source.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.Source.SSLMode}}.Encode()
	}
	return u.String()
}

// MaxAttempts converts max_retries into total attempts. Zero still runs the
// batch once.
func (c *Config) MaxAttempts() int {
	return max(1, c.MaxRetries)
}
