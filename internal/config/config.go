// Package config loads the stagesync configuration from a YAML file with
// environment-variable overrides for credentials, and holds the static
// table registry (load order, conflict keys, protection rules) that drives
// the whole pipeline.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/mchallet/stagesync/internal/errs"
)

// SourceConfig holds the MariaDB (read-only source) connection settings.
type SourceConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// DSN builds a go-sql-driver/mysql connection string.
func (s SourceConfig) DSN() string {
	port := s.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&timeout=10s",
		s.User, s.Password, s.Host, port, s.Database)
}

// DestConfig holds the PostgreSQL (destination warehouse) settings.
type DestConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`

	// Schema is the production schema synchronized at the end of a run.
	Schema string `yaml:"schema"`
	// StagingSchema is the ephemeral schema rebuilt at every run.
	StagingSchema string `yaml:"staging_schema"`

	// Pool settings. UsePool enables a bounded destination pool reused
	// across operations; otherwise a single retried connection is used.
	UsePool bool  `yaml:"use_pool"`
	PoolMin int32 `yaml:"pool_min"`
	PoolMax int32 `yaml:"pool_max"`
}

// DSN builds a pgx connection string.
func (d DestConfig) DSN() string {
	port := d.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s connect_timeout=10",
		d.Host, port, d.User, d.Password, d.Database)
}

// MetricsConfig controls the source-side query metrics collector.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	SlowMs  int    `yaml:"slow_ms"`
	LogFile string `yaml:"log_file"`
}

// ArchiveConfig controls the optional object-storage report archiver.
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// ServerConfig controls the daemon-mode status endpoint.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LogConfig controls the main run logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Config is the root configuration object.
type Config struct {
	Source      SourceConfig `yaml:"source"`
	Destination DestConfig   `yaml:"destination"`

	// BatchSize is the write-side batch size and the floor of the
	// adaptive read-side batch.
	BatchSize int `yaml:"batch_size"`

	// RunHour is the daemon-mode hour-of-day gate (0-23).
	RunHour int `yaml:"run_hour"`

	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Archive ArchiveConfig `yaml:"archive"`
	Server  ServerConfig  `yaml:"server"`
}

// Default values applied after parsing.
const (
	defaultBatchSize     = 500
	defaultSchema        = "staging"
	defaultStagingSchema = "temp_staging"
	defaultSlowMs        = 200
	defaultRunHour       = 2
	defaultServerAddr    = ":8090"
)

// Load reads a YAML config file, applies environment overrides for
// credentials, fills defaults and validates. A missing file is a
// configuration error: the pipeline never starts half-configured.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConfiguration, "cannot read config file", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errs.Wrap(errs.ErrKindConfiguration, "cannot parse config file", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets credentials come from the environment instead of the file,
// so the YAML can be committed without secrets.
func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&c.Source.Host, "MARIA_HOST")
	override(&c.Source.User, "MARIA_USER")
	override(&c.Source.Password, "MARIA_PASSWORD")
	override(&c.Source.Database, "MARIA_DB")
	override(&c.Destination.Host, "PG_HOST")
	override(&c.Destination.User, "PG_USER")
	override(&c.Destination.Password, "PG_PASSWORD")
	override(&c.Destination.Database, "PG_DB")
	override(&c.Archive.AccessKey, "ARCHIVE_ACCESS_KEY")
	override(&c.Archive.SecretKey, "ARCHIVE_SECRET_KEY")
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Destination.Schema == "" {
		c.Destination.Schema = defaultSchema
	}
	if c.Destination.StagingSchema == "" {
		c.Destination.StagingSchema = defaultStagingSchema
	}
	if c.Destination.PoolMin <= 0 {
		c.Destination.PoolMin = 1
	}
	if c.Destination.PoolMax <= 0 {
		c.Destination.PoolMax = 5
	}
	if c.Metrics.SlowMs <= 0 {
		c.Metrics.SlowMs = defaultSlowMs
	}
	if c.Metrics.LogFile == "" {
		c.Metrics.LogFile = "db_metrics.log"
	}
	if c.RunHour <= 0 {
		c.RunHour = defaultRunHour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaultServerAddr
	}
}

// Validate checks required settings. It fails with a configuration error
// before any connection is opened.
func (c *Config) Validate() error {
	var missing []string
	check := func(val, name string) {
		if val == "" {
			missing = append(missing, name)
		}
	}
	check(c.Source.Host, "source.host")
	check(c.Source.User, "source.user")
	check(c.Source.Database, "source.database")
	check(c.Destination.Host, "destination.host")
	check(c.Destination.User, "destination.user")
	check(c.Destination.Database, "destination.database")

	if c.Archive.Enabled {
		check(c.Archive.Endpoint, "archive.endpoint")
		check(c.Archive.Bucket, "archive.bucket")
	}

	if len(missing) > 0 {
		return errs.Newf(errs.ErrKindConfiguration,
			"missing required settings: %s", strings.Join(missing, ", "))
	}
	if c.RunHour < 0 || c.RunHour > 23 {
		return errs.Newf(errs.ErrKindConfiguration, "run_hour out of range: %d", c.RunHour)
	}
	return nil
}

// ConnectTimeout is the dial timeout used for both backends.
const ConnectTimeout = 10 * time.Second
