// Package config resolves logline settings from defaults, a YAML file,
// .env files and LOGLINE_* environment variables, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Index drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// Telemetry exporters.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Config is the full runtime configuration.
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	KeyStore  KeyStoreConfig  `yaml:"keystore"`
	Index     IndexConfig     `yaml:"index"`
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LedgerConfig controls day keys and record attribution.
type LedgerConfig struct {
	// Timezone is an IANA zone name; "Local" uses the host zone.
	Timezone string `yaml:"timezone"`
	Actor    string `yaml:"actor"`
	KeyName  string `yaml:"key_name"`
}

// KeyStoreConfig locates the secret files.
type KeyStoreConfig struct {
	Dir        string `yaml:"dir"`
	Passphrase string `yaml:"passphrase"`
}

// IndexConfig selects the secondary index backend.
type IndexConfig struct {
	Driver    string `yaml:"driver"`
	Path      string `yaml:"path"`
	DSN       string `yaml:"dsn"`
	Async     bool   `yaml:"async"`
	QueueSize int    `yaml:"queue_size"`
}

// HTTPConfig configures `logline serve`.
type HTTPConfig struct {
	Addr   string `yaml:"addr"`
	APIKey string `yaml:"api_key"`
}

// LogConfig configures the default slog logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig selects where traces and metrics are exported.
type TelemetryConfig struct {
	Exporter string `yaml:"exporter"`
	// Output is a file to append to; empty writes to stderr.
	Output      string        `yaml:"output"`
	Interval    time.Duration `yaml:"interval"`
	ServiceName string        `yaml:"service_name"`
}

// Enabled reports whether an exporter is configured.
func (t TelemetryConfig) Enabled() bool {
	return t.Exporter != "" && t.Exporter != ExporterNone
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		DataDir: ".logline",
		Ledger: LedgerConfig{
			Timezone: "Local",
			Actor:    "owner",
			KeyName:  "ledger-hmac",
		},
		Index: IndexConfig{
			Driver:    DriverSQLite,
			QueueSize: 1024,
		},
		HTTP: HTTPConfig{Addr: "127.0.0.1:8080"},
		Log:  LogConfig{Level: "info", Format: "text"},
		Telemetry: TelemetryConfig{
			Exporter:    ExporterNone,
			Interval:    time.Minute,
			ServiceName: "logline",
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file. Unknown YAML keys are rejected.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	c.ApplyEnv(os.LookupEnv)
	return c, nil
}

// LoadEnvFiles exports the variables of each existing .env file into the
// process environment. Variables already set are left alone.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from LOGLINE_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("LOGLINE_DATA_DIR", &c.DataDir)
	str("LOGLINE_TIMEZONE", &c.Ledger.Timezone)
	str("LOGLINE_ACTOR", &c.Ledger.Actor)
	str("LOGLINE_KEY_DIR", &c.KeyStore.Dir)
	str("LOGLINE_KEY_PASSPHRASE", &c.KeyStore.Passphrase)
	str("LOGLINE_INDEX_DRIVER", &c.Index.Driver)
	str("LOGLINE_INDEX_PATH", &c.Index.Path)
	str("LOGLINE_INDEX_DSN", &c.Index.DSN)
	str("LOGLINE_HTTP_ADDR", &c.HTTP.Addr)
	str("LOGLINE_HTTP_API_KEY", &c.HTTP.APIKey)
	str("LOGLINE_LOG_LEVEL", &c.Log.Level)
	str("LOGLINE_LOG_FORMAT", &c.Log.Format)
	str("LOGLINE_TELEMETRY_EXPORTER", &c.Telemetry.Exporter)
	str("LOGLINE_TELEMETRY_OUTPUT", &c.Telemetry.Output)

	if v, ok := lookup("LOGLINE_INDEX_ASYNC"); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Index.Async = b
		}
	}
	if v, ok := lookup("LOGLINE_TELEMETRY_INTERVAL"); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Telemetry.Interval = d
		}
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.DataDir) == "" {
		problems = append(problems, "data_dir is required")
	}
	if _, err := c.Location(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Ledger.KeyName == "" {
		problems = append(problems, "ledger.key_name is required")
	}

	switch c.Index.Driver {
	case DriverSQLite, DriverNone:
	case DriverPostgres:
		if c.Index.DSN == "" {
			problems = append(problems, "index.dsn is required for the postgres driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("index.driver %q: want sqlite, postgres or none", c.Index.Driver))
	}
	if c.Index.QueueSize < 0 {
		problems = append(problems, "index.queue_size must not be negative")
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		problems = append(problems, err.Error())
	}
	if f := c.Log.Format; f != "text" && f != "json" {
		problems = append(problems, fmt.Sprintf("log.format %q: want text or json", f))
	}

	switch c.Telemetry.Exporter {
	case "", ExporterNone:
	case ExporterStdout:
		if c.Telemetry.Interval <= 0 {
			problems = append(problems, "telemetry.interval must be positive")
		}
	default:
		problems = append(problems, fmt.Sprintf("telemetry.exporter %q: want none or stdout", c.Telemetry.Exporter))
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Location resolves ledger.timezone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Ledger.Timezone {
	case "", "Local":
		return time.Local, nil
	case "UTC":
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Ledger.Timezone)
	if err != nil {
		return nil, fmt.Errorf("ledger.timezone %q: %v", c.Ledger.Timezone, err)
	}
	return loc, nil
}

// LedgerDir is where day segments and manifests live.
func (c *Config) LedgerDir() string { return filepath.Join(c.DataDir, "ledger") }

// KeyDir is the key store directory, defaulting under data_dir.
func (c *Config) KeyDir() string {
	if c.KeyStore.Dir != "" {
		return c.KeyStore.Dir
	}
	return filepath.Join(c.DataDir, "keys")
}

// IndexPath is the SQLite index file, defaulting under data_dir.
func (c *Config) IndexPath() string {
	if c.Index.Path != "" {
		return c.Index.Path
	}
	return filepath.Join(c.DataDir, "index.db")
}

// NewLogger builds a logger writing to w at the configured level and format.
// verbose forces debug.
func (c *Config) NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level %q: want debug, info, warn or error", s)
}
