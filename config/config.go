/*
Package config loads runtime settings for the cost ledger.

SOURCES (later wins):
  1. Defaults
  2. YAML file (--config)
  3. .env file in the working directory (if present)
  4. Environment variables (COSTLEDGER_*)
  5. Command-line flags (applied by cmd/costledger)

EXAMPLE YAML:
  addr: ":8080"
  database:
    driver: sqlite3
    dsn: ./data/costledger.db
  log:
    level: info
    format: text
  recalculation:
    timeout: 5s
    refresh_interval: 0s
  masterdata: ./masterdata.yaml
  cors_origins:
    - http://localhost:5173
*/
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvAddr            = "COSTLEDGER_ADDR"
	EnvDBDriver        = "COSTLEDGER_DB_DRIVER"
	EnvDBDSN           = "COSTLEDGER_DB_DSN"
	EnvLogLevel        = "COSTLEDGER_LOG_LEVEL"
	EnvLogFormat       = "COSTLEDGER_LOG_FORMAT"
	EnvRecalcTimeout   = "COSTLEDGER_RECALC_TIMEOUT"
	EnvRefreshInterval = "COSTLEDGER_REFRESH_INTERVAL"
	EnvMasterData      = "COSTLEDGER_MASTERDATA"
)

type Config struct {
	Addr          string        `yaml:"addr"`
	Database      Database      `yaml:"database"`
	Log           Log           `yaml:"log"`
	Recalculation Recalculation `yaml:"recalculation"`
	MasterData    string        `yaml:"masterdata"`
	CORSOrigins   []string      `yaml:"cors_origins"`
}

type Database struct {
	Driver string `yaml:"driver"` // sqlite3 | postgres
	DSN    string `yaml:"dsn"`
}

type Log struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

type Recalculation struct {
	Timeout         time.Duration `yaml:"timeout"`
	RefreshInterval time.Duration `yaml:"refresh_interval"` // 0 disables the refresher
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Addr:     ":8080",
		Database: Database{Driver: "sqlite3", DSN: "./data/costledger.db"},
		Log:      Log{Level: "info", Format: "text"},
		Recalculation: Recalculation{
			Timeout: 5 * time.Second,
		},
	}
}

// Load builds a Config from defaults, an optional YAML file, .env and the
// environment. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// A missing .env is normal; anything else is worth reporting.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(name)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = d
		return nil
	}

	str(EnvAddr, &c.Addr)
	str(EnvDBDriver, &c.Database.Driver)
	str(EnvDBDSN, &c.Database.DSN)
	str(EnvLogLevel, &c.Log.Level)
	str(EnvLogFormat, &c.Log.Format)
	str(EnvMasterData, &c.MasterData)
	if err := dur(EnvRecalcTimeout, &c.Recalculation.Timeout); err != nil {
		return err
	}
	return dur(EnvRefreshInterval, &c.Recalculation.RefreshInterval)
}

// Validate checks that every setting is usable.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q: must be sqlite3 or postgres", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q: must be text or json", c.Log.Format))
	}
	if c.Recalculation.Timeout <= 0 {
		errs = append(errs, errors.New("recalculation.timeout must be positive"))
	}
	if c.Recalculation.RefreshInterval < 0 {
		errs = append(errs, errors.New("recalculation.refresh_interval must not be negative"))
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level %q: must be debug, info, warn or error", s)
}

// NewLogger builds the application logger from the log settings.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := ParseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
