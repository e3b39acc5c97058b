// Package config provides configuration for the footprint tools.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"

	"github.com/Boavizta/e-footprint-sub000/codec"
)

// Config holds tool configuration.
type Config struct {
	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogJSON switches the logger to JSON output.
	LogJSON bool `yaml:"log_json"`
	// DBPath is the SQLite database used by the db commands.
	DBPath string `yaml:"db_path"`
	// MigrationsPath is an optional YAML migration table applied on load.
	MigrationsPath string `yaml:"migrations_path"`
	// CompressThreshold is the series length above which magnitudes are
	// stored compressed. Negative disables compression.
	CompressThreshold int `yaml:"compress_threshold"`
	// Provenance makes saved documents carry formulas and back-references.
	Provenance bool `yaml:"provenance"`
	// BusyTimeout is how long SQLite waits on a locked database.
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:          "info",
		DBPath:            "./footprint.db",
		CompressThreshold: 48,
		Provenance:        true,
		BusyTimeout:       5 * time.Second,
	}
}

// FromEnv creates a Config from environment variables.
func FromEnv() *Config {
	return applyEnv(Default())
}

// Load reads a YAML file over the defaults, then applies environment
// variables, which take precedence. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg = applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) *Config {
	cfg.LogLevel = getEnv("FOOTPRINT_LOG_LEVEL", cfg.LogLevel)
	cfg.LogJSON = getEnvBool("FOOTPRINT_LOG_JSON", cfg.LogJSON)
	cfg.DBPath = getEnv("FOOTPRINT_DB", cfg.DBPath)
	cfg.MigrationsPath = getEnv("FOOTPRINT_MIGRATIONS", cfg.MigrationsPath)
	cfg.CompressThreshold = getEnvInt("FOOTPRINT_COMPRESS_THRESHOLD", cfg.CompressThreshold)
	cfg.Provenance = getEnvBool("FOOTPRINT_PROVENANCE", cfg.Provenance)
	cfg.BusyTimeout = getEnvDuration("FOOTPRINT_BUSY_TIMEOUT", cfg.BusyTimeout)
	return cfg
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("negative busy timeout %s", c.BusyTimeout)
	}
	return nil
}

// Logger builds the logger described by the configuration.
func (c *Config) Logger(name string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(c.LogLevel),
		JSONFormat: c.LogJSON,
		Output:     os.Stderr,
	})
}

// CodecOptions returns the encode/decode options for the configuration,
// loading the migration table when one is configured.
func (c *Config) CodecOptions(generator string, logger hclog.Logger) (codec.Options, error) {
	opts := codec.Options{
		Provenance:        c.Provenance,
		CompressThreshold: c.CompressThreshold,
		Generator:         generator,
		Logger:            logger,
	}
	if c.MigrationsPath != "" {
		t, err := codec.LoadMigrationsFile(c.MigrationsPath)
		if err != nil {
			return opts, err
		}
		opts.Migrations = t
	}
	return opts, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return strings.TrimSpace(val)
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
