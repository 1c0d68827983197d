// Package config loads engine configuration from LEARN_ environment
// variables and an optional YAML tunables file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wsaxqd/home-work2-sub001/internal/behavior"
	"github.com/wsaxqd/home-work2-sub001/internal/llm"
	"github.com/wsaxqd/home-work2-sub001/internal/practice"
	"github.com/wsaxqd/home-work2-sub001/internal/recommend"
	"github.com/wsaxqd/home-work2-sub001/internal/store"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig
	Cache    CacheConfig
	Events   EventsConfig
	Log      LogConfig
	Catalog  CatalogConfig
	LLM      llm.Config
	Engine   Tunables
}

// DatabaseConfig selects the store driver. An empty DSN with the sqlite
// driver resolves to the per-user data file.
type DatabaseConfig struct {
	Driver string
	DSN    string
}

// CacheConfig holds the Redis URL for the live session registry. Empty keeps
// live sessions in process memory.
type CacheConfig struct {
	URL    string
	Prefix string
	TTL    time.Duration
}

// EventsConfig holds the AMQP broker settings. Empty URL disables publishing.
type EventsConfig struct {
	AMQPURL string
	Queue   string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Mode string // "dev" or "prod"

	// Trace prints OpenTelemetry spans to stderr.
	Trace bool
}

// CatalogConfig points at YAML files overriding the embedded defaults.
type CatalogConfig struct {
	Path         string
	QuestionBank string
}

// Tunables are the engine thresholds. Every field can be overridden from
// the file named by LEARN_TUNABLES_FILE.
type Tunables struct {
	Mastery    behavior.Policy  `yaml:"mastery"`
	ReadyLevel int              `yaml:"ready_level"`
	Recommend  recommend.Config `yaml:"recommend"`
	Session    practice.Config  `yaml:"session"`

	// ConflictRetries bounds the retries of a conflicting attempt write.
	ConflictRetries int `yaml:"conflict_retries"`
}

// DefaultTunables returns the stock thresholds.
func DefaultTunables() Tunables {
	return Tunables{
		Mastery:         behavior.DefaultPolicy(),
		ReadyLevel:      3,
		Recommend:       recommend.DefaultConfig(),
		Session:         practice.DefaultConfig(),
		ConflictRetries: 4,
	}
}

// Behavior returns the aggregator config derived from the tunables.
func (t Tunables) Behavior() behavior.Config {
	cfg := behavior.DefaultConfig()
	cfg.Policy = t.Mastery
	cfg.MaxConflictRetries = t.ConflictRetries
	return cfg
}

// Load reads configuration from environment variables with the LEARN_ prefix.
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Driver: envStr("LEARN_DB_DRIVER", store.DriverSQLite),
			DSN:    envStr("LEARN_DB_DSN", ""),
		},
		Cache: CacheConfig{
			URL:    envStr("LEARN_CACHE_URL", ""),
			Prefix: envStr("LEARN_CACHE_PREFIX", "learnengine"),
			TTL:    envDuration("LEARN_CACHE_SESSION_TTL", 2*time.Hour),
		},
		Events: EventsConfig{
			AMQPURL: envStr("LEARN_AMQP_URL", ""),
			Queue:   envStr("LEARN_AMQP_QUEUE", "learnengine.events"),
		},
		Log: LogConfig{
			Mode:  envStr("LEARN_LOG_MODE", "prod"),
			Trace: envBool("LEARN_TRACE", false),
		},
		Catalog: CatalogConfig{
			Path:         envStr("LEARN_CATALOG_PATH", ""),
			QuestionBank: envStr("LEARN_QUESTION_BANK", ""),
		},
		LLM:    llm.ConfigFromEnv(),
		Engine: DefaultTunables(),
	}

	cfg.Engine.ReadyLevel = envInt("LEARN_READY_LEVEL", cfg.Engine.ReadyLevel)
	cfg.Engine.ConflictRetries = envInt("LEARN_CONFLICT_RETRIES", cfg.Engine.ConflictRetries)
	cfg.Engine.Recommend.TopN = envInt("LEARN_RECOMMEND_TOP_N", cfg.Engine.Recommend.TopN)
	cfg.Engine.Session.Timeout = envDuration("LEARN_COLLABORATOR_TIMEOUT", cfg.Engine.Session.Timeout)

	if path := envStr("LEARN_TUNABLES_FILE", ""); path != "" {
		if err := cfg.Engine.LoadFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// LoadFile overlays the YAML tunables at path. Keys absent from the file
// keep their current values.
func (t *Tunables) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tunables: %w", err)
	}
	if err := yaml.Unmarshal(data, t); err != nil {
		return fmt.Errorf("parse tunables %s: %w", path, err)
	}
	return nil
}

// Validate checks driver names and tunable ranges.
func (c *Config) Validate() error {
	var errs []string
	switch c.Database.Driver {
	case store.DriverSQLite:
	case store.DriverPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, "LEARN_DB_DSN is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("LEARN_DB_DRIVER must be %q or %q, got %q", store.DriverSQLite, store.DriverPostgres, c.Database.Driver))
	}
	if c.Log.Mode != "dev" && c.Log.Mode != "prod" {
		errs = append(errs, fmt.Sprintf("LEARN_LOG_MODE must be 'dev' or 'prod', got %q", c.Log.Mode))
	}
	if c.Cache.URL != "" && c.Cache.TTL <= 0 {
		errs = append(errs, "LEARN_CACHE_SESSION_TTL must be positive")
	}
	if err := c.LLM.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.Engine.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// Validate checks every tunable group.
func (t Tunables) Validate() error {
	if t.ReadyLevel < 1 || t.ReadyLevel > 5 {
		return fmt.Errorf("ready_level must be in [1, 5], got %d", t.ReadyLevel)
	}
	if t.ConflictRetries < 1 {
		return fmt.Errorf("conflict_retries must be >= 1, got %d", t.ConflictRetries)
	}
	if err := t.Mastery.Validate(); err != nil {
		return err
	}
	if err := t.Recommend.Validate(); err != nil {
		return err
	}
	return t.Session.Validate()
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
