// Package config loads ledger service settings from an optional YAML file
// and environment variables. Environment variables win.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"policyledger/services/ledger/internal/anchoring"

	"gopkg.in/yaml.v3"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	PublishModeHTTP    = "http"
	PublishModeRFC3161 = "rfc3161"
)

type Config struct {
	DatabaseURL string        `yaml:"database_url"`
	Store       string        `yaml:"store"`
	Port        int           `yaml:"port"`
	Publish     PublishConfig `yaml:"publish"`
	Anchor      AnchorConfig  `yaml:"anchor"`
}

type PublishConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Mode           string `yaml:"mode"`
	URL            string `yaml:"url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type AnchorConfig struct {
	ScheduleEnabled bool   `yaml:"schedule_enabled"`
	RunAt           string `yaml:"run_at"`
	Policy          string `yaml:"policy"`
	RecordEvent     bool   `yaml:"record_event"`
}

func Default() Config {
	return Config{
		Store: StorePostgres,
		Port:  8090,
		Publish: PublishConfig{
			Mode:           PublishModeHTTP,
			TimeoutSeconds: 10,
		},
		Anchor: AnchorConfig{
			RunAt:       "00:15",
			Policy:      string(anchoring.PolicySealOnPublish),
			RecordEvent: true,
		},
	}
}

// Load builds the configuration from defaults, the file named by
// LEDGER_CONFIG_FILE (if set) and then the environment, and validates it.
func Load() (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("LEDGER_CONFIG_FILE")); path != "" {
		var err error
		if cfg, err = LoadFile(path, cfg); err != nil {
			return Config{}, err
		}
	}
	cfg = applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto base. Keys absent from the
// file keep base's values.
func LoadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg Config) Config {
	cfg.DatabaseURL = envStringDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.Store = envStringDefault("LEDGER_STORE", cfg.Store)
	cfg.Port = envIntDefault("SERVICE_PORT", cfg.Port)

	cfg.Publish.Enabled = envBoolDefault("LEDGER_PUBLISH_ENABLED", cfg.Publish.Enabled)
	cfg.Publish.Mode = envStringDefault("LEDGER_PUBLISH_MODE", cfg.Publish.Mode)
	cfg.Publish.URL = envStringDefault("LEDGER_PUBLISH_URL", cfg.Publish.URL)
	cfg.Publish.APIKey = envStringDefault("LEDGER_PUBLISH_API_KEY", cfg.Publish.APIKey)
	cfg.Publish.TimeoutSeconds = envIntDefault("LEDGER_PUBLISH_TIMEOUT_SECONDS", cfg.Publish.TimeoutSeconds)

	cfg.Anchor.ScheduleEnabled = envBoolDefault("LEDGER_ANCHOR_SCHEDULE_ENABLED", cfg.Anchor.ScheduleEnabled)
	cfg.Anchor.RunAt = envStringDefault("LEDGER_ANCHOR_RUN_AT", cfg.Anchor.RunAt)
	cfg.Anchor.Policy = envStringDefault("LEDGER_ANCHOR_POLICY", cfg.Anchor.Policy)
	cfg.Anchor.RecordEvent = envBoolDefault("LEDGER_ANCHOR_RECORD_EVENT", cfg.Anchor.RecordEvent)
	return cfg
}

// Validate rejects malformed settings. A missing publish credential is not
// checked here; Publish reports it when it is actually needed.
func (c Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s store", StorePostgres)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.Publish.Mode {
	case PublishModeHTTP, PublishModeRFC3161:
	default:
		return fmt.Errorf("unknown publish mode %q", c.Publish.Mode)
	}
	if c.Publish.TimeoutSeconds <= 0 {
		return fmt.Errorf("publish timeout must be positive")
	}
	if c.Publish.Enabled {
		u, err := url.Parse(c.Publish.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("publish url must be an absolute http(s) url")
		}
	}
	if _, err := ParseRunAt(c.Anchor.RunAt); err != nil {
		return err
	}
	if _, err := anchoring.ParsePolicy(c.Anchor.Policy); err != nil {
		return err
	}
	return nil
}

func (c Config) PublishTimeout() time.Duration {
	return time.Duration(c.Publish.TimeoutSeconds) * time.Second
}

func (c Config) RunAtOffset() time.Duration {
	d, _ := ParseRunAt(c.Anchor.RunAt)
	return d
}

func (c Config) AnchorPolicy() anchoring.Policy {
	p, _ := anchoring.ParsePolicy(c.Anchor.Policy)
	return p
}

// ParseRunAt parses an "HH:MM" UTC wall time into an offset from midnight.
func ParseRunAt(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid run_at %q: want HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func envStringDefault(key, def string) string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	return raw
}

func envBoolDefault(key string, def bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if raw == "" {
		return def
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func envIntDefault(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if v < 0 {
		return 0
	}
	return v
}
