// Package config resolves branchflowd's settings from an optional YAML file
// plus environment variable overrides (spec.md §6: MAX_WORKERS,
// MAX_ACTIVE_USERS, EVENT_MAILBOX_SIZE, LATENCY_WINDOW_SECONDS).
//
// Grounded on the precedence chain of the teacher's persistence.Config
// (apps/cli/internal/persistence/config.go: file defaults overridden by
// env), adapted from JSON + global/local file merge to a single optional
// YAML file (parsed with goccy/go-yaml, which the teacher's parser app
// already depends on) since a scheduler daemon has one deployment-scoped
// config rather than a per-repo/per-user split.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-yaml"
)

const (
	DefaultMaxWorkers           = 10
	DefaultMaxActiveUsers       = 3
	DefaultEventMailboxSize     = 64
	DefaultLatencyWindowSeconds = 60
	DefaultListenAddr           = ":8080"
)

// fileConfig is the shape of the optional on-disk YAML file.
type fileConfig struct {
	MaxWorkers           *int     `yaml:"max_workers"`
	MaxActiveUsers       *int     `yaml:"max_active_users"`
	EventMailboxSize     *int     `yaml:"event_mailbox_size"`
	LatencyWindowSeconds *int     `yaml:"latency_window_seconds"`
	ListenAddr           string   `yaml:"listen_addr"`
	ImagePathAllowlist   []string `yaml:"image_path_allowlist"`
}

// Config is the resolved, validated configuration used by the rest of the
// process.
type Config struct {
	MaxWorkers           int
	MaxActiveUsers       int
	EventMailboxSize     int
	LatencyWindow        time.Duration
	ListenAddr           string
	ImagePathAllowlist   []string // doublestar glob patterns; empty means unrestricted
}

// Load reads path (if non-empty and present) and layers environment
// variable overrides on top, applying defaults for anything left unset.
// Precedence: env var > file > default.
func Load(path string) (*Config, error) {
	var fc fileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	cfg := &Config{
		MaxWorkers:         DefaultMaxWorkers,
		MaxActiveUsers:     DefaultMaxActiveUsers,
		EventMailboxSize:   DefaultEventMailboxSize,
		LatencyWindow:      DefaultLatencyWindowSeconds * time.Second,
		ListenAddr:         DefaultListenAddr,
		ImagePathAllowlist: fc.ImagePathAllowlist,
	}

	if fc.MaxWorkers != nil {
		cfg.MaxWorkers = *fc.MaxWorkers
	}
	if fc.MaxActiveUsers != nil {
		cfg.MaxActiveUsers = *fc.MaxActiveUsers
	}
	if fc.EventMailboxSize != nil {
		cfg.EventMailboxSize = *fc.EventMailboxSize
	}
	if fc.LatencyWindowSeconds != nil {
		cfg.LatencyWindow = time.Duration(*fc.LatencyWindowSeconds) * time.Second
	}
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}

	applyEnvInt("MAX_WORKERS", &cfg.MaxWorkers)
	applyEnvInt("MAX_ACTIVE_USERS", &cfg.MaxActiveUsers)
	applyEnvInt("EVENT_MAILBOX_SIZE", &cfg.EventMailboxSize)
	if raw := os.Getenv("LATENCY_WINDOW_SECONDS"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("config: LATENCY_WINDOW_SECONDS: %w", err)
		}
		cfg.LatencyWindow = time.Duration(secs) * time.Second
	}
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvInt(name string, dest *int) {
	raw := os.Getenv(name)
	if raw == "" {
		return
	}
	if v, err := strconv.Atoi(raw); err == nil {
		*dest = v
	}
}

// Validate checks invariants that would otherwise surface confusingly deep
// inside the engine (spec.md §6: MAX_WORKERS and MAX_ACTIVE_USERS must be
// non-negative; 0 is the documented "unlimited" sentinel for the latter).
func (c *Config) Validate() error {
	if c.MaxWorkers < 0 {
		return fmt.Errorf("config: MAX_WORKERS must be >= 0, got %d", c.MaxWorkers)
	}
	if c.MaxActiveUsers < 0 {
		return fmt.Errorf("config: MAX_ACTIVE_USERS must be >= 0, got %d", c.MaxActiveUsers)
	}
	if c.EventMailboxSize <= 0 {
		return fmt.Errorf("config: EVENT_MAILBOX_SIZE must be > 0, got %d", c.EventMailboxSize)
	}
	if c.LatencyWindow <= 0 {
		return fmt.Errorf("config: LATENCY_WINDOW_SECONDS must be > 0, got %s", c.LatencyWindow)
	}
	for _, pattern := range c.ImagePathAllowlist {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("config: image_path_allowlist pattern %q is not a valid glob", pattern)
		}
	}
	return nil
}

// AllowsImagePath reports whether imagePath matches the configured
// allowlist. An empty allowlist permits everything (spec.md names no
// allowlist requirement; this is a supplemental guard against obviously
// wrong submissions, enabled only when operators opt in).
func (c *Config) AllowsImagePath(imagePath string) bool {
	if len(c.ImagePathAllowlist) == 0 {
		return true
	}
	for _, pattern := range c.ImagePathAllowlist {
		if ok, _ := doublestar.Match(pattern, imagePath); ok {
			return true
		}
	}
	return false
}
