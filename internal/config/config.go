// Package config loads daemon configuration from defaults, an optional
// per-user TOML file, and environment variables, in that priority order
// (environment wins). See spec.md §6 for the authoritative variable set.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ErrNotFound indicates the config file does not exist; callers should fall
// back to defaults plus environment overrides.
var ErrNotFound = errors.New("config file not found")

// Config is the daemon's fully-resolved runtime configuration.
type Config struct {
	RelayAPIURL string
	RelayAPIKey string

	DaemonPort int

	PollInterval          time.Duration
	ChildTimeout          time.Duration
	IdleTimeout           time.Duration
	IdleCheckInterval     time.Duration
	HeartbeatInterval     time.Duration

	AllowAllCommands bool
	DangerZone       bool
	Production       bool

	HookLogPath string
	StateDir    string
}

// fileConfig mirrors the subset of Config a user may set via config.toml.
// Field names match the TOML keys exactly (lowercase, underscored).
type fileConfig struct {
	RelayAPIURL       string `toml:"relay_api_url"`
	RelayAPIKey       string `toml:"relay_api_key"`
	DaemonPort        int    `toml:"daemon_port"`
	PollIntervalMS    int64  `toml:"poll_interval_ms"`
	ChildTimeoutMS    int64  `toml:"child_timeout_ms"`
	IdleTimeoutMS     int64  `toml:"idle_timeout_ms"`
	IdleCheckMS       int64  `toml:"idle_check_interval_ms"`
	HeartbeatMS       int64  `toml:"heartbeat_interval_ms"`
}

// Defaults returns the built-in default configuration, matching spec.md §6.
func Defaults(stateDir string) Config {
	return Config{
		DaemonPort:        3050,
		PollInterval:      5 * time.Second,
		ChildTimeout:      600 * time.Second,
		IdleTimeout:       30 * time.Minute,
		IdleCheckInterval: 5 * time.Minute,
		HeartbeatInterval: 30 * time.Second,
		StateDir:          stateDir,
		HookLogPath:       filepath.Join(stateDir, "hook.log"),
	}
}

// Load resolves configuration: defaults, then <stateDir>/config.toml if
// present, then environment variable overrides.
func Load(stateDir string) (Config, error) {
	cfg := Defaults(stateDir)

	if err := applyFile(&cfg, filepath.Join(stateDir, "config.toml")); err != nil && !errors.Is(err, ErrNotFound) {
		return cfg, fmt.Errorf("loading config file: %w", err)
	}

	applyEnv(&cfg)

	if cfg.RelayAPIURL == "" {
		return cfg, fmt.Errorf("RELAY_API_URL is required (env or config.toml)")
	}

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if fc.RelayAPIURL != "" {
		cfg.RelayAPIURL = fc.RelayAPIURL
	}
	if fc.RelayAPIKey != "" {
		cfg.RelayAPIKey = fc.RelayAPIKey
	}
	if fc.DaemonPort != 0 {
		cfg.DaemonPort = fc.DaemonPort
	}
	if fc.PollIntervalMS != 0 {
		cfg.PollInterval = time.Duration(fc.PollIntervalMS) * time.Millisecond
	}
	if fc.ChildTimeoutMS != 0 {
		cfg.ChildTimeout = time.Duration(fc.ChildTimeoutMS) * time.Millisecond
	}
	if fc.IdleTimeoutMS != 0 {
		cfg.IdleTimeout = time.Duration(fc.IdleTimeoutMS) * time.Millisecond
	}
	if fc.IdleCheckMS != 0 {
		cfg.IdleCheckInterval = time.Duration(fc.IdleCheckMS) * time.Millisecond
	}
	if fc.HeartbeatMS != 0 {
		cfg.HeartbeatInterval = time.Duration(fc.HeartbeatMS) * time.Millisecond
	}

	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("RELAY_API_URL"); v != "" {
		cfg.RelayAPIURL = v
	}
	if v := os.Getenv("RELAY_API_KEY"); v != "" {
		cfg.RelayAPIKey = v
	}
	if v, ok := envInt("TELEPORTATION_DAEMON_PORT"); ok {
		cfg.DaemonPort = v
	}
	if v, ok := envDuration("DAEMON_POLL_INTERVAL_MS"); ok {
		cfg.PollInterval = v
	}
	if v, ok := envDuration("DAEMON_CHILD_TIMEOUT_MS"); ok {
		cfg.ChildTimeout = v
	}
	if v, ok := envDuration("DAEMON_IDLE_TIMEOUT_MS"); ok {
		cfg.IdleTimeout = v
	}
	if v, ok := envDuration("DAEMON_IDLE_CHECK_INTERVAL_MS"); ok {
		cfg.IdleCheckInterval = v
	}
	if v, ok := envDuration("DAEMON_HEARTBEAT_INTERVAL_MS"); ok {
		cfg.HeartbeatInterval = v
	}
	if v := os.Getenv("TELEPORTATION_HOOK_LOG"); v != "" {
		cfg.HookLogPath = v
	}

	// Whitelist bypass requires two independent signals (spec.md §4.2).
	cfg.AllowAllCommands = os.Getenv("TELEPORTATION_DAEMON_ALLOW_ALL_COMMANDS") != ""
	cfg.DangerZone = os.Getenv("TELEPORTATION_DANGER_ZONE") == "i_understand_the_risks"
	cfg.Production = os.Getenv("NODE_ENV") == "production" || os.Getenv("ENV") == "production"
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envDuration(name string) (time.Duration, bool) {
	n, ok := envInt(name)
	if !ok {
		return 0, false
	}
	return time.Duration(n) * time.Millisecond, true
}

// BypassAllowed reports whether the command-validator whitelist bypass is
// active: both environment signals must be set and the environment must
// not be flagged production.
func (c Config) BypassAllowed() bool {
	return c.AllowAllCommands && c.DangerZone && !c.Production
}
