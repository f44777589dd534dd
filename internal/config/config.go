// Package config provides configuration management for zetacoach.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultWorkerPort is the local HTTP port of the worker service.
	DefaultWorkerPort = 37790

	// DefaultPageURL is the game page opened by the browser observer.
	DefaultPageURL = "https://arithmetic.zetamac.com/"

	dataDirName      = ".zetacoach"
	settingsFileName = "settings.json"
	dbFileName       = "zetacoach.db"
	profileFileName  = "profile.yaml"
)

// Config is the flat settings document. JSON keys in settings.json and
// environment variable names are the same.
type Config struct {
	WorkerPort int    `json:"ZETACOACH_WORKER_PORT" env:"ZETACOACH_WORKER_PORT"`
	LogLevel   string `json:"ZETACOACH_LOG_LEVEL" env:"ZETACOACH_LOG_LEVEL"`

	// Relay
	RelayURL       string `json:"ZETACOACH_RELAY_URL" env:"ZETACOACH_RELAY_URL"`
	RelayToken     string `json:"ZETACOACH_RELAY_TOKEN" env:"ZETACOACH_RELAY_TOKEN"`
	UserID         string `json:"ZETACOACH_USER_ID" env:"ZETACOACH_USER_ID"`
	RelayTimeoutMs int    `json:"ZETACOACH_RELAY_TIMEOUT_MS" env:"ZETACOACH_RELAY_TIMEOUT_MS"`

	// Browser observer
	PageURL           string `json:"ZETACOACH_PAGE_URL" env:"ZETACOACH_PAGE_URL"`
	BrowserControlURL string `json:"ZETACOACH_BROWSER_CONTROL_URL" env:"ZETACOACH_BROWSER_CONTROL_URL"`
	BrowserBin        string `json:"ZETACOACH_BROWSER_BIN" env:"ZETACOACH_BROWSER_BIN"`
	Headless          bool   `json:"ZETACOACH_HEADLESS" env:"ZETACOACH_HEADLESS"`
	ProfilePath       string `json:"ZETACOACH_PROFILE_PATH" env:"ZETACOACH_PROFILE_PATH"`

	// Scheduler
	DrainIntervalMs   int     `json:"ZETACOACH_DRAIN_INTERVAL_MS" env:"ZETACOACH_DRAIN_INTERVAL_MS"`
	InputPollMs       int     `json:"ZETACOACH_INPUT_POLL_MS" env:"ZETACOACH_INPUT_POLL_MS"`
	HeartbeatMs       int     `json:"ZETACOACH_HEARTBEAT_MS" env:"ZETACOACH_HEARTBEAT_MS"`
	FinalizeDelayMs   int     `json:"ZETACOACH_FINALIZE_DELAY_MS" env:"ZETACOACH_FINALIZE_DELAY_MS"`
	CapturesPerSecond float64 `json:"ZETACOACH_CAPTURES_PER_SECOND" env:"ZETACOACH_CAPTURES_PER_SECOND"`
	RecordPath        string  `json:"ZETACOACH_RECORD_PATH" env:"ZETACOACH_RECORD_PATH"`

	// Archive
	DBPath     string `json:"ZETACOACH_DB_PATH" env:"ZETACOACH_DB_PATH"`
	ArchiveDSN string `json:"ZETACOACH_ARCHIVE_DSN" env:"ZETACOACH_ARCHIVE_DSN"`
	MaxConns   int    `json:"ZETACOACH_MAX_CONNS" env:"ZETACOACH_MAX_CONNS"`
}

var (
	global     *Config
	globalOnce sync.Once
)

// DataDir returns the data directory path.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, dataDirName)
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), settingsFileName)
}

// DBPath returns the default SQLite archive path.
func DBPath() string {
	return filepath.Join(DataDir(), dbFileName)
}

// ProfilePath returns the default page profile path.
func ProfilePath() string {
	return filepath.Join(DataDir(), profileFileName)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		WorkerPort:        DefaultWorkerPort,
		LogLevel:          "info",
		RelayTimeoutMs:    10000,
		PageURL:           DefaultPageURL,
		ProfilePath:       ProfilePath(),
		DrainIntervalMs:   100,
		InputPollMs:       25,
		HeartbeatMs:       1000,
		FinalizeDelayMs:   1000,
		CapturesPerSecond: 20,
		DBPath:            DBPath(),
		MaxConns:          1,
	}
}

// Load reads settings.json and applies environment overrides. A missing or
// unreadable settings file yields the defaults; an invalid environment
// value is logged and ignored.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		fromFile := *cfg
		if err := json.Unmarshal(data, &fromFile); err != nil {
			log.Warn().Err(err).Str("path", SettingsPath()).Msg("Invalid settings file, using defaults")
		} else {
			cfg = &fromFile
		}
	}

	withEnv := *cfg
	if err := env.Parse(&withEnv); err != nil {
		log.Warn().Err(err).Msg("Invalid environment override ignored")
	} else {
		cfg = &withEnv
	}

	cfg.normalize()
	return cfg, nil
}

// normalize replaces unusable values with defaults.
func (c *Config) normalize() {
	def := Default()
	if c.WorkerPort <= 0 || c.WorkerPort > 65535 {
		c.WorkerPort = def.WorkerPort
	}
	if c.RelayTimeoutMs <= 0 {
		c.RelayTimeoutMs = def.RelayTimeoutMs
	}
	if c.DrainIntervalMs <= 0 {
		c.DrainIntervalMs = def.DrainIntervalMs
	}
	if c.InputPollMs <= 0 {
		c.InputPollMs = def.InputPollMs
	}
	if c.HeartbeatMs <= 0 {
		c.HeartbeatMs = def.HeartbeatMs
	}
	if c.FinalizeDelayMs <= 0 {
		c.FinalizeDelayMs = def.FinalizeDelayMs
	}
	if c.CapturesPerSecond <= 0 {
		c.CapturesPerSecond = def.CapturesPerSecond
	}
	if c.PageURL == "" {
		c.PageURL = def.PageURL
	}
	if c.DBPath == "" {
		c.DBPath = def.DBPath
	}
	if c.MaxConns <= 0 {
		c.MaxConns = def.MaxConns
	}
}

// RelayTimeout returns the relay request timeout.
func (c *Config) RelayTimeout() time.Duration {
	return time.Duration(c.RelayTimeoutMs) * time.Millisecond
}

// DrainInterval returns how often page mutations are drained.
func (c *Config) DrainInterval() time.Duration {
	return time.Duration(c.DrainIntervalMs) * time.Millisecond
}

// InputPollInterval returns how often the answer input is re-read.
func (c *Config) InputPollInterval() time.Duration {
	return time.Duration(c.InputPollMs) * time.Millisecond
}

// HeartbeatInterval returns the maximum time between full captures.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatMs) * time.Millisecond
}

// FinalizeDelay returns how long the end of a game is deferred.
func (c *Config) FinalizeDelay() time.Duration {
	return time.Duration(c.FinalizeDelayMs) * time.Millisecond
}

// Get returns the process-wide configuration, loading it on first use.
func Get() *Config {
	globalOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load config, using defaults")
			cfg = Default()
		}
		global = cfg
	})
	return global
}

// GetWorkerPort returns the worker port, honoring ZETACOACH_WORKER_PORT.
func GetWorkerPort() int {
	if v := os.Getenv("ZETACOACH_WORKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			return port
		}
	}
	return Get().WorkerPort
}

// EnsureDataDir creates the data directory if needed.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings writes a default settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureAll creates the data directory and the default settings file.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}
