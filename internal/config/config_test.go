package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigSuite is a test suite for config operations.
type ConfigSuite struct {
	suite.Suite
	tempDir string
}

func (s *ConfigSuite) SetupTest() {
	s.tempDir = s.T().TempDir()
	s.T().Setenv("HOME", s.tempDir)
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) writeSettings(content string) {
	s.Require().NoError(os.MkdirAll(filepath.Join(s.tempDir, ".zetacoach"), 0750))
	s.Require().NoError(os.WriteFile(
		filepath.Join(s.tempDir, ".zetacoach", "settings.json"),
		[]byte(content),
		0600,
	))
}

// TestDefault tests default configuration values.
func (s *ConfigSuite) TestDefault() {
	cfg := Default()

	s.Equal(DefaultWorkerPort, cfg.WorkerPort)
	s.Equal(DefaultPageURL, cfg.PageURL)
	s.Equal("info", cfg.LogLevel)
	s.Empty(cfg.RelayURL)
	s.Equal(10*time.Second, cfg.RelayTimeout())
	s.Equal(100*time.Millisecond, cfg.DrainInterval())
	s.Equal(25*time.Millisecond, cfg.InputPollInterval())
	s.Equal(time.Second, cfg.HeartbeatInterval())
	s.Equal(time.Second, cfg.FinalizeDelay())
	s.Equal(1, cfg.MaxConns)
	s.False(cfg.Headless)
	s.Equal(filepath.Join(s.tempDir, ".zetacoach", "zetacoach.db"), cfg.DBPath)
	s.Equal(filepath.Join(s.tempDir, ".zetacoach", "profile.yaml"), cfg.ProfilePath)
}

// TestPaths tests data directory paths.
func (s *ConfigSuite) TestPaths() {
	s.Contains(DataDir(), ".zetacoach")
	s.Contains(DBPath(), "zetacoach.db")
	s.Contains(SettingsPath(), "settings.json")
	s.Contains(ProfilePath(), "profile.yaml")
}

// TestEnsureDataDir tests data directory creation.
func (s *ConfigSuite) TestEnsureDataDir() {
	s.NoError(EnsureDataDir())

	info, err := os.Stat(DataDir())
	s.NoError(err)
	s.True(info.IsDir())
}

// TestEnsureSettings tests settings file creation.
func (s *ConfigSuite) TestEnsureSettings() {
	s.Require().NoError(EnsureDataDir())
	s.Require().NoError(EnsureSettings())

	info, err := os.Stat(SettingsPath())
	s.NoError(err)
	s.False(info.IsDir())

	// Existing file is left alone
	s.writeSettings(`{"ZETACOACH_WORKER_PORT": 40001}`)
	s.NoError(EnsureSettings())
	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal(40001, cfg.WorkerPort)
}

// TestEnsureAll tests full initialization.
func (s *ConfigSuite) TestEnsureAll() {
	s.Require().NoError(EnsureAll())

	_, err := os.Stat(DataDir())
	s.NoError(err)
	_, err = os.Stat(SettingsPath())
	s.NoError(err)

	// Written defaults load back unchanged
	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal(Default(), cfg)
}

// TestLoad_TableDriven tests configuration loading with various scenarios.
func (s *ConfigSuite) TestLoad_TableDriven() {
	tests := []struct {
		name         string
		settingsJSON string
		expectedPort int
		expectedURL  string
		expectedPoll int
	}{
		{
			name:         "no settings file",
			expectedPort: DefaultWorkerPort,
			expectedPoll: 25,
		},
		{
			name:         "custom port",
			settingsJSON: `{"ZETACOACH_WORKER_PORT": 38888}`,
			expectedPort: 38888,
			expectedPoll: 25,
		},
		{
			name:         "relay url",
			settingsJSON: `{"ZETACOACH_RELAY_URL": "https://relay.example.com/sessions"}`,
			expectedPort: DefaultWorkerPort,
			expectedURL:  "https://relay.example.com/sessions",
			expectedPoll: 25,
		},
		{
			name:         "multiple settings",
			settingsJSON: `{"ZETACOACH_WORKER_PORT": 39999, "ZETACOACH_RELAY_URL": "https://r.example.com", "ZETACOACH_INPUT_POLL_MS": 10}`,
			expectedPort: 39999,
			expectedURL:  "https://r.example.com",
			expectedPoll: 10,
		},
		{
			name:         "invalid values normalized",
			settingsJSON: `{"ZETACOACH_WORKER_PORT": -1, "ZETACOACH_INPUT_POLL_MS": 0}`,
			expectedPort: DefaultWorkerPort,
			expectedPoll: 25,
		},
		{
			name:         "invalid JSON returns defaults",
			settingsJSON: `{invalid}`,
			expectedPort: DefaultWorkerPort,
			expectedPoll: 25,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.tempDir = s.T().TempDir()
			s.T().Setenv("HOME", s.tempDir)
			if tt.settingsJSON != "" {
				s.writeSettings(tt.settingsJSON)
			}

			cfg, err := Load()
			s.NoError(err)
			s.Require().NotNil(cfg)
			s.Equal(tt.expectedPort, cfg.WorkerPort)
			s.Equal(tt.expectedURL, cfg.RelayURL)
			s.Equal(tt.expectedPoll, cfg.InputPollMs)
		})
	}
}

// TestLoad_EnvOverrides tests environment variables over settings.json.
func (s *ConfigSuite) TestLoad_EnvOverrides() {
	s.writeSettings(`{"ZETACOACH_RELAY_URL": "https://file.example.com", "ZETACOACH_USER_ID": "from-file"}`)
	s.T().Setenv("ZETACOACH_RELAY_URL", "https://env.example.com")
	s.T().Setenv("ZETACOACH_HEADLESS", "true")
	s.T().Setenv("ZETACOACH_CAPTURES_PER_SECOND", "5.5")

	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal("https://env.example.com", cfg.RelayURL)
	s.Equal("from-file", cfg.UserID)
	s.True(cfg.Headless)
	s.InDelta(5.5, cfg.CapturesPerSecond, 0.0001)
}

// TestLoad_InvalidEnvIgnored tests that a bad override keeps file values.
func (s *ConfigSuite) TestLoad_InvalidEnvIgnored() {
	s.writeSettings(`{"ZETACOACH_WORKER_PORT": 38000}`)
	s.T().Setenv("ZETACOACH_WORKER_PORT", "not-a-number")

	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal(38000, cfg.WorkerPort)
}

// TestLoad_UnreadableSettings tests a settings path that is a directory.
func (s *ConfigSuite) TestLoad_UnreadableSettings() {
	s.Require().NoError(os.MkdirAll(SettingsPath(), 0750))

	_, err := Load()
	s.Error(err)
}

// TestGet tests the global config getter.
func TestGet(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := Get()
	require.NotNil(t, cfg)
	assert.Greater(t, cfg.WorkerPort, 0)
	assert.Same(t, cfg, Get())
}

// TestGetWorkerPort_WithEnv tests GetWorkerPort with environment variable.
func TestGetWorkerPort_WithEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	t.Setenv("ZETACOACH_WORKER_PORT", "45678")
	assert.Equal(t, 45678, GetWorkerPort())

	for _, v := range []string{"not-a-number", "0", ""} {
		t.Setenv("ZETACOACH_WORKER_PORT", v)
		assert.Greater(t, GetWorkerPort(), 0)
	}
}
