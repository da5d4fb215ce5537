package config

import (
	"os"
	"path/filepath"
	"strings"
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
	s.T().Setenv(DataDirEnv, s.tempDir)
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) writeSettings(content string) {
	s.Require().NoError(os.WriteFile(SettingsPath(), []byte(content), 0600))
}

// TestDefault tests default configuration values.
func (s *ConfigSuite) TestDefault() {
	cfg := Default()

	s.Equal(DriverSQLite, cfg.DBDriver)
	s.Equal(DefaultWorkerPort, cfg.WorkerPort)
	s.Equal(5*time.Second, cfg.PollingInterval())
	s.Equal(100*time.Millisecond, cfg.PollDelay())
	s.Equal(100, cfg.ActivityWindow)
	s.False(cfg.GitHubEnabled)

	st := cfg.StallThresholds()
	s.Equal(30*time.Minute, st.PlanApprovalTimeout)
	s.Equal(30*time.Minute, st.FeedbackTimeout)
	s.Equal(15*time.Minute, st.NoProgressTimeout)
	s.Equal(10*time.Minute, st.QueueTimeout)
	s.Equal(3, st.ConsecutiveErrors)

	am := cfg.AutoMergeThresholds()
	s.Equal(0.3, am.MaxComplexity)
	s.Equal(200, am.MaxLines)
	s.Equal(5, am.MaxFiles)
	s.Equal(2*time.Hour, am.MinAge)

	ct := cfg.ComplexityThresholds()
	s.Equal(500, ct.Lines)
	s.Equal(20, ct.Files)
}

func (s *ConfigSuite) TestPaths() {
	s.Equal(s.tempDir, DataDir())
	s.Equal(filepath.Join(s.tempDir, "jules-command.db"), DBPath())
	s.Equal(filepath.Join(s.tempDir, "settings.json"), SettingsPath())
	s.Equal(filepath.Join(s.tempDir, "rules.yaml"), RulesPath())
}

func (s *ConfigSuite) TestDataDirDefaultsToHome() {
	s.T().Setenv(DataDirEnv, "")
	s.T().Setenv("HOME", s.tempDir)
	s.Equal(filepath.Join(s.tempDir, ".jules-command"), DataDir())
}

// TestEnsureAll tests full initialization.
func (s *ConfigSuite) TestEnsureAll() {
	nested := filepath.Join(s.tempDir, "nested", "data")
	s.T().Setenv(DataDirEnv, nested)

	s.NoError(EnsureAll())

	info, err := os.Stat(nested)
	s.Require().NoError(err)
	s.True(info.IsDir())

	_, err = os.Stat(SettingsPath())
	s.NoError(err)

	// Second call keeps the existing file.
	s.writeSettings(`{"JULES_WORKER_PORT": 40000}`)
	s.NoError(EnsureSettings())
	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal(40000, cfg.WorkerPort)
}

func (s *ConfigSuite) TestEnsureSettingsRoundTrips() {
	s.Require().NoError(EnsureSettings())

	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal(Default(), cfg)
}

// TestLoad_TableDriven tests configuration loading with various scenarios.
func (s *ConfigSuite) TestLoad_TableDriven() {
	tests := []struct {
		name          string
		settingsJSON  string
		expectedPort  int
		expectedQueue int
		expectedMax   float64
	}{
		{
			name:          "no settings file",
			expectedPort:  DefaultWorkerPort,
			expectedQueue: 10,
			expectedMax:   0.3,
		},
		{
			name:          "custom port",
			settingsJSON:  `{"JULES_WORKER_PORT": 38888}`,
			expectedPort:  38888,
			expectedQueue: 10,
			expectedMax:   0.3,
		},
		{
			name:          "custom thresholds",
			settingsJSON:  `{"JULES_STALL_QUEUE_TIMEOUT_MIN": 20, "JULES_AUTO_MERGE_MAX_COMPLEXITY": 0.5}`,
			expectedPort:  DefaultWorkerPort,
			expectedQueue: 20,
			expectedMax:   0.5,
		},
		{
			name:          "invalid JSON returns defaults",
			settingsJSON:  `{invalid}`,
			expectedPort:  DefaultWorkerPort,
			expectedQueue: 10,
			expectedMax:   0.3,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_ = os.Remove(SettingsPath())
			if tt.settingsJSON != "" {
				s.writeSettings(tt.settingsJSON)
			}

			cfg, err := Load()
			s.Require().NoError(err)
			s.Equal(tt.expectedPort, cfg.WorkerPort)
			s.Equal(tt.expectedQueue, cfg.StallQueueTimeoutMin)
			s.Equal(tt.expectedMax, cfg.AutoMergeMaxComplexity)
		})
	}
}

func (s *ConfigSuite) TestEnvOverridesFile() {
	s.writeSettings(`{"JULES_WORKER_PORT": 38888, "JULES_STALL_CONSECUTIVE_ERRORS": 4}`)
	s.T().Setenv("JULES_WORKER_PORT", "39999")
	s.T().Setenv("JULES_AUTO_MERGE_MIN_AGE_HOURS", "0.5")
	s.T().Setenv("JULES_GITHUB_ENABLED", "true")

	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal(39999, cfg.WorkerPort)
	s.Equal(4, cfg.StallConsecutiveErrors)
	s.Equal(30*time.Minute, cfg.AutoMergeThresholds().MinAge)
	s.True(cfg.GitHubEnabled)
}

func (s *ConfigSuite) TestMalformedEnvIsAnError() {
	s.T().Setenv("JULES_WORKER_PORT", "not-a-port")
	s.T().Setenv("JULES_AUTO_MERGE_MAX_COMPLEXITY", "high")

	_, err := Load()
	s.Require().Error(err)
	s.Contains(err.Error(), "JULES_WORKER_PORT")
	s.Contains(err.Error(), "JULES_AUTO_MERGE_MAX_COMPLEXITY")
}

func TestResolvedDBPath(t *testing.T) {
	t.Setenv(DataDirEnv, "/var/lib/jules")

	cfg := Default()
	assert.Equal(t, "/var/lib/jules/jules-command.db", cfg.ResolvedDBPath())

	cfg.DBPath = "/tmp/other.db"
	assert.Equal(t, "/tmp/other.db", cfg.ResolvedDBPath())
}

func TestWorkerAddr(t *testing.T) {
	cfg := Default()
	require.Equal(t, "127.0.0.1:37790", cfg.WorkerAddr())
	assert.True(t, strings.HasSuffix(cfg.WorkerAddr(), ":37790"))
}
