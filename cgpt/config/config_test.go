package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	internal "github.com/ZanzyTHEbar/coffee-gpt/cgpt"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite tests the config package functionality
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	viper.Reset()
	AppConfig = Config{}

	var err error
	suite.origDir, err = os.Getwd()
	require.NoError(suite.T(), err)

	tempDir, err := os.MkdirTemp("", "coffeegpt-config-test-*")
	require.NoError(suite.T(), err)
	suite.tempDir = tempDir

	// Run from an empty directory so no stray config.yaml is picked up
	err = os.Chdir(tempDir)
	require.NoError(suite.T(), err)
}

func (suite *ConfigTestSuite) TearDownTest() {
	if suite.origDir != "" {
		os.Chdir(suite.origDir)
	}
	if suite.tempDir != "" {
		os.RemoveAll(suite.tempDir)
	}
}

func (suite *ConfigTestSuite) TestLoadConfigWithDefaults() {
	cfg, err := LoadConfig("")

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), internal.DefaultAppName, cfg.App.Name)
	assert.Equal(suite.T(), "gemini", cfg.LLM.Provider)
	assert.Equal(suite.T(), internal.DefaultChatModel, cfg.LLM.Model)
	assert.Equal(suite.T(), 5, cfg.Harness.MaxIterations)
	assert.Equal(suite.T(), time.Second, cfg.Harness.RateLimitRefillRate)
	assert.Equal(suite.T(), internal.DefaultRadiusMeters, cfg.Places.RadiusMeters)
	assert.Equal(suite.T(), internal.DefaultPageSize, cfg.Places.PageSize)
	assert.Equal(suite.T(), "lru", cfg.Cache.Backend)
	assert.Equal(suite.T(), 20*time.Millisecond, cfg.Server.RevealInterval)
	assert.Equal(suite.T(), internal.DefaultDatabaseDSN, cfg.Database.DSN)
	assert.False(suite.T(), cfg.Database.Enabled)
}

func (suite *ConfigTestSuite) TestLoadConfigWithFile() {
	configContent := `
llm:
  provider: "openai"
  model: "gpt-4o-mini"
  fallbacks: ["gemini", "ollama"]
harness:
  max_iterations: 3
places:
  radius_meters: 1500
cache:
  backend: "redis"
database:
  enabled: true
  dsn: "test.db"
`

	configFile := filepath.Join(suite.tempDir, "config.yaml")
	err := os.WriteFile(configFile, []byte(configContent), 0o644)
	require.NoError(suite.T(), err)

	cfg, err := LoadConfig(configFile)

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), "openai", cfg.LLM.Provider)
	assert.Equal(suite.T(), "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(suite.T(), []string{"gemini", "ollama"}, cfg.LLM.Fallbacks)
	assert.Equal(suite.T(), 3, cfg.Harness.MaxIterations)
	assert.Equal(suite.T(), 1500, cfg.Places.RadiusMeters)
	assert.Equal(suite.T(), "redis", cfg.Cache.Backend)
	assert.True(suite.T(), cfg.Database.Enabled)
	assert.Equal(suite.T(), "test.db", cfg.Database.DSN)

	// Untouched sections keep their defaults
	assert.Equal(suite.T(), internal.DefaultPageSize, cfg.Places.PageSize)
}

func (suite *ConfigTestSuite) TestLoadConfigProviderEnv() {
	suite.T().Setenv("GPLACES_API_KEY", "places-key")
	suite.T().Setenv("TAVILY_API_KEY", "tavily-key")
	suite.T().Setenv("GEMINI_API_KEY", "gemini-key")

	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), "places-key", cfg.Places.APIKey)
	assert.Equal(suite.T(), "tavily-key", cfg.Search.APIKey)
	assert.Equal(suite.T(), "gemini-key", cfg.LLM.GoogleAPIKey)
}

func (suite *ConfigTestSuite) TestLoadConfigInvalidFile() {
	// An explicit path that does not exist is an error
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigMalformedFile() {
	malformedContent := `
llm:
  provider: "gemini"
  fallbacks: [unclosed bracket
`

	configFile := filepath.Join(suite.tempDir, "malformed.yaml")
	err := os.WriteFile(configFile, []byte(malformedContent), 0o644)
	require.NoError(suite.T(), err)

	cfg, err := LoadConfig(configFile)

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestAppConfigGlobal() {
	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), cfg.LLM.Provider, AppConfig.LLM.Provider)
	assert.Equal(suite.T(), cfg.Server.Addr, AppConfig.Server.Addr)
}

func (suite *ConfigTestSuite) TestWatchWithoutConfigFile() {
	_, err := LoadConfig("")
	require.NoError(suite.T(), err)

	called := false
	Watch(func(*Config) { called = true })
	assert.False(suite.T(), called)
}

// BenchmarkLoadConfig benchmarks config loading performance
func BenchmarkLoadConfig(b *testing.B) {
	for b.Loop() {
		viper.Reset()
		cfg, err := LoadConfig("")
		if err != nil {
			b.Fatal(err)
		}
		_ = cfg
	}
}
