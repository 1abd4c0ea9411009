package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/coffee-gpt/cgpt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	App      AppSettings    `mapstructure:"app"`
	Log      LogConfig      `mapstructure:"log"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Harness  HarnessConfig  `mapstructure:"harness"`
	Places   PlacesConfig   `mapstructure:"places"`
	Search   SearchConfig   `mapstructure:"search"`
	Photos   PhotosConfig   `mapstructure:"photos"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Session  SessionConfig  `mapstructure:"session"`
}

// AppSettings stores top-level application settings.
type AppSettings struct {
	Name        string `mapstructure:"name"`
	CacheDir    string `mapstructure:"cacheDir"`
	Environment string `mapstructure:"environment"` // "development", "production"
}

// LogConfig controls the root zerolog logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // "debug", "info", "warn", "error"
	Pretty bool   `mapstructure:"pretty"` // human-readable console output
}

// DatabaseConfig stores the transcript log connection details.
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
	Type    string `mapstructure:"type"`
	// Embedded-only configuration
	LibSQLDataDir string `mapstructure:"libsql_data_dir"` // Directory for database files
}

// LLMConfig stores language model configurations.
type LLMConfig struct {
	Provider     string   `mapstructure:"provider"`   // "gemini", "openai", "anthropic", "ollama", "gguf"
	Fallbacks    []string `mapstructure:"fallbacks"`  // providers tried in order when the primary fails
	Model        string   `mapstructure:"model"`      // model name for the primary provider
	ModelPath    string   `mapstructure:"model_path"` // GGUF file for the local provider
	MaxNewTokens int      `mapstructure:"max_new_tokens"`
	Temperature  float32  `mapstructure:"temperature"`
	TopP         float32  `mapstructure:"top_p"`
	TimeoutMs    int      `mapstructure:"timeout_ms"`

	GoogleAPIKey    string `mapstructure:"google_api_key"`
	OpenAIAPIKey    string `mapstructure:"openai_api_key"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	OllamaHost      string `mapstructure:"ollama_host"`

	// Per-provider model overrides used by the fallback cascade.
	Models map[string]string `mapstructure:"models"`
}

// HarnessConfig stores LLM harness configurations.
type HarnessConfig struct {
	// Cache settings
	CacheEnabled    bool `mapstructure:"cache_enabled"`     // Enable completion caching
	CacheCapacity   int  `mapstructure:"cache_capacity"`    // LRU cache capacity
	CacheTTLSeconds int  `mapstructure:"cache_ttl_seconds"` // Cache entry TTL

	// Rate limiting
	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled"`     // Enable rate limiting
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity"`    // Token bucket capacity
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate"` // Refill rate

	// Policies
	MaxToolDepth  int           `mapstructure:"max_tool_depth"`  // Maximum recursive tool calls
	MaxIterations int           `mapstructure:"max_iterations"`  // Maximum orchestration iterations
	MaxOutputSize int           `mapstructure:"max_output_size"` // Maximum output size in bytes
	ToolTimeout   time.Duration `mapstructure:"tool_timeout"`    // Per-tool deadline
	RetryCount    int           `mapstructure:"retry_count"`     // Provider call retries

	// Safety and validation
	EnableGuardrails bool     `mapstructure:"enable_guardrails"` // Enable safety checks
	BlockedWords     []string `mapstructure:"blocked_words"`     // Secret keys masked in output
	AllowedTools     []string `mapstructure:"allowed_tools"`     // Whitelist of allowed tool names

	// Telemetry
	EnableTracing bool `mapstructure:"enable_tracing"` // Enable structured logging/tracing

	// Performance
	ToolConcurrency int `mapstructure:"tool_concurrency"` // Max concurrent tool executions
}

// PlacesConfig configures the Google Places and Geocoding adapters.
type PlacesConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	PlacesBaseURL  string        `mapstructure:"places_base_url"`
	GeocodeBaseURL string        `mapstructure:"geocode_base_url"`
	RadiusMeters   int           `mapstructure:"radius_meters"`
	PageSize       int           `mapstructure:"page_size"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// SearchConfig configures the Tavily web search adapter.
type SearchConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	SearchDepth string        `mapstructure:"search_depth"` // "basic" or "advanced"
	MaxResults  int           `mapstructure:"max_results"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// PhotosConfig configures photo-reference resolution.
type PhotosConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MaxWidthPx  int  `mapstructure:"max_width_px"`
	TTLSeconds  int  `mapstructure:"ttl_seconds"`
	Concurrency int  `mapstructure:"concurrency"` // photos resolved in parallel per response
}

// CacheConfig selects the shared cache backend.
type CacheConfig struct {
	Backend  string `mapstructure:"backend"` // "lru" or "redis"
	Capacity int    `mapstructure:"capacity"`
}

// RedisConfig stores the Redis connection used by the "redis" cache backend.
type RedisConfig struct {
	URL       string `mapstructure:"url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	RevealInterval  time.Duration `mapstructure:"reveal_interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TurnTimeout     time.Duration `mapstructure:"turn_timeout"`
}

// SessionConfig controls session lifetime.
type SessionConfig struct {
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	ReapSchedule   string        `mapstructure:"reap_schedule"` // cron spec for the idle-session janitor
	MaxSessions    int           `mapstructure:"max_sessions"`
	TranscriptTail int           `mapstructure:"transcript_tail"` // history turns fed to the rephraser
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("..")
		viper.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		viper.AddConfigPath(internal.DefaultConfigPath)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	setDefaults()

	viper.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. places.api_key becomes PLACES_API_KEY
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindProviderEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file; defaults and env vars apply.
	}

	err := viper.Unmarshal(&AppConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &AppConfig, nil
}

func setDefaults() {
	viper.SetDefault("app.name", internal.DefaultAppName)
	viper.SetDefault("app.cacheDir", internal.DefaultCacheDir)
	viper.SetDefault("app.environment", "development")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.pretty", true)

	// LLM defaults (Gemini 2.5 Flash)
	viper.SetDefault("llm.provider", "gemini")
	viper.SetDefault("llm.fallbacks", []string{})
	viper.SetDefault("llm.model", internal.DefaultChatModel)
	viper.SetDefault("llm.model_path", "")
	viper.SetDefault("llm.max_new_tokens", 1024)
	viper.SetDefault("llm.temperature", 0.3)
	viper.SetDefault("llm.top_p", 0.9)
	viper.SetDefault("llm.timeout_ms", 30000)
	viper.SetDefault("llm.ollama_host", "http://localhost:11434")

	// Harness defaults
	viper.SetDefault("harness.cache_enabled", true)
	viper.SetDefault("harness.cache_capacity", 1000)
	viper.SetDefault("harness.cache_ttl_seconds", 3600) // 1 hour
	viper.SetDefault("harness.rate_limit_enabled", true)
	viper.SetDefault("harness.rate_limit_capacity", 10)
	viper.SetDefault("harness.rate_limit_refill_rate", "1s")
	viper.SetDefault("harness.max_tool_depth", 3)
	viper.SetDefault("harness.max_iterations", 5)
	viper.SetDefault("harness.max_output_size", 10000) // 10KB
	viper.SetDefault("harness.tool_timeout", "15s")
	viper.SetDefault("harness.retry_count", 1)
	viper.SetDefault("harness.enable_guardrails", true)
	viper.SetDefault("harness.blocked_words", []string{"password", "credential"})
	viper.SetDefault("harness.allowed_tools", []string{}) // Empty means allow all by default
	viper.SetDefault("harness.enable_tracing", true)
	viper.SetDefault("harness.tool_concurrency", 4)

	// Adapter defaults
	viper.SetDefault("places.places_base_url", "https://places.googleapis.com/v1")
	viper.SetDefault("places.geocode_base_url", "https://maps.googleapis.com/maps/api/geocode/json")
	viper.SetDefault("places.radius_meters", internal.DefaultRadiusMeters)
	viper.SetDefault("places.page_size", internal.DefaultPageSize)
	viper.SetDefault("places.timeout", "10s")

	viper.SetDefault("search.base_url", "https://api.tavily.com/search")
	viper.SetDefault("search.search_depth", "basic")
	viper.SetDefault("search.max_results", internal.DefaultPageSize)
	viper.SetDefault("search.timeout", "15s")

	viper.SetDefault("photos.enabled", true)
	viper.SetDefault("photos.max_width_px", 400)
	viper.SetDefault("photos.ttl_seconds", 86400)
	viper.SetDefault("photos.concurrency", 5)

	viper.SetDefault("cache.backend", "lru")
	viper.SetDefault("cache.capacity", 2048)
	viper.SetDefault("redis.url", "redis://localhost:6379/0")
	viper.SetDefault("redis.key_prefix", internal.DefaultAppName+":")

	// Transcript log (embedded libsql), off unless asked for
	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.dsn", internal.DefaultDatabaseDSN)
	viper.SetDefault("database.type", internal.DefaultDatabaseType)
	viper.SetDefault("database.libsql_data_dir", internal.DefaultDatabaseDir)

	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.reveal_interval", "20ms")
	viper.SetDefault("server.shutdown_timeout", "10s")
	viper.SetDefault("server.turn_timeout", "90s")

	viper.SetDefault("session.idle_timeout", "30m")
	viper.SetDefault("session.reap_schedule", "@every 5m")
	viper.SetDefault("session.max_sessions", 10000)
	viper.SetDefault("session.transcript_tail", 20)
}

// bindProviderEnv maps the conventional provider env names onto config keys.
func bindProviderEnv() {
	_ = viper.BindEnv("places.api_key", "PLACES_API_KEY", "GPLACES_API_KEY")
	_ = viper.BindEnv("search.api_key", "SEARCH_API_KEY", "TAVILY_API_KEY")
	_ = viper.BindEnv("llm.google_api_key", "LLM_GOOGLE_API_KEY", "GOOGLE_API_KEY", "GEMINI_API_KEY")
	_ = viper.BindEnv("llm.openai_api_key", "LLM_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = viper.BindEnv("llm.anthropic_api_key", "LLM_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	_ = viper.BindEnv("llm.ollama_host", "LLM_OLLAMA_HOST", "OLLAMA_HOST")
}

// Watch re-reads the config file on change and hands the fresh values to
// onChange. It is a no-op when no config file was found.
func Watch(onChange func(*Config)) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var next Config
		if err := viper.Unmarshal(&next); err != nil {
			return
		}
		AppConfig = next
		onChange(&next)
	})
	viper.WatchConfig()
}
