package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/toolrun/trun"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Assistant AssistantConfig `mapstructure:"assistant"`
	Run       RunConfig       `mapstructure:"run"`
	Harness   HarnessConfig   `mapstructure:"harness"`
	Store     StoreConfig     `mapstructure:"store"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Log       LogConfig       `mapstructure:"log"`
}

// AssistantConfig stores the remote assistant endpoint and its identity.
type AssistantConfig struct {
	APIURL          string `mapstructure:"api_url"`
	APIKey          string `mapstructure:"api_key"`
	Model           string `mapstructure:"model"`
	AssistantID     string `mapstructure:"assistant_id"` // empty: create one on startup
	Name            string `mapstructure:"name"`
	Instructions    string `mapstructure:"instructions"`
	RunInstructions string `mapstructure:"run_instructions"` // per-run override
}

// RunConfig stores polling and deadline settings for runs.
type RunConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxPollInterval time.Duration `mapstructure:"max_poll_interval"`
	MaxWait         time.Duration `mapstructure:"max_wait"`        // wall-clock cap per run
	RequestTimeout  time.Duration `mapstructure:"request_timeout"` // per network call
}

// HarnessConfig stores tool execution and orchestration settings.
type HarnessConfig struct {
	// Execution
	ToolTimeout     time.Duration `mapstructure:"tool_timeout"`     // Per-tool deadline
	ToolConcurrency int           `mapstructure:"tool_concurrency"` // Max concurrent tool executions
	MaxToolRounds   int           `mapstructure:"max_tool_rounds"`  // requires_action rounds per run
	CancelOnAbort   bool          `mapstructure:"cancel_on_abort"`  // Cancel remote run on timeout

	// Cache settings
	CacheEnabled    bool `mapstructure:"cache_enabled"`     // Cache idempotent tool results
	CacheCapacity   int  `mapstructure:"cache_capacity"`    // LRU cache capacity
	CacheTTLSeconds int  `mapstructure:"cache_ttl_seconds"` // Cache entry TTL

	// Rate limiting
	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled"`
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity"`
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate"`

	// Safety
	EnableGuardrails bool     `mapstructure:"enable_guardrails"`
	BlockedWords     []string `mapstructure:"blocked_words"` // Words rejected in tool arguments
	AllowedTools     []string `mapstructure:"allowed_tools"` // Empty allows every registered tool
	MaxOutputSize    int      `mapstructure:"max_output_size"`

	// Telemetry
	EnableTracing bool `mapstructure:"enable_tracing"`
}

// StoreConfig selects where thread history is persisted.
type StoreConfig struct {
	Driver       string `mapstructure:"driver"` // "none", "libsql", "sqlite", "postgres"
	DSN          string `mapstructure:"dsn"`
	HistoryLimit int    `mapstructure:"history_limit"` // messages restored per thread
}

// ToolsConfig stores endpoints for the lookup tools.
type ToolsConfig struct {
	WeatherAPIURL string `mapstructure:"weather_api_url"`
	WeatherAPIKey string `mapstructure:"weather_api_key"`
	QuoteAPIURL   string `mapstructure:"quote_api_url"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. assistant.api_key becomes ASSISTANT_API_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := v.BindEnv("assistant.api_key", "ASSISTANT_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}
	if err := v.BindEnv("tools.weather_api_key", "TOOLS_WEATHER_API_KEY", "OPENWEATHER_API_KEY"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults and environment are used.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	AppConfig = cfg
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Assistant defaults
	v.SetDefault("assistant.api_url", internal.DefaultAssistantAPIURL)
	v.SetDefault("assistant.api_key", "")
	v.SetDefault("assistant.model", internal.DefaultAssistantModel)
	v.SetDefault("assistant.assistant_id", "")
	v.SetDefault("assistant.name", internal.DefaultAssistantName)
	v.SetDefault("assistant.instructions", internal.DefaultAssistantInstructions)
	v.SetDefault("assistant.run_instructions", internal.DefaultRunInstructions)

	// Run defaults
	v.SetDefault("run.poll_interval", internal.DefaultPollInterval.String())
	v.SetDefault("run.max_poll_interval", internal.DefaultMaxPollInterval.String())
	v.SetDefault("run.max_wait", internal.DefaultMaxWait.String())
	v.SetDefault("run.request_timeout", internal.DefaultRequestTimeout.String())

	// Harness defaults
	v.SetDefault("harness.tool_timeout", internal.DefaultToolTimeout.String())
	v.SetDefault("harness.tool_concurrency", 0) // whole batch at once
	v.SetDefault("harness.max_tool_rounds", 10)
	v.SetDefault("harness.cancel_on_abort", true)
	v.SetDefault("harness.cache_enabled", true)
	v.SetDefault("harness.cache_capacity", 256)
	v.SetDefault("harness.cache_ttl_seconds", 300)
	v.SetDefault("harness.rate_limit_enabled", false)
	v.SetDefault("harness.rate_limit_capacity", 4)
	v.SetDefault("harness.rate_limit_refill_rate", "1s")
	v.SetDefault("harness.enable_guardrails", true)
	v.SetDefault("harness.blocked_words", []string{})
	v.SetDefault("harness.allowed_tools", []string{})
	v.SetDefault("harness.max_output_size", 10000) // 10KB
	v.SetDefault("harness.enable_tracing", false)

	// Store defaults
	v.SetDefault("store.driver", internal.DefaultStoreDriver)
	v.SetDefault("store.dsn", internal.DefaultDatabaseDSN)
	v.SetDefault("store.history_limit", 50)

	// Tool endpoints
	v.SetDefault("tools.weather_api_url", internal.DefaultWeatherAPIURL)
	v.SetDefault("tools.weather_api_key", "")
	v.SetDefault("tools.quote_api_url", internal.DefaultQuoteAPIURL)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
}

// Validate rejects settings the harness cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Store.Driver) {
	case "", "none", "libsql", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	if c.Run.PollInterval <= 0 {
		return fmt.Errorf("run.poll_interval must be positive")
	}
	if c.Run.MaxPollInterval < c.Run.PollInterval {
		return fmt.Errorf("run.max_poll_interval must not be below run.poll_interval")
	}
	if c.Harness.ToolConcurrency < 0 {
		return fmt.Errorf("harness.tool_concurrency must not be negative")
	}
	return nil
}
