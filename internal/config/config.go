// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Snapshot   SnapshotConfig   `mapstructure:"snapshot" yaml:"snapshot"`
	Recorder   RecorderConfig   `mapstructure:"recorder" yaml:"recorder"`
	Automation AutomationConfig `mapstructure:"automation" yaml:"automation"`
	LLM        LLMRouterConfig  `mapstructure:"llm" yaml:"llm"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL         string `mapstructure:"url" yaml:"url"`
	AutoMigrate bool   `mapstructure:"auto_migrate" yaml:"auto_migrate"`
}

// RedisConfig holds the connection details for the redis backend.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Password string        `mapstructure:"password" yaml:"-"`
	DB       int           `mapstructure:"db" yaml:"db"`
	Prefix   string        `mapstructure:"prefix" yaml:"prefix"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// StoreConfig selects the persistence backend and tunes the write-behind cache.
type StoreConfig struct {
	Backend      string        `mapstructure:"backend" yaml:"backend"`
	QueueSize    int           `mapstructure:"queue_size" yaml:"queue_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// BrowserConfig holds settings for the chromedp browser.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	ExecPath          string         `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir       string         `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          map[string]int `mapstructure:"viewport" yaml:"viewport"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration  `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// SnapshotConfig bounds the page extractor.
type SnapshotConfig struct {
	Scope          string `mapstructure:"scope" yaml:"scope"`
	MaxElements    int    `mapstructure:"max_elements" yaml:"max_elements"`
	MaxCandidates  int    `mapstructure:"max_candidates" yaml:"max_candidates"`
	ViewportMargin int    `mapstructure:"viewport_margin" yaml:"viewport_margin"`
}

// RecorderConfig tunes the action recorder.
type RecorderConfig struct {
	BindingName   string `mapstructure:"binding_name" yaml:"binding_name"`
	MaxActions    int    `mapstructure:"max_actions" yaml:"max_actions"`
	MaxAttributes int    `mapstructure:"max_attributes" yaml:"max_attributes"`
}

// AutomationConfig holds the engine's budgets.
type AutomationConfig struct {
	MaxIterations         int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	MaxDuration           time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
	MaxConsecutiveErrors  int           `mapstructure:"max_consecutive_errors" yaml:"max_consecutive_errors"`
	MaxExtractionFailures int           `mapstructure:"max_extraction_failures" yaml:"max_extraction_failures"`
	StepsPerSecond        float64       `mapstructure:"steps_per_second" yaml:"steps_per_second"`
	ObserverBuffer        int           `mapstructure:"observer_buffer" yaml:"observer_buffer"`
	Provider              string        `mapstructure:"provider" yaml:"provider"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MetricsEnabled  bool          `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini" // REST client with retries.
	ProviderGenAI  LLMProvider = "genai"  // google.golang.org/genai SDK.
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider      LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Model         string            `mapstructure:"model" yaml:"model"`
	APIKey        string            `mapstructure:"api_key" yaml:"-"`
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature   float32           `mapstructure:"temperature" yaml:"temperature"`
	TopP          float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK          int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens     int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "browzer")
	v.SetDefault("logger.log_file", "browzer.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Persistence --
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "browzer:")
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.queue_size", 256)
	v.SetDefault("store.write_timeout", "10s")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport", map[string]int{"width": 1280, "height": 800})
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.action_timeout", "15s")

	// -- Snapshot --
	v.SetDefault("snapshot.scope", "current")
	v.SetDefault("snapshot.max_elements", 200)
	v.SetDefault("snapshot.max_candidates", 2000)
	v.SetDefault("snapshot.viewport_margin", 50)

	// -- Recorder --
	v.SetDefault("recorder.binding_name", "__browzerRecord")
	v.SetDefault("recorder.max_actions", 5000)
	v.SetDefault("recorder.max_attributes", 14)

	// -- Automation --
	v.SetDefault("automation.max_iterations", 30)
	v.SetDefault("automation.max_duration", "10m")
	v.SetDefault("automation.max_consecutive_errors", 5)
	v.SetDefault("automation.max_extraction_failures", 3)
	v.SetDefault("automation.steps_per_second", 2.0)
	v.SetDefault("automation.observer_buffer", 64)
	v.SetDefault("automation.provider", string(ProviderGemini))

	// -- LLM --
	v.SetDefault("llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.default_powerful_model", "gemini-2.5-pro")

	// -- Server --
	v.SetDefault("server.addr", "127.0.0.1:8787")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.metrics_enabled", true)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("database.url", "BROWZER_DATABASE_URL")
	_ = v.BindEnv("redis.password", "BROWZER_REDIS_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required when store.backend is %q", BackendPostgres)
		}
	default:
		return fmt.Errorf("store.backend must be one of memory, postgres, redis; got %q", c.Store.Backend)
	}
	if c.Store.QueueSize <= 0 {
		return fmt.Errorf("store.queue_size must be a positive integer")
	}
	if err := c.Snapshot.Validate(); err != nil {
		return fmt.Errorf("snapshot configuration invalid: %w", err)
	}
	if err := c.Automation.Validate(); err != nil {
		return fmt.Errorf("automation configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the snapshot bounds.
func (s *SnapshotConfig) Validate() error {
	if s.Scope != "current" && s.Scope != "full" {
		return fmt.Errorf("scope must be current or full")
	}
	if s.MaxElements <= 0 {
		return fmt.Errorf("max_elements must be a positive integer")
	}
	if s.MaxCandidates < s.MaxElements {
		return fmt.Errorf("max_candidates must be at least max_elements")
	}
	return nil
}

// Validate checks the automation budgets.
func (a *AutomationConfig) Validate() error {
	if a.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be a positive integer")
	}
	if a.MaxDuration <= 0 {
		return fmt.Errorf("max_duration must be a positive duration")
	}
	if a.MaxConsecutiveErrors <= 0 {
		return fmt.Errorf("max_consecutive_errors must be a positive integer")
	}
	if a.MaxExtractionFailures <= 0 {
		return fmt.Errorf("max_extraction_failures must be a positive integer")
	}
	if a.StepsPerSecond < 0 {
		return fmt.Errorf("steps_per_second must not be negative")
	}
	return nil
}
