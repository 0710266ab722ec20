// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/statepilot/api/schemas"
)

// Supported LLM providers.
const (
	ProviderGemini = "gemini"
	ProviderVertex = "vertex"
)

// Supported repository store backends.
const (
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config holds the entire application configuration.
type Config struct {
	Logger       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	Browser      BrowserConfig      `mapstructure:"browser" yaml:"browser"`
	Agent        AgentConfig        `mapstructure:"agent" yaml:"agent"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Store        StoreConfig        `mapstructure:"store" yaml:"store"`
	Metrics      MetricsConfig      `mapstructure:"metrics" yaml:"metrics"`
}

// LoggerConfig defines the configuration for the logger.
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

// BrowserConfig holds settings for the Chrome instance driven over CDP.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserDataDir       string         `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	UserAgent         string         `mapstructure:"user_agent" yaml:"user_agent"`
	StartURL          string         `mapstructure:"start_url" yaml:"start_url"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration  `mapstructure:"action_timeout" yaml:"action_timeout"`
	Humanoid          HumanoidConfig `mapstructure:"humanoid" yaml:"humanoid"`
}

// ViewportConfig is the browser window size.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// AgentConfig groups the LLM-facing settings.
type AgentConfig struct {
	LLM      LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
	SubAgent SubAgentConfig  `mapstructure:"sub_agent" yaml:"sub_agent"`
}

// LLMRouterConfig configures the fast and powerful model tiers.
type LLMRouterConfig struct {
	Enabled           bool           `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerMinute int            `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Fast              LLMModelConfig `mapstructure:"fast" yaml:"fast"`
	Powerful          LLMModelConfig `mapstructure:"powerful" yaml:"powerful"`
}

// LLMModelConfig describes one model endpoint.
type LLMModelConfig struct {
	Provider      string            `mapstructure:"provider" yaml:"provider"`
	Model         string            `mapstructure:"model" yaml:"model"`
	APIKey        string            `mapstructure:"api_key" yaml:"api_key"`
	Project       string            `mapstructure:"project" yaml:"project"`
	Location      string            `mapstructure:"location" yaml:"location"`
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	MaxRetryTime  time.Duration     `mapstructure:"max_retry_time" yaml:"max_retry_time"`
	Temperature   float32           `mapstructure:"temperature" yaml:"temperature"`
	TopP          float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK          float32           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens     int32             `mapstructure:"max_tokens" yaml:"max_tokens"`
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// SubAgentConfig bounds the action-generation loop.
type SubAgentConfig struct {
	MaxSteps   int           `mapstructure:"max_steps" yaml:"max_steps"`
	WaitPeriod time.Duration `mapstructure:"wait_period" yaml:"wait_period"`
}

// OrchestratorConfig mirrors schemas.RunOptions in config form.
type OrchestratorConfig struct {
	AllowMultipleStates bool          `mapstructure:"allow_multiple_states" yaml:"allow_multiple_states"`
	TransitionPeriod    time.Duration `mapstructure:"transition_period" yaml:"transition_period"`
	ActionPeriod        time.Duration `mapstructure:"action_period" yaml:"action_period"`
	StateTimeout        time.Duration `mapstructure:"state_timeout" yaml:"state_timeout"`
	NoStatesTimeout     time.Duration `mapstructure:"no_states_timeout" yaml:"no_states_timeout"`
	RecursionLimit      int           `mapstructure:"recursion_limit" yaml:"recursion_limit"`
}

// RunOptions converts the section into run options. Synthesis is enabled
// when the LLM is.
func (c *Config) RunOptions() schemas.RunOptions {
	o := c.Orchestrator
	return schemas.RunOptions{
		AllowMultipleStates: o.AllowMultipleStates,
		TransitionPeriod:    o.TransitionPeriod,
		ActionPeriod:        o.ActionPeriod,
		StateTimeout:        o.StateTimeout,
		NoStatesTimeout:     o.NoStatesTimeout,
		RecursionLimit:      o.RecursionLimit,
		SynthesisEnabled:    c.Agent.LLM.Enabled,
	}
}

// StoreConfig selects where state repositories are persisted.
type StoreConfig struct {
	Backend  string         `mapstructure:"backend" yaml:"backend"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
}

// PostgresConfig holds the database connection details.
type PostgresConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// RedisConfig holds the Redis connection details.
type RedisConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	Password  string `mapstructure:"password" yaml:"password"`
	DB        int    `mapstructure:"db" yaml:"db"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	Namespace  string `mapstructure:"namespace" yaml:"namespace"`
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "statepilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 900)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.action_timeout", "15s")
	setHumanoidDefaults(v)

	// -- Agent --
	v.SetDefault("agent.llm.enabled", true)
	v.SetDefault("agent.llm.requests_per_minute", 30)
	v.SetDefault("agent.llm.fast.provider", ProviderGemini)
	v.SetDefault("agent.llm.fast.model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.fast.api_timeout", "60s")
	v.SetDefault("agent.llm.fast.max_retry_time", "2m")
	v.SetDefault("agent.llm.fast.temperature", 0.2)
	v.SetDefault("agent.llm.powerful.provider", ProviderGemini)
	v.SetDefault("agent.llm.powerful.model", "gemini-2.5-pro")
	v.SetDefault("agent.llm.powerful.api_timeout", "120s")
	v.SetDefault("agent.llm.powerful.max_retry_time", "2m")
	v.SetDefault("agent.llm.powerful.temperature", 0.2)
	v.SetDefault("agent.sub_agent.max_steps", 50)
	v.SetDefault("agent.sub_agent.wait_period", "500ms")

	// -- Orchestrator --
	v.SetDefault("orchestrator.allow_multiple_states", false)
	v.SetDefault("orchestrator.transition_period", "3s")
	v.SetDefault("orchestrator.action_period", "1s")
	v.SetDefault("orchestrator.state_timeout", "30s")
	v.SetDefault("orchestrator.no_states_timeout", "0s")
	v.SetDefault("orchestrator.recursion_limit", 100)

	// -- Store --
	v.SetDefault("store.backend", StoreFile)
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.key_prefix", "statepilot:")

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9464")
	v.SetDefault("metrics.namespace", "statepilot")
}

// NewDefaultConfig returns a configuration populated only from defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// NewConfigFromViper unmarshals, normalizes and validates the configuration.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets are commonly supplied through the provider's own variable.
	_ = v.BindEnv("agent.llm.fast.api_key", "STATEPILOT_AGENT_LLM_FAST_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	_ = v.BindEnv("agent.llm.powerful.api_key", "STATEPILOT_AGENT_LLM_POWERFUL_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	_ = v.BindEnv("store.postgres.url", "STATEPILOT_STORE_POSTGRES_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Logger.LogFile, &c.Browser.UserDataDir, &c.Store.Path} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = os.ExpandEnv(expanded)
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	o := c.Orchestrator
	if o.TransitionPeriod < 0 || o.ActionPeriod < 0 {
		return fmt.Errorf("orchestrator periods must not be negative")
	}
	if o.StateTimeout < 0 || o.NoStatesTimeout < 0 {
		return fmt.Errorf("orchestrator timeouts must not be negative")
	}
	if o.RecursionLimit <= 0 {
		return fmt.Errorf("orchestrator.recursion_limit must be a positive integer")
	}
	if c.Agent.SubAgent.MaxSteps <= 0 {
		return fmt.Errorf("agent.sub_agent.max_steps must be a positive integer")
	}
	if c.Browser.Viewport.Width <= 0 || c.Browser.Viewport.Height <= 0 {
		return fmt.Errorf("browser.viewport dimensions must be positive")
	}

	switch strings.ToLower(c.Store.Backend) {
	case StoreFile:
	case StorePostgres:
		if c.Store.Postgres.URL == "" {
			return fmt.Errorf("store.postgres.url is required for the postgres backend")
		}
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("store.backend must be one of [%s, %s, %s], got %q", StoreFile, StorePostgres, StoreRedis, c.Store.Backend)
	}

	if c.Agent.LLM.Enabled {
		for tier, m := range map[string]LLMModelConfig{"fast": c.Agent.LLM.Fast, "powerful": c.Agent.LLM.Powerful} {
			if err := m.Validate(); err != nil {
				return fmt.Errorf("agent.llm.%s: %w", tier, err)
			}
		}
	}
	return nil
}

// Validate checks a single model's settings.
func (m LLMModelConfig) Validate() error {
	if m.Model == "" {
		return fmt.Errorf("model is required")
	}
	switch m.Provider {
	case ProviderGemini:
	case ProviderVertex:
		if m.Project == "" || m.Location == "" {
			return fmt.Errorf("project and location are required for the vertex provider")
		}
	default:
		return fmt.Errorf("unknown provider %q, supported: [%s, %s]", m.Provider, ProviderGemini, ProviderVertex)
	}
	if m.Temperature < 0 || m.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	return nil
}
