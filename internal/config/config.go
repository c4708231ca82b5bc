// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces the environment variables that override configuration keys
// (engine.quiescence_timeout is read from FORMPILOT_ENGINE_QUIESCENCE_TIMEOUT).
const EnvPrefix = "FORMPILOT"

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Engine() EngineConfig
	Browser() BrowserConfig
	Report() ReportConfig
	Control() ControlConfig
	Telemetry() TelemetryConfig

	// Engine Setters
	SetEngineVerbose(bool)

	// Browser Setters
	SetBrowserHeadless(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	EngineCfg    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	BrowserCfg   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	ReportCfg    ReportConfig    `mapstructure:"report" yaml:"report"`
	ControlCfg   ControlConfig   `mapstructure:"control" yaml:"control"`
	TelemetryCfg TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Engine() EngineConfig       { return c.EngineCfg }
func (c *Config) Browser() BrowserConfig     { return c.BrowserCfg }
func (c *Config) Report() ReportConfig       { return c.ReportCfg }
func (c *Config) Control() ControlConfig     { return c.ControlCfg }
func (c *Config) Telemetry() TelemetryConfig { return c.TelemetryCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetEngineVerbose(b bool)   { c.EngineCfg.Verbose = b }
func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }

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

// EngineConfig configures the fill loop.
type EngineConfig struct {
	QuiescenceTimeout time.Duration   `mapstructure:"quiescence_timeout" yaml:"quiescence_timeout"`
	ActionDelay       time.Duration   `mapstructure:"action_delay" yaml:"action_delay"`
	Verbose           bool            `mapstructure:"verbose" yaml:"verbose"`
	RerunYield        time.Duration   `mapstructure:"rerun_yield" yaml:"rerun_yield"`
	KeyAttribute      string          `mapstructure:"key_attribute" yaml:"key_attribute"`
	DataKey           string          `mapstructure:"data_key" yaml:"data_key"`
	CodeKey           string          `mapstructure:"code_key" yaml:"code_key"`
	MaxFailures       int             `mapstructure:"max_failures" yaml:"max_failures"`
	LabelSuffixes     []string        `mapstructure:"label_suffixes" yaml:"label_suffixes"`
	ValueSuffixes     []string        `mapstructure:"value_suffixes" yaml:"value_suffixes"`
	Retry             RetryConfig     `mapstructure:"retry" yaml:"retry"`
	Composite         CompositeConfig `mapstructure:"composite" yaml:"composite"`
	// CompositesFile adds composite kinds to the built-in table.
	CompositesFile string `mapstructure:"composites_file" yaml:"composites_file"`
}

// RetryConfig spaces the re-attempts of failed keys.
type RetryConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier" yaml:"multiplier"`
}

// CompositeConfig tunes the pauses of the suggestion-list protocol.
type CompositeConfig struct {
	Stabilize time.Duration `mapstructure:"stabilize" yaml:"stabilize"`
	Settle    time.Duration `mapstructure:"settle" yaml:"settle"`
	MaxNudges int           `mapstructure:"max_nudges" yaml:"max_nudges"`
}

// BrowserConfig holds settings for the Chrome instance.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	DisableGPU        bool          `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	// BaseURL is joined with a scenario's procedure code when no URL is given.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// ReportConfig controls the run report.
type ReportConfig struct {
	Output            string `mapstructure:"output" yaml:"output"`
	OrphanPrefixMatch bool   `mapstructure:"orphan_prefix_match" yaml:"orphan_prefix_match"`
}

// ControlConfig configures the local HTTP control surface.
type ControlConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// TelemetryConfig selects the OTLP collector. An empty endpoint disables export.
type TelemetryConfig struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure bool   `mapstructure:"insecure" yaml:"insecure"`
}

// NewDefaultConfig creates a configuration populated with the defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
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
	v.SetDefault("logger.service_name", "formpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Engine --
	v.SetDefault("engine.quiescence_timeout", "5s")
	v.SetDefault("engine.action_delay", "0s")
	v.SetDefault("engine.verbose", false)
	v.SetDefault("engine.rerun_yield", "10ms")
	v.SetDefault("engine.key_attribute", "data-key")
	v.SetDefault("engine.data_key", "donnees")
	v.SetDefault("engine.code_key", "codeDemarche")
	v.SetDefault("engine.max_failures", 0)
	v.SetDefault("engine.label_suffixes", []string{"_libelle", "_label"})
	v.SetDefault("engine.value_suffixes", []string{"_valeur", "_value"})
	v.SetDefault("engine.retry.initial_interval", "200ms")
	v.SetDefault("engine.retry.max_interval", "5s")
	v.SetDefault("engine.retry.multiplier", 2.0)
	v.SetDefault("engine.composite.stabilize", "1s")
	v.SetDefault("engine.composite.settle", "100ms")
	v.SetDefault("engine.composite.max_nudges", 8)
	v.SetDefault("engine.composites_file", "")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.disable_gpu", false)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.post_load_wait", "2s")
	v.SetDefault("browser.base_url", "")

	// -- Report --
	v.SetDefault("report.output", "")
	v.SetDefault("report.orphan_prefix_match", true)

	// -- Control --
	v.SetDefault("control.enabled", false)
	v.SetDefault("control.addr", "127.0.0.1:8787")

	// -- Telemetry --
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.insecure", false)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
// Environment variables prefixed with FORMPILOT_ override file values.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

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
	if err := c.EngineCfg.Validate(); err != nil {
		return err
	}
	if c.BrowserCfg.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be positive")
	}
	if c.BrowserCfg.PostLoadWait < 0 {
		return fmt.Errorf("browser.post_load_wait must not be negative")
	}
	if c.ControlCfg.Enabled && c.ControlCfg.Addr == "" {
		return fmt.Errorf("control.addr is required when the control server is enabled")
	}
	return nil
}

// Validate checks the engine section.
func (e *EngineConfig) Validate() error {
	switch {
	case e.QuiescenceTimeout <= 0:
		return fmt.Errorf("engine.quiescence_timeout must be positive")
	case e.ActionDelay < 0:
		return fmt.Errorf("engine.action_delay must not be negative")
	case e.RerunYield < 0:
		return fmt.Errorf("engine.rerun_yield must not be negative")
	case strings.TrimSpace(e.KeyAttribute) == "":
		return fmt.Errorf("engine.key_attribute is a required configuration field")
	case strings.TrimSpace(e.DataKey) == "":
		return fmt.Errorf("engine.data_key is a required configuration field")
	case e.MaxFailures < 0:
		return fmt.Errorf("engine.max_failures must not be negative")
	case e.Retry.Multiplier < 1:
		return fmt.Errorf("engine.retry.multiplier must be at least 1")
	case e.Retry.InitialInterval <= 0 || e.Retry.MaxInterval < e.Retry.InitialInterval:
		return fmt.Errorf("engine.retry intervals must be positive with max_interval >= initial_interval")
	case e.Composite.MaxNudges < 0:
		return fmt.Errorf("engine.composite.max_nudges must not be negative")
	case e.Composite.Stabilize < 0 || e.Composite.Settle < 0:
		return fmt.Errorf("engine.composite pauses must not be negative")
	}
	return nil
}
