// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, 5*time.Second, cfg.Engine().QuiescenceTimeout)
	assert.Equal(t, time.Duration(0), cfg.Engine().ActionDelay)
	assert.Equal(t, 10*time.Millisecond, cfg.Engine().RerunYield)
	assert.Equal(t, "data-key", cfg.Engine().KeyAttribute)
	assert.Equal(t, "donnees", cfg.Engine().DataKey)
	assert.Equal(t, "codeDemarche", cfg.Engine().CodeKey)
	assert.Equal(t, []string{"_libelle", "_label"}, cfg.Engine().LabelSuffixes)
	assert.Equal(t, time.Second, cfg.Engine().Composite.Stabilize)
	assert.Equal(t, 8, cfg.Engine().Composite.MaxNudges)
	assert.Equal(t, 2.0, cfg.Engine().Retry.Multiplier)
	assert.False(t, cfg.Browser().Headless)
	assert.Equal(t, 90*time.Second, cfg.Browser().NavigationTimeout)
	assert.True(t, cfg.Report().OrphanPrefixMatch)
	assert.False(t, cfg.Control().Enabled)
	assert.Empty(t, cfg.Telemetry().Endpoint)

	require.NoError(t, cfg.Validate(), "defaults must validate")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"Zero quiescence", func(c *Config) { c.EngineCfg.QuiescenceTimeout = 0 }, "engine.quiescence_timeout must be positive"},
		{"Negative action delay", func(c *Config) { c.EngineCfg.ActionDelay = -time.Millisecond }, "engine.action_delay"},
		{"Blank key attribute", func(c *Config) { c.EngineCfg.KeyAttribute = " " }, "engine.key_attribute"},
		{"Blank data key", func(c *Config) { c.EngineCfg.DataKey = "" }, "engine.data_key"},
		{"Negative max failures", func(c *Config) { c.EngineCfg.MaxFailures = -1 }, "engine.max_failures"},
		{"Multiplier below one", func(c *Config) { c.EngineCfg.Retry.Multiplier = 0.5 }, "engine.retry.multiplier"},
		{"Inverted retry intervals", func(c *Config) { c.EngineCfg.Retry.MaxInterval = time.Millisecond }, "engine.retry intervals"},
		{"Negative nudges", func(c *Config) { c.EngineCfg.Composite.MaxNudges = -2 }, "engine.composite.max_nudges"},
		{"Zero navigation timeout", func(c *Config) { c.BrowserCfg.NavigationTimeout = 0 }, "browser.navigation_timeout"},
		{"Control without address", func(c *Config) {
			c.ControlCfg.Enabled = true
			c.ControlCfg.Addr = ""
		}, "control.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
engine:
  quiescence_timeout: 8s
  max_failures: 5
  composite:
    max_nudges: 3
browser:
  headless: true
  args: ["no-zygote", "window-size=1280,800"]
report:
  orphan_prefix_match: false
`)
		v := viper.New()
		SetDefaults(v) // Set defaults first
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, 8*time.Second, cfg.Engine().QuiescenceTimeout)
		assert.Equal(t, 5, cfg.Engine().MaxFailures)
		assert.Equal(t, 3, cfg.Engine().Composite.MaxNudges)
		// Siblings of an overridden nested key keep their defaults.
		assert.Equal(t, 100*time.Millisecond, cfg.Engine().Composite.Settle)
		assert.True(t, cfg.Browser().Headless)
		assert.Equal(t, []string{"no-zygote", "window-size=1280,800"}, cfg.Browser().Args)
		assert.False(t, cfg.Report().OrphanPrefixMatch)
		assert.Equal(t, "info", cfg.Logger().Level)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("engine.quiescence_timeout", "0s") // Intentionally invalid

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "engine.quiescence_timeout must be positive")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBufferString("engine:\n  action_delay: 50ms\n")))

		t.Setenv("FORMPILOT_ENGINE_ACTION_DELAY", "300ms")
		t.Setenv("FORMPILOT_BROWSER_BASE_URL", "https://demarches.example.fr")
		t.Setenv("FORMPILOT_ENGINE_VERBOSE", "true")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		// The env var overrides the value from the config buffer.
		assert.Equal(t, 300*time.Millisecond, cfg.Engine().ActionDelay)
		assert.Equal(t, "https://demarches.example.fr", cfg.Browser().BaseURL)
		assert.True(t, cfg.Engine().Verbose)
	})
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	var iface Interface = cfg

	iface.SetEngineVerbose(true)
	iface.SetBrowserHeadless(true)
	assert.True(t, cfg.Engine().Verbose)
	assert.True(t, cfg.Browser().Headless)
}
