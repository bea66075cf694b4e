package config

import (
	"fmt"
	"strings"
	"time"
)

// Defaults for unset fields.
const (
	DefaultAddr          = ":8080"
	DefaultModelsDir     = "~/.local/share/orchestd/models"
	DefaultMaxQueueDepth = 32
	DefaultMaxWait       = 30 * time.Second
	DefaultDrainTimeout  = 30 * time.Second
	DefaultStreamBuffer  = 16
)

// Defaults fills zero values in place.
func (c *Config) Defaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ModelsDir == "" {
		c.ModelsDir = DefaultModelsDir
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = DefaultMaxQueueDepth
	}
	if c.MaxWait.Duration <= 0 {
		c.MaxWait.Duration = DefaultMaxWait
	}
	if c.DrainTimeout.Duration <= 0 {
		c.DrainTimeout.Duration = DefaultDrainTimeout
	}
	if c.StreamBuffer <= 0 {
		c.StreamBuffer = DefaultStreamBuffer
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	c.Settings.Normalize()
}

// Validate rejects values Defaults cannot repair.
func (c Config) Validate() error {
	if c.BudgetMB < 0 {
		return fmt.Errorf("budget_mb must be >= 0")
	}
	if c.MarginMB < 0 {
		return fmt.Errorf("margin_mb must be >= 0")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log_format: unsupported value %q", c.LogFormat)
	}
	if c.Llama.PortStart > 0 && c.Llama.PortEnd > 0 && c.Llama.PortEnd < c.Llama.PortStart {
		return fmt.Errorf("llama.port_end < llama.port_start")
	}
	if err := c.Settings.Validate(); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	return nil
}

// Resolve loads path (optional), overlays the environment, fills defaults
// and validates.
func Resolve(path string) (Config, error) {
	var (
		cfg Config
		err error
	)
	if path != "" {
		if cfg, err = Load(path); err != nil {
			return cfg, err
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	cfg.Defaults()
	return cfg, cfg.Validate()
}
