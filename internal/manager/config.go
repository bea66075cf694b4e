package manager

import (
	"time"

	"github.com/rs/zerolog"

	"orchestd/internal/settings"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
	defaultDrainTimeout  = 30 * time.Second
)

// Config holds the manager tunables.
type Config struct {
	// BudgetMB caps accounted model memory across all runners; 0 means the
	// device monitor alone decides.
	BudgetMB int
	// MarginMB is kept free on top of every requirement.
	MarginMB int
	// MaxQueueDepth bounds leases (queued plus running) per instance.
	MaxQueueDepth int
	// MaxWait bounds the wait for an instance's in-flight slot.
	MaxWait      time.Duration
	DrainTimeout time.Duration

	// Settings supplies the snapshot handed to Runner.Load.
	Settings  func() settings.EngineSettings
	Publisher EventPublisher
	Log       zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = defaultMaxQueueDepth
	}
	if c.MaxWait <= 0 {
		c.MaxWait = defaultMaxWait
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	if c.MarginMB < 0 {
		c.MarginMB = 0
	}
	if c.Settings == nil {
		c.Settings = settings.Default
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	return c
}
