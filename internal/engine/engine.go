// Package engine builds the orchestrator context once from configuration:
// model repository, runner registry, lifecycle manager, guardian pipeline
// and request orchestrator. Transports and the CLI receive an *Engine
// instead of reaching for globals.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"orchestd/internal/common/fsutil"
	"orchestd/internal/config"
	"orchestd/internal/guardian"
	"orchestd/internal/manager"
	"orchestd/internal/modelrepo"
	"orchestd/internal/orchestrator"
	"orchestd/internal/resource"
	"orchestd/internal/runner"
	"orchestd/internal/settings"
)

// Engine is the explicit engine context.
type Engine struct {
	Config       config.Config
	Log          zerolog.Logger
	Settings     *settings.Store
	Monitor      resource.Monitor
	Repo         *modelrepo.Repo
	Registry     *runner.Registry
	Selector     *runner.Selector
	Manager      *manager.Manager
	Guardian     *guardian.Pipeline
	Orchestrator *orchestrator.Orchestrator

	ledger  *modelrepo.Ledger
	closing atomic.Bool
}

// Registration is one runner added to the registry.
type Registration struct {
	Descriptor runner.Descriptor
	Factory    runner.Factory
	// Optional registrations are skipped when the instance reports
	// IsSupported false.
	Optional bool
}

type options struct {
	monitor   resource.Monitor
	extra     []Registration
	builtins  bool
	publisher manager.EventPublisher
}

// Option customizes New.
type Option func(*options)

// WithMonitor replaces the procfs memory monitor.
func WithMonitor(m resource.Monitor) Option { return func(o *options) { o.monitor = m } }

// WithRunners registers additional runners after the built-in ones.
func WithRunners(rs ...Registration) Option {
	return func(o *options) { o.extra = append(o.extra, rs...) }
}

// WithoutBuiltins skips the built-in runners.
func WithoutBuiltins() Option { return func(o *options) { o.builtins = false } }

// WithPublisher receives manager lifecycle events in addition to the log.
func WithPublisher(p manager.EventPublisher) Option { return func(o *options) { o.publisher = p } }

// New wires the engine. cfg should already carry defaults.
func New(cfg config.Config, log zerolog.Logger, opts ...Option) (*Engine, error) {
	o := options{builtins: true}
	for _, fn := range opts {
		fn(&o)
	}
	store, err := settings.NewStore(cfg.Settings)
	if err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	e := &Engine{Config: cfg, Log: log, Settings: store}

	if e.Monitor = o.monitor; e.Monitor == nil {
		pm, err := resource.NewProcMonitor("", resource.ProbeOptions{NPU: cfg.Device.NPU, GPU: cfg.Device.GPU})
		if err != nil {
			return nil, err
		}
		e.Monitor = pm
	}

	if err := e.openRepo(); err != nil {
		e.closeLedger()
		return nil, err
	}

	e.Registry = runner.NewRegistry(runner.Deps{Models: e.Repo, Log: log.With().Str("component", "runner").Logger()})
	regs := o.extra
	if o.builtins {
		regs = append(builtins(cfg), regs...)
	}
	for _, r := range regs {
		if err := e.register(r); err != nil {
			e.closeLedger()
			return nil, err
		}
	}
	e.Selector = runner.NewSelector(e.Registry, e.Monitor)

	var pub manager.EventPublisher = logPublisher{log: log.With().Str("component", "manager").Logger()}
	if o.publisher != nil {
		pub = multiPublisher{pub, o.publisher}
	}
	e.Manager = manager.New(e.Registry, e.Repo, e.Monitor, manager.Config{
		BudgetMB:      cfg.BudgetMB,
		MarginMB:      cfg.MarginMB,
		MaxQueueDepth: cfg.MaxQueueDepth,
		MaxWait:       cfg.MaxWait.Duration,
		DrainTimeout:  cfg.DrainTimeout.Duration,
		Settings:      store.Snapshot,
		Publisher:     pub,
		Log:           log.With().Str("component", "manager").Logger(),
	})
	e.Guardian = guardian.New(e.Selector, e.Registry, e.Manager, log.With().Str("component", "guardian").Logger())
	e.Orchestrator = orchestrator.New(e.Selector, e.Registry, e.Manager, e.Guardian, store, orchestrator.Options{
		StreamBuffer: cfg.StreamBuffer,
		Log:          log.With().Str("component", "orchestrator").Logger(),
	})
	log.Info().
		Int("runners", e.Registry.Len()).
		Int("models", len(e.Repo.List())).
		Interface("selection", e.Selector.Selection(store.Snapshot())).
		Msg("engine_ready")
	return e, nil
}

func (e *Engine) openRepo() error {
	if e.Config.CatalogDB != "" {
		p, err := fsutil.ExpandHome(e.Config.CatalogDB)
		if err != nil {
			return err
		}
		if e.ledger, err = modelrepo.OpenLedger(p); err != nil {
			return fmt.Errorf("open catalog db: %w", err)
		}
	}
	repo, err := modelrepo.New(modelrepo.Options{
		Dir:    e.Config.ModelsDir,
		Ledger: e.ledger,
		Log:    e.Log.With().Str("component", "modelrepo").Logger(),
	})
	if err != nil {
		return err
	}
	if e.Config.CatalogFile != "" {
		ds, err := modelrepo.LoadCatalog(e.Config.CatalogFile)
		if err != nil {
			return err
		}
		repo.Add(ds...)
	}
	n, err := repo.AddScanned()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("scan models dir: %w", err)
	}
	e.Log.Debug().Int("scanned", n).Str("dir", e.Config.ModelsDir).Msg("models_scanned")
	e.Repo = repo
	return nil
}

func (e *Engine) register(r Registration) error {
	if !r.Optional {
		return e.Registry.Register(r.Descriptor, r.Factory)
	}
	_, err := e.Registry.RegisterIfSupported(r.Descriptor, r.Factory)
	return err
}

// Ready reports whether the engine accepts requests: it is not closing and
// at least one runner is registered.
func (e *Engine) Ready() bool { return !e.closing.Load() && e.Registry.Len() > 0 }

// Close unloads every runner and closes the verification catalog.
func (e *Engine) Close(ctx context.Context) error {
	e.closing.Store(true)
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Config.DrainTimeout.Duration+5*time.Second)
		defer cancel()
	}
	err := e.Manager.Close(ctx)
	return errors.Join(err, e.closeLedger())
}

func (e *Engine) closeLedger() error {
	if e.ledger == nil {
		return nil
	}
	err := e.ledger.Close()
	e.ledger = nil
	return err
}
