// Package daemon runs the long-lived detection loop.
package daemon

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/patmon/internal/domain"
	"github.com/eliteGoblin/focusd/patmon/internal/infra"
	"github.com/eliteGoblin/focusd/patmon/internal/usecase"
)

// EventObserver sees every event after it is processed.
type EventObserver interface {
	ObserveEvent(ev domain.Event, windowLen int)
}

// RulesLoader re-reads the rule set on reload.
type RulesLoader func() usecase.RuleLookup

// Config holds daemon loop configuration.
type Config struct {
	Roots             []string
	HeartbeatInterval time.Duration // How often to refresh the instance heartbeat
	EventBuffer       int           // Capacity of the source -> loop channel
	ReportsDir        string        // Where the session summary is written; empty disables it
	Version           string
}

// DefaultConfig returns default daemon configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		EventBuffer:       1024,
	}
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithRegistry enables single-instance locking and heartbeats.
func WithRegistry(registry domain.InstanceRegistry) Option {
	return func(d *Daemon) { d.registry = registry }
}

// WithEventObserver registers a per-event observer (metrics).
func WithEventObserver(obs EventObserver) Option {
	return func(d *Daemon) { d.observers = append(d.observers, obs) }
}

// WithRulesLoader sets the function Reload calls.
func WithRulesLoader(loader RulesLoader) Option {
	return func(d *Daemon) { d.loadRules = loader }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Daemon) { d.now = now }
}

// Daemon feeds source events through the engine.
// The Run loop is the only goroutine that touches the engine.
type Daemon struct {
	config    Config
	source    domain.EventSource
	engine    *usecase.Engine
	registry  domain.InstanceRegistry
	observers []EventObserver
	loadRules RulesLoader
	session   *Session
	reload    chan struct{}
	now       func() time.Time
	logger    *zap.Logger
}

// New creates a daemon.
func New(config Config, source domain.EventSource, engine *usecase.Engine, logger *zap.Logger, opts ...Option) *Daemon {
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultConfig().EventBuffer
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}

	d := &Daemon{
		config:  config,
		source:  source,
		engine:  engine,
		session: NewSession(),
		reload:  make(chan struct{}, 1),
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Session returns the running tally.
func (d *Daemon) Session() *Session {
	return d.session
}

// Reload asks the loop to re-read the rules. It never blocks.
func (d *Daemon) Reload() {
	select {
	case d.reload <- struct{}{}:
	default:
	}
}

// Run starts the source and processes events until ctx is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	roots := existingRoots(d.config.Roots, d.logger)
	if len(roots) == 0 {
		return fmt.Errorf("no watchable roots in %v: %w", d.config.Roots, domain.ErrSourceUnavailable)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan domain.Event, d.config.EventBuffer)
	onEvent := func(ev domain.Event) {
		select {
		case events <- ev:
		case <-runCtx.Done():
		}
	}

	if err := d.source.Start(runCtx, roots, onEvent); err != nil {
		return fmt.Errorf("failed to start event source: %w", err)
	}
	mode := d.source.Mode()

	if d.registry != nil {
		state := domain.InstanceState{
			PID:        os.Getpid(),
			StartedAt:  d.now(),
			SourceMode: mode,
			Roots:      roots,
			AppVersion: d.config.Version,
		}
		if err := d.registry.Acquire(state); err != nil {
			cancel()
			_ = d.source.Stop()
			return fmt.Errorf("failed to register instance: %w", err)
		}
	}

	d.logger.Info("daemon started",
		zap.Strings("roots", roots),
		zap.String("source_mode", mode))

	heartbeatTicker := time.NewTicker(d.config.HeartbeatInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.shutdown(cancel, roots, mode)
			return nil

		case ev := <-events:
			d.handle(runCtx, ev)

		case <-heartbeatTicker.C:
			if d.registry == nil {
				continue
			}
			if err := d.registry.UpdateHeartbeat(); err != nil {
				d.logger.Warn("failed to update heartbeat", zap.Error(err))
			}

		case <-d.reload:
			d.reloadRules()
		}
	}
}

func (d *Daemon) handle(ctx context.Context, ev domain.Event) {
	d.logger.Debug("event",
		zap.String("path", ev.Path),
		zap.String("kind", string(ev.Kind)))

	results := d.engine.Process(ctx, ev)
	for _, obs := range d.observers {
		obs.ObserveEvent(ev, d.engine.WindowLen())
	}
	d.session.Add(results)

	for _, r := range results {
		d.logger.Info("pattern dispatched",
			zap.String("type", string(r.Match.Type())),
			zap.String("action", string(r.Action)),
			zap.String("status", string(r.Status())),
			zap.String("artifact", r.Artifact))
	}
}

func (d *Daemon) reloadRules() {
	if d.loadRules == nil {
		d.logger.Debug("reload requested without a rules loader")
		return
	}
	d.engine.Dispatcher().SetRules(d.loadRules())
	d.logger.Info("rules reloaded")
}

// shutdown stops the source before summarising so no event arrives mid-report.
func (d *Daemon) shutdown(cancel context.CancelFunc, roots []string, mode string) {
	d.logger.Info("daemon stopping")
	cancel()
	if err := d.source.Stop(); err != nil {
		d.logger.Warn("failed to stop event source", zap.Error(err))
	}

	report := d.session.Report(d.now(), roots, mode)
	if d.config.ReportsDir != "" {
		stem := fmt.Sprintf("realtime_report_%d", report.SessionEnd.Unix())
		path, err := infra.WriteReport(d.config.ReportsDir, stem, report)
		if err != nil {
			d.logger.Warn("failed to write session report", zap.Error(err))
		} else {
			d.logger.Info("session report written", zap.String("path", path))
		}
	}

	if d.registry != nil {
		if err := d.registry.Release(); err != nil {
			d.logger.Warn("failed to release instance", zap.Error(err))
		}
	}

	d.logger.Info("daemon stopped",
		zap.Int("patterns_detected", report.PatternsDetected),
		zap.Int("automations_triggered", report.AutomationsTriggered))
}

// existingRoots drops roots that are missing or not directories.
func existingRoots(roots []string, logger *zap.Logger) []string {
	out := make([]string, 0, len(roots))
	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			logger.Warn("skipping watch root", zap.String("root", root), zap.Error(err))
			continue
		}
		out = append(out, root)
	}
	return out
}
