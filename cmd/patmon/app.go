package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/patmon/internal/config"
	"github.com/eliteGoblin/focusd/patmon/internal/daemon"
	"github.com/eliteGoblin/focusd/patmon/internal/domain"
	"github.com/eliteGoblin/focusd/patmon/internal/infra"
	"github.com/eliteGoblin/focusd/patmon/internal/pattern"
	"github.com/eliteGoblin/focusd/patmon/internal/rules"
	"github.com/eliteGoblin/focusd/patmon/internal/usecase"
)

// app holds the wired components shared by start, scan and replay.
type app struct {
	cfg      *config.Config
	layout   infra.Layout
	logger   *zap.Logger
	pm       domain.ProcessManager
	eventLog *infra.JSONLEventLog
	metrics  *infra.Metrics
	history  *infra.EncryptedHistory
	filter   *infra.NoiseFilter
	engine   *usecase.Engine
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	layout := cfg.Layout()
	if err := layout.Ensure(); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", layout.BaseDir, err)
	}

	filter, err := infra.NewNoiseFilter(cfg.Excludes)
	if err != nil {
		return nil, err
	}

	detector, err := pattern.NewDetector(cfg.Detector, logger)
	if err != nil {
		return nil, err
	}

	pm := infra.NewProcessManager()
	eventLog := infra.NewJSONLEventLog(layout.EventLogPath(), logger)
	diag := infra.NewDiagnostics(&infra.ExecCommandRunner{}, pm, eventLog, logger)
	handlers := infra.NewActionHandlers(layout, diag, logger)
	dispatcher := usecase.NewDispatcher(rules.Load(cfg.RulesPath, logger), handlers, eventLog, logger)

	a := &app{
		cfg:      cfg,
		layout:   layout,
		logger:   logger,
		pm:       pm,
		eventLog: eventLog,
		metrics:  infra.NewMetrics(),
		filter:   filter,
	}

	observers := []usecase.Observer{a.metrics}
	if cfg.HistoryEnabled {
		if h, err := openHistory(layout); err != nil {
			logger.Warn("pattern history disabled", zap.Error(err))
		} else {
			a.history = h
			observers = append(observers, infra.NewHistoryRecorder(h, logger))
		}
	}

	a.engine = usecase.NewEngine(detector, dispatcher, observers...)
	return a, nil
}

func openHistory(layout infra.Layout) (*infra.EncryptedHistory, error) {
	key, err := infra.LoadOrCreateKey(infra.NewHistoryKeyFile(layout.DataDir()))
	if err != nil {
		return nil, err
	}
	return infra.NewEncryptedHistory(layout.DataDir(), key)
}

func (a *app) Close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("failed to close history", zap.Error(err))
		}
	}
}

// newSource picks the event source for the configured mode.
func (a *app) newSource() domain.EventSource {
	polling := infra.NewPollingSource(a.cfg.PollInterval, a.filter, a.logger,
		infra.WithEmitInitial(a.cfg.EmitInitial))

	switch a.cfg.SourceMode {
	case config.SourcePolling:
		return polling
	case config.SourceNative:
		return infra.NewFSNotifySource(a.filter, a.logger)
	default:
		return infra.NewAutoSource(infra.NewFSNotifySource(a.filter, a.logger), polling, a.logger)
	}
}

func (a *app) newDaemon(source domain.EventSource) *daemon.Daemon {
	registry := infra.NewFileInstanceRegistry(a.layout.InstancePath(), a.pm)

	return daemon.New(daemon.Config{
		Roots:             a.cfg.Roots,
		HeartbeatInterval: a.cfg.HeartbeatInterval,
		EventBuffer:       a.cfg.EventBuffer,
		ReportsDir:        a.layout.ReportsDir(),
		Version:           Version,
	}, source, a.engine, a.logger,
		daemon.WithRegistry(registry),
		daemon.WithEventObserver(a.metrics),
		daemon.WithRulesLoader(func() usecase.RuleLookup {
			return rules.Load(a.cfg.RulesPath, a.logger)
		}))
}

// feed runs a batch of events through the engine and tallies the outcomes.
func (a *app) feed(ctx context.Context, events []domain.Event) *daemon.Session {
	session := daemon.NewSession()
	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}
		session.Add(a.engine.Process(ctx, ev))
		a.metrics.ObserveEvent(ev, a.engine.WindowLen())
	}
	return session
}

// readEvents decodes one JSON event per line. Blank lines are skipped,
// unknown kinds become "unknown" and a missing timestamp becomes now.
func readEvents(r io.Reader, now func() time.Time) ([]domain.Event, error) {
	var events []domain.Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		var ev domain.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if ev.Path == "" {
			return nil, fmt.Errorf("line %d: missing path", line)
		}
		ev.Kind = domain.ParseEventKind(string(ev.Kind))
		if ev.Timestamp.IsZero() {
			ev.Timestamp = now()
		}
		events = append(events, ev)
	}
	return events, scanner.Err()
}

// createLogger writes JSON logs to path, falling back to stderr.
func createLogger(path, level string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{path}
	config.ErrorOutputPaths = []string{path}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		config.Level = zap.NewAtomicLevelAt(lvl)
	}

	logger, err := config.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

// createCLILogger is the human-readable logger for one-shot commands.
func createCLILogger(level string) *zap.Logger {
	config := zap.NewDevelopmentConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		config.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := config.Build()
	if err != nil {
		logger, _ = zap.NewDevelopment()
	}
	return logger
}
