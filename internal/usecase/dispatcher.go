// Package usecase contains application business logic.
package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/patmon/internal/domain"
)

// DefaultActionTimeout bounds a single handler invocation.
const DefaultActionTimeout = time.Second

// RuleLookup resolves the rule for a pattern type.
type RuleLookup interface {
	Lookup(t domain.PatternType) (domain.Rule, bool)
}

// Dispatcher routes pattern matches to action handlers and audits every outcome.
type Dispatcher struct {
	mu       sync.RWMutex
	rules    RuleLookup
	handlers map[domain.ActionName]domain.ActionHandler
	eventLog domain.EventLog
	timeout  time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher over the given rules and handlers.
func NewDispatcher(
	rules RuleLookup,
	handlers []domain.ActionHandler,
	eventLog domain.EventLog,
	logger *zap.Logger,
) *Dispatcher {
	d := &Dispatcher{
		rules:    rules,
		handlers: make(map[domain.ActionName]domain.ActionHandler, len(handlers)),
		eventLog: eventLog,
		timeout:  DefaultActionTimeout,
		now:      time.Now,
		logger:   logger,
	}
	for _, h := range handlers {
		d.handlers[h.Name()] = h
	}
	return d
}

// WithClock overrides the timestamp source (for testing).
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// WithTimeout overrides the per-handler deadline.
func (d *Dispatcher) WithTimeout(timeout time.Duration) *Dispatcher {
	d.timeout = timeout
	return d
}

// SetRules swaps the active rule set. Dispatches in progress keep the old one.
func (d *Dispatcher) SetRules(rules RuleLookup) {
	d.mu.Lock()
	d.rules = rules
	d.mu.Unlock()
}

func (d *Dispatcher) currentRules() RuleLookup {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rules
}

// DispatchAll dispatches matches in order.
func (d *Dispatcher) DispatchAll(ctx context.Context, matches []domain.PatternMatch) []domain.DispatchResult {
	results := make([]domain.DispatchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, d.Dispatch(ctx, m))
	}
	return results
}

// Dispatch resolves the rule for a match, invokes its handler and writes
// exactly one audit entry. It never panics and never retries.
func (d *Dispatcher) Dispatch(ctx context.Context, match domain.PatternMatch) domain.DispatchResult {
	result := d.resolve(ctx, match)
	d.audit(result)
	return result
}

func (d *Dispatcher) resolve(ctx context.Context, match domain.PatternMatch) domain.DispatchResult {
	result := domain.DispatchResult{Match: match, State: domain.StateDetected}

	rule, ok := d.currentRules().Lookup(match.Type())
	if !ok {
		d.logger.Debug("no rule for pattern", zap.String("pattern", string(match.Type())))
		result.State = domain.StateIgnored
		return result
	}
	result.Action = rule.Action

	if wd, isWorkflow := match.(domain.WorkflowDetected); isWorkflow && len(rule.Workflows) > 0 {
		if !slices.Contains(rule.Workflows, wd.Workflow) {
			d.logger.Debug("workflow not in allow-list", zap.String("workflow", wd.Workflow))
			result.State = domain.StateIgnored
			return result
		}
	}

	handler, ok := d.handlers[rule.Action.Canonical()]
	if !ok {
		d.logger.Warn("no handler registered for action", zap.String("action", string(rule.Action)))
		result.State = domain.StateIgnored
		return result
	}

	artifact, err := d.invoke(ctx, handler, match)
	if err != nil {
		d.logger.Warn("action failed",
			zap.String("pattern", string(match.Type())),
			zap.String("action", string(rule.Action)),
			zap.Error(err))
		result.State = domain.StateFailed
		result.Err = err
		return result
	}

	d.logger.Info("action completed",
		zap.String("pattern", string(match.Type())),
		zap.String("action", string(rule.Action)),
		zap.String("artifact", artifact))
	result.State = domain.StateActionInvoked
	result.Artifact = artifact
	return result
}

func (d *Dispatcher) invoke(ctx context.Context, h domain.ActionHandler, match domain.PatternMatch) (artifact string, err error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			artifact = ""
			err = fmt.Errorf("%w: %s: panic: %v", domain.ErrActionFailure, h.Name(), r)
		}
	}()

	artifact, err = h.Handle(ctx, match)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", domain.ErrActionFailure, h.Name(), err)
	}
	return artifact, nil
}

func (d *Dispatcher) audit(result domain.DispatchResult) {
	payload, err := json.Marshal(result.Match)
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"type":%q}`, result.Match.Type()))
	}

	entry := domain.LogEntry{
		Timestamp: d.now(),
		Pattern:   payload,
		Action:    result.Action,
		Status:    result.Status(),
		Artifact:  result.Artifact,
	}
	if result.Err != nil {
		entry.Error = result.Err.Error()
	}

	if err := d.eventLog.Record(entry); err != nil {
		d.logger.Warn("failed to record audit entry",
			zap.String("pattern", string(result.Match.Type())),
			zap.Error(err))
	}
}
