package usecase

import (
	"context"

	"github.com/eliteGoblin/focusd/patmon/internal/domain"
	"github.com/eliteGoblin/focusd/patmon/internal/pattern"
)

// Observer is notified of every dispatch outcome (metrics, history).
type Observer interface {
	Observe(result domain.DispatchResult)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(result domain.DispatchResult)

func (f ObserverFunc) Observe(result domain.DispatchResult) { f(result) }

// Engine runs the ingest, evaluate and dispatch cycle for one event at a time.
// It is not safe for concurrent use.
type Engine struct {
	detector   *pattern.Detector
	dispatcher *Dispatcher
	observers  []Observer
}

// NewEngine wires a detector to a dispatcher.
func NewEngine(detector *pattern.Detector, dispatcher *Dispatcher, observers ...Observer) *Engine {
	return &Engine{
		detector:   detector,
		dispatcher: dispatcher,
		observers:  observers,
	}
}

// Process ingests one event, evaluates the window and dispatches every match.
func (e *Engine) Process(ctx context.Context, ev domain.Event) []domain.DispatchResult {
	e.detector.Ingest(ev)
	matches := e.detector.Evaluate()
	if len(matches) == 0 {
		return nil
	}

	results := e.dispatcher.DispatchAll(ctx, matches)
	for _, r := range results {
		for _, o := range e.observers {
			o.Observe(r)
		}
	}
	return results
}

// Dispatcher returns the underlying dispatcher (for rule reloads).
func (e *Engine) Dispatcher() *Dispatcher {
	return e.dispatcher
}

// WindowLen returns the number of buffered events.
func (e *Engine) WindowLen() int {
	return e.detector.Len()
}
