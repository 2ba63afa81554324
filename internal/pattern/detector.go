package pattern

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/patmon/internal/domain"
)

// Detector owns the event window and evaluates the classifiers over it.
// It is not safe for concurrent use; the daemon loop is its only caller.
type Detector struct {
	window   *Window
	registry *Registry
	logger   *zap.Logger
}

// NewDetector creates a detector with the default classifier set.
func NewDetector(config Config, logger *zap.Logger) (*Detector, error) {
	registry, err := NewRegistry(config)
	if err != nil {
		return nil, err
	}
	return NewDetectorWithRegistry(NewWindow(config.WindowSize), registry, logger), nil
}

// NewDetectorWithRegistry creates a detector over a caller-supplied window and registry.
func NewDetectorWithRegistry(window *Window, registry *Registry, logger *zap.Logger) *Detector {
	return &Detector{
		window:   window,
		registry: registry,
		logger:   logger,
	}
}

// Ingest appends an event to the window.
func (d *Detector) Ingest(ev domain.Event) {
	d.window.Append(ev)
}

// Evaluate runs every classifier over one snapshot of the window.
// A failing classifier is logged and skipped; the rest still report.
func (d *Detector) Evaluate() []domain.PatternMatch {
	snapshot := d.window.Snapshot(0)

	var matches []domain.PatternMatch
	for _, c := range d.registry.GetAll() {
		found, err := d.classify(c, snapshot)
		if err != nil {
			d.logger.Warn("classifier skipped",
				zap.String("pattern", string(c.Type())),
				zap.Error(err))
			continue
		}
		matches = append(matches, found...)
	}

	if len(matches) > 0 {
		d.logger.Debug("patterns detected",
			zap.Int("window", len(snapshot)),
			zap.Int("matches", len(matches)))
	}
	return matches
}

func (d *Detector) classify(c Classifier, snapshot []domain.Event) (matches []domain.PatternMatch, err error) {
	defer func() {
		if r := recover(); r != nil {
			matches = nil
			err = fmt.Errorf("%w: %s: panic: %v", domain.ErrClassifierFailure, c.Type(), r)
		}
	}()

	matches, err = c.Classify(snapshot)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrClassifierFailure, c.Type(), err)
	}
	return matches, nil
}

// Len returns the number of events currently held.
func (d *Detector) Len() int {
	return d.window.Len()
}

// Reset clears the window.
func (d *Detector) Reset() {
	d.window.Reset()
}
