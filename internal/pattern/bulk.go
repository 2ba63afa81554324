package pattern

import (
	"time"

	"github.com/eliteGoblin/focusd/patmon/internal/domain"
)

// BulkConfig holds bulk_operation thresholds.
type BulkConfig struct {
	MinWindow  int
	Slice      int
	MinCount   int
	MaxSpan    time.Duration
	MaxSamples int // sample paths carried in the match
}

// DefaultBulkConfig returns 10 same-kind events within 10s over the last 30 events.
func DefaultBulkConfig() BulkConfig {
	return BulkConfig{
		MinWindow:  5,
		Slice:      30,
		MinCount:   10,
		MaxSpan:    10 * time.Second,
		MaxSamples: 5,
	}
}

// BulkClassifier flags bursts of one kind of operation.
type BulkClassifier struct {
	config BulkConfig
}

// NewBulkClassifier creates a bulk_operation classifier.
func NewBulkClassifier(config BulkConfig) *BulkClassifier {
	return &BulkClassifier{config: config}
}

func (c *BulkClassifier) Type() domain.PatternType {
	return domain.PatternBulkOperation
}

// Classify groups the recent slice by event kind.
func (c *BulkClassifier) Classify(events []domain.Event) ([]domain.PatternMatch, error) {
	if len(events) < c.config.MinWindow {
		return nil, nil
	}

	kinds, byKind := groupBy(tail(events, c.config.Slice), func(ev domain.Event) domain.EventKind {
		return ev.Kind
	})

	var matches []domain.PatternMatch
	for _, kind := range kinds {
		group := byKind[kind]
		if len(group) < c.config.MinCount || span(group) >= c.config.MaxSpan {
			continue
		}

		n := min(len(group), max(c.config.MaxSamples, 0))
		samples := make([]string, 0, n)
		for _, ev := range group[:n] {
			samples = append(samples, ev.Path)
		}

		matches = append(matches, domain.BulkOperation{
			Operation:   kind,
			Count:       len(group),
			SamplePaths: samples,
		})
	}
	return matches, nil
}

var _ Classifier = (*BulkClassifier)(nil)
