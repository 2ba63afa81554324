package pattern

import (
	"time"

	"github.com/eliteGoblin/focusd/patmon/internal/domain"
)

// RapidConfig holds rapid_development thresholds.
type RapidConfig struct {
	MinWindow  int           // Events required in the window before evaluating
	Slice      int           // Number of most recent events considered
	MinChanges int           // Events for one path needed to fire
	MaxSpan    time.Duration // Exclusive upper bound on first-to-last span
}

// DefaultRapidConfig returns 3 changes to one path within 60s over the last 20 events.
func DefaultRapidConfig() RapidConfig {
	return RapidConfig{
		MinWindow:  10,
		Slice:      20,
		MinChanges: 3,
		MaxSpan:    60 * time.Second,
	}
}

// RapidClassifier flags paths edited repeatedly in a short time.
type RapidClassifier struct {
	config RapidConfig
}

// NewRapidClassifier creates a rapid_development classifier.
func NewRapidClassifier(config RapidConfig) *RapidClassifier {
	return &RapidClassifier{config: config}
}

func (c *RapidClassifier) Type() domain.PatternType {
	return domain.PatternRapidDevelopment
}

// Classify groups the recent slice by path.
func (c *RapidClassifier) Classify(events []domain.Event) ([]domain.PatternMatch, error) {
	if len(events) < c.config.MinWindow {
		return nil, nil
	}

	paths, byPath := groupBy(tail(events, c.config.Slice), func(ev domain.Event) string {
		return ev.Path
	})

	var matches []domain.PatternMatch
	for _, path := range paths {
		changes := byPath[path]
		if len(changes) < c.config.MinChanges {
			continue
		}
		d := span(changes)
		if d < c.config.MaxSpan {
			matches = append(matches, domain.RapidDevelopment{
				Path:        path,
				ChangeCount: len(changes),
				TimeSpan:    d.Seconds(),
			})
		}
	}
	return matches, nil
}

var _ Classifier = (*RapidClassifier)(nil)
