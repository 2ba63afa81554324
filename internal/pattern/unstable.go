package pattern

import "github.com/eliteGoblin/focusd/patmon/internal/domain"

// UnstableConfig holds unstable_file thresholds.
type UnstableConfig struct {
	Slice     int
	MinCycles int
}

// DefaultUnstableConfig returns 2 create/delete cycles over the last 50 events.
func DefaultUnstableConfig() UnstableConfig {
	return UnstableConfig{
		Slice:     50,
		MinCycles: 2,
	}
}

// UnstableClassifier flags paths that keep being created and deleted.
type UnstableClassifier struct {
	config UnstableConfig
}

// NewUnstableClassifier creates an unstable_file classifier.
func NewUnstableClassifier(config UnstableConfig) *UnstableClassifier {
	return &UnstableClassifier{config: config}
}

func (c *UnstableClassifier) Type() domain.PatternType {
	return domain.PatternUnstableFile
}

// Classify has no window-size precondition.
func (c *UnstableClassifier) Classify(events []domain.Event) ([]domain.PatternMatch, error) {
	paths, byPath := groupBy(tail(events, c.config.Slice), func(ev domain.Event) string {
		return ev.Path
	})

	var matches []domain.PatternMatch
	for _, path := range paths {
		cycles := CountCycles(kinds(byPath[path]))
		if cycles >= c.config.MinCycles {
			matches = append(matches, domain.UnstableFile{
				Path:       path,
				CycleCount: cycles,
			})
		}
	}
	return matches, nil
}

// CountCycles counts adjacent (created, deleted) pairs in a lifecycle.
func CountCycles(lifecycle []domain.EventKind) int {
	cycles := 0
	for i := 0; i+1 < len(lifecycle); i++ {
		if lifecycle[i] == domain.KindCreated && lifecycle[i+1] == domain.KindDeleted {
			cycles++
		}
	}
	return cycles
}

func kinds(events []domain.Event) []domain.EventKind {
	out := make([]domain.EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

var _ Classifier = (*UnstableClassifier)(nil)
