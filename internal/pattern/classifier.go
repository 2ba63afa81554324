// Package pattern implements the event window and the heuristic classifiers
// that turn a window snapshot into pattern matches.
// Each classifier is a strategy: a pure function of the snapshot it is given.
package pattern

import (
	"time"

	"github.com/eliteGoblin/focusd/patmon/internal/domain"
)

// Classifier detects one pattern type in a window snapshot.
type Classifier interface {
	// Type returns the pattern type this classifier emits.
	Type() domain.PatternType

	// Classify scans the full window snapshot (oldest first) and returns
	// zero or more matches. It must not retain or mutate events.
	Classify(events []domain.Event) ([]domain.PatternMatch, error)
}

// tail returns the last n events of a snapshot.
func tail(events []domain.Event, n int) []domain.Event {
	if n <= 0 || len(events) <= n {
		return events
	}
	return events[len(events)-n:]
}

// span returns last.Timestamp - first.Timestamp for a group in encounter order.
func span(group []domain.Event) time.Duration {
	if len(group) < 2 {
		return 0
	}
	return group[len(group)-1].Timestamp.Sub(group[0].Timestamp)
}

// groupBy buckets events by key, keeping first-encounter order of keys.
func groupBy[K comparable](events []domain.Event, key func(domain.Event) K) ([]K, map[K][]domain.Event) {
	order := make([]K, 0)
	groups := make(map[K][]domain.Event)
	for _, ev := range events {
		k := key(ev)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], ev)
	}
	return order, groups
}
