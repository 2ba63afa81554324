package daemon

import (
	"sort"
	"time"

	"github.com/eliteGoblin/focusd/patmon/internal/domain"
)

// topPatternLimit caps the top_patterns list of a report.
const topPatternLimit = 5

// PatternCount is one entry of a report's top_patterns list.
type PatternCount struct {
	Type  domain.PatternType `json:"type"`
	Count int                `json:"count"`
}

// SessionReport is the summary written when a session ends.
type SessionReport struct {
	SessionEnd           time.Time                  `json:"session_end"`
	PatternsDetected     int                        `json:"patterns_detected"`
	AutomationsTriggered int                        `json:"automations_triggered"`
	MonitoredPaths       []string                   `json:"monitored_paths"`
	TopPatterns          []PatternCount             `json:"top_patterns"`
	PatternCounts        map[domain.PatternType]int `json:"pattern_counts"`
	SourceMode           string                     `json:"source_mode"`
}

// Session tallies dispatch outcomes. It is not safe for concurrent use.
type Session struct {
	counts      map[domain.PatternType]int
	detected    int
	automations int
}

// NewSession creates an empty tally.
func NewSession() *Session {
	return &Session{counts: make(map[domain.PatternType]int)}
}

// Add counts a batch of dispatch results.
func (s *Session) Add(results []domain.DispatchResult) {
	for _, r := range results {
		if r.Match == nil {
			continue
		}
		s.detected++
		s.counts[r.Match.Type()]++
		if r.State == domain.StateActionInvoked {
			s.automations++
		}
	}
}

// Detected returns the number of matches seen.
func (s *Session) Detected() int { return s.detected }

// Automations returns the number of actions that completed.
func (s *Session) Automations() int { return s.automations }

// Counts returns a copy of the per-type totals.
func (s *Session) Counts() map[domain.PatternType]int {
	out := make(map[domain.PatternType]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

// Top returns up to n pattern types by descending count, ties by name.
func (s *Session) Top(n int) []PatternCount {
	top := make([]PatternCount, 0, len(s.counts))
	for t, c := range s.counts {
		top = append(top, PatternCount{Type: t, Count: c})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Type < top[j].Type
	})
	if len(top) > n {
		top = top[:n]
	}
	return top
}

// Report builds the end-of-session summary.
func (s *Session) Report(end time.Time, roots []string, sourceMode string) SessionReport {
	paths := append([]string(nil), roots...)
	if paths == nil {
		paths = []string{}
	}
	return SessionReport{
		SessionEnd:           end,
		PatternsDetected:     s.detected,
		AutomationsTriggered: s.automations,
		MonitoredPaths:       paths,
		TopPatterns:          s.Top(topPatternLimit),
		PatternCounts:        s.Counts(),
		SourceMode:           sourceMode,
	}
}
