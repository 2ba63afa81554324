package infra

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/patmon/internal/domain"
)

// DefaultPollInterval is how often the polling source walks its roots.
const DefaultPollInterval = time.Second

type fileState struct {
	mtime time.Time
	size  int64
}

// PollingSource implements domain.EventSource by walking every root each tick
// and diffing (mtime, size) per file. Cost is a full walk per tick.
type PollingSource struct {
	interval    time.Duration
	filter      *NoiseFilter
	emitInitial bool
	logger      *zap.Logger
	now         func() time.Time

	mu     sync.Mutex
	state  map[string]fileState
	cancel context.CancelFunc
	done   chan struct{}
}

// PollingOption configures a PollingSource.
type PollingOption func(*PollingSource)

// WithEmitInitial controls whether files found by the first walk are reported
// as created. It defaults to true; false makes the first walk a silent baseline.
func WithEmitInitial(emit bool) PollingOption {
	return func(s *PollingSource) { s.emitInitial = emit }
}

// WithPollClock overrides the event timestamp source.
func WithPollClock(now func() time.Time) PollingOption {
	return func(s *PollingSource) { s.now = now }
}

// NewPollingSource creates a polling event source.
func NewPollingSource(interval time.Duration, filter *NoiseFilter, logger *zap.Logger, opts ...PollingOption) *PollingSource {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	s := &PollingSource{
		interval:    interval,
		filter:      filter,
		emitInitial: true,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mode returns "polling".
func (s *PollingSource) Mode() string { return ModePolling }

// Start launches the poll loop. The first walk runs in the background too.
func (s *PollingSource) Start(ctx context.Context, roots []string, onEvent func(domain.Event)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("source already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = nil

	go s.run(loopCtx, roots, onEvent, s.done)

	s.logger.Info("polling event source started",
		zap.Strings("roots", roots),
		zap.Duration("interval", s.interval))
	return nil
}

// Stop ends the poll loop after the current tick's callbacks finish.
func (s *PollingSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	return nil
}

func (s *PollingSource) run(ctx context.Context, roots []string, onEvent func(domain.Event), done chan struct{}) {
	defer close(done)

	s.Poll(ctx, roots, onEvent)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Poll(ctx, roots, onEvent)
		}
	}
}

// Poll performs one walk and emits the differences against the previous walk.
// A path seen for the first time is created, even on the first walk, unless
// initial emission was turned off.
func (s *PollingSource) Poll(ctx context.Context, roots []string, onEvent func(domain.Event)) {
	current, skipped := s.walk(roots)
	now := s.now()

	baseline := s.state == nil
	previous := s.state
	if previous == nil {
		previous = make(map[string]fileState)
	}

	var events []domain.Event
	for _, path := range sortedKeys(current) {
		st := current[path]
		old, seen := previous[path]
		switch {
		case !seen && (!baseline || s.emitInitial):
			events = append(events, domain.Event{Path: path, Kind: domain.KindCreated, Timestamp: now})
		case seen && old != st:
			events = append(events, domain.Event{Path: path, Kind: domain.KindModified, Timestamp: now})
		}
	}

	for _, path := range sortedKeys(previous) {
		if _, ok := current[path]; ok {
			continue
		}
		if isSkipped(path, skipped) {
			// Unreadable this tick: keep the old state, report nothing.
			current[path] = previous[path]
			continue
		}
		events = append(events, domain.Event{Path: path, Kind: domain.KindDeleted, Timestamp: now})
	}

	s.state = current

	for _, ev := range events {
		if ctx.Err() != nil {
			return
		}
		onEvent(ev)
	}
}

// walk stats every regular file under roots. Paths that could not be read are
// returned in skipped so their previous state survives the tick.
func (s *PollingSource) walk(roots []string) (map[string]fileState, []string) {
	current := make(map[string]fileState)
	var skipped []string

	for _, root := range roots {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				skipped = append(skipped, path)
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !s.filter.Allow(path) {
				if d.IsDir() && path != root {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				skipped = append(skipped, path)
				return nil
			}
			current[path] = fileState{mtime: info.ModTime(), size: info.Size()}
			return nil
		})
	}
	return current, skipped
}

// ScanRecent walks roots once and returns a modified event per file changed
// within since, stamped with its mtime and ordered oldest first.
func ScanRecent(roots []string, since time.Duration, filter *NoiseFilter, now time.Time) []domain.Event {
	walker := &PollingSource{filter: filter}
	current, _ := walker.walk(roots)

	cutoff := now.Add(-since)
	var events []domain.Event
	for path, st := range current {
		if since > 0 && st.mtime.Before(cutoff) {
			continue
		}
		events = append(events, domain.Event{Path: path, Kind: domain.KindModified, Timestamp: st.mtime})
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Path < events[j].Path
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events
}

func isSkipped(path string, skipped []string) bool {
	for _, p := range skipped {
		if path == p || strings.HasPrefix(path, p+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]fileState) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Ensure PollingSource implements domain.EventSource.
var _ domain.EventSource = (*PollingSource)(nil)
