package infra

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/patmon/internal/domain"
)

// Source modes reported by EventSource.Mode.
const (
	ModeNative  = "native"
	ModePolling = "polling"
)

// FSNotifySource implements domain.EventSource on top of fsnotify.
// Directories are registered recursively, including ones created after Start.
type FSNotifySource struct {
	filter *NoiseFilter
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewFSNotifySource creates a native event source.
func NewFSNotifySource(filter *NoiseFilter, logger *zap.Logger) *FSNotifySource {
	return &FSNotifySource{
		filter: filter,
		logger: logger,
		now:    time.Now,
	}
}

// Mode returns "native".
func (s *FSNotifySource) Mode() string { return ModeNative }

// Start registers every root and begins delivering events in a background goroutine.
// Setup failures are reported as domain.ErrSourceUnavailable.
func (s *FSNotifySource) Start(ctx context.Context, roots []string, onEvent func(domain.Event)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watcher != nil {
		return fmt.Errorf("source already started")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
	}

	added := 0
	for _, root := range roots {
		if err := s.addRecursive(watcher, root); err != nil {
			watcher.Close()
			return fmt.Errorf("%w: watch %s: %w", domain.ErrSourceUnavailable, root, err)
		}
		added++
	}
	if added == 0 {
		watcher.Close()
		return fmt.Errorf("%w: no roots to watch", domain.ErrSourceUnavailable)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.watcher = watcher
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(loopCtx, watcher, onEvent, s.done)

	s.logger.Info("native event source started", zap.Strings("roots", roots))
	return nil
}

// Stop ends delivery. It returns after any in-flight callback has finished.
func (s *FSNotifySource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watcher == nil {
		return nil
	}

	s.cancel()
	<-s.done
	err := s.watcher.Close()
	s.watcher = nil
	return err
}

func (s *FSNotifySource) run(ctx context.Context, watcher *fsnotify.Watcher, onEvent func(domain.Event), done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			s.handle(ctx, watcher, event, onEvent)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("fsnotify error", zap.Error(err))
		}
	}
}

func (s *FSNotifySource) handle(ctx context.Context, watcher *fsnotify.Watcher, event fsnotify.Event, onEvent func(domain.Event)) {
	if !s.filter.Allow(event.Name) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := s.addRecursive(watcher, event.Name); err != nil {
				s.logger.Debug("failed to watch new directory",
					zap.String("path", event.Name),
					zap.Error(err))
			}
		}
	}

	// Cancellation wins over a ready event.
	if ctx.Err() != nil {
		return
	}

	onEvent(domain.Event{
		Path:      event.Name,
		Kind:      MapFSNotifyOp(event.Op),
		Timestamp: s.now(),
	})
}

func (s *FSNotifySource) addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil // Skip unreadable subtrees
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && !s.filter.Allow(path) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

// fsOpMappings maps fsnotify operations to event kinds. First match wins.
var fsOpMappings = []struct {
	op   fsnotify.Op
	kind domain.EventKind
}{
	{fsnotify.Create, domain.KindCreated},
	{fsnotify.Write, domain.KindModified},
	{fsnotify.Remove, domain.KindDeleted},
	{fsnotify.Rename, domain.KindRenamed},
}

// MapFSNotifyOp converts an fsnotify.Op to an event kind. Chmod and anything else is unknown.
func MapFSNotifyOp(op fsnotify.Op) domain.EventKind {
	for _, m := range fsOpMappings {
		if op.Has(m.op) {
			return m.kind
		}
	}
	return domain.KindUnknown
}

// Ensure FSNotifySource implements domain.EventSource.
var _ domain.EventSource = (*FSNotifySource)(nil)
