package infra

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/patmon/internal/domain"
)

// AutoSource prefers the native source and falls back to polling when the
// native one cannot be set up.
type AutoSource struct {
	native   domain.EventSource
	fallback domain.EventSource
	logger   *zap.Logger

	mu     sync.Mutex
	active domain.EventSource
}

// NewAutoSource creates a source that tries native first.
func NewAutoSource(native, fallback domain.EventSource, logger *zap.Logger) *AutoSource {
	return &AutoSource{
		native:   native,
		fallback: fallback,
		logger:   logger,
	}
}

// Start starts the native source, or the fallback on domain.ErrSourceUnavailable.
func (s *AutoSource) Start(ctx context.Context, roots []string, onEvent func(domain.Event)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.native.Start(ctx, roots, onEvent)
	if err == nil {
		s.active = s.native
		return nil
	}
	if !errors.Is(err, domain.ErrSourceUnavailable) {
		return err
	}

	s.logger.Warn("native event source unavailable, falling back to polling", zap.Error(err))
	if err := s.fallback.Start(ctx, roots, onEvent); err != nil {
		return err
	}
	s.active = s.fallback
	return nil
}

// Stop stops whichever source is active.
func (s *AutoSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return nil
	}
	err := s.active.Stop()
	s.active = nil
	return err
}

// Mode reports the active source's mode, or the native mode before Start.
func (s *AutoSource) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return s.native.Mode()
	}
	return s.active.Mode()
}

// Ensure AutoSource implements domain.EventSource.
var _ domain.EventSource = (*AutoSource)(nil)
