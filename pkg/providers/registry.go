package providers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
)

// Factory builds a backend. Construction may fail, e.g. when a native
// dependency is missing.
type Factory func() (Provider, error)

// Selector holds the single active extraction backend and swaps it on demand.
type Selector struct {
	mu        sync.RWMutex
	factories map[Kind]Factory
	kind      Kind
	active    Provider
}

// NewSelector creates a selector with no active backend.
func NewSelector(factories map[Kind]Factory) *Selector {
	return &Selector{
		factories: factories,
	}
}

// Switch activates the backend registered for name. The current backend is
// only replaced once the new one has been built; on failure it stays active.
func (s *Selector) Switch(name string) (string, error) {
	kind, err := ParseKind(name)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if kind == s.kind && s.active != nil {
		return fmt.Sprintf("OCR provider already set: %s", kind), nil
	}

	factory, ok := s.factories[kind]
	if !ok {
		return "", fmt.Errorf("%w %q: no factory registered", ErrUnknownKind, kind)
	}

	provider, err := factory()
	if err != nil {
		slog.Error("Unable to initialize OCR provider", "provider", kind, "err", err)
		return "", fmt.Errorf("initialize %s: %w", kind, err)
	}

	old := s.active
	s.active = provider
	s.kind = kind

	if closer, ok := old.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			slog.Warn("Unable to close previous OCR provider", "err", err)
		}
	}

	slog.Info("OCR provider switched", "provider", kind)
	return fmt.Sprintf("Switched to %s", kind), nil
}

// Active returns the kind of the active backend, or "" when none is set.
func (s *Selector) Active() Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return ""
	}
	return s.kind
}

// Extract runs the active backend.
func (s *Selector) Extract(ctx context.Context, in Input) (string, error) {
	s.mu.RLock()
	provider := s.active
	s.mu.RUnlock()

	if provider == nil {
		return "", ErrNoProvider
	}
	return provider.ExtractText(ctx, in)
}

// List returns the registered backend kinds in sorted order.
func (s *Selector) List() []Kind {
	kinds := make([]Kind, 0, len(s.factories))
	for kind := range s.factories {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	return kinds
}
