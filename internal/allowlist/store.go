// Package allowlist keeps the set of devices admitted for forwarding and
// refreshes it from a remote source of truth.
package allowlist

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lucaslui/hems/mqtt-forwarder/internal/model"
)

const defaultFetchTimeout = 5 * time.Second

// Row is one entry returned by a Source. Active is nil when the source did
// not say; only an explicit false excludes the device.
type Row struct {
	Identifier string
	Active     *bool
}

type Source interface {
	Fetch(ctx context.Context) ([]Row, error)
}

// Invalidator is implemented by sources that can push "refresh now" hints.
type Invalidator interface {
	Invalidations(ctx context.Context) <-chan struct{}
}

// RefreshObserver is notified after every refresh attempt.
type RefreshObserver interface {
	AllowlistRefreshed(ok bool, size int)
}

type Store struct {
	mu  sync.RWMutex
	set map[string]struct{}

	bootstrap  map[string]struct{}
	source     Source
	failClosed bool
	timeout    time.Duration
	observer   RefreshObserver
	logger     *zap.SugaredLogger
}

type Option func(*Store)

// WithFailClosed makes an empty set reject every device instead of
// admitting all of them.
func WithFailClosed(v bool) Option { return func(s *Store) { s.failClosed = v } }

func WithFetchTimeout(d time.Duration) Option { return func(s *Store) { s.timeout = d } }

func WithObserver(o RefreshObserver) Option { return func(s *Store) { s.observer = o } }

// NewStore builds a store seeded with the bootstrap identifiers. source may
// be nil, in which case the bootstrap set is all the store will ever hold.
func NewStore(source Source, bootstrap []string, logger *zap.SugaredLogger, opts ...Option) *Store {
	boot := make(map[string]struct{}, len(bootstrap))
	for _, id := range bootstrap {
		if c := model.Canonicalize(id); c != "" {
			boot[c] = struct{}{}
		}
	}

	s := &Store{
		bootstrap: boot,
		source:    source,
		timeout:   defaultFetchTimeout,
		logger:    logger.With("component", "allowlist"),
	}
	for _, o := range opts {
		o(s)
	}
	s.set = s.withBootstrap(nil)
	return s
}

// IsAllowed reports whether raw may be forwarded. An empty set admits
// everything unless the store is fail-closed.
func (s *Store) IsAllowed(raw string) bool {
	s.mu.RLock()
	set := s.set
	s.mu.RUnlock()

	if len(set) == 0 {
		return !s.failClosed
	}
	_, ok := set[model.Canonicalize(raw)]
	return ok
}

func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.set)
}

// Refresh fetches the active devices and replaces the set. On failure the
// previous set is kept and the error is only logged.
func (s *Store) Refresh(ctx context.Context) {
	if s.source == nil {
		s.swap(s.withBootstrap(nil))
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.source.Fetch(fetchCtx)
	if err != nil {
		s.logger.Warnw("allowlist refresh failed, keeping previous set", "error", err, "size", s.Size())
		s.notify(false)
		return
	}

	active := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.Active != nil && !*r.Active {
			continue
		}
		active = append(active, r.Identifier)
	}

	next := s.withBootstrap(active)
	s.swap(next)
	s.logger.Debugw("allowlist refreshed", "rows", len(rows), "size", len(next))
	s.notify(true)
}

// Run refreshes every interval, and immediately whenever the source
// signals an invalidation, until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	var hints <-chan struct{}
	if inv, ok := s.source.(Invalidator); ok {
		hints = inv.Invalidations(ctx)
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Refresh(ctx)
		case _, ok := <-hints:
			if !ok {
				hints = nil
				continue
			}
			s.logger.Debug("allowlist invalidated by source")
			s.Refresh(ctx)
		}
	}
}

func (s *Store) withBootstrap(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids)+len(s.bootstrap))
	for id := range s.bootstrap {
		out[id] = struct{}{}
	}
	for _, id := range ids {
		if c := model.Canonicalize(id); c != "" {
			out[c] = struct{}{}
		}
	}
	return out
}

func (s *Store) swap(next map[string]struct{}) {
	s.mu.Lock()
	s.set = next
	s.mu.Unlock()
}

func (s *Store) notify(ok bool) {
	if s.observer != nil {
		s.observer.AllowlistRefreshed(ok, s.Size())
	}
}
