// Package singleton provides a lazily-initialized, concurrency-safe holder
// for a single instance of a collaborator type.
//
// A Slot has two retention modes:
//   - pinned: constructed once and held for the life of the slot
//   - evictable: held under a lease that expires after a TTL or when Evict is
//     called; the next access constructs a fresh instance
//
// and two provenance modes: a local Provider, or external candidates
// enumerated from a discovery.Catalog.
package singleton

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sirosfoundation/go-service-framework/pkg/discovery"
)

// ErrNoProvider is returned when a slot without a provider is asked to
// construct an instance.
var ErrNoProvider = errors.New("singleton: no provider configured")

// Provider constructs a new instance.
type Provider[T any] func() (T, error)

// Option configures a Slot.
type Option func(*options)

type options struct {
	ttl     time.Duration
	clock   clockwork.Clock
	catalog *discovery.Catalog
}

// WithTTL sets the lease of evictable instances. Zero keeps an evictable
// instance alive until Evict is called.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithClock sets the clock used to measure evictable leases.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithCatalog sets the catalog used for external resolution.
func WithCatalog(c *discovery.Catalog) Option {
	return func(o *options) { o.catalog = c }
}

type lease[T any] struct {
	value      T
	expires    time.Time
	generation uint64
}

// Slot holds at most one pinned and one evictable instance of T.
type Slot[T any] struct {
	provider Provider[T]
	key      discovery.Key
	opts     options

	mu         sync.Mutex
	pinned     atomic.Pointer[T]
	evictable  atomic.Pointer[lease[T]]
	generation atomic.Uint64
}

// New creates a slot. Either provider or key may be zero: a slot without a
// provider cannot construct locally, a slot without a key never resolves
// externally.
func New[T any](provider Provider[T], key discovery.Key, opts ...Option) *Slot[T] {
	o := options{clock: clockwork.NewRealClock()}
	for _, fn := range opts {
		fn(&o)
	}
	if o.catalog == nil {
		o.catalog = discovery.Default()
	}
	return &Slot[T]{provider: provider, key: key, opts: o}
}

// For creates a slot whose discovery key is the capability type T itself.
func For[T any](provider Provider[T], opts ...Option) *Slot[T] {
	return New(provider, discovery.KeyOf[T](), opts...)
}

// HasProvider reports whether the slot can construct locally.
func (s *Slot[T]) HasProvider() bool { return s.provider != nil }

// Key returns the discovery key of the slot.
func (s *Slot[T]) Key() discovery.Key { return s.key }

// GetPinned returns the pinned instance, constructing it on first use.
// Concurrent first callers observe a single construction.
func (s *Slot[T]) GetPinned() (T, error) {
	if p := s.pinned.Load(); p != nil {
		return *p, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.pinned.Load(); p != nil {
		return *p, nil
	}
	var zero T
	if s.provider == nil {
		return zero, ErrNoProvider
	}
	v, err := s.provider()
	if err != nil {
		return zero, err
	}
	s.pinned.Store(&v)
	return v, nil
}

// Pinned returns the pinned instance without constructing it.
func (s *Slot[T]) Pinned() (T, bool) {
	if p := s.pinned.Load(); p != nil {
		return *p, true
	}
	var zero T
	return zero, false
}

// GetEvictable returns the evictable instance while its lease is alive,
// otherwise constructs and stores a new one.
func (s *Slot[T]) GetEvictable() (T, error) {
	if v, ok := s.Evictable(); ok {
		return v, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.Evictable(); ok {
		return v, nil
	}
	var zero T
	if s.provider == nil {
		return zero, ErrNoProvider
	}
	v, err := s.provider()
	if err != nil {
		return zero, err
	}
	s.storeEvictable(v)
	return v, nil
}

// Evictable returns the evictable instance if its lease is still alive.
func (s *Slot[T]) Evictable() (T, bool) {
	var zero T
	l := s.evictable.Load()
	if l == nil || !s.alive(l) {
		return zero, false
	}
	return l.value, true
}

// SetEvictable stores v as the evictable instance under a fresh lease.
func (s *Slot[T]) SetEvictable(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeEvictable(v)
}

// Evict invalidates the evictable instance. The pinned instance is never
// cleared.
func (s *Slot[T]) Evict() {
	s.generation.Add(1)
}

func (s *Slot[T]) storeEvictable(v T) {
	l := &lease[T]{value: v, generation: s.generation.Load()}
	if s.opts.ttl > 0 {
		l.expires = s.opts.clock.Now().Add(s.opts.ttl)
	}
	s.evictable.Store(l)
}

func (s *Slot[T]) alive(l *lease[T]) bool {
	if l.generation != s.generation.Load() {
		return false
	}
	if l.expires.IsZero() {
		return true
	}
	return s.opts.clock.Now().Before(l.expires)
}

// ResolveExternal returns the first discovered candidate accepted by accept,
// or the first candidate when accept is nil. Candidates are created lazily
// in the catalog's registration order and the search stops at the first
// match.
func (s *Slot[T]) ResolveExternal(accept func(T) bool) (T, bool) {
	var zero T
	if s.key.IsZero() {
		return zero, false
	}
	c, ok := s.opts.catalog.First(s.key, func(c any) bool {
		v, ok := c.(T)
		return ok && (accept == nil || accept(v))
	})
	if !ok {
		return zero, false
	}
	return c.(T), true
}

// ResolveAllExternal returns every discovered candidate.
func (s *Slot[T]) ResolveAllExternal() []T {
	if s.key.IsZero() {
		return nil
	}
	var out []T
	for _, c := range s.opts.catalog.Candidates(s.key) {
		if v, ok := c.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// ResolveExternalAs returns the first discovered candidate of s that is
// also an F.
func ResolveExternalAs[F any, T any](s *Slot[T]) (F, bool) {
	var zero F
	v, ok := s.ResolveExternal(func(v T) bool {
		_, ok := any(v).(F)
		return ok
	})
	if !ok {
		return zero, false
	}
	f, _ := any(v).(F)
	return f, true
}
