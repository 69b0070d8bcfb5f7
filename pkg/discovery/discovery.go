// Package discovery provides the external-discovery mechanism used to locate
// implementations of a capability at runtime.
//
// Implementations are not found by scanning: the embedding application
// registers factory functions against a capability key, usually from an
// init() function, and consumers enumerate the candidates for a key in
// registration order.
//
//	func init() {
//	    discovery.Provide[cache.Manager](discovery.Default(), "redis", newRedisManager)
//	}
package discovery

import (
	"fmt"
	"io"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// Key identifies a capability. It wraps the reflect.Type of the capability
// interface so that keys are comparable and printable.
type Key struct {
	t reflect.Type
}

// KeyOf returns the key for the capability type T.
func KeyOf[T any]() Key {
	return Key{t: reflect.TypeOf((*T)(nil)).Elem()}
}

// KeyFor returns the key for an arbitrary reflect.Type.
func KeyFor(t reflect.Type) Key {
	return Key{t: t}
}

// Type returns the underlying capability type.
func (k Key) Type() reflect.Type { return k.t }

// IsZero reports whether the key was never set.
func (k Key) IsZero() bool { return k.t == nil }

// IsInterface reports whether the capability is an interface type.
func (k Key) IsInterface() bool { return k.t != nil && k.t.Kind() == reflect.Interface }

// Implements reports whether v satisfies the capability.
func (k Key) Implements(v any) bool {
	if k.t == nil || v == nil {
		return false
	}
	vt := reflect.TypeOf(v)
	if k.t.Kind() == reflect.Interface {
		return vt.Implements(k.t)
	}
	return vt.AssignableTo(k.t)
}

func (k Key) String() string {
	if k.t == nil {
		return "<none>"
	}
	return k.t.String()
}

// Factory creates one candidate implementation.
type Factory func() (any, error)

type entry struct {
	name    string
	factory Factory
}

// Catalog holds the registered factories per capability key.
// It is safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	entries map[Key][]entry
	logger  *zap.Logger
}

// NewCatalog creates an empty catalog.
func NewCatalog(logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		entries: make(map[Key][]entry),
		logger:  logger.Named("discovery"),
	}
}

var (
	defaultCatalog     *Catalog
	defaultCatalogOnce sync.Once
)

// Default returns the process-wide catalog that init()-time registrations
// target. Components never read it implicitly; it is passed in explicitly
// by the process entry point.
func Default() *Catalog {
	defaultCatalogOnce.Do(func() {
		defaultCatalog = NewCatalog(nil)
	})
	return defaultCatalog
}

// SetLogger replaces the logger used to report failing factories.
func (c *Catalog) SetLogger(logger *zap.Logger) {
	if logger == nil {
		return
	}
	c.mu.Lock()
	c.logger = logger.Named("discovery")
	c.mu.Unlock()
}

// Register adds a factory for key. Registration order is preserved and is
// the order in which candidates are enumerated.
func (c *Catalog) Register(key Key, name string, factory Factory) {
	if key.IsZero() || factory == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = append(c.entries[key], entry{name: name, factory: factory})
	c.logger.Debug("Registered implementation",
		zap.String("capability", key.String()),
		zap.String("name", name))
}

// Provide registers a typed factory for the capability T.
func Provide[T any](c *Catalog, name string, factory func() (T, error)) {
	c.Register(KeyOf[T](), name, func() (any, error) {
		return factory()
	})
}

// Names returns the registered implementation names for key.
func (c *Catalog) Names(key Key) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries[key]))
	for _, e := range c.entries[key] {
		names = append(names, e.name)
	}
	return names
}

// Has reports whether at least one factory is registered for key.
func (c *Catalog) Has(key Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries[key]) > 0
}

// Candidates instantiates every factory registered for key, in registration
// order. Factories that fail, panic, or produce a value that does not satisfy
// the capability are logged and skipped.
func (c *Catalog) Candidates(key Key) []any {
	entries, logger := c.snapshot(key)
	out := make([]any, 0, len(entries))
	for _, e := range entries {
		if v, ok := create(key, e, logger); ok {
			out = append(out, v)
		}
	}
	return out
}

// First instantiates the factories registered for key one at a time, in
// registration order, and returns the first value accepted by accept (any
// valid value when accept is nil). Later factories are never run. A created
// value that accept rejects is closed if it implements io.Closer.
func (c *Catalog) First(key Key, accept func(any) bool) (any, bool) {
	entries, logger := c.snapshot(key)
	for _, e := range entries {
		v, ok := create(key, e, logger)
		if !ok {
			continue
		}
		if accept == nil || accept(v) {
			return v, true
		}
		if cl, ok := v.(io.Closer); ok {
			if err := cl.Close(); err != nil {
				logger.Warn("Closing rejected implementation failed",
					zap.String("capability", key.String()),
					zap.String("name", e.name),
					zap.Error(err))
			}
		}
	}
	return nil, false
}

func (c *Catalog) snapshot(key Key) ([]entry, *zap.Logger) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]entry(nil), c.entries[key]...), c.logger
}

func create(key Key, e entry, logger *zap.Logger) (any, bool) {
	v, err := instantiate(e.factory)
	if err != nil {
		logger.Warn("Skipping implementation",
			zap.String("capability", key.String()),
			zap.String("name", e.name),
			zap.Error(err))
		return nil, false
	}
	if !key.Implements(v) {
		logger.Warn("Implementation does not satisfy capability",
			zap.String("capability", key.String()),
			zap.String("name", e.name))
		return nil, false
	}
	return v, true
}

// CandidatesOf is the typed form of Candidates.
func CandidatesOf[T any](c *Catalog) []T {
	raw := c.Candidates(KeyOf[T]())
	out := make([]T, 0, len(raw))
	for _, v := range raw {
		if t, ok := v.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

func instantiate(f Factory) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("factory panicked: %v", r)
		}
	}()
	return f()
}
