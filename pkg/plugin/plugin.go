// Package plugin resolves pluggable subsystems (cache, connection pool,
// database, schema migration) by capability.
//
// A capability is a Go interface type that embeds Plugin. It can be satisfied
// by a bundled default, constructed locally through the capability's default
// accessor, or by a deployment-supplied implementation registered in a
// discovery.Catalog. The Resolver caches whichever it resolved.
package plugin

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-service-framework/pkg/discovery"
	"github.com/sirosfoundation/go-service-framework/pkg/singleton"
)

var (
	// ErrRequiredPluginNotFound is returned by GetRequired when neither a
	// local default nor an external implementation exists.
	ErrRequiredPluginNotFound = errors.New("required plugin not found")
	// ErrNotAPlugin is returned when a capability is not an interface type.
	ErrNotAPlugin = errors.New("not a plugin capability")
)

// Plugin is embedded by every capability interface.
type Plugin interface {
	PluginName() string
}

// Capability describes a pluggable subsystem.
type Capability struct {
	Key discovery.Key
	// Default constructs the bundled implementation. May be nil when the
	// capability is only satisfiable externally.
	Default func() (Plugin, error)
}

// CapabilityOf builds the Capability for interface type T.
func CapabilityOf[T Plugin](def func() (T, error)) Capability {
	c := Capability{Key: discovery.KeyOf[T]()}
	if def != nil {
		c.Default = func() (Plugin, error) {
			v, err := def()
			if err != nil {
				return nil, err
			}
			return v, nil
		}
	}
	return c
}

func (c Capability) String() string { return c.Key.String() }

type origin int

const (
	originLocal origin = iota
	originExternal
)

type entry struct {
	capability Capability
	slot       *singleton.Slot[Plugin]
	origin     origin

	// serializes re-resolution so concurrent misses resolve once
	resolveMu sync.Mutex
	// last discovered instance, closed when a resolution replaces it
	external Plugin
}

// Resolver maps capabilities to resolved plugin instances.
type Resolver struct {
	catalog *discovery.Catalog
	logger  *zap.Logger
	ttl     time.Duration
	clock   clockwork.Clock

	mu             sync.RWMutex
	entries        map[discovery.Key]*entry
	preferExternal bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// WithTTL sets how long a resolved plugin stays cached before it is
// resolved again. Zero caches until Evict.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) { r.ttl = ttl }
}

// WithClock sets the clock used for cache leases.
func WithClock(clock clockwork.Clock) Option {
	return func(r *Resolver) { r.clock = clock }
}

// NewResolver creates an empty resolver backed by catalog.
func NewResolver(catalog *discovery.Catalog, opts ...Option) *Resolver {
	r := &Resolver{
		catalog: catalog,
		logger:  zap.NewNop(),
		clock:   clockwork.NewRealClock(),
		entries: make(map[discovery.Key]*entry),
	}
	for _, fn := range opts {
		fn(r)
	}
	if r.catalog == nil {
		r.catalog = discovery.Default()
	}
	r.logger = r.logger.Named("plugin")
	return r
}

func (r *Resolver) newEntry(c Capability) *entry {
	var provider singleton.Provider[Plugin]
	if c.Default != nil {
		provider = singleton.Provider[Plugin](c.Default)
	}
	return &entry{
		capability: c,
		slot: singleton.New(provider, c.Key,
			singleton.WithCatalog(r.catalog),
			singleton.WithTTL(r.ttl),
			singleton.WithClock(r.clock)),
	}
}

// Register makes a capability known to the resolver without resolving it.
func (r *Resolver) Register(c Capability) error {
	if !c.Key.IsInterface() {
		return fmt.Errorf("%w: %s", ErrNotAPlugin, c.Key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[c.Key]; !ok {
		r.entries[c.Key] = r.newEntry(c)
	}
	return nil
}

// Initialize resolves every required capability. When preferExternal is
// false each local default is constructed and cached, and discovered
// implementations only fill capabilities that have no default. When
// preferExternal is true discovered implementations replace the defaults.
// The preference is recorded and returned by PreferExternal.
func (r *Resolver) Initialize(required []Capability, preferExternal bool) error {
	r.mu.Lock()
	r.preferExternal = preferExternal
	r.mu.Unlock()

	for _, c := range required {
		if err := r.Register(c); err != nil {
			return err
		}
	}

	for _, c := range required {
		if err := r.initialize(r.lookup(c.Key), preferExternal); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) initialize(e *entry, preferExternal bool) error {
	e.resolveMu.Lock()
	defer e.resolveMu.Unlock()

	c := e.capability
	if !preferExternal && e.slot.HasProvider() {
		v, err := e.slot.GetPinned()
		if err != nil {
			return fmt.Errorf("failed to construct default plugin %s: %w", c, err)
		}
		r.store(e, v, originLocal)
		r.logger.Debug("Plugin resolved locally", zap.String("capability", c.String()),
			zap.String("plugin", v.PluginName()))
	}

	if _, cached := e.slot.Evictable(); cached && !preferExternal {
		return nil
	}
	ext, ok := e.slot.ResolveExternal(nil)
	if !ok {
		return nil
	}
	r.store(e, ext, originExternal)
	r.logger.Debug("Plugin resolved externally", zap.String("capability", c.String()),
		zap.String("plugin", ext.PluginName()))
	return nil
}

// PreferExternal returns the preference last given to Initialize.
func (r *Resolver) PreferExternal() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.preferExternal
}

// GetOrResolve returns the cached plugin for key if it is still alive,
// otherwise resolves it again. The preferred strategy is tried first and
// the other one is used as a fallback.
func (r *Resolver) GetOrResolve(key discovery.Key, preferExternal bool) (Plugin, bool) {
	e := r.lookup(key)
	if e == nil {
		if !key.IsInterface() {
			return nil, false
		}
		r.mu.Lock()
		if e = r.entries[key]; e == nil {
			e = r.newEntry(Capability{Key: key})
			r.entries[key] = e
		}
		r.mu.Unlock()
	}

	if v, ok := e.slot.Evictable(); ok {
		return v, true
	}

	e.resolveMu.Lock()
	defer e.resolveMu.Unlock()
	if v, ok := e.slot.Evictable(); ok {
		return v, true
	}
	v, o, ok := r.resolve(e, preferExternal)
	if !ok {
		return nil, false
	}
	r.store(e, v, o)
	return v, true
}

// store caches v for e and closes the discovered instance it replaces.
// Callers hold e.resolveMu.
func (r *Resolver) store(e *entry, v Plugin, o origin) {
	e.slot.SetEvictable(v)
	r.setOrigin(e, o)

	old := e.external
	e.external = nil
	if o == originExternal {
		e.external = v
	}
	if old == nil || samePlugin(old, v) {
		return
	}
	if c, ok := old.(io.Closer); ok {
		if err := c.Close(); err != nil {
			r.logger.Warn("Failed to close replaced plugin",
				zap.String("capability", e.capability.String()),
				zap.String("plugin", old.PluginName()),
				zap.Error(err))
		}
	}
}

func samePlugin(a, b Plugin) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	return ta == tb && ta.Comparable() && a == b
}

func (r *Resolver) resolve(e *entry, preferExternal bool) (Plugin, origin, bool) {
	local := func() (Plugin, bool) {
		if !e.slot.HasProvider() {
			return nil, false
		}
		v, err := e.slot.GetPinned()
		if err != nil {
			r.logger.Warn("Default plugin construction failed",
				zap.String("capability", e.capability.String()), zap.Error(err))
			return nil, false
		}
		return v, true
	}
	external := func() (Plugin, bool) {
		return e.slot.ResolveExternal(nil)
	}

	if preferExternal {
		if v, ok := external(); ok {
			return v, originExternal, true
		}
		if v, ok := local(); ok {
			return v, originLocal, true
		}
		return nil, originLocal, false
	}
	if v, ok := local(); ok {
		return v, originLocal, true
	}
	if v, ok := external(); ok {
		return v, originExternal, true
	}
	return nil, originLocal, false
}

// GetRequired is GetOrResolve that fails when nothing resolves.
func (r *Resolver) GetRequired(key discovery.Key, preferExternal bool) (Plugin, error) {
	v, ok := r.GetOrResolve(key, preferExternal)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRequiredPluginNotFound, key)
	}
	return v, nil
}

// Get resolves the capability T.
func Get[T Plugin](r *Resolver, preferExternal bool) (T, bool) {
	var zero T
	v, ok := r.GetOrResolve(discovery.KeyOf[T](), preferExternal)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Preferred resolves the capability T with the preference given to
// Initialize.
func Preferred[T Plugin](r *Resolver) (T, bool) {
	return Get[T](r, r.PreferExternal())
}

// Required resolves the capability T or fails.
func Required[T Plugin](r *Resolver, preferExternal bool) (T, error) {
	var zero T
	v, err := r.GetRequired(discovery.KeyOf[T](), preferExternal)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrRequiredPluginNotFound, discovery.KeyOf[T]())
	}
	return t, nil
}

// IsExternal reports whether the cached plugin for key came from discovery.
func (r *Resolver) IsExternal(key discovery.Key) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	return ok && e.origin == originExternal
}

// Evict drops the cached instance for key; the next access resolves again.
// Pinned local defaults survive.
func (r *Resolver) Evict(key discovery.Key) {
	if e := r.lookup(key); e != nil {
		e.slot.Evict()
	}
}

// Capabilities returns the registered capabilities, sorted by name.
func (r *Resolver) Capabilities() []discovery.Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]discovery.Key, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Close closes every cached plugin that implements io.Closer.
func (r *Resolver) Close() error {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	seen := make(map[any]struct{})
	var errs []error
	closeOne := func(p Plugin) {
		if reflect.TypeOf(p).Comparable() {
			if _, dup := seen[p]; dup {
				return
			}
			seen[p] = struct{}{}
		}
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", p.PluginName(), err))
			}
		}
	}
	for _, e := range entries {
		e.resolveMu.Lock()
		ext := e.external
		e.resolveMu.Unlock()
		if ext != nil {
			closeOne(ext)
		}
		if v, ok := e.slot.Evictable(); ok {
			closeOne(v)
		}
		if v, ok := e.slot.Pinned(); ok {
			closeOne(v)
		}
	}
	return errors.Join(errs...)
}

func (r *Resolver) lookup(key discovery.Key) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[key]
}

func (r *Resolver) setOrigin(e *entry, o origin) {
	r.mu.Lock()
	e.origin = o
	r.mu.Unlock()
}
