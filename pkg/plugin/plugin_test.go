package plugin

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-service-framework/pkg/discovery"
)

type Counter interface {
	Plugin
	Next() int
}

type localCounter struct {
	n      int
	closed bool
}

func (c *localCounter) PluginName() string { return "local" }
func (c *localCounter) Next() int          { c.n++; return c.n }
func (c *localCounter) Close() error       { c.closed = true; return nil }

type externalCounter struct{ localCounter }

func (c *externalCounter) PluginName() string { return "external" }

type Mailer interface {
	Plugin
	Send(to string) error
}

func counterCapability(built *atomic.Int32) Capability {
	return CapabilityOf[Counter](func() (Counter, error) {
		if built != nil {
			built.Add(1)
		}
		return &localCounter{}, nil
	})
}

func catalogWithExternal() *discovery.Catalog {
	c := discovery.NewCatalog(zap.NewNop())
	discovery.Provide[Counter](c, "external", func() (Counter, error) {
		return &externalCounter{}, nil
	})
	return c
}

func TestGetOrResolve_LocalDefaultWhenNothingDiscovered(t *testing.T) {
	r := NewResolver(discovery.NewCatalog(zap.NewNop()))
	require.NoError(t, r.Register(counterCapability(nil)))

	v, ok := r.GetOrResolve(discovery.KeyOf[Counter](), false)
	require.True(t, ok)
	assert.Equal(t, "local", v.PluginName())
	assert.False(t, r.IsExternal(discovery.KeyOf[Counter]()))
}

func TestGetOrResolve_ExternalWhenPreferred(t *testing.T) {
	r := NewResolver(catalogWithExternal())
	require.NoError(t, r.Register(counterCapability(nil)))

	v, ok := r.GetOrResolve(discovery.KeyOf[Counter](), true)
	require.True(t, ok)
	assert.Equal(t, "external", v.PluginName())
	assert.True(t, r.IsExternal(discovery.KeyOf[Counter]()))
}

func TestGetOrResolve_LocalPreferredOverExternal(t *testing.T) {
	r := NewResolver(catalogWithExternal())
	require.NoError(t, r.Register(counterCapability(nil)))

	v, ok := Get[Counter](r, false)
	require.True(t, ok)
	assert.Equal(t, "local", v.PluginName())
}

func TestGetOrResolve_FallsBackToExternal(t *testing.T) {
	r := NewResolver(catalogWithExternal())

	v, ok := Get[Counter](r, false)
	require.True(t, ok)
	assert.Equal(t, "external", v.PluginName())
}

func TestGetOrResolve_CachesUntilEvicted(t *testing.T) {
	var built atomic.Int32
	r := NewResolver(discovery.NewCatalog(zap.NewNop()))
	require.NoError(t, r.Register(counterCapability(&built)))

	a, ok := Get[Counter](r, false)
	require.True(t, ok)
	b, ok := Get[Counter](r, false)
	require.True(t, ok)
	assert.Same(t, a, b)

	r.Evict(discovery.KeyOf[Counter]())
	c, ok := Get[Counter](r, false)
	require.True(t, ok)
	// the pinned default survives eviction of the cache entry
	assert.Same(t, a, c)
	assert.Equal(t, int32(1), built.Load())
}

func TestGetOrResolve_ConcurrentMissesResolveOnce(t *testing.T) {
	var built atomic.Int32
	c := discovery.NewCatalog(zap.NewNop())
	discovery.Provide[Counter](c, "external", func() (Counter, error) {
		built.Add(1)
		return &externalCounter{}, nil
	})
	r := NewResolver(c)

	var wg sync.WaitGroup
	results := make([]Counter, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, ok := Get[Counter](r, true)
			assert.True(t, ok)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), built.Load())
	for _, v := range results {
		assert.Same(t, results[0], v)
	}
}

func TestGetRequired_NotFound(t *testing.T) {
	r := NewResolver(discovery.NewCatalog(zap.NewNop()))

	_, err := r.GetRequired(discovery.KeyOf[Mailer](), false)
	assert.ErrorIs(t, err, ErrRequiredPluginNotFound)

	_, err = Required[Mailer](r, true)
	assert.ErrorIs(t, err, ErrRequiredPluginNotFound)

	_, ok := Get[Mailer](r, false)
	assert.False(t, ok)
}

func TestInitialize_FillsGapsWithoutOverwriting(t *testing.T) {
	var built atomic.Int32
	r := NewResolver(catalogWithExternal())

	require.NoError(t, r.Initialize([]Capability{counterCapability(&built)}, false))
	assert.Equal(t, int32(1), built.Load())

	v, ok := Get[Counter](r, true)
	require.True(t, ok)
	assert.Equal(t, "local", v.PluginName())
}

func TestInitialize_ExternalOverwritesWhenPreferred(t *testing.T) {
	var built atomic.Int32
	r := NewResolver(catalogWithExternal())

	require.NoError(t, r.Initialize([]Capability{counterCapability(&built)}, true))
	assert.Equal(t, int32(0), built.Load())

	v, ok := Get[Counter](r, false)
	require.True(t, ok)
	assert.Equal(t, "external", v.PluginName())
}

func TestInitialize_ExternalOnlyCapability(t *testing.T) {
	r := NewResolver(catalogWithExternal())
	require.NoError(t, r.Initialize([]Capability{CapabilityOf[Counter](nil)}, false))

	v, ok := Get[Counter](r, false)
	require.True(t, ok)
	assert.Equal(t, "external", v.PluginName())
}

func TestInitialize_RejectsNonInterface(t *testing.T) {
	r := NewResolver(discovery.NewCatalog(zap.NewNop()))
	err := r.Initialize([]Capability{{Key: discovery.KeyOf[localCounter]()}}, false)
	assert.ErrorIs(t, err, ErrNotAPlugin)
}

func TestInitialize_DefaultFailure(t *testing.T) {
	r := NewResolver(discovery.NewCatalog(zap.NewNop()))
	c := CapabilityOf[Counter](func() (Counter, error) { return nil, errors.New("no db") })
	assert.Error(t, r.Initialize([]Capability{c}, false))
}

func TestResolver_Close(t *testing.T) {
	r := NewResolver(discovery.NewCatalog(zap.NewNop()))
	require.NoError(t, r.Initialize([]Capability{counterCapability(nil)}, false))

	v, ok := Get[Counter](r, false)
	require.True(t, ok)
	require.NoError(t, r.Close())
	assert.True(t, v.(*localCounter).closed)
	assert.Len(t, r.Capabilities(), 1)
}

func TestGetOrResolve_ClosesExpiredExternal(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var instances []*externalCounter
	c := discovery.NewCatalog(zap.NewNop())
	discovery.Provide[Counter](c, "external", func() (Counter, error) {
		ec := &externalCounter{}
		instances = append(instances, ec)
		return ec, nil
	})
	r := NewResolver(c, WithTTL(time.Minute), WithClock(clock))

	first, ok := Get[Counter](r, true)
	require.True(t, ok)

	clock.Advance(2 * time.Minute)
	second, ok := Get[Counter](r, true)
	require.True(t, ok)
	assert.NotSame(t, first, second)
	require.Len(t, instances, 2)
	assert.True(t, instances[0].closed)
	assert.False(t, instances[1].closed)

	// the current instance is closed even once its lease has run out
	clock.Advance(2 * time.Minute)
	require.NoError(t, r.Close())
	assert.True(t, instances[1].closed)
}

func TestGetOrResolve_SharedExternalNotClosedOnRenewal(t *testing.T) {
	clock := clockwork.NewFakeClock()
	shared := &externalCounter{}
	c := discovery.NewCatalog(zap.NewNop())
	discovery.Provide[Counter](c, "external", func() (Counter, error) { return shared, nil })
	r := NewResolver(c, WithTTL(time.Minute), WithClock(clock))

	_, ok := Get[Counter](r, true)
	require.True(t, ok)
	clock.Advance(2 * time.Minute)
	v, ok := Get[Counter](r, true)
	require.True(t, ok)
	assert.Same(t, shared, v)
	assert.False(t, shared.closed)
}

func TestPreferred_KeepsPreferenceAcrossExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := NewResolver(catalogWithExternal(), WithTTL(time.Minute), WithClock(clock))
	require.NoError(t, r.Initialize([]Capability{counterCapability(nil)}, true))
	assert.True(t, r.PreferExternal())

	v, ok := Preferred[Counter](r)
	require.True(t, ok)
	assert.Equal(t, "external", v.PluginName())

	clock.Advance(2 * time.Minute)
	v, ok = Preferred[Counter](r)
	require.True(t, ok)
	assert.Equal(t, "external", v.PluginName())
	assert.True(t, r.IsExternal(discovery.KeyOf[Counter]()))

	local := NewResolver(catalogWithExternal())
	require.NoError(t, local.Initialize([]Capability{counterCapability(nil)}, false))
	assert.False(t, local.PreferExternal())
	v, ok = Preferred[Counter](local)
	require.True(t, ok)
	assert.Equal(t, "local", v.PluginName())
}
