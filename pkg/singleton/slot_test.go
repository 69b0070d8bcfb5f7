package singleton

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

type store interface {
	ID() int
}

type memStore struct{ id int }

func (m *memStore) ID() int { return m.id }

type diskStore struct{ memStore }

func (d *diskStore) Path() string { return "/tmp" }

type pather interface {
	Path() string
}

func countingProvider(counter *atomic.Int32) Provider[store] {
	return func() (store, error) {
		n := counter.Add(1)
		time.Sleep(time.Millisecond)
		return &memStore{id: int(n)}, nil
	}
}

func runConcurrently(n int, fn func(i int)) {
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			fn(i)
		}(i)
	}
	close(start)
	wg.Wait()
}

func TestSlot_GetPinned_ConcurrentSingleConstruction(t *testing.T) {
	var built atomic.Int32
	s := For(countingProvider(&built), WithCatalog(discovery.NewCatalog(zap.NewNop())))

	const n = 64
	results := make([]store, n)
	runConcurrently(n, func(i int) {
		v, err := s.GetPinned()
		assert.NoError(t, err)
		results[i] = v
	})

	assert.Equal(t, int32(1), built.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}

	v, ok := s.Pinned()
	require.True(t, ok)
	assert.Same(t, results[0], v)
}

func TestSlot_GetPinned_NoProvider(t *testing.T) {
	s := New[store](nil, discovery.Key{})
	_, err := s.GetPinned()
	assert.ErrorIs(t, err, ErrNoProvider)
	_, err = s.GetEvictable()
	assert.ErrorIs(t, err, ErrNoProvider)
	assert.False(t, s.HasProvider())
}

func TestSlot_GetPinned_ProviderErrorIsNotCached(t *testing.T) {
	calls := 0
	s := For(func() (store, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("transient")
		}
		return &memStore{id: calls}, nil
	})

	_, err := s.GetPinned()
	require.Error(t, err)
	v, err := s.GetPinned()
	require.NoError(t, err)
	assert.Equal(t, 2, v.ID())
}

func TestSlot_GetEvictable_SameWhileAlive(t *testing.T) {
	var built atomic.Int32
	s := For(countingProvider(&built))

	a, err := s.GetEvictable()
	require.NoError(t, err)
	b, err := s.GetEvictable()
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, int32(1), built.Load())
}

func TestSlot_GetEvictable_AfterEvictConstructsOnce(t *testing.T) {
	var built atomic.Int32
	s := For(countingProvider(&built))

	first, err := s.GetEvictable()
	require.NoError(t, err)

	s.Evict()
	_, ok := s.Evictable()
	assert.False(t, ok)

	const n = 32
	results := make([]store, n)
	runConcurrently(n, func(i int) {
		v, err := s.GetEvictable()
		assert.NoError(t, err)
		results[i] = v
	})

	assert.Equal(t, int32(2), built.Load())
	assert.NotSame(t, first, results[0])
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestSlot_GetEvictable_TTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var built atomic.Int32
	s := For(countingProvider(&built), WithTTL(time.Minute), WithClock(clock))

	a, err := s.GetEvictable()
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	b, err := s.GetEvictable()
	require.NoError(t, err)
	assert.Same(t, a, b)

	clock.Advance(31 * time.Second)
	c, err := s.GetEvictable()
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	assert.Equal(t, int32(2), built.Load())
}

func TestSlot_PinnedAndEvictableAreIndependent(t *testing.T) {
	var built atomic.Int32
	s := For(countingProvider(&built))

	p, err := s.GetPinned()
	require.NoError(t, err)
	e, err := s.GetEvictable()
	require.NoError(t, err)
	assert.NotSame(t, p, e)

	s.Evict()
	p2, err := s.GetPinned()
	require.NoError(t, err)
	assert.Same(t, p, p2)
}

func TestSlot_ResolveExternal(t *testing.T) {
	c := discovery.NewCatalog(zap.NewNop())
	discovery.Provide[store](c, "mem", func() (store, error) { return &memStore{id: 1}, nil })
	discovery.Provide[store](c, "disk", func() (store, error) { return &diskStore{memStore{id: 2}}, nil })

	s := For[store](nil, WithCatalog(c))

	first, ok := s.ResolveExternal(nil)
	require.True(t, ok)
	assert.Equal(t, 1, first.ID())

	disk, ok := s.ResolveExternal(func(v store) bool { return v.ID() == 2 })
	require.True(t, ok)
	assert.Equal(t, 2, disk.ID())

	p, ok := ResolveExternalAs[pather](s)
	require.True(t, ok)
	assert.Equal(t, "/tmp", p.Path())

	assert.Len(t, s.ResolveAllExternal(), 2)
}

func TestSlot_ResolveExternal_CreatesLazily(t *testing.T) {
	c := discovery.NewCatalog(zap.NewNop())
	var created atomic.Int32
	for i := 1; i <= 3; i++ {
		i := i
		discovery.Provide[store](c, "mem", func() (store, error) {
			created.Add(1)
			return &memStore{id: i}, nil
		})
	}

	s := For[store](nil, WithCatalog(c))
	v, ok := s.ResolveExternal(nil)
	require.True(t, ok)
	assert.Equal(t, 1, v.ID())
	assert.Equal(t, int32(1), created.Load())

	v, ok = s.ResolveExternal(func(v store) bool { return v.ID() == 2 })
	require.True(t, ok)
	assert.Equal(t, 2, v.ID())
	assert.Equal(t, int32(3), created.Load())
}

func TestSlot_ResolveExternal_NoKey(t *testing.T) {
	s := New[store](nil, discovery.Key{})
	_, ok := s.ResolveExternal(nil)
	assert.False(t, ok)
	assert.Empty(t, s.ResolveAllExternal())
}
