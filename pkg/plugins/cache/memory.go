package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-service-framework/pkg/config"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryManager is an in-process cache for single-instance deployments and
// tests.
type MemoryManager struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	defaultTTL time.Duration
	maxEntries int
	clock      clockwork.Clock
	logger     *zap.Logger
}

// NewMemoryManager creates an in-memory cache. A non-positive MaxEntries
// leaves the cache unbounded.
func NewMemoryManager(cfg config.CacheConfig, clock clockwork.Clock, logger *zap.Logger) *MemoryManager {
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryManager{
		entries:    make(map[string]memoryEntry),
		defaultTTL: ttl,
		maxEntries: cfg.MaxEntries,
		clock:      clock,
		logger:     logger.Named("memory_cache"),
	}
}

func (m *MemoryManager) PluginName() string { return "memory-cache" }

func (m *MemoryManager) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok || !m.clock.Now().Before(e.expires) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (m *MemoryManager) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && m.maxEntries > 0 && len(m.entries) >= m.maxEntries {
		m.makeRoom()
	}
	m.entries[key] = memoryEntry{
		value:   append([]byte(nil), value...),
		expires: m.clock.Now().Add(ttl),
	}
	return nil
}

// makeRoom drops expired entries, then the entry closest to expiry if the
// cache is still full. Caller holds mu.
func (m *MemoryManager) makeRoom() {
	now := m.clock.Now()
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
	if len(m.entries) < m.maxEntries {
		return
	}
	var (
		victim  string
		soonest time.Time
		found   bool
	)
	for k, e := range m.entries {
		if !found || e.expires.Before(soonest) {
			victim, soonest, found = k, e.expires, true
		}
	}
	delete(m.entries, victim)
	m.logger.Debug("Evicted cache entry", zap.String("key", victim))
}

func (m *MemoryManager) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Cleanup removes expired entries and returns how many were removed.
func (m *MemoryManager) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	n := 0
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
			n++
		}
	}
	if n > 0 {
		m.logger.Debug("Cleaned up expired entries", zap.Int("count", n))
	}
	return n
}

// Len returns the number of stored entries, expired ones included.
func (m *MemoryManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryManager) Close() error {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
	return nil
}
