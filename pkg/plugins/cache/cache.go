// Package cache provides the cache plugin: a key/value store with per-entry
// expiry, backed by process memory or by Redis.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-service-framework/pkg/config"
	"github.com/sirosfoundation/go-service-framework/pkg/plugin"
	"github.com/sirosfoundation/go-service-framework/pkg/singleton"
)

// ErrNotFound is returned by Get for a missing or expired key.
var ErrNotFound = errors.New("cache: key not found")

// Manager is the cache capability. Implementations must be safe for
// concurrent use.
type Manager interface {
	plugin.Plugin

	// Get returns the value stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key. A zero ttl uses the manager's default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases resources.
	Close() error
}

// New builds the manager selected by cfg.Type.
func New(cfg config.CacheConfig, logger *zap.Logger) (Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Type == "redis" {
		return NewRedisManager(cfg, logger)
	}
	return NewMemoryManager(cfg, clockwork.NewRealClock(), logger), nil
}

// Capability describes the cache plugin with cfg as its bundled default.
func Capability(cfg config.CacheConfig, logger *zap.Logger) plugin.Capability {
	return plugin.CapabilityOf[Manager](func() (Manager, error) {
		return New(cfg, logger)
	})
}

var slot = singleton.For[Manager](func() (Manager, error) {
	return NewMemoryManager(config.Default().Plugins.Cache, clockwork.NewRealClock(), zap.NewNop()), nil
})

// Singleton returns the process-wide slot of the default in-memory cache.
func Singleton() *singleton.Slot[Manager] { return slot }

// Pinned returns the process-wide cache, held for the life of the process.
func Pinned() (Manager, error) { return slot.GetPinned() }

// Evictable returns the process-wide evictable cache, rebuilt after eviction.
func Evictable() (Manager, error) { return slot.GetEvictable() }
