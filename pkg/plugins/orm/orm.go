// Package orm provides the database plugin: a named MongoDB database opened
// on the pooled client.
package orm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-service-framework/pkg/config"
	"github.com/sirosfoundation/go-service-framework/pkg/plugin"
	"github.com/sirosfoundation/go-service-framework/pkg/plugins/pool"
	"github.com/sirosfoundation/go-service-framework/pkg/singleton"
)

// ErrNotInitialized is returned before Init succeeded.
var ErrNotInitialized = errors.New("orm: database not initialized")

// Manager is the database capability.
type Manager interface {
	plugin.Plugin

	// Init opens the database and verifies the connection. Calling it again
	// after success is a no-op.
	Init(ctx context.Context) error
	// Database returns the opened database, if Init succeeded.
	Database() (*mongo.Database, bool)
	// Collection returns a collection of the opened database.
	Collection(name string) (*mongo.Collection, error)
}

// PoolSource yields the pool the database is opened on.
type PoolSource func() (pool.Manager, error)

// MongoManager opens a database on a pool.Manager.
type MongoManager struct {
	name   string
	pools  PoolSource
	logger *zap.Logger

	mu sync.RWMutex
	db *mongo.Database
}

// NewMongoManager creates a manager for database cfg.Database.
func NewMongoManager(cfg config.ORMConfig, pools PoolSource, logger *zap.Logger) *MongoManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pools == nil {
		pools = pool.Pinned
	}
	return &MongoManager{name: cfg.Database, pools: pools, logger: logger.Named("orm")}
}

func (m *MongoManager) PluginName() string { return "mongo-orm" }

func (m *MongoManager) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db != nil {
		return nil
	}
	if m.name == "" {
		return fmt.Errorf("orm: no database name configured")
	}

	p, err := m.pools()
	if err != nil {
		return fmt.Errorf("orm: no connection pool: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("orm: failed to reach database %q: %w", m.name, err)
	}
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	m.db = client.Database(m.name)
	m.logger.Info("Database initialized", zap.String("database", m.name))
	return nil
}

func (m *MongoManager) Database() (*mongo.Database, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db, m.db != nil
}

func (m *MongoManager) Collection(name string) (*mongo.Collection, error) {
	db, ok := m.Database()
	if !ok {
		return nil, ErrNotInitialized
	}
	return db.Collection(name), nil
}

// Capability describes the database plugin. pools supplies the connection
// pool, typically resolved from the same resolver.
func Capability(cfg config.ORMConfig, pools PoolSource, logger *zap.Logger) plugin.Capability {
	return plugin.CapabilityOf[Manager](func() (Manager, error) {
		return NewMongoManager(cfg, pools, logger), nil
	})
}

var slot = singleton.For[Manager](func() (Manager, error) {
	return NewMongoManager(config.Default().Plugins.ORM, pool.Pinned, nil), nil
})

// Singleton returns the process-wide slot of the default database manager.
func Singleton() *singleton.Slot[Manager] { return slot }

// Pinned returns the process-wide database manager.
func Pinned() (Manager, error) { return slot.GetPinned() }

// Evictable returns the process-wide evictable database manager.
func Evictable() (Manager, error) { return slot.GetEvictable() }
