// Package pool provides the connection pool plugin: one pooled MongoDB
// client, configured first and created on first use.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-service-framework/pkg/config"
	"github.com/sirosfoundation/go-service-framework/pkg/plugin"
	"github.com/sirosfoundation/go-service-framework/pkg/singleton"
)

var (
	// ErrAlreadyCreated is returned by Configure once the client exists.
	ErrAlreadyCreated = errors.New("pool: client already created")
	// ErrClosed is returned by Client after Close.
	ErrClosed = errors.New("pool: closed")
)

// Manager is the connection pool capability.
type Manager interface {
	plugin.Plugin

	// Configure replaces the pool settings. It fails once the client has
	// been created.
	Configure(cfg config.PoolConfig) error
	// Client returns the pooled client, creating it on first call.
	Client(ctx context.Context) (*mongo.Client, error)
	// Ping checks that the primary is reachable.
	Ping(ctx context.Context) error
	// Close disconnects the client, if created.
	Close() error
}

// MongoManager pools connections to a MongoDB deployment.
type MongoManager struct {
	mu     sync.Mutex
	cfg    config.PoolConfig
	client *mongo.Client
	closed bool
	logger *zap.Logger
}

// NewMongoManager creates an unconnected manager.
func NewMongoManager(cfg config.PoolConfig, logger *zap.Logger) *MongoManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoManager{cfg: cfg, logger: logger.Named("pool")}
}

func (m *MongoManager) PluginName() string { return "mongo-pool" }

func (m *MongoManager) Configure(cfg config.PoolConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return ErrAlreadyCreated
	}
	m.cfg = cfg
	return nil
}

// Settings returns the current pool settings.
func (m *MongoManager) Settings() config.PoolConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// ClientOptions maps pool settings onto driver options.
func ClientOptions(cfg config.PoolConfig) *options.ClientOptions {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MinPoolSize > 0 {
		opts.SetMinPoolSize(cfg.MinPoolSize)
	}
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if cfg.MaxConnIdleTime > 0 {
		opts.SetMaxConnIdleTime(cfg.MaxConnIdleTime)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
		opts.SetServerSelectionTimeout(cfg.ConnectTimeout)
	}
	return opts
}

func (m *MongoManager) Client(ctx context.Context) (*mongo.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.client != nil {
		return m.client, nil
	}

	opts := ClientOptions(m.cfg)
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool settings: %w", err)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	m.client = client
	m.logger.Info("Connection pool created",
		zap.Uint64("max_pool_size", m.cfg.MaxPoolSize),
		zap.Duration("max_conn_idle_time", m.cfg.MaxConnIdleTime))
	return client, nil
}

func (m *MongoManager) Ping(ctx context.Context) error {
	client, err := m.Client(ctx)
	if err != nil {
		return err
	}
	return client.Ping(ctx, readpref.Primary())
}

func (m *MongoManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := m.client.Disconnect(ctx)
	m.client = nil
	return err
}

// Capability describes the pool plugin with cfg as its bundled default.
func Capability(cfg config.PoolConfig, logger *zap.Logger) plugin.Capability {
	return plugin.CapabilityOf[Manager](func() (Manager, error) {
		return NewMongoManager(cfg, logger), nil
	})
}

var slot = singleton.For[Manager](func() (Manager, error) {
	return NewMongoManager(config.Default().Plugins.Pool, nil), nil
})

// Singleton returns the process-wide slot of the default pool.
func Singleton() *singleton.Slot[Manager] { return slot }

// Pinned returns the process-wide pool, held for the life of the process.
func Pinned() (Manager, error) { return slot.GetPinned() }

// Evictable returns the process-wide evictable pool, rebuilt after eviction.
func Evictable() (Manager, error) { return slot.GetEvictable() }
