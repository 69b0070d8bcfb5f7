package orm

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-service-framework/pkg/config"
	"github.com/sirosfoundation/go-service-framework/pkg/discovery"
	"github.com/sirosfoundation/go-service-framework/pkg/plugin"
	"github.com/sirosfoundation/go-service-framework/pkg/plugins/pool"
)

type stubPool struct {
	pool.Manager
	pingErr error
}

func (s *stubPool) PluginName() string { return "stub" }

func (s *stubPool) Ping(context.Context) error { return s.pingErr }

func (s *stubPool) Client(context.Context) (*mongo.Client, error) {
	return nil, errors.New("unreachable")
}

func TestDatabase_BeforeInit(t *testing.T) {
	m := NewMongoManager(config.ORMConfig{Database: "svc"}, nil, nil)
	_, ok := m.Database()
	assert.False(t, ok)
	_, err := m.Collection("x")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestInit_Errors(t *testing.T) {
	ctx := context.Background()

	noName := NewMongoManager(config.ORMConfig{}, nil, nil)
	assert.Error(t, noName.Init(ctx))

	noPool := NewMongoManager(config.ORMConfig{Database: "svc"}, func() (pool.Manager, error) {
		return nil, plugin.ErrRequiredPluginNotFound
	}, nil)
	assert.ErrorIs(t, noPool.Init(ctx), plugin.ErrRequiredPluginNotFound)

	down := NewMongoManager(config.ORMConfig{Database: "svc"}, func() (pool.Manager, error) {
		return &stubPool{pingErr: errors.New("down")}, nil
	}, nil)
	assert.Error(t, down.Init(ctx))
	_, ok := down.Database()
	assert.False(t, ok)
}

func TestCapability_UsesResolverPool(t *testing.T) {
	r := plugin.NewResolver(discovery.NewCatalog(zap.NewNop()))
	var pools PoolSource = func() (pool.Manager, error) { return plugin.Required[pool.Manager](r, false) }
	require.NoError(t, r.Initialize([]plugin.Capability{
		pool.Capability(config.PoolConfig{URI: "mongodb://localhost:27017"}, nil),
		Capability(config.ORMConfig{Database: "svc"}, pools, nil),
	}, false))

	m, err := plugin.Required[Manager](r, false)
	require.NoError(t, err)
	assert.Equal(t, "mongo-orm", m.PluginName())
	p, err := pools()
	require.NoError(t, err)
	assert.Equal(t, "mongo-pool", p.PluginName())
	assert.NoError(t, r.Close())
}

func TestInit_WithMongo(t *testing.T) {
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	p := pool.NewMongoManager(config.PoolConfig{URI: uri, ConnectTimeout: 2 * time.Second}, nil)
	t.Cleanup(func() { _ = p.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}

	m := NewMongoManager(config.ORMConfig{Database: "rsf_orm_test"}, func() (pool.Manager, error) { return p, nil }, zap.NewNop())
	require.NoError(t, m.Init(ctx))
	require.NoError(t, m.Init(ctx))

	coll, err := m.Collection("items")
	require.NoError(t, err)
	t.Cleanup(func() { _ = coll.Database().Drop(context.Background()) })

	_, err = coll.InsertOne(ctx, bson.M{"name": "a"})
	require.NoError(t, err)
	n, err := coll.CountDocuments(ctx, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
