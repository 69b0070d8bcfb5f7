package pool

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-service-framework/pkg/config"
)

func getTestMongoURI() string {
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	return uri
}

func testPoolConfig() config.PoolConfig {
	return config.PoolConfig{
		URI:            getTestMongoURI(),
		MaxPoolSize:    5,
		ConnectTimeout: 2 * time.Second,
	}
}

func skipIfNoMongo(t *testing.T) *MongoManager {
	m := NewMongoManager(testPoolConfig(), zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Ping(ctx); err != nil {
		_ = m.Close()
		t.Skipf("MongoDB not available: %v", err)
		return nil
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestClientOptions(t *testing.T) {
	opts := ClientOptions(config.PoolConfig{
		URI:             "mongodb://db.example:27017",
		MinPoolSize:     2,
		MaxPoolSize:     20,
		MaxConnIdleTime: time.Minute,
		ConnectTimeout:  3 * time.Second,
	})
	require.NoError(t, opts.Validate())
	assert.Equal(t, []string{"db.example:27017"}, opts.Hosts)
	assert.Equal(t, uint64(2), *opts.MinPoolSize)
	assert.Equal(t, uint64(20), *opts.MaxPoolSize)
	assert.Equal(t, time.Minute, *opts.MaxConnIdleTime)
	assert.Equal(t, 3*time.Second, *opts.ConnectTimeout)

	bare := ClientOptions(config.PoolConfig{URI: "mongodb://localhost"})
	assert.Nil(t, bare.MaxPoolSize)
}

func TestConfigureBeforeCreate(t *testing.T) {
	m := NewMongoManager(config.PoolConfig{URI: "mongodb://a"}, nil)
	require.NoError(t, m.Configure(config.PoolConfig{URI: "mongodb://b", MaxPoolSize: 3}))
	assert.Equal(t, "mongodb://b", m.Settings().URI)
	assert.Equal(t, "mongo-pool", m.PluginName())
}

func TestClient_CreatedOnceAndConfigureLocked(t *testing.T) {
	// Connect does not dial, so this runs without a server.
	m := NewMongoManager(testPoolConfig(), zap.NewNop())
	ctx := context.Background()

	a, err := m.Client(ctx)
	require.NoError(t, err)
	b, err := m.Client(ctx)
	require.NoError(t, err)
	assert.Same(t, a, b)

	assert.ErrorIs(t, m.Configure(config.PoolConfig{}), ErrAlreadyCreated)

	require.NoError(t, m.Close())
	_, err = m.Client(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, m.Close())
}

func TestClient_InvalidURI(t *testing.T) {
	m := NewMongoManager(config.PoolConfig{URI: "not-a-uri"}, nil)
	_, err := m.Client(context.Background())
	assert.Error(t, err)
}

func TestPing(t *testing.T) {
	m := skipIfNoMongo(t)
	assert.NoError(t, m.Ping(context.Background()))
}

func TestSingleton(t *testing.T) {
	a, err := Pinned()
	require.NoError(t, err)
	b, err := Pinned()
	require.NoError(t, err)
	assert.Same(t, a, b)
}
