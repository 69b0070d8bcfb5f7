package demo

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-service-framework/pkg/config"
	"github.com/sirosfoundation/go-service-framework/pkg/discovery"
	"github.com/sirosfoundation/go-service-framework/pkg/registry"
	"github.com/sirosfoundation/go-service-framework/pkg/server"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// startDemo builds and starts a registry with one server per transport and
// the demo handlers bound onto them.
func startDemo(t *testing.T, required ...string) *registry.Registry {
	t.Helper()
	cfg := config.Default()
	cfg.Plugins.Required = required
	cfg.Servers = map[string]config.ServerEntry{
		"api":   {Type: "http", Host: "127.0.0.1"},
		"site":  {Type: "http", Host: "127.0.0.1"},
		"lines": {Type: "tcp", Host: "127.0.0.1"},
		"pings": {Type: "udp", Host: "127.0.0.1"},
	}

	catalog := discovery.NewCatalog(zap.NewNop())
	Register(catalog, Targets{
		Echo:  []string{"api"},
		Index: []string{"site"},
		TCP:   []string{"lines"},
		UDP:   []string{"pings"},
	})

	r := registry.New(cfg, registry.WithLogger(zap.NewNop()), registry.WithCatalog(catalog))
	require.NoError(t, r.Build(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("registry did not stop")
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = r.Shutdown(shutdownCtx)
	})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, r.WaitBound(waitCtx))
	return r
}

func addr(t *testing.T, r *registry.Registry, name string) string {
	t.Helper()
	s, ok := r.GetServer(name)
	require.True(t, ok)
	return s.Addr().String()
}

func TestBindingModes(t *testing.T) {
	r := startDemo(t)

	api, _ := r.GetServer("api")
	site, _ := r.GetServer("site")
	assert.Equal(t, server.BindingReflective, api.BindingMode())
	assert.Equal(t, server.BindingExplicit, site.BindingMode())

	var paths []string
	for _, d := range api.Routes() {
		assert.Equal(t, "echo", d.Owner)
		paths = append(paths, d.Verb.String()+" "+d.Path)
	}
	assert.Equal(t, []string{"POST /echo", "GET /echo", "WEBSOCKET /ws"}, paths)
}

func TestEcho_HTTP(t *testing.T) {
	r := startDemo(t)
	base := "http://" + addr(t, r, "api")

	resp, err := http.Post(base+"/echo", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", string(body))

	resp, err = http.Get(base + "/echo?msg=query")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "query", string(body))

	// no cache plugin: nothing remembered
	resp, err = http.Get(base + "/echo")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Empty(t, string(body))
}

func TestEcho_RemembersWithCache(t *testing.T) {
	r := startDemo(t, "cache")
	base := "http://" + addr(t, r, "api")

	resp, err := http.Post(base+"/echo", "text/plain", strings.NewReader("remember me"))
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(base + "/echo")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "remember me", string(body))
}

func TestEcho_Websocket(t *testing.T) {
	r := startDemo(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr(t, r, "api")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	for _, msg := range []string{"one", "two"} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, msg, string(data))
	}
}

func TestIndex(t *testing.T) {
	r := startDemo(t)

	resp, err := http.Get("http://" + addr(t, r, "site") + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "index", body["handler"])

	// echo is bound to api only
	resp2, err := http.Get("http://" + addr(t, r, "site") + "/echo")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestLineEcho(t *testing.T) {
	r := startDemo(t)

	conn, err := net.Dial("tcp", addr(t, r, "lines"))
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	reader := bufio.NewReader(conn)
	_, err = conn.Write([]byte("first\r\nsecond\n"))
	require.NoError(t, err)

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "first\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "second\n", line)

	_, err = conn.Write([]byte("quit\n"))
	require.NoError(t, err)
	_, err = reader.ReadString('\n')
	assert.ErrorIs(t, err, io.EOF)
}

func TestDatagramEcho(t *testing.T) {
	r := startDemo(t)

	conn, err := net.Dial("udp", addr(t, r, "pings"))
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
}
