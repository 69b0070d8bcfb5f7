package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-service-framework/pkg/plugin"
	"github.com/sirosfoundation/go-service-framework/pkg/registry"
)

// Service is reported by the status endpoints.
const Service = "service-framework"

// Source is what the admin surface reports on.
type Source interface {
	Status() []registry.ServerStatus
	Resolver() *plugin.Resolver
}

// StatusResponse is the response of /status and /health.
type StatusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Servers int    `json:"servers"`
	Running int    `json:"running"`
	Uptime  string `json:"uptime"`
}

// PluginResponse describes one resolved capability.
type PluginResponse struct {
	Capability string `json:"capability"`
	External   bool   `json:"external"`
}

// Handlers serves the status and admin endpoints.
type Handlers struct {
	source  Source
	started time.Time
	logger  *zap.Logger
}

// NewHandlers creates the handlers.
func NewHandlers(source Source, logger *zap.Logger) *Handlers {
	return &Handlers{source: source, started: time.Now(), logger: logger}
}

// Status reports overall health. It answers 503 when a configured server
// is not running.
func (h *Handlers) Status(c *gin.Context) {
	servers := h.source.Status()
	running := 0
	for _, s := range servers {
		if s.State == "running" {
			running++
		}
	}
	resp := StatusResponse{
		Status:  "ok",
		Service: Service,
		Servers: len(servers),
		Running: running,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	}
	code := http.StatusOK
	if running < len(servers) {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

// ListServers returns every server with its state and routes.
func (h *Handlers) ListServers(c *gin.Context) {
	c.JSON(http.StatusOK, h.source.Status())
}

// GetServer returns one server.
func (h *Handlers) GetServer(c *gin.Context) {
	name := c.Param("name")
	for _, s := range h.source.Status() {
		if s.Name == name {
			c.JSON(http.StatusOK, s)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
}

// ListPlugins returns the capabilities known to the resolver.
func (h *Handlers) ListPlugins(c *gin.Context) {
	r := h.source.Resolver()
	out := make([]PluginResponse, 0)
	for _, k := range r.Capabilities() {
		out = append(out, PluginResponse{Capability: k.String(), External: r.IsExternal(k)})
	}
	c.JSON(http.StatusOK, out)
}

// EvictPlugin drops the cached instance of a capability so the next use
// resolves it again.
func (h *Handlers) EvictPlugin(c *gin.Context) {
	name := c.Param("capability")
	r := h.source.Resolver()
	for _, k := range r.Capabilities() {
		if k.String() == name {
			r.Evict(k)
			h.logger.Info("Plugin evicted", zap.String("capability", name))
			c.Status(http.StatusNoContent)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "capability not found"})
}
