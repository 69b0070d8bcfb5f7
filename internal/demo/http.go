package demo

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sirosfoundation/go-service-framework/pkg/handler"
	"github.com/sirosfoundation/go-service-framework/pkg/plugin"
	"github.com/sirosfoundation/go-service-framework/pkg/plugins/cache"
)

// MaxEchoBody bounds the body accepted by POST /echo.
const MaxEchoBody = 64 * 1024

const lastEchoKey = "demo:echo:last"

// Echo is a REST controller echoing request bodies and websocket messages.
// With a cache plugin available it remembers the last POSTed message.
type Echo struct {
	handler.Base
	resolver *plugin.Resolver
}

// NewEcho creates the echo controller.
func NewEcho(servers ...string) *Echo {
	return &Echo{Base: handler.Base{Name: "echo", Servers: servers}}
}

func (e *Echo) UsePlugins(r *plugin.Resolver) { e.resolver = r }

func (e *Echo) Prefix() string { return "/" }

func (e *Echo) Routes() []handler.Route {
	post := handler.POST("/echo", e.post)
	post.Name = "post-echo"
	get := handler.GET("/echo", e.get)
	get.Name = "get-echo"
	ws := handler.Websocket("/ws", e.websocket)
	ws.Name = "ws-echo"
	return []handler.Route{post, get, ws}
}

func (e *Echo) cache() (cache.Manager, bool) {
	if e.resolver == nil {
		return nil, false
	}
	return plugin.Preferred[cache.Manager](e.resolver)
}

func (e *Echo) post(r *http.Request, w http.ResponseWriter) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxEchoBody))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if c, ok := e.cache(); ok {
		if err := c.Set(r.Context(), lastEchoKey, body, time.Hour); err != nil {
			return err
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, err = w.Write(body)
	return err
}

func (e *Echo) get(r *http.Request, w http.ResponseWriter) error {
	msg := r.URL.Query().Get("msg")
	if msg == "" {
		if c, ok := e.cache(); ok {
			last, err := c.Get(r.Context(), lastEchoKey)
			if err != nil && !errors.Is(err, cache.ErrNotFound) {
				return err
			}
			msg = string(last)
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, err := io.WriteString(w, msg)
	return err
}

func (e *Echo) websocket(in *handler.WebsocketInbound, out *handler.WebsocketOutbound) error {
	for {
		msg, err := in.ReceiveText()
		if handler.IsClosed(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := out.SendText(msg); err != nil {
			return err
		}
	}
}

// Index is an explicitly registered landing page.
type Index struct {
	handler.Base
}

// NewIndex creates the index registrar.
func NewIndex(servers ...string) *Index {
	return &Index{Base: handler.Base{Name: "index", Servers: servers}}
}

func (i *Index) Register(routes gin.IRoutes) {
	routes.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": "service-framework", "handler": i.Name})
	})
	routes.GET("/time", func(c *gin.Context) {
		c.String(http.StatusOK, time.Now().UTC().Format(time.RFC3339))
	})
}
