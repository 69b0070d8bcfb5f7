// Package handler defines the contracts application handlers implement to be
// bound onto servers.
//
// A handler names the servers it targets and implements exactly one binding
// surface:
//   - RESTController: a path prefix plus a static route table (reflective
//     binding on HTTP servers)
//   - HTTPRegistrar: registers its routes on the server's router itself
//     (explicit binding on HTTP servers)
//   - TCPHandler or UDPHandler: a stream or datagram entry point
package handler

import (
	"context"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/sirosfoundation/go-service-framework/pkg/plugin"
)

// Handler is implemented by everything bound onto a server.
type Handler interface {
	HandlerName() string
	// RegisterOn lists the server names the handler targets; empty means all.
	RegisterOn() []string
}

// HandlerFunc serves one HTTP route. A returned error fails the response.
type HandlerFunc func(r *http.Request, w http.ResponseWriter) error

// WebsocketFunc serves one websocket route after the upgrade.
type WebsocketFunc func(in *WebsocketInbound, out *WebsocketOutbound) error

// Route is one entry of a controller's route table. Handle must be a
// HandlerFunc, or a WebsocketFunc when Verb is WEBSOCKET.
type Route struct {
	Name   string
	Verb   Verb
	Path   string
	Handle any
}

// RESTController is bound in reflective mode: its routes are joined with
// Prefix and inserted into the server's descriptor table.
type RESTController interface {
	Handler
	Prefix() string
	Routes() []Route
}

// HTTPRegistrar is bound in explicit mode: Register is handed the server's
// router and adds its routes directly.
type HTTPRegistrar interface {
	Handler
	Register(routes gin.IRoutes)
}

// TCPHandler processes accepted connections. Several handlers on one server
// run one after the other on each connection, in registration order.
type TCPHandler interface {
	Handler
	HandleTCP(ctx context.Context, conn *TCPConn) error
}

// UDPHandler processes datagrams. Each datagram is passed to every handler
// of the server, in registration order.
type UDPHandler interface {
	Handler
	HandleUDP(ctx context.Context, packet *UDPPacket, w PacketWriter) error
}

// PluginConsumer is implemented by handlers that need resolved plugins.
type PluginConsumer interface {
	UsePlugins(r *plugin.Resolver)
}

// Targets reports whether h should be bound onto the named server.
func Targets(h Handler, server string) bool {
	on := h.RegisterOn()
	return len(on) == 0 || slices.Contains(on, server)
}

// Base is embedded by handlers to provide HandlerName and RegisterOn.
type Base struct {
	Name    string
	Servers []string
}

func (b Base) HandlerName() string  { return b.Name }
func (b Base) RegisterOn() []string { return b.Servers }

// GET builds a GET route.
func GET(path string, fn HandlerFunc) Route { return Route{Verb: VerbGET, Path: path, Handle: fn} }

// POST builds a POST route.
func POST(path string, fn HandlerFunc) Route { return Route{Verb: VerbPOST, Path: path, Handle: fn} }

// PUT builds a PUT route.
func PUT(path string, fn HandlerFunc) Route { return Route{Verb: VerbPUT, Path: path, Handle: fn} }

// DELETE builds a DELETE route.
func DELETE(path string, fn HandlerFunc) Route {
	return Route{Verb: VerbDELETE, Path: path, Handle: fn}
}

// HEAD builds a HEAD route.
func HEAD(path string, fn HandlerFunc) Route { return Route{Verb: VerbHEAD, Path: path, Handle: fn} }

// Websocket builds a WEBSOCKET route.
func Websocket(path string, fn WebsocketFunc) Route {
	return Route{Verb: VerbWebsocket, Path: path, Handle: fn}
}
