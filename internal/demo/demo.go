// Package demo contains example handlers for every transport: a reflective
// echo controller, an explicit index registrar, a TCP line echo and a UDP
// echo.
package demo

import (
	"github.com/sirosfoundation/go-service-framework/pkg/discovery"
	"github.com/sirosfoundation/go-service-framework/pkg/handler"
)

// Targets names the servers each demo handler binds to. Echo and Index are
// only registered when targeted, since a single HTTP server cannot take both
// binding modes. Empty TCP or UDP targets bind to every server of that
// transport.
type Targets struct {
	Echo  []string
	Index []string
	TCP   []string
	UDP   []string
}

// Register adds the demo handlers to catalog.
func Register(catalog *discovery.Catalog, t Targets) {
	if len(t.Echo) > 0 {
		discovery.Provide(catalog, "demo.echo", func() (handler.Handler, error) {
			return NewEcho(t.Echo...), nil
		})
	}
	if len(t.Index) > 0 {
		discovery.Provide(catalog, "demo.index", func() (handler.Handler, error) {
			return NewIndex(t.Index...), nil
		})
	}
	discovery.Provide(catalog, "demo.tcp", func() (handler.Handler, error) {
		return NewLineEcho(t.TCP...), nil
	})
	discovery.Provide(catalog, "demo.udp", func() (handler.Handler, error) {
		return NewDatagramEcho(t.UDP...), nil
	})
}
