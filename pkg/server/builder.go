package server

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sirosfoundation/go-service-framework/pkg/config"
	"github.com/sirosfoundation/go-service-framework/pkg/handler"
)

// builder is the transport-specific half of a Server. Exactly one of
// httpBuilder, tcpBuilder and udpBuilder backs each server.
type builder interface {
	kind() config.TransportKind
	// register attaches h and reports whether h had a surface for this
	// transport. Called with the server mutex held.
	register(s *Server, h handler.Handler) (bool, error)
	// bind opens the listener. tlsConfig is nil for plain listeners.
	bind(ctx context.Context, s *Server, tlsConfig *tls.Config) (runner, error)
}

// runner is a bound listener.
type runner interface {
	addr() net.Addr
	// serve blocks until stop is called; it returns nil on a clean stop.
	serve() error
	// stop ends serve. A nil ctx closes immediately, otherwise in-flight
	// work may finish until ctx ends.
	stop(ctx context.Context) error
}

func listen(ctx context.Context, address string, tlsConfig *tls.Config) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}
	return ln, nil
}

func newPrivateRegistry() prometheus.Registerer {
	return prometheus.NewRegistry()
}
