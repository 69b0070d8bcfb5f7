// Package tlsconf discovers TLS configurators and applies them to servers.
//
// Configurators are registered in a discovery.Catalog under the Configurator
// capability. For every HTTP or TCP server, each configurator that targets
// the server's name receives the TLS configuration produced by the previous
// one, in discovery order.
package tlsconf

import (
	"crypto/tls"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-service-framework/pkg/config"
	"github.com/sirosfoundation/go-service-framework/pkg/discovery"
)

// Configurator customizes the TLS configuration of the servers it targets.
type Configurator interface {
	// RegisterOn lists the server names the configurator applies to; empty
	// means all.
	RegisterOn() []string
	// Configure returns the configuration to use given the one built so far.
	// base is nil for the first configurator applied to a server.
	Configure(base *tls.Config, cfg config.ServerConfig) (*tls.Config, error)
}

// Target is the part of a server configurators act on.
type Target interface {
	Name() string
	Kind() config.TransportKind
	Config() config.ServerConfig
	Running() bool
	TLSConfig() *tls.Config
	SetTLSConfig(c *tls.Config)
}

// Key is the discovery key of the Configurator capability.
func Key() discovery.Key { return discovery.KeyOf[Configurator]() }

// Register adds a configurator factory to catalog.
func Register(catalog *discovery.Catalog, name string, factory func() (Configurator, error)) {
	discovery.Provide(catalog, name, factory)
}

// Discover returns every configurator in catalog, in registration order.
func Discover(catalog *discovery.Catalog) []Configurator {
	return discovery.CandidatesOf[Configurator](catalog)
}

// AppliesTo reports whether c targets the named server.
func AppliesTo(c Configurator, server string) bool {
	on := c.RegisterOn()
	return len(on) == 0 || slices.Contains(on, server)
}

// ApplyAll composes every applicable configurator onto target and returns
// how many were applied. UDP servers and running servers are left untouched.
// A configurator that fails or panics is logged and skipped.
func ApplyAll(target Target, configurators []Configurator, logger *zap.Logger) int {
	if target.Running() || !target.Kind().SupportsTLS() {
		return 0
	}
	log := logger.With(zap.String("server", target.Name()))

	applied := 0
	current := target.TLSConfig()
	for i, c := range configurators {
		if !AppliesTo(c, target.Name()) {
			continue
		}
		next, err := configure(c, current, target.Config())
		if err != nil {
			log.Warn("TLS configurator failed, skipping",
				zap.Int("index", i),
				zap.String("configurator", fmt.Sprintf("%T", c)),
				zap.Error(err))
			continue
		}
		current = next
		applied++
	}
	if applied > 0 {
		target.SetTLSConfig(current)
		log.Info("TLS configured", zap.Int("configurators", applied))
	}
	return applied
}

// ErrNilConfig is reported when a configurator returns no configuration.
var ErrNilConfig = errors.New("configurator returned nil tls config")

func configure(c Configurator, base *tls.Config, cfg config.ServerConfig) (out *tls.Config, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("configurator panicked: %v", r)
		}
	}()
	// each configurator works on its own copy
	var in *tls.Config
	if base != nil {
		in = base.Clone()
	}
	out, err = c.Configure(in, cfg)
	if err == nil && out == nil {
		err = ErrNilConfig
	}
	return out, err
}
