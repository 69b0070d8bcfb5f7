// Package registry builds every configured server, binds the discovered
// handlers onto them and runs them.
//
// Lifecycle:
//
//	reg := registry.New(cfg, registry.WithLogger(logger), registry.WithCatalog(catalog))
//	if err := reg.Build(ctx); err != nil { ... }   // construct, configure TLS, bind handlers
//	err := reg.Start(ctx)                          // blocks on the last server
//	_ = reg.Shutdown(shutdownCtx)
//
// Servers start in sorted name order; all but the last start in the
// background and the last one blocks the caller.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-service-framework/pkg/config"
	"github.com/sirosfoundation/go-service-framework/pkg/discovery"
	"github.com/sirosfoundation/go-service-framework/pkg/handler"
	"github.com/sirosfoundation/go-service-framework/pkg/logging"
	"github.com/sirosfoundation/go-service-framework/pkg/middleware"
	"github.com/sirosfoundation/go-service-framework/pkg/plugin"
	"github.com/sirosfoundation/go-service-framework/pkg/plugins"
	"github.com/sirosfoundation/go-service-framework/pkg/plugins/migration"
	"github.com/sirosfoundation/go-service-framework/pkg/server"
	"github.com/sirosfoundation/go-service-framework/pkg/tlsconf"
)

var (
	// ErrNoServers is returned by Build when no server could be configured.
	ErrNoServers = errors.New("no servers configured")
	// ErrNotBuilt is returned by Start before a successful Build.
	ErrNotBuilt = errors.New("registry not built")
	// ErrAlreadyBuilt is returned by a second Build.
	ErrAlreadyBuilt = errors.New("registry already built")
)

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithCatalog sets the catalog handlers, TLS configurators and external
// plugins are discovered from. Defaults to discovery.Default().
func WithCatalog(c *discovery.Catalog) Option {
	return func(r *Registry) { r.catalog = c }
}

// WithResolver sets the plugin resolver. Defaults to a resolver on the
// registry's catalog.
func WithResolver(res *plugin.Resolver) Option {
	return func(r *Registry) { r.resolver = res }
}

// WithMetricsRegisterer sets where server metrics are registered.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(r *Registry) { r.registerer = reg }
}

// WithHandlers adds handlers to those discovered from the catalog.
func WithHandlers(hs ...handler.Handler) Option {
	return func(r *Registry) { r.extra = append(r.extra, hs...) }
}

// Registry owns the servers of one process.
type Registry struct {
	cfg        *config.Config
	logger     *zap.Logger
	catalog    *discovery.Catalog
	resolver   *plugin.Resolver
	registerer prometheus.Registerer
	extra      []handler.Handler

	mu             sync.RWMutex
	built          bool
	servers        map[string]*server.Server
	names          []string
	handlers       []handler.Handler
	restoreLogging func()
}

// New creates an unbuilt registry.
func New(cfg *config.Config, opts ...Option) *Registry {
	r := &Registry{
		cfg:     cfg,
		logger:  zap.NewNop(),
		servers: make(map[string]*server.Server),
	}
	for _, fn := range opts {
		fn(r)
	}
	if r.catalog == nil {
		r.catalog = discovery.Default()
	}
	if r.resolver == nil {
		r.resolver = plugin.NewResolver(r.catalog,
			plugin.WithLogger(r.logger),
			plugin.WithTTL(cfg.Plugins.CacheTTL))
	}
	return r
}

// Build constructs every server, applies TLS configurators, resolves the
// required plugins and binds handlers. It fails before any listener is
// bound when a server has an unknown transport or mixes binding modes.
func (r *Registry) Build(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.built {
		return ErrAlreadyBuilt
	}

	r.restoreLogging = logging.Bridge(r.logger)
	log := r.logger.Named("registry")

	handlers := append(discovery.CandidatesOf[handler.Handler](r.catalog), r.extra...)
	log.Info("Handlers discovered", zap.Int("count", len(handlers)))

	cfgs, mapErrs := r.cfg.ServerConfigs()
	for _, err := range mapErrs {
		log.Warn("Server configuration skipped", zap.Error(err))
	}
	if len(cfgs) == 0 {
		return ErrNoServers
	}

	var metrics *middleware.Metrics
	servers := make(map[string]*server.Server, len(cfgs))
	names := make([]string, 0, len(cfgs))
	for _, sc := range cfgs {
		opts := []server.Option{server.WithLogger(r.logger)}
		if sc.Metrics && r.registerer != nil {
			if metrics == nil {
				metrics = middleware.NewMetrics(r.registerer)
			}
			opts = append(opts, server.WithMetrics(metrics))
		}
		s, err := server.New(sc, opts...)
		if err != nil {
			return err
		}
		servers[sc.Name] = s
		names = append(names, sc.Name)
	}
	sort.Strings(names)

	configurators := tlsconf.Discover(r.catalog)
	for _, name := range names {
		s := servers[name]
		list := configurators
		if s.Config().HasTLS() {
			list = append([]tlsconf.Configurator{&tlsconf.FileConfigurator{Servers: []string{name}}}, configurators...)
		}
		tlsconf.ApplyAll(s, list, r.logger)
	}

	if err := r.initPlugins(ctx, log); err != nil {
		return err
	}
	for _, h := range handlers {
		if pc, ok := h.(handler.PluginConsumer); ok {
			pc.UsePlugins(r.resolver)
		}
	}

	for _, name := range names {
		s := servers[name]
		for _, h := range handlers {
			if !handler.Targets(h, name) {
				continue
			}
			if err := s.RegisterHandler(h); err != nil {
				return err
			}
		}
		log.Info("Server built",
			zap.String("server", name),
			zap.Stringer("transport", s.Kind()),
			zap.Strings("handlers", s.Handlers()),
			zap.Stringer("binding", s.BindingMode()))
	}

	r.servers = servers
	r.names = names
	r.handlers = handlers
	r.built = true
	return nil
}

func (r *Registry) initPlugins(ctx context.Context, log *zap.Logger) error {
	pc := r.cfg.Plugins
	if len(pc.Required) == 0 {
		return nil
	}
	caps, err := plugins.Required(pc, r.resolver, r.logger)
	if err != nil {
		return err
	}
	if err := r.resolver.Initialize(caps, pc.PreferExternal); err != nil {
		return fmt.Errorf("failed to initialize plugins: %w", err)
	}
	log.Info("Plugins initialized", zap.Strings("required", pc.Required), zap.Bool("prefer_external", pc.PreferExternal))

	if !pc.Migration.Enable {
		return nil
	}
	m, ok := plugin.Get[migration.Manager](r.resolver, pc.PreferExternal)
	if !ok {
		return nil
	}
	res, err := m.CreateAndUpdate(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	if res != nil {
		log.Info("Database migrated", zap.String("run_id", res.RunID), zap.Strings("applied", res.Applied))
	}
	return nil
}

// Start starts every server and blocks on the last one in sorted order
// until ctx is cancelled or it is disposed. A background server that fails
// to bind stops the start and disposes the servers already running.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.RLock()
	built, names := r.built, r.names
	r.mu.RUnlock()
	if !built {
		return ErrNotBuilt
	}

	last := len(names) - 1
	for _, name := range names[:last] {
		s := r.servers[name]
		if err := s.Start(ctx, 0); err != nil {
			r.stopAll()
			return err
		}
		select {
		case <-s.Bound():
		case <-ctx.Done():
			r.stopAll()
			return nil
		}
		if err := s.Err(); err != nil {
			r.stopAll()
			return err
		}
	}

	err := r.servers[names[last]].StartBlocking(ctx, 0)
	r.stopAll()
	return err
}

func (r *Registry) stopAll() {
	ctx, cancel := context.WithTimeout(context.Background(), config.DefaultStartTimeout)
	defer cancel()
	if err := r.stopServers(ctx); err != nil {
		r.logger.Warn("Server shutdown incomplete", zap.Error(err))
	}
}

func (r *Registry) stopServers(ctx context.Context) error {
	var errs []error
	for _, s := range r.Servers() {
		if err := s.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown disposes every server, closes the resolved plugins and restores
// the logging bridge.
func (r *Registry) Shutdown(ctx context.Context) error {
	err := r.stopServers(ctx)
	if cerr := r.resolver.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("plugins: %w", cerr))
	}

	r.mu.Lock()
	if r.restoreLogging != nil {
		r.restoreLogging()
		r.restoreLogging = nil
	}
	r.mu.Unlock()
	return err
}

// GetServer returns the server named name.
func (r *Registry) GetServer(name string) (*server.Server, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.servers[name]
	return s, ok
}

// Servers returns the servers in sorted name order.
func (r *Registry) Servers() []*server.Server {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*server.Server, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.servers[name])
	}
	return out
}

// Handlers returns the handlers bound at Build.
func (r *Registry) Handlers() []handler.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]handler.Handler(nil), r.handlers...)
}

// Resolver returns the plugin resolver.
func (r *Registry) Resolver() *plugin.Resolver { return r.resolver }

// WaitBound blocks until every server finished its bind attempt or ctx
// ends.
func (r *Registry) WaitBound(ctx context.Context) error {
	for _, s := range r.Servers() {
		select {
		case <-s.Bound():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// ServerStatus describes one server for status endpoints.
type ServerStatus struct {
	Name      string            `json:"name"`
	Transport string            `json:"transport"`
	State     string            `json:"state"`
	Binding   string            `json:"binding,omitempty"`
	Address   string            `json:"address"`
	TLS       bool              `json:"tls"`
	Handlers  []string          `json:"handlers"`
	Routes    []server.Endpoint `json:"routes,omitempty"`
}

// Status reports every server.
func (r *Registry) Status() []ServerStatus {
	servers := r.Servers()
	out := make([]ServerStatus, 0, len(servers))
	for _, s := range servers {
		st := ServerStatus{
			Name:      s.Name(),
			Transport: s.Kind().String(),
			State:     s.State().String(),
			Address:   s.Config().Address(),
			TLS:       s.TLSConfig() != nil,
			Handlers:  s.Handlers(),
			Routes:    s.Endpoints(),
		}
		if s.Kind() == config.TransportHTTP {
			st.Binding = s.BindingMode().String()
		}
		if a := s.Addr(); a != nil {
			st.Address = a.String()
		}
		out = append(out, st)
	}
	return out
}
