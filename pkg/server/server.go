// Package server runs one configured listener (HTTP, TCP or UDP) and binds
// handlers onto it.
//
// A Server is built from a config.ServerConfig, optionally decorated with a
// TLS configuration, bound with handlers and then started exactly once,
// either in the background (Start) or on the calling goroutine (StartBlocking).
// Configuration and registration calls made once the server has started are
// ignored.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-service-framework/pkg/config"
	"github.com/sirosfoundation/go-service-framework/pkg/handler"
	"github.com/sirosfoundation/go-service-framework/pkg/middleware"
)

var (
	// ErrInvalidTransport is returned by New for an unrecognized transport.
	ErrInvalidTransport = errors.New("invalid transport type")
	// ErrMixedBindingMode is returned when reflective and explicit handlers
	// are registered on the same HTTP server.
	ErrMixedBindingMode = errors.New("use both reflective (REST controller) and explicit (register) binding on one server is not allowed")
	// ErrStartTimeout is returned when binding takes longer than the start timeout.
	ErrStartTimeout = errors.New("server start timed out")
	// ErrAlreadyStarted is returned by a second Start or StartBlocking.
	ErrAlreadyStarted = errors.New("server already started")
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics sets the collectors used when metrics are enabled. Without it
// a server with metrics enabled registers its own on a private registry.
func WithMetrics(m *middleware.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithCheckOrigin sets the origin check of websocket upgrades. The default
// accepts every origin.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) { s.checkOrigin = fn }
}

// WithTrustedProxies restricts which peers may set forwarded headers when
// forwarded headers are enabled.
func WithTrustedProxies(proxies []string) Option {
	return func(s *Server) { s.trustedProxies = proxies }
}

// Server is one configured listener.
type Server struct {
	cfg    config.ServerConfig
	logger *zap.Logger
	b      builder

	metrics        *middleware.Metrics
	checkOrigin    func(r *http.Request) bool
	trustedProxies []string

	mu        sync.Mutex
	state     State
	mode      BindingMode
	tlsConfig *tls.Config
	handlers  []string
	run       runner
	err       error

	bound    chan struct{} // closed once the bind attempt finished
	done     chan struct{} // closed on disposal
	stopOnce sync.Once
}

// New builds the server described by cfg. The listener builder is chosen by
// the transport kind and never changes afterwards.
func New(cfg config.ServerConfig, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: zap.NewNop(),
		bound:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, fn := range opts {
		fn(s)
	}
	s.logger = s.logger.Named("server").With(zap.String("server", cfg.Name))

	if cfg.Metrics && s.metrics == nil {
		s.metrics = middleware.NewMetrics(newPrivateRegistry())
	}

	switch cfg.Kind {
	case config.TransportHTTP:
		s.b = newHTTPBuilder(s)
	case config.TransportTCP:
		s.b = &tcpBuilder{}
	case config.TransportUDP:
		s.b = &udpBuilder{}
	default:
		return nil, fmt.Errorf("%w: server %q", ErrInvalidTransport, cfg.Name)
	}
	return s, nil
}

// Name returns the configured name.
func (s *Server) Name() string { return s.cfg.Name }

// Kind returns the transport kind.
func (s *Server) Kind() config.TransportKind { return s.b.kind() }

// Config returns the configuration the server was built from.
func (s *Server) Config() config.ServerConfig { return s.cfg }

// State returns the lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Running reports whether the server has started and is not yet disposed.
func (s *Server) Running() bool {
	st := s.State()
	return st.started() && st != StateDisposed
}

// BindingMode returns how HTTP handlers were bound.
func (s *Server) BindingMode() BindingMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Handlers returns the names of the handlers bound so far.
func (s *Server) Handlers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.handlers...)
}

// TLSConfig returns the TLS configuration applied at start, if any.
func (s *Server) TLSConfig() *tls.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tlsConfig
}

// SetTLSConfig replaces the TLS configuration. It is ignored once started
// and on UDP servers.
func (s *Server) SetTLSConfig(c *tls.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.started() {
		s.logger.Debug("Ignoring TLS configuration of a started server")
		return
	}
	if !s.b.kind().SupportsTLS() {
		s.logger.Warn("UDP server does not support TLS")
		return
	}
	s.tlsConfig = c
	if s.state == StateCreated {
		s.state = StateConfigured
	}
}

// RegisterHandler binds h onto the server. A handler with no surface for
// this transport is logged and ignored. Mixing reflective and explicit
// binding on an HTTP server fails with ErrMixedBindingMode.
func (s *Server) RegisterHandler(h handler.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.started() {
		s.logger.Debug("Ignoring handler registration on a started server",
			zap.String("handler", h.HandlerName()))
		return nil
	}

	bound, err := s.b.register(s, h)
	if err != nil {
		return fmt.Errorf("server %q: handler %q: %w", s.cfg.Name, h.HandlerName(), err)
	}
	if !bound {
		s.logger.Warn("Handler ignored, not compatible with transport",
			zap.String("handler", h.HandlerName()),
			zap.Stringer("transport", s.b.kind()))
		return nil
	}
	s.handlers = append(s.handlers, h.HandlerName())
	s.state = StateBound
	s.logger.Debug("Handler registered", zap.String("handler", h.HandlerName()))
	return nil
}

// Addr returns the bound address, or nil before binding.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return nil
	}
	return s.run.addr()
}

// Bound is closed once the bind attempt has finished, successfully or not.
func (s *Server) Bound() <-chan struct{} { return s.bound }

// Done is closed once the server is disposed or failed to bind.
func (s *Server) Done() <-chan struct{} { return s.done }

// Err returns the bind or serve error, if any.
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Wait blocks until the server is disposed or ctx ends and returns Err.
func (s *Server) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start binds and serves on a new goroutine and returns immediately. A zero
// timeout uses the configured start timeout. Bind failures are reported by
// Err and Wait.
func (s *Server) Start(ctx context.Context, timeout time.Duration) error {
	if err := s.beginStart(); err != nil {
		return err
	}
	go func() {
		if err := s.bindAndServe(ctx, timeout); err != nil {
			s.logger.Error("Server failed to start", zap.Error(err))
			return
		}
		s.logger.Info(s.startInfo(false))
	}()
	return nil
}

// StartBlocking binds on the calling goroutine, then waits until the server
// is disposed or ctx is cancelled. Cancellation disposes the server and is
// not an error.
func (s *Server) StartBlocking(ctx context.Context, timeout time.Duration) error {
	if err := s.beginStart(); err != nil {
		return err
	}
	if err := s.bindAndServe(ctx, timeout); err != nil {
		return err
	}
	s.logger.Info(s.startInfo(true))

	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.startTimeout(0))
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return s.Err()
	}
}

// Close disposes the server immediately. It is a no-op when the server
// never started.
func (s *Server) Close() error {
	return s.dispose(nil)
}

// Shutdown disposes the server, letting in-flight work finish until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.dispose(ctx)
}

func (s *Server) beginStart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.started() {
		return ErrAlreadyStarted
	}
	s.state = StateStarting
	return nil
}

func (s *Server) startTimeout(timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	if s.cfg.StartTimeout > 0 {
		return s.cfg.StartTimeout
	}
	return config.DefaultStartTimeout
}

type bindResult struct {
	run runner
	err error
}

func (s *Server) bindAndServe(ctx context.Context, timeout time.Duration) error {
	timeout = s.startTimeout(timeout)
	bindCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.mu.Lock()
	tlsConfig := s.tlsConfig
	s.mu.Unlock()

	results := make(chan bindResult, 1)
	go func() {
		r, err := s.b.bind(bindCtx, s, tlsConfig)
		results <- bindResult{run: r, err: err}
	}()

	var res bindResult
	select {
	case res = <-results:
	case <-bindCtx.Done():
		// release a listener that binds after the deadline
		go func() {
			if late := <-results; late.run != nil {
				_ = late.run.stop(nil)
			}
		}()
		if errors.Is(bindCtx.Err(), context.DeadlineExceeded) {
			res.err = fmt.Errorf("%w after %s", ErrStartTimeout, timeout)
		} else {
			res.err = bindCtx.Err()
		}
	}

	if res.err != nil {
		err := fmt.Errorf("server %q: bind %s: %w", s.cfg.Name, s.cfg.Address(), res.err)
		s.mu.Lock()
		s.err = err
		s.state = StateDisposed
		s.mu.Unlock()
		close(s.bound)
		close(s.done)
		return err
	}

	s.mu.Lock()
	s.run = res.run
	s.state = StateRunning
	s.mu.Unlock()
	close(s.bound)

	go func() {
		err := res.run.serve()
		s.mu.Lock()
		if err != nil && s.err == nil {
			s.err = err
		}
		s.state = StateDisposed
		s.mu.Unlock()
		close(s.done)
		if err != nil {
			s.logger.Error("Server stopped with error", zap.Error(err))
			return
		}
		s.logger.Info("Server disposed")
	}()
	return nil
}

func (s *Server) dispose(ctx context.Context) error {
	if !s.State().started() {
		return nil
	}
	<-s.bound

	s.mu.Lock()
	run := s.run
	s.mu.Unlock()
	if run == nil {
		return nil
	}

	var err error
	s.stopOnce.Do(func() {
		err = run.stop(ctx)
	})
	if ctx == nil {
		<-s.done
		return err
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (s *Server) startInfo(blocking bool) string {
	addr := s.cfg.Address()
	if a := s.Addr(); a != nil {
		addr = a.String()
	}
	marker := ""
	if blocking {
		marker = "{BLOCKING} "
	}
	return fmt.Sprintf("[SERVER] %s%s <%s> listen on %s", marker, s.cfg.Name, s.b.kind(), addr)
}
