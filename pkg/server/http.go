package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-service-framework/pkg/config"
	"github.com/sirosfoundation/go-service-framework/pkg/handler"
	"github.com/sirosfoundation/go-service-framework/pkg/middleware"
)

// ErrNotInvocable is returned by APIDescriptor.Invoke for websocket routes.
var ErrNotInvocable = errors.New("route is not a request/response handler")

// APIDescriptor is one entry of the route table built from REST controllers.
type APIDescriptor struct {
	Owner  string
	Name   string
	Verb   handler.Verb
	Path   string
	handle any
}

// Invoke calls the route's handler directly, bypassing the router.
func (d APIDescriptor) Invoke(r *http.Request, w http.ResponseWriter) error {
	fn, ok := d.handle.(handler.HandlerFunc)
	if !ok {
		return ErrNotInvocable
	}
	return fn(r, w)
}

// Endpoint is a method and path served by an HTTP server, whatever the
// binding mode.
type Endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

type routeKey struct {
	method string
	path   string
}

type httpBuilder struct {
	engine   *gin.Engine
	upgrader websocket.Upgrader
	routes   []APIDescriptor
	seen     map[routeKey]struct{}
}

func newHTTPBuilder(s *Server) *httpBuilder {
	engine := gin.New()
	engine.ForwardedByClientIP = s.cfg.Forwarded
	if s.cfg.Forwarded && s.trustedProxies != nil {
		if err := engine.SetTrustedProxies(s.trustedProxies); err != nil {
			s.logger.Warn("Invalid trusted proxies", zap.Error(err))
		}
	}

	engine.Use(gin.CustomRecovery(func(c *gin.Context, err any) {
		s.logger.Error("Handler panicked",
			zap.String("path", c.Request.URL.Path),
			zap.Any("panic", err))
		c.AbortWithStatus(http.StatusInternalServerError)
	}))
	engine.Use(middleware.RequestID())
	if s.metrics != nil {
		engine.Use(s.metrics.HTTP(s.cfg.Name))
	}
	if s.cfg.Wiretap {
		engine.Use(middleware.Wiretap(s.logger.Named("wiretap")))
	}
	engine.Use(middleware.Logger(s.logger))

	checkOrigin := s.checkOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &httpBuilder{
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		seen: make(map[routeKey]struct{}),
	}
}

func (b *httpBuilder) kind() config.TransportKind { return config.TransportHTTP }

func (b *httpBuilder) register(s *Server, h handler.Handler) (bool, error) {
	switch v := h.(type) {
	case handler.RESTController:
		return true, b.bindController(s, v)
	case handler.HTTPRegistrar:
		return true, b.bindExplicit(s, v)
	}
	return false, nil
}

// normalize maps a route's Handle onto the named handler func types.
func normalize(fn any) (any, bool) {
	switch f := fn.(type) {
	case handler.HandlerFunc:
		return f, f != nil
	case func(*http.Request, http.ResponseWriter) error:
		return handler.HandlerFunc(f), f != nil
	case handler.WebsocketFunc:
		return f, f != nil
	case func(*handler.WebsocketInbound, *handler.WebsocketOutbound) error:
		return handler.WebsocketFunc(f), f != nil
	}
	return nil, false
}

func (b *httpBuilder) bindController(s *Server, c handler.RESTController) error {
	log := s.logger.With(zap.String("handler", c.HandlerName()))

	var qualifying []handler.Route
	for _, r := range c.Routes() {
		fn, ok := normalize(r.Handle)
		if !ok {
			log.Warn("Route ignored, unrecognized handler contract",
				zap.String("route", r.Name),
				zap.String("type", fmt.Sprintf("%T", r.Handle)))
			continue
		}
		r.Handle = fn
		qualifying = append(qualifying, r)
	}
	if len(qualifying) == 0 {
		log.Warn("REST controller has no qualifying routes")
		return nil
	}
	if s.mode == BindingExplicit {
		return ErrMixedBindingMode
	}

	s.mode = BindingReflective
	for _, r := range qualifying {
		b.addRoute(s, log, c, r)
	}
	return nil
}

func (b *httpBuilder) addRoute(s *Server, log *zap.Logger, c handler.RESTController, r handler.Route) {
	log = log.With(zap.String("route", r.Name), zap.Stringer("verb", r.Verb))

	path, err := JoinPath(c.Prefix(), r.Path)
	if err != nil {
		log.Warn("Route ignored, no valid path", zap.String("prefix", c.Prefix()), zap.String("path", r.Path))
		return
	}
	if !r.Verb.Valid() {
		log.Warn("Route ignored, invalid verb", zap.String("path", path))
		return
	}

	var h gin.HandlerFunc
	switch fn := r.Handle.(type) {
	case handler.HandlerFunc:
		if r.Verb == handler.VerbWebsocket {
			log.Warn("Route ignored, invalid websocket handler", zap.String("path", path))
			return
		}
		h = b.serveHTTP(s, fn)
	case handler.WebsocketFunc:
		if r.Verb != handler.VerbWebsocket {
			log.Warn("Route ignored, websocket handler on a non-websocket verb", zap.String("path", path))
			return
		}
		h = b.serveWebsocket(s, fn)
	}

	key := routeKey{method: r.Verb.Method(), path: path}
	if _, dup := b.seen[key]; dup {
		log.Warn("Route ignored, duplicate", zap.String("path", path))
		return
	}
	if err := handle(b.engine, key.method, path, h); err != nil {
		log.Warn("Route ignored, rejected by router", zap.String("path", path), zap.Error(err))
		return
	}
	b.seen[key] = struct{}{}
	b.routes = append(b.routes, APIDescriptor{
		Owner:  c.HandlerName(),
		Name:   r.Name,
		Verb:   r.Verb,
		Path:   path,
		handle: r.Handle,
	})
	log.Debug("Route registered", zap.String("path", path))
}

// handle adds a route, turning router panics (conflicting wildcards,
// duplicates) into errors.
func handle(routes gin.IRoutes, method, path string, h gin.HandlerFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	routes.Handle(method, path, h)
	return nil
}

func (b *httpBuilder) bindExplicit(s *Server, r handler.HTTPRegistrar) (err error) {
	if s.mode == BindingReflective {
		return ErrMixedBindingMode
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("register panicked: %v", p)
		}
	}()
	r.Register(b.engine)
	s.mode = BindingExplicit
	return nil
}

func (b *httpBuilder) serveHTTP(s *Server, fn handler.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := fn(c.Request, c.Writer); err != nil {
			b.fail(s, c, err)
		}
	}
}

func (b *httpBuilder) serveWebsocket(s *Server, fn handler.WebsocketFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := b.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// the upgrader has already replied
			_ = c.Error(err)
			return
		}
		defer conn.Close()

		in, out := handler.NewWebsocket(conn, c.Request)
		if err := fn(in, out); err != nil && !handler.IsClosed(err) {
			_ = c.Error(err)
			if s.metrics != nil {
				s.metrics.HandlerError(s.cfg.Name, "websocket")
			}
			_ = out.Close(websocket.CloseInternalServerErr, "internal error")
		}
	}
}

// fail turns a handler error into a failed response.
func (b *httpBuilder) fail(s *Server, c *gin.Context, err error) {
	_ = c.Error(err)
	if s.metrics != nil {
		s.metrics.HandlerError(s.cfg.Name, "http")
	}
	if c.Writer.Written() {
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": http.StatusText(http.StatusInternalServerError)})
}

func (b *httpBuilder) bind(ctx context.Context, s *Server, tlsConfig *tls.Config) (runner, error) {
	h, err := b.handler(s)
	if err != nil {
		return nil, err
	}
	ln, err := listen(ctx, s.cfg.Address(), tlsConfig)
	if err != nil {
		return nil, err
	}
	return &httpRunner{
		ln: ln,
		srv: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 15 * time.Second,
			IdleTimeout:       60 * time.Second,
			ErrorLog:          zap.NewStdLog(s.logger),
		},
	}, nil
}

func (b *httpBuilder) handler(s *Server) (http.Handler, error) {
	if s.cfg.Compress <= 0 {
		return b.engine, nil
	}
	wrap, err := gzhttp.NewWrapper(gzhttp.MinSize(s.cfg.Compress))
	if err != nil {
		return nil, fmt.Errorf("compression: %w", err)
	}
	gz := wrap(b.engine)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			b.engine.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	}), nil
}

type httpRunner struct {
	srv *http.Server
	ln  net.Listener
}

func (r *httpRunner) addr() net.Addr { return r.ln.Addr() }

func (r *httpRunner) serve() error {
	if err := r.srv.Serve(r.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (r *httpRunner) stop(ctx context.Context) error {
	var err error
	if ctx == nil {
		err = r.srv.Close()
	} else {
		err = r.srv.Shutdown(ctx)
	}
	_ = r.ln.Close()
	return err
}

// Routes returns the route table built from REST controllers, in
// registration order.
func (s *Server) Routes() []APIDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.b.(*httpBuilder)
	if !ok {
		return nil
	}
	return append([]APIDescriptor(nil), b.routes...)
}

// Endpoints returns every route served by an HTTP server, including those
// registered explicitly.
func (s *Server) Endpoints() []Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.b.(*httpBuilder)
	if !ok {
		return nil
	}
	infos := b.engine.Routes()
	out := make([]Endpoint, 0, len(infos))
	for _, ri := range infos {
		out = append(out, Endpoint{Method: ri.Method, Path: ri.Path})
	}
	return out
}

// Handler returns the HTTP handler of an HTTP server, or nil. Useful for
// serving a server's routes without binding it, e.g. under httptest.
func (s *Server) Handler() http.Handler {
	b, ok := s.b.(*httpBuilder)
	if !ok {
		return nil
	}
	h, err := b.handler(s)
	if err != nil {
		return b.engine
	}
	return h
}
