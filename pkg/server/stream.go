package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-service-framework/pkg/config"
	"github.com/sirosfoundation/go-service-framework/pkg/handler"
	"github.com/sirosfoundation/go-service-framework/pkg/middleware"
)

// MaxDatagramSize bounds the datagrams a UDP server reads.
const MaxDatagramSize = 64 * 1024

// ErrNoBroadcast is returned by PacketWriter.Broadcast on a server without
// broadcast configuration.
var ErrNoBroadcast = errors.New("broadcast not configured")

type tcpBuilder struct {
	handlers []handler.TCPHandler
}

func (b *tcpBuilder) kind() config.TransportKind { return config.TransportTCP }

func (b *tcpBuilder) register(_ *Server, h handler.Handler) (bool, error) {
	th, ok := h.(handler.TCPHandler)
	if !ok {
		return false, nil
	}
	b.handlers = append(b.handlers, th)
	return true, nil
}

func (b *tcpBuilder) bind(ctx context.Context, s *Server, tlsConfig *tls.Config) (runner, error) {
	ln, err := listen(ctx, s.cfg.Address(), tlsConfig)
	if err != nil {
		return nil, err
	}
	connCtx, cancel := context.WithCancel(context.Background())
	return &tcpRunner{
		s:        s,
		ln:       ln,
		handlers: append([]handler.TCPHandler(nil), b.handlers...),
		ctx:      connCtx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

type tcpRunner struct {
	s        *Server
	ln       net.Listener
	handlers []handler.TCPHandler
	ctx      context.Context
	cancel   context.CancelFunc

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func (r *tcpRunner) addr() net.Addr { return r.ln.Addr() }

func (r *tcpRunner) serve() error {
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		if !r.track(conn) {
			return nil
		}
		go r.handle(conn)
	}
}

// track registers conn with the runner. A connection accepted after stop
// is closed instead.
func (r *tcpRunner) track(conn net.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = conn.Close()
		return false
	}
	r.conns[conn] = struct{}{}
	r.wg.Add(1)
	return true
}

func (r *tcpRunner) untrack(conn net.Conn) {
	r.mu.Lock()
	delete(r.conns, conn)
	r.mu.Unlock()
}

func (r *tcpRunner) handle(conn net.Conn) {
	s := r.s
	defer r.wg.Done()
	defer r.untrack(conn)
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.ConnectionOpened(s.cfg.Name)
		defer s.metrics.ConnectionClosed(s.cfg.Name)
	}

	var src io.Reader = conn
	if s.metrics != nil {
		src = &countingReader{r: src, count: func(n int) { s.metrics.BytesReceived(s.cfg.Name, n) }}
	}
	if s.cfg.Wiretap {
		src = middleware.TapReader(src, s.logger.Named("wiretap"), conn.RemoteAddr().String())
	}
	tc := handler.NewTCPConn(conn, s.cfg.Name, src)

	for _, h := range r.handlers {
		if err := r.run(h, tc); err != nil {
			s.logger.Warn("TCP handler failed",
				zap.String("handler", h.HandlerName()),
				zap.String("peer", conn.RemoteAddr().String()),
				zap.Error(err))
			if s.metrics != nil {
				s.metrics.HandlerError(s.cfg.Name, "tcp")
			}
			return
		}
	}
}

func (r *tcpRunner) run(h handler.TCPHandler, conn *handler.TCPConn) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return h.HandleTCP(r.ctx, conn)
}

func (r *tcpRunner) stop(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	err := r.ln.Close()
	r.cancel()

	if ctx != nil {
		drained := make(chan struct{})
		go func() {
			r.wg.Wait()
			close(drained)
		}()
		select {
		case <-drained:
			return err
		case <-ctx.Done():
		}
	}

	r.mu.Lock()
	for conn := range r.conns {
		_ = conn.Close()
	}
	r.mu.Unlock()
	return err
}

type countingReader struct {
	r     io.Reader
	count func(int)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.count(n)
	}
	return n, err
}

type udpBuilder struct {
	handlers []handler.UDPHandler
}

func (b *udpBuilder) kind() config.TransportKind { return config.TransportUDP }

func (b *udpBuilder) register(_ *Server, h handler.Handler) (bool, error) {
	uh, ok := h.(handler.UDPHandler)
	if !ok {
		return false, nil
	}
	b.handlers = append(b.handlers, uh)
	return true, nil
}

func (b *udpBuilder) bind(ctx context.Context, s *Server, _ *tls.Config) (runner, error) {
	lc := net.ListenConfig{}
	var broadcast *net.UDPAddr
	if bc := s.cfg.Broadcast; bc != nil {
		broadcast = &net.UDPAddr{IP: net.ParseIP(bc.Addr), Port: bc.Port}
		lc.Control = broadcastControl(bc.TTL)
	}
	conn, err := lc.ListenPacket(ctx, "udp", s.cfg.Address())
	if err != nil {
		return nil, err
	}
	connCtx, cancel := context.WithCancel(context.Background())
	return &udpRunner{
		s:        s,
		conn:     conn,
		handlers: append([]handler.UDPHandler(nil), b.handlers...),
		writer:   &packetWriter{conn: conn, broadcast: broadcast},
		ctx:      connCtx,
		cancel:   cancel,
	}, nil
}

type udpRunner struct {
	s        *Server
	conn     net.PacketConn
	handlers []handler.UDPHandler
	writer   *packetWriter
	ctx      context.Context
	cancel   context.CancelFunc
}

func (r *udpRunner) addr() net.Addr { return r.conn.LocalAddr() }

func (r *udpRunner) serve() error {
	s := r.s
	buf := make([]byte, MaxDatagramSize)
	for {
		n, addr, err := r.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		packet := &handler.UDPPacket{
			Data:   append([]byte(nil), buf[:n]...),
			Addr:   addr,
			Server: s.cfg.Name,
		}
		if s.metrics != nil {
			s.metrics.DatagramReceived(s.cfg.Name, n)
		}
		if s.cfg.Wiretap {
			s.logger.Debug("Wiretap datagram",
				zap.String("peer", addr.String()),
				zap.Int("bytes", n),
				zap.ByteString("data", middleware.Truncate(packet.Data)))
		}
		r.dispatch(packet)
	}
}

func (r *udpRunner) dispatch(packet *handler.UDPPacket) {
	for _, h := range r.handlers {
		if err := r.run(h, packet); err != nil {
			r.s.logger.Warn("UDP handler failed",
				zap.String("handler", h.HandlerName()),
				zap.String("peer", packet.Addr.String()),
				zap.Error(err))
			if r.s.metrics != nil {
				r.s.metrics.HandlerError(r.s.cfg.Name, "udp")
			}
		}
	}
}

func (r *udpRunner) run(h handler.UDPHandler, packet *handler.UDPPacket) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return h.HandleUDP(r.ctx, packet, r.writer)
}

func (r *udpRunner) stop(context.Context) error {
	r.cancel()
	return r.conn.Close()
}

type packetWriter struct {
	conn      net.PacketConn
	broadcast *net.UDPAddr
}

func (w *packetWriter) WriteTo(p []byte, addr net.Addr) (int, error) {
	return w.conn.WriteTo(p, addr)
}

func (w *packetWriter) Broadcast(p []byte) (int, error) {
	if w.broadcast == nil {
		return 0, ErrNoBroadcast
	}
	return w.conn.WriteTo(p, w.broadcast)
}
