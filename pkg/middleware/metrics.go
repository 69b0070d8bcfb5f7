package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every collector
const Namespace = "rsf"

// Metrics holds the collectors shared by every server of a process. Create
// it once per Registerer; collectors are labelled by server name.
type Metrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	connectionsTotal  *prometheus.CounterVec
	activeConnections *prometheus.GaugeVec
	datagramsTotal    *prometheus.CounterVec
	bytesReceived     *prometheus.CounterVec
	handlerErrors     *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"server", "method", "route", "status"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"server", "method", "route"}),

		connectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tcp_connections_total",
			Help:      "Total number of accepted TCP connections",
		}, []string{"server"}),

		activeConnections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "tcp_active_connections",
			Help:      "Number of open TCP connections",
		}, []string{"server"}),

		datagramsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "udp_datagrams_total",
			Help:      "Total number of received UDP datagrams",
		}, []string{"server"}),

		bytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "bytes_received_total",
			Help:      "Total number of bytes read from TCP connections and UDP datagrams",
		}, []string{"server", "transport"}),

		handlerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "handler_errors_total",
			Help:      "Total number of errors returned by handlers",
		}, []string{"server", "transport"}),
	}
}

// HTTP returns a gin middleware recording request count and latency for server
func (m *Metrics) HTTP(server string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requestsTotal.WithLabelValues(server, c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(server, c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// ConnectionOpened records an accepted TCP connection
func (m *Metrics) ConnectionOpened(server string) {
	m.connectionsTotal.WithLabelValues(server).Inc()
	m.activeConnections.WithLabelValues(server).Inc()
}

// ConnectionClosed records a closed TCP connection
func (m *Metrics) ConnectionClosed(server string) {
	m.activeConnections.WithLabelValues(server).Dec()
}

// DatagramReceived records an inbound UDP datagram of n bytes
func (m *Metrics) DatagramReceived(server string, n int) {
	m.datagramsTotal.WithLabelValues(server).Inc()
	m.bytesReceived.WithLabelValues(server, "udp").Add(float64(n))
}

// BytesReceived records n bytes read from a TCP connection
func (m *Metrics) BytesReceived(server string, n int) {
	m.bytesReceived.WithLabelValues(server, "tcp").Add(float64(n))
}

// HandlerError records an error returned by a handler
func (m *Metrics) HandlerError(server, transport string) {
	m.handlerErrors.WithLabelValues(server, transport).Inc()
}
