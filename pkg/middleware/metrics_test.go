package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_HTTP(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	router := gin.New()
	router.Use(m.HTTP("api"))
	router.GET("/echo", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/echo", nil))
	}
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("api", "GET", "/echo", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("api", "GET", "unmatched", "404")))
}

func TestMetrics_Streams(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ConnectionOpened("echo")
	m.ConnectionOpened("echo")
	m.ConnectionClosed("echo")
	m.BytesReceived("echo", 10)
	m.DatagramReceived("beacon", 5)
	m.HandlerError("beacon", "udp")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionsTotal.WithLabelValues("echo")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeConnections.WithLabelValues("echo")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.bytesReceived.WithLabelValues("echo", "tcp")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.bytesReceived.WithLabelValues("beacon", "udp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.datagramsTotal.WithLabelValues("beacon")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.handlerErrors.WithLabelValues("beacon", "udp")))
}
