package middleware

import (
	"bytes"
	"io"
	"net/http/httputil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MaxWiretapBytes caps how much of a payload a wiretap dump logs
const MaxWiretapBytes = 4096

// Wiretap dumps every request and the response status at debug level
func Wiretap(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !logger.Core().Enabled(zap.DebugLevel) {
			c.Next()
			return
		}

		dump, err := httputil.DumpRequest(c.Request, true)
		if err != nil {
			logger.Debug("Wiretap dump failed", zap.Error(err))
		} else {
			logger.Debug("Wiretap request",
				zap.String("request_id", GetRequestID(c)),
				zap.ByteString("dump", Truncate(dump)))
		}

		c.Next()

		logger.Debug("Wiretap response",
			zap.String("request_id", GetRequestID(c)),
			zap.Int("status", c.Writer.Status()),
			zap.Int("size", c.Writer.Size()))
	}
}

// Truncate shortens b to MaxWiretapBytes
func Truncate(b []byte) []byte {
	if len(b) <= MaxWiretapBytes {
		return b
	}
	return b[:MaxWiretapBytes]
}

// TapReader wraps r so every read is logged at debug level with label
func TapReader(r io.Reader, logger *zap.Logger, label string) io.Reader {
	if !logger.Core().Enabled(zap.DebugLevel) {
		return r
	}
	return &tapReader{r: r, logger: logger, label: label}
}

type tapReader struct {
	r      io.Reader
	logger *zap.Logger
	label  string
}

func (t *tapReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		t.logger.Debug("Wiretap read",
			zap.String("peer", t.label),
			zap.Int("bytes", n),
			zap.ByteString("data", Truncate(bytes.Clone(p[:n]))))
	}
	return n, err
}
