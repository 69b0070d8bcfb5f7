// Package logging builds the process logger and bridges the standard
// library and gin loggers onto it.
package logging

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level: debug, info, warn, error
	Level string `yaml:"level" envconfig:"LEVEL"`
	// Format is the output format: json or text
	Format string `yaml:"format" envconfig:"FORMAT"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
	}
}

// NewLogger creates a new zap logger based on the configuration
func NewLogger(cfg Config) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(ParseLevel(cfg.Level))

	return zapCfg.Build()
}

// ParseLevel converts a string level to zapcore.Level
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// LevelString converts a zapcore.Level to its string representation
func LevelString(level zapcore.Level) string {
	switch level {
	case zap.DebugLevel:
		return "debug"
	case zap.WarnLevel:
		return "warn"
	case zap.ErrorLevel:
		return "error"
	default:
		return "info"
	}
}

// Bridge routes the standard library logger, the zap globals and gin's
// route debug output to logger. The returned func restores the previous
// state.
func Bridge(logger *zap.Logger) func() {
	restoreGlobals := zap.ReplaceGlobals(logger)
	restoreStd := zap.RedirectStdLog(logger.Named("stdlog"))

	ginLogger := logger.Named("gin")
	prevRoute := gin.DebugPrintRouteFunc
	prevPrint := gin.DebugPrintFunc
	gin.DebugPrintRouteFunc = func(method, path, handler string, handlers int) {
		ginLogger.Debug("Route registered",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("handler", handler),
			zap.Int("handlers", handlers))
	}
	gin.DebugPrintFunc = func(format string, values ...interface{}) {
		ginLogger.Debug(strings.TrimSpace(fmt.Sprintf(format, values...)))
	}

	return func() {
		gin.DebugPrintRouteFunc = prevRoute
		gin.DebugPrintFunc = prevPrint
		restoreStd()
		restoreGlobals()
	}
}
