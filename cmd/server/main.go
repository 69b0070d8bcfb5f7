package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-service-framework/internal/admin"
	"github.com/sirosfoundation/go-service-framework/internal/demo"
	"github.com/sirosfoundation/go-service-framework/pkg/config"
	"github.com/sirosfoundation/go-service-framework/pkg/discovery"
	"github.com/sirosfoundation/go-service-framework/pkg/logging"
	"github.com/sirosfoundation/go-service-framework/pkg/registry"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")
	withDemo   = flag.Bool("demo", false, "Register the demo handlers")
	echoOn     = flag.String("echo-on", "", "Comma-separated HTTP servers for the demo echo controller")
	indexOn    = flag.String("index-on", "", "Comma-separated HTTP servers for the demo index")
	validate   = flag.Bool("validate", false, "Validate the configuration and exit")
	version    = "dev"
	buildTime  = "unknown"
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *validate {
		if _, errs := cfg.ServerConfigs(); len(errs) > 0 {
			log.Fatalf("Invalid configuration: %v", errors.Join(errs...))
		}
		log.Printf("Configuration OK: %d server(s)", len(cfg.Servers))
		return
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting service framework",
		zap.String("version", version),
		zap.String("build_time", buildTime),
		zap.Strings("servers", cfg.ServerNames()),
	)

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	catalog := discovery.NewCatalog(logger)
	if *withDemo {
		demo.Register(catalog, demo.Targets{
			Echo:  splitList(*echoOn),
			Index: splitList(*indexOn),
		})
	}

	reg := registry.New(cfg,
		registry.WithLogger(logger),
		registry.WithCatalog(catalog),
		registry.WithMetricsRegisterer(metrics),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := reg.Build(ctx); err != nil {
		logger.Fatal("Failed to build servers", zap.Error(err))
	}

	// Start admin server on separate port (if configured)
	var adminSrv *admin.Server
	if cfg.Admin.Port > 0 {
		adminSrv, err = admin.New(cfg.Admin, reg, metrics, logger)
		if err != nil {
			logger.Fatal("Failed to create admin server", zap.Error(err))
		}
		if err := adminSrv.Start(ctx); err != nil {
			logger.Fatal("Failed to start admin server", zap.Error(err))
		}
	}

	// Blocks until a signal arrives or a server fails
	runErr := reg.Start(ctx)
	if runErr != nil {
		logger.Error("Server failed", zap.Error(runErr))
	}

	logger.Info("Shutting down...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if adminSrv != nil {
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Admin server forced to shutdown", zap.Error(err))
		}
	}
	if err := reg.Shutdown(shutdownCtx); err != nil {
		logger.Error("Servers forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
	if runErr != nil {
		os.Exit(1)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
