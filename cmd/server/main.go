package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-hello-listeners/internal/hello"
	"github.com/sirosfoundation/go-hello-listeners/internal/metrics"
	"github.com/sirosfoundation/go-hello-listeners/internal/server"
	"github.com/sirosfoundation/go-hello-listeners/pkg/config"
	"github.com/sirosfoundation/go-hello-listeners/pkg/logging"
	"github.com/sirosfoundation/go-hello-listeners/pkg/middleware"
	"github.com/sirosfoundation/go-hello-listeners/pkg/tlsmaterial"
)

var (
	configFile = flag.String("config", "configs/hello.yaml", "Path to configuration file")
	version    = "dev"
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Debug("starting hello-server", zap.String("version", version))

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("hello-server failed", zap.Error(err))
	}

	logger.Info("Server exited")
}

// run loads TLS material, starts every listener and serves until ctx is
// done or a listener fails. TLS material is loaded before anything binds.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	specs := server.SpecsFromConfig(cfg.Listeners)

	var tlsConfig *tls.Config
	if needsTLS(specs) {
		var err error
		tlsConfig, err = tlsmaterial.Load(cfg.TLS)
		if err != nil {
			return fmt.Errorf("failed to load TLS material: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	limiter := middleware.NewPeerRateLimiter(cfg.RateLimit, logger)

	handlers := func(p server.Protocol) http.Handler {
		return hello.NewRouter(string(p), logger,
			hello.WithMiddleware(m.Middleware(string(p)), middleware.RateLimit(limiter)),
		)
	}

	listeners := server.NewListenerSet(specs, tlsConfig, handlers, server.Options{
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		HTTP2:             cfg.TLS.HTTP2,
		Observer:          m,
	}, logger)

	if err := listeners.Start(ctx); err != nil {
		return fmt.Errorf("failed to start listeners: %w", err)
	}

	var metricsSrv *http.Server
	if cfg.Metrics.MetricsEnabled() {
		metricsSrv = startMetricsServer(cfg.Metrics, m, logger)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- listeners.Wait() }()

	var failed error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down listeners...")
	case err := <-serveErr:
		if err != nil {
			failed = fmt.Errorf("listener failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := listeners.Shutdown(shutdownCtx); err != nil {
		logger.Error("Listeners forced to shutdown", zap.Error(err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server forced to shutdown", zap.Error(err))
		}
	}

	return failed
}

func needsTLS(specs []server.Spec) bool {
	for _, s := range specs {
		if s.Protocol == server.ProtocolHTTPS {
			return true
		}
	}
	return false
}

func startMetricsServer(cfg config.MetricsConfig, m *metrics.Metrics, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	addr := net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Info(fmt.Sprintf("metrics listening (%s)", addr), zap.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start metrics server", zap.Error(err))
		}
	}()

	return srv
}
