package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rendezvous/internal/core/ports"
	"rendezvous/internal/core/services"
	httphandlers "rendezvous/internal/handlers/http"
	"rendezvous/internal/infrastructure/middleware"
	"rendezvous/internal/infrastructure/monitoring"
	"rendezvous/internal/infrastructure/repositories"
	"rendezvous/internal/infrastructure/scheduler"
	signalinfra "rendezvous/internal/infrastructure/signal"
	"rendezvous/pkg/config"
	"rendezvous/pkg/logger"
	"rendezvous/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var configPaths = []string{
	"configs/config.yaml",
	"/etc/rendezvous/config.yaml",
	"config.yaml",
}

func loadConfig() (*config.Config, string, error) {
	for _, path := range configPaths {
		if _, err := os.Stat(path); err == nil {
			cfg, err := config.Load(path)
			return cfg, path, err
		}
	}
	// no file: defaults plus environment overrides
	cfg, err := config.Load("")
	return cfg, "", err
}

func main() {
	cfg, configPath, err := loadConfig()
	if err != nil {
		logger.New("info").Sugar().Fatalw("failed to load configuration", "error", err)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if configPath != "" {
		log.Infow("loaded configuration", "path", configPath)
	} else {
		log.Info("no configuration file found, using defaults")
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	mirror := repoFactory.CreatePresenceMirror(context.Background())

	var metrics *monitoring.PrometheusCollector
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	}

	wsServer := signalinfra.NewWebSocketServer(signalinfra.Options{
		PingInterval:      cfg.Signal.PingInterval,
		PongTimeout:       cfg.Signal.PongTimeout,
		WriteTimeout:      cfg.Signal.WriteTimeout,
		SendBufferSize:    cfg.Signal.SendBufferSize,
		AllowedOrigins:    cfg.Signal.AllowedOrigins,
		MaxMessageSize:    cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		MessagesPerSecond: websocketRate(cfg),
		MessageBurst:      cfg.RateLimiting.WebSocket.Burst,
		MaxConnections:    cfg.RateLimiting.WebSocket.MaxConcurrent,
	}, log.Named("transport"))

	session := services.NewSessionService(
		repoFactory.CreateConnectionRepository(),
		repoFactory.CreateIdentityRegistry(),
		wsServer,
		mirror,
		services.LivenessConfig{
			StaleThreshold:  cfg.Liveness.StaleThreshold,
			IdleGrace:       cfg.Liveness.IdleGrace,
			TouchOnActivity: cfg.Liveness.TouchOnActivity,
		},
		metricsRecorder(metrics),
		log.Named("session"),
	)
	wsServer.SetHandler(session)

	sweeper := scheduler.NewSweepScheduler(session, scheduler.Config{Interval: cfg.Liveness.SweepInterval}, log.Named("sweep"))
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go sweeper.Start(sweepCtx)

	health := monitoring.NewHealthChecker()
	health.AddSessionCheck(session)
	if client := repoFactory.RedisClient(); client != nil {
		health.AddRedisCheck(client, 2*time.Second)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestLoggerMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.TracingMiddleware(),
		middleware.CORSMiddleware(cfg.Signal.AllowedOrigins),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)

	router.GET(cfg.Signal.Path, gin.WrapF(wsServer.HandleWebSocket))
	httphandlers.NewSignalHandler(session, health).SetupRoutes(router)

	if cfg.Monitoring.PrometheusEnabled {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
		log.Infow("prometheus metrics enabled", "path", cfg.Monitoring.MetricsPath)
	}
	if cfg.Static.Dir != "" {
		router.NoRoute(gin.WrapH(http.FileServer(http.Dir(cfg.Static.Dir))))
		log.Infow("serving static files", "dir", cfg.Static.Dir)
	}

	srv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout stays unset: it would cut long-lived WebSocket connections.
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("signaling server listening", "address", cfg.Server.Address, "path", cfg.Signal.Path)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	stopSweep()
	sweeper.Stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Warnw("websocket connections did not close in time", "error", err)
	}
	if err := mirror.Close(); err != nil {
		log.Errorw("error closing presence mirror", "error", err)
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracer provider", "error", err)
	}

	log.Info("signaling server stopped")
}

// websocketRate returns the per-connection message rate, or 0 when rate
// limiting is off.
func websocketRate(cfg *config.Config) float64 {
	if !cfg.RateLimiting.Enabled {
		return 0
	}
	return cfg.RateLimiting.WebSocket.MessagesPerSecond
}

// metricsRecorder keeps a nil collector from becoming a non-nil interface.
func metricsRecorder(c *monitoring.PrometheusCollector) ports.MetricsRecorder {
	if c == nil {
		return nil
	}
	return c
}
