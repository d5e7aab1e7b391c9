package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/outage-watch/internal/api"
	"github.com/miradorstack/outage-watch/internal/cache"
	"github.com/miradorstack/outage-watch/internal/config"
	"github.com/miradorstack/outage-watch/internal/detector"
	"github.com/miradorstack/outage-watch/internal/engine"
	"github.com/miradorstack/outage-watch/internal/fetcher"
	"github.com/miradorstack/outage-watch/internal/history"
	"github.com/miradorstack/outage-watch/internal/httpapi"
	"github.com/miradorstack/outage-watch/internal/metrics"
	"github.com/miradorstack/outage-watch/internal/models"
	"github.com/miradorstack/outage-watch/internal/narrative"
	"github.com/miradorstack/outage-watch/internal/notifier"
	"github.com/miradorstack/outage-watch/internal/services"
	"github.com/miradorstack/outage-watch/internal/utils"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)
	logger.Info("starting outage-watch",
		slog.String("version", version),
		slog.String("grpc_address", cfg.Server.Address),
		slog.String("http_address", cfg.Server.HTTPAddress),
		slog.Int("services", len(cfg.Scraper.Services)),
	)

	recorder, err := metrics.NewRecorder(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cacheProvider := buildCache(ctx, cfg, logger)
	defer cacheProvider.Close()

	provider, err := narrative.NewProviderFromConfig(cfg.Narrative)
	if err != nil {
		logger.Error("invalid narrative configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if provider == nil {
		logger.Info("narrative generation disabled")
	}
	generator := narrative.NewGenerator(provider, cacheProvider, narrative.GeneratorOptions{
		Language:    cfg.Narrative.Language,
		EnableCache: cfg.Narrative.EnableCache,
		CacheTTL:    cfg.Narrative.CacheTTL,
	}, logger)

	changeHistory := history.NewStore(cfg.History.Retention, cfg.History.MaxEvents)
	notifiers := []engine.Notifier{changeHistory}

	var hub *notifier.Hub
	if cfg.WebSocket.Enabled {
		hub = notifier.NewHub(notifier.HubOptions{
			WriteTimeout:   cfg.WebSocket.WriteTimeout,
			PingInterval:   cfg.WebSocket.PingInterval,
			SendBuffer:     cfg.WebSocket.SendBuffer,
			AllowedOrigins: cfg.WebSocket.AllowedOrigins,
		}, logger)
		defer hub.Close()
		notifiers = append(notifiers, hub)
	}
	if cfg.Email.Enabled {
		notifiers = append(notifiers, notifier.NewEmailNotifier(cfg.Email, logger))
	}
	if cfg.NATS.Enabled {
		natsNotifier, err := notifier.NewNATSNotifier(cfg.NATS, logger)
		if err != nil {
			logger.Warn("nats unavailable, continuing without it", slog.Any("error", err))
		} else {
			defer natsNotifier.Close()
			notifiers = append(notifiers, natsNotifier)
		}
	}

	det := detector.NewDetector(logger, detector.NewClassifier(cfg.Detector.ReportCountThreshold), detector.NewStateStore())
	orchestrator := engine.NewOrchestrator(
		logger,
		fetcher.NewStatusPageFetcher(cfg.Scraper.BaseURL, cfg.Scraper.UserAgent, cfg.Scraper.Timeout, logger),
		det,
		generator,
		notifiers,
		recorder,
		engine.CycleOptions{
			Services:      cfg.Scraper.Services,
			RetryAttempts: cfg.Scraper.RetryAttempts,
			RetryDelay:    cfg.Scraper.RetryDelay,
			Concurrency:   cfg.Scraper.Concurrency,
		},
	)

	var grpcServer *api.Server
	var scheduler *engine.Scheduler
	scheduler = engine.NewScheduler(orchestrator, cfg.Scraper.Interval, func(models.CycleReport) {
		if grpcServer != nil {
			grpcServer.ObserveFailures(scheduler.ConsecutiveFailures())
		}
	}, logger)

	statusService := services.NewStatusService(logger, det.Store(), changeHistory, scheduler, recorder, services.Options{
		Version:        version,
		Services:       cfg.Scraper.Services,
		UnhealthyAfter: cfg.Server.UnhealthyAfter,
	})

	grpcServer, err = api.NewServer(cfg.Server, api.NewHandler(logger, statusService))
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	routerOpts := httpapi.Options{
		Logger:    logger,
		Service:   statusService,
		RateLimit: cfg.RateLimit,
		Metrics:   promhttp.Handler(),
	}
	if hub != nil {
		routerOpts.Hub = hub
	}
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddress,
		Handler:           httpapi.NewRouter(routerOpts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		logger.Info("http server listening", slog.String("address", cfg.Server.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", slog.Any("error", err))
			stop()
		}
	}()

	go func() {
		if serveErr := grpcServer.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	scheduler.Start(ctx)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	scheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()

	waited := make(chan struct{})
	go func() {
		scheduler.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-shutdownCtx.Done():
		logger.Warn("in-flight cycle did not finish before the graceful timeout")
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}
	grpcServer.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("outage-watch stopped")
}

// buildCache returns the narrative cache: Redis when configured and reachable,
// in-memory when narrative caching is on, otherwise a no-op.
func buildCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) cache.Provider {
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		provider, err := cache.NewRedisProvider(pingCtx, cache.RedisConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err == nil {
			logger.Info("redis cache connected", slog.String("addr", cfg.Cache.Addr))
			return provider
		}
		logger.Warn("redis cache unavailable, falling back", slog.Any("error", err))
	}
	if cfg.Narrative.EnableCache {
		return cache.NewMemoryProvider()
	}
	return cache.NoopProvider{}
}
