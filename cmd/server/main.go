package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/aaronlmathis/voltwatch/internal/alerts"
	"github.com/aaronlmathis/voltwatch/internal/api"
	"github.com/aaronlmathis/voltwatch/internal/config"
	"github.com/aaronlmathis/voltwatch/internal/dashboard"
	"github.com/aaronlmathis/voltwatch/internal/fetch"
	"github.com/aaronlmathis/voltwatch/internal/logging"
	"github.com/aaronlmathis/voltwatch/internal/version"
	"github.com/aaronlmathis/voltwatch/internal/ws"
)

func main() {
	// A missing .env is fine
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Log startup information
	info := version.Get()
	logger.Info("Starting voltwatch",
		zap.String("version", info.Version),
		zap.String("gitCommit", info.GitCommit),
		zap.String("buildDate", info.BuildDate),
		zap.String("goVersion", info.GoVersion),
		zap.String("addr", cfg.Server.Addr),
		zap.String("upstream", cfg.Upstream.BaseURL),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
	logger.Info("Server exited")
}

func run(ctx context.Context, logger *zap.Logger, cfg *config.Config) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	cache, closeCache, err := newCache(ctx, logger, cfg.Cache)
	if err != nil {
		return err
	}
	defer closeCache()

	client, err := fetch.NewClient(ctx, logger, fetch.Config{
		BaseURL:       cfg.Upstream.BaseURL,
		DevicesPath:   cfg.Upstream.DevicesPath,
		TelemetryPath: cfg.Upstream.TelemetryPath,
		Timeout:       config.Duration(cfg.Upstream.Timeout, 10*time.Second),
		RatePerSecond: cfg.Upstream.RatePerSecond,
		Burst:         cfg.Upstream.Burst,
		CacheTTL:      config.Duration(cfg.Cache.TTL, time.Minute),
		Auth: fetch.AuthConfig{
			Mode:         cfg.Auth.Mode,
			Token:        cfg.Auth.Token,
			Issuer:       cfg.Auth.Issuer,
			TokenURL:     cfg.Auth.TokenURL,
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			Scopes:       cfg.Auth.Scopes,
		},
	}, cache)
	if err != nil {
		return err
	}

	publisher, err := newPublisher(logger, cfg.Alerts)
	if err != nil {
		return err
	}
	notifier := alerts.NewNotifier(logger.Named("alerts"), publisher)
	defer notifier.Close()

	hub := ws.NewHub(logger.Named("ws"), cfg.Server.MaxWSConnections)
	go hub.Run(ctx)

	state := dashboard.NewState(dashboard.Selection{
		DeviceID: cfg.Dashboard.DefaultDevice,
		Window:   config.Duration(cfg.Dashboard.Window, 24*time.Hour),
		MinHour:  cfg.Dashboard.MinHour,
		MaxHour:  cfg.Dashboard.MaxHour,
	})
	svc := dashboard.NewService(logger, state, client,
		dashboard.WithNotifier(notifier),
		dashboard.WithBroadcaster(hub),
		dashboard.WithLocation(loc))

	poller := dashboard.NewPoller(logger, svc, config.Duration(cfg.Dashboard.PollInterval, time.Minute))
	poller.Start(ctx)
	defer poller.Stop()

	// Create API server
	apiServer := api.NewServer(logger, cfg, api.Dependencies{
		Dashboard: svc,
		Devices:   client,
		Readiness: client,
		Stream:    hub,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Server shutting down...", zap.String("signal", sig.String()))
	case err := <-serverErr:
		return fmt.Errorf("listen on %s: %w", cfg.Server.Addr, err)
	}

	// Give the server a maximum of 30 seconds to shutdown gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// newCache builds the configured payload cache and its cleanup func
func newCache(ctx context.Context, logger *zap.Logger, cfg config.CacheConfig) (fetch.Cache, func(), error) {
	switch cfg.Backend {
	case "redis":
		cache, err := fetch.NewRedisCache(ctx, fetch.RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.KeyPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using Redis payload cache", zap.String("addr", cfg.RedisAddr))
		return cache, func() { _ = cache.Close() }, nil
	case "memory":
		cache := fetch.NewMemoryCache(time.Minute)
		return cache, cache.Close, nil
	default:
		return fetch.NopCache{}, func() {}, nil
	}
}

// newPublisher builds the configured alert sink; nil discards alerts
func newPublisher(logger *zap.Logger, cfg config.AlertsConfig) (alerts.Publisher, error) {
	switch cfg.Sink {
	case "mqtt":
		return alerts.NewMQTTPublisher(logger.Named("mqtt"), alerts.MQTTConfig{
			Broker:      cfg.Broker,
			ClientID:    cfg.ClientID,
			Username:    cfg.Username,
			Password:    cfg.Password,
			TopicPrefix: cfg.TopicPrefix,
		})
	case "log":
		return alerts.NewLogPublisher(logger.Named("alerts")), nil
	default:
		return nil, nil
	}
}
