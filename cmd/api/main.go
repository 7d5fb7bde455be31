// Package main is the entry point for the Onstage live API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"

	"github.com/onstagehq/onstage/internal/api"
	"github.com/onstagehq/onstage/internal/auth"
	"github.com/onstagehq/onstage/internal/config"
	"github.com/onstagehq/onstage/internal/directory"
	"github.com/onstagehq/onstage/internal/health"
	"github.com/onstagehq/onstage/internal/live"
	"github.com/onstagehq/onstage/internal/middleware"
	"github.com/onstagehq/onstage/internal/moderation"
	"github.com/onstagehq/onstage/internal/presence"
	"github.com/onstagehq/onstage/internal/session"
	"github.com/onstagehq/onstage/internal/tracing"
	"github.com/onstagehq/onstage/internal/typing"
	"github.com/onstagehq/onstage/internal/viewership"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configFile := flag.String("config", "", "path to YAML config file (env vars take precedence)")
	flag.Parse()

	if *help {
		fmt.Println("Onstage Live API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configFile)
	if cfg == nil {
		for _, err := range errs {
			slog.Error("configuration error", "error", err)
		}
		os.Exit(1)
	}
	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("configuration error", "error", err)
		}
		os.Exit(1)
	}
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	provider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "onstage-live",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.TracingOTLPEndpoint,
		SamplingRate: cfg.TracingSamplingRate,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Postgres holds the participant directory and moderation state.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Redis holds all ephemeral presence, viewership, and typing state.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	dir := directory.NewPostgres(db, logger)
	tokens := auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret)

	registry := session.NewRegistry()
	rooms := presence.NewRedisTracker(redisClient, "room", cfg.PresenceTTL, cfg.StoreTimeout)
	segments := presence.NewRedisTracker(redisClient, "segment", cfg.PresenceTTL, cfg.StoreTimeout)
	viewers := viewership.NewTracker(segments, viewership.NewRedisStats(redisClient, cfg.StoreTimeout))
	typingTracker := typing.NewRedisTracker(redisClient, cfg.TypingTTL, cfg.TypingStaleness, cfg.StoreTimeout)
	gate := moderation.NewGate(dir, logger)

	promRegistry := prometheus.NewRegistry()
	liveMetrics := live.NewMetrics()
	if err := liveMetrics.Register(promRegistry); err != nil {
		logger.Error("failed to register live metrics", "error", err)
		os.Exit(1)
	}
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(promRegistry); err != nil {
		logger.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}

	gateway := live.NewGateway(
		registry,
		rooms,
		viewers,
		typingTracker,
		dir,
		gate,
		tokens,
		live.NewBroadcaster(),
		liveMetrics,
		logger,
	)

	wsHandler := live.NewHandler(gateway, dir, logger)
	roomHandlers := api.NewRoomHandlers(rooms, typingTracker, dir, tokens)
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:    health.NewDBChecker(db),
		RedisChecker: health.NewRedisChecker(redisClient),
	})

	// Connect attempts are rate limited per client IP; everything after the
	// upgrade rides the socket and needs no HTTP limiter.
	limiter := middleware.NewInMemoryRateLimitStore()
	connectLimit := middleware.RateLimiterWithMetrics(limiter, middleware.DefaultConnectLimit(), middleware.IPKeyFunc(), httpMetrics, "/ws")

	mux := http.NewServeMux()
	mux.Handle("/ws", connectLimit(wsHandler))
	mux.HandleFunc("GET /rooms/{id}/occupancy", roomHandlers.RoomOccupancy)
	mux.HandleFunc("GET /rooms/{id}/typists", roomHandlers.RoomTypists)
	mux.HandleFunc("GET /events/{id}/occupancy", roomHandlers.EventOccupancy)
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

	// Middleware chain: Profiling -> RequestID -> Tracing -> Logging -> HTTPMetrics
	var handler http.Handler = mux
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Tracing("onstage-live")(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Profiling(middleware.ProfilingConfig{
		Enabled:     cfg.Env == "development",
		Environment: cfg.Env,
	})(handler)

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Idle connections are swept on a fixed interval independent of any
	// single connection's lifecycle.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go gateway.RunIdleSweeper(sweepCtx, cfg.IdleSweepInterval, cfg.MaxIdle)

	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := provider.Shutdown(ctx); err != nil {
		logger.Error("failed to shut down tracing", "error", err)
	}

	logger.Info("server stopped")
}
