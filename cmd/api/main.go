package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/cartbridge/api/routes"
	"github.com/angelmondragon/cartbridge/internal/cartsync"
	"github.com/angelmondragon/cartbridge/internal/identity"
	"github.com/angelmondragon/cartbridge/pkg/config"
	"github.com/angelmondragon/cartbridge/pkg/coreapi"
	"github.com/angelmondragon/cartbridge/pkg/logger"
	"github.com/angelmondragon/cartbridge/pkg/metrics"
	"github.com/angelmondragon/cartbridge/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "cartbridge"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cartbridge",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}

	coreClient, err := coreapi.NewClient(context.Background(), cfg.CoreAPI, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build core api client", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	engineMetrics := metrics.NewEngineMetrics(registry)

	manager, err := cartsync.NewManager(cartsync.EngineParams{
		Client:  coreClient,
		Logger:  logg,
		Metrics: engineMetrics,
		Config:  cfg.Engine,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cart engine manager", err)
		os.Exit(1)
	}

	guests, err := identity.NewGuests(redisClient, cfg.Engine.GuestTokenTTL, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create guest session manager", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:   cfg,
			Logger:   logg,
			Engines:  manager,
			Guests:   guests,
			RedisP:   redisClient,
			CoreP:    coreClient,
			Limiter:  redisClient,
			Registry: registry,
		}),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logCtx := logg.WithFields(context.Background(), map[string]any{
			"env":  cfg.App.Env,
			"addr": addr,
		})
		logg.Info(logCtx, "starting cart gateway")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logg.Error(context.Background(), "cart gateway stopped unexpectedly", err)
		os.Exit(1)
	case <-ctx.Done():
	}

	logg.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var closeErr error
	closeErr = multierr.Append(closeErr, server.Shutdown(shutdownCtx))
	manager.Close()
	closeErr = multierr.Append(closeErr, redisClient.Close())
	if closeErr != nil {
		logg.Error(context.Background(), "shutdown finished with errors", closeErr)
		os.Exit(1)
	}
	logg.Info(context.Background(), "shutdown complete")
}
