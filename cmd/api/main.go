package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"geminilegion/backend/internal/ai"
	"geminilegion/backend/internal/api"
	"geminilegion/backend/internal/config"
	"geminilegion/backend/internal/db"
	"geminilegion/backend/internal/engine"
	"geminilegion/backend/internal/events"
	"geminilegion/backend/internal/observability"
	"geminilegion/backend/internal/opinion"
	"geminilegion/backend/internal/store"
	"geminilegion/backend/internal/store/memory"
	"geminilegion/backend/internal/store/postgres"
	"geminilegion/backend/internal/ws"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger("api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var backing store.Store
	switch cfg.StoreDriver {
	case "postgres":
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("startup_failed", observability.Fields{
				"step":  "db_connect",
				"error": err.Error(),
			})
			os.Exit(1)
		}
		defer pool.Close()

		if err := db.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
			logger.Error("startup_failed", observability.Fields{
				"step":  "run_migrations",
				"error": err.Error(),
			})
			os.Exit(1)
		}
		backing = postgres.New(pool)
	case "memory":
		backing = memory.New()
	default:
		logger.Error("startup_failed", observability.Fields{
			"step":  "store_driver",
			"error": "unknown STORE_DRIVER " + cfg.StoreDriver,
		})
		os.Exit(1)
	}

	llm, err := ai.NewFromConfig(cfg)
	if err != nil {
		logger.Error("startup_failed", observability.Fields{
			"step":  "llm_provider",
			"error": err.Error(),
		})
		os.Exit(1)
	}

	bus := events.NewBus()
	metrics := observability.NewMetrics()
	opinions := opinion.New(backing)
	eng := engine.New(cfg, backing, opinions, llm, bus, logger, metrics)
	hub := ws.NewHub(bus, logger, metrics, cfg.CORSAllowedOrigins, cfg.WSWriteTimeout, cfg.WSPingInterval)

	if err := eng.EnsureDefaultChannels(ctx); err != nil {
		logger.Error("startup_failed", observability.Fields{
			"step":  "default_channels",
			"error": err.Error(),
		})
		os.Exit(1)
	}

	server := api.New(cfg, backing, eng, bus, hub, logger, metrics)

	// No ReadTimeout/WriteTimeout here: the websocket gateway holds
	// connections open indefinitely and manages its own deadlines.
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       cfg.APIIdleTimeout,
	}
	serverErrCh := make(chan error, 1)

	go func() {
		logger.Info("api_listening", observability.Fields{
			"addr":   ":" + cfg.Port,
			"driver": cfg.StoreDriver,
		})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErrCh:
		logger.Error("http_server_failed", observability.Fields{"error": err.Error()})
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful_shutdown_failed", observability.Fields{"error": err.Error()})
	}
	logger.Info("api_stopped", nil)
}
