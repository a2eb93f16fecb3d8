package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/JonMunkholm/results-america/internal/config"
	"github.com/JonMunkholm/results-america/internal/core"
	"github.com/JonMunkholm/results-america/internal/database"
	"github.com/JonMunkholm/results-america/internal/logging"
	"github.com/JonMunkholm/results-america/internal/metrics"
	"github.com/JonMunkholm/results-america/internal/web"
)

func main() {
	// Overload lets a local .env win over the shell environment.
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"scheduler_enabled", cfg.Scheduler.Enabled,
	)

	ctx := context.Background()
	pool, err := database.OpenPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	store := database.NewStore(pool)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	service, err := core.NewService(store, cfg, m)
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	var sweeper *core.StaleImportSweeper
	if cfg.Scheduler.Enabled {
		sweeper = core.NewStaleImportSweeper(store, cfg.Import.StaleAfter, m)
		if err := sweeper.Start(cfg.Scheduler.StaleImportSpec); err != nil {
			slog.Error("failed to start stale import sweeper", "error", err)
			os.Exit(1)
		}
	}

	server := web.NewServer(service, cfg,
		web.WithRateLimitStore(web.NewMemoryRateLimitStore()),
		web.WithHealthCheck(store),
		web.WithMetrics(reg),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if sweeper != nil {
			sweeper.Stop(shutdownCtx)
		}

		limiter := service.Limiter()
		if status := limiter.Status(); status.Active > 0 {
			slog.Info("waiting for uploads to complete", "active", status.Active)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("uploads did not complete in time", "error", err)
			} else {
				slog.Info("all uploads completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}
