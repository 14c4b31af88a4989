// Command oembedd serves the embed filter over HTTP together with the
// provider management API.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ferro-labs/oembed-filter/internal/admin"
	"github.com/ferro-labs/oembed-filter/internal/logging"
	"github.com/ferro-labs/oembed-filter/internal/telemetry"
	"github.com/ferro-labs/oembed-filter/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	// Register built-in plugins so they can be loaded from config.
	_ "github.com/ferro-labs/oembed-filter/internal/plugins/hostfilter"
	_ "github.com/ferro-labs/oembed-filter/internal/plugins/logger"
	_ "github.com/ferro-labs/oembed-filter/internal/plugins/maxsize"
	_ "github.com/ferro-labs/oembed-filter/internal/plugins/ratelimit"
	_ "github.com/ferro-labs/oembed-filter/internal/plugins/sanitize"
)

func main() {
	env, err := loadEnv()
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	logging.Setup(env.LogLevel, env.LogFormat)

	cfg, err := loadConfig(env)
	if err != nil {
		logging.Logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if env.Config != "" {
		logging.Logger.Info("config loaded", "path", env.Config, "providers", len(cfg.LocalProviders), "plugins", len(cfg.Plugins))
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.InitTracing(ctx, env.OTLPEndpoint, version.Short())

	a, err := newApp(ctx, cfg, env.EmbedLog)
	if err != nil {
		logging.Logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	if a.tokens.Len() == 0 {
		logging.Logger.Warn("no admin tokens configured; the admin API rejects every request")
	}
	a.scheduler.Start()

	srv := &http.Server{
		Addr:              env.Addr,
		Handler:           newRouter(a, env.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logging.Logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Logger.Error("shutdown error", "error", err)
		}
		a.scheduler.Stop(shutdownCtx)
		if err := shutdownTracing(shutdownCtx); err != nil {
			logging.Logger.Error("tracing shutdown error", "error", err)
		}
	}()

	logging.Logger.Info("oembedd listening",
		"version", version.Short(),
		"addr", env.Addr,
		"providers", len(a.filter.Providers()),
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stop()
		logging.Logger.Error("server error", "error", err)
		_ = a.Close()
		os.Exit(1) //nolint:gocritic
	}
	if err := a.Close(); err != nil {
		logging.Logger.Error("close error", "error", err)
	}
	logging.Logger.Info("server stopped")
}

// newRouter builds the HTTP router.
func newRouter(a *app, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(logging.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware(corsOrigins...))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "ok",
			"version":   version.Short(),
			"providers": len(a.filter.Providers()),
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/v1/filter", filterHandler(a.filter))

	r.Route("/admin", func(r chi.Router) {
		r.Use(admin.AuthMiddleware(a.tokens))
		r.Mount("/", a.handlers().Routes())
	})

	return r
}
