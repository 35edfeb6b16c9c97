package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/simple-media/pkg/simplemedia/api"
	"github.com/tendant/simple-media/pkg/simplemedia/config"
)

func newLogger(cfg *config.ServerConfig) *slog.Logger {
	if cfg.Environment == "development" {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Println(config.EnvUsage())
		return
	}

	// Load configuration from environment
	serverConfig, err := config.Load(config.WithEnv())
	if err != nil {
		slog.Error("Failed to load server configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(serverConfig)
	slog.SetDefault(logger)

	ctx := context.Background()
	registry, err := serverConfig.BuildRegistry(ctx, logger)
	if err != nil {
		logger.Error("Failed to build tenant registry", "error", err)
		os.Exit(1)
	}
	defer registry.Close()

	// Pipelines outlive the requests that queue them
	pipelineCtx, cancelPipelines := context.WithCancel(context.Background())
	defer cancelPipelines()
	dispatcher := serverConfig.BuildDispatcher(logger)
	dispatcher.Start(pipelineCtx)

	routerConfig := api.RouterConfig{
		Tenants:       registry,
		Pipelines:     dispatcher,
		TenantClaim:   serverConfig.Auth.TenantClaim,
		DefaultTenant: serverConfig.Tenants.DefaultTenant,
	}
	if serverConfig.Auth.JWTSecret != "" {
		routerConfig.Auth = jwtauth.New("HS256", []byte(serverConfig.Auth.JWTSecret), nil)
	} else {
		logger.Warn("JWT_SECRET not set; serving every request as the default tenant", "tenant", serverConfig.Tenants.DefaultTenant)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	app.RoutesHealthz(r)
	app.RoutesHealthzReady(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/api/v1", api.NewRouter(routerConfig))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", serverConfig.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Simple Media server starting",
			"port", serverConfig.Port,
			"env", serverConfig.Environment,
			"storage", serverConfig.Storage.Type,
			"platform", serverConfig.PlatformEnabled())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Warn("Pipelines still running at shutdown were cancelled", "error", err)
	}

	logger.Info("Server exiting")
}
