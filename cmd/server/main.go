package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/config"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/errors"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/logging"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/metrics"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization/engine"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/server"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use standard logger as fallback if config loading fails
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize base logger
	logger, err := logging.NewLogger(cfg.LoggingConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// Create a service logger with additional fields
	serviceLogger := logger.WithFields(map[string]interface{}{
		"service": "optimization-server",
		"env":     cfg.Environment,
	})

	collector := metrics.NewCollector()
	prometheus.MustRegister(collector)

	eng := engine.New(
		engine.WithLogger(logging.NewZapLogger(serviceLogger).Named("engine")),
		engine.WithObserver(collector),
		engine.WithDefaults(cfg.EngineDefaults()),
	)

	// Create router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(serviceLogger))
	r.Use(errors.RecoveryMiddleware(serviceLogger))
	r.Use(errors.ErrorHandler(serviceLogger))
	r.Use(middleware.Timeout(cfg.HTTP.RequestTimeout))

	// Add health check endpoint
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logging.LoggerFrom(r.Context(), serviceLogger).Debug("Health check")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Add metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	srv := server.NewServer(cfg, serviceLogger, eng)
	srv.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// Start HTTP server
	go func() {
		serviceLogger.Info("Starting server", map[string]interface{}{
			"address": httpServer.Addr,
			"workers": cfg.Optimization.WorkerCount,
		})

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serviceLogger.Fatal("Failed to start server", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	serviceLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		serviceLogger.Error("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}

	// Cancels running optimizations and waits for them to record their
	// partial results.
	if err := srv.Close(); err != nil {
		serviceLogger.Error("error closing server resources", map[string]interface{}{"error": err.Error()})
	}

	serviceLogger.Info("server exited properly")
}
