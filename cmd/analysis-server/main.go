// Package main runs the analysis panels behind the HTTP API and the
// browser page.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"stream-analyst/config"
	"stream-analyst/internal/api"
	"stream-analyst/internal/app"
	"stream-analyst/internal/settings"
	"stream-analyst/observability"
	"stream-analyst/services"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		observability.Debug("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		observability.Fatal("invalid configuration", "error", err)
	}

	observability.InitLoggerWithLevel(cfg.IsProduction(), observability.ParseLevel(cfg.Logging.Level))
	observability.InitMetrics()

	breakers := services.NewCircuitBreakerRegistry(services.CircuitBreakerConfigFrom(cfg.Breaker))
	services.SetGlobalRegistry(breakers)

	var store *settings.Store
	if cfg.Credentials.StorePath != "" {
		store, err = settings.Open(cfg.Credentials.StorePath, cfg.Credentials.Passphrase)
		if err != nil {
			observability.Fatal("failed to open credentials store", "error", err)
		}
	}

	if len(os.Args) > 1 && os.Args[1] == "set-token" {
		if err := setToken(store); err != nil {
			observability.Fatal("failed to store token", "error", err)
		}
		return
	}

	switch {
	case cfg.HasAPIToken():
	case store != nil && store.IsConfigured():
		observability.Info("using stored analysis token", "token", store.Masked(), "updated_at", store.UpdatedAt())
	default:
		observability.Warn("ANALYSIS_API_TOKEN not set, stream requests are sent unauthenticated")
	}
	stream := services.NewAnalysisStreamService(cfg.Stream, settings.Resolve(cfg.Stream.APIToken, store), breakers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, stream)
	application.Startup(ctx)

	// Create HTTP router
	handler := api.NewHandler(application, cfg).WithBreakers(breakers)
	router := api.NewRouter(handler, cfg)

	// WriteTimeout stays unset: WebSocket connections outlive any request
	// deadline and plain routes are bounded by the router's timeout
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		observability.Info("starting analysis server",
			"addr", cfg.HTTP.Addr,
			"analysis_api", cfg.Stream.BaseURL,
			"concurrency_limit", cfg.Panels.ConcurrencyLimit)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			observability.Fatal("server error", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()

	observability.Info("shutting down analysis server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Panels first so open sockets see their channels close
	if err := application.Shutdown(shutdownCtx); err != nil {
		observability.Warn("panels did not stop cleanly", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		observability.Fatal("server forced to shutdown", "error", err)
	}

	observability.Info("analysis server stopped")
}

// setToken reads a token from stdin into the credentials store. An empty
// line clears it.
func setToken(store *settings.Store) error {
	if store == nil {
		return errors.New("ANALYSIS_CREDENTIALS_FILE is not set")
	}

	fmt.Fprint(os.Stderr, "analysis token: ")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	if err := scanner.Err(); err != nil {
		return err
	}

	token := scanner.Text()
	if token == "" {
		return store.Clear()
	}
	if err := store.SetToken(token); err != nil {
		return err
	}
	observability.Info("analysis token stored", "token", store.Masked())
	return nil
}
