package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/eshaffer321/vat-reconcile/internal/api"
)

// RunServe runs the API server until ctx is cancelled.
func RunServe(ctx context.Context, app *App, port int) error {
	apiCfg := api.Config{
		Port:           port,
		AllowedOrigins: app.Config.API.AllowedOrigins,
	}
	if apiCfg.Port == 0 {
		apiCfg.Port = app.Config.API.Port
	}
	logger := app.Logger.With("system", "api")

	server := api.NewServer(apiCfg, app.Service, logger)

	// Handle graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		logger.Info("received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", slog.Any("error", err))
		}
	}()

	// Start server (blocks until shutdown)
	if err := server.Start(); err != nil {
		return err
	}

	<-done
	logger.Info("server stopped")
	return nil
}
