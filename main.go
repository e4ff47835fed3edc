package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/room4-2/billvoice/config"
	"github.com/room4-2/billvoice/logger"
	"github.com/room4-2/billvoice/relay"
	"github.com/room4-2/billvoice/server"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	lg := logger.Get()

	if err := cfg.ValidateServer(); err != nil {
		lg.Fatal("Invalid relay configuration", zap.Error(err))
	}

	sessionManager, err := relay.NewManager(cfg, lg)
	if err != nil {
		lg.Fatal("Failed to create session manager", zap.Error(err))
	}

	// Start cleanup routine
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sessionManager.StartCleanupRoutine(ctx)

	srv := server.NewServerWebsocket(cfg, sessionManager, lg)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		lg.Info("Received shutdown signal...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
	}()

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		lg.Fatal("Server error", zap.Error(err))
	}

	lg.Info("Server stopped")
}
