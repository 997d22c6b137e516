// Package main provides the pairsync server binary: a WebSocket relay that
// keeps collaborative code sessions in sync across connected clients.
package main

import (
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/pairsync/pairsync/internal/config"
	"github.com/pairsync/pairsync/internal/observability"
	"github.com/pairsync/pairsync/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file; empty = built-in defaults")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
		cfg = loaded
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	store := server.NewStore(server.SessionDefaults{
		Code:     cfg.Session.StarterCode,
		Language: cfg.Session.DefaultLanguage,
	})
	registry := server.NewRegistry()
	hub := server.NewHub(store, registry, cfg.Server, cfg.RateLimit, logger)
	go hub.Run()
	logger.Info("hub started")

	mux := server.SetupRoutes(hub, logger)
	httpServer := server.CreateServer(cfg.Server.Port, mux)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer, logger)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
		}
	}

	if err := server.ShutdownServer(httpServer, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := hub.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
		logger.Warn("hub shutdown incomplete", zap.Error(err))
	}

	logger.Info("shutdown complete")
}
