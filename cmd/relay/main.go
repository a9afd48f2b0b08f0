package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/Harry0M/oikos-sub001/internal/auth"
	"github.com/Harry0M/oikos-sub001/internal/config"
	"github.com/Harry0M/oikos-sub001/internal/metrics"
	"github.com/Harry0M/oikos-sub001/internal/relay"
	"github.com/Harry0M/oikos-sub001/internal/relayserver"
	"github.com/Harry0M/oikos-sub001/pkg/logging"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid config", "error", err)
		os.Exit(1)
	}
	level, _ := logging.ParseLevel(cfg.Log.Level)
	logger := logging.SetupWithLevel(level)
	if level > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	var mailbox relay.Mailbox
	switch cfg.RelayServer.Backend {
	case config.BackendPostgres:
		pg, err := relay.NewPostgresMailbox(cfg.RelayServer.PostgresDSN)
		if err != nil {
			slog.Error("Failed to configure postgres mailbox", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		mailbox = pg
	default:
		mailbox = relay.NewMemoryMailbox()
	}
	slog.Info("Relay mailbox ready", "backend", cfg.RelayServer.Backend)

	srv := relayserver.New(relayserver.Config{
		Mailbox:     mailbox,
		JWT:         auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration),
		Metrics:     metrics.New(),
		CORSOrigins: cfg.RelayServer.CORSOrigins,
		Logger:      logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.RelayServer.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Relay server starting", "address", cfg.RelayServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down relay server")
	srv.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown failed", "error", err)
	}
}
