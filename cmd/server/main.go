package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/joho/godotenv"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/Harry0M/oikos-sub001/internal/auth"
	"github.com/Harry0M/oikos-sub001/internal/config"
	"github.com/Harry0M/oikos-sub001/internal/metrics"
	"github.com/Harry0M/oikos-sub001/internal/middleware"
	"github.com/Harry0M/oikos-sub001/internal/mirror"
	"github.com/Harry0M/oikos-sub001/internal/models"
	"github.com/Harry0M/oikos-sub001/internal/relay"
	"github.com/Harry0M/oikos-sub001/internal/service"
	"github.com/Harry0M/oikos-sub001/internal/session"
	"github.com/Harry0M/oikos-sub001/internal/storage/sqlite"
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

	if err := os.MkdirAll(filepath.Dir(cfg.Server.DBPath), 0o755); err != nil {
		slog.Error("Failed to create data directory", "error", err)
		os.Exit(1)
	}
	store, err := sqlite.New(cfg.Server.DBPath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Storage initialized", "database", cfg.Server.DBPath)

	m := metrics.New()
	sessions := session.NewManager(session.Config{
		Store: store,
		Dial: func(identity models.Identity, token string) (relay.Mailbox, error) {
			return relay.NewClient(cfg.Relay.URL, token), nil
		},
		Outbox: mirror.OutboxConfig{
			BaseDelay:    cfg.Outbox.BaseDelay,
			MaxDelay:     cfg.Outbox.MaxDelay,
			PollInterval: cfg.Outbox.PollInterval,
			BatchSize:    cfg.Outbox.BatchSize,
		},
		Metrics:  m,
		Notifier: mirror.LogNotifier{Logger: logger},
		Logger:   logger,
	})
	defer sessions.SignOut()

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Relay.DeviceToken != "" {
		if err := signInDevice(ctx, jwtManager, sessions, cfg.Relay.DeviceToken); err != nil {
			// The node still serves its local ledger; sync starts on the
			// first authenticated request instead.
			slog.Warn("Device sign-in failed", "error", err)
		}
	}

	mux := http.NewServeMux()

	ledgerPath, ledgerHandler := service.NewLedgerServiceHandler(
		service.NewLedgerService(store, sessions),
		connect.WithInterceptors(
			middleware.LoggingInterceptor(logger),
			middleware.RequireAuth(jwtManager, sessions),
		),
	)
	mux.Handle(ledgerPath, ledgerHandler)
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"healthy","signedIn":%t}`, sessions.Current() != nil)
	})

	// Add logging and CORS middleware
	handler := loggingMiddleware(corsMiddleware(cfg.Server.CORSOrigins, mux))

	// Wrap with h2c for HTTP/2 without TLS (required for Connect)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Connect server starting", "address", cfg.Server.Addr, "relay", cfg.Relay.URL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown failed", "error", err)
	}
}

func signInDevice(ctx context.Context, jwtManager *auth.JWTManager, sessions *session.Manager, token string) error {
	claims, err := jwtManager.Validate(token)
	if err != nil {
		return err
	}
	_, err = sessions.SignIn(ctx, claims.Identity(), token)
	return err
}

// loggingMiddleware logs requests that are not Connect RPCs; those are
// logged by the Connect interceptor.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// corsMiddleware adds CORS headers for browser access
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	allowAll := len(origins) == 0 || slices.Contains(origins, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case slices.Contains(origins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Connect-Protocol-Version, Connect-Timeout-Ms")
		w.Header().Set("Access-Control-Expose-Headers", "Connect-Protocol-Version, Connect-Timeout-Ms")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
