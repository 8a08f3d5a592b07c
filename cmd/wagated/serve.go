package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iammorganparry/wagate/internal/api"
	"github.com/iammorganparry/wagate/internal/auth"
	"github.com/iammorganparry/wagate/internal/config"
	"github.com/iammorganparry/wagate/internal/credentials"
	"github.com/iammorganparry/wagate/internal/events"
	"github.com/iammorganparry/wagate/internal/gateway"
	"github.com/iammorganparry/wagate/internal/sessions"
	"github.com/iammorganparry/wagate/internal/store"
	"github.com/iammorganparry/wagate/internal/supervisor"
)

var serveCmdPort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session gateway server",
	Long: "Starts the HTTP API and the event stream, restores the sessions that were live\n" +
		"when the previous process stopped and supervises every connection until shutdown.\n\n" +
		"Configuration comes from defaults, an optional --config file, a .env file and the\n" +
		"environment, with the environment taking precedence. JWT_SECRET is required.",
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(
		&serveCmdPort,
		"port",
		0,
		"port to bind the HTTP server to (overrides env var PORT)",
	)

	rootCmd.AddCommand(serveCmd)
}

func supervisorConfig(cfg *config.Config) supervisor.Config {
	sc := supervisor.DefaultConfig()
	sc.Backoff = supervisor.BackoffConfig{
		InitialDelay: cfg.ReconnectInitialDelay,
		MaxDelay:     cfg.ReconnectMaxDelay,
		Multiplier:   cfg.ReconnectMultiplier,
		Jitter:       cfg.ReconnectJitter,
	}
	sc.MaxAttempts = cfg.ReconnectMaxAttempts
	sc.PairingTimeout = cfg.PairingTimeout
	return sc
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveCmdPort != 0 {
		cfg.Port = serveCmdPort
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}

	// Logger
	logger := newLogger(cfg, os.Stdout)
	slog.SetDefault(logger)
	logger.Info("starting wagated", "port", cfg.Port, "gateway", cfg.GatewayURL)

	// SQLite
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Stores
	registry := sessions.NewRegistry(db)
	credStore, err := credentials.NewFileStore(cfg.CredentialsDir)
	if err != nil {
		return err
	}

	// Upstream gateway and event fan-out
	dialer := gateway.NewWSDialer(cfg.GatewayURL, cfg.GatewayToken, logger)
	hub := events.NewHub(cfg.EventBuffer, logger)

	// Supervisor
	mgr := supervisor.New(registry, credStore, dialer, hub, supervisorConfig(cfg), logger)

	// Router
	verifier := auth.NewVerifier(cfg.JWTSecret)
	router := api.NewRouter(db, mgr, hub, verifier, cfg.CORSOrigins(), logger)

	// Server
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	if cfg.RestoreOnStart {
		go func() {
			if _, err := mgr.Restore(cmd.Context()); err != nil {
				logger.Error("session restore failed", "error", err)
			}
		}()
	}

	select {
	case <-done:
	case err := <-serveErr:
		mgr.Close()
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	mgr.Close()

	logger.Info("server stopped")
	return nil
}
