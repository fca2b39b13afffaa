package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shomaj/neighborhood-client/internal/platform/config"
	"github.com/shomaj/neighborhood-client/internal/platform/devidentity"
	"github.com/shomaj/neighborhood-client/internal/platform/logging"
)

// Local stand-in for the hosted identity service. Point the shell at it with
// IDENTITY_BACKEND=gotrue SUPABASE_URL=http://localhost:9999 and the same
// anon key. Accounts live in memory and vanish on restart.
func main() {
	cfg, err := config.LoadDevIdentity()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	s := devidentity.NewServer(devidentity.Options{
		AnonKey:   cfg.AnonKey,
		JWTSecret: []byte(cfg.JWTSecret),
		TokenTTL:  cfg.TokenTTL,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("devidentity listening", zap.String("addr", cfg.Addr), zap.Duration("token_ttl", cfg.TokenTTL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
