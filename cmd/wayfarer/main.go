// Command wayfarer runs the browsing gateway's HTTP server: it wires
// configuration, the engine, and a thin chi router, then serves until
// SIGTERM/SIGINT triggers a graceful shutdown.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jmylchreest/wayfarer/internal/config"
	"github.com/jmylchreest/wayfarer/internal/engine"
	"github.com/jmylchreest/wayfarer/internal/httpapi"
	"github.com/jmylchreest/wayfarer/internal/logging"
	"github.com/jmylchreest/wayfarer/internal/usage"
)

func main() {
	logger := logging.SetDefault()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	var usageBackend usage.Backend
	if cfg.UsesRemoteCounter() {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := client.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis ping failed", "error", err, "addr", cfg.RedisAddr)
			os.Exit(1)
		}
		usageBackend = usage.NewRedisBackend(client, "wayfarer:usage")
		logger.Info("usage counter backed by redis", "addr", cfg.RedisAddr)
	}

	eng, err := engine.New(engine.Config{
		StateDir:         cfg.StateDir,
		UsageBackend:     usageBackend,
		CircuitResetMs:   cfg.CircuitBreakerResetMs,
		DrainQuietPeriod: 10 * time.Second,
		Logger:           logger,
	})
	if err != nil {
		logger.Error("engine construction failed", "error", err)
		os.Exit(1)
	}

	srv := httpapi.New(eng, cfg, logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		<-sigChan

		logger.Info("shutting down server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}

		if err := eng.Shutdown(30 * time.Second); err != nil {
			logger.Error("engine shutdown error", "error", err)
		}
	}()

	logger.Info("starting server", "port", port, "state_dir", cfg.StateDir)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
