package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"edgessr/internal/app"
	u "edgessr/internal/utils"
)

func main() {
	cfg := u.LoadConfig()
	u.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)

	var rdb *redis.Client
	if cfg.Cache.RedisHost != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisHost,
			DB:   cfg.Cache.RateLimitDB,
		})
		defer rdb.Close()
	}

	idleConnsClosed := make(chan struct{})
	startKeyStore(cfg, idleConnsClosed)
	defer u.CloseKeyStore()

	startServer(app.SetupApp(cfg, rdb), cfg, idleConnsClosed)
	<-idleConnsClosed
}

// startKeyStore loads API keys and keeps them fresh. Without a database the
// store is marked loaded and empty, so any supplied key is rejected.
func startKeyStore(cfg u.Config, stop <-chan struct{}) {
	if !cfg.Auth.Postgres.Enabled() {
		u.LoadKeysFromMap(nil)
		u.Info("No key database configured, API keys disabled")
		return
	}
	if err := u.LoadKeysFromPostgres(cfg.Auth.Postgres); err != nil {
		u.Error("Failed to load API keys", "error", err)
	}
	go u.RefreshKeysPeriodically(cfg.Auth.Postgres, cfg.Auth.ReloadInterval, stop)
}

// startServer starts the Fiber app and blocks until a shutdown signal arrives
func startServer(app *fiber.App, cfg u.Config, idleConnsClosed chan struct{}) {
	go func() {
		addr := cfg.Server.Host + cfg.Server.Port
		u.Info("Server listening", "addr", addr)
		if err := app.Listen(addr); err != nil {
			u.Error("Server error", "error", err)
		}
	}()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigint)
	<-sigint

	u.Warn("Shutdown signal received, closing server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		u.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	u.Info("Server stopped cleanly")
}
