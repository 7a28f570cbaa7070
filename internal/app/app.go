package app

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/redis/go-redis/v9"

	"edgessr/internal/fetch"
	"edgessr/internal/render"
	u "edgessr/internal/utils"
)

// SetupApp creates and configures a new Fiber app instance
func SetupApp(cfg u.Config, rdb *redis.Client) *fiber.App {
	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	RegisterMiddleware(app, cfg, rdb)
	RegisterRoutes(app, cfg)

	// Ensure all unmatched requests return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}

	u.Warn("Request failed", "path", c.Path(), "status", code, "message", msg)

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": msg,
		},
	})
}

// RegisterRoutes mounts all route handlers to the app. The fetch handler
// answers every remaining GET path, like an edge worker bound to a whole host.
func RegisterRoutes(app *fiber.App, cfg u.Config) {
	app.Get("/v1/monitor", monitor.New())

	h, err := fetch.NewHandler(cfg.Render, render.NewTemplRenderer())
	if err != nil {
		// NewTemplRenderer never returns nil.
		panic(err)
	}
	app.Get("/*", h.Serve)
}

// redisReady reports whether rdb answers a PING. A nil client means Redis is
// not part of this deployment.
func redisReady(ctx context.Context, rdb *redis.Client) bool {
	if rdb == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		u.Warn("Redis not ready", "error", err)
		return false
	}
	return true
}
