// Package httpapi exposes the prediction engine over HTTP.
package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/rewired-gh/skywatch/internal/logger"
)

// Config configures the Fiber app.
type Config struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewApp builds a Fiber app with JSON error responses and request logging.
func NewApp(cfg Config) *fiber.App {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	app := fiber.New(fiber.Config{
		AppName:               "skywatch",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			if code >= fiber.StatusInternalServerError {
				logger.Error("%s %s: %v", c.Method(), c.Path(), err)
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(recover.New())
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Debug("%s %s %d %v", c.Method(), c.Path(), c.Response().StatusCode(), time.Since(start))
		return err
	})
	return app
}
