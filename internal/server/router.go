package server

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// AppOptions controls how the Fiber admin application is assembled.
type AppOptions struct {
	Logger *logrus.Logger
	// Gatherer 为空时不挂载 /-/metrics。
	Gatherer prometheus.Gatherer
}

const contextKeyRequestID = "_imgcache_request_id"

// NewApp builds a Fiber application with request ID middleware and structured
// error handling. Routes are registered by the caller.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	if opts.Gatherer != nil {
		handler := promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})
		app.Get("/-/metrics", adaptor.HTTPHandler(handler))
	}

	return app, nil
}

// MountFallback 注册兜底路由，必须在全部业务路由之后调用。
func MountFallback(app *fiber.App, logger *logrus.Logger) {
	app.All("/*", func(c fiber.Ctx) error {
		logger.WithFields(logrus.Fields{
			"action": "route_lookup",
			"path":   c.Path(),
			"method": c.Method(),
		}).Warn("route not found")
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "route_not_found",
		})
	})
}

// requestContextMiddleware 负责生成请求 ID 并写入响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
