package middlewares

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/etag"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"brightsteps_backend/internals/middlewares/logger"
)

// SetupMiddlewares installs the base middleware chain. Order matters:
// recover first so a panic in any later handler still produces a 500.
func SetupMiddlewares(app *fiber.App) {
	app.Use(RecoveryMiddleware())
	app.Use(requestid.New())
	app.Use(logger.LoggerMiddleware())
	app.Use(CorsMiddleware())
	app.Use(compress.New())
	app.Use(etag.New())
	app.Use(GlobalRateLimiter())
}
