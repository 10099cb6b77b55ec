// file: internals/route/index.go
package route

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"brightsteps_backend/internals/features/billing/payments/gateway"
	"brightsteps_backend/internals/features/billing/payments/model"
	"brightsteps_backend/internals/features/billing/payments/service"
	"brightsteps_backend/internals/route/details"
)

// SetupRoutes mounts every surface of the API. Dependency wiring (gateway
// client, reconcile service) happens in main and is passed down; route files
// never construct their own clients.
func SetupRoutes(app *fiber.App, db *gorm.DB, gw gateway.Client, svc *service.ReconcileService, provider model.GatewayProvider) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	details.BillingRoutes(app, db, svc)
	details.WebhookRoutes(app, db, svc, gw, provider)
}
