// file: internals/route/details/billing_routes.go
package details

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	invoiceRoute "brightsteps_backend/internals/features/billing/invoices/route"
	"brightsteps_backend/internals/features/billing/payments/gateway"
	"brightsteps_backend/internals/features/billing/payments/model"
	paymentRoute "brightsteps_backend/internals/features/billing/payments/route"
	"brightsteps_backend/internals/features/billing/payments/service"
	"brightsteps_backend/internals/middlewares/auth"
)

// BillingRoutes: everything under /api/billing requires a tenant token.
func BillingRoutes(app *fiber.App, db *gorm.DB, svc *service.ReconcileService) {
	billing := app.Group("/api/billing", auth.TenantAuthMiddleware())

	invoiceRoute.InvoiceRoutes(billing, db)
	paymentRoute.PaymentRoutes(billing, db, svc)
}

// WebhookRoutes: the provider callback is public; authenticity is proven by
// the signature over the raw body, checked before anything is written.
func WebhookRoutes(app *fiber.App, db *gorm.DB, svc *service.ReconcileService, gw gateway.Client, provider model.GatewayProvider) {
	api := app.Group("/api")
	paymentRoute.WebhookRoutes(api, db, svc, gw, provider)
}
