// file: internals/features/billing/payments/route/payment_route.go
package route

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"brightsteps_backend/internals/features/billing/payments/controller"
	"brightsteps_backend/internals/features/billing/payments/gateway"
	"brightsteps_backend/internals/features/billing/payments/model"
	"brightsteps_backend/internals/features/billing/payments/service"
	"brightsteps_backend/internals/middlewares"
)

// PaymentRoutes mounts the tenant-scoped payment surface. The caller passes a
// group that already carries the tenant auth middleware.
func PaymentRoutes(api fiber.Router, db *gorm.DB, svc *service.ReconcileService) {
	ctl := controller.NewPaymentController(db, svc)

	payments := api.Group("/payments")
	payments.Post("/manual", ctl.CreateManualPayment)
	payments.Post("/initiate", middlewares.PaymentInitiateRateLimiter(), ctl.InitiateOnlinePayment)
	payments.Get("/verify/:reference", ctl.VerifyPayment)

	// static paths before the :id wildcard
	payments.Get("/webhook-events", ctl.ListWebhookEvents)

	payments.Get("/", ctl.ListPayments)
	payments.Get("/:id", ctl.GetPayment)
	payments.Patch("/:id/confirm", ctl.ConfirmManualPayment)
	payments.Post("/:id/refund", ctl.RefundPayment)
}

// WebhookRoutes mounts the unauthenticated provider callback. Trust comes
// from the signature check, not from a token.
func WebhookRoutes(app fiber.Router, db *gorm.DB, svc *service.ReconcileService, gw gateway.Client, provider model.GatewayProvider) {
	ctl := controller.NewWebhookController(db, svc, gw, provider)
	app.Post("/webhooks/"+string(provider), ctl.Handle)
}
