// file: internals/features/billing/invoices/route/invoice_route.go
package route

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"brightsteps_backend/internals/features/billing/invoices/controller"
)

func InvoiceRoutes(api fiber.Router, db *gorm.DB) {
	ctl := controller.NewInvoiceController(db)

	invoices := api.Group("/invoices")
	invoices.Post("/", ctl.CreateInvoice)
	invoices.Get("/", ctl.ListInvoices)
	invoices.Get("/:id", ctl.GetInvoice)
	invoices.Patch("/:id/cancel", ctl.CancelInvoice)
}
