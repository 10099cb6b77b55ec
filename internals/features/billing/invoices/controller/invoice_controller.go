// file: internals/features/billing/invoices/controller/invoice_controller.go
package controller

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"brightsteps_backend/internals/configs"
	"brightsteps_backend/internals/features/billing/invoices/dto"
	"brightsteps_backend/internals/features/billing/invoices/model"
	helper "brightsteps_backend/internals/helpers"
)

type InvoiceController struct {
	DB *gorm.DB
}

func NewInvoiceController(db *gorm.DB) *InvoiceController {
	return &InvoiceController{DB: db}
}

/* =========================================================
   POST /api/billing/invoices
========================================================= */

func (ctl *InvoiceController) CreateInvoice(c *fiber.Ctx) error {
	tenantID, err := helper.GetTenantIDFromLocals(c)
	if err != nil {
		return helper.FromFiberError(c, err)
	}

	var req dto.CreateInvoiceRequest
	if err := c.BodyParser(&req); err != nil {
		return helper.JsonError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		var vErrs validator.ValidationErrors
		if errors.As(err, &vErrs) {
			out := map[string][]string{}
			for _, fe := range vErrs {
				key := strings.ToLower(fe.Field())
				out[key] = append(out[key], fe.Tag())
			}
			return helper.JsonValidationError(c, out)
		}
		return helper.JsonError(c, fiber.StatusBadRequest, err.Error())
	}

	inv, err := req.ToModel(tenantID, helper.GetCenterIDFromLocals(c), configs.BillingCurrency)
	if err != nil {
		return helper.JsonError(c, fiber.StatusBadRequest, err.Error())
	}
	inv.InvoiceNumber = genInvoiceNumber(inv.InvoiceBillingPeriod)

	// One obligation per child per period.
	var existing int64
	if err := ctl.DB.Model(&model.Invoice{}).
		Where("invoice_tenant_id = ? AND invoice_child_id = ? AND invoice_billing_period = ? AND invoice_status <> ? AND invoice_deleted_at IS NULL",
			tenantID, inv.InvoiceChildID, inv.InvoiceBillingPeriod, model.InvoiceStatusCancelled).
		Count(&existing).Error; err != nil {
		return helper.JsonError(c, fiber.StatusInternalServerError, "failed to check existing invoices")
	}
	if existing > 0 {
		return helper.JsonError(c, fiber.StatusConflict, "an invoice already exists for this child and billing period")
	}

	if err := ctl.DB.Create(inv).Error; err != nil {
		return helper.JsonError(c, fiber.StatusInternalServerError, "failed to create invoice")
	}
	return helper.JsonCreated(c, "invoice created", dto.FromInvoiceModel(inv, time.Now().UTC()))
}

/* =========================================================
   GET /api/billing/invoices
   Filters: ?child_id= &status= &billing_period= plus paging.
========================================================= */

func (ctl *InvoiceController) ListInvoices(c *fiber.Ctx) error {
	tenantID, err := helper.GetTenantIDFromLocals(c)
	if err != nil {
		return helper.FromFiberError(c, err)
	}
	paging := helper.ResolvePaging(c, 20, 100)
	now := time.Now().UTC()

	q := ctl.DB.Model(&model.Invoice{}).
		Where("invoice_tenant_id = ? AND invoice_deleted_at IS NULL", tenantID)

	if raw := strings.TrimSpace(c.Query("child_id")); raw != "" {
		childID, err := uuid.Parse(raw)
		if err != nil {
			return helper.JsonError(c, fiber.StatusBadRequest, "child_id is not a valid UUID")
		}
		q = q.Where("invoice_child_id = ?", childID)
	}
	if period := strings.TrimSpace(c.Query("billing_period")); period != "" {
		q = q.Where("invoice_billing_period = ?", period)
	}

	// overdue is a derived view, not a stored value, so the filter is
	// expressed over the ledger columns directly
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		switch model.InvoiceStatus(status) {
		case model.InvoiceStatusOverdue:
			q = q.Where("invoice_status <> ? AND invoice_amount_paid = 0 AND invoice_due_date < ?",
				model.InvoiceStatusCancelled, now)
		case model.InvoiceStatusPending:
			q = q.Where("invoice_status = ? AND invoice_due_date >= ?", model.InvoiceStatusPending, now)
		default:
			q = q.Where("invoice_status = ?", status)
		}
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return helper.JsonError(c, fiber.StatusInternalServerError, "failed to count invoices")
	}

	var invoices []model.Invoice
	if err := q.Order("invoice_due_date DESC, invoice_created_at DESC").
		Offset(paging.Offset).Limit(paging.Limit).
		Find(&invoices).Error; err != nil {
		return helper.JsonError(c, fiber.StatusInternalServerError, "failed to list invoices")
	}

	return helper.JsonList(c, "invoices", dto.FromInvoiceModels(invoices, now),
		helper.BuildPaginationFromPage(total, paging.Page, paging.PerPage))
}

/* =========================================================
   GET /api/billing/invoices/:id
========================================================= */

func (ctl *InvoiceController) GetInvoice(c *fiber.Ctx) error {
	tenantID, err := helper.GetTenantIDFromLocals(c)
	if err != nil {
		return helper.FromFiberError(c, err)
	}

	invoiceID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return helper.JsonError(c, fiber.StatusBadRequest, "invoice id is not a valid UUID")
	}

	var inv model.Invoice
	if err := ctl.DB.
		First(&inv, "invoice_id = ? AND invoice_tenant_id = ? AND invoice_deleted_at IS NULL", invoiceID, tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return helper.JsonError(c, fiber.StatusNotFound, "invoice not found")
		}
		return helper.JsonError(c, fiber.StatusInternalServerError, "failed to load invoice")
	}
	return helper.JsonOK(c, "invoice", dto.FromInvoiceModel(&inv, time.Now().UTC()))
}

/* =========================================================
   PATCH /api/billing/invoices/:id/cancel

   Only an untouched invoice can be cancelled; once money has been
   applied the path is refund-then-cancel.
========================================================= */

func (ctl *InvoiceController) CancelInvoice(c *fiber.Ctx) error {
	tenantID, err := helper.GetTenantIDFromLocals(c)
	if err != nil {
		return helper.FromFiberError(c, err)
	}

	invoiceID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return helper.JsonError(c, fiber.StatusBadRequest, "invoice id is not a valid UUID")
	}

	now := time.Now().UTC()
	res := ctl.DB.Model(&model.Invoice{}).
		Where("invoice_id = ? AND invoice_tenant_id = ? AND invoice_deleted_at IS NULL AND invoice_status <> ? AND invoice_amount_paid = 0",
			invoiceID, tenantID, model.InvoiceStatusCancelled).
		Updates(map[string]any{
			"invoice_status":     model.InvoiceStatusCancelled,
			"invoice_updated_at": now,
		})
	if res.Error != nil {
		return helper.JsonError(c, fiber.StatusInternalServerError, "failed to cancel invoice")
	}
	if res.RowsAffected == 0 {
		var inv model.Invoice
		if err := ctl.DB.
			First(&inv, "invoice_id = ? AND invoice_tenant_id = ? AND invoice_deleted_at IS NULL", invoiceID, tenantID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return helper.JsonError(c, fiber.StatusNotFound, "invoice not found")
			}
			return helper.JsonError(c, fiber.StatusInternalServerError, "failed to load invoice")
		}
		if inv.InvoiceStatus == model.InvoiceStatusCancelled {
			return helper.JsonOK(c, "invoice already cancelled", dto.FromInvoiceModel(&inv, now))
		}
		return helper.JsonError(c, fiber.StatusBadRequest, "invoice has payments applied and cannot be cancelled")
	}

	var inv model.Invoice
	if err := ctl.DB.First(&inv, "invoice_id = ?", invoiceID).Error; err != nil {
		return helper.JsonError(c, fiber.StatusInternalServerError, "failed to load invoice")
	}
	return helper.JsonOK(c, "invoice cancelled", dto.FromInvoiceModel(&inv, now))
}

/* =========================================================
   Internals
========================================================= */

// genInvoiceNumber: "INV-<period>-<random>"; the unique index on
// invoice_number is the real guarantee.
func genInvoiceNumber(billingPeriod string) string {
	u := uuid.New().String()
	if len(u) > 8 {
		u = u[:8]
	}
	return "INV-" + strings.ReplaceAll(billingPeriod, "-", "") + "-" + strings.ToUpper(u)
}
