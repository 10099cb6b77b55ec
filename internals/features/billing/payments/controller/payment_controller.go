// file: internals/features/billing/payments/controller/payment_controller.go
package controller

import (
	"errors"
	"log"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"brightsteps_backend/internals/features/billing/payments/dto"
	"brightsteps_backend/internals/features/billing/payments/gateway"
	"brightsteps_backend/internals/features/billing/payments/model"
	"brightsteps_backend/internals/features/billing/payments/service"
	helper "brightsteps_backend/internals/helpers"
)

type PaymentController struct {
	DB      *gorm.DB
	Service *service.ReconcileService
}

func NewPaymentController(db *gorm.DB, svc *service.ReconcileService) *PaymentController {
	return &PaymentController{DB: db, Service: svc}
}

/* =========================================================
   POST /api/billing/payments/manual
========================================================= */

func (ctl *PaymentController) CreateManualPayment(c *fiber.Ctx) error {
	tenantID, err := helper.GetTenantIDFromLocals(c)
	if err != nil {
		return helper.FromFiberError(c, err)
	}

	var req dto.CreateManualPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return helper.JsonError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return helper.JsonValidationError(c, fieldErrors(err))
	}

	in, err := req.ToInput(tenantID, helper.GetCenterIDFromLocals(c))
	if err != nil {
		return helper.JsonError(c, fiber.StatusBadRequest, "invoice_id is not a valid UUID")
	}

	p, err := ctl.Service.CreateManualPayment(c.Context(), in)
	if err != nil {
		return mapServiceError(c, err)
	}
	return helper.JsonCreated(c, "payment recorded", dto.FromPaymentModel(p))
}

/* =========================================================
   POST /api/billing/payments/initiate
========================================================= */

func (ctl *PaymentController) InitiateOnlinePayment(c *fiber.Ctx) error {
	tenantID, err := helper.GetTenantIDFromLocals(c)
	if err != nil {
		return helper.FromFiberError(c, err)
	}

	var req dto.InitiateOnlinePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return helper.JsonError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return helper.JsonValidationError(c, fieldErrors(err))
	}

	in, err := req.ToInput(tenantID, helper.GetCenterIDFromLocals(c))
	if err != nil {
		return helper.JsonError(c, fiber.StatusBadRequest, "invoice_id is not a valid UUID")
	}

	res, err := ctl.Service.InitiateOnlinePayment(c.Context(), in)
	if err != nil {
		return mapServiceError(c, err)
	}
	return helper.JsonCreated(c, "payment initiated", dto.FromInitiateResult(res))
}

/* =========================================================
   GET /api/billing/payments/verify/:reference

   Client-side return leg after the gateway redirect. Safe to call
   any number of times; a settled payment comes back unchanged.
========================================================= */

func (ctl *PaymentController) VerifyPayment(c *fiber.Ctx) error {
	tenantID, err := helper.GetTenantIDFromLocals(c)
	if err != nil {
		return helper.FromFiberError(c, err)
	}

	reference := strings.TrimSpace(c.Params("reference"))
	if reference == "" {
		return helper.JsonError(c, fiber.StatusBadRequest, "reference is required")
	}

	p, err := ctl.Service.Reconcile(c.Context(), reference, tenantID)
	if err != nil {
		return mapServiceError(c, err)
	}
	return helper.JsonOK(c, "payment verified", dto.FromPaymentModel(p))
}

/* =========================================================
   PATCH /api/billing/payments/:id/confirm

   Marks a pending bank transfer / check as received.
========================================================= */

func (ctl *PaymentController) ConfirmManualPayment(c *fiber.Ctx) error {
	tenantID, err := helper.GetTenantIDFromLocals(c)
	if err != nil {
		return helper.FromFiberError(c, err)
	}

	paymentID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return helper.JsonError(c, fiber.StatusBadRequest, "payment id is not a valid UUID")
	}

	p, err := ctl.Service.ConfirmManualPayment(c.Context(), paymentID, tenantID)
	if err != nil {
		return mapServiceError(c, err)
	}
	return helper.JsonOK(c, "payment confirmed", dto.FromPaymentModel(p))
}

/* =========================================================
   POST /api/billing/payments/:id/refund
========================================================= */

func (ctl *PaymentController) RefundPayment(c *fiber.Ctx) error {
	tenantID, err := helper.GetTenantIDFromLocals(c)
	if err != nil {
		return helper.FromFiberError(c, err)
	}

	paymentID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return helper.JsonError(c, fiber.StatusBadRequest, "payment id is not a valid UUID")
	}

	var req dto.RefundPaymentRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return helper.JsonError(c, fiber.StatusBadRequest, "invalid request body")
		}
		if err := req.Validate(); err != nil {
			return helper.JsonValidationError(c, fieldErrors(err))
		}
	}

	p, err := ctl.Service.Refund(c.Context(), paymentID, tenantID, req.Amount, req.Reason)
	if err != nil {
		return mapServiceError(c, err)
	}
	return helper.JsonOK(c, "payment refunded", dto.FromPaymentModel(p))
}

/* =========================================================
   GET /api/billing/payments
   Filters: ?invoice_id= &status= &method= plus paging.
========================================================= */

func (ctl *PaymentController) ListPayments(c *fiber.Ctx) error {
	tenantID, err := helper.GetTenantIDFromLocals(c)
	if err != nil {
		return helper.FromFiberError(c, err)
	}
	paging := helper.ResolvePaging(c, 20, 100)

	q := ctl.DB.Model(&model.Payment{}).
		Where("payment_tenant_id = ? AND payment_deleted_at IS NULL", tenantID)

	if raw := strings.TrimSpace(c.Query("invoice_id")); raw != "" {
		invoiceID, err := uuid.Parse(raw)
		if err != nil {
			return helper.JsonError(c, fiber.StatusBadRequest, "invoice_id is not a valid UUID")
		}
		q = q.Where("payment_invoice_id = ?", invoiceID)
	}
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		q = q.Where("payment_status = ?", status)
	}
	if method := strings.TrimSpace(c.Query("method")); method != "" {
		q = q.Where("payment_method = ?", method)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return helper.JsonError(c, fiber.StatusInternalServerError, "failed to count payments")
	}

	var payments []model.Payment
	if err := q.Order("payment_created_at DESC").
		Offset(paging.Offset).Limit(paging.Limit).
		Find(&payments).Error; err != nil {
		return helper.JsonError(c, fiber.StatusInternalServerError, "failed to list payments")
	}

	return helper.JsonList(c, "payments", dto.FromPaymentModels(payments),
		helper.BuildPaginationFromPage(total, paging.Page, paging.PerPage))
}

/* =========================================================
   GET /api/billing/payments/:id
========================================================= */

func (ctl *PaymentController) GetPayment(c *fiber.Ctx) error {
	tenantID, err := helper.GetTenantIDFromLocals(c)
	if err != nil {
		return helper.FromFiberError(c, err)
	}

	paymentID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return helper.JsonError(c, fiber.StatusBadRequest, "payment id is not a valid UUID")
	}

	var p model.Payment
	if err := ctl.DB.
		First(&p, "payment_id = ? AND payment_tenant_id = ? AND payment_deleted_at IS NULL", paymentID, tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return helper.JsonError(c, fiber.StatusNotFound, "payment not found")
		}
		return helper.JsonError(c, fiber.StatusInternalServerError, "failed to load payment")
	}
	return helper.JsonOK(c, "payment", dto.FromPaymentModel(&p))
}

/* =========================================================
   GET /api/billing/payments/webhook-events
   Audit trail, newest first.
========================================================= */

func (ctl *PaymentController) ListWebhookEvents(c *fiber.Ctx) error {
	tenantID, err := helper.GetTenantIDFromLocals(c)
	if err != nil {
		return helper.FromFiberError(c, err)
	}
	paging := helper.ResolvePaging(c, 20, 100)

	q := ctl.DB.Model(&model.PaymentWebhookEvent{}).
		Where("event_tenant_id = ?", tenantID)
	if ref := strings.TrimSpace(c.Query("reference")); ref != "" {
		q = q.Where("event_reference = ?", ref)
	}
	if status := strings.TrimSpace(c.Query("event_status")); status != "" {
		q = q.Where("event_status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return helper.JsonError(c, fiber.StatusInternalServerError, "failed to count webhook events")
	}

	var events []model.PaymentWebhookEvent
	if err := q.Order("event_received_at DESC").
		Offset(paging.Offset).Limit(paging.Limit).
		Find(&events).Error; err != nil {
		return helper.JsonError(c, fiber.StatusInternalServerError, "failed to list webhook events")
	}

	return helper.JsonList(c, "webhook events", dto.FromWebhookEventModels(events),
		helper.BuildPaginationFromPage(total, paging.Page, paging.PerPage))
}

/* =========================================================
   Error mapping
========================================================= */

func mapServiceError(c *fiber.Ctx, err error) error {
	var (
		vErr  *service.ValidationError
		nfErr *service.NotFoundError
		pfErr *service.PaymentFailedError
		rfErr *service.RefundFailedError
		gwErr *gateway.Error
	)
	switch {
	case errors.As(err, &vErr):
		return helper.JsonError(c, fiber.StatusBadRequest, vErr.Msg)
	case errors.As(err, &nfErr):
		return helper.JsonError(c, fiber.StatusNotFound, nfErr.Msg)
	case errors.As(err, &pfErr):
		return helper.JsonError(c, fiber.StatusPaymentRequired, pfErr.Error())
	case errors.As(err, &rfErr):
		return helper.JsonError(c, fiber.StatusBadGateway, rfErr.Error())
	case errors.As(err, &gwErr):
		return helper.JsonError(c, fiber.StatusBadGateway, gwErr.Error())
	}
	log.Printf("[ERROR] billing: %v", err)
	return helper.JsonError(c, fiber.StatusInternalServerError, "internal server error")
}

func fieldErrors(err error) map[string][]string {
	out := map[string][]string{}
	var vErrs validator.ValidationErrors
	if errors.As(err, &vErrs) {
		for _, fe := range vErrs {
			key := strings.ToLower(fe.Field())
			out[key] = append(out[key], fe.Tag())
		}
	}
	return out
}
