// file: internals/features/billing/payments/controller/webhook_controller.go
package controller

import (
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"brightsteps_backend/internals/features/billing/payments/gateway"
	"brightsteps_backend/internals/features/billing/payments/model"
	"brightsteps_backend/internals/features/billing/payments/service"
	helper "brightsteps_backend/internals/helpers"
)

/* =========================================================
   Webhook intake

   Order of operations is load-bearing:
     1. verify the signature over the EXACT raw bytes; reject with
        401 and zero side effects on mismatch
     2. record the delivery in the audit table
     3. reconcile by reference (idempotent, so replays are safe)
   The endpoint answers 200 for anything past the signature check
   so the provider stops retrying deliveries we have on record.
========================================================= */

type WebhookController struct {
	DB       *gorm.DB
	Service  *service.ReconcileService
	Gateway  gateway.Client
	Provider model.GatewayProvider
}

func NewWebhookController(db *gorm.DB, svc *service.ReconcileService, gw gateway.Client, provider model.GatewayProvider) *WebhookController {
	return &WebhookController{DB: db, Service: svc, Gateway: gw, Provider: provider}
}

func (ctl *WebhookController) Handle(c *fiber.Ctx) error {
	rawBody := c.Body()
	signature := signatureHeader(c, ctl.Provider)

	if !ctl.Gateway.VerifyWebhookSignature(rawBody, signature) {
		// Do not write anything: an unsigned delivery is not trusted even as
		// an audit record.
		return helper.JsonError(c, fiber.StatusUnauthorized, "invalid webhook signature")
	}

	eventType, reference := parseNotification(ctl.Provider, rawBody)

	event := &model.PaymentWebhookEvent{
		EventProvider: ctl.Provider,
		EventStatus:   model.WebhookEventStatusReceived,
		EventPayload:  datatypes.JSON(rawBody),
	}
	if eventType != "" {
		event.EventType = &eventType
	}
	if reference != "" {
		event.EventReference = &reference
	}
	if signature != "" {
		event.EventSignature = &signature
	}
	if headers, err := json.Marshal(headerMap(c)); err == nil {
		event.EventHeaders = datatypes.JSON(headers)
	}
	if err := ctl.DB.Create(event).Error; err != nil {
		log.Printf("[ERROR] webhook audit insert failed: %v", err)
		return helper.JsonError(c, fiber.StatusInternalServerError, "failed to record webhook")
	}

	if reference == "" {
		ctl.finishEvent(event, model.WebhookEventStatusIgnored, "notification carries no reference")
		return helper.JsonOK(c, "ignored", nil)
	}

	// Tenant scope comes from the payment row, not the request: webhooks
	// arrive unauthenticated.
	var p model.Payment
	if err := ctl.DB.
		First(&p, "payment_reference_number = ? AND payment_deleted_at IS NULL", reference).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			ctl.finishEvent(event, model.WebhookEventStatusIgnored, "no payment for reference "+reference)
			return helper.JsonOK(c, "ignored", nil)
		}
		ctl.finishEvent(event, model.WebhookEventStatusFailed, err.Error())
		return helper.JsonError(c, fiber.StatusInternalServerError, "failed to load payment")
	}
	event.EventTenantID = &p.PaymentTenantID
	event.EventPaymentID = &p.PaymentID

	if !successEvent(ctl.Provider, eventType) {
		// failed/pending notifications are audited but never move the ledger
		ctl.finishEvent(event, model.WebhookEventStatusIgnored, "")
		return helper.JsonOK(c, "ignored", nil)
	}

	if _, err := ctl.Service.Reconcile(c.Context(), reference, p.PaymentTenantID); err != nil {
		var pfErr *service.PaymentFailedError
		if errors.As(err, &pfErr) {
			// Gateway says the charge did not succeed after all; the payment
			// row already carries the failure reason.
			ctl.finishEvent(event, model.WebhookEventStatusProcessed, pfErr.Reason)
			return helper.JsonOK(c, "processed", nil)
		}
		ctl.finishEvent(event, model.WebhookEventStatusFailed, err.Error())
		log.Printf("[ERROR] webhook reconcile for %s: %v", reference, err)
		return helper.JsonError(c, fiber.StatusInternalServerError, "reconciliation failed")
	}

	ctl.finishEvent(event, model.WebhookEventStatusProcessed, "")
	return helper.JsonOK(c, "processed", nil)
}

func (ctl *WebhookController) finishEvent(event *model.PaymentWebhookEvent, status model.WebhookEventStatus, errMsg string) {
	now := time.Now().UTC()
	updates := map[string]any{
		"event_status":       status,
		"event_processed_at": now,
	}
	if errMsg != "" {
		updates["event_error"] = errMsg
	}
	if event.EventTenantID != nil {
		updates["event_tenant_id"] = *event.EventTenantID
	}
	if event.EventPaymentID != nil {
		updates["event_payment_id"] = *event.EventPaymentID
	}
	if err := ctl.DB.Model(&model.PaymentWebhookEvent{}).
		Where("event_id = ?", event.EventID).
		Updates(updates).Error; err != nil {
		log.Printf("[WARN] webhook audit update failed: %v", err)
	}
}

/* =========================================================
   Provider plumbing
========================================================= */

func signatureHeader(c *fiber.Ctx, provider model.GatewayProvider) string {
	switch provider {
	case model.GatewayProviderPaystack:
		return c.Get("x-paystack-signature")
	default:
		return "" // midtrans signs inside the body
	}
}

// parseNotification pulls the event type and transaction reference out of the
// provider-specific payload shape.
func parseNotification(provider model.GatewayProvider, rawBody []byte) (eventType, reference string) {
	switch provider {
	case model.GatewayProviderMidtrans:
		var notif struct {
			OrderID           string `json:"order_id"`
			TransactionStatus string `json:"transaction_status"`
		}
		if err := json.Unmarshal(rawBody, &notif); err != nil {
			return "", ""
		}
		return strings.ToLower(notif.TransactionStatus), notif.OrderID
	default: // paystack
		var notif struct {
			Event string `json:"event"`
			Data  struct {
				Reference string `json:"reference"`
			} `json:"data"`
		}
		if err := json.Unmarshal(rawBody, &notif); err != nil {
			return "", ""
		}
		return strings.ToLower(notif.Event), notif.Data.Reference
	}
}

// successEvent: only these notification types may trigger a reconcile; the
// gateway is still re-queried before any money moves.
func successEvent(provider model.GatewayProvider, eventType string) bool {
	switch provider {
	case model.GatewayProviderMidtrans:
		return eventType == "settlement" || eventType == "capture"
	default:
		return eventType == "charge.success"
	}
}

func headerMap(c *fiber.Ctx) map[string]string {
	out := map[string]string{}
	c.Request().Header.VisitAll(func(k, v []byte) {
		key := strings.ToLower(string(k))
		if key == "authorization" || key == "cookie" {
			return
		}
		out[key] = string(v)
	})
	return out
}
