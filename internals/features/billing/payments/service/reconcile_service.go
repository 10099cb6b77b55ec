// file: internals/features/billing/payments/service/reconcile_service.go
package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	invoiceModel "brightsteps_backend/internals/features/billing/invoices/model"
	"brightsteps_backend/internals/features/billing/payments/gateway"
	"brightsteps_backend/internals/features/billing/payments/model"
)

/* =========================================================
   Reconciliation Engine

   Sole authority for mutating invoice ledgers from payment
   events. Every entry point (manual creation, client verify,
   webhook) funnels into the same conditional-update path, so a
   payment is applied to its invoice at most once no matter how
   often or how concurrently it is reported.
========================================================= */

type ReconcileService struct {
	DB       *gorm.DB
	Gateway  gateway.Client
	Notifier Notifier
	Provider model.GatewayProvider
	Currency string
}

func NewReconcileService(db *gorm.DB, gw gateway.Client, notifier Notifier, provider model.GatewayProvider, currency string) *ReconcileService {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &ReconcileService{
		DB:       db,
		Gateway:  gw,
		Notifier: notifier,
		Provider: provider,
		Currency: currency,
	}
}

// completableFrom lists the states a payment may leave towards 'completed'.
// 'failed' is included because a failed reconciliation attempt may be retried
// by reference and the gateway re-queried; 'completed' and 'refunded' are
// terminal for the ledger.
var completableFrom = []model.PaymentStatus{
	model.PaymentStatusPending,
	model.PaymentStatusProcessing,
	model.PaymentStatusFailed,
}

/* =========================================================
   Inputs
========================================================= */

type CreateManualPaymentInput struct {
	InvoiceID uuid.UUID
	TenantID  uuid.UUID
	CenterID  *uuid.UUID
	Amount    decimal.Decimal
	Method    model.PaymentMethod

	MobileProvider *string
	MobilePhone    *string
	BankName       *string
	BankAccount    *string
	CashReceivedBy *string
	Note           *string
}

type InitiateOnlinePaymentInput struct {
	InvoiceID   uuid.UUID
	TenantID    uuid.UUID
	CenterID    *uuid.UUID
	Email       string
	Amount      decimal.Decimal
	Method      model.PaymentMethod // card | mobile_money
	Channels    []string
	CallbackURL string
	Metadata    map[string]any
}

type InitiateOnlinePaymentResult struct {
	Payment     *model.Payment
	Reference   string
	RedirectURL string
	AccessCode  string
}

/* =========================================================
   Manual payments
========================================================= */

// CreateManualPayment records a cash/bank/check payment. Cash completes and
// reconciles synchronously; other methods stay pending until
// ConfirmManualPayment.
func (s *ReconcileService) CreateManualPayment(ctx context.Context, in CreateManualPaymentInput) (*model.Payment, error) {
	if !ValidPaymentMethodForManual(in.Method) {
		return nil, &ValidationError{Msg: "unsupported manual payment method"}
	}

	var (
		created *model.Payment
		invCopy *invoiceModel.Invoice
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.invoiceOpenForPayment(tx, in.InvoiceID, in.TenantID, in.Amount)
		if err != nil {
			return err
		}

		p := &model.Payment{
			PaymentTenantID:        in.TenantID,
			PaymentCenterID:        in.CenterID,
			PaymentInvoiceID:       inv.InvoiceID,
			PaymentReferenceNumber: GenReference("PAY"),
			PaymentAmount:          in.Amount,
			PaymentCurrency:        inv.InvoiceCurrency,
			PaymentMethod:          in.Method,
			PaymentStatus:          model.PaymentStatusPending,
			PaymentMobileProvider:  in.MobileProvider,
			PaymentMobilePhone:     in.MobilePhone,
			PaymentBankName:        in.BankName,
			PaymentBankAccount:     in.BankAccount,
			PaymentCashReceivedBy:  in.CashReceivedBy,
			PaymentNote:            in.Note,
		}
		if err := tx.Create(p).Error; err != nil {
			return err
		}

		if in.Method == model.PaymentMethodCash {
			now := time.Now().UTC()
			won, invAfter, err := s.applyCompleted(tx, p, map[string]any{
				"payment_status":       model.PaymentStatusCompleted,
				"payment_processed_at": now,
				"payment_updated_at":   now,
			}, now)
			if err != nil {
				return err
			}
			if won {
				invCopy = invAfter
			}
			if err := tx.First(p, "payment_id = ?", p.PaymentID).Error; err != nil {
				return err
			}
		}

		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if invCopy != nil {
		s.notifyCompleted(created, invCopy)
	}
	return created, nil
}

// ConfirmManualPayment settles a non-cash manual payment (bank transfer,
// check) once the money is sighted: pending → completed, ledger applied
// through the same single path.
func (s *ReconcileService) ConfirmManualPayment(ctx context.Context, paymentID, tenantID uuid.UUID) (*model.Payment, error) {
	var p model.Payment
	if err := s.DB.WithContext(ctx).
		First(&p, "payment_id = ? AND payment_tenant_id = ? AND payment_deleted_at IS NULL", paymentID, tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Msg: "payment not found"}
		}
		return nil, err
	}

	if p.PaymentStatus == model.PaymentStatusCompleted {
		return &p, nil // already confirmed, no-op
	}
	if p.PaymentGatewayProvider != nil {
		return nil, &ValidationError{Msg: "online payments are reconciled by reference, not confirmed manually"}
	}
	if p.PaymentStatus != model.PaymentStatusPending && p.PaymentStatus != model.PaymentStatusProcessing {
		return nil, &ValidationError{Msg: "payment is not awaiting confirmation"}
	}

	now := time.Now().UTC()
	var invCopy *invoiceModel.Invoice
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		won, invAfter, err := s.applyCompleted(tx, &p, map[string]any{
			"payment_status":       model.PaymentStatusCompleted,
			"payment_processed_at": now,
			"payment_updated_at":   now,
		}, now)
		if err != nil {
			return err
		}
		if won {
			invCopy = invAfter
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.DB.WithContext(ctx).First(&p, "payment_id = ?", p.PaymentID).Error; err != nil {
		return nil, err
	}
	if invCopy != nil {
		s.notifyCompleted(&p, invCopy)
	}
	return &p, nil
}

/* =========================================================
   Online payments
========================================================= */

// InitiateOnlinePayment opens a gateway-hosted transaction. The payment row
// is committed first so a crashed initiation still leaves a reconcilable
// pending record; the remote call happens outside the transaction.
func (s *ReconcileService) InitiateOnlinePayment(ctx context.Context, in InitiateOnlinePaymentInput) (*InitiateOnlinePaymentResult, error) {
	if in.Method != model.PaymentMethodCard && in.Method != model.PaymentMethodMobileMoney {
		return nil, &ValidationError{Msg: "online payments support card or mobile_money only"}
	}
	if in.Email == "" {
		return nil, &ValidationError{Msg: "payer email is required for online payments"}
	}

	minor, err := toMinorUnits(in.Amount)
	if err != nil {
		return nil, err
	}

	var (
		p   *model.Payment
		inv *invoiceModel.Invoice
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		inv, txErr = s.invoiceOpenForPayment(tx, in.InvoiceID, in.TenantID, in.Amount)
		if txErr != nil {
			return txErr
		}

		provider := s.Provider
		p = &model.Payment{
			PaymentTenantID:        in.TenantID,
			PaymentCenterID:        in.CenterID,
			PaymentInvoiceID:       inv.InvoiceID,
			PaymentReferenceNumber: GenReference("PAY"),
			PaymentAmount:          in.Amount,
			PaymentCurrency:        inv.InvoiceCurrency,
			PaymentMethod:          in.Method,
			PaymentStatus:          model.PaymentStatusPending,
			PaymentGatewayProvider: &provider,
			PaymentPayerEmail:      &in.Email,
			PaymentChannels:        pq.StringArray(in.Channels),
		}
		return tx.Create(p).Error
	})
	if err != nil {
		return nil, err
	}

	// Self-describing metadata so the transaction can be traced from the
	// gateway dashboard alone.
	meta := map[string]any{
		"payment_id":     p.PaymentID.String(),
		"invoice_id":     inv.InvoiceID.String(),
		"invoice_number": inv.InvoiceNumber,
		"child_id":       inv.InvoiceChildID.String(),
		"tenant_id":      in.TenantID.String(),
	}
	if in.CenterID != nil {
		meta["center_id"] = in.CenterID.String()
	}
	for k, v := range in.Metadata {
		meta[k] = v
	}

	res, err := s.Gateway.InitializeTransaction(ctx, gateway.InitializeRequest{
		Email:       in.Email,
		AmountMinor: minor,
		Reference:   p.PaymentReferenceNumber,
		Currency:    s.Currency,
		Channels:    in.Channels,
		CallbackURL: in.CallbackURL,
		Metadata:    meta,
	})
	if err != nil {
		// No retry here: the caller may re-initiate; this attempt is dead.
		s.markFailed(ctx, p, err.Error())
		return nil, err
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"payment_checkout_url": res.RedirectURL,
		"payment_access_code":  res.AccessCode,
		"payment_updated_at":   now,
	}
	if raw, mErr := json.Marshal(meta); mErr == nil {
		updates["payment_metadata"] = datatypes.JSON(raw)
	}
	if err := s.DB.WithContext(ctx).Model(&model.Payment{}).
		Where("payment_id = ?", p.PaymentID).
		Updates(updates).Error; err != nil {
		return nil, err
	}
	if err := s.DB.WithContext(ctx).First(p, "payment_id = ?", p.PaymentID).Error; err != nil {
		return nil, err
	}

	return &InitiateOnlinePaymentResult{
		Payment:     p,
		Reference:   p.PaymentReferenceNumber,
		RedirectURL: res.RedirectURL,
		AccessCode:  res.AccessCode,
	}, nil
}

/* =========================================================
   Reconcile — the idempotent core
========================================================= */

// Reconcile applies the gateway's authoritative outcome for a reference to
// the ledger, exactly once. Both the client-verify endpoint and the webhook
// call this; replays and races converge on the same completed payment.
func (s *ReconcileService) Reconcile(ctx context.Context, reference string, tenantID uuid.UUID) (*model.Payment, error) {
	var p model.Payment
	if err := s.DB.WithContext(ctx).
		First(&p, "payment_reference_number = ? AND payment_tenant_id = ? AND payment_deleted_at IS NULL", reference, tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Msg: "payment not found for reference " + reference}
		}
		return nil, err
	}

	// Idempotency guarantee: a duplicate webhook or a re-poll after a
	// successful verify returns the settled payment untouched.
	if p.PaymentStatus == model.PaymentStatusCompleted || p.PaymentStatus == model.PaymentStatusRefunded {
		return &p, nil
	}
	if p.PaymentGatewayProvider == nil {
		return nil, &ValidationError{Msg: "manual payments are confirmed, not reconciled"}
	}

	res, err := s.Gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		// This attempt failed; a later Reconcile by the same reference will
		// re-query the gateway.
		s.markFailed(ctx, &p, err.Error())
		return nil, err
	}

	now := time.Now().UTC()
	if !res.Success {
		s.markFailed(ctx, &p, res.FailureReason)
		return nil, &PaymentFailedError{Reference: reference, Reason: res.FailureReason}
	}

	processedAt := now
	if res.SettledAt != nil {
		processedAt = *res.SettledAt
	}
	updates := map[string]any{
		"payment_status":         model.PaymentStatusCompleted,
		"payment_processed_at":   processedAt,
		"payment_failure_reason": nil,
		"payment_updated_at":     now,
	}
	if res.GatewayTxnID != "" {
		updates["payment_gateway_txn_id"] = res.GatewayTxnID
	}
	if res.Authorization != nil {
		if res.Authorization.CardLast4 != "" {
			updates["payment_card_last4"] = res.Authorization.CardLast4
		}
		if res.Authorization.CardProvider != "" {
			updates["payment_card_provider"] = res.Authorization.CardProvider
		}
		if res.Authorization.AuthorizationRef != "" {
			updates["payment_authorization_ref"] = res.Authorization.AuthorizationRef
		}
	}

	var invCopy *invoiceModel.Invoice
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		won, invAfter, txErr := s.applyCompleted(tx, &p, updates, now)
		if txErr != nil {
			return txErr
		}
		if won {
			invCopy = invAfter
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.DB.WithContext(ctx).First(&p, "payment_id = ?", p.PaymentID).Error; err != nil {
		return nil, err
	}
	if invCopy != nil {
		s.notifyCompleted(&p, invCopy)
	}
	return &p, nil
}

/* =========================================================
   Refund
========================================================= */

// Refund reverses a completed payment, fully or partially. Fail closed: the
// local ledger only moves after the remote refund confirmed.
func (s *ReconcileService) Refund(ctx context.Context, paymentID, tenantID uuid.UUID, refundAmount *decimal.Decimal, reason *string) (*model.Payment, error) {
	var p model.Payment
	if err := s.DB.WithContext(ctx).
		First(&p, "payment_id = ? AND payment_tenant_id = ? AND payment_deleted_at IS NULL", paymentID, tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Msg: "payment not found"}
		}
		return nil, err
	}

	if p.PaymentStatus != model.PaymentStatusCompleted {
		return nil, &ValidationError{Msg: "only completed payments can be refunded"}
	}
	if p.PaymentIsRefunded {
		return nil, &ValidationError{Msg: "payment has already been refunded"}
	}

	amt := p.PaymentAmount
	if refundAmount != nil {
		amt = *refundAmount
	}
	if amt.Sign() <= 0 {
		return nil, &ValidationError{Msg: "refund amount must be positive"}
	}
	if amt.GreaterThan(p.PaymentAmount) {
		return nil, &ValidationError{Msg: "refund amount exceeds payment amount"}
	}

	now := time.Now().UTC()

	if p.IsGatewaySettled() {
		minor, err := toMinorUnits(amt)
		if err != nil {
			return nil, err
		}

		// Claim the refund before talking to the gateway. The conditional
		// update admits exactly one caller, so concurrent requests cannot
		// each trigger a remote refund for the same payment.
		claim := s.DB.WithContext(ctx).Model(&model.Payment{}).
			Where("payment_id = ? AND payment_status = ? AND payment_is_refunded = ? AND payment_refund_requested_at IS NULL",
				p.PaymentID, model.PaymentStatusCompleted, false).
			Update("payment_refund_requested_at", now)
		if claim.Error != nil {
			return nil, claim.Error
		}
		if claim.RowsAffected == 0 {
			return nil, &ValidationError{Msg: "a refund for this payment is already in progress or recorded"}
		}

		if err := s.Gateway.RefundTransaction(ctx, p.PaymentReferenceNumber, &minor); err != nil {
			// Release the claim so the caller can retry once the gateway
			// recovers.
			if relErr := s.DB.WithContext(ctx).Model(&model.Payment{}).
				Where("payment_id = ? AND payment_status = ? AND payment_is_refunded = ?",
					p.PaymentID, model.PaymentStatusCompleted, false).
				Update("payment_refund_requested_at", nil).Error; relErr != nil {
				return nil, relErr
			}
			return nil, &RefundFailedError{Msg: "gateway refund failed", Err: err}
		}
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Payment{}).
			Where("payment_id = ? AND payment_status = ? AND payment_is_refunded = ?",
				p.PaymentID, model.PaymentStatusCompleted, false).
			Updates(map[string]any{
				"payment_status":        model.PaymentStatusRefunded,
				"payment_is_refunded":   true,
				"payment_refund_amount": amt,
				"payment_refund_reason": reason,
				"payment_refunded_at":   now,
				"payment_updated_at":    now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &ValidationError{Msg: "payment has already been refunded"}
		}

		if err := tx.Model(&invoiceModel.Invoice{}).
			Where("invoice_id = ?", p.PaymentInvoiceID).
			Updates(map[string]any{
				"invoice_amount_paid":       gorm.Expr("invoice_amount_paid - ?", amt),
				"invoice_balance_remaining": gorm.Expr("invoice_balance_remaining + ?", amt),
			}).Error; err != nil {
			return err
		}

		return s.refreshInvoiceStatus(tx, p.PaymentInvoiceID, now)
	})
	if err != nil {
		return nil, err
	}

	if err := s.DB.WithContext(ctx).First(&p, "payment_id = ?", p.PaymentID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

/* =========================================================
   Internals
========================================================= */

// invoiceOpenForPayment loads the invoice inside the caller's transaction and
// enforces the create-side business rules. Nothing is mutated on violation.
// The row is locked for the rest of the transaction so two concurrent creates
// cannot both validate against the same balance.
func (s *ReconcileService) invoiceOpenForPayment(tx *gorm.DB, invoiceID, tenantID uuid.UUID, amount decimal.Decimal) (*invoiceModel.Invoice, error) {
	q := tx
	// FOR UPDATE is Postgres-only; the sqlite test harness serializes
	// transactions on its single connection instead.
	if tx.Dialector.Name() == "postgres" {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var inv invoiceModel.Invoice
	if err := q.
		First(&inv, "invoice_id = ? AND invoice_tenant_id = ? AND invoice_deleted_at IS NULL", invoiceID, tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Msg: "invoice not found"}
		}
		return nil, err
	}

	if inv.InvoiceStatus == invoiceModel.InvoiceStatusCancelled {
		return nil, &ValidationError{Msg: "invoice is cancelled"}
	}
	if inv.InvoiceStatus == invoiceModel.InvoiceStatusPaid {
		return nil, &ValidationError{Msg: "invoice is already paid"}
	}
	if amount.Sign() <= 0 {
		return nil, &ValidationError{Msg: "payment amount must be positive"}
	}
	if amount.GreaterThan(inv.InvoiceBalanceRemaining) {
		return nil, &ValidationError{Msg: "payment amount exceeds balance remaining"}
	}

	// Pending and processing payments are exposure: money that may still
	// settle against this invoice. A new payment may only claim the balance
	// net of that exposure, otherwise two open checkouts could both settle
	// and drive the balance negative.
	outstanding, err := outstandingExposure(tx, inv.InvoiceID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(inv.InvoiceBalanceRemaining.Sub(outstanding)) {
		return nil, &ValidationError{Msg: "payment amount exceeds balance remaining net of payments in flight"}
	}
	return &inv, nil
}

// outstandingExposure sums the invoice's pending/processing payments.
func outstandingExposure(tx *gorm.DB, invoiceID uuid.UUID) (decimal.Decimal, error) {
	var row struct {
		Total decimal.Decimal
	}
	err := tx.Model(&model.Payment{}).
		Select("COALESCE(SUM(payment_amount), 0) AS total").
		Where("payment_invoice_id = ? AND payment_status IN ? AND payment_deleted_at IS NULL",
			invoiceID, []model.PaymentStatus{model.PaymentStatusPending, model.PaymentStatusProcessing}).
		Scan(&row).Error
	return row.Total, err
}

// applyCompleted is the single point where the ledger moves forward. The
// conditional update on payment_status is the compare-and-set that keeps the
// application at-most-once under webhook/verify races: the loser sees zero
// rows affected and must not touch the invoice.
func (s *ReconcileService) applyCompleted(tx *gorm.DB, p *model.Payment, updates map[string]any, now time.Time) (bool, *invoiceModel.Invoice, error) {
	res := tx.Model(&model.Payment{}).
		Where("payment_id = ? AND payment_status IN ?", p.PaymentID, completableFrom).
		Updates(updates)
	if res.Error != nil {
		return false, nil, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil, nil // race lost; caller re-reads the winner's row
	}

	if err := tx.Model(&invoiceModel.Invoice{}).
		Where("invoice_id = ?", p.PaymentInvoiceID).
		Updates(map[string]any{
			"invoice_amount_paid":       gorm.Expr("invoice_amount_paid + ?", p.PaymentAmount),
			"invoice_balance_remaining": gorm.Expr("invoice_balance_remaining - ?", p.PaymentAmount),
		}).Error; err != nil {
		return false, nil, err
	}

	if err := s.refreshInvoiceStatus(tx, p.PaymentInvoiceID, now); err != nil {
		return false, nil, err
	}

	var inv invoiceModel.Invoice
	if err := tx.First(&inv, "invoice_id = ?", p.PaymentInvoiceID).Error; err != nil {
		return false, nil, err
	}
	return true, &inv, nil
}

// refreshInvoiceStatus re-reads the ledger inside the transaction and
// persists the derived status (and paid_date transitions).
func (s *ReconcileService) refreshInvoiceStatus(tx *gorm.DB, invoiceID uuid.UUID, now time.Time) error {
	var inv invoiceModel.Invoice
	if err := tx.First(&inv, "invoice_id = ?", invoiceID).Error; err != nil {
		return err
	}
	inv.RefreshStatus(now)
	return tx.Model(&invoiceModel.Invoice{}).
		Where("invoice_id = ?", invoiceID).
		Updates(map[string]any{
			"invoice_status":     inv.InvoiceStatus,
			"invoice_paid_date":  inv.InvoicePaidDate,
			"invoice_updated_at": now,
		}).Error
}

// markFailed records a failed attempt without ever clobbering a concurrently
// completed payment.
func (s *ReconcileService) markFailed(ctx context.Context, p *model.Payment, reason string) {
	now := time.Now().UTC()
	_ = s.DB.WithContext(ctx).Model(&model.Payment{}).
		Where("payment_id = ? AND payment_status IN ?", p.PaymentID, completableFrom).
		Updates(map[string]any{
			"payment_status":         model.PaymentStatusFailed,
			"payment_failure_reason": reason,
			"payment_updated_at":     now,
		}).Error
}

// toMinorUnits converts a major-unit amount to the gateway's integer minor
// unit with an exact multiply; sub-minor precision is rejected, never rounded.
func toMinorUnits(amount decimal.Decimal) (int64, error) {
	minor := amount.Mul(decimal.NewFromInt(100))
	if !minor.IsInteger() {
		return 0, &ValidationError{Msg: "amount has more precision than the minor currency unit"}
	}
	return minor.IntPart(), nil
}

// ValidPaymentMethodForManual: everything except gateway-only channels.
func ValidPaymentMethodForManual(m model.PaymentMethod) bool {
	switch m {
	case model.PaymentMethodCash, model.PaymentMethodBankTransfer, model.PaymentMethodCheck, model.PaymentMethodMobileMoney:
		return true
	}
	return false
}
