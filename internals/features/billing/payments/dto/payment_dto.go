// file: internals/features/billing/payments/dto/payment_dto.go
package dto

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"brightsteps_backend/internals/features/billing/payments/model"
	"brightsteps_backend/internals/features/billing/payments/service"
)

var validate = validator.New()

/* =========================================================
   Requests
========================================================= */

type CreateManualPaymentRequest struct {
	InvoiceID string          `json:"invoice_id" validate:"required,uuid"`
	Amount    decimal.Decimal `json:"amount" validate:"required"`
	Method    string          `json:"method" validate:"required,oneof=cash bank_transfer check mobile_money"`

	MobileProvider *string `json:"mobile_provider,omitempty" validate:"omitempty,max=40"`
	MobilePhone    *string `json:"mobile_phone,omitempty" validate:"omitempty,max=32"`
	BankName       *string `json:"bank_name,omitempty" validate:"omitempty,max=80"`
	BankAccount    *string `json:"bank_account,omitempty" validate:"omitempty,max=40"`
	CashReceivedBy *string `json:"cash_received_by,omitempty" validate:"omitempty,max=120"`
	Note           *string `json:"note,omitempty" validate:"omitempty,max=2000"`
}

func (r *CreateManualPaymentRequest) Validate() error {
	return validate.Struct(r)
}

// ToInput resolves the request into service input; tenant/center come from the
// auth context, never from the body.
func (r *CreateManualPaymentRequest) ToInput(tenantID uuid.UUID, centerID *uuid.UUID) (service.CreateManualPaymentInput, error) {
	invoiceID, err := uuid.Parse(r.InvoiceID)
	if err != nil {
		return service.CreateManualPaymentInput{}, err
	}
	return service.CreateManualPaymentInput{
		InvoiceID:      invoiceID,
		TenantID:       tenantID,
		CenterID:       centerID,
		Amount:         r.Amount,
		Method:         model.PaymentMethod(r.Method),
		MobileProvider: r.MobileProvider,
		MobilePhone:    r.MobilePhone,
		BankName:       r.BankName,
		BankAccount:    r.BankAccount,
		CashReceivedBy: r.CashReceivedBy,
		Note:           r.Note,
	}, nil
}

type InitiateOnlinePaymentRequest struct {
	InvoiceID   string          `json:"invoice_id" validate:"required,uuid"`
	Email       string          `json:"email" validate:"required,email,max=254"`
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	Method      string          `json:"method" validate:"required,oneof=card mobile_money"`
	Channels    []string        `json:"channels,omitempty" validate:"omitempty,dive,max=40"`
	CallbackURL string          `json:"callback_url,omitempty" validate:"omitempty,url,max=2000"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

func (r *InitiateOnlinePaymentRequest) Validate() error {
	return validate.Struct(r)
}

func (r *InitiateOnlinePaymentRequest) ToInput(tenantID uuid.UUID, centerID *uuid.UUID) (service.InitiateOnlinePaymentInput, error) {
	invoiceID, err := uuid.Parse(r.InvoiceID)
	if err != nil {
		return service.InitiateOnlinePaymentInput{}, err
	}
	return service.InitiateOnlinePaymentInput{
		InvoiceID:   invoiceID,
		TenantID:    tenantID,
		CenterID:    centerID,
		Email:       r.Email,
		Amount:      r.Amount,
		Method:      model.PaymentMethod(r.Method),
		Channels:    r.Channels,
		CallbackURL: r.CallbackURL,
		Metadata:    r.Metadata,
	}, nil
}

type RefundPaymentRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Reason *string          `json:"reason,omitempty" validate:"omitempty,max=2000"`
}

func (r *RefundPaymentRequest) Validate() error {
	return validate.Struct(r)
}

/* =========================================================
   Responses
========================================================= */

type PaymentResponse struct {
	PaymentID       uuid.UUID  `json:"payment_id"`
	InvoiceID       uuid.UUID  `json:"invoice_id"`
	CenterID        *uuid.UUID `json:"center_id,omitempty"`
	ReferenceNumber string     `json:"reference_number"`
	Amount          string     `json:"amount"`
	Currency        string     `json:"currency"`
	Method          string     `json:"method"`
	Status          string     `json:"status"`
	FailureReason   *string    `json:"failure_reason,omitempty"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`

	GatewayProvider *string  `json:"gateway_provider,omitempty"`
	GatewayTxnID    *string  `json:"gateway_txn_id,omitempty"`
	CheckoutURL     *string  `json:"checkout_url,omitempty"`
	AccessCode      *string  `json:"access_code,omitempty"`
	Channels        []string `json:"channels,omitempty"`
	PayerEmail      *string  `json:"payer_email,omitempty"`

	MobileProvider *string `json:"mobile_provider,omitempty"`
	MobilePhone    *string `json:"mobile_phone,omitempty"`
	BankName       *string `json:"bank_name,omitempty"`
	BankAccount    *string `json:"bank_account,omitempty"`
	CardProvider   *string `json:"card_provider,omitempty"`
	CardLast4      *string `json:"card_last4,omitempty"`
	CashReceivedBy *string `json:"cash_received_by,omitempty"`

	IsRefunded   bool       `json:"is_refunded"`
	RefundAmount *string    `json:"refund_amount,omitempty"`
	RefundedAt   *time.Time `json:"refunded_at,omitempty"`
	RefundReason *string    `json:"refund_reason,omitempty"`

	Note      *string   `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func FromPaymentModel(p *model.Payment) *PaymentResponse {
	resp := &PaymentResponse{
		PaymentID:       p.PaymentID,
		InvoiceID:       p.PaymentInvoiceID,
		CenterID:        p.PaymentCenterID,
		ReferenceNumber: p.PaymentReferenceNumber,
		Amount:          p.PaymentAmount.StringFixed(2),
		Currency:        p.PaymentCurrency,
		Method:          string(p.PaymentMethod),
		Status:          string(p.PaymentStatus),
		FailureReason:   p.PaymentFailureReason,
		ProcessedAt:     p.PaymentProcessedAt,
		GatewayTxnID:    p.PaymentGatewayTxnID,
		CheckoutURL:     p.PaymentCheckoutURL,
		AccessCode:      p.PaymentAccessCode,
		Channels:        p.PaymentChannels,
		PayerEmail:      p.PaymentPayerEmail,
		MobileProvider:  p.PaymentMobileProvider,
		MobilePhone:     p.PaymentMobilePhone,
		BankName:        p.PaymentBankName,
		BankAccount:     p.PaymentBankAccount,
		CardProvider:    p.PaymentCardProvider,
		CardLast4:       p.PaymentCardLast4,
		CashReceivedBy:  p.PaymentCashReceivedBy,
		IsRefunded:      p.PaymentIsRefunded,
		RefundedAt:      p.PaymentRefundedAt,
		RefundReason:    p.PaymentRefundReason,
		Note:            p.PaymentNote,
		CreatedAt:       p.PaymentCreatedAt,
		UpdatedAt:       p.PaymentUpdatedAt,
	}
	if p.PaymentGatewayProvider != nil {
		provider := string(*p.PaymentGatewayProvider)
		resp.GatewayProvider = &provider
	}
	if p.PaymentRefundAmount != nil {
		amount := p.PaymentRefundAmount.StringFixed(2)
		resp.RefundAmount = &amount
	}
	return resp
}

func FromPaymentModels(payments []model.Payment) []*PaymentResponse {
	out := make([]*PaymentResponse, 0, len(payments))
	for i := range payments {
		out = append(out, FromPaymentModel(&payments[i]))
	}
	return out
}

// InitiateOnlinePaymentResponse wraps the created payment with the redirect
// the client must follow to the gateway checkout page.
type InitiateOnlinePaymentResponse struct {
	Payment     *PaymentResponse `json:"payment"`
	Reference   string           `json:"reference"`
	RedirectURL string           `json:"redirect_url"`
	AccessCode  string           `json:"access_code,omitempty"`
}

func FromInitiateResult(res *service.InitiateOnlinePaymentResult) *InitiateOnlinePaymentResponse {
	return &InitiateOnlinePaymentResponse{
		Payment:     FromPaymentModel(res.Payment),
		Reference:   res.Reference,
		RedirectURL: res.RedirectURL,
		AccessCode:  res.AccessCode,
	}
}

/* =========================================================
   Webhook audit
========================================================= */

type WebhookEventResponse struct {
	EventID     uuid.UUID  `json:"event_id"`
	PaymentID   *uuid.UUID `json:"payment_id,omitempty"`
	Provider    string     `json:"provider"`
	Type        string     `json:"type"`
	Reference   string     `json:"reference"`
	EventStatus string     `json:"event_status"`
	Error       *string    `json:"error,omitempty"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

func FromWebhookEventModel(e *model.PaymentWebhookEvent) *WebhookEventResponse {
	resp := &WebhookEventResponse{
		EventID:     e.EventID,
		PaymentID:   e.EventPaymentID,
		Provider:    string(e.EventProvider),
		EventStatus: string(e.EventStatus),
		Error:       e.EventError,
		ReceivedAt:  e.EventReceivedAt,
		ProcessedAt: e.EventProcessedAt,
	}
	if e.EventType != nil {
		resp.Type = *e.EventType
	}
	if e.EventReference != nil {
		resp.Reference = *e.EventReference
	}
	return resp
}

func FromWebhookEventModels(events []model.PaymentWebhookEvent) []*WebhookEventResponse {
	out := make([]*WebhookEventResponse, 0, len(events))
	for i := range events {
		out = append(out, FromWebhookEventModel(&events[i]))
	}
	return out
}
