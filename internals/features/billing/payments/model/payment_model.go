// file: internals/features/billing/payments/model/payment_model.go
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

/* ================================
   MODEL: payments (ledger line)

   One attempted or completed money movement against exactly one
   invoice. reference_number is the idempotency key: generated once,
   unique at the store level, never reused. The transition into
   'completed' is the only point where the invoice ledger moves.
================================ */

type Payment struct {
	PaymentID uuid.UUID `gorm:"column:payment_id;type:uuid;primaryKey;default:gen_random_uuid()" json:"payment_id"`

	// Tenant & target
	PaymentTenantID  uuid.UUID  `gorm:"column:payment_tenant_id;type:uuid;not null;index" json:"payment_tenant_id"`
	PaymentCenterID  *uuid.UUID `gorm:"column:payment_center_id;type:uuid;index" json:"payment_center_id,omitempty"`
	PaymentInvoiceID uuid.UUID  `gorm:"column:payment_invoice_id;type:uuid;not null;index" json:"payment_invoice_id"`

	// Idempotency key
	PaymentReferenceNumber string `gorm:"column:payment_reference_number;type:varchar(60);not null;uniqueIndex" json:"payment_reference_number"`

	// Amount (major currency unit)
	PaymentAmount   decimal.Decimal `gorm:"column:payment_amount;type:numeric(12,2);not null" json:"payment_amount"`
	PaymentCurrency string          `gorm:"column:payment_currency;type:varchar(8);not null;default:NGN" json:"payment_currency"`

	// Method + method-specific detail
	PaymentMethod PaymentMethod `gorm:"column:payment_method;type:varchar(20);not null;index" json:"payment_method"`

	PaymentMobileProvider *string `gorm:"column:payment_mobile_provider;type:varchar(40)" json:"payment_mobile_provider,omitempty"`
	PaymentMobilePhone    *string `gorm:"column:payment_mobile_phone;type:varchar(32)" json:"payment_mobile_phone,omitempty"`
	PaymentBankName       *string `gorm:"column:payment_bank_name;type:varchar(80)" json:"payment_bank_name,omitempty"`
	PaymentBankAccount    *string `gorm:"column:payment_bank_account;type:varchar(40)" json:"payment_bank_account,omitempty"`
	PaymentCardProvider   *string `gorm:"column:payment_card_provider;type:varchar(40)" json:"payment_card_provider,omitempty"`
	PaymentCardLast4      *string `gorm:"column:payment_card_last4;type:varchar(4)" json:"payment_card_last4,omitempty"`
	PaymentCashReceivedBy *string `gorm:"column:payment_cash_received_by;type:varchar(120)" json:"payment_cash_received_by,omitempty"`

	// Status
	PaymentStatus        PaymentStatus `gorm:"column:payment_status;type:varchar(20);not null;default:'pending';index" json:"payment_status"`
	PaymentFailureReason *string       `gorm:"column:payment_failure_reason;type:text" json:"payment_failure_reason,omitempty"`
	PaymentProcessedAt   *time.Time    `gorm:"column:payment_processed_at" json:"payment_processed_at,omitempty"`

	// Gateway artifacts (NULL for manual payments)
	PaymentGatewayProvider  *GatewayProvider `gorm:"column:payment_gateway_provider;type:varchar(20)" json:"payment_gateway_provider,omitempty"`
	PaymentGatewayTxnID     *string          `gorm:"column:payment_gateway_txn_id;type:text" json:"payment_gateway_txn_id,omitempty"`
	PaymentAuthorizationRef *string          `gorm:"column:payment_authorization_ref;type:text" json:"payment_authorization_ref,omitempty"`
	PaymentCheckoutURL      *string          `gorm:"column:payment_checkout_url;type:text" json:"payment_checkout_url,omitempty"`
	PaymentAccessCode       *string          `gorm:"column:payment_access_code;type:text" json:"payment_access_code,omitempty"`
	PaymentChannels         pq.StringArray   `gorm:"column:payment_channels;type:text[]" json:"payment_channels,omitempty"`
	PaymentPayerEmail       *string          `gorm:"column:payment_payer_email;type:varchar(254)" json:"payment_payer_email,omitempty"`

	// Refund sub-state. refund_requested_at marks a claimed in-flight remote
	// refund so only one caller reaches the gateway.
	PaymentRefundRequestedAt *time.Time `gorm:"column:payment_refund_requested_at" json:"payment_refund_requested_at,omitempty"`

	PaymentIsRefunded   bool             `gorm:"column:payment_is_refunded;not null;default:false" json:"payment_is_refunded"`
	PaymentRefundAmount *decimal.Decimal `gorm:"column:payment_refund_amount;type:numeric(12,2)" json:"payment_refund_amount,omitempty"`
	PaymentRefundedAt   *time.Time       `gorm:"column:payment_refunded_at" json:"payment_refunded_at,omitempty"`
	PaymentRefundReason *string          `gorm:"column:payment_refund_reason;type:text" json:"payment_refund_reason,omitempty"`

	// Meta
	PaymentMetadata datatypes.JSON `gorm:"column:payment_metadata;type:jsonb" json:"payment_metadata,omitempty"`
	PaymentNote     *string        `gorm:"column:payment_note;type:text" json:"payment_note,omitempty"`

	// Audit
	PaymentCreatedAt time.Time  `gorm:"column:payment_created_at;not null;autoCreateTime" json:"payment_created_at"`
	PaymentUpdatedAt time.Time  `gorm:"column:payment_updated_at;not null;autoUpdateTime" json:"payment_updated_at"`
	PaymentDeletedAt *time.Time `gorm:"column:payment_deleted_at;index" json:"payment_deleted_at,omitempty"`
}

func (Payment) TableName() string { return "payments" }

func (p *Payment) BeforeCreate(_ *gorm.DB) error {
	if p.PaymentID == uuid.Nil {
		p.PaymentID = uuid.New()
	}
	return nil
}

// IsGatewaySettled reports whether the money actually moved through the
// provider (a refund must then be confirmed remotely before it is recorded
// locally).
func (p *Payment) IsGatewaySettled() bool {
	return p.PaymentGatewayProvider != nil && p.PaymentGatewayTxnID != nil
}
