// file: internals/features/billing/payments/model/webhook_event_model.go
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

/* ================================
   MODEL: payment_webhook_events

   Insert-only audit of every webhook delivery that passed the
   signature check. Duplicate deliveries are recorded here and stay
   no-ops at the ledger.
================================ */

type PaymentWebhookEvent struct {
	EventID uuid.UUID `gorm:"column:event_id;type:uuid;primaryKey;default:gen_random_uuid()" json:"event_id"`

	EventTenantID  *uuid.UUID `gorm:"column:event_tenant_id;type:uuid;index" json:"event_tenant_id,omitempty"`
	EventPaymentID *uuid.UUID `gorm:"column:event_payment_id;type:uuid;index" json:"event_payment_id,omitempty"`

	EventProvider  GatewayProvider `gorm:"column:event_provider;type:varchar(20);not null;index" json:"event_provider"`
	EventType      *string         `gorm:"column:event_type;type:varchar(60)" json:"event_type,omitempty"`
	EventReference *string         `gorm:"column:event_reference;type:varchar(60);index" json:"event_reference,omitempty"`
	EventSignature *string         `gorm:"column:event_signature;type:text" json:"event_signature,omitempty"`

	EventPayload datatypes.JSON `gorm:"column:event_payload;type:jsonb" json:"event_payload,omitempty"`
	EventHeaders datatypes.JSON `gorm:"column:event_headers;type:jsonb" json:"event_headers,omitempty"`

	EventStatus WebhookEventStatus `gorm:"column:event_status;type:varchar(20);not null;default:'received';index" json:"event_status"`
	EventError  *string            `gorm:"column:event_error;type:text" json:"event_error,omitempty"`

	EventReceivedAt  time.Time  `gorm:"column:event_received_at;not null;autoCreateTime" json:"event_received_at"`
	EventProcessedAt *time.Time `gorm:"column:event_processed_at" json:"event_processed_at,omitempty"`
}

func (PaymentWebhookEvent) TableName() string { return "payment_webhook_events" }

func (e *PaymentWebhookEvent) BeforeCreate(_ *gorm.DB) error {
	if e.EventID == uuid.Nil {
		e.EventID = uuid.New()
	}
	return nil
}
