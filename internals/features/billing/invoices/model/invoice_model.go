// file: internals/features/billing/invoices/model/invoice_model.go
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

/* ==============================
   ENUM — invoice status
============================== */

type InvoiceStatus string

const (
	InvoiceStatusPending   InvoiceStatus = "pending"
	InvoiceStatusPartial   InvoiceStatus = "partial"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

/* ==============================================
   MODEL — invoices (ledger head)

   One obligation per billing period per child.
   amount_paid / balance_remaining are mutated ONLY
   by the reconciliation service; everything else is
   written once by the billing producer.
============================================== */

type Invoice struct {
	// PK
	InvoiceID uuid.UUID `gorm:"column:invoice_id;type:uuid;primaryKey;default:gen_random_uuid()" json:"invoice_id"`

	// Tenant & subject
	InvoiceTenantID uuid.UUID  `gorm:"column:invoice_tenant_id;type:uuid;not null;index" json:"invoice_tenant_id"`
	InvoiceCenterID *uuid.UUID `gorm:"column:invoice_center_id;type:uuid;index" json:"invoice_center_id,omitempty"`
	InvoiceChildID  uuid.UUID  `gorm:"column:invoice_child_id;type:uuid;not null;index" json:"invoice_child_id"`

	// Identity & period
	InvoiceNumber        string `gorm:"column:invoice_number;type:varchar(60);not null;uniqueIndex" json:"invoice_number"`
	InvoiceBillingPeriod string `gorm:"column:invoice_billing_period;type:varchar(20);not null;index" json:"invoice_billing_period"` // e.g. "2026-08"

	// Amount breakdown (all non-negative, major currency unit)
	InvoiceTuitionAmount  decimal.Decimal `gorm:"column:invoice_tuition_amount;type:numeric(12,2);not null;default:0" json:"invoice_tuition_amount"`
	InvoiceMealFeeAmount  decimal.Decimal `gorm:"column:invoice_meal_fee_amount;type:numeric(12,2);not null;default:0" json:"invoice_meal_fee_amount"`
	InvoiceActivityFee    decimal.Decimal `gorm:"column:invoice_activity_fee_amount;type:numeric(12,2);not null;default:0" json:"invoice_activity_fee_amount"`
	InvoiceOtherCharges   decimal.Decimal `gorm:"column:invoice_other_charges;type:numeric(12,2);not null;default:0" json:"invoice_other_charges"`
	InvoiceDiscount       decimal.Decimal `gorm:"column:invoice_discount;type:numeric(12,2);not null;default:0" json:"invoice_discount"`
	InvoiceSubsidy        decimal.Decimal `gorm:"column:invoice_subsidy;type:numeric(12,2);not null;default:0" json:"invoice_subsidy"`
	InvoiceLateFee        decimal.Decimal `gorm:"column:invoice_late_fee;type:numeric(12,2);not null;default:0" json:"invoice_late_fee"`
	InvoiceSubtotal       decimal.Decimal `gorm:"column:invoice_subtotal;type:numeric(12,2);not null;default:0" json:"invoice_subtotal"`
	InvoiceTotalAmount    decimal.Decimal `gorm:"column:invoice_total_amount;type:numeric(12,2);not null;default:0" json:"invoice_total_amount"`
	InvoiceCurrency       string          `gorm:"column:invoice_currency;type:varchar(8);not null;default:NGN" json:"invoice_currency"`

	// Ledger (invariant: amount_paid + balance_remaining == total_amount)
	InvoiceAmountPaid       decimal.Decimal `gorm:"column:invoice_amount_paid;type:numeric(12,2);not null;default:0" json:"invoice_amount_paid"`
	InvoiceBalanceRemaining decimal.Decimal `gorm:"column:invoice_balance_remaining;type:numeric(12,2);not null;default:0" json:"invoice_balance_remaining"`

	// Status
	InvoiceStatus   InvoiceStatus `gorm:"column:invoice_status;type:varchar(20);not null;default:'pending';index" json:"invoice_status"`
	InvoiceDueDate  time.Time     `gorm:"column:invoice_due_date;type:date;not null;index" json:"invoice_due_date"`
	InvoicePaidDate *time.Time    `gorm:"column:invoice_paid_date" json:"invoice_paid_date,omitempty"`
	InvoiceNote     *string       `gorm:"column:invoice_note;type:text" json:"invoice_note,omitempty"`

	// Audit
	InvoiceCreatedAt time.Time  `gorm:"column:invoice_created_at;not null;autoCreateTime" json:"invoice_created_at"`
	InvoiceUpdatedAt time.Time  `gorm:"column:invoice_updated_at;not null;autoUpdateTime" json:"invoice_updated_at"`
	InvoiceDeletedAt *time.Time `gorm:"column:invoice_deleted_at;index" json:"invoice_deleted_at,omitempty"`
}

func (Invoice) TableName() string { return "invoices" }

func (inv *Invoice) BeforeCreate(_ *gorm.DB) error {
	if inv.InvoiceID == uuid.Nil {
		inv.InvoiceID = uuid.New()
	}
	return nil
}

/* ==============================================
   Derived amounts & status
============================================== */

// ComputeTotals recalculates subtotal and total from the breakdown and resets
// the balance for a fresh (unpaid) invoice.
func (inv *Invoice) ComputeTotals() {
	inv.InvoiceSubtotal = inv.InvoiceTuitionAmount.
		Add(inv.InvoiceMealFeeAmount).
		Add(inv.InvoiceActivityFee).
		Add(inv.InvoiceOtherCharges)
	inv.InvoiceTotalAmount = inv.InvoiceSubtotal.
		Sub(inv.InvoiceDiscount).
		Sub(inv.InvoiceSubsidy).
		Add(inv.InvoiceLateFee)
	inv.InvoiceBalanceRemaining = inv.InvoiceTotalAmount.Sub(inv.InvoiceAmountPaid)
}

// DeriveStatus is the single source of truth for invoice status as a pure
// function of the ledger. cancelled is sticky and never overwritten here;
// overdue is a read-time view over the due date while unpaid.
func DeriveStatus(inv *Invoice, now time.Time) InvoiceStatus {
	if inv.InvoiceStatus == InvoiceStatusCancelled {
		return InvoiceStatusCancelled
	}
	if inv.InvoiceAmountPaid.IsZero() {
		if now.After(inv.InvoiceDueDate) {
			return InvoiceStatusOverdue
		}
		return InvoiceStatusPending
	}
	if inv.InvoiceBalanceRemaining.Sign() <= 0 {
		return InvoiceStatusPaid
	}
	return InvoiceStatusPartial
}

// RefreshStatus re-derives status from the current ledger values. paid_date
// is set once on the first transition to paid and cleared again when a refund
// reopens the balance (the invoice reverts to pending/partial, never stays
// paid silently).
func (inv *Invoice) RefreshStatus(now time.Time) {
	prev := inv.InvoiceStatus
	inv.InvoiceStatus = DeriveStatus(inv, now)

	if inv.InvoiceStatus == InvoiceStatusPaid && prev != InvoiceStatusPaid && inv.InvoicePaidDate == nil {
		t := now
		inv.InvoicePaidDate = &t
	}
	if inv.InvoiceStatus != InvoiceStatusPaid && inv.InvoiceBalanceRemaining.Sign() > 0 {
		inv.InvoicePaidDate = nil
	}
	inv.InvoiceUpdatedAt = now
}
