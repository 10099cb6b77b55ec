// file: internals/features/billing/invoices/dto/invoice_dto.go
package dto

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"brightsteps_backend/internals/features/billing/invoices/model"
)

var validate = validator.New()

/* =========================================================
   Requests
========================================================= */

type CreateInvoiceRequest struct {
	ChildID       string `json:"child_id" validate:"required,uuid"`
	BillingPeriod string `json:"billing_period" validate:"required,datetime=2006-01"`
	DueDate       string `json:"due_date" validate:"required,datetime=2006-01-02"`

	TuitionAmount  decimal.Decimal `json:"tuition_amount"`
	MealFeeAmount  decimal.Decimal `json:"meal_fee_amount"`
	ActivityFee    decimal.Decimal `json:"activity_fee_amount"`
	OtherCharges   decimal.Decimal `json:"other_charges"`
	Discount       decimal.Decimal `json:"discount"`
	Subsidy        decimal.Decimal `json:"subsidy"`
	LateFee        decimal.Decimal `json:"late_fee"`

	Currency string  `json:"currency,omitempty" validate:"omitempty,len=3"`
	Note     *string `json:"note,omitempty" validate:"omitempty,max=2000"`
}

func (r *CreateInvoiceRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	for _, amount := range []decimal.Decimal{
		r.TuitionAmount, r.MealFeeAmount, r.ActivityFee, r.OtherCharges,
		r.Discount, r.Subsidy, r.LateFee,
	} {
		if amount.Sign() < 0 {
			return errors.New("amounts must not be negative")
		}
	}
	return nil
}

// ToModel builds the invoice with totals computed; the invoice number and
// tenant scope are filled in by the controller.
func (r *CreateInvoiceRequest) ToModel(tenantID uuid.UUID, centerID *uuid.UUID, defaultCurrency string) (*model.Invoice, error) {
	childID, err := uuid.Parse(r.ChildID)
	if err != nil {
		return nil, errors.New("child_id is not a valid UUID")
	}
	dueDate, err := time.Parse("2006-01-02", r.DueDate)
	if err != nil {
		return nil, errors.New("due_date must be YYYY-MM-DD")
	}

	currency := r.Currency
	if currency == "" {
		currency = defaultCurrency
	}

	inv := &model.Invoice{
		InvoiceTenantID:      tenantID,
		InvoiceCenterID:      centerID,
		InvoiceChildID:       childID,
		InvoiceBillingPeriod: r.BillingPeriod,
		InvoiceTuitionAmount: r.TuitionAmount,
		InvoiceMealFeeAmount: r.MealFeeAmount,
		InvoiceActivityFee:   r.ActivityFee,
		InvoiceOtherCharges:  r.OtherCharges,
		InvoiceDiscount:      r.Discount,
		InvoiceSubsidy:       r.Subsidy,
		InvoiceLateFee:       r.LateFee,
		InvoiceCurrency:      currency,
		InvoiceStatus:        model.InvoiceStatusPending,
		InvoiceDueDate:       dueDate,
		InvoiceNote:          r.Note,
	}
	inv.ComputeTotals()
	if inv.InvoiceTotalAmount.Sign() <= 0 {
		return nil, errors.New("invoice total must be positive")
	}
	return inv, nil
}

/* =========================================================
   Responses
========================================================= */

type InvoiceResponse struct {
	InvoiceID     uuid.UUID  `json:"invoice_id"`
	CenterID      *uuid.UUID `json:"center_id,omitempty"`
	ChildID       uuid.UUID  `json:"child_id"`
	InvoiceNumber string     `json:"invoice_number"`
	BillingPeriod string     `json:"billing_period"`

	TuitionAmount string `json:"tuition_amount"`
	MealFeeAmount string `json:"meal_fee_amount"`
	ActivityFee   string `json:"activity_fee_amount"`
	OtherCharges  string `json:"other_charges"`
	Discount      string `json:"discount"`
	Subsidy       string `json:"subsidy"`
	LateFee       string `json:"late_fee"`
	Subtotal      string `json:"subtotal"`
	TotalAmount   string `json:"total_amount"`
	Currency      string `json:"currency"`

	AmountPaid       string `json:"amount_paid"`
	BalanceRemaining string `json:"balance_remaining"`

	Status   string     `json:"status"`
	DueDate  string     `json:"due_date"`
	PaidDate *time.Time `json:"paid_date,omitempty"`
	Note     *string    `json:"note,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FromInvoiceModel renders the invoice with the status derived at read time,
// so an unpaid invoice past its due date reads as overdue without a batch job
// ever touching the row.
func FromInvoiceModel(inv *model.Invoice, now time.Time) *InvoiceResponse {
	return &InvoiceResponse{
		InvoiceID:        inv.InvoiceID,
		CenterID:         inv.InvoiceCenterID,
		ChildID:          inv.InvoiceChildID,
		InvoiceNumber:    inv.InvoiceNumber,
		BillingPeriod:    inv.InvoiceBillingPeriod,
		TuitionAmount:    inv.InvoiceTuitionAmount.StringFixed(2),
		MealFeeAmount:    inv.InvoiceMealFeeAmount.StringFixed(2),
		ActivityFee:      inv.InvoiceActivityFee.StringFixed(2),
		OtherCharges:     inv.InvoiceOtherCharges.StringFixed(2),
		Discount:         inv.InvoiceDiscount.StringFixed(2),
		Subsidy:          inv.InvoiceSubsidy.StringFixed(2),
		LateFee:          inv.InvoiceLateFee.StringFixed(2),
		Subtotal:         inv.InvoiceSubtotal.StringFixed(2),
		TotalAmount:      inv.InvoiceTotalAmount.StringFixed(2),
		Currency:         inv.InvoiceCurrency,
		AmountPaid:       inv.InvoiceAmountPaid.StringFixed(2),
		BalanceRemaining: inv.InvoiceBalanceRemaining.StringFixed(2),
		Status:           string(model.DeriveStatus(inv, now)),
		DueDate:          inv.InvoiceDueDate.Format("2006-01-02"),
		PaidDate:         inv.InvoicePaidDate,
		Note:             inv.InvoiceNote,
		CreatedAt:        inv.InvoiceCreatedAt,
		UpdatedAt:        inv.InvoiceUpdatedAt,
	}
}

func FromInvoiceModels(invoices []model.Invoice, now time.Time) []*InvoiceResponse {
	out := make([]*InvoiceResponse, 0, len(invoices))
	for i := range invoices {
		out = append(out, FromInvoiceModel(&invoices[i], now))
	}
	return out
}
