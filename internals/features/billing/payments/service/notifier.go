// file: internals/features/billing/payments/service/notifier.go
package service

import (
	"context"
	"log"

	invoiceModel "brightsteps_backend/internals/features/billing/invoices/model"
	"brightsteps_backend/internals/features/billing/payments/model"
)

// Notifier is informed after a payment has been applied to its invoice so a
// receipt can go out. Strictly fire-and-forget: a notify failure is logged
// and never rolls back or fails the reconciliation.
type Notifier interface {
	PaymentCompleted(ctx context.Context, p *model.Payment, inv *invoiceModel.Invoice) error
}

// LogNotifier is the default sink until a real messaging service is wired.
type LogNotifier struct{}

func (LogNotifier) PaymentCompleted(_ context.Context, p *model.Payment, inv *invoiceModel.Invoice) error {
	log.Printf("[RECEIPT] payment=%s ref=%s amount=%s invoice=%s balance=%s",
		p.PaymentID, p.PaymentReferenceNumber, p.PaymentAmount.StringFixed(2),
		inv.InvoiceNumber, inv.InvoiceBalanceRemaining.StringFixed(2))
	return nil
}

func (s *ReconcileService) notifyCompleted(p *model.Payment, inv *invoiceModel.Invoice) {
	if s.Notifier == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[WARN] receipt notifier panicked: %v", r)
			}
		}()
		if err := s.Notifier.PaymentCompleted(context.Background(), p, inv); err != nil {
			log.Printf("[WARN] receipt notify failed for %s: %v", p.PaymentReferenceNumber, err)
		}
	}()
}
