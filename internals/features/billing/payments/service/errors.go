// file: internals/features/billing/payments/service/errors.go
package service

/* =========================================================
   Error taxonomy

   ValidationError  — business-rule violation, nothing mutated
   NotFoundError    — unknown invoice/payment within the tenant
   PaymentFailedError — gateway reported a non-successful charge
   RefundFailedError  — remote refund did not confirm, local state untouched
   (remote transport failures surface as *gateway.Error)
========================================================= */

type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return e.Msg }

type PaymentFailedError struct {
	Reference string
	Reason    string
}

func (e *PaymentFailedError) Error() string {
	return "payment " + e.Reference + " failed: " + e.Reason
}

type RefundFailedError struct {
	Msg string
	Err error
}

func (e *RefundFailedError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *RefundFailedError) Unwrap() error { return e.Err }
