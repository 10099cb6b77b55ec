// file: internals/features/billing/payments/gateway/gateway.go
package gateway

import (
	"context"
	"fmt"
	"time"
)

/* =========================================================
   Gateway Client contract

   The reconciliation service depends on this surface only.
   No call is assumed idempotent by the provider; dedup lives
   in the reconcile path, keyed on the payment reference.
========================================================= */

type InitializeRequest struct {
	Email       string
	AmountMinor int64 // provider minor unit (e.g. kobo)
	Reference   string
	Currency    string
	Channels    []string
	CallbackURL string
	Metadata    map[string]any
}

type InitializeResult struct {
	RedirectURL string
	AccessCode  string
}

type Authorization struct {
	CardLast4        string
	CardProvider     string
	AuthorizationRef string
}

type VerifyResult struct {
	Success       bool
	SettledAt     *time.Time
	FailureReason string // provider's human-readable reason when not successful
	GatewayTxnID  string
	Authorization *Authorization
}

type Client interface {
	InitializeTransaction(ctx context.Context, req InitializeRequest) (*InitializeResult, error)
	VerifyTransaction(ctx context.Context, reference string) (*VerifyResult, error)
	// VerifyWebhookSignature checks the provider signature over the exact raw
	// request body. The body must never be re-serialized before hashing.
	VerifyWebhookSignature(rawBody []byte, signatureHeader string) bool
	RefundTransaction(ctx context.Context, reference string, amountMinor *int64) error
}

/* =========================================================
   Error
========================================================= */

// Error wraps any remote failure (transport, timeout, non-2xx, SDK error).
type Error struct {
	Provider string
	Op       string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %s", e.Provider, e.Op, e.Message)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
