// file: internals/features/billing/payments/gateway/midtrans.go
package gateway

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
)

/* =========================================================
   Midtrans Client (alternate provider)

   Snap hosts the checkout page (redirect URL + token), the Core
   API answers verification and refunds. Amounts cross this
   adapter in minor units like every other gateway call; midtrans
   itself bills whole rupiah, so the adapter divides by 100.
========================================================= */

type MidtransClient struct {
	serverKey string
	snap      snap.Client
	core      coreapi.Client
}

func NewMidtransClient(serverKey string, useProduction bool) *MidtransClient {
	env := midtrans.Sandbox
	if useProduction {
		env = midtrans.Production
	}
	mc := &MidtransClient{serverKey: serverKey}
	mc.snap.New(serverKey, env)
	mc.core.New(serverKey, env)
	return mc
}

func (mc *MidtransClient) InitializeTransaction(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	sreq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.Reference,
			GrossAmt: req.AmountMinor / 100,
		},
		CustomerDetail: &midtrans.CustomerDetails{
			Email: req.Email,
		},
	}
	if invoiceNumber, ok := req.Metadata["invoice_number"].(string); ok && invoiceNumber != "" {
		sreq.CustomField1 = truncate(invoiceNumber, 40)
	}

	resp, mErr := mc.snap.CreateTransaction(sreq)
	if mErr != nil {
		return nil, &Error{Provider: "midtrans", Op: "snap/create", Message: mErr.Message, Err: mErr}
	}
	return &InitializeResult{
		RedirectURL: resp.RedirectURL,
		AccessCode:  resp.Token,
	}, nil
}

func (mc *MidtransClient) VerifyTransaction(ctx context.Context, reference string) (*VerifyResult, error) {
	st, mErr := mc.core.CheckTransaction(reference)
	if mErr != nil {
		return nil, &Error{Provider: "midtrans", Op: "core/status", Message: mErr.Message, Err: mErr}
	}

	res := &VerifyResult{GatewayTxnID: st.TransactionID}

	ts := strings.ToLower(st.TransactionStatus)
	fraud := strings.ToLower(st.FraudStatus)
	switch {
	case ts == "settlement", ts == "capture" && fraud == "accept":
		res.Success = true
		if t, err := time.Parse("2006-01-02 15:04:05", st.SettlementTime); err == nil {
			res.SettledAt = &t
		}
		if st.MaskedCard != "" {
			res.Authorization = &Authorization{
				CardLast4:    last4(st.MaskedCard),
				CardProvider: st.PaymentType,
			}
		}
	case ts == "pending", ts == "capture" && fraud == "challenge":
		res.FailureReason = "transaction still pending at gateway"
	default:
		res.FailureReason = st.StatusMessage
		if res.FailureReason == "" {
			res.FailureReason = st.TransactionStatus
		}
	}
	return res, nil
}

func (mc *MidtransClient) RefundTransaction(ctx context.Context, reference string, amountMinor *int64) error {
	req := &coreapi.RefundReq{Reason: "requested by tenant"}
	if amountMinor != nil {
		req.Amount = *amountMinor / 100
	}
	if _, mErr := mc.core.RefundTransaction(reference, req); mErr != nil {
		return &Error{Provider: "midtrans", Op: "core/refund", Message: mErr.Message, Err: mErr}
	}
	return nil
}

// VerifyWebhookSignature: midtrans signs inside the body —
// SHA512(order_id + status_code + gross_amount + serverKey). The header is
// unused for this provider.
func (mc *MidtransClient) VerifyWebhookSignature(rawBody []byte, signatureHeader string) bool {
	var notif struct {
		OrderID      string `json:"order_id"`
		StatusCode   string `json:"status_code"`
		GrossAmount  string `json:"gross_amount"`
		SignatureKey string `json:"signature_key"`
	}
	if err := json.Unmarshal(rawBody, &notif); err != nil {
		return false
	}
	if notif.SignatureKey == "" {
		return false
	}
	sum := sha512.Sum512([]byte(notif.OrderID + notif.StatusCode + notif.GrossAmount + mc.serverKey))
	return hex.EncodeToString(sum[:]) == strings.ToLower(notif.SignatureKey)
}

/* =========================================================
   Utils
========================================================= */

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}

func last4(masked string) string {
	cleaned := strings.ReplaceAll(masked, "-", "")
	if len(cleaned) <= 4 {
		return cleaned
	}
	return cleaned[len(cleaned)-4:]
}
