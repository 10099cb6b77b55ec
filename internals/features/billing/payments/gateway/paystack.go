// file: internals/features/billing/payments/gateway/paystack.go
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

/* =========================================================
   Paystack Client
========================================================= */

type PaystackClient struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

func NewPaystackClient(baseURL, secretKey string, timeout time.Duration) *PaystackClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PaystackClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		http:      &http.Client{Timeout: timeout},
	}
}

/* =========================================================
   Wire types
========================================================= */

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackInitData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type paystackVerifyData struct {
	ID              int64  `json:"id"`
	Status          string `json:"status"` // success | failed | abandoned | ...
	GatewayResponse string `json:"gateway_response"`
	PaidAt          string `json:"paid_at"`
	Authorization   struct {
		AuthorizationCode string `json:"authorization_code"`
		Last4             string `json:"last4"`
		CardType          string `json:"card_type"`
		Channel           string `json:"channel"`
	} `json:"authorization"`
}

/* =========================================================
   Operations
========================================================= */

func (pc *PaystackClient) InitializeTransaction(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	body := map[string]any{
		"email":     req.Email,
		"amount":    req.AmountMinor,
		"reference": req.Reference,
		"currency":  req.Currency,
	}
	if len(req.Channels) > 0 {
		body["channels"] = req.Channels
	}
	if req.CallbackURL != "" {
		body["callback_url"] = req.CallbackURL
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var data paystackInitData
	if err := pc.call(ctx, http.MethodPost, "/transaction/initialize", body, &data); err != nil {
		return nil, err
	}
	return &InitializeResult{
		RedirectURL: data.AuthorizationURL,
		AccessCode:  data.AccessCode,
	}, nil
}

func (pc *PaystackClient) VerifyTransaction(ctx context.Context, reference string) (*VerifyResult, error) {
	var data paystackVerifyData
	if err := pc.call(ctx, http.MethodGet, "/transaction/verify/"+reference, nil, &data); err != nil {
		return nil, err
	}

	res := &VerifyResult{
		Success:      strings.EqualFold(data.Status, "success"),
		GatewayTxnID: fmt.Sprintf("%d", data.ID),
	}
	if !res.Success {
		res.FailureReason = data.GatewayResponse
		if res.FailureReason == "" {
			res.FailureReason = data.Status
		}
		return res, nil
	}

	if t, err := time.Parse(time.RFC3339, data.PaidAt); err == nil {
		res.SettledAt = &t
	}
	if data.Authorization.AuthorizationCode != "" || data.Authorization.Last4 != "" {
		res.Authorization = &Authorization{
			CardLast4:        data.Authorization.Last4,
			CardProvider:     data.Authorization.CardType,
			AuthorizationRef: data.Authorization.AuthorizationCode,
		}
	}
	return res, nil
}

func (pc *PaystackClient) RefundTransaction(ctx context.Context, reference string, amountMinor *int64) error {
	body := map[string]any{"transaction": reference}
	if amountMinor != nil {
		body["amount"] = *amountMinor
	}
	var ack json.RawMessage
	return pc.call(ctx, http.MethodPost, "/refund", body, &ack)
}

// VerifyWebhookSignature: hex HMAC-SHA512 of the raw body under the secret
// key, compared byte-for-byte against the x-paystack-signature header.
func (pc *PaystackClient) VerifyWebhookSignature(rawBody []byte, signatureHeader string) bool {
	if signatureHeader == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(pc.secretKey))
	mac.Write(rawBody)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signatureHeader))
}

/* =========================================================
   HTTP plumbing
========================================================= */

func (pc *PaystackClient) call(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &Error{Provider: "paystack", Op: path, Err: err}
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, pc.baseURL+path, reader)
	if err != nil {
		return &Error{Provider: "paystack", Op: path, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+pc.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := pc.http.Do(req)
	if err != nil {
		return &Error{Provider: "paystack", Op: path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Provider: "paystack", Op: path, Err: err}
	}

	var env paystackEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &Error{Provider: "paystack", Op: path, Message: fmt.Sprintf("unexpected response (HTTP %d)", resp.StatusCode), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Status {
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return &Error{Provider: "paystack", Op: path, Message: msg}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &Error{Provider: "paystack", Op: path, Message: "malformed data payload", Err: err}
		}
	}
	return nil
}
