// file: internals/features/billing/payments/service/reconcile_service_test.go
package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"brightsteps_backend/internals/databases/testdb"
	invoiceModel "brightsteps_backend/internals/features/billing/invoices/model"
	"brightsteps_backend/internals/features/billing/payments/gateway"
	"brightsteps_backend/internals/features/billing/payments/model"
)

var testTenant = uuid.MustParse("11111111-1111-1111-1111-111111111111")

/* =========================================================
   Fixtures
========================================================= */

type fakeGateway struct {
	mu sync.Mutex

	initRes   *gateway.InitializeResult
	initErr   error
	verifyRes *gateway.VerifyResult
	verifyErr error
	refundErr error

	initCalls   int
	verifyCalls int
	refundCalls int
}

func (f *fakeGateway) InitializeTransaction(_ context.Context, _ gateway.InitializeRequest) (*gateway.InitializeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	if f.initErr != nil {
		return nil, f.initErr
	}
	if f.initRes != nil {
		return f.initRes, nil
	}
	return &gateway.InitializeResult{RedirectURL: "https://checkout.test/abc", AccessCode: "AC-1"}, nil
}

func (f *fakeGateway) VerifyTransaction(_ context.Context, _ string) (*gateway.VerifyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.verifyRes, nil
}

func (f *fakeGateway) RefundTransaction(_ context.Context, _ string, _ *int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refundCalls++
	return f.refundErr
}

func (f *fakeGateway) VerifyWebhookSignature(_ []byte, sig string) bool { return sig == "valid" }

func successVerify() *gateway.VerifyResult {
	settled := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	return &gateway.VerifyResult{
		Success:      true,
		GatewayTxnID: "TXN-100",
		SettledAt:    &settled,
		Authorization: &gateway.Authorization{
			CardLast4:        "4081",
			CardProvider:     "visa",
			AuthorizationRef: "AUTH_1",
		},
	}
}

func newTestService(db *gorm.DB, gw gateway.Client) *ReconcileService {
	return NewReconcileService(db, gw, LogNotifier{}, model.GatewayProviderPaystack, "NGN")
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(dec(want)), "want %s, got %s", want, got.String())
}

func seedInvoice(t *testing.T, db *gorm.DB, total string) *invoiceModel.Invoice {
	t.Helper()
	inv := &invoiceModel.Invoice{
		InvoiceTenantID:      testTenant,
		InvoiceChildID:       uuid.New(),
		InvoiceNumber:        "INV-202608-" + strings.ToUpper(uuid.NewString()[:8]),
		InvoiceBillingPeriod: "2026-08",
		InvoiceTuitionAmount: dec(total),
		InvoiceCurrency:      "NGN",
		InvoiceStatus:        invoiceModel.InvoiceStatusPending,
		InvoiceDueDate:       time.Now().UTC().Add(14 * 24 * time.Hour),
	}
	inv.ComputeTotals()
	require.NoError(t, db.Create(inv).Error)
	return inv
}

func getInvoice(t *testing.T, db *gorm.DB, id uuid.UUID) *invoiceModel.Invoice {
	t.Helper()
	var inv invoiceModel.Invoice
	require.NoError(t, db.First(&inv, "invoice_id = ?", id).Error)
	return &inv
}

func getPayment(t *testing.T, db *gorm.DB, id uuid.UUID) *model.Payment {
	t.Helper()
	var p model.Payment
	require.NoError(t, db.First(&p, "payment_id = ?", id).Error)
	return &p
}

func initiateOnline(t *testing.T, svc *ReconcileService, invoiceID uuid.UUID, amount string) *model.Payment {
	t.Helper()
	res, err := svc.InitiateOnlinePayment(context.Background(), InitiateOnlinePaymentInput{
		InvoiceID: invoiceID,
		TenantID:  testTenant,
		Email:     "parent@example.com",
		Amount:    dec(amount),
		Method:    model.PaymentMethodCard,
	})
	require.NoError(t, err)
	return res.Payment
}

/* =========================================================
   Manual payments
========================================================= */

func TestCreateManualPayment_CashSettlesImmediately(t *testing.T) {
	db := testdb.Open(t)
	svc := newTestService(db, &fakeGateway{})
	inv := seedInvoice(t, db, "500.00")

	receivedBy := "Front Desk"
	p, err := svc.CreateManualPayment(context.Background(), CreateManualPaymentInput{
		InvoiceID:      inv.InvoiceID,
		TenantID:       testTenant,
		Amount:         dec("500.00"),
		Method:         model.PaymentMethodCash,
		CashReceivedBy: &receivedBy,
	})
	require.NoError(t, err)

	assert.Equal(t, model.PaymentStatusCompleted, p.PaymentStatus)
	assert.NotNil(t, p.PaymentProcessedAt)
	assert.True(t, strings.HasPrefix(p.PaymentReferenceNumber, "PAY-"))

	after := getInvoice(t, db, inv.InvoiceID)
	assertAmount(t, "500.00", after.InvoiceAmountPaid)
	assertAmount(t, "0.00", after.InvoiceBalanceRemaining)
	assert.Equal(t, invoiceModel.InvoiceStatusPaid, after.InvoiceStatus)
	assert.NotNil(t, after.InvoicePaidDate)
}

func TestCreateManualPayment_PartialCash(t *testing.T) {
	db := testdb.Open(t)
	svc := newTestService(db, &fakeGateway{})
	inv := seedInvoice(t, db, "500.00")

	_, err := svc.CreateManualPayment(context.Background(), CreateManualPaymentInput{
		InvoiceID: inv.InvoiceID,
		TenantID:  testTenant,
		Amount:    dec("200.00"),
		Method:    model.PaymentMethodCash,
	})
	require.NoError(t, err)

	after := getInvoice(t, db, inv.InvoiceID)
	assertAmount(t, "200.00", after.InvoiceAmountPaid)
	assertAmount(t, "300.00", after.InvoiceBalanceRemaining)
	assert.Equal(t, invoiceModel.InvoiceStatusPartial, after.InvoiceStatus)
	assert.Nil(t, after.InvoicePaidDate)
}

func TestCreateManualPayment_BankTransferStaysPending(t *testing.T) {
	db := testdb.Open(t)
	svc := newTestService(db, &fakeGateway{})
	inv := seedInvoice(t, db, "500.00")

	p, err := svc.CreateManualPayment(context.Background(), CreateManualPaymentInput{
		InvoiceID: inv.InvoiceID,
		TenantID:  testTenant,
		Amount:    dec("500.00"),
		Method:    model.PaymentMethodBankTransfer,
	})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, p.PaymentStatus)

	// a pending payment must not touch the ledger
	after := getInvoice(t, db, inv.InvoiceID)
	assertAmount(t, "0.00", after.InvoiceAmountPaid)
	assert.Equal(t, invoiceModel.InvoiceStatusPending, after.InvoiceStatus)
}

func TestCreateManualPayment_Rejections(t *testing.T) {
	db := testdb.Open(t)
	svc := newTestService(db, &fakeGateway{})
	inv := seedInvoice(t, db, "500.00")
	ctx := context.Background()

	var vErr *ValidationError
	var nfErr *NotFoundError

	_, err := svc.CreateManualPayment(ctx, CreateManualPaymentInput{
		InvoiceID: inv.InvoiceID, TenantID: testTenant,
		Amount: dec("0"), Method: model.PaymentMethodCash,
	})
	require.True(t, errors.As(err, &vErr), "zero amount: %v", err)

	_, err = svc.CreateManualPayment(ctx, CreateManualPaymentInput{
		InvoiceID: inv.InvoiceID, TenantID: testTenant,
		Amount: dec("500.01"), Method: model.PaymentMethodCash,
	})
	require.True(t, errors.As(err, &vErr), "overpayment: %v", err)

	_, err = svc.CreateManualPayment(ctx, CreateManualPaymentInput{
		InvoiceID: uuid.New(), TenantID: testTenant,
		Amount: dec("100.00"), Method: model.PaymentMethodCash,
	})
	require.True(t, errors.As(err, &nfErr), "unknown invoice: %v", err)

	// wrong tenant must read as not found, not as forbidden
	_, err = svc.CreateManualPayment(ctx, CreateManualPaymentInput{
		InvoiceID: inv.InvoiceID, TenantID: uuid.New(),
		Amount: dec("100.00"), Method: model.PaymentMethodCash,
	})
	require.True(t, errors.As(err, &nfErr), "cross tenant: %v", err)

	require.NoError(t, db.Model(&invoiceModel.Invoice{}).
		Where("invoice_id = ?", inv.InvoiceID).
		Update("invoice_status", invoiceModel.InvoiceStatusCancelled).Error)
	_, err = svc.CreateManualPayment(ctx, CreateManualPaymentInput{
		InvoiceID: inv.InvoiceID, TenantID: testTenant,
		Amount: dec("100.00"), Method: model.PaymentMethodCash,
	})
	require.True(t, errors.As(err, &vErr), "cancelled invoice: %v", err)

	// none of the rejected attempts may leave a ledger trace
	after := getInvoice(t, db, inv.InvoiceID)
	assertAmount(t, "0.00", after.InvoiceAmountPaid)
}

func TestConfirmManualPayment(t *testing.T) {
	db := testdb.Open(t)
	svc := newTestService(db, &fakeGateway{})
	inv := seedInvoice(t, db, "500.00")
	ctx := context.Background()

	p, err := svc.CreateManualPayment(ctx, CreateManualPaymentInput{
		InvoiceID: inv.InvoiceID, TenantID: testTenant,
		Amount: dec("500.00"), Method: model.PaymentMethodBankTransfer,
	})
	require.NoError(t, err)

	confirmed, err := svc.ConfirmManualPayment(ctx, p.PaymentID, testTenant)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, confirmed.PaymentStatus)

	after := getInvoice(t, db, inv.InvoiceID)
	assertAmount(t, "500.00", after.InvoiceAmountPaid)
	assert.Equal(t, invoiceModel.InvoiceStatusPaid, after.InvoiceStatus)

	// confirming again is a no-op, the ledger does not move twice
	again, err := svc.ConfirmManualPayment(ctx, p.PaymentID, testTenant)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, again.PaymentStatus)
	after = getInvoice(t, db, inv.InvoiceID)
	assertAmount(t, "500.00", after.InvoiceAmountPaid)
}

/* =========================================================
   Online initiation
========================================================= */

func TestInitiateOnlinePayment(t *testing.T) {
	db := testdb.Open(t)
	gw := &fakeGateway{}
	svc := newTestService(db, gw)
	inv := seedInvoice(t, db, "500.00")

	res, err := svc.InitiateOnlinePayment(context.Background(), InitiateOnlinePaymentInput{
		InvoiceID: inv.InvoiceID,
		TenantID:  testTenant,
		Email:     "parent@example.com",
		Amount:    dec("500.00"),
		Method:    model.PaymentMethodCard,
		Channels:  []string{"card"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, gw.initCalls)
	assert.Equal(t, "https://checkout.test/abc", res.RedirectURL)

	p := getPayment(t, db, res.Payment.PaymentID)
	assert.Equal(t, model.PaymentStatusPending, p.PaymentStatus)
	require.NotNil(t, p.PaymentGatewayProvider)
	assert.Equal(t, model.GatewayProviderPaystack, *p.PaymentGatewayProvider)
	require.NotNil(t, p.PaymentCheckoutURL)
	assert.Equal(t, "https://checkout.test/abc", *p.PaymentCheckoutURL)

	// initiation never moves the ledger
	after := getInvoice(t, db, inv.InvoiceID)
	assertAmount(t, "0.00", after.InvoiceAmountPaid)
}

func TestInitiateOnlinePayment_SubMinorPrecisionRejected(t *testing.T) {
	db := testdb.Open(t)
	svc := newTestService(db, &fakeGateway{})
	inv := seedInvoice(t, db, "500.00")

	_, err := svc.InitiateOnlinePayment(context.Background(), InitiateOnlinePaymentInput{
		InvoiceID: inv.InvoiceID,
		TenantID:  testTenant,
		Email:     "parent@example.com",
		Amount:    dec("200.005"),
		Method:    model.PaymentMethodCard,
	})
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr), "got %v", err)

	var count int64
	require.NoError(t, db.Model(&model.Payment{}).Count(&count).Error)
	assert.Zero(t, count, "rejected initiation must not leave a payment row")
}

func TestInitiateOnlinePayment_OverBalanceLeavesNoRow(t *testing.T) {
	db := testdb.Open(t)
	gw := &fakeGateway{}
	svc := newTestService(db, gw)
	inv := seedInvoice(t, db, "500.00")

	_, err := svc.InitiateOnlinePayment(context.Background(), InitiateOnlinePaymentInput{
		InvoiceID: inv.InvoiceID,
		TenantID:  testTenant,
		Email:     "parent@example.com",
		Amount:    dec("600.00"),
		Method:    model.PaymentMethodCard,
	})
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr), "got %v", err)
	assert.Zero(t, gw.initCalls, "the gateway is never contacted for an invalid amount")

	var count int64
	require.NoError(t, db.Model(&model.Payment{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestInitiateOnlinePayment_GatewayDownMarksFailed(t *testing.T) {
	db := testdb.Open(t)
	gw := &fakeGateway{initErr: &gateway.Error{Provider: "paystack", Op: "/transaction/initialize", Message: "HTTP 503"}}
	svc := newTestService(db, gw)
	inv := seedInvoice(t, db, "500.00")

	_, err := svc.InitiateOnlinePayment(context.Background(), InitiateOnlinePaymentInput{
		InvoiceID: inv.InvoiceID,
		TenantID:  testTenant,
		Email:     "parent@example.com",
		Amount:    dec("500.00"),
		Method:    model.PaymentMethodCard,
	})
	var gwErr *gateway.Error
	require.True(t, errors.As(err, &gwErr), "got %v", err)

	var p model.Payment
	require.NoError(t, db.First(&p, "payment_tenant_id = ?", testTenant).Error)
	assert.Equal(t, model.PaymentStatusFailed, p.PaymentStatus)
	require.NotNil(t, p.PaymentFailureReason)
	assert.Contains(t, *p.PaymentFailureReason, "503")
}

/* =========================================================
   Balance exposure

   Pending and processing payments reserve their amount against
   the invoice balance, so open checkouts cannot stack up past
   the total and settle into a negative balance.
========================================================= */

func TestInitiateOnlinePayment_InFlightCheckoutReservesBalance(t *testing.T) {
	db := testdb.Open(t)
	gw := &fakeGateway{verifyRes: successVerify()}
	svc := newTestService(db, gw)
	inv := seedInvoice(t, db, "500.00")
	ctx := context.Background()

	first := initiateOnline(t, svc, inv.InvoiceID, "500.00")

	// the first checkout is still pending, so a second one for the same
	// money must be refused even though the ledger has not moved yet
	_, err := svc.InitiateOnlinePayment(ctx, InitiateOnlinePaymentInput{
		InvoiceID: inv.InvoiceID,
		TenantID:  testTenant,
		Email:     "parent@example.com",
		Amount:    dec("500.00"),
		Method:    model.PaymentMethodCard,
	})
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr), "got %v", err)
	assert.Equal(t, 1, gw.initCalls)

	_, err = svc.Reconcile(ctx, first.PaymentReferenceNumber, testTenant)
	require.NoError(t, err)

	after := getInvoice(t, db, inv.InvoiceID)
	assertAmount(t, "500.00", after.InvoiceAmountPaid)
	assertAmount(t, "0.00", after.InvoiceBalanceRemaining)
	assert.False(t, after.InvoiceBalanceRemaining.IsNegative())
}

func TestInitiateOnlinePayment_PartialExposureLeavesRoom(t *testing.T) {
	db := testdb.Open(t)
	svc := newTestService(db, &fakeGateway{})
	inv := seedInvoice(t, db, "500.00")
	ctx := context.Background()

	initiateOnline(t, svc, inv.InvoiceID, "300.00")

	// only 200.00 of the balance is unreserved
	_, err := svc.InitiateOnlinePayment(ctx, InitiateOnlinePaymentInput{
		InvoiceID: inv.InvoiceID,
		TenantID:  testTenant,
		Email:     "parent@example.com",
		Amount:    dec("200.01"),
		Method:    model.PaymentMethodCard,
	})
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr), "got %v", err)

	initiateOnline(t, svc, inv.InvoiceID, "200.00")
}

func TestCreateManualPayment_CountsInFlightCheckouts(t *testing.T) {
	db := testdb.Open(t)
	svc := newTestService(db, &fakeGateway{})
	inv := seedInvoice(t, db, "500.00")
	ctx := context.Background()

	_, err := svc.CreateManualPayment(ctx, CreateManualPaymentInput{
		InvoiceID: inv.InvoiceID, TenantID: testTenant,
		Amount: dec("400.00"), Method: model.PaymentMethodBankTransfer,
	})
	require.NoError(t, err)

	// the unconfirmed transfer reserves 400.00, cash may only cover the rest
	var vErr *ValidationError
	_, err = svc.CreateManualPayment(ctx, CreateManualPaymentInput{
		InvoiceID: inv.InvoiceID, TenantID: testTenant,
		Amount: dec("200.00"), Method: model.PaymentMethodCash,
	})
	require.True(t, errors.As(err, &vErr), "got %v", err)

	_, err = svc.CreateManualPayment(ctx, CreateManualPaymentInput{
		InvoiceID: inv.InvoiceID, TenantID: testTenant,
		Amount: dec("100.00"), Method: model.PaymentMethodCash,
	})
	require.NoError(t, err)
}

func TestInitiateOnlinePayment_FailedCheckoutReleasesBalance(t *testing.T) {
	db := testdb.Open(t)
	gw := &fakeGateway{verifyRes: &gateway.VerifyResult{Success: false, FailureReason: "Declined"}}
	svc := newTestService(db, gw)
	inv := seedInvoice(t, db, "500.00")
	ctx := context.Background()

	abandoned := initiateOnline(t, svc, inv.InvoiceID, "500.00")
	_, err := svc.Reconcile(ctx, abandoned.PaymentReferenceNumber, testTenant)
	var pfErr *PaymentFailedError
	require.True(t, errors.As(err, &pfErr), "got %v", err)

	// the failed checkout no longer reserves the balance
	initiateOnline(t, svc, inv.InvoiceID, "500.00")
}

func TestCreateManualPayment_ConcurrentCashAdmitsOne(t *testing.T) {
	db := testdb.Open(t)
	svc := newTestService(db, &fakeGateway{})
	inv := seedInvoice(t, db, "500.00")

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CreateManualPayment(context.Background(), CreateManualPaymentInput{
				InvoiceID: inv.InvoiceID, TenantID: testTenant,
				Amount: dec("500.00"), Method: model.PaymentMethodCash,
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr), "got %v", err)
	}
	assert.Equal(t, 1, succeeded, "only one full payment fits the balance")

	after := getInvoice(t, db, inv.InvoiceID)
	assertAmount(t, "500.00", after.InvoiceAmountPaid)
	assertAmount(t, "0.00", after.InvoiceBalanceRemaining)
	assert.False(t, after.InvoiceBalanceRemaining.IsNegative())
}

/* =========================================================
   Reconcile
========================================================= */

func TestReconcile_Success(t *testing.T) {
	db := testdb.Open(t)
	gw := &fakeGateway{verifyRes: successVerify()}
	svc := newTestService(db, gw)
	inv := seedInvoice(t, db, "500.00")
	p := initiateOnline(t, svc, inv.InvoiceID, "500.00")

	out, err := svc.Reconcile(context.Background(), p.PaymentReferenceNumber, testTenant)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, out.PaymentStatus)
	require.NotNil(t, out.PaymentGatewayTxnID)
	assert.Equal(t, "TXN-100", *out.PaymentGatewayTxnID)
	require.NotNil(t, out.PaymentCardLast4)
	assert.Equal(t, "4081", *out.PaymentCardLast4)
	require.NotNil(t, out.PaymentProcessedAt)
	assert.Equal(t, 2026, out.PaymentProcessedAt.UTC().Year())

	after := getInvoice(t, db, inv.InvoiceID)
	assertAmount(t, "500.00", after.InvoiceAmountPaid)
	assertAmount(t, "0.00", after.InvoiceBalanceRemaining)
	assert.Equal(t, invoiceModel.InvoiceStatusPaid, after.InvoiceStatus)
}

func TestReconcile_DuplicateDeliveryIsNoop(t *testing.T) {
	db := testdb.Open(t)
	gw := &fakeGateway{verifyRes: successVerify()}
	svc := newTestService(db, gw)
	inv := seedInvoice(t, db, "500.00")
	p := initiateOnline(t, svc, inv.InvoiceID, "200.00")
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, p.PaymentReferenceNumber, testTenant)
	require.NoError(t, err)

	// replayed webhook: settled payment comes back unchanged, the gateway is
	// not even asked again
	out, err := svc.Reconcile(ctx, p.PaymentReferenceNumber, testTenant)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, out.PaymentStatus)
	assert.Equal(t, 1, gw.verifyCalls)

	after := getInvoice(t, db, inv.InvoiceID)
	assertAmount(t, "200.00", after.InvoiceAmountPaid)
	assertAmount(t, "300.00", after.InvoiceBalanceRemaining)
}

func TestReconcile_FailureThenRetrySucceeds(t *testing.T) {
	db := testdb.Open(t)
	gw := &fakeGateway{verifyRes: &gateway.VerifyResult{Success: false, FailureReason: "Insufficient funds"}}
	svc := newTestService(db, gw)
	inv := seedInvoice(t, db, "500.00")
	p := initiateOnline(t, svc, inv.InvoiceID, "500.00")
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, p.PaymentReferenceNumber, testTenant)
	var pfErr *PaymentFailedError
	require.True(t, errors.As(err, &pfErr), "got %v", err)
	assert.Equal(t, "Insufficient funds", pfErr.Reason)

	failed := getPayment(t, db, p.PaymentID)
	assert.Equal(t, model.PaymentStatusFailed, failed.PaymentStatus)
	require.NotNil(t, failed.PaymentFailureReason)
	assertAmount(t, "0.00", getInvoice(t, db, inv.InvoiceID).InvoiceAmountPaid)

	// 'failed' is not terminal: the customer retried on the gateway side and
	// the charge went through, so a later reconcile must pick it up
	gw.mu.Lock()
	gw.verifyRes = successVerify()
	gw.mu.Unlock()

	out, err := svc.Reconcile(ctx, p.PaymentReferenceNumber, testTenant)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, out.PaymentStatus)
	assert.Nil(t, out.PaymentFailureReason)
	assertAmount(t, "500.00", getInvoice(t, db, inv.InvoiceID).InvoiceAmountPaid)
}

func TestReconcile_GatewayUnreachable(t *testing.T) {
	db := testdb.Open(t)
	gw := &fakeGateway{verifyErr: &gateway.Error{Provider: "paystack", Op: "/transaction/verify", Message: "timeout"}}
	svc := newTestService(db, gw)
	inv := seedInvoice(t, db, "500.00")
	p := initiateOnline(t, svc, inv.InvoiceID, "500.00")

	_, err := svc.Reconcile(context.Background(), p.PaymentReferenceNumber, testTenant)
	var gwErr *gateway.Error
	require.True(t, errors.As(err, &gwErr), "got %v", err)

	assert.Equal(t, model.PaymentStatusFailed, getPayment(t, db, p.PaymentID).PaymentStatus)
	assertAmount(t, "0.00", getInvoice(t, db, inv.InvoiceID).InvoiceAmountPaid)
}

func TestReconcile_UnknownReference(t *testing.T) {
	db := testdb.Open(t)
	svc := newTestService(db, &fakeGateway{})

	_, err := svc.Reconcile(context.Background(), "PAY-DOES-NOT-EXIST", testTenant)
	var nfErr *NotFoundError
	require.True(t, errors.As(err, &nfErr), "got %v", err)
}

func TestReconcile_ManualPaymentRejected(t *testing.T) {
	db := testdb.Open(t)
	svc := newTestService(db, &fakeGateway{})
	inv := seedInvoice(t, db, "500.00")

	p, err := svc.CreateManualPayment(context.Background(), CreateManualPaymentInput{
		InvoiceID: inv.InvoiceID, TenantID: testTenant,
		Amount: dec("100.00"), Method: model.PaymentMethodBankTransfer,
	})
	require.NoError(t, err)

	_, err = svc.Reconcile(context.Background(), p.PaymentReferenceNumber, testTenant)
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr), "got %v", err)
}

func TestReconcile_ConcurrentDeliveriesApplyOnce(t *testing.T) {
	db := testdb.Open(t)
	gw := &fakeGateway{verifyRes: successVerify()}
	svc := newTestService(db, gw)
	inv := seedInvoice(t, db, "500.00")
	p := initiateOnline(t, svc, inv.InvoiceID, "200.00")

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Reconcile(context.Background(), p.PaymentReferenceNumber, testTenant)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "goroutine %d", i)
	}

	after := getInvoice(t, db, inv.InvoiceID)
	assertAmount(t, "200.00", after.InvoiceAmountPaid)
	assertAmount(t, "300.00", after.InvoiceBalanceRemaining)
	assert.Equal(t, model.PaymentStatusCompleted, getPayment(t, db, p.PaymentID).PaymentStatus)
}

/* =========================================================
   Refund
========================================================= */

func TestRefund_FullReopensInvoice(t *testing.T) {
	db := testdb.Open(t)
	gw := &fakeGateway{verifyRes: successVerify()}
	svc := newTestService(db, gw)
	inv := seedInvoice(t, db, "500.00")
	p := initiateOnline(t, svc, inv.InvoiceID, "500.00")
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, p.PaymentReferenceNumber, testTenant)
	require.NoError(t, err)
	require.NotNil(t, getInvoice(t, db, inv.InvoiceID).InvoicePaidDate)

	reason := "duplicate charge"
	out, err := svc.Refund(ctx, p.PaymentID, testTenant, nil, &reason)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusRefunded, out.PaymentStatus)
	assert.True(t, out.PaymentIsRefunded)
	require.NotNil(t, out.PaymentRefundAmount)
	assertAmount(t, "500.00", *out.PaymentRefundAmount)
	assert.Equal(t, 1, gw.refundCalls, "gateway-settled payment refunds remotely first")

	after := getInvoice(t, db, inv.InvoiceID)
	assertAmount(t, "0.00", after.InvoiceAmountPaid)
	assertAmount(t, "500.00", after.InvoiceBalanceRemaining)
	assert.Equal(t, invoiceModel.InvoiceStatusPending, after.InvoiceStatus)
	assert.Nil(t, after.InvoicePaidDate, "paid_date is cleared when the balance reopens")
}

func TestRefund_PartialKeepsInvoicePartial(t *testing.T) {
	db := testdb.Open(t)
	gw := &fakeGateway{verifyRes: successVerify()}
	svc := newTestService(db, gw)
	inv := seedInvoice(t, db, "500.00")
	p := initiateOnline(t, svc, inv.InvoiceID, "500.00")
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, p.PaymentReferenceNumber, testTenant)
	require.NoError(t, err)

	amount := dec("150.00")
	out, err := svc.Refund(ctx, p.PaymentID, testTenant, &amount, nil)
	require.NoError(t, err)
	require.NotNil(t, out.PaymentRefundAmount)
	assertAmount(t, "150.00", *out.PaymentRefundAmount)

	after := getInvoice(t, db, inv.InvoiceID)
	assertAmount(t, "350.00", after.InvoiceAmountPaid)
	assertAmount(t, "150.00", after.InvoiceBalanceRemaining)
	assert.Equal(t, invoiceModel.InvoiceStatusPartial, after.InvoiceStatus)
}

func TestRefund_CashNeverCallsGateway(t *testing.T) {
	db := testdb.Open(t)
	gw := &fakeGateway{}
	svc := newTestService(db, gw)
	inv := seedInvoice(t, db, "500.00")
	ctx := context.Background()

	p, err := svc.CreateManualPayment(ctx, CreateManualPaymentInput{
		InvoiceID: inv.InvoiceID, TenantID: testTenant,
		Amount: dec("500.00"), Method: model.PaymentMethodCash,
	})
	require.NoError(t, err)

	out, err := svc.Refund(ctx, p.PaymentID, testTenant, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusRefunded, out.PaymentStatus)
	assert.Zero(t, gw.refundCalls)
}

func TestRefund_Rejections(t *testing.T) {
	db := testdb.Open(t)
	gw := &fakeGateway{verifyRes: successVerify()}
	svc := newTestService(db, gw)
	inv := seedInvoice(t, db, "500.00")
	ctx := context.Background()

	pending := initiateOnline(t, svc, inv.InvoiceID, "100.00")
	var vErr *ValidationError
	_, err := svc.Refund(ctx, pending.PaymentID, testTenant, nil, nil)
	require.True(t, errors.As(err, &vErr), "pending payment: %v", err)

	_, err = svc.Reconcile(ctx, pending.PaymentReferenceNumber, testTenant)
	require.NoError(t, err)

	over := dec("100.01")
	_, err = svc.Refund(ctx, pending.PaymentID, testTenant, &over, nil)
	require.True(t, errors.As(err, &vErr), "over-refund: %v", err)

	zero := dec("0")
	_, err = svc.Refund(ctx, pending.PaymentID, testTenant, &zero, nil)
	require.True(t, errors.As(err, &vErr), "zero refund: %v", err)

	_, err = svc.Refund(ctx, pending.PaymentID, testTenant, nil, nil)
	require.NoError(t, err)
	_, err = svc.Refund(ctx, pending.PaymentID, testTenant, nil, nil)
	require.True(t, errors.As(err, &vErr), "double refund: %v", err)
}

func TestRefund_GatewayFailureLeavesLedgerUntouched(t *testing.T) {
	db := testdb.Open(t)
	gw := &fakeGateway{verifyRes: successVerify()}
	svc := newTestService(db, gw)
	inv := seedInvoice(t, db, "500.00")
	p := initiateOnline(t, svc, inv.InvoiceID, "500.00")
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, p.PaymentReferenceNumber, testTenant)
	require.NoError(t, err)

	gw.mu.Lock()
	gw.refundErr = &gateway.Error{Provider: "paystack", Op: "/refund", Message: "refund window closed"}
	gw.mu.Unlock()

	_, err = svc.Refund(ctx, p.PaymentID, testTenant, nil, nil)
	var rfErr *RefundFailedError
	require.True(t, errors.As(err, &rfErr), "got %v", err)

	// fail closed: nothing moved locally, and the refund may be retried
	after := getPayment(t, db, p.PaymentID)
	assert.Equal(t, model.PaymentStatusCompleted, after.PaymentStatus)
	assert.Nil(t, after.PaymentRefundRequestedAt, "a failed remote refund releases its claim")
	assertAmount(t, "500.00", getInvoice(t, db, inv.InvoiceID).InvoiceAmountPaid)

	gw.mu.Lock()
	gw.refundErr = nil
	gw.mu.Unlock()

	out, err := svc.Refund(ctx, p.PaymentID, testTenant, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusRefunded, out.PaymentStatus)
	assert.Equal(t, 2, gw.refundCalls)
}

func TestRefund_InFlightClaimBlocksSecondCaller(t *testing.T) {
	db := testdb.Open(t)
	gw := &fakeGateway{verifyRes: successVerify()}
	svc := newTestService(db, gw)
	inv := seedInvoice(t, db, "500.00")
	p := initiateOnline(t, svc, inv.InvoiceID, "500.00")
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, p.PaymentReferenceNumber, testTenant)
	require.NoError(t, err)

	// another request already claimed this refund and is waiting on the
	// gateway; a second caller must not trigger a second remote refund
	require.NoError(t, db.Model(&model.Payment{}).
		Where("payment_id = ?", p.PaymentID).
		Update("payment_refund_requested_at", time.Now().UTC()).Error)

	_, err = svc.Refund(ctx, p.PaymentID, testTenant, nil, nil)
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr), "got %v", err)
	assert.Zero(t, gw.refundCalls)
}

func TestRefund_ConcurrentRequestsReachGatewayOnce(t *testing.T) {
	db := testdb.Open(t)
	gw := &fakeGateway{verifyRes: successVerify()}
	svc := newTestService(db, gw)
	inv := seedInvoice(t, db, "500.00")
	p := initiateOnline(t, svc, inv.InvoiceID, "500.00")
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, p.PaymentReferenceNumber, testTenant)
	require.NoError(t, err)

	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Refund(context.Background(), p.PaymentID, testTenant, nil, nil)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr), "got %v", err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, gw.refundCalls, "the remote refund runs exactly once")

	after := getInvoice(t, db, inv.InvoiceID)
	assertAmount(t, "0.00", after.InvoiceAmountPaid)
	assertAmount(t, "500.00", after.InvoiceBalanceRemaining)
}

/* =========================================================
   Notifications
========================================================= */

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) PaymentCompleted(_ context.Context, _ *model.Payment, _ *invoiceModel.Invoice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
	return nil
}

func (n *countingNotifier) calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

func TestNotifierFiresOncePerCompletion(t *testing.T) {
	db := testdb.Open(t)
	gw := &fakeGateway{verifyRes: successVerify()}
	notifier := &countingNotifier{}
	svc := NewReconcileService(db, gw, notifier, model.GatewayProviderPaystack, "NGN")
	inv := seedInvoice(t, db, "500.00")
	p := initiateOnline(t, svc, inv.InvoiceID, "500.00")
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, p.PaymentReferenceNumber, testTenant)
	require.NoError(t, err)
	_, err = svc.Reconcile(ctx, p.PaymentReferenceNumber, testTenant)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return notifier.calls() == 1 },
		2*time.Second, 10*time.Millisecond, "exactly one receipt per settled payment")
}
