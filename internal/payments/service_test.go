package payments

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agrimandi/agrimandi-backend/pkg/config"
	"github.com/agrimandi/agrimandi-backend/pkg/db/models"
	"github.com/agrimandi/agrimandi-backend/pkg/enums"
	pkgerrors "github.com/agrimandi/agrimandi-backend/pkg/errors"
	"github.com/agrimandi/agrimandi-backend/pkg/gateway"
	"github.com/agrimandi/agrimandi-backend/pkg/logger"
	"github.com/agrimandi/agrimandi-backend/pkg/outbox"
)

func testFeeConfig() config.PricingConfig {
	return config.PricingConfig{
		GSTPercent:          "5",
		PlatformFeePercent:  "1",
		PlatformFeeMinPaise: 1000,
		ShippingFlatPaise:   5000,
		GatewayFeePercent:   "2",
		TaxOnFeesPercent:    "18",
	}
}

type paymentsTxRunner struct{}

func (paymentsTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubPaymentRepo struct {
	payments []*models.Payment
	refunds  []*models.PaymentRefund
	casCalls int
}

func (r *stubPaymentRepo) WithTx(tx *gorm.DB) Repository { return r }

func (r *stubPaymentRepo) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	r.payments = append(r.payments, payment)
	return nil
}

func (r *stubPaymentRepo) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	for _, p := range r.payments {
		if p.OrderID == orderID {
			return p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubPaymentRepo) FindByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*models.Payment, error) {
	for _, p := range r.payments {
		if p.GatewayPaymentID != nil && *p.GatewayPaymentID == gatewayPaymentID {
			return p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubPaymentRepo) FindByGatewayOrderRef(ctx context.Context, gatewayOrderRef string) (*models.Payment, error) {
	for _, p := range r.payments {
		if p.GatewayOrderRef != nil && *p.GatewayOrderRef == gatewayOrderRef {
			return p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubPaymentRepo) UpdateCAS(ctx context.Context, payment *models.Payment) error {
	r.casCalls++
	payment.Version++
	return nil
}

func (r *stubPaymentRepo) AddRefundRow(ctx context.Context, refund *models.PaymentRefund) error {
	if refund.ID == uuid.Nil {
		refund.ID = uuid.New()
	}
	r.refunds = append(r.refunds, refund)
	return nil
}

func (r *stubPaymentRepo) ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentRefund, error) {
	var rows []models.PaymentRefund
	for _, refund := range r.refunds {
		if refund.PaymentID == paymentID {
			rows = append(rows, *refund)
		}
	}
	return rows, nil
}

type stubGatewayClient struct {
	charges   []gateway.ChargeRequest
	refundReq []gateway.RefundRequest
	chargeErr error
}

func (c *stubGatewayClient) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Charge, error) {
	if c.chargeErr != nil {
		return nil, c.chargeErr
	}
	c.charges = append(c.charges, req)
	return &gateway.Charge{ID: "chg_" + uuid.NewString()[:8]}, nil
}

func (c *stubGatewayClient) CreateRefund(ctx context.Context, req gateway.RefundRequest) (*gateway.Refund, error) {
	c.refundReq = append(c.refundReq, req)
	return &gateway.Refund{ID: "rfd_" + uuid.NewString()[:8]}, nil
}

type recordingOutbox struct {
	events []outbox.DomainEvent
}

func (o *recordingOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	o.events = append(o.events, event)
	return nil
}

type paymentFixture struct {
	svc     Service
	repo    *stubPaymentRepo
	gateway *stubGatewayClient
	outbox  *recordingOutbox
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	f := &paymentFixture{
		repo:    &stubPaymentRepo{},
		gateway: &stubGatewayClient{},
		outbox:  &recordingOutbox{},
	}
	svc, err := NewService(f.repo, paymentsTxRunner{}, f.gateway, f.outbox, testFeeConfig(), logger.New(logger.Options{ServiceName: "test"}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	return f
}

func payableOrder() *models.Order {
	return &models.Order{
		ID:               uuid.New(),
		OrderNumber:      "AGM-20260828-PAY001",
		BuyerID:          uuid.New(),
		FarmerID:         uuid.New(),
		Currency:         enums.CurrencyINR,
		PlatformFeePaise: 1000,
		TotalPaise:       58500,
		AmountDuePaise:   58500,
		Status:           enums.OrderStatusPending,
		PaymentStatus:    enums.OrderPaymentStatusPending,
	}
}

func TestComputeFeesGatewayMethod(t *testing.T) {
	fees := computeFees(58500, 1000, enums.PaymentMethodGateway, testFeeConfig())

	if fees.gatewayFeePaise != 1170 {
		t.Fatalf("gateway fee: got %d want 1170", fees.gatewayFeePaise)
	}
	if fees.taxOnFeesPaise != 391 {
		t.Fatalf("tax on fees: got %d want 391", fees.taxOnFeesPaise)
	}
	if fees.netAmountPaise != 55939 {
		t.Fatalf("net: got %d want 55939", fees.netAmountPaise)
	}
}

func TestComputeFeesWalletSkipsGatewayFee(t *testing.T) {
	fees := computeFees(58500, 1000, enums.PaymentMethodWallet, testFeeConfig())

	if fees.gatewayFeePaise != 0 {
		t.Fatalf("wallet payments carry no gateway fee, got %d", fees.gatewayFeePaise)
	}
	if fees.taxOnFeesPaise != 180 {
		t.Fatalf("tax on fees: got %d want 180", fees.taxOnFeesPaise)
	}
	if fees.netAmountPaise != 57320 {
		t.Fatalf("net: got %d want 57320", fees.netAmountPaise)
	}
}

func TestComputeFeesNetFlooredAtZero(t *testing.T) {
	fees := computeFees(100, 1000, enums.PaymentMethodWallet, testFeeConfig())
	if fees.netAmountPaise != 0 {
		t.Fatalf("net must not go negative, got %d", fees.netAmountPaise)
	}
}

func TestEnsureForOrderCreatesOnce(t *testing.T) {
	f := newPaymentFixture(t)
	order := payableOrder()

	payment, err := f.svc.EnsureForOrder(context.Background(), nil, order, enums.PaymentMethodGateway)
	if err != nil {
		t.Fatalf("ensure payment: %v", err)
	}
	if payment.AmountPaise != order.AmountDuePaise {
		t.Fatalf("amount: got %d want %d", payment.AmountPaise, order.AmountDuePaise)
	}
	if payment.NetAmountPaise != 55939 {
		t.Fatalf("net: got %d want 55939", payment.NetAmountPaise)
	}

	again, err := f.svc.EnsureForOrder(context.Background(), nil, order, enums.PaymentMethodGateway)
	if err != nil {
		t.Fatalf("ensure payment twice: %v", err)
	}
	if again.ID != payment.ID {
		t.Fatal("second call must return the existing record")
	}
	if len(f.repo.payments) != 1 {
		t.Fatalf("expected one payment row, got %d", len(f.repo.payments))
	}
}

func TestEnsureForOrderRejectsPaidOrder(t *testing.T) {
	f := newPaymentFixture(t)
	order := payableOrder()

	payment, err := f.svc.EnsureForOrder(context.Background(), nil, order, enums.PaymentMethodGateway)
	if err != nil {
		t.Fatalf("ensure payment: %v", err)
	}
	payment.Status = enums.PaymentStatusCaptured

	_, err = f.svc.EnsureForOrder(context.Background(), nil, order, enums.PaymentMethodGateway)
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestCaptureIsIdempotent(t *testing.T) {
	f := newPaymentFixture(t)
	order := payableOrder()

	payment, err := f.svc.EnsureForOrder(context.Background(), nil, order, enums.PaymentMethodGateway)
	if err != nil {
		t.Fatalf("ensure payment: %v", err)
	}
	ref := "gw_order_123"
	payment.GatewayOrderRef = &ref

	captured, replay, err := f.svc.Capture(context.Background(), nil, ref, "gw_pay_456")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if replay {
		t.Fatal("first capture must not report a replay")
	}
	if captured.Status != enums.PaymentStatusCaptured {
		t.Fatalf("status: got %s want captured", captured.Status)
	}
	firstEvents := len(f.outbox.events)

	again, replay, err := f.svc.Capture(context.Background(), nil, ref, "gw_pay_456")
	if err != nil {
		t.Fatalf("capture replay: %v", err)
	}
	if !replay {
		t.Fatal("second capture must report a replay")
	}
	if again.ID != captured.ID {
		t.Fatal("replay must return the same payment")
	}
	if len(f.outbox.events) != firstEvents {
		t.Fatal("replays must not emit events")
	}
}

func TestCancelPendingVoidsUncapturedPayment(t *testing.T) {
	f := newPaymentFixture(t)
	order := payableOrder()

	payment, err := f.svc.EnsureForOrder(context.Background(), nil, order, enums.PaymentMethodGateway)
	if err != nil {
		t.Fatalf("ensure payment: %v", err)
	}
	ref := "gw_order_void"
	payment.GatewayOrderRef = &ref
	payment.Status = enums.PaymentStatusPending

	if err := f.svc.CancelPending(context.Background(), nil, order.ID); err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if payment.Status != enums.PaymentStatusCancelled {
		t.Fatalf("status: got %s want cancelled", payment.Status)
	}
}

func TestCancelPendingLeavesCapturedPayment(t *testing.T) {
	f := newPaymentFixture(t)
	order := payableOrder()

	payment, err := f.svc.EnsureForOrder(context.Background(), nil, order, enums.PaymentMethodGateway)
	if err != nil {
		t.Fatalf("ensure payment: %v", err)
	}
	payment.Status = enums.PaymentStatusCaptured

	if err := f.svc.CancelPending(context.Background(), nil, order.ID); err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if payment.Status != enums.PaymentStatusCaptured {
		t.Fatalf("captured payments belong to the refund path, got %s", payment.Status)
	}
}

func TestCancelPendingWithoutPaymentIsNoop(t *testing.T) {
	f := newPaymentFixture(t)
	if err := f.svc.CancelPending(context.Background(), nil, uuid.New()); err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
}

func TestCaptureRejectedAfterCancel(t *testing.T) {
	f := newPaymentFixture(t)
	order := payableOrder()

	payment, err := f.svc.EnsureForOrder(context.Background(), nil, order, enums.PaymentMethodGateway)
	if err != nil {
		t.Fatalf("ensure payment: %v", err)
	}
	ref := "gw_order_late"
	payment.GatewayOrderRef = &ref
	payment.Status = enums.PaymentStatusPending

	if err := f.svc.CancelPending(context.Background(), nil, order.ID); err != nil {
		t.Fatalf("cancel pending: %v", err)
	}

	// The gateway confirmation lands after the order was cancelled.
	_, _, err = f.svc.Capture(context.Background(), nil, ref, "gw_pay_late")
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if payment.Status != enums.PaymentStatusCancelled {
		t.Fatalf("cancelled payment must stay cancelled, got %s", payment.Status)
	}
}

func TestReleaseSettlesExactlyOnce(t *testing.T) {
	f := newPaymentFixture(t)
	order := payableOrder()

	payment, err := f.svc.EnsureForOrder(context.Background(), nil, order, enums.PaymentMethodGateway)
	if err != nil {
		t.Fatalf("ensure payment: %v", err)
	}
	payment.Status = enums.PaymentStatusCaptured

	net, found, err := f.svc.Release(context.Background(), nil, order.ID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if !found || net != 55939 {
		t.Fatalf("release: found=%v net=%d", found, net)
	}
	if !payment.Settled || payment.SettledAt == nil {
		t.Fatal("payment must be marked settled")
	}

	_, _, err = f.svc.Release(context.Background(), nil, order.ID)
	if !pkgerrors.HasCode(err, pkgerrors.CodeAlreadySettled) {
		t.Fatalf("expected already settled, got %v", err)
	}
}

func TestReleaseWithoutCaptureIsNoop(t *testing.T) {
	f := newPaymentFixture(t)
	order := payableOrder()

	if _, err := f.svc.EnsureForOrder(context.Background(), nil, order, enums.PaymentMethodCOD); err != nil {
		t.Fatalf("ensure payment: %v", err)
	}

	net, found, err := f.svc.Release(context.Background(), nil, order.ID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if found || net != 0 {
		t.Fatalf("uncaptured payments must not settle: found=%v net=%d", found, net)
	}
}

func TestRefundByOrderBoundsTotal(t *testing.T) {
	f := newPaymentFixture(t)
	order := payableOrder()

	payment, err := f.svc.EnsureForOrder(context.Background(), nil, order, enums.PaymentMethodWallet)
	if err != nil {
		t.Fatalf("ensure payment: %v", err)
	}
	payment.Status = enums.PaymentStatusCaptured

	if err := f.svc.RefundByOrder(context.Background(), nil, order.ID, 40000, "partial refund"); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if payment.Status != enums.PaymentStatusPartiallyRefunded {
		t.Fatalf("status: got %s want partially refunded", payment.Status)
	}

	err = f.svc.RefundByOrder(context.Background(), nil, order.ID, 20000, "over refund")
	if !pkgerrors.HasCode(err, pkgerrors.CodeOverRefund) {
		t.Fatalf("expected over refund, got %v", err)
	}
	if payment.TotalRefundedPaise != 40000 {
		t.Fatalf("total refunded: got %d want 40000", payment.TotalRefundedPaise)
	}

	if err := f.svc.RefundByOrder(context.Background(), nil, order.ID, 18500, "remainder"); err != nil {
		t.Fatalf("refund remainder: %v", err)
	}
	if payment.Status != enums.PaymentStatusRefunded {
		t.Fatalf("status: got %s want refunded", payment.Status)
	}
	if len(f.gateway.refundReq) != 0 {
		t.Fatal("wallet refunds must not call the gateway")
	}
}

func TestRefundByOrderUsesGatewayForGatewayPayments(t *testing.T) {
	f := newPaymentFixture(t)
	order := payableOrder()

	payment, err := f.svc.EnsureForOrder(context.Background(), nil, order, enums.PaymentMethodGateway)
	if err != nil {
		t.Fatalf("ensure payment: %v", err)
	}
	gwID := "gw_pay_789"
	payment.GatewayPaymentID = &gwID
	payment.Status = enums.PaymentStatusCaptured

	if err := f.svc.RefundByOrder(context.Background(), nil, order.ID, 10000, "damaged goods"); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if len(f.gateway.refundReq) != 1 {
		t.Fatalf("expected one gateway refund call, got %d", len(f.gateway.refundReq))
	}
	if f.gateway.refundReq[0].PaymentID != gwID || f.gateway.refundReq[0].AmountPaise != 10000 {
		t.Fatalf("gateway refund request mismatch: %+v", f.gateway.refundReq[0])
	}
	if len(f.repo.refunds) != 1 || f.repo.refunds[0].GatewayRefundID == nil {
		t.Fatal("refund row must record the gateway refund id")
	}
}

func TestMarkFailedRejectsCapturedPayment(t *testing.T) {
	f := newPaymentFixture(t)
	order := payableOrder()

	payment, err := f.svc.EnsureForOrder(context.Background(), nil, order, enums.PaymentMethodGateway)
	if err != nil {
		t.Fatalf("ensure payment: %v", err)
	}
	ref := "gw_order_fail"
	payment.GatewayOrderRef = &ref
	payment.Status = enums.PaymentStatusCaptured

	_, err = f.svc.MarkFailed(context.Background(), nil, ref, "card declined")
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}
