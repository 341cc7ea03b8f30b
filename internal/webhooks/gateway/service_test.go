package gatewaywebhook

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agrimandi/agrimandi-backend/pkg/db/models"
	"github.com/agrimandi/agrimandi-backend/pkg/enums"
	pkgerrors "github.com/agrimandi/agrimandi-backend/pkg/errors"
	"github.com/agrimandi/agrimandi-backend/pkg/gateway"
	"github.com/agrimandi/agrimandi-backend/pkg/logger"
)

const testSecret = "whsec_test"

type webhookTxRunner struct{}

func (webhookTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubPayments struct {
	payment    *models.Payment
	replay     bool
	captureErr error
	captures   []string
	failures   []string
}

func (s *stubPayments) Capture(ctx context.Context, tx *gorm.DB, gatewayOrderRef, gatewayPaymentID string) (*models.Payment, bool, error) {
	if s.captureErr != nil {
		return nil, false, s.captureErr
	}
	s.captures = append(s.captures, gatewayPaymentID)
	return s.payment, s.replay, nil
}

func (s *stubPayments) MarkFailed(ctx context.Context, tx *gorm.DB, gatewayOrderRef, reason string) (*models.Payment, error) {
	s.failures = append(s.failures, reason)
	return s.payment, nil
}

type stubOrders struct {
	markPaid []int64
}

func (s *stubOrders) MarkPaid(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, amountPaise int64, reference string) error {
	s.markPaid = append(s.markPaid, amountPaise)
	return nil
}

type memoryIdempotency struct {
	keys map[string]bool
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{keys: map[string]bool{}}
}

func (m *memoryIdempotency) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *memoryIdempotency) IdempotencyKey(scope, id string) string {
	return "agm:" + scope + ":" + id
}

func (m *memoryIdempotency) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.keys, key)
	}
	return nil
}

type webhookFixture struct {
	svc         *Service
	payments    *stubPayments
	orders      *stubOrders
	idempotency *memoryIdempotency
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	f := &webhookFixture{
		payments: &stubPayments{
			payment: &models.Payment{
				ID:          uuid.New(),
				OrderID:     uuid.New(),
				AmountPaise: 58500,
				Status:      enums.PaymentStatusCaptured,
			},
		},
		orders:      &stubOrders{},
		idempotency: newMemoryIdempotency(),
	}
	svc, err := NewService(ServiceParams{
		SigningSecret:     testSecret,
		Payments:          f.payments,
		Orders:            f.orders,
		TransactionRunner: webhookTxRunner{},
		Idempotency:       f.idempotency,
		Logger:            logger.New(logger.Options{ServiceName: "test"}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	return f
}

func signedBody(t *testing.T, event Event) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body, gateway.ComputeSignature(testSecret, body)
}

func capturedEvent(id string) Event {
	return Event{
		ID:   id,
		Type: EventPaymentCaptured,
		Data: EventData{
			ChargeID:    "chg_123",
			PaymentID:   "pay_456",
			AmountPaise: 58500,
		},
	}
}

func TestHandleCallbackRejectsBadSignature(t *testing.T) {
	f := newWebhookFixture(t)
	body, _ := signedBody(t, capturedEvent("evt_1"))

	err := f.svc.HandleCallback(context.Background(), body, "deadbeef")
	if !pkgerrors.HasCode(err, pkgerrors.CodeSignatureInvalid) {
		t.Fatalf("expected signature invalid, got %v", err)
	}
	if len(f.payments.captures) != 0 {
		t.Fatal("nothing may be dispatched on a bad signature")
	}
}

func TestHandleCallbackRejectsMissingEventID(t *testing.T) {
	f := newWebhookFixture(t)
	body, sig := signedBody(t, capturedEvent(""))

	err := f.svc.HandleCallback(context.Background(), body, sig)
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHandleCallbackCapturedMarksOrderPaid(t *testing.T) {
	f := newWebhookFixture(t)
	body, sig := signedBody(t, capturedEvent("evt_2"))

	if err := f.svc.HandleCallback(context.Background(), body, sig); err != nil {
		t.Fatalf("handle callback: %v", err)
	}
	if len(f.payments.captures) != 1 || f.payments.captures[0] != "pay_456" {
		t.Fatalf("capture calls: %v", f.payments.captures)
	}
	if len(f.orders.markPaid) != 1 || f.orders.markPaid[0] != 58500 {
		t.Fatalf("mark paid calls: %v", f.orders.markPaid)
	}
}

func TestHandleCallbackDuplicateEventIsAcknowledged(t *testing.T) {
	f := newWebhookFixture(t)
	body, sig := signedBody(t, capturedEvent("evt_3"))

	if err := f.svc.HandleCallback(context.Background(), body, sig); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := f.svc.HandleCallback(context.Background(), body, sig); err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}
	if len(f.payments.captures) != 1 {
		t.Fatalf("duplicate must not re-dispatch, got %d captures", len(f.payments.captures))
	}
}

func TestHandleCallbackReplayedCaptureSkipsMarkPaid(t *testing.T) {
	f := newWebhookFixture(t)
	f.payments.replay = true
	body, sig := signedBody(t, capturedEvent("evt_4"))

	if err := f.svc.HandleCallback(context.Background(), body, sig); err != nil {
		t.Fatalf("handle callback: %v", err)
	}
	if len(f.orders.markPaid) != 0 {
		t.Fatal("replayed captures must not touch the order")
	}
}

func TestHandleCallbackReleasesGuardOnDispatchFailure(t *testing.T) {
	f := newWebhookFixture(t)
	f.payments.captureErr = errors.New("gateway reference unknown")
	body, sig := signedBody(t, capturedEvent("evt_5"))

	if err := f.svc.HandleCallback(context.Background(), body, sig); err == nil {
		t.Fatal("expected dispatch error")
	}

	// the retry can now reprocess the same event id
	f.payments.captureErr = nil
	if err := f.svc.HandleCallback(context.Background(), body, sig); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if len(f.payments.captures) != 1 {
		t.Fatalf("expected the retry to dispatch, got %d captures", len(f.payments.captures))
	}
}

func TestHandleCallbackFailedEventMarksPayment(t *testing.T) {
	f := newWebhookFixture(t)
	body, sig := signedBody(t, Event{
		ID:   "evt_6",
		Type: EventPaymentFailed,
		Data: EventData{ChargeID: "chg_123", Reason: "card declined"},
	})

	if err := f.svc.HandleCallback(context.Background(), body, sig); err != nil {
		t.Fatalf("handle callback: %v", err)
	}
	if len(f.payments.failures) != 1 || f.payments.failures[0] != "card declined" {
		t.Fatalf("failure calls: %v", f.payments.failures)
	}
}

func TestHandleCallbackUnknownEventIsIgnored(t *testing.T) {
	f := newWebhookFixture(t)
	body, sig := signedBody(t, Event{ID: "evt_7", Type: "payout.settled"})

	if err := f.svc.HandleCallback(context.Background(), body, sig); err != nil {
		t.Fatalf("unknown events must be acknowledged: %v", err)
	}
	if len(f.payments.captures) != 0 && len(f.payments.failures) != 0 {
		t.Fatal("unknown events must not dispatch")
	}
}
