package gatewaywebhook

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agrimandi/agrimandi-backend/pkg/db/models"
	pkgerrors "github.com/agrimandi/agrimandi-backend/pkg/errors"
	"github.com/agrimandi/agrimandi-backend/pkg/gateway"
	"github.com/agrimandi/agrimandi-backend/pkg/logger"
	"github.com/agrimandi/agrimandi-backend/pkg/metrics"
)

const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
	EventRefundProcessed = "refund.processed"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type paymentService interface {
	Capture(ctx context.Context, tx *gorm.DB, gatewayOrderRef, gatewayPaymentID string) (*models.Payment, bool, error)
	MarkFailed(ctx context.Context, tx *gorm.DB, gatewayOrderRef, reason string) (*models.Payment, error)
}

type orderMarker interface {
	MarkPaid(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, amountPaise int64, reference string) error
}

type idempotencyStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	Del(ctx context.Context, keys ...string) error
}

// Event is the parsed gateway webhook envelope.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"event"`
	Data EventData `json:"data"`
}

// EventData carries the gateway identifiers the handlers act on.
type EventData struct {
	ChargeID    string `json:"charge_id"`
	PaymentID   string `json:"payment_id"`
	RefundID    string `json:"refund_id"`
	AmountPaise int64  `json:"amount"`
	Reason      string `json:"reason"`
}

// ServiceParams collects the webhook service dependencies.
type ServiceParams struct {
	SigningSecret     string
	Payments          paymentService
	Orders            orderMarker
	TransactionRunner txRunner
	Idempotency       idempotencyStore
	IdempotencyTTL    time.Duration
	Metrics           *metrics.WebhookMetrics
	Logger            *logger.Logger
}

// Service verifies, deduplicates, and applies gateway callbacks.
type Service struct {
	secret      string
	payments    paymentService
	orders      orderMarker
	txRunner    txRunner
	idempotency idempotencyStore
	ttl         time.Duration
	metrics     *metrics.WebhookMetrics
	logg        *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if strings.TrimSpace(params.SigningSecret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook signing secret required")
	}
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment service required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order marker required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Idempotency == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency store required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	ttl := params.IdempotencyTTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Service{
		secret:      params.SigningSecret,
		payments:    params.Payments,
		orders:      params.Orders,
		txRunner:    params.TransactionRunner,
		idempotency: params.Idempotency,
		ttl:         ttl,
		metrics:     params.Metrics,
		logg:        params.Logger,
	}, nil
}

// HandleCallback verifies the raw body signature, parses the event, and
// dispatches it. Replayed event ids are acknowledged without side effects.
func (s *Service) HandleCallback(ctx context.Context, body []byte, signature string) error {
	if !gateway.VerifySignature(s.secret, body, signature) {
		s.metrics.IncRejected("signature_invalid")
		s.logg.Warn(ctx, "gateway webhook rejected: invalid signature")
		return pkgerrors.New(pkgerrors.CodeSignatureInvalid, "webhook signature mismatch")
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		s.metrics.IncRejected("malformed_body")
		return pkgerrors.New(pkgerrors.CodeValidation, "malformed webhook body")
	}
	if strings.TrimSpace(event.ID) == "" {
		s.metrics.IncRejected("missing_event_id")
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook event id missing")
	}

	key := s.idempotency.IdempotencyKey("gateway_webhook", event.ID)
	fresh, err := s.idempotency.SetNX(ctx, key, time.Now().Unix(), s.ttl)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook idempotency check")
	}
	if !fresh {
		s.metrics.IncDuplicate(event.Type)
		return nil
	}

	if err := s.dispatch(ctx, &event); err != nil {
		// release the guard so the gateway's retry can reprocess
		_ = s.idempotency.Del(ctx, key)
		return err
	}
	s.metrics.IncReceived(event.Type)
	return nil
}

func (s *Service) dispatch(ctx context.Context, event *Event) error {
	switch strings.ToLower(event.Type) {
	case EventPaymentCaptured:
		return s.handleCaptured(ctx, event)
	case EventPaymentFailed:
		return s.handleFailed(ctx, event)
	case EventRefundProcessed:
		// refunds are initiated by this system; the callback is informational
		logCtx := s.logg.WithField(ctx, "refund_id", event.Data.RefundID)
		s.logg.Info(logCtx, "gateway refund confirmed")
		return nil
	default:
		return nil
	}
}

func (s *Service) handleCaptured(ctx context.Context, event *Event) error {
	if event.Data.ChargeID == "" || event.Data.PaymentID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "gateway identifiers missing")
	}
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		payment, replay, err := s.payments.Capture(ctx, tx, event.Data.ChargeID, event.Data.PaymentID)
		if err != nil {
			return err
		}
		if replay {
			return nil
		}
		return s.orders.MarkPaid(ctx, tx, payment.OrderID, payment.AmountPaise, event.Data.PaymentID)
	})
}

func (s *Service) handleFailed(ctx context.Context, event *Event) error {
	if event.Data.ChargeID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "gateway identifiers missing")
	}
	reason := event.Data.Reason
	if reason == "" {
		reason = "gateway reported failure"
	}
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := s.payments.MarkFailed(ctx, tx, event.Data.ChargeID, reason)
		return err
	})
}
