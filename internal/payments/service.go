package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/agrimandi/agrimandi-backend/pkg/config"
	"github.com/agrimandi/agrimandi-backend/pkg/db/models"
	"github.com/agrimandi/agrimandi-backend/pkg/enums"
	pkgerrors "github.com/agrimandi/agrimandi-backend/pkg/errors"
	"github.com/agrimandi/agrimandi-backend/pkg/gateway"
	"github.com/agrimandi/agrimandi-backend/pkg/logger"
	"github.com/agrimandi/agrimandi-backend/pkg/outbox"
	"github.com/agrimandi/agrimandi-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// GatewayClient is the slice of the payment gateway the service needs.
type GatewayClient interface {
	CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Charge, error)
	CreateRefund(ctx context.Context, req gateway.RefundRequest) (*gateway.Refund, error)
}

// PaymentInitiatedEvent is emitted when a gateway charge is opened.
type PaymentInitiatedEvent struct {
	PaymentID   uuid.UUID `json:"payment_id"`
	OrderID     uuid.UUID `json:"order_id"`
	AmountPaise int64     `json:"amount_paise"`
	Method      string    `json:"method"`
}

// PaymentCapturedEvent is emitted when funds are confirmed.
type PaymentCapturedEvent struct {
	PaymentID        uuid.UUID `json:"payment_id"`
	OrderID          uuid.UUID `json:"order_id"`
	PayerID          uuid.UUID `json:"payer_id"`
	PayeeID          uuid.UUID `json:"payee_id"`
	AmountPaise      int64     `json:"amount_paise"`
	GatewayPaymentID string    `json:"gateway_payment_id,omitempty"`
}

// RefundProcessedEvent is emitted for every refund entry.
type RefundProcessedEvent struct {
	PaymentID   uuid.UUID `json:"payment_id"`
	OrderID     uuid.UUID `json:"order_id"`
	PayerID     uuid.UUID `json:"payer_id"`
	AmountPaise int64     `json:"amount_paise"`
	Reason      string    `json:"reason"`
}

// Service manages payment records: fee computation, gateway charges,
// idempotent capture, refunds, and one-time settlement.
type Service interface {
	EnsureForOrder(ctx context.Context, tx *gorm.DB, order *models.Order, method enums.PaymentMethod) (*models.Payment, error)
	InitiateGateway(ctx context.Context, order *models.Order, payment *models.Payment) (*models.Payment, error)
	CaptureInternal(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, reference string) (*models.Payment, error)
	Capture(ctx context.Context, tx *gorm.DB, gatewayOrderRef, gatewayPaymentID string) (*models.Payment, bool, error)
	MarkFailed(ctx context.Context, tx *gorm.DB, gatewayOrderRef, reason string) (*models.Payment, error)
	CancelPending(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
	Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, bool, error)
	RefundByOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, amountPaise int64, reason string) error
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
}

type service struct {
	repo    Repository
	tx      txRunner
	gateway GatewayClient
	outbox  outboxPublisher
	cfg     config.PricingConfig
	logg    *logger.Logger
}

// NewService builds a payment service with the required dependencies.
func NewService(
	repo Repository,
	tx txRunner,
	gatewayClient GatewayClient,
	outboxSvc outboxPublisher,
	cfg config.PricingConfig,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if gatewayClient == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:    repo,
		tx:      tx,
		gateway: gatewayClient,
		outbox:  outboxSvc,
		cfg:     cfg,
		logg:    logg,
	}, nil
}

// EnsureForOrder returns the order's payment record, creating it with the
// computed fee breakdown on first use. One active payment per order.
func (s *service) EnsureForOrder(ctx context.Context, tx *gorm.DB, order *models.Order, method enums.PaymentMethod) (*models.Payment, error) {
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	if !method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}
	repo := s.repo.WithTx(tx)

	existing, err := repo.FindByOrderID(ctx, order.ID)
	if err == nil {
		if existing.Settled || existing.Status == enums.PaymentStatusCaptured {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order already paid")
		}
		return existing, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}

	amount := order.AmountDuePaise
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "nothing due on order")
	}
	fees := computeFees(amount, order.PlatformFeePaise, method, s.cfg)

	payment := &models.Payment{
		OrderID:          order.ID,
		PayerID:          order.BuyerID,
		PayeeID:          order.FarmerID,
		Method:           method,
		AmountPaise:      amount,
		PlatformFeePaise: order.PlatformFeePaise,
		GatewayFeePaise:  fees.gatewayFeePaise,
		TaxOnFeesPaise:   fees.taxOnFeesPaise,
		NetAmountPaise:   fees.netAmountPaise,
		Status:           enums.PaymentStatusCreated,
	}
	if err := repo.Create(ctx, payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
	}
	return payment, nil
}

// InitiateGateway opens a charge at the gateway and records the reference.
// Gateway failures surface as dependency errors; nothing is persisted.
func (s *service) InitiateGateway(ctx context.Context, order *models.Order, payment *models.Payment) (*models.Payment, error) {
	if payment == nil || order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order and payment required")
	}
	charge, err := s.gateway.CreateCharge(ctx, gateway.ChargeRequest{
		AmountPaise: payment.AmountPaise,
		Currency:    string(order.Currency),
		Receipt:     order.OrderNumber,
		Notes: map[string]string{
			"order_id": order.ID.String(),
		},
	})
	if err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment.GatewayOrderRef = &charge.ID
		payment.Status = enums.PaymentStatusPending
		payment.Timeline = payment.Timeline.Append(systemEntry(string(enums.PaymentStatusPending), "gateway charge "+charge.ID))
		if err := repo.UpdateCAS(ctx, payment); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentInitiated,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Version:       1,
			Data: PaymentInitiatedEvent{
				PaymentID:   payment.ID,
				OrderID:     payment.OrderID,
				AmountPaise: payment.AmountPaise,
				Method:      string(payment.Method),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// CaptureInternal settles a wallet-funded payment inside the caller's
// transaction; there is no gateway id, so the reference describes the source.
func (s *service) CaptureInternal(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, reference string) (*models.Payment, error) {
	repo := s.repo.WithTx(tx)
	payment := &models.Payment{}
	if err := tx.WithContext(ctx).First(payment, "id = ?", paymentID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment.Status == enums.PaymentStatusCaptured {
		return payment, nil
	}
	payment.Status = enums.PaymentStatusCaptured
	payment.Timeline = payment.Timeline.Append(systemEntry(string(enums.PaymentStatusCaptured), reference))
	if err := repo.UpdateCAS(ctx, payment); err != nil {
		return nil, err
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentCaptured,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Version:       1,
		Data:          capturedEvent(payment, ""),
	}); err != nil {
		return nil, err
	}
	return payment, nil
}

// Capture records a gateway confirmation. Replays of the same gateway
// payment id return the already-captured record without side effects.
func (s *service) Capture(ctx context.Context, tx *gorm.DB, gatewayOrderRef, gatewayPaymentID string) (*models.Payment, bool, error) {
	if strings.TrimSpace(gatewayPaymentID) == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "gateway payment id required")
	}
	repo := s.repo.WithTx(tx)

	if existing, err := repo.FindByGatewayPaymentID(ctx, gatewayPaymentID); err == nil {
		return existing, true, nil
	} else if err != gorm.ErrRecordNotFound {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}

	payment, err := repo.FindByGatewayOrderRef(ctx, gatewayOrderRef)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, false, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found for gateway reference")
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment.Status == enums.PaymentStatusCaptured {
		return payment, true, nil
	}
	if payment.Status == enums.PaymentStatusCancelled {
		return nil, false, pkgerrors.New(pkgerrors.CodeStateConflict, "payment was cancelled")
	}

	payment.GatewayPaymentID = &gatewayPaymentID
	payment.Status = enums.PaymentStatusCaptured
	payment.Timeline = payment.Timeline.Append(systemEntry(string(enums.PaymentStatusCaptured), "gateway payment "+gatewayPaymentID))
	if err := repo.UpdateCAS(ctx, payment); err != nil {
		return nil, false, err
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentCaptured,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Version:       1,
		Data:          capturedEvent(payment, gatewayPaymentID),
	}); err != nil {
		return nil, false, err
	}
	return payment, false, nil
}

// CancelPending voids an order's uncaptured payment so a late gateway
// capture cannot land on a cancelled order. Captured payments are left to
// the refund path; a missing payment is a no-op.
func (s *service) CancelPending(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	repo := s.repo.WithTx(tx)
	payment, err := repo.FindByOrderID(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	switch payment.Status {
	case enums.PaymentStatusCreated, enums.PaymentStatusPending:
	default:
		return nil
	}
	payment.Status = enums.PaymentStatusCancelled
	payment.Timeline = payment.Timeline.Append(systemEntry(string(enums.PaymentStatusCancelled), "order cancelled"))
	return repo.UpdateCAS(ctx, payment)
}

// MarkFailed flags a payment the gateway reported as failed.
func (s *service) MarkFailed(ctx context.Context, tx *gorm.DB, gatewayOrderRef, reason string) (*models.Payment, error) {
	repo := s.repo.WithTx(tx)
	payment, err := repo.FindByGatewayOrderRef(ctx, gatewayOrderRef)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found for gateway reference")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment.Status == enums.PaymentStatusCaptured {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "captured payment cannot fail")
	}
	if payment.Status == enums.PaymentStatusFailed {
		return payment, nil
	}
	payment.Status = enums.PaymentStatusFailed
	payment.Timeline = payment.Timeline.Append(systemEntry(string(enums.PaymentStatusFailed), reason))
	if err := repo.UpdateCAS(ctx, payment); err != nil {
		return nil, err
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentFailed,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Version:       1,
		Data: PaymentInitiatedEvent{
			PaymentID:   payment.ID,
			OrderID:     payment.OrderID,
			AmountPaise: payment.AmountPaise,
			Method:      string(payment.Method),
		},
	}); err != nil {
		return nil, err
	}
	return payment, nil
}

// Release performs the one-time settlement of a captured payment and
// returns the net amount owed to the farmer.
func (s *service) Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, bool, error) {
	repo := s.repo.WithTx(tx)
	payment, err := repo.FindByOrderID(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, false, nil
		}
		return 0, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment.Settled {
		return 0, false, pkgerrors.New(pkgerrors.CodeAlreadySettled, "payment already settled")
	}
	if payment.Status != enums.PaymentStatusCaptured {
		return 0, false, nil
	}

	now := time.Now()
	payment.Settled = true
	payment.SettledAt = &now
	payment.Timeline = payment.Timeline.Append(systemEntry("settled", "net amount released"))
	if err := repo.UpdateCAS(ctx, payment); err != nil {
		return 0, false, err
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentSettled,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Version:       1,
		Data:          capturedEvent(payment, ""),
	}); err != nil {
		return 0, false, err
	}
	return payment.NetAmountPaise, true, nil
}

// RefundByOrder records a refund against the order's payment. The refund
// bound holds under any sequence of calls: the guard reads the row inside
// the caller's transaction.
func (s *service) RefundByOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, amountPaise int64, reason string) error {
	if amountPaise <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	repo := s.repo.WithTx(tx)
	payment, err := repo.FindByOrderID(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return pkgerrors.New(pkgerrors.CodeNotFound, "no payment on order")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if amountPaise > payment.RefundablePaise() {
		return pkgerrors.New(pkgerrors.CodeOverRefund, "refund exceeds remaining payment amount")
	}

	refund := &models.PaymentRefund{
		PaymentID:   payment.ID,
		AmountPaise: amountPaise,
		Reason:      reason,
	}
	if payment.Method == enums.PaymentMethodGateway && payment.GatewayPaymentID != nil {
		gwRefund, err := s.gateway.CreateRefund(ctx, gateway.RefundRequest{
			PaymentID:   *payment.GatewayPaymentID,
			AmountPaise: amountPaise,
			Notes:       map[string]string{"reason": reason},
		})
		if err != nil {
			return err
		}
		refund.GatewayRefundID = &gwRefund.ID
	}

	if err := repo.AddRefundRow(ctx, refund); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund")
	}

	payment.TotalRefundedPaise += amountPaise
	switch {
	case payment.TotalRefundedPaise >= payment.AmountPaise:
		payment.Status = enums.PaymentStatusRefunded
	case payment.TotalRefundedPaise > 0:
		payment.Status = enums.PaymentStatusPartiallyRefunded
	}
	payment.Timeline = payment.Timeline.Append(systemEntry(string(payment.Status), reason))
	if err := repo.UpdateCAS(ctx, payment); err != nil {
		return err
	}

	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventRefundProcessed,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Version:       1,
		Data: RefundProcessedEvent{
			PaymentID:   payment.ID,
			OrderID:     payment.OrderID,
			PayerID:     payment.PayerID,
			AmountPaise: amountPaise,
			Reason:      reason,
		},
	})
}

func (s *service) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no payment on order")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return payment, nil
}

type feeBreakdown struct {
	gatewayFeePaise int64
	taxOnFeesPaise  int64
	netAmountPaise  int64
}

// computeFees derives gateway fee, tax on fees, and the farmer's net amount
// from the charged amount. Wallet and COD payments carry no gateway fee.
func computeFees(amountPaise, platformFeePaise int64, method enums.PaymentMethod, cfg config.PricingConfig) feeBreakdown {
	amount := decimal.NewFromInt(amountPaise)
	platformFee := decimal.NewFromInt(platformFeePaise)
	hundred := decimal.NewFromInt(100)

	gatewayFee := decimal.Zero
	if method == enums.PaymentMethodGateway {
		gatewayFee = amount.Mul(cfg.GatewayFeeRate()).Div(hundred).Round(0)
	}
	taxOnFees := platformFee.Add(gatewayFee).Mul(cfg.TaxOnFeesRate()).Div(hundred).Round(0)

	net := amount.Sub(platformFee).Sub(gatewayFee).Sub(taxOnFees)
	if net.IsNegative() {
		net = decimal.Zero
	}

	return feeBreakdown{
		gatewayFeePaise: gatewayFee.IntPart(),
		taxOnFeesPaise:  taxOnFees.IntPart(),
		netAmountPaise:  net.IntPart(),
	}
}

func systemEntry(status, description string) types.TimelineEntry {
	return types.TimelineEntry{
		Status:      status,
		Description: description,
		ActorRole:   enums.ActorRoleSystem,
		At:          time.Now(),
	}
}

func capturedEvent(payment *models.Payment, gatewayPaymentID string) PaymentCapturedEvent {
	return PaymentCapturedEvent{
		PaymentID:        payment.ID,
		OrderID:          payment.OrderID,
		PayerID:          payment.PayerID,
		PayeeID:          payment.PayeeID,
		AmountPaise:      payment.AmountPaise,
		GatewayPaymentID: gatewayPaymentID,
	}
}
