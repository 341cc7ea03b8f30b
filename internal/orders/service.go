package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/agrimandi/agrimandi-backend/internal/wallets"
	"github.com/agrimandi/agrimandi-backend/pkg/config"
	dbpkg "github.com/agrimandi/agrimandi-backend/pkg/db"
	"github.com/agrimandi/agrimandi-backend/pkg/db/models"
	"github.com/agrimandi/agrimandi-backend/pkg/enums"
	pkgerrors "github.com/agrimandi/agrimandi-backend/pkg/errors"
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

// InventoryService covers the stock moves the orchestrator sequences.
type InventoryService interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	Reserve(ctx context.Context, tx *gorm.DB, listingID uuid.UUID, qty int) error
	Release(ctx context.Context, tx *gorm.DB, listingID uuid.UUID, qty int) error
	CommitSale(ctx context.Context, tx *gorm.DB, listingID uuid.UUID, qty int) error
}

// WalletCreditor moves settlement, payment, and refund funds through wallets.
type WalletCreditor interface {
	Credit(ctx context.Context, tx *gorm.DB, input wallets.MoveInput) error
	Debit(ctx context.Context, tx *gorm.DB, input wallets.MoveInput) error
}

// PaymentSettler covers the payment-record effects the orchestrator sequences.
type PaymentSettler interface {
	EnsureForOrder(ctx context.Context, tx *gorm.DB, order *models.Order, method enums.PaymentMethod) (*models.Payment, error)
	InitiateGateway(ctx context.Context, order *models.Order, payment *models.Payment) (*models.Payment, error)
	CaptureInternal(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, reference string) (*models.Payment, error)
	CancelPending(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
	Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (netPaise int64, found bool, err error)
	RefundByOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, amountPaise int64, reason string) error
}

// Service is the order orchestrator: every mutation sequences inventory,
// pricing, payment, and wallet effects inside one database transaction.
type Service interface {
	PlaceOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error)
	Get(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error)
	List(ctx context.Context, actor Actor, limit int) ([]models.Order, error)
	UpdateStatus(ctx context.Context, input UpdateStatusInput) error
	Cancel(ctx context.Context, input CancelInput) error
	RaiseDispute(ctx context.Context, input DisputeInput) error
	ResolveDispute(ctx context.Context, input ResolveDisputeInput) error
	RequestReturn(ctx context.Context, input ReturnInput) error
	InitiatePayment(ctx context.Context, actor Actor, orderID uuid.UUID, method enums.PaymentMethod) (*models.Payment, error)
	MarkPaid(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, amountPaise int64, reference string) error
	ExpirePending(ctx context.Context, orderID uuid.UUID) error
}

type service struct {
	repo      Repository
	tx        txRunner
	inventory InventoryService
	wallets   WalletCreditor
	payments  PaymentSettler
	outbox    outboxPublisher
	pricing   config.PricingConfig
	logg      *logger.Logger
}

// NewService builds the order orchestrator with the required dependencies.
func NewService(
	repo      Repository,
	tx        txRunner,
	inventory InventoryService,
	walletSvc WalletCreditor,
	payments  PaymentSettler,
	outboxSvc outboxPublisher,
	pricing   config.PricingConfig,
	logg      *logger.Logger,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if inventory == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if walletSvc == nil {
		return nil, fmt.Errorf("wallet service required")
	}
	if payments == nil {
		return nil, fmt.Errorf("payment settler required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:      repo,
		tx:        tx,
		inventory: inventory,
		wallets:   walletSvc,
		payments:  payments,
		outbox:    outboxSvc,
		pricing:   pricing,
		logg:      logg,
	}, nil
}

// runWithRetry executes the transaction, retrying lost CAS races a bounded
// number of times before surfacing the conflict.
func (s *service) runWithRetry(ctx context.Context, fn func(tx *gorm.DB) error) error {
	backoff := retry.WithMaxRetries(2, retry.NewConstant(25*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.tx.WithTx(ctx, fn)
		if pkgerrors.HasCode(err, pkgerrors.CodeVersionConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (s *service) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error) {
	if input.Buyer.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.ListingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "listing id required")
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	deliveryType := input.DeliveryType
	if deliveryType == "" {
		deliveryType = enums.DeliveryTypeDelivery
	}
	if !deliveryType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid delivery type")
	}

	listing, err := s.inventory.Get(ctx, input.ListingID)
	if err != nil {
		return nil, err
	}
	if listing.FarmerID == input.Buyer.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "cannot order own listing")
	}
	if listing.Status == enums.ListingStatusHidden {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
	}

	// The discount is the farmer's listing promotion, snapshotted here.
	// Buyers have no input into pricing beyond quantity.
	discount := decimal.Zero
	if listing.DiscountPercent != "" {
		discount, err = decimal.NewFromString(listing.DiscountPercent)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "parse listing discount")
		}
	}

	pricing, err := ComputePricing(PricingInput{
		Quantity:        input.Quantity,
		UnitPricePaise:  listing.PricePerUnitPaise,
		DiscountPercent: discount,
		GSTPercent:      s.pricing.GSTRate(),
		DeliveryType:    deliveryType,
	}, s.pricing)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	order := &models.Order{
		OrderNumber:      NewOrderNumber(now),
		BuyerID:          input.Buyer.UserID,
		FarmerID:         listing.FarmerID,
		ListingID:        listing.ID,
		Quantity:         input.Quantity,
		UnitPricePaise:   listing.PricePerUnitPaise,
		Currency:         enums.CurrencyINR,
		DeliveryType:     deliveryType,
		DiscountPercent:  discount.String(),
		GSTPercent:       s.pricing.GSTPercent,
		SubtotalPaise:    pricing.SubtotalPaise,
		DiscountPaise:    pricing.DiscountPaise,
		GSTPaise:         pricing.GSTPaise,
		ShippingPaise:    pricing.ShippingPaise,
		PlatformFeePaise: pricing.PlatformFeePaise,
		TotalPaise:       pricing.TotalPaise,
		AmountDuePaise:   pricing.TotalPaise,
		Status:           enums.OrderStatusPending,
		PaymentStatus:    enums.OrderPaymentStatusPending,
		Timeline: types.Timeline{{
			Status:      string(enums.OrderStatusPending),
			Description: "order placed",
			ActorID:     input.Buyer.UserID,
			ActorRole:   enums.ActorRoleBuyer,
			At:          now,
		}},
	}

	// Reservation and order insert share one transaction: a failed insert
	// rolls the reservation back instead of stranding reserved stock. An
	// order number collision aborts the whole transaction on Postgres, so
	// the retry regenerates the number and re-runs it from the top.
	placeTx := func(tx *gorm.DB) error {
		if err := s.inventory.Reserve(ctx, tx, listing.ID, input.Quantity); err != nil {
			return err
		}
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         actorRef(input.Buyer),
			Data: OrderCreatedEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				BuyerID:     order.BuyerID,
				FarmerID:    order.FarmerID,
				ListingID:   order.ListingID,
				Quantity:    order.Quantity,
				TotalPaise:  order.TotalPaise,
				Status:      order.Status,
			},
		})
	}
	err = s.tx.WithTx(ctx, placeTx)
	if dbpkg.IsUniqueViolation(err, "") {
		order.OrderNumber = NewOrderNumber(time.Now())
		err = s.tx.WithTx(ctx, placeTx)
	}
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithOrderNumber(ctx, order.OrderNumber)
	s.logg.Info(logCtx, "order placed")
	return order, nil
}

func (s *service) Get(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.load(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, order) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
	}
	return order, nil
}

func (s *service) List(ctx context.Context, actor Actor, limit int) ([]models.Order, error) {
	switch actor.Role {
	case enums.ActorRoleBuyer:
		return s.repo.ListByBuyer(ctx, actor.UserID, limit)
	case enums.ActorRoleFarmer:
		return s.repo.ListByFarmer(ctx, actor.UserID, limit)
	case enums.ActorRoleAdmin:
		return s.repo.ListAll(ctx, limit)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "role cannot list orders")
	}
}

func (s *service) UpdateStatus(ctx context.Context, input UpdateStatusInput) error {
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Target.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}
	if input.Target == enums.OrderStatusCancelled {
		return pkgerrors.New(pkgerrors.CodeValidation, "use the cancel operation")
	}
	if input.Actor.Role != enums.ActorRoleFarmer && input.Actor.Role != enums.ActorRoleAdmin {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only the farmer or an admin can update order status")
	}

	if input.Target == enums.OrderStatusDelivered {
		return s.deliver(ctx, input)
	}

	return s.runWithRetry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		if err := authorizeFarmerSide(input.Actor, order); err != nil {
			return err
		}
		from := order.Status
		if !CanTransition(from, input.Target) {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("cannot move order from %s to %s", from, input.Target))
		}

		order.Status = input.Target
		order.Timeline = order.Timeline.Append(timelineEntry(input.Target, input.Description, input.Actor))
		if err := repo.UpdateCAS(ctx, order); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         actorRef(input.Actor),
			Data: OrderStatusChangedEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				BuyerID:     order.BuyerID,
				FarmerID:    order.FarmerID,
				From:        from,
				To:          input.Target,
			},
		})
	})
}

// deliver settles the order: stock reserved→sold, payment released once,
// farmer credited the net amount, all inside one transaction.
func (s *service) deliver(ctx context.Context, input UpdateStatusInput) error {
	return s.runWithRetry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		if err := authorizeFarmerSide(input.Actor, order); err != nil {
			return err
		}
		if order.HasOpenDispute() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cannot deliver while a dispute is open")
		}
		if !CanTransition(order.Status, enums.OrderStatusDelivered) {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("cannot deliver order in state %s", order.Status))
		}

		if err := s.inventory.CommitSale(ctx, tx, order.ListingID, order.Quantity); err != nil {
			return err
		}

		netPaise, found, err := s.payments.Release(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if !found {
			netPaise = order.TotalPaise - order.PlatformFeePaise
		}
		if err := s.wallets.Credit(ctx, tx, wallets.MoveInput{
			UserID:      order.FarmerID,
			AmountPaise: netPaise,
			Type:        enums.TransactionTypeCredit,
			Reference:   order.OrderNumber,
			Description: "order settlement",
		}); err != nil {
			return err
		}

		now := time.Now()
		order.Status = enums.OrderStatusDelivered
		order.PaymentStatus = enums.OrderPaymentStatusPaid
		order.AmountPaidPaise = order.TotalPaise
		order.AmountDuePaise = 0
		order.DeliveredAt = &now
		order.Timeline = order.Timeline.Append(timelineEntry(enums.OrderStatusDelivered, input.Description, input.Actor))
		if err := repo.UpdateCAS(ctx, order); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderDelivered,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         actorRef(input.Actor),
			Data: OrderDeliveredEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				BuyerID:     order.BuyerID,
				FarmerID:    order.FarmerID,
				NetPaise:    netPaise,
				TotalPaise:  order.TotalPaise,
			},
		})
	})
}

func (s *service) Cancel(ctx context.Context, input CancelInput) error {
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "cancel reason required")
	}

	return s.runWithRetry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		if err := authorizeParty(input.Actor, order); err != nil {
			return err
		}
		if !CanCancel(order.Status) {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("cannot cancel order in state %s", order.Status))
		}

		if err := s.inventory.Release(ctx, tx, order.ListingID, order.Quantity); err != nil {
			return err
		}

		refundPaise := int64(0)
		if order.PaymentStatus == enums.OrderPaymentStatusPaid || order.PaymentStatus == enums.OrderPaymentStatusPartial {
			refundPaise = order.AmountPaidPaise
		}
		if refundPaise > 0 {
			if err := s.payments.RefundByOrder(ctx, tx, order.ID, refundPaise, "order cancelled"); err != nil {
				return err
			}
			if err := s.wallets.Credit(ctx, tx, wallets.MoveInput{
				UserID:      order.BuyerID,
				AmountPaise: refundPaise,
				Type:        enums.TransactionTypeRefund,
				Reference:   order.OrderNumber,
				Description: "refund for cancelled order",
			}); err != nil {
				return err
			}
			order.PaymentStatus = enums.OrderPaymentStatusRefunded
		} else {
			// Void any uncaptured payment so a late gateway capture
			// cannot land on the cancelled order.
			if err := s.payments.CancelPending(ctx, tx, order.ID); err != nil {
				return err
			}
			order.PaymentStatus = enums.OrderPaymentStatusCancelled
		}

		now := time.Now()
		order.Status = enums.OrderStatusCancelled
		order.CancelReason = &reason
		order.CancelledAt = &now
		order.Timeline = order.Timeline.Append(timelineEntry(enums.OrderStatusCancelled, reason, input.Actor))
		if err := repo.UpdateCAS(ctx, order); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         actorRef(input.Actor),
			Data: OrderCancelledEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				BuyerID:     order.BuyerID,
				FarmerID:    order.FarmerID,
				Reason:      reason,
				RefundPaise: refundPaise,
			},
		})
	})
}

func (s *service) RaiseDispute(ctx context.Context, input DisputeInput) error {
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "dispute reason required")
	}

	return s.runWithRetry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		if err := authorizeParty(input.Actor, order); err != nil {
			return err
		}
		if order.Dispute != nil {
			return pkgerrors.New(pkgerrors.CodeAlreadyDisputed, "order already disputed")
		}
		if order.Status == enums.OrderStatusCancelled || order.Status == enums.OrderStatusReturned {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("cannot dispute order in state %s", order.Status))
		}

		order.Dispute = &types.Dispute{
			RaisedBy:   input.Actor.UserID,
			RaisedRole: input.Actor.Role,
			Reason:     reason,
			Status:     enums.DisputeStatusOpen,
			RaisedAt:   time.Now(),
		}
		order.Timeline = order.Timeline.Append(types.TimelineEntry{
			Status:      string(order.Status),
			Description: "dispute raised: " + reason,
			ActorID:     input.Actor.UserID,
			ActorRole:   input.Actor.Role,
			At:          time.Now(),
		})
		if err := repo.UpdateCAS(ctx, order); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDisputeRaised,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         actorRef(input.Actor),
			Data: DisputeEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				BuyerID:     order.BuyerID,
				FarmerID:    order.FarmerID,
				Reason:      reason,
			},
		})
	})
}

func (s *service) ResolveDispute(ctx context.Context, input ResolveDisputeInput) error {
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.Actor.Role != enums.ActorRoleAdmin {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only admins resolve disputes")
	}
	resolution := strings.TrimSpace(input.Resolution)
	if resolution == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "resolution text required")
	}
	if input.RefundPaise < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund amount cannot be negative")
	}

	return s.runWithRetry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		if order.Dispute == nil || order.Dispute.Status != enums.DisputeStatusOpen {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "no open dispute on order")
		}

		if input.RefundPaise > 0 {
			if err := s.payments.RefundByOrder(ctx, tx, order.ID, input.RefundPaise, resolution); err != nil {
				return err
			}
			if err := s.wallets.Credit(ctx, tx, wallets.MoveInput{
				UserID:      order.BuyerID,
				AmountPaise: input.RefundPaise,
				Type:        enums.TransactionTypeRefund,
				Reference:   order.OrderNumber,
				Description: "dispute refund",
			}); err != nil {
				return err
			}
			if input.RefundPaise >= order.AmountPaidPaise && order.AmountPaidPaise > 0 {
				order.PaymentStatus = enums.OrderPaymentStatusRefunded
			}
		}

		now := time.Now()
		order.Dispute.Status = enums.DisputeStatusResolved
		order.Dispute.Resolution = resolution
		order.Dispute.ResolvedBy = &input.Actor.UserID
		order.Dispute.ResolvedAt = &now
		order.Timeline = order.Timeline.Append(types.TimelineEntry{
			Status:      string(order.Status),
			Description: "dispute resolved: " + resolution,
			ActorID:     input.Actor.UserID,
			ActorRole:   input.Actor.Role,
			At:          now,
		})
		if err := repo.UpdateCAS(ctx, order); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDisputeResolved,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         actorRef(input.Actor),
			Data: DisputeEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				BuyerID:     order.BuyerID,
				FarmerID:    order.FarmerID,
				Resolution:  resolution,
				RefundPaise: input.RefundPaise,
			},
		})
	})
}

func (s *service) RequestReturn(ctx context.Context, input ReturnInput) error {
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "return reason required")
	}
	if input.Actor.Role != enums.ActorRoleBuyer {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only buyers request returns")
	}

	return s.runWithRetry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		if order.BuyerID != input.Actor.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
		}
		if order.Status != enums.OrderStatusDelivered {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "returns require a delivered order")
		}
		if order.Return != nil && order.Return.Status.IsActive() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "return already requested")
		}

		order.Return = &types.Return{
			RequestedBy: input.Actor.UserID,
			Reason:      reason,
			Status:      enums.ReturnStatusRequested,
			RequestedAt: time.Now(),
		}
		order.Timeline = order.Timeline.Append(types.TimelineEntry{
			Status:      string(order.Status),
			Description: "return requested: " + reason,
			ActorID:     input.Actor.UserID,
			ActorRole:   input.Actor.Role,
			At:          time.Now(),
		})
		if err := repo.UpdateCAS(ctx, order); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderReturnRequested,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         actorRef(input.Actor),
			Data: ReturnRequestedEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				BuyerID:     order.BuyerID,
				FarmerID:    order.FarmerID,
				Reason:      reason,
			},
		})
	})
}

// InitiatePayment opens the payment flow for an order. Wallet payments
// settle immediately: debit, capture, and the paid-state update share one
// transaction. Gateway payments wait for the capture webhook.
func (s *service) InitiatePayment(ctx context.Context, actor Actor, orderID uuid.UUID, method enums.PaymentMethod) (*models.Payment, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if method == "" {
		method = enums.PaymentMethodGateway
	}
	if !method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}

	order, err := s.load(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != actor.UserID && actor.Role != enums.ActorRoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can pay for an order")
	}
	if order.Status.IsTerminal() && order.Status != enums.OrderStatusDelivered {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is no longer payable")
	}
	if order.AmountDuePaise <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "nothing due on order")
	}

	switch method {
	case enums.PaymentMethodWallet:
		var payment *models.Payment
		err := s.runWithRetry(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			current, err := s.load(ctx, repo, orderID)
			if err != nil {
				return err
			}
			payment, err = s.payments.EnsureForOrder(ctx, tx, current, method)
			if err != nil {
				return err
			}
			if err := s.wallets.Debit(ctx, tx, wallets.MoveInput{
				UserID:      current.BuyerID,
				AmountPaise: payment.AmountPaise,
				Type:        enums.TransactionTypeDebit,
				Reference:   current.OrderNumber,
				Description: "order payment",
			}); err != nil {
				return err
			}
			if payment, err = s.payments.CaptureInternal(ctx, tx, payment.ID, "wallet payment"); err != nil {
				return err
			}
			return s.MarkPaid(ctx, tx, current.ID, payment.AmountPaise, "wallet")
		})
		if err != nil {
			return nil, err
		}
		return payment, nil

	case enums.PaymentMethodCOD:
		var payment *models.Payment
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			payment, err = s.payments.EnsureForOrder(ctx, tx, order, method)
			return err
		})
		if err != nil {
			return nil, err
		}
		return payment, nil

	default:
		var payment *models.Payment
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			payment, err = s.payments.EnsureForOrder(ctx, tx, order, method)
			return err
		})
		if err != nil {
			return nil, err
		}
		return s.payments.InitiateGateway(ctx, order, payment)
	}
}

// MarkPaid records captured funds against the order inside the caller's
// transaction. Called from the webhook flow after payment capture.
func (s *service) MarkPaid(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, amountPaise int64, reference string) error {
	if amountPaise <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	repo := s.repo.WithTx(tx)
	order, err := s.load(ctx, repo, orderID)
	if err != nil {
		return err
	}
	if order.Status == enums.OrderStatusCancelled {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "cannot record payment on cancelled order")
	}

	order.AmountPaidPaise += amountPaise
	order.AmountDuePaise = order.TotalPaise - order.AmountPaidPaise
	if order.AmountDuePaise <= 0 {
		order.AmountDuePaise = 0
		order.PaymentStatus = enums.OrderPaymentStatusPaid
	} else {
		order.PaymentStatus = enums.OrderPaymentStatusPartial
	}
	if order.Status == enums.OrderStatusPending {
		order.Status = enums.OrderStatusConfirmed
	}
	order.Timeline = order.Timeline.Append(types.TimelineEntry{
		Status:      string(order.Status),
		Description: "payment received " + reference,
		ActorRole:   enums.ActorRoleSystem,
		At:          time.Now(),
	})
	return repo.UpdateCAS(ctx, order)
}

// ExpirePending cancels a pending order whose payment window has elapsed,
// releasing its reservation. Orders that moved on since being selected are
// left untouched.
func (s *service) ExpirePending(ctx context.Context, orderID uuid.UUID) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	return s.runWithRetry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusPending || order.PaymentStatus != enums.OrderPaymentStatusPending {
			return nil
		}

		if err := s.inventory.Release(ctx, tx, order.ListingID, order.Quantity); err != nil {
			return err
		}
		if err := s.payments.CancelPending(ctx, tx, order.ID); err != nil {
			return err
		}

		now := time.Now()
		reason := "payment window elapsed"
		order.Status = enums.OrderStatusCancelled
		order.PaymentStatus = enums.OrderPaymentStatusCancelled
		order.CancelReason = &reason
		order.CancelledAt = &now
		order.Timeline = order.Timeline.Append(types.TimelineEntry{
			Status:      string(enums.OrderStatusCancelled),
			Description: reason,
			ActorRole:   enums.ActorRoleSystem,
			At:          now,
		})
		if err := repo.UpdateCAS(ctx, order); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderExpired,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: OrderCancelledEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				BuyerID:     order.BuyerID,
				FarmerID:    order.FarmerID,
				Reason:      reason,
			},
		})
	})
}

func (s *service) load(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func canView(actor Actor, order *models.Order) bool {
	switch actor.Role {
	case enums.ActorRoleAdmin, enums.ActorRoleSystem:
		return true
	default:
		return order.BuyerID == actor.UserID || order.FarmerID == actor.UserID
	}
}

// authorizeParty allows the buyer, the farmer, admins, and system callers.
func authorizeParty(actor Actor, order *models.Order) error {
	if actor.Role == enums.ActorRoleAdmin || actor.Role == enums.ActorRoleSystem {
		return nil
	}
	if order.BuyerID == actor.UserID || order.FarmerID == actor.UserID {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
}

// authorizeFarmerSide allows the owning farmer and admins.
func authorizeFarmerSide(actor Actor, order *models.Order) error {
	if actor.Role == enums.ActorRoleAdmin {
		return nil
	}
	if actor.Role == enums.ActorRoleFarmer && order.FarmerID == actor.UserID {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to farmer")
}

func timelineEntry(status enums.OrderStatus, description string, actor Actor) types.TimelineEntry {
	if strings.TrimSpace(description) == "" {
		description = "status changed to " + string(status)
	}
	return types.TimelineEntry{
		Status:      string(status),
		Description: description,
		ActorID:     actor.UserID,
		ActorRole:   actor.Role,
		At:          time.Now(),
	}
}

func actorRef(actor Actor) *outbox.ActorRef {
	if actor.UserID == uuid.Nil {
		return nil
	}
	return &outbox.ActorRef{
		UserID: actor.UserID,
		Role:   string(actor.Role),
	}
}
