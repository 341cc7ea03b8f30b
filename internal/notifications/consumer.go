package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/agrimandi/agrimandi-backend/pkg/db/models"
	"github.com/agrimandi/agrimandi-backend/pkg/enums"
	"github.com/agrimandi/agrimandi-backend/pkg/logger"
	"github.com/agrimandi/agrimandi-backend/pkg/outbox"
	"github.com/agrimandi/agrimandi-backend/pkg/outbox/idempotency"
)

const orderNotificationConsumer = "order-notifications"

type consumerRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
}

// Consumer watches domain events and fans them out as per-user notifications.
type Consumer struct {
	repo         consumerRepository
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	logg         *logger.Logger
}

// NewConsumer builds an order/payment notification consumer.
func NewConsumer(repo consumerRepository, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("domain subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         repo,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	fields := map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	}
	logCtx := c.logg.WithFields(ctx, fields)

	if !handledEvents[eventType] {
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, orderNotificationConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	if err := c.handle(ctx, eventType, envelope, logCtx); err != nil {
		c.logg.Error(logCtx, "notification handling failed", err)
		_ = c.idempotency.Delete(ctx, orderNotificationConsumer, eventID)
		return processResult{nack: true}
	}
	return processResult{ack: true}
}

var handledEvents = map[enums.OutboxEventType]bool{
	enums.EventOrderStatusChanged:   true,
	enums.EventOrderDelivered:       true,
	enums.EventOrderCancelled:       true,
	enums.EventOrderExpired:         true,
	enums.EventPaymentCaptured:      true,
	enums.EventRefundProcessed:      true,
	enums.EventDisputeRaised:        true,
	enums.EventDisputeResolved:      true,
	enums.EventOrderReturnRequested: true,
}

func (c *Consumer) handle(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope, logCtx context.Context) error {
	switch eventType {
	case enums.EventOrderStatusChanged:
		return c.onStatusChanged(ctx, envelope, logCtx)
	case enums.EventOrderDelivered:
		return c.onDelivered(ctx, envelope, logCtx)
	case enums.EventOrderCancelled, enums.EventOrderExpired:
		return c.onCancelled(ctx, envelope, logCtx)
	case enums.EventPaymentCaptured:
		return c.onPaymentCaptured(ctx, envelope, logCtx)
	case enums.EventRefundProcessed:
		return c.onRefundProcessed(ctx, envelope, logCtx)
	case enums.EventDisputeRaised, enums.EventDisputeResolved:
		return c.onDispute(ctx, eventType, envelope, logCtx)
	case enums.EventOrderReturnRequested:
		return c.onReturnRequested(ctx, envelope, logCtx)
	default:
		return nil
	}
}

type orderEventPayload struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	BuyerID     uuid.UUID `json:"buyer_id"`
	FarmerID    uuid.UUID `json:"farmer_id"`
	From        string    `json:"from,omitempty"`
	To          string    `json:"to,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Resolution  string    `json:"resolution,omitempty"`
	NetPaise    int64     `json:"net_paise,omitempty"`
	RefundPaise int64     `json:"refund_paise,omitempty"`
}

type paymentEventPayload struct {
	PaymentID   uuid.UUID `json:"payment_id"`
	OrderID     uuid.UUID `json:"order_id"`
	PayerID     uuid.UUID `json:"payer_id"`
	PayeeID     uuid.UUID `json:"payee_id"`
	AmountPaise int64     `json:"amount_paise"`
	Reason      string    `json:"reason,omitempty"`
}

func (c *Consumer) onStatusChanged(ctx context.Context, envelope outbox.PayloadEnvelope, logCtx context.Context) error {
	var payload orderEventPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return err
	}
	message := fmt.Sprintf("Order %s moved from %s to %s.", payload.OrderNumber, payload.From, payload.To)
	if err := c.notify(ctx, payload.BuyerID, enums.NotificationTypeOrderStatusChanged, "Order updated", message, envelope.Data); err != nil {
		return err
	}
	c.logg.Info(logCtx, "buyer notified of status change")
	return nil
}

func (c *Consumer) onDelivered(ctx context.Context, envelope outbox.PayloadEnvelope, logCtx context.Context) error {
	var payload orderEventPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return err
	}
	buyerMsg := fmt.Sprintf("Order %s has been delivered.", payload.OrderNumber)
	if err := c.notify(ctx, payload.BuyerID, enums.NotificationTypeOrderStatusChanged, "Order delivered", buyerMsg, envelope.Data); err != nil {
		return err
	}
	farmerMsg := fmt.Sprintf("Order %s settled. %s credited to your wallet.", payload.OrderNumber, formatPaise(payload.NetPaise))
	if err := c.notify(ctx, payload.FarmerID, enums.NotificationTypePaymentReceived, "Settlement received", farmerMsg, envelope.Data); err != nil {
		return err
	}
	c.logg.Info(logCtx, "parties notified of delivery")
	return nil
}

func (c *Consumer) onCancelled(ctx context.Context, envelope outbox.PayloadEnvelope, logCtx context.Context) error {
	var payload orderEventPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return err
	}
	message := fmt.Sprintf("Order %s was cancelled: %s", payload.OrderNumber, payload.Reason)
	for _, userID := range []uuid.UUID{payload.BuyerID, payload.FarmerID} {
		if err := c.notify(ctx, userID, enums.NotificationTypeOrderStatusChanged, "Order cancelled", message, envelope.Data); err != nil {
			return err
		}
	}
	c.logg.Info(logCtx, "parties notified of cancellation")
	return nil
}

func (c *Consumer) onPaymentCaptured(ctx context.Context, envelope outbox.PayloadEnvelope, logCtx context.Context) error {
	var payload paymentEventPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return err
	}
	message := fmt.Sprintf("Payment of %s received for your order.", formatPaise(payload.AmountPaise))
	if err := c.notify(ctx, payload.PayeeID, enums.NotificationTypePaymentReceived, "Payment received", message, envelope.Data); err != nil {
		return err
	}
	c.logg.Info(logCtx, "farmer notified of payment")
	return nil
}

func (c *Consumer) onRefundProcessed(ctx context.Context, envelope outbox.PayloadEnvelope, logCtx context.Context) error {
	var payload paymentEventPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return err
	}
	if payload.PayerID == uuid.Nil {
		return nil
	}
	message := fmt.Sprintf("A refund of %s was credited to your wallet.", formatPaise(payload.AmountPaise))
	if err := c.notify(ctx, payload.PayerID, enums.NotificationTypeRefundProcessed, "Refund processed", message, envelope.Data); err != nil {
		return err
	}
	c.logg.Info(logCtx, "buyer notified of refund")
	return nil
}

// onDispute notifies both parties except whoever raised the dispute.
func (c *Consumer) onDispute(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope, logCtx context.Context) error {
	var payload orderEventPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return err
	}
	kind := enums.NotificationTypeDisputeRaised
	title := "Dispute raised"
	message := fmt.Sprintf("A dispute was raised on order %s: %s", payload.OrderNumber, payload.Reason)
	if eventType == enums.EventDisputeResolved {
		kind = enums.NotificationTypeDisputeResolved
		title = "Dispute resolved"
		message = fmt.Sprintf("The dispute on order %s was resolved: %s", payload.OrderNumber, payload.Resolution)
	}
	var actorID uuid.UUID
	if envelope.Actor != nil {
		actorID = envelope.Actor.UserID
	}
	for _, userID := range []uuid.UUID{payload.BuyerID, payload.FarmerID} {
		if eventType == enums.EventDisputeRaised && userID == actorID {
			continue
		}
		if err := c.notify(ctx, userID, kind, title, message, envelope.Data); err != nil {
			return err
		}
	}
	c.logg.Info(logCtx, "parties notified of dispute")
	return nil
}

func (c *Consumer) onReturnRequested(ctx context.Context, envelope outbox.PayloadEnvelope, logCtx context.Context) error {
	var payload orderEventPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return err
	}
	message := fmt.Sprintf("The buyer requested a return on order %s: %s", payload.OrderNumber, payload.Reason)
	if err := c.notify(ctx, payload.FarmerID, enums.NotificationTypeReturnRequested, "Return requested", message, envelope.Data); err != nil {
		return err
	}
	c.logg.Info(logCtx, "farmer notified of return request")
	return nil
}

func (c *Consumer) notify(ctx context.Context, userID uuid.UUID, kind enums.NotificationType, title, message string, payload json.RawMessage) error {
	if userID == uuid.Nil {
		return nil
	}
	return c.repo.Create(ctx, &models.Notification{
		UserID:  userID,
		Type:    kind,
		Title:   title,
		Message: message,
		Payload: payload,
	})
}

func formatPaise(amount int64) string {
	rupees := amount / 100
	paise := amount % 100
	if paise < 0 {
		paise = -paise
	}
	return fmt.Sprintf("₹%d.%02d", rupees, paise)
}
