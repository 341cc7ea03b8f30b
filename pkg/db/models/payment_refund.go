package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentRefund is one refund entry against a payment.
type PaymentRefund struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentID       uuid.UUID `gorm:"column:payment_id;type:uuid;not null;index"`
	GatewayRefundID *string   `gorm:"column:gateway_refund_id;uniqueIndex"`
	AmountPaise     int64     `gorm:"column:amount_paise;not null"`
	Reason          string    `gorm:"column:reason;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}
