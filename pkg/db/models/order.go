package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/agrimandi/agrimandi-backend/pkg/enums"
	"github.com/agrimandi/agrimandi-backend/pkg/types"
)

// Order is the aggregate root of the order lifecycle. Orders are never
// deleted; cancellation is a status. Version guards every write.
type Order struct {
	ID               uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber      string                   `gorm:"column:order_number;not null;uniqueIndex"`
	BuyerID          uuid.UUID                `gorm:"column:buyer_id;type:uuid;not null;index"`
	FarmerID         uuid.UUID                `gorm:"column:farmer_id;type:uuid;not null;index"`
	ListingID        uuid.UUID                `gorm:"column:listing_id;type:uuid;not null;index"`
	Quantity         int                      `gorm:"column:quantity;not null"`
	UnitPricePaise   int64                    `gorm:"column:unit_price_paise;not null"`
	Currency         enums.Currency           `gorm:"column:currency;type:text;not null;default:'INR'"`
	DeliveryType     enums.DeliveryType       `gorm:"column:delivery_type;type:delivery_type;not null;default:'delivery'"`
	DiscountPercent  string                   `gorm:"column:discount_percent;not null;default:'0'"`
	GSTPercent       string                   `gorm:"column:gst_percent;not null;default:'0'"`
	SubtotalPaise    int64                    `gorm:"column:subtotal_paise;not null"`
	DiscountPaise    int64                    `gorm:"column:discount_paise;not null;default:0"`
	GSTPaise         int64                    `gorm:"column:gst_paise;not null;default:0"`
	ShippingPaise    int64                    `gorm:"column:shipping_paise;not null;default:0"`
	PlatformFeePaise int64                    `gorm:"column:platform_fee_paise;not null;default:0"`
	TotalPaise       int64                    `gorm:"column:total_paise;not null"`
	AmountPaidPaise  int64                    `gorm:"column:amount_paid_paise;not null;default:0"`
	AmountDuePaise   int64                    `gorm:"column:amount_due_paise;not null"`
	Status           enums.OrderStatus        `gorm:"column:status;type:order_status;not null;default:'pending'"`
	PaymentStatus    enums.OrderPaymentStatus `gorm:"column:payment_status;type:order_payment_status;not null;default:'pending'"`
	Timeline         types.Timeline           `gorm:"column:timeline;type:jsonb;serializer:json"`
	Dispute          *types.Dispute           `gorm:"column:dispute;type:jsonb;serializer:json"`
	Return           *types.Return            `gorm:"column:return_request;type:jsonb;serializer:json"`
	CancelReason     *string                  `gorm:"column:cancel_reason"`
	DeliveredAt      *time.Time               `gorm:"column:delivered_at"`
	CancelledAt      *time.Time               `gorm:"column:cancelled_at"`
	Version          int                      `gorm:"column:version;not null;default:0"`
	CreatedAt        time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// HasOpenDispute reports whether automatic fund release is frozen.
func (o Order) HasOpenDispute() bool {
	return o.Dispute != nil && o.Dispute.Status == enums.DisputeStatusOpen
}
