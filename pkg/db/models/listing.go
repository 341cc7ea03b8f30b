package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/agrimandi/agrimandi-backend/pkg/enums"
)

// Listing represents a farmer's sellable crop batch with stock counters.
// AvailableQty is always derived: Quantity - ReservedQty - SoldQty.
// DiscountPercent is the farmer-set promotion applied to orders at placement;
// buyers never supply it.
type Listing struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	FarmerID          uuid.UUID           `gorm:"column:farmer_id;type:uuid;not null;index"`
	CropName          string              `gorm:"column:crop_name;not null"`
	GradeTags         pq.StringArray      `gorm:"column:grade_tags;type:text[]"`
	Unit              enums.CropUnit      `gorm:"column:unit;type:crop_unit;not null;default:'kg'"`
	PricePerUnitPaise int64               `gorm:"column:price_per_unit_paise;not null"`
	DiscountPercent   string              `gorm:"column:discount_percent;not null;default:'0'"`
	Quantity          int                 `gorm:"column:quantity;not null"`
	ReservedQty       int                 `gorm:"column:reserved_qty;not null;default:0"`
	SoldQty           int                 `gorm:"column:sold_qty;not null;default:0"`
	Status            enums.ListingStatus `gorm:"column:status;type:listing_status;not null;default:'available'"`
	Version           int                 `gorm:"column:version;not null;default:0"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// AvailableQty returns the quantity still open to new reservations.
func (l Listing) AvailableQty() int {
	return l.Quantity - l.ReservedQty - l.SoldQty
}
