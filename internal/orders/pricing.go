package orders

import (
	"github.com/shopspring/decimal"

	"github.com/agrimandi/agrimandi-backend/pkg/config"
	"github.com/agrimandi/agrimandi-backend/pkg/enums"
	pkgerrors "github.com/agrimandi/agrimandi-backend/pkg/errors"
)

var hundred = decimal.NewFromInt(100)

// Pricing is the computed monetary breakdown of an order. All amounts are
// paise, rounded half-up at each component.
type Pricing struct {
	SubtotalPaise    int64
	DiscountPaise    int64
	GSTPaise         int64
	ShippingPaise    int64
	PlatformFeePaise int64
	TotalPaise       int64
}

// PricingInput carries the order facts the fee schedule applies to.
type PricingInput struct {
	Quantity        int
	UnitPricePaise  int64
	DiscountPercent decimal.Decimal
	GSTPercent      decimal.Decimal
	DeliveryType    enums.DeliveryType
}

// ComputePricing derives the full breakdown as a pure function of its inputs
// so the same order always prices identically.
func ComputePricing(input PricingInput, cfg config.PricingConfig) (Pricing, error) {
	if input.Quantity <= 0 {
		return Pricing{}, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if input.UnitPricePaise <= 0 {
		return Pricing{}, pkgerrors.New(pkgerrors.CodeValidation, "unit price must be positive")
	}
	if input.DiscountPercent.IsNegative() || input.DiscountPercent.GreaterThan(hundred) {
		return Pricing{}, pkgerrors.New(pkgerrors.CodeValidation, "discount percent out of range")
	}

	subtotal := decimal.NewFromInt(input.UnitPricePaise).Mul(decimal.NewFromInt(int64(input.Quantity)))
	discount := roundPaise(subtotal.Mul(input.DiscountPercent).Div(hundred))
	discounted := subtotal.Sub(discount)
	gst := roundPaise(discounted.Mul(input.GSTPercent).Div(hundred))

	platformFee := roundPaise(discounted.Mul(cfg.PlatformFeeRate()).Div(hundred))
	minFee := decimal.NewFromInt(cfg.PlatformFeeMinPaise)
	if platformFee.LessThan(minFee) {
		platformFee = minFee
	}

	shipping := decimal.Zero
	if input.DeliveryType == enums.DeliveryTypeDelivery {
		shipping = decimal.NewFromInt(cfg.ShippingFlatPaise)
	}

	total := discounted.Add(gst).Add(shipping).Add(platformFee)

	return Pricing{
		SubtotalPaise:    subtotal.IntPart(),
		DiscountPaise:    discount.IntPart(),
		GSTPaise:         gst.IntPart(),
		ShippingPaise:    shipping.IntPart(),
		PlatformFeePaise: platformFee.IntPart(),
		TotalPaise:       total.IntPart(),
	}, nil
}

// roundPaise rounds half-up to whole paise. Amounts enter as paise already,
// so scale 0 keeps every intermediate on the money grid.
func roundPaise(d decimal.Decimal) decimal.Decimal {
	return d.Round(0)
}
