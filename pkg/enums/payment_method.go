package enums

import "fmt"

// PaymentMethod maps to the payment_method enum in Postgres. Gateway charges
// go through the external provider; wallet draws on the buyer's escrow
// balance; cod settles on delivery confirmation.
type PaymentMethod string

const (
	PaymentMethodGateway PaymentMethod = "gateway"
	PaymentMethodWallet  PaymentMethod = "wallet"
	PaymentMethodCOD     PaymentMethod = "cod"
)

func (p PaymentMethod) String() string { return string(p) }

// IsValid reports whether the value is a known PaymentMethod.
func (p PaymentMethod) IsValid() bool {
	switch p {
	case PaymentMethodGateway, PaymentMethodWallet, PaymentMethodCOD:
		return true
	}
	return false
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	method := PaymentMethod(value)
	if !method.IsValid() {
		return "", fmt.Errorf("invalid payment method %q", value)
	}
	return method, nil
}
