package enums

import "fmt"

// Currency denominates all monetary amounts. Only INR is accepted today;
// amounts are stored as int64 paise regardless.
type Currency string

const CurrencyINR Currency = "INR"

func (c Currency) String() string { return string(c) }

// IsValid reports whether the currency is recognized.
func (c Currency) IsValid() bool { return c == CurrencyINR }

// ParseCurrency converts a raw string into a Currency.
func ParseCurrency(value string) (Currency, error) {
	if Currency(value) == CurrencyINR {
		return CurrencyINR, nil
	}
	return "", fmt.Errorf("invalid currency %q", value)
}
