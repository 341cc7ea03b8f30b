package enums

import "fmt"

// ListingStatus maps to the listing_status enum in Postgres.
type ListingStatus string

const (
	ListingStatusAvailable  ListingStatus = "available"
	ListingStatusReserved   ListingStatus = "reserved"
	ListingStatusOutOfStock ListingStatus = "out_of_stock"
	ListingStatusSold       ListingStatus = "sold"
	ListingStatusHidden     ListingStatus = "hidden"
)

var validListingStatuses = []ListingStatus{
	ListingStatusAvailable,
	ListingStatusReserved,
	ListingStatusOutOfStock,
	ListingStatusSold,
	ListingStatusHidden,
}

// String implements fmt.Stringer.
func (l ListingStatus) String() string {
	return string(l)
}

// IsValid reports whether the value is a known ListingStatus.
func (l ListingStatus) IsValid() bool {
	for _, candidate := range validListingStatuses {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseListingStatus converts raw input into a ListingStatus.
func ParseListingStatus(value string) (ListingStatus, error) {
	for _, candidate := range validListingStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid listing status %q", value)
}
