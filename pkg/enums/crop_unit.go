package enums

import "fmt"

// CropUnit maps to the crop_unit enum in Postgres.
type CropUnit string

const (
	CropUnitKilogram CropUnit = "kg"
	CropUnitQuintal  CropUnit = "quintal"
	CropUnitTonne    CropUnit = "tonne"
	CropUnitDozen    CropUnit = "dozen"
	CropUnitLitre    CropUnit = "litre"
)

var validCropUnits = []CropUnit{
	CropUnitKilogram,
	CropUnitQuintal,
	CropUnitTonne,
	CropUnitDozen,
	CropUnitLitre,
}

// IsValid reports whether the value is a known CropUnit.
func (c CropUnit) IsValid() bool {
	for _, candidate := range validCropUnits {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCropUnit converts raw input into a CropUnit.
func ParseCropUnit(value string) (CropUnit, error) {
	for _, candidate := range validCropUnits {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid crop unit %q", value)
}
