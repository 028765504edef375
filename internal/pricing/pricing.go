package pricing

import (
	"github.com/casca-store/storefront/pkg/models"
)

// Prices in paise.
const (
	BasePrice              models.Amount = 29900
	TexturedFinishPrice    models.Amount = 3000
	PolycarbonatePrice     models.Amount = 5000
	TaxRatePercent                       = 18
	DefaultTaxRoundingUnit               = 1
)

type Totals struct {
	Subtotal models.Amount `json:"subtotal"`
	Tax      models.Amount `json:"tax"`
	Total    models.Amount `json:"total"`
}

// PriceFor returns the unit price of a case built from cfg.
func PriceFor(cfg models.Configuration) models.Amount {
	price := BasePrice
	if cfg.IsTextured() {
		price += TexturedFinishPrice
	}
	if cfg.IsPolycarbonate() {
		price += PolycarbonatePrice
	}
	return price
}

// Tax computes round(subtotal * 18%) to the nearest multiple of unit
// minor units, halves rounding away from zero. A unit of 1 rounds to the
// nearest paisa, a unit of 100 to the nearest rupee.
func Tax(subtotal models.Amount, unit int64) models.Amount {
	if unit <= 0 {
		unit = DefaultTaxRoundingUnit
	}
	numerator := int64(subtotal) * TaxRatePercent
	denominator := 100 * unit
	return models.Amount(roundDiv(numerator, denominator) * unit)
}

// Compute sums the line prices and applies tax once to the subtotal.
func Compute(prices []models.Amount, unit int64) Totals {
	var subtotal models.Amount
	for _, p := range prices {
		subtotal += p
	}
	tax := Tax(subtotal, unit)
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Total:    subtotal + tax,
	}
}

func roundDiv(n, d int64) int64 {
	if n < 0 {
		return -roundDiv(-n, d)
	}
	return (n + d/2) / d
}
