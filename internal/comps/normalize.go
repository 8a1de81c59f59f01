package comps

import (
	"strings"

	"showledger/internal/models"

	"github.com/shopspring/decimal"
)

const (
	gradeFilterMinResults = 3
	gradeFilterMinInput   = 5
)

// Normalize converts a raw listing into a price observation. Listings with a missing,
// unparseable or non-positive price are rejected.
func Normalize(raw models.RawListing) (models.PriceObservation, bool) {
	price, err := decimal.NewFromString(strings.TrimSpace(raw.Price))
	if err != nil || !price.IsPositive() {
		return models.PriceObservation{}, false
	}

	shipping := decimal.Zero
	if s := strings.TrimSpace(raw.ShippingCost); s != "" {
		if d, err := decimal.NewFromString(s); err == nil && d.IsPositive() {
			shipping = d
		}
	}

	return models.PriceObservation{
		PriceTotal: price.Add(shipping),
		PriceItem:  price,
		Shipping:   shipping,
		Currency:   strings.ToUpper(strings.TrimSpace(raw.Currency)),
		Title:      raw.Title,
		SourceID:   raw.SourceID,
	}, true
}

// NormalizeAll normalizes a batch, dropping rejected listings
func NormalizeAll(raws []models.RawListing) []models.PriceObservation {
	out := make([]models.PriceObservation, 0, len(raws))
	for _, raw := range raws {
		if obs, ok := Normalize(raw); ok {
			out = append(out, obs)
		}
	}
	return out
}

// FilterByGrade keeps observations whose title mentions the grade. When the filter would
// leave fewer than 3 results out of at least 5, it is abandoned and the input is returned
// with applied=false.
func FilterByGrade(observations []models.PriceObservation, grade string) (filtered []models.PriceObservation, applied bool) {
	needle := strings.ToLower(strings.TrimSpace(grade))
	if needle == "" {
		return observations, false
	}

	for _, obs := range observations {
		if strings.Contains(strings.ToLower(obs.Title), needle) {
			filtered = append(filtered, obs)
		}
	}

	if len(filtered) < gradeFilterMinResults && len(observations) >= gradeFilterMinInput {
		return observations, false
	}
	return filtered, true
}
