package comps

import (
	"sort"

	"showledger/internal/models"

	"github.com/shopspring/decimal"
)

const (
	minTrimSample     = 5
	percentTrimSample = 10

	lowConfidenceBelow = 5
	highConfidenceFrom = 10
	quartileRangeFrom  = 8
)

var maxRelativeSpread = decimal.NewFromFloat(0.25)

// Trim drops the extremes of a sample: nothing below 5 observations, one from each end
// for 5-9, and 10% (floored) from each end from 10 up. The returned slice is sorted by
// total price ascending.
func Trim(observations []models.PriceObservation) ([]models.PriceObservation, int) {
	sorted := sortByPrice(observations)
	n := len(sorted)

	var k int
	switch {
	case n < minTrimSample:
		return sorted, 0
	case n < percentTrimSample:
		k = 1
	default:
		k = n / 10
	}

	return sorted[k : n-k], 2 * k
}

// Compute derives comp statistics from a (typically trimmed) set of observations
func Compute(observations []models.PriceObservation) models.CompStats {
	sorted := sortByPrice(observations)
	n := len(sorted)
	if n == 0 {
		return models.CompStats{Confidence: models.ConfidenceLow}
	}

	prices := make([]decimal.Decimal, n)
	sum := decimal.Zero
	for i, obs := range sorted {
		prices[i] = obs.PriceTotal
		sum = sum.Add(obs.PriceTotal)
	}

	median := percentile(prices, 50)
	p25 := percentile(prices, 25)
	p75 := percentile(prices, 75)
	avg := sum.Div(decimal.NewFromInt(int64(n)))

	stats := models.CompStats{
		SampleSize:  n,
		MedianPrice: money(median),
		AvgPrice:    money(avg),
		P25:         money(p25),
		P75:         money(p75),
		MinTrim:     money(prices[0]),
		MaxTrim:     money(prices[n-1]),
		Confidence:  confidence(n, p25, median, p75),
	}
	stats.RangeLow, stats.RangeHigh = DeriveRange(stats)
	return stats
}

// DeriveRange picks the display range: the interquartile range from 8 observations up,
// otherwise the full min/max of the set. Small samples are signalled by confidence, not here.
func DeriveRange(stats models.CompStats) (low, high *decimal.Decimal) {
	switch {
	case stats.SampleSize == 0:
		return nil, nil
	case stats.SampleSize >= quartileRangeFrom:
		return stats.P25, stats.P75
	default:
		return stats.MinTrim, stats.MaxTrim
	}
}

func confidence(n int, p25, median, p75 decimal.Decimal) string {
	if n < lowConfidenceBelow {
		return models.ConfidenceLow
	}
	if n >= highConfidenceFrom && median.IsPositive() {
		spread := p75.Sub(p25).Div(median)
		if spread.LessThanOrEqual(maxRelativeSpread) {
			return models.ConfidenceHigh
		}
	}
	return models.ConfidenceMedium
}

// percentile interpolates linearly between the closest ranks: index = p/100 * (n-1)
func percentile(sorted []decimal.Decimal, p int) decimal.Decimal {
	scaled := p * (len(sorted) - 1)
	lo, rem := scaled/100, scaled%100
	if rem == 0 {
		return sorted[lo]
	}
	frac := decimal.New(int64(rem), -2)
	return sorted[lo].Add(sorted[lo+1].Sub(sorted[lo]).Mul(frac))
}

func sortByPrice(observations []models.PriceObservation) []models.PriceObservation {
	sorted := make([]models.PriceObservation, len(observations))
	copy(sorted, observations)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PriceTotal.LessThan(sorted[j].PriceTotal)
	})
	return sorted
}

func money(d decimal.Decimal) *decimal.Decimal {
	r := d.Round(2)
	return &r
}
