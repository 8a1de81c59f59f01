package comps

import (
	"testing"

	"showledger/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func priced(values ...string) []models.PriceObservation {
	out := make([]models.PriceObservation, len(values))
	for i, v := range values {
		out[i] = models.PriceObservation{PriceTotal: decimal.RequireFromString(v)}
	}
	return out
}

func assertPrice(t *testing.T, want string, got *decimal.Decimal) {
	t.Helper()
	require.NotNil(t, got)
	assert.True(t, decimal.RequireFromString(want).Equal(*got), "want %s, got %s", want, got)
}

func TestTrim(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		trimmed int
	}{
		{"below minimum", 4, 0},
		{"five", 5, 2},
		{"nine", 9, 2},
		{"ten", 10, 2},
		{"nineteen", 19, 2},
		{"twenty five", 25, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := make([]models.PriceObservation, tt.n)
			for i := range in {
				in[i] = models.PriceObservation{PriceTotal: decimal.NewFromInt(int64(tt.n - i))}
			}

			out, trimmed := Trim(in)
			assert.Equal(t, tt.trimmed, trimmed)
			assert.Len(t, out, tt.n-tt.trimmed)
		})
	}
}

func TestTrimDropsExtremes(t *testing.T) {
	out, trimmed := Trim(priced("50", "1", "20", "900", "30"))
	assert.Equal(t, 2, trimmed)
	require.Len(t, out, 3)
	assert.True(t, out[0].PriceTotal.Equal(decimal.NewFromInt(20)))
	assert.True(t, out[2].PriceTotal.Equal(decimal.NewFromInt(50)))
}

func TestTrimLeavesInputUntouched(t *testing.T) {
	in := priced("3", "1", "2")
	Trim(in)
	assert.True(t, in[0].PriceTotal.Equal(decimal.NewFromInt(3)))
}

func TestComputeEmpty(t *testing.T) {
	stats := Compute(nil)
	assert.Equal(t, 0, stats.SampleSize)
	assert.Equal(t, models.ConfidenceLow, stats.Confidence)
	assert.Nil(t, stats.MedianPrice)
	assert.Nil(t, stats.RangeLow)
	assert.Nil(t, stats.RangeHigh)
}

func TestComputeInterpolates(t *testing.T) {
	stats := Compute(priced("100", "10", "90", "20", "80", "30", "70", "40", "60", "50"))

	assert.Equal(t, 10, stats.SampleSize)
	assertPrice(t, "55", stats.MedianPrice)
	assertPrice(t, "55", stats.AvgPrice)
	assertPrice(t, "32.5", stats.P25)
	assertPrice(t, "77.5", stats.P75)
	assertPrice(t, "10", stats.MinTrim)
	assertPrice(t, "100", stats.MaxTrim)
	assert.Equal(t, models.ConfidenceMedium, stats.Confidence)

	assertPrice(t, "32.5", stats.RangeLow)
	assertPrice(t, "77.5", stats.RangeHigh)
}

func TestComputeQuartilesOrdered(t *testing.T) {
	stats := Compute(priced("12.99", "14.50", "9.99", "22.00", "18.75", "15.00", "11.25"))
	assert.True(t, stats.P25.LessThanOrEqual(*stats.MedianPrice))
	assert.True(t, stats.MedianPrice.LessThanOrEqual(*stats.P75))
	assertPrice(t, "14.5", stats.MedianPrice)
}

func TestComputeRoundsToCents(t *testing.T) {
	stats := Compute(priced("10", "10", "10.01"))
	assertPrice(t, "10", stats.AvgPrice)
}

func TestComputeConfidence(t *testing.T) {
	t.Run("small sample is low", func(t *testing.T) {
		stats := Compute(priced("5", "10", "20"))
		assert.Equal(t, models.ConfidenceLow, stats.Confidence)
		assertPrice(t, "10", stats.MedianPrice)
		assertPrice(t, "5", stats.RangeLow)
		assertPrice(t, "20", stats.RangeHigh)
	})

	t.Run("tight large sample is high", func(t *testing.T) {
		stats := Compute(priced("98", "99", "100", "100", "100", "100", "100", "101", "102", "103"))
		assert.Equal(t, models.ConfidenceHigh, stats.Confidence)
	})

	t.Run("mid sample is medium", func(t *testing.T) {
		stats := Compute(priced("100", "100", "100", "100", "100", "100"))
		assert.Equal(t, models.ConfidenceMedium, stats.Confidence)
	})
}

func TestDeriveRange(t *testing.T) {
	low, high := DeriveRange(models.CompStats{})
	assert.Nil(t, low)
	assert.Nil(t, high)

	p25, p75 := decimal.NewFromInt(20), decimal.NewFromInt(40)
	lo, hi := decimal.NewFromInt(5), decimal.NewFromInt(90)
	stats := models.CompStats{P25: &p25, P75: &p75, MinTrim: &lo, MaxTrim: &hi}

	stats.SampleSize = 7
	low, high = DeriveRange(stats)
	assert.Same(t, &lo, low)
	assert.Same(t, &hi, high)

	stats.SampleSize = 8
	low, high = DeriveRange(stats)
	assert.Same(t, &p25, low)
	assert.Same(t, &p75, high)
}
