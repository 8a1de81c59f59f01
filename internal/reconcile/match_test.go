package reconcile

import (
	"testing"

	"showledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchContentDuplicateMissingMatched(t *testing.T) {
	rows := []RawCSVRow{
		csvRow(1, "SINGLES #1", "10"),
		csvRow(2, "SINGLES #1", "12"),
		csvRow(3, "SINGLES #3", "14"),
	}

	result := bySlot(Match(sessionSlots(1, 2, 3), rows, MatchOptions{Mode: ModeContent}))

	assert.Equal(t, StatusDuplicate, result[1].MatchStatus)
	assert.Equal(t, 1, result[1].DuplicateCount)
	require.NotNil(t, result[1].MatchedRow)
	assert.Equal(t, 1, result[1].MatchedRow.RowNumber, "first row in file order is kept")
	assert.Contains(t, result[1].Detail, "1 more row")

	assert.Equal(t, StatusMissing, result[2].MatchStatus)
	assert.Nil(t, result[2].MatchedRow)
	assert.Nil(t, result[2].NetProfit)

	assert.Equal(t, StatusMatched, result[3].MatchStatus)
	assert.Equal(t, MethodSlotNumber, result[3].MatchMethod)
}

func TestMatchRowOrder(t *testing.T) {
	rows := []RawCSVRow{
		csvRow(1, "Card A", "10"),
		csvRow(2, "Card B", "11"),
		csvRow(3, "Card C", "12"),
	}

	result := Match(sessionSlots(1, 2, 3), rows, MatchOptions{Mode: ModeRowOrder})

	require.Len(t, result, 3)
	for k, res := range result {
		assert.Equal(t, StatusMatched, res.MatchStatus)
		assert.Equal(t, MethodRowOrder, res.MatchMethod)
		assert.Equal(t, k+1, res.MatchedRow.RowNumber)
	}
}

func TestMatchCancelledRowsNeverMatch(t *testing.T) {
	cancelled := csvRow(2, "SINGLES #2", "50")
	cancelled.CancelledOrFailed = true
	rows := []RawCSVRow{csvRow(1, "SINGLES #1", "10"), cancelled, csvRow(3, "SINGLES #3", "12")}

	for _, mode := range []Mode{ModeContent, ModeRowOrder} {
		t.Run(string(mode), func(t *testing.T) {
			result := bySlot(Match(sessionSlots(1, 2, 3), rows, MatchOptions{Mode: mode}))
			assert.Equal(t, StatusMissing, result[2].MatchStatus)
			assert.Equal(t, StatusMatched, result[3].MatchStatus)
		})
	}
}

func TestMatchFinancials(t *testing.T) {
	rows := []RawCSVRow{csvRow(1, "SINGLES #1", "100"), csvRow(2, "SINGLES #2", "33.33")}
	slots := sessionSlots(1, 2)
	slots[0].CostBasis = dec("40")
	override := dec("0.2")
	slots[1].FeeRate = &override

	result := bySlot(Match(slots, rows, MatchOptions{
		Mode:  ModeContent,
		Rates: Rates{FeeRate: dec("0.1"), TaxRate: dec("0.05")},
	}))

	assertMoney(t, "100", result[1].SoldPrice)
	assertMoney(t, "10", result[1].Fees)
	assertMoney(t, "5", result[1].Taxes)
	assertMoney(t, "45", result[1].NetProfit)

	// per-item fee override, rounded to cents
	assertMoney(t, "6.67", result[2].Fees)
	assertMoney(t, "1.67", result[2].Taxes)
	assertMoney(t, "14.99", result[2].NetProfit)
}

func TestMatchOrdersBySlotNumber(t *testing.T) {
	result := Match(sessionSlots(3, 1, 2), nil, MatchOptions{Mode: ModeContent})

	require.Len(t, result, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{result[0].SlotNumber, result[1].SlotNumber, result[2].SlotNumber})
}

func TestMatchRowOrderStartSlot(t *testing.T) {
	rows := []RawCSVRow{csvRow(1, "Card A", "10"), csvRow(2, "Card B", "11")}

	result := bySlot(Match(sessionSlots(4, 5, 6), rows, MatchOptions{Mode: ModeRowOrder, StartSlot: 5}))

	assert.Equal(t, StatusMissing, result[4].MatchStatus)
	assert.Equal(t, 1, result[5].MatchedRow.RowNumber)
	assert.Equal(t, 2, result[6].MatchedRow.RowNumber)
}

func TestMatchRowOrderSortsByPlacedAt(t *testing.T) {
	late := csvRow(1, "Card A", "10")
	late.PlacedAt = "2024-03-01 20:05:00"
	early := csvRow(2, "Card B", "11")
	early.PlacedAt = "2024-03-01 20:01:00"

	result := bySlot(Match(sessionSlots(1, 2), []RawCSVRow{late, early}, MatchOptions{Mode: ModeRowOrder}))
	assert.Equal(t, 2, result[1].MatchedRow.RowNumber)
	assert.Equal(t, 1, result[2].MatchedRow.RowNumber)

	// one unreadable timestamp falls back to file order
	early.PlacedAt = "sometime"
	result = bySlot(Match(sessionSlots(1, 2), []RawCSVRow{late, early}, MatchOptions{Mode: ModeRowOrder}))
	assert.Equal(t, 1, result[1].MatchedRow.RowNumber)
}

func TestResolveMode(t *testing.T) {
	withSlots := []RawCSVRow{
		csvRow(1, "SINGLES #1", "1"), csvRow(2, "SINGLES #2", "1"), csvRow(3, "SINGLES #3", "1"),
		csvRow(4, "SINGLES #4", "1"), csvRow(5, "Mystery", "1"),
	}
	assert.Equal(t, ModeContent, ResolveMode(withSlots, ModeAuto, 0))

	sparse := []RawCSVRow{
		csvRow(1, "SINGLES #1", "1"), csvRow(2, "Mystery", "1"), csvRow(3, "Mystery", "1"),
	}
	assert.Equal(t, ModeRowOrder, ResolveMode(sparse, ModeAuto, DefaultAutoThreshold))

	assert.Equal(t, ModeRowOrder, ResolveMode(withSlots, ModeRowOrder, 0), "explicit mode is kept")
}

func TestParseMode(t *testing.T) {
	tests := map[string]Mode{
		"content":   ModeContent,
		"SKU":       ModeContent,
		"row_order": ModeRowOrder,
		"sequence":  ModeRowOrder,
		"":          ModeAuto,
		"auto":      ModeAuto,
	}
	for in, want := range tests {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMode("fuzzy")
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestMatchWithoutSlots(t *testing.T) {
	result := Match([]models.SessionSlot{}, []RawCSVRow{csvRow(1, "SINGLES #1", "5")}, MatchOptions{Mode: ModeContent})
	assert.Empty(t, result)
}
