package reconcile

import (
	"testing"

	"showledger/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, want string, got *decimal.Decimal) {
	t.Helper()
	require.NotNil(t, got)
	assert.True(t, dec(want).Equal(*got), "want %s, got %s", want, got.String())
}

// sessionSlots builds slots whose item id is 100+slot and cost basis is 10
func sessionSlots(numbers ...int) []models.SessionSlot {
	slots := make([]models.SessionSlot, 0, len(numbers))
	for _, n := range numbers {
		slots = append(slots, models.SessionSlot{
			SessionID:  1,
			SlotNumber: n,
			ItemID:     int64(100 + n),
			CostBasis:  dec("10"),
		})
	}
	return slots
}

func csvRow(number int, name, price string) RawCSVRow {
	row := RawCSVRow{
		RowNumber:           number,
		RawFields:           map[string]string{"product name": name, "sold price": price},
		ProductName:         name,
		ExtractedSlotNumber: ExtractSlotNumber(name),
	}
	if price != "" {
		p := dec(price)
		row.SoldPrice = &p
	}
	return row
}

func bySlot(rows []ReconciliationRow) map[int]ReconciliationRow {
	out := make(map[int]ReconciliationRow, len(rows))
	for _, r := range rows {
		out[r.SlotNumber] = r
	}
	return out
}
