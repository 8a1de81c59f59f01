package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"showledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	sales         []models.Sale
	calls         []string
	sessionStatus string
	failSale      map[int64]bool
	failStatus    map[int64]bool
	failExisting  bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{failSale: map[int64]bool{}, failStatus: map[int64]bool{}}
}

func (f *fakeLedger) GetExistingSales(ctx context.Context, sessionID int64) ([]models.Sale, error) {
	if f.failExisting {
		return nil, errors.New("connection refused")
	}
	return f.sales, nil
}

func (f *fakeLedger) CreateSale(ctx context.Context, sale *models.Sale) error {
	f.calls = append(f.calls, fmt.Sprintf("sale:%d", sale.ItemID))
	if f.failSale[sale.ItemID] {
		return errors.New("insert failed")
	}
	sale.ID = int64(len(f.sales) + 1)
	f.sales = append(f.sales, *sale)
	return nil
}

func (f *fakeLedger) UpdateItemStatus(ctx context.Context, itemID int64, status string) error {
	f.calls = append(f.calls, fmt.Sprintf("status:%d:%s", itemID, status))
	if f.failStatus[itemID] {
		return errors.New("update failed")
	}
	return nil
}

func (f *fakeLedger) UpdateSessionStatus(ctx context.Context, sessionID int64, status string) error {
	f.calls = append(f.calls, "session:"+status)
	f.sessionStatus = status
	return nil
}

func scenarioResults(t *testing.T) []ReconciliationRow {
	t.Helper()
	rows := []RawCSVRow{
		csvRow(1, "SINGLES #3", "30"),
		csvRow(2, "SINGLES #1", "20"),
		csvRow(3, "SINGLES #2", ""),
	}
	return Match(sessionSlots(5, 4, 3, 2, 1), rows, MatchOptions{Mode: ModeContent})
}

func TestCommitCreatesSalesInSlotOrder(t *testing.T) {
	ledger := newFakeLedger()
	c := NewCommitter(ledger)

	result, err := c.Commit(context.Background(), 1, scenarioResults(t))

	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 3, result.Skipped, "slot 2 has no price, slots 4 and 5 are missing")
	assert.Empty(t, result.Failed)
	assert.True(t, result.Reconciled)
	assert.Equal(t, models.SessionStatusReconciled, ledger.sessionStatus)

	assert.Equal(t, []string{
		"sale:101", "status:101:SOLD",
		"sale:103", "status:103:SOLD",
		"session:RECONCILED",
	}, ledger.calls)

	require.Len(t, result.Sales, 2)
	assert.Equal(t, 1, result.Sales[0].SlotNumber)
	assert.True(t, dec("10").Equal(result.Sales[0].Sale.NetProfit))
}

func TestCommitContinuesPastFailures(t *testing.T) {
	ledger := newFakeLedger()
	ledger.failSale[101] = true
	c := NewCommitter(ledger)

	result, err := c.Commit(context.Background(), 1, scenarioResults(t))

	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, 1, result.Failed[0].SlotNumber)
	assert.Contains(t, result.Failed[0].Reason, "insert failed")
	assert.False(t, result.Reconciled)
	assert.Empty(t, ledger.sessionStatus)
	assert.NotContains(t, ledger.calls, "status:101:SOLD", "no status without a sale")
}

func TestCommitStatusFailureKeepsSale(t *testing.T) {
	ledger := newFakeLedger()
	ledger.failStatus[103] = true
	c := NewCommitter(ledger)

	result, err := c.Commit(context.Background(), 1, scenarioResults(t))

	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, int64(103), result.Failed[0].ItemID)
	assert.False(t, result.Reconciled)
}

func TestRecommitRetriesItemStatus(t *testing.T) {
	ledger := newFakeLedger()
	ledger.failStatus[103] = true
	c := NewCommitter(ledger)
	rows := scenarioResults(t)

	first, err := c.Commit(context.Background(), 1, rows)
	require.NoError(t, err)
	require.False(t, first.Reconciled)

	ledger.failStatus[103] = false
	ledger.calls = nil

	second, err := c.Commit(context.Background(), 1, rows)

	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Empty(t, second.Failed)
	assert.True(t, second.Reconciled)
	assert.Contains(t, ledger.calls, "status:103:SOLD")
	assert.NotContains(t, ledger.calls, "sale:103")
	assert.Len(t, ledger.sales, 2)
}

func TestRecommitStatusStillFailing(t *testing.T) {
	ledger := newFakeLedger()
	ledger.failStatus[103] = true
	c := NewCommitter(ledger)
	rows := scenarioResults(t)

	_, err := c.Commit(context.Background(), 1, rows)
	require.NoError(t, err)

	result, err := c.Commit(context.Background(), 1, rows)

	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, int64(103), result.Failed[0].ItemID)
	assert.False(t, result.Reconciled)
	assert.NotEqual(t, models.SessionStatusReconciled, ledger.sessionStatus)
}

func TestCommitIsIdempotent(t *testing.T) {
	ledger := newFakeLedger()
	c := NewCommitter(ledger)
	rows := scenarioResults(t)

	_, err := c.Commit(context.Background(), 1, rows)
	require.NoError(t, err)
	salesAfterFirst := len(ledger.sales)

	result, err := c.Commit(context.Background(), 1, rows)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Empty(t, result.Failed)
	assert.Len(t, ledger.sales, salesAfterFirst)
}

func TestCommitSubtractsSellerShipping(t *testing.T) {
	ledger := newFakeLedger()
	c := NewCommitter(ledger)
	rows := Match(sessionSlots(1), []RawCSVRow{csvRow(1, "SINGLES #1", "20")}, MatchOptions{
		Mode:  ModeContent,
		Rates: Rates{ShippingCost: dec("1.50")},
	})

	result, err := c.Commit(context.Background(), 1, rows)

	require.NoError(t, err)
	require.Len(t, ledger.sales, 1)
	assert.True(t, dec("8.50").Equal(ledger.sales[0].NetProfit))
	assert.True(t, dec("1.50").Equal(ledger.sales[0].ShippingCost))
	assert.True(t, result.Reconciled)
}

func TestCommitSoldAt(t *testing.T) {
	ledger := newFakeLedger()
	c := NewCommitter(ledger)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.nowFunc = func() time.Time { return fixed }

	placed := csvRow(1, "SINGLES #1", "20")
	placed.PlacedAt = "2024-04-30T21:15:00Z"
	rows := Match(sessionSlots(1, 2), []RawCSVRow{placed, csvRow(2, "SINGLES #2", "5")}, MatchOptions{Mode: ModeContent})

	_, err := c.Commit(context.Background(), 1, rows)

	require.NoError(t, err)
	require.Len(t, ledger.sales, 2)
	assert.True(t, ledger.sales[0].SoldAt.Equal(time.Date(2024, 4, 30, 21, 15, 0, 0, time.UTC)))
	assert.True(t, ledger.sales[1].SoldAt.Equal(fixed))
}

func TestCommitExistingSalesLookupFails(t *testing.T) {
	ledger := newFakeLedger()
	ledger.failExisting = true

	_, err := NewCommitter(ledger).Commit(context.Background(), 1, scenarioResults(t))

	assert.Error(t, err)
	assert.Empty(t, ledger.calls)
}
