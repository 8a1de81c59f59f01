package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"showledger/internal/models"
	"showledger/internal/util"

	"go.uber.org/zap"
)

// Ledger is the slice of the persistence layer the committer writes through
type Ledger interface {
	GetExistingSales(ctx context.Context, sessionID int64) ([]models.Sale, error)
	CreateSale(ctx context.Context, sale *models.Sale) error
	UpdateItemStatus(ctx context.Context, itemID int64, status string) error
	UpdateSessionStatus(ctx context.Context, sessionID int64, status string) error
}

// CommitFailure is one itemized failure shown to the operator
type CommitFailure struct {
	SlotNumber int    `json:"slot_number"`
	ItemID     int64  `json:"item_id"`
	Reason     string `json:"reason"`
}

// CommitResult reports what a commit did
type CommitResult struct {
	Created    int             `json:"created"`
	Skipped    int             `json:"skipped"`
	Failed     []CommitFailure `json:"failed"`
	Reconciled bool            `json:"reconciled"`
	Sales      []CommittedSale `json:"sales"`
}

// CommittedSale pairs a created sale with the slot that produced it
type CommittedSale struct {
	SlotNumber int         `json:"slot_number"`
	Sale       models.Sale `json:"sale"`
}

// Committer turns a confirmed review into sale records
type Committer struct {
	ledger  Ledger
	logger  *zap.Logger
	nowFunc func() time.Time
}

// NewCommitter creates a new committer
func NewCommitter(ledger Ledger) *Committer {
	return &Committer{
		ledger:  ledger,
		logger:  util.ComponentLogger("committer"),
		nowFunc: time.Now,
	}
}

// Commit writes one sale per matched row in slot order. Each item gets its sale before its
// status flips to sold, so an item is never marked sold without a backing sale. A row whose
// item already has a sale in this session, conflict rows included, only gets the status
// update again. A failed item is recorded and processing moves on; the session only becomes
// reconciled when no item failed.
func (c *Committer) Commit(ctx context.Context, sessionID int64, rows []ReconciliationRow) (*CommitResult, error) {
	ctx, span := util.StartSpan(ctx, "Committer.Commit")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CommitLatency.Observe(time.Since(start).Seconds())
	}()

	existing, err := c.ledger.GetExistingSales(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing sales: %w", err)
	}
	sold := make(map[int64]bool, len(existing))
	for _, s := range existing {
		sold[s.ItemID] = true
	}

	ordered := make([]ReconciliationRow, len(rows))
	copy(ordered, rows)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].SlotNumber < ordered[j].SlotNumber })

	result := &CommitResult{Failed: []CommitFailure{}, Sales: []CommittedSale{}}

	for _, row := range ordered {
		if sold[row.ItemID] {
			// sale already on the ledger; the status flip may have failed on an earlier run
			result.Skipped++
			if err := c.ledger.UpdateItemStatus(ctx, row.ItemID, models.ItemStatusSold); err != nil {
				c.fail(result, row, fmt.Sprintf("sale exists but item status update failed: %v", err))
			}
			continue
		}
		if row.MatchStatus != StatusMatched || row.SoldPrice == nil || row.MatchedRow == nil {
			result.Skipped++
			continue
		}

		sale := c.buildSale(sessionID, row)
		if err := c.ledger.CreateSale(ctx, sale); err != nil {
			c.fail(result, row, fmt.Sprintf("failed to create sale: %v", err))
			continue
		}
		sold[row.ItemID] = true
		result.Created++
		result.Sales = append(result.Sales, CommittedSale{SlotNumber: row.SlotNumber, Sale: *sale})
		util.SalesCreatedTotal.Inc()

		if err := c.ledger.UpdateItemStatus(ctx, row.ItemID, models.ItemStatusSold); err != nil {
			c.fail(result, row, fmt.Sprintf("sale created but item status update failed: %v", err))
		}
	}

	if len(result.Failed) > 0 {
		c.logger.Warn("Commit finished with failures, session status unchanged",
			zap.Int64("session_id", sessionID),
			zap.Int("created", result.Created),
			zap.Int("failed", len(result.Failed)))
		return result, nil
	}

	if err := c.ledger.UpdateSessionStatus(ctx, sessionID, models.SessionStatusReconciled); err != nil {
		util.CommitFailuresTotal.WithLabelValues("session_status").Inc()
		result.Failed = append(result.Failed, CommitFailure{Reason: fmt.Sprintf("failed to mark session reconciled: %v", err)})
		return result, nil
	}
	result.Reconciled = true

	c.logger.Info("Session reconciled",
		zap.Int64("session_id", sessionID),
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

func (c *Committer) buildSale(sessionID int64, row ReconciliationRow) *models.Sale {
	csvRow := row.MatchedRow
	soldAt := c.nowFunc()
	if t, ok := parsePlacedAt(csvRow.PlacedAt); ok {
		soldAt = t
	}

	return &models.Sale{
		ItemID:        row.ItemID,
		SessionID:     sessionID,
		SoldPrice:     *row.SoldPrice,
		Fees:          *row.Fees,
		Taxes:         *row.Taxes,
		ShippingCost:  row.ShippingCost,
		NetProfit:     row.NetProfit.Sub(row.ShippingCost),
		SoldAt:        soldAt,
		BuyerUsername: csvRow.Buyer,
		OrderID:       csvRow.OrderID,
	}
}

func (c *Committer) fail(result *CommitResult, row ReconciliationRow, reason string) {
	util.CommitFailuresTotal.WithLabelValues("item").Inc()
	c.logger.Error("Failed to commit slot",
		zap.Int("slot_number", row.SlotNumber),
		zap.Int64("item_id", row.ItemID),
		zap.String("reason", reason))
	result.Failed = append(result.Failed, CommitFailure{
		SlotNumber: row.SlotNumber,
		ItemID:     row.ItemID,
		Reason:     reason,
	})
}
