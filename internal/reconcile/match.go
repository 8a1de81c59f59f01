package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"showledger/internal/models"

	"github.com/shopspring/decimal"
)

// Mode selects the matching strategy
type Mode string

const (
	ModeContent  Mode = "content"
	ModeRowOrder Mode = "row_order"
	ModeAuto     Mode = "auto"
)

// MatchStatus is the review state of one slot
type MatchStatus string

const (
	StatusMatched   MatchStatus = "matched"
	StatusMissing   MatchStatus = "missing"
	StatusDuplicate MatchStatus = "duplicate"
	StatusConflict  MatchStatus = "conflict"
	StatusUnsold    MatchStatus = "unsold"
)

// MatchMethod records how a slot got its CSV row
type MatchMethod string

const (
	MethodSlotNumber MatchMethod = "slot_number"
	MethodRowOrder   MatchMethod = "row_order"
	MethodManual     MatchMethod = "manual"
	MethodNone       MatchMethod = "none"
)

// ErrInvalidMode is returned by ParseMode for unknown strategies
var ErrInvalidMode = errors.New("invalid mode")

// DefaultAutoThreshold is the share of rows that must carry a slot number for auto mode to
// pick content matching
const DefaultAutoThreshold = 0.8

// ParseMode validates a mode string
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeContent, "sku":
		return ModeContent, nil
	case ModeRowOrder, "sequence":
		return ModeRowOrder, nil
	case ModeAuto, "":
		return ModeAuto, nil
	}
	return "", fmt.Errorf("%w %q: must be content, row_order or auto", ErrInvalidMode, s)
}

// Rates are the session-level financial inputs. Per-item overrides live on the slot.
type Rates struct {
	FeeRate      decimal.Decimal `json:"fee_rate"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
}

// MatchOptions configures one matching pass
type MatchOptions struct {
	Mode          Mode
	StartSlot     int
	Rates         Rates
	AutoThreshold float64
}

// ReconciliationRow is the working state of one slot during review
type ReconciliationRow struct {
	SlotNumber     int              `json:"slot_number"`
	ItemID         int64            `json:"item_id"`
	ItemName       string           `json:"item_name"`
	CostBasis      decimal.Decimal  `json:"cost_basis"`
	FeeRate        decimal.Decimal  `json:"fee_rate"`
	TaxRate        decimal.Decimal  `json:"tax_rate"`
	ShippingCost   decimal.Decimal  `json:"shipping_cost"`
	MatchedRow     *RawCSVRow       `json:"matched_row,omitempty"`
	MatchStatus    MatchStatus      `json:"match_status"`
	MatchMethod    MatchMethod      `json:"match_method"`
	DuplicateCount int              `json:"duplicate_count,omitempty"`
	Unsold         bool             `json:"unsold,omitempty"`
	AlreadySold    bool             `json:"already_sold,omitempty"`
	Detail         string           `json:"detail,omitempty"`
	SoldPrice      *decimal.Decimal `json:"sold_price"`
	Fees           *decimal.Decimal `json:"fees"`
	Taxes          *decimal.Decimal `json:"taxes"`
	NetProfit      *decimal.Decimal `json:"net_profit"`
}

func newRow(slot models.SessionSlot, rates Rates) ReconciliationRow {
	row := ReconciliationRow{
		SlotNumber:   slot.SlotNumber,
		ItemID:       slot.ItemID,
		ItemName:     slot.ItemName,
		CostBasis:    slot.CostBasis,
		FeeRate:      rates.FeeRate,
		TaxRate:      rates.TaxRate,
		ShippingCost: rates.ShippingCost,
		MatchMethod:  MethodNone,
	}
	if slot.FeeRate != nil {
		row.FeeRate = *slot.FeeRate
	}
	if slot.TaxRate != nil {
		row.TaxRate = *slot.TaxRate
	}
	return row
}

// bind attaches a copy of the CSV row
func (r *ReconciliationRow) bind(csvRow *RawCSVRow, method MatchMethod, duplicates int) {
	if csvRow == nil {
		r.MatchedRow = nil
		r.MatchMethod = MethodNone
		r.DuplicateCount = 0
		return
	}
	c := *csvRow
	r.MatchedRow = &c
	r.MatchMethod = method
	r.DuplicateCount = duplicates
}

// resolve derives status, detail and financials from the row's current bindings
func (r *ReconciliationRow) resolve() {
	r.SoldPrice, r.Fees, r.Taxes, r.NetProfit = nil, nil, nil, nil
	r.Detail = ""

	switch {
	case r.AlreadySold:
		r.MatchStatus = StatusConflict
		r.Detail = "item already has a sale"
		return
	case r.Unsold:
		r.MatchStatus = StatusUnsold
		return
	case r.MatchedRow == nil:
		r.MatchStatus = StatusMissing
		return
	case r.DuplicateCount > 0:
		r.MatchStatus = StatusDuplicate
		r.Detail = fmt.Sprintf("%d more row(s) reference slot %d", r.DuplicateCount, r.SlotNumber)
	default:
		r.MatchStatus = StatusMatched
	}

	if r.MatchedRow.SoldPrice == nil {
		if r.Detail == "" {
			r.Detail = "matched row has no sold price"
		}
		return
	}

	price := *r.MatchedRow.SoldPrice
	fees := price.Mul(r.FeeRate).Round(2)
	taxes := price.Mul(r.TaxRate).Round(2)
	net := price.Sub(fees).Sub(taxes).Sub(r.CostBasis)

	r.SoldPrice = &price
	r.Fees = &fees
	r.Taxes = &taxes
	r.NetProfit = &net
}

// ResolveMode turns ModeAuto into a concrete strategy
func ResolveMode(rows []RawCSVRow, mode Mode, threshold float64) Mode {
	if mode != ModeAuto {
		return mode
	}
	if threshold <= 0 {
		threshold = DefaultAutoThreshold
	}

	eligible, withSlot := 0, 0
	for _, row := range rows {
		if row.CancelledOrFailed {
			continue
		}
		eligible++
		if row.ExtractedSlotNumber != nil {
			withSlot++
		}
	}
	if eligible == 0 {
		return ModeContent
	}
	if float64(withSlot)/float64(eligible) >= threshold {
		return ModeContent
	}
	return ModeRowOrder
}

// Match aligns session slots with CSV rows. The result has one row per slot, ordered by
// slot number. Cancelled rows never match in either mode.
func Match(slots []models.SessionSlot, rows []RawCSVRow, opts MatchOptions) []ReconciliationRow {
	ordered := make([]models.SessionSlot, len(slots))
	copy(ordered, slots)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].SlotNumber < ordered[j].SlotNumber })

	result := make([]ReconciliationRow, len(ordered))
	for i, slot := range ordered {
		result[i] = newRow(slot, opts.Rates)
	}

	switch ResolveMode(rows, opts.Mode, opts.AutoThreshold) {
	case ModeRowOrder:
		matchRowOrder(result, rows, opts.StartSlot)
	default:
		matchContent(result, rows)
	}

	for i := range result {
		result[i].resolve()
	}
	return result
}

func matchContent(result []ReconciliationRow, rows []RawCSVRow) {
	bySlot := make(map[int][]*RawCSVRow)
	for i := range rows {
		row := &rows[i]
		if row.CancelledOrFailed || row.ExtractedSlotNumber == nil {
			continue
		}
		bySlot[*row.ExtractedSlotNumber] = append(bySlot[*row.ExtractedSlotNumber], row)
	}

	for i := range result {
		candidates := bySlot[result[i].SlotNumber]
		if len(candidates) == 0 {
			continue
		}
		// first row in file order is the provisional match; the rest wait for a human
		result[i].bind(candidates[0], MethodSlotNumber, len(candidates)-1)
	}
}

func matchRowOrder(result []ReconciliationRow, rows []RawCSVRow, startSlot int) {
	if startSlot < 1 {
		startSlot = 1
	}
	sequence := sequenceOrder(rows)
	consumed := make(map[int]bool)

	for i := range result {
		pos := result[i].SlotNumber - startSlot
		if pos < 0 || pos >= len(sequence) {
			continue
		}
		row := sequence[pos]
		if row.CancelledOrFailed || consumed[row.RowNumber] {
			continue
		}
		consumed[row.RowNumber] = true
		result[i].bind(row, MethodRowOrder, 0)
	}
}

var placedAtLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006 3:04 PM",
	"2006-01-02",
}

func parsePlacedAt(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range placedAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// sequenceOrder returns rows in run order: by placed-at when every row has a readable
// timestamp, otherwise file order
func sequenceOrder(rows []RawCSVRow) []*RawCSVRow {
	seq := make([]*RawCSVRow, len(rows))
	times := make([]time.Time, len(rows))
	sortable := len(rows) > 0
	for i := range rows {
		seq[i] = &rows[i]
		t, ok := parsePlacedAt(rows[i].PlacedAt)
		if !ok {
			sortable = false
		}
		times[i] = t
	}
	if !sortable {
		return seq
	}

	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return times[idx[a]].Before(times[idx[b]]) })
	for i, j := range idx {
		seq[i] = &rows[j]
	}
	return seq
}
