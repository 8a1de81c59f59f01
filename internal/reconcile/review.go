package reconcile

import (
	"errors"
	"sort"
	"time"

	"showledger/internal/models"

	"github.com/google/uuid"
)

var (
	ErrSlotNotFound       = errors.New("slot not found")
	ErrSlotAlreadySold    = errors.New("slot item already sold")
	ErrRowNotFound        = errors.New("csv row not found")
	ErrRowCancelled       = errors.New("csv row is cancelled or failed")
	ErrUnsavedManualEdits = errors.New("manual corrections would be discarded")
	ErrNoRows             = errors.New("csv has no data rows")
	ErrInvalidDirection   = errors.New("direction must be up or down")
)

// Direction of a shift correction
type Direction string

const (
	// ShiftUp moves every binding to the slot numbered one lower
	ShiftUp Direction = "up"
	// ShiftDown moves every binding to the slot numbered one higher
	ShiftDown Direction = "down"
)

// ReviewOptions configures a new review
type ReviewOptions struct {
	Mode          Mode
	StartSlot     int
	Rates         Rates
	AutoThreshold float64
	Include       []string
	Exclude       []string
}

// Review is the mutable working state of one reconciliation pass. It survives across
// requests of the human review loop and is replaced wholesale when matching is re-run.
type Review struct {
	ID            string               `json:"id"`
	SessionID     int64                `json:"session_id"`
	Mode          Mode                 `json:"mode"`
	StartSlot     int                  `json:"start_slot"`
	AutoThreshold float64              `json:"auto_threshold"`
	Rates         Rates                `json:"rates"`
	Slots         []models.SessionSlot `json:"slots"`
	Headers       []string             `json:"headers"`
	Rows          []RawCSVRow          `json:"rows"`
	Excluded      []RawCSVRow          `json:"excluded"`
	ParseErrors   []string             `json:"parse_errors"`
	SoldItems     map[int64]bool       `json:"sold_items"`
	Results       []ReconciliationRow  `json:"results"`
	ManualEdits   int                  `json:"manual_edits"`
	ShiftOffset   int                  `json:"shift_offset"`
	Version       int64                `json:"version"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// Summary counts what a reviewer must look at before committing
type Summary struct {
	Mode      Mode `json:"mode"`
	TotalRows int  `json:"total_rows"`
	Slots     int  `json:"slots"`
	Matched   int  `json:"matched"`
	Missing   int  `json:"missing"`
	Duplicate int  `json:"duplicate"`
	Conflict  int  `json:"conflict"`
	Unsold    int  `json:"unsold"`
	Manual    int  `json:"manual"`
	Cancelled int  `json:"cancelled"`
	Excluded  int  `json:"excluded"`
	Errors    int  `json:"errors"`
}

// NewReview filters the parsed rows, runs the matcher and flags already-sold slots
func NewReview(sessionID int64, slots []models.SessionSlot, parsed ParseResult, soldItemIDs []int64, opts ReviewOptions) (*Review, error) {
	if len(parsed.Rows) == 0 {
		return nil, ErrNoRows
	}

	kept, excluded := FilterRows(parsed.Rows, opts.Include, opts.Exclude)

	ordered := make([]models.SessionSlot, len(slots))
	copy(ordered, slots)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].SlotNumber < ordered[j].SlotNumber })

	sold := make(map[int64]bool, len(soldItemIDs))
	for _, id := range soldItemIDs {
		sold[id] = true
	}

	now := time.Now()
	r := &Review{
		ID:            uuid.New().String(),
		SessionID:     sessionID,
		StartSlot:     opts.StartSlot,
		AutoThreshold: opts.AutoThreshold,
		Rates:         opts.Rates,
		Slots:         ordered,
		Headers:       parsed.Headers,
		Rows:          kept,
		Excluded:      excluded,
		ParseErrors:   parsed.Errors,
		SoldItems:     sold,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.rematch(opts.Mode)
	return r, nil
}

func (r *Review) rematch(mode Mode) {
	r.Mode = ResolveMode(r.Rows, mode, r.AutoThreshold)
	r.Results = Match(r.Slots, r.Rows, MatchOptions{
		Mode:      r.Mode,
		StartSlot: r.StartSlot,
		Rates:     r.Rates,
	})
	r.ManualEdits = 0
	r.ShiftOffset = 0
	r.refresh()
}

// refresh re-applies the already-sold flags and recomputes every row
func (r *Review) refresh() {
	for i := range r.Results {
		r.Results[i].AlreadySold = r.SoldItems[r.Results[i].ItemID]
		r.Results[i].resolve()
	}
	r.UpdatedAt = time.Now()
}

// HasManualEdits reports whether re-matching or shifting would discard operator work
func (r *Review) HasManualEdits() bool {
	return r.ManualEdits > 0
}

// ToggleMode re-runs the matcher with another strategy. Manual corrections are discarded,
// so confirm must be set when any exist.
func (r *Review) ToggleMode(mode Mode, confirm bool) error {
	if r.HasManualEdits() && !confirm {
		return ErrUnsavedManualEdits
	}
	r.rematch(mode)
	return nil
}

// ShiftMapping moves every binding one slot number up or down, correcting a systematic
// off-by-one. Bindings pushed past the first or last slot are dropped. Manual bindings move
// with everything else, so confirm must be set when any exist.
func (r *Review) ShiftMapping(dir Direction, confirm bool) error {
	var delta int
	switch dir {
	case ShiftUp:
		delta = -1
	case ShiftDown:
		delta = 1
	default:
		return ErrInvalidDirection
	}
	if r.HasManualEdits() && !confirm {
		return ErrUnsavedManualEdits
	}

	type binding struct {
		row        *RawCSVRow
		method     MatchMethod
		duplicates int
	}
	moved := make(map[int]binding)
	for _, res := range r.Results {
		if res.MatchedRow == nil {
			continue
		}
		moved[res.SlotNumber+delta] = binding{res.MatchedRow, res.MatchMethod, res.DuplicateCount}
	}

	for i := range r.Results {
		b, ok := moved[r.Results[i].SlotNumber]
		if !ok {
			r.Results[i].bind(nil, MethodNone, 0)
			continue
		}
		r.Results[i].bind(b.row, b.method, b.duplicates)
	}

	r.ShiftOffset += delta
	r.refresh()
	return nil
}

// ManualAssign binds a specific CSV row to a slot, taking it away from any other slot
func (r *Review) ManualAssign(slotNumber, csvRowNumber int) error {
	target, err := r.openSlot(slotNumber)
	if err != nil {
		return err
	}

	row := r.findRow(csvRowNumber)
	if row == nil {
		return ErrRowNotFound
	}
	if row.CancelledOrFailed {
		return ErrRowCancelled
	}

	for i := range r.Results {
		res := &r.Results[i]
		if res.SlotNumber != slotNumber && res.MatchedRow != nil && res.MatchedRow.RowNumber == csvRowNumber {
			res.bind(nil, MethodNone, 0)
		}
	}

	target.Unsold = false
	target.bind(row, MethodManual, 0)
	r.ManualEdits++
	r.refresh()
	return nil
}

// ClearAssignment detaches whatever row a slot holds
func (r *Review) ClearAssignment(slotNumber int) error {
	target, err := r.openSlot(slotNumber)
	if err != nil {
		return err
	}
	target.bind(nil, MethodNone, 0)
	r.ManualEdits++
	r.refresh()
	return nil
}

// MarkUnsold records that a slot's item did not sell; it is skipped on commit
func (r *Review) MarkUnsold(slotNumber int) error {
	target, err := r.openSlot(slotNumber)
	if err != nil {
		return err
	}
	target.Unsold = true
	r.ManualEdits++
	r.refresh()
	return nil
}

// SetRates replaces the session rates and recomputes financials
func (r *Review) SetRates(rates Rates) {
	r.Rates = rates
	bySlot := make(map[int]models.SessionSlot, len(r.Slots))
	for _, s := range r.Slots {
		bySlot[s.SlotNumber] = s
	}
	for i := range r.Results {
		fresh := newRow(bySlot[r.Results[i].SlotNumber], rates)
		r.Results[i].FeeRate = fresh.FeeRate
		r.Results[i].TaxRate = fresh.TaxRate
		r.Results[i].ShippingCost = fresh.ShippingCost
	}
	r.refresh()
}

// MarkSold records items that gained a sale since the review was built. Their slots read
// conflict from now on.
func (r *Review) MarkSold(itemIDs ...int64) {
	if r.SoldItems == nil {
		r.SoldItems = make(map[int64]bool, len(itemIDs))
	}
	for _, id := range itemIDs {
		r.SoldItems[id] = true
	}
	r.refresh()
}

// Summary counts statuses
func (r *Review) Summary() Summary {
	s := Summary{
		Mode:      r.Mode,
		TotalRows: len(r.Rows) + len(r.Excluded),
		Slots:     len(r.Results),
		Excluded:  len(r.Excluded),
		Errors:    len(r.ParseErrors),
	}
	for _, row := range r.Rows {
		if row.CancelledOrFailed {
			s.Cancelled++
		}
	}
	for _, res := range r.Results {
		switch res.MatchStatus {
		case StatusMatched:
			s.Matched++
		case StatusMissing:
			s.Missing++
		case StatusDuplicate:
			s.Duplicate++
		case StatusConflict:
			s.Conflict++
		case StatusUnsold:
			s.Unsold++
		}
		if res.MatchMethod == MethodManual {
			s.Manual++
		}
	}
	return s
}

func (r *Review) openSlot(slotNumber int) (*ReconciliationRow, error) {
	for i := range r.Results {
		if r.Results[i].SlotNumber != slotNumber {
			continue
		}
		if r.Results[i].AlreadySold {
			return nil, ErrSlotAlreadySold
		}
		return &r.Results[i], nil
	}
	return nil, ErrSlotNotFound
}

// findRow looks in kept rows first, then in keyword-excluded rows so an operator can
// override the filter
func (r *Review) findRow(rowNumber int) *RawCSVRow {
	for i := range r.Rows {
		if r.Rows[i].RowNumber == rowNumber {
			return &r.Rows[i]
		}
	}
	for i := range r.Excluded {
		if r.Excluded[i].RowNumber == rowNumber {
			return &r.Excluded[i]
		}
	}
	return nil
}
