package reconcile

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Export columns appended after the original ones
var exportColumns = []string{"slot", "matched_item_label", "match_method", "needs_review", "review_reason"}

const (
	exportMethodExcluded     = "excluded"
	exportMethodManualReview = "manual_review"

	reasonDuplicateSlot = "duplicate_slot"
	reasonSlotMissing   = "sku_missing_or_invalid"
	reasonMissingMatch  = "missing_match"
)

// ExportCSV writes every uploaded row, in file order, with its review outcome
func ExportCSV(w io.Writer, r *Review) error {
	cw := csv.NewWriter(w)

	header := append(append([]string{}, r.Headers...), exportColumns...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	bound := make(map[int]ReconciliationRow)
	for _, res := range r.Results {
		if res.MatchedRow != nil {
			bound[res.MatchedRow.RowNumber] = res
		}
	}
	slotTaken := make(map[int]bool)
	for _, res := range r.Results {
		if res.MatchedRow != nil {
			slotTaken[res.SlotNumber] = true
		}
	}

	type line struct {
		row      RawCSVRow
		excluded bool
	}
	all := make([]line, 0, len(r.Rows)+len(r.Excluded))
	for _, row := range r.Rows {
		all = append(all, line{row: row})
	}
	for _, row := range r.Excluded {
		all = append(all, line{row: row, excluded: true})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].row.RowNumber < all[j].row.RowNumber })

	for _, l := range all {
		record := make([]string, 0, len(header))
		for _, h := range r.Headers {
			record = append(record, l.row.RawFields[h])
		}

		slot, label, method, reason := "", "", exportMethodExcluded, ""
		needsReview := false

		res, isBound := bound[l.row.RowNumber]
		switch {
		case isBound && res.MatchStatus == StatusConflict:
			// the row matched, but the slot's item already has a sale so it is left out of the commit
			slot = strconv.Itoa(res.SlotNumber)
			label = itemLabel(res)
		case isBound:
			slot = strconv.Itoa(res.SlotNumber)
			label = itemLabel(res)
			method = string(res.MatchMethod)
			if res.MatchStatus == StatusDuplicate {
				needsReview, reason = true, reasonDuplicateSlot
			}
		case l.excluded || l.row.CancelledOrFailed:
		case r.Mode == ModeContent && l.row.ExtractedSlotNumber == nil:
			method, needsReview, reason = exportMethodManualReview, true, reasonSlotMissing
		case r.Mode == ModeContent && slotTaken[*l.row.ExtractedSlotNumber]:
			slot = strconv.Itoa(*l.row.ExtractedSlotNumber)
			method, needsReview, reason = exportMethodManualReview, true, reasonDuplicateSlot
		default:
			method, needsReview, reason = exportMethodManualReview, true, reasonMissingMatch
		}

		record = append(record, slot, label, method, strconv.FormatBool(needsReview), reason)
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row %d: %w", l.row.RowNumber, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func itemLabel(res ReconciliationRow) string {
	if res.ItemName != "" {
		return res.ItemName
	}
	return fmt.Sprintf("Item #%d", res.SlotNumber)
}
