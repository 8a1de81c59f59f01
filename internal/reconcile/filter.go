package reconcile

import "strings"

// FilterRows drops rows by product-name keyword before matching. A row is excluded when its
// name contains any exclude keyword, or when include keywords are given and it contains
// none of them. Matching is case-insensitive.
func FilterRows(rows []RawCSVRow, include, exclude []string) (kept, excluded []RawCSVRow) {
	include = normalizeKeywords(include)
	exclude = normalizeKeywords(exclude)

	for _, row := range rows {
		name := strings.ToLower(row.ProductName)
		if containsAny(name, exclude) || (len(include) > 0 && !containsAny(name, include)) {
			excluded = append(excluded, row)
			continue
		}
		kept = append(kept, row)
	}
	return kept, excluded
}

// SplitKeywords parses a comma-separated keyword list
func SplitKeywords(s string) []string {
	return normalizeKeywords(strings.Split(s, ","))
}

func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
