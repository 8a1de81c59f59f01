package reconcile

import (
	"regexp"
	"strconv"
	"strings"
)

// Most specific first: "singles"/"item" vocabulary must beat the generic trailing-number
// rules, which would otherwise read quantities or years out of a title.
var slotPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bsingles\s*[#:\-]?\s*(\d+)`),
	regexp.MustCompile(`(?i)\bitem\s*[#:\-]?\s*(\d+)`),
	regexp.MustCompile(`#\s*(\d+)$`),
	regexp.MustCompile(`\s(\d+)$`),
}

var firstIntegerPattern = regexp.MustCompile(`\d+`)

// ExtractSlotNumber reads a slot number out of a free-text product name.
// Returns nil when no rule matches.
func ExtractSlotNumber(productName string) *int {
	name := strings.TrimSpace(productName)
	if name == "" {
		return nil
	}

	for _, re := range slotPatterns {
		m := re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil {
			return &n
		}
	}

	return nil
}

// firstInteger extracts the first run of digits, the way SKU and slot columns are read
func firstInteger(s string) *int {
	m := firstIntegerPattern.FindString(strings.TrimSpace(s))
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &n
}
