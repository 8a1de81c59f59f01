package comps

import (
	"regexp"
	"strings"

	"showledger/internal/models"
)

// MaxQueryLength caps the search string sent to the listing API
const MaxQueryLength = 200

var (
	disallowedChars = regexp.MustCompile(`[^\p{L}\p{N}_\s#-]`)
	whitespaceRun   = regexp.MustCompile(`\s+`)
)

// BuildQuery composes a search query from structured item fields, falling back to the
// free-text name when the item lacks a time context (year, set or brand) or a player.
func BuildQuery(item models.ItemMetadata) string {
	year := strings.TrimSpace(item.Year)
	set := strings.TrimSpace(item.SetName)
	if set == "" {
		set = strings.TrimSpace(item.Brand)
	}
	player := strings.TrimSpace(item.Player)

	if (year == "" && set == "") || player == "" {
		return Sanitize(item.Name)
	}

	parts := []string{year, set, player}

	if num := strings.TrimSpace(item.CardNumber); num != "" {
		if !strings.HasPrefix(num, "#") {
			num = "#" + num
		}
		parts = append(parts, num)
	}

	if parallel := strings.TrimSpace(item.Parallel); parallel != "" && !strings.EqualFold(parallel, "base") {
		parts = append(parts, parallel)
	}

	if grade := strings.TrimSpace(item.Grade); grade != "" {
		parts = append(parts, strings.TrimSpace(item.Grader), grade)
	}

	return Sanitize(strings.Join(parts, " "))
}

// Sanitize strips characters the search API chokes on, collapses whitespace and caps length
func Sanitize(s string) string {
	s = disallowedChars.ReplaceAllString(s, " ")
	s = strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))

	if r := []rune(s); len(r) > MaxQueryLength {
		s = strings.TrimSpace(string(r[:MaxQueryLength]))
	}
	return s
}

// GradeLabel is the grade string used to filter listing titles, e.g. "PSA 10"
func GradeLabel(item models.ItemMetadata) string {
	grade := strings.TrimSpace(item.Grade)
	if grade == "" {
		return ""
	}
	return strings.TrimSpace(strings.TrimSpace(item.Grader) + " " + grade)
}
