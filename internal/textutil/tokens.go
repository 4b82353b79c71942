package textutil

import "unicode/utf8"

const (
	hangulFirst = 0xAC00
	hangulLast  = 0xD7AF
)

// EstimateTokens is a rough local estimate: Hangul syllables count ~1.5
// tokens each, everything else ~0.25. Not billing grade.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	korean := 0
	total := 0
	for _, r := range text {
		total++
		if r >= hangulFirst && r <= hangulLast {
			korean++
		}
	}
	other := total - korean
	return int(float64(korean)*1.5 + float64(other)*0.25)
}

// Truncate cuts s to at most max runes, replacing the tail with "..." when it
// had to cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 3 {
		return string([]rune(s)[:max])
	}
	r := []rune(s)
	return string(r[:max-3]) + "..."
}
