// Package textutil holds small pure helpers applied to chat text before it
// leaves the process.
package textutil

import "regexp"

const (
	EmailPlaceholder = "[EMAIL]"
	PhonePlaceholder = "[PHONE]"
	IDPlaceholder    = "[ID_NUMBER]"
	CardPlaceholder  = "[CARD_NUMBER]"
)

type piiRule struct {
	re          *regexp.Regexp
	placeholder string
}

// Email goes first: a local part made of digits would otherwise be masked as
// a phone or id and leave the domain behind. The digit rules run most
// specific first so a card number is never half-eaten as a phone.
var piiRules = []piiRule{
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), EmailPlaceholder},
	{regexp.MustCompile(`\b\d{4}-?\d{4}-?\d{4}-?\d{4}\b`), CardPlaceholder},
	{regexp.MustCompile(`\b\d{6}-?\d{7}\b`), IDPlaceholder},
	{regexp.MustCompile(`\b01[016789]-?\d{3,4}-?\d{4}\b`), PhonePlaceholder},
	{regexp.MustCompile(`\b\d{2,3}-?\d{3,4}-?\d{4}\b`), PhonePlaceholder},
}

// MaskPII replaces emails, Korean mobile/landline numbers, resident registration
// numbers and card numbers with fixed placeholders. Placeholders contain no
// digits or '@', so MaskPII(MaskPII(s)) == MaskPII(s).
func MaskPII(s string) string {
	if s == "" {
		return s
	}
	for _, r := range piiRules {
		s = r.re.ReplaceAllLiteralString(s, r.placeholder)
	}
	return s
}
