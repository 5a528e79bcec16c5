// Package policy holds the content rules applied before user text is stored.
package policy

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	datePattern  = regexp.MustCompile(`\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4}`)
)

// minPhoneDigits keeps short numeric runs such as times and amounts readable.
const minPhoneDigits = 10

// RedactPII masks email addresses, card numbers and phone numbers. Dates are
// left intact so scheduling requests survive in session memory.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Cards before phones; a card number also matches the phone pattern.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllStringFunc(out, func(m string) string {
		if datePattern.MatchString(m) || countDigits(m) < minPhoneDigits {
			return m
		}
		return "[REDACTED_PHONE]"
	})
	changed = changed || next != out
	out = next

	return out, changed
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
