// Package identity canonicalizes guest sender identifiers.
package identity

import "strings"

// DefaultCountryCode is applied to national numbers with a trunk prefix.
const DefaultCountryCode = "33"

const (
	minDigits = 8
	maxDigits = 15
)

// Normalize converts a raw sender identifier to the canonical +<digits> form.
//
// Only digits and a leading '+' are kept. A "00" international prefix is
// treated like '+'. A national number starting with a single '0' gets the
// default country code in place of the '0'. Normalize never fails; callers
// check Valid on the result.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	hasPlus := strings.HasPrefix(raw, "+")

	var b strings.Builder
	b.Grow(len(raw) + 3)
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}

	switch {
	case hasPlus:
	case strings.HasPrefix(digits, "00"):
		digits = digits[2:]
	case strings.HasPrefix(digits, "0"):
		digits = DefaultCountryCode + digits[1:]
	}
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// Valid reports whether a normalized identifier has a plausible length.
func Valid(normalized string) bool {
	if !strings.HasPrefix(normalized, "+") {
		return false
	}
	n := len(normalized) - 1
	return n >= minDigits && n <= maxDigits
}
