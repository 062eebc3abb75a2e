// Package identity generates external identifiers and normalizes free text
// before it is stored or compared.
package identity

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NewExternalID returns a random 128-bit identifier in canonical string form.
// It is the only identifier ever exposed outside the store.
func NewExternalID() string {
	return uuid.NewString()
}

// IsExternalID reports whether s parses as an external identifier.
func IsExternalID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// NormalizeText upper-cases s using Brazilian Portuguese rules and trims
// surrounding whitespace. Empty input yields "".
func NormalizeText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	// A Caser keeps state, so one is built per call.
	return strings.TrimSpace(cases.Upper(language.BrazilianPortuguese).String(s))
}

// NormalizeName is NormalizeText plus collapsing internal runs of whitespace
// into a single space.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(NormalizeText(s)), " ")
}

// Digits returns only the decimal digits of s.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidNationalID reports whether a CPF value is acceptable. Absent values
// are valid because the field is optional; otherwise exactly 11 digits must
// remain once punctuation is removed. No check-digit verification is done.
func ValidNationalID(s string) bool {
	if strings.TrimSpace(s) == "" {
		return true
	}
	for _, r := range s {
		if unicode.IsLetter(r) {
			return false
		}
	}
	return len(Digits(s)) == 11
}

// FormatNationalID punctuates an 11-digit CPF as XXX.XXX.XXX-XX and returns
// any other input unchanged.
func FormatNationalID(s string) string {
	d := Digits(s)
	if len(d) != 11 {
		return s
	}
	return d[0:3] + "." + d[3:6] + "." + d[6:9] + "-" + d[9:11]
}
