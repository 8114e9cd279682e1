package voucher

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// NormalizeCode returns the canonical form of a voucher code: trimmed,
// NFKC-normalized and upper-cased. Codes are stored in this form, so lookups
// compare exactly.
func NormalizeCode(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	// A Caser keeps state, so each call gets its own.
	return cases.Upper(language.Und).String(norm.NFKC.String(code))
}
