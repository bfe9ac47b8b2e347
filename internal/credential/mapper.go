// Package credential turns login codes into the synthetic email addresses the
// identity provider keys accounts by.
package credential

import "strings"

// Domain is appended to every mapped login code.
const Domain = "courier-backoffice.local"

const atToken = "_at_"

// CodeToEmail maps a login code to its synthetic email. The mapping is
// deterministic but not injective: codes that differ only in substituted
// characters share an email, so uniqueness must be checked on the code.
func CodeToEmail(code string) string {
	code = strings.ReplaceAll(code, "@", atToken)

	var b strings.Builder
	b.Grow(len(code) + len(Domain) + 1)
	for _, r := range code {
		if isAllowed(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	b.WriteByte('@')
	b.WriteString(Domain)
	return b.String()
}

func isAllowed(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '_', r == '-':
		return true
	}
	return false
}
