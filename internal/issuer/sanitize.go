package issuer

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

// stripPolicy removes all HTML markup. Commerce platforms routinely let
// markup leak into product attributes and billing fields.
var stripPolicy = bluemonday.StrictPolicy()

// sanitizeText normalizes a free-text value for embedding in a pass: strips
// markup and control characters, applies NFC, and collapses surrounding
// whitespace.
func sanitizeText(s string) string {
	s = stripPolicy.Sanitize(s)
	// StrictPolicy entity-escapes what it keeps; the pass holds plain text.
	s = html.UnescapeString(s)

	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	s = norm.NFC.String(s)
	return strings.TrimSpace(s)
}

// sanitizeEmail normalizes an email address for use on a pass object.
func sanitizeEmail(s string) string {
	return strings.ToLower(sanitizeText(s))
}
