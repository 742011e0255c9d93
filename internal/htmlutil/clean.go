package htmlutil

import (
	"strings"
	"unicode/utf8"

	"github.com/k3a/html2text"
)

// ToText converts HTML to plain text using a proper HTML parser.
// Handles entities, strips tags, and preserves readable text.
func ToText(s string) string {
	return strings.TrimSpace(html2text.HTML2Text(s))
}

// Snippet converts s to text, collapses whitespace and cuts it to at most
// n runes, marking a cut with an ellipsis.
func Snippet(s string, n int) string {
	text := strings.Join(strings.Fields(ToText(s)), " ")
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	r := []rune(text)
	return strings.TrimSpace(string(r[:n])) + "…"
}
