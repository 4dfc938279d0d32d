// Package textnorm canonicalizes transaction descriptions for matching.
package textnorm

import (
	"strings"
	"unicode"
)

// Normalize lowercases, strips punctuation and collapses whitespace so the
// same merchant string compares equal across statement exports.
func Normalize(s string) string {
	return strings.Join(Tokens(s), " ")
}

// Tokens returns the normalized tokens of s in order.
func Tokens(s string) []string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case r == '&':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Fields(b.String())
}
