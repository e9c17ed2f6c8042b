package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// CanonicalizeContent normalizes text for dedup hashing: lowercased,
// punctuation stripped, whitespace collapsed. Two phrasings of the same
// fact that differ only in case or spacing hash identically.
func CanonicalizeContent(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r), unicode.IsPunct(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}

	return strings.TrimSpace(b.String())
}

// ContentHash computes the dedup key for canonical content.
func ContentHash(canonical string) string {
	sum := sha256.Sum256([]byte(CanonicalizeContent(canonical)))
	return hex.EncodeToString(sum[:])
}
