// Package fingerprint derives stable cache keys from raw utterance text.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Normalize canonicalizes utterance text for matching and hashing:
// lowercased, punctuation stripped, runs of whitespace collapsed to a
// single space. Two requests that normalize identically are considered
// the same question.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			// dropped
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}

	return strings.TrimRight(b.String(), " ")
}

// Key hashes normalized text together with a coarse context signature
// (the session's pinned sensitive intent, or empty when the session
// carries no routing-relevant state). Identical text under different
// signatures produces distinct fingerprints, so a cached decision from
// one conversational state never leaks into another; an empty signature
// leaves the key equal to the bare-text hash so repeats can hit the
// cache.
func Key(normalized, contextSignature string) string {
	h := sha256.New()
	h.Write([]byte(normalized))
	if contextSignature != "" {
		h.Write([]byte{0})
		h.Write([]byte(contextSignature))
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
