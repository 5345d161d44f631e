package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeText collapses whitespace runs to a single space, trims and
// lowercases. Cosmetic re-wrapping of a sentence normalizes to the same string.
func NormalizeText(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// ContentHash returns the SHA-256 hex digest of the normalized text.
// The result is always 64 characters long.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(NormalizeText(text)))
	return hex.EncodeToString(h[:])
}
