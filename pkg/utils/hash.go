package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashString returns a stable 32-character hex digest, used for cache
// keys and content-derived identifiers.
func HashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:16])
}
