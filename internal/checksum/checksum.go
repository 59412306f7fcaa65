// Package checksum hashes template and document content.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// String returns the hex-encoded SHA-256 digest of s.
func String(s string) string {
	return Sum([]byte(s))
}

// Match reports whether data hashes to expected. The expected digest may
// carry a "sha256:" prefix and is compared case-insensitively.
func Match(data []byte, expected string) bool {
	expected = strings.TrimSpace(strings.ToLower(expected))
	expected = strings.TrimPrefix(expected, "sha256:")
	if expected == "" {
		return false
	}
	return Sum(data) == expected
}
