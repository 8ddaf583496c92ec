// Package uid generates random identifiers for temp files, request IDs and
// object keys.
package uid

import (
	"strings"

	"github.com/google/uuid"
)

// New generates a 32-character lowercase hex string from a random UUID.
func New() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Short returns the first 16 characters of New, for request IDs.
func Short() string {
	return New()[:16]
}

// Key returns a generated object key under prefix, with ext appended
// (e.g. Key("uploads", ".png") = "uploads/3f2a....png").
func Key(prefix, ext string) string {
	k := New() + ext
	if prefix == "" {
		return k
	}
	return prefix + "/" + k
}
