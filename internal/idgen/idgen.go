// Package idgen generates random identifiers.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random RFC 4122 version 4 UUID string.
func New() string {
	return uuid.NewString()
}

// WithPrefix returns prefix followed by 24 random hex characters
// (e.g. "call_", "req_").
func WithPrefix(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// CallID returns a new call identifier.
func CallID() string {
	return WithPrefix("call_")
}
