// Package id generates and checks job identifiers.
package id

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUIDv7 job IDs.
type Generator struct{}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	v, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return v.String(), nil
}

// Valid reports whether s is a canonical UUID string as produced by Generator.
func Valid(s string) bool {
	v, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return v.String() == s
}

// RequestID returns a random UUIDv4 for request correlation.
func RequestID() string {
	return uuid.NewString()
}
