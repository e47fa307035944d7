// Package uuid generates the random tokens used to name stored images.
package uuid

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUIDv7 tokens rendered as 32 hex digits.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 as lowercase hex without separators.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return hex.EncodeToString(id[:]), nil
}
