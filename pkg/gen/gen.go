// Package gen provides utility functions for generating identifiers.
package gen

import (
	"strings"

	"github.com/google/uuid"
)

// RequestIDLen is the length of identifiers returned by RequestID.
const RequestIDLen = 12

// RequestID returns a short random hex identifier.
// It only contains [0-9a-f], so it is safe inside file names and glob patterns.
func RequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:RequestIDLen]
}
