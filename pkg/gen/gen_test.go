package gen_test

import (
	"strings"
	"testing"

	"tunegrab/pkg/gen"
)

func TestRequestID(t *testing.T) {
	seen := make(map[string]struct{})

	for range 100 {
		id := gen.RequestID()
		if len(id) != gen.RequestIDLen {
			t.Fatalf("RequestID() = %q, want length %d", id, gen.RequestIDLen)
		}

		if strings.Trim(id, "0123456789abcdef") != "" {
			t.Fatalf("RequestID() = %q contains non-hex characters", id)
		}

		if _, dup := seen[id]; dup {
			t.Fatalf("RequestID() returned duplicate %q", id)
		}

		seen[id] = struct{}{}
	}
}
