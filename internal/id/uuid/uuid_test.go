package uuid

import (
	"encoding/hex"
	"testing"

	goUUID "github.com/google/uuid"
)

// TestGeneratorNewID ensures generated IDs are unique hex-encoded UUIDs.
func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	seen := make(map[string]struct{}, 1000)
	for range 1000 {
		id, err := gen.NewID()
		if err != nil {
			t.Fatalf("NewID() error = %v", err)
		}
		if len(id) != 32 {
			t.Fatalf("expected 32 hex digits, got %q", id)
		}
		raw, err := hex.DecodeString(id)
		if err != nil {
			t.Fatalf("id not hex: %v", err)
		}
		parsed, err := goUUID.FromBytes(raw)
		if err != nil {
			t.Fatalf("id not a UUID: %v", err)
		}
		if parsed.Version() != 7 {
			t.Fatalf("expected version 7, got %d", parsed.Version())
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
	}
}
