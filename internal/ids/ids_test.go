package ids

import (
	"testing"

	"github.com/google/uuid"
)

func TestUUIDProviderIssuesOrderedV7(t *testing.T) {
	provider := NewUUIDProvider()
	first, err := provider.NewID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := provider.NewID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	parsed, err := uuid.Parse(first)
	if err != nil {
		t.Fatalf("expected a valid uuid: %v", err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected version 7, got %d", parsed.Version())
	}
	if !(first < second) {
		t.Fatalf("expected lexically increasing identifiers, got %s then %s", first, second)
	}
}
