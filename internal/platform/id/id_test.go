package id

import (
	"regexp"
	"strings"
	"testing"

	"github.com/google/uuid"
)

var idPattern = regexp.MustCompile(`^[a-z2-7]{26}$`)

func TestNewIDIsLowercaseBase32UUID(t *testing.T) {
	t.Parallel()

	got, err := NewID()
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	if !idPattern.MatchString(got) {
		t.Fatalf("id %q does not match %s", got, idPattern)
	}

	raw, err := encoding.DecodeString(strings.ToUpper(got))
	if err != nil {
		t.Fatalf("decode %q: %v", got, err)
	}
	value, err := uuid.FromBytes(raw)
	if err != nil {
		t.Fatalf("uuid from %q: %v", got, err)
	}
	if value.Version() != 4 {
		t.Fatalf("version = %d, want 4", value.Version())
	}
	if value.Variant() != uuid.RFC4122 {
		t.Fatalf("variant = %v, want RFC4122", value.Variant())
	}
}

// Ids appear unescaped in route paths.
func TestNewIDIsUniqueAndPathSafe(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{}, 1000)
	for range 1000 {
		got, err := NewID()
		if err != nil {
			t.Fatalf("NewID: %v", err)
		}
		if strings.ContainsAny(got, "/=?#%") {
			t.Fatalf("id %q needs escaping", got)
		}
		if _, dup := seen[got]; dup {
			t.Fatalf("duplicate id %q", got)
		}
		seen[got] = struct{}{}
	}
}
