package crud

import "testing"

func TestParseRoundTripsEveryEffect(t *testing.T) {
	t.Parallel()

	for _, effect := range All() {
		got, ok := Parse(effect.String())
		if !ok {
			t.Fatalf("Parse(%q) failed", effect.String())
		}
		if got != effect {
			t.Fatalf("Parse(%q) = %v, want %v", effect.String(), got, effect)
		}
		if !effect.Valid() {
			t.Fatalf("%v should be valid", effect)
		}
	}
}

func TestParseRejectsUnknown(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "upsert", "unspecified"} {
		if _, ok := Parse(input); ok {
			t.Fatalf("Parse(%q) should fail", input)
		}
	}
	if got, ok := Parse("  INSERT "); !ok || got != Insert {
		t.Fatalf("Parse should trim and fold case, got %v %v", got, ok)
	}
}

func TestMutates(t *testing.T) {
	t.Parallel()

	mutating := map[Type]bool{Update: true, Insert: true, Delete: true, Add: true, Remove: true, Pick: true}
	for _, effect := range All() {
		if effect.Mutates() != mutating[effect] {
			t.Fatalf("%v.Mutates() = %v", effect, effect.Mutates())
		}
	}
	if Unspecified.Valid() {
		t.Fatal("zero effect must be invalid")
	}
	if Type(99).String() != "unspecified" {
		t.Fatalf("String() = %q", Type(99).String())
	}
}
