package entity

import (
	"errors"
	"testing"

	apperrors "github.com/louisbranch/formdesk/internal/platform/errors"
)

func TestVariantsResolve(t *testing.T) {
	t.Parallel()

	variants, err := NewVariants(
		Variant{Alias: "post", Name: "Post"},
		nil,
		Variant{Alias: "page", Type: "static_page", Name: "Page"},
	)
	if err != nil {
		t.Fatalf("new variants: %v", err)
	}

	def, err := variants.Resolve("")
	if err != nil {
		t.Fatalf("resolve default: %v", err)
	}
	if def.Alias != "post" || def.Type != "post" {
		t.Fatalf("default = %+v", def)
	}

	page, err := variants.Resolve("page")
	if err != nil {
		t.Fatalf("resolve page: %v", err)
	}
	if page.Type != "static_page" {
		t.Fatalf("page type = %q", page.Type)
	}

	if _, err := variants.Resolve("missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if got := len(variants.All()); got != 2 {
		t.Fatalf("All() len = %d, want 2", got)
	}
}

func TestVariantsOfClassifiesDocuments(t *testing.T) {
	t.Parallel()

	variants, err := NewVariants(Variant{Alias: "post"}, nil, Variant{Alias: "page"})
	if err != nil {
		t.Fatalf("new variants: %v", err)
	}

	if got := variants.Of(&Document{Variant: "page"}); got.Alias != "page" {
		t.Fatalf("Of(page) = %+v", got)
	}
	if got := variants.Of(&Document{Variant: "unknown"}); got.Alias != "post" {
		t.Fatalf("Of(unknown) = %+v, want default", got)
	}
	if got := variants.Of(nil); got.Alias != "post" {
		t.Fatalf("Of(nil) = %+v, want default", got)
	}
}

func TestNewVariantsRejectsDuplicates(t *testing.T) {
	t.Parallel()

	if _, err := NewVariants(Variant{Alias: "post"}, nil, Variant{Alias: "post"}); err == nil {
		t.Fatal("expected duplicate alias error")
	}
	if _, err := NewVariants(Variant{}, nil); err == nil {
		t.Fatal("expected missing default alias error")
	}
}

func TestDocumentFieldAccess(t *testing.T) {
	t.Parallel()

	doc := &Document{ID: "1", Data: []byte(`{"title":"Hello","tags":["a","b"]}`)}
	if got := doc.Field("title").String(); got != "Hello" {
		t.Fatalf("title = %q", got)
	}
	if got := doc.Value("missing"); got != nil {
		t.Fatalf("missing value = %v, want nil", got)
	}
	tags, ok := doc.Value("tags").([]any)
	if !ok || len(tags) != 2 {
		t.Fatalf("tags = %#v", doc.Value("tags"))
	}

	clone := doc.Clone()
	if err := clone.Set("title", "Changed"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if doc.Field("title").String() != "Hello" {
		t.Fatal("clone must not share data")
	}

	empty := &Document{}
	if err := empty.Set("count", 3); err != nil {
		t.Fatalf("set on empty: %v", err)
	}
	if empty.Field("count").Int() != 3 {
		t.Fatalf("count = %s", empty.Data)
	}
}
