package entity

import (
	"fmt"

	apperrors "github.com/louisbranch/formdesk/internal/platform/errors"
)

// ClassifyFunc returns the variant alias of a loaded entity.
type ClassifyFunc func(Entity) string

// Variants is a registry of the variants a collection handles. It resolves
// variants by alias when creating, and by classifying a live entity when
// the entity already exists.
type Variants struct {
	def      Variant
	order    []Variant
	byAlias  map[string]Variant
	classify ClassifyFunc
}

// NewVariants builds a registry with def as the default variant. A nil
// classify reads the variant from Document values.
func NewVariants(def Variant, classify ClassifyFunc, others ...Variant) (*Variants, error) {
	if def.Alias == "" {
		return nil, fmt.Errorf("default variant alias is required")
	}
	if classify == nil {
		classify = documentVariant
	}
	v := &Variants{
		def:      def,
		byAlias:  make(map[string]Variant, len(others)+1),
		classify: classify,
	}
	for _, variant := range append([]Variant{def}, others...) {
		if variant.Alias == "" {
			return nil, fmt.Errorf("variant alias is required")
		}
		if _, exists := v.byAlias[variant.Alias]; exists {
			return nil, fmt.Errorf("duplicate variant alias %q", variant.Alias)
		}
		if variant.Type == "" {
			variant.Type = variant.Alias
		}
		v.byAlias[variant.Alias] = variant
		v.order = append(v.order, variant)
	}
	v.def = v.order[0]
	return v, nil
}

// Default returns the default variant.
func (v *Variants) Default() Variant {
	return v.def
}

// All returns every variant, default first.
func (v *Variants) All() []Variant {
	out := make([]Variant, len(v.order))
	copy(out, v.order)
	return out
}

// Resolve returns the variant for alias; the empty alias is the default.
func (v *Variants) Resolve(alias string) (Variant, error) {
	if alias == "" {
		return v.def, nil
	}
	variant, ok := v.byAlias[alias]
	if !ok {
		return Variant{}, apperrors.WithMetadata(apperrors.CodeNotFound,
			fmt.Sprintf("variant %q not found", alias),
			map[string]string{"Resource": "Variant"})
	}
	return variant, nil
}

// Of classifies a live entity. Unknown classifications fall back to the
// default variant.
func (v *Variants) Of(e Entity) Variant {
	if e == nil {
		return v.def
	}
	if variant, ok := v.byAlias[v.classify(e)]; ok {
		return variant
	}
	return v.def
}

func documentVariant(e Entity) string {
	if doc, ok := e.(*Document); ok {
		return doc.Variant
	}
	return ""
}
