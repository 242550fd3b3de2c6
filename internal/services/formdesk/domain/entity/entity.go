// Package entity defines the records a collection edits and the variants
// that classify them.
package entity

// Entity is an opaque record with a stable identifier. The empty identifier
// marks an entity that has not been persisted yet.
type Entity interface {
	EntityID() string
}

// Variant identifies a sub-type of entity handled by a collection.
type Variant struct {
	// Alias is the URL-safe name used to select the variant.
	Alias string
	// Type is the type tag stored with each entity of this variant.
	Type string
	// Name is the display name.
	Name string
}

// IsZero reports whether v is the empty variant.
func (v Variant) IsZero() bool {
	return v.Alias == "" && v.Type == ""
}
