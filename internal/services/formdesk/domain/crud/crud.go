// Package crud names the persistence effect a button triggers.
package crud

import "strings"

// Type is the CRUD effect of a button.
type Type int

const (
	// Unspecified is the zero value and is never a valid effect.
	Unspecified Type = iota
	Create
	Read
	View
	Update
	Insert
	Delete
	Add
	Remove
	Pick
	Return
	Refresh
	None
)

var names = map[Type]string{
	Create:  "create",
	Read:    "read",
	View:    "view",
	Update:  "update",
	Insert:  "insert",
	Delete:  "delete",
	Add:     "add",
	Remove:  "remove",
	Pick:    "pick",
	Return:  "return",
	Refresh: "refresh",
	None:    "none",
}

// All returns every valid effect in declaration order.
func All() []Type {
	return []Type{Create, Read, View, Update, Insert, Delete, Add, Remove, Pick, Return, Refresh, None}
}

// String returns the lowercase name of the effect.
func (t Type) String() string {
	if name, ok := names[t]; ok {
		return name
	}
	return "unspecified"
}

// Valid reports whether t is a recognized effect.
func (t Type) Valid() bool {
	_, ok := names[t]
	return ok
}

// Mutates reports whether the effect writes through the repository.
func (t Type) Mutates() bool {
	switch t {
	case Update, Insert, Delete, Add, Remove, Pick:
		return true
	default:
		return false
	}
}

// Parse resolves a case-insensitive effect name.
func Parse(value string) (Type, bool) {
	needle := strings.ToLower(strings.TrimSpace(value))
	for t, name := range names {
		if name == needle {
			return t, true
		}
	}
	return Unspecified, false
}
