package entity

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Document is a schemaless entity stored as a JSON object.
type Document struct {
	Collection string
	ID         string
	ParentID   string
	Variant    string
	Data       json.RawMessage
}

// EntityID implements Entity.
func (d *Document) EntityID() string {
	return d.ID
}

// Ref returns the document's address.
func (d *Document) Ref() Ref {
	return Ref{Collection: d.Collection, ID: d.ID}
}

// Field reads a value by gjson path. Missing fields yield a result whose
// Exists reports false.
func (d *Document) Field(path string) gjson.Result {
	if len(d.Data) == 0 {
		return gjson.Result{}
	}
	return gjson.GetBytes(d.Data, path)
}

// Value returns the decoded value at path, or nil when the field is absent.
func (d *Document) Value(path string) any {
	result := d.Field(path)
	if !result.Exists() {
		return nil
	}
	return result.Value()
}

// Set writes value at path, creating the object when Data is empty.
func (d *Document) Set(path string, value any) error {
	data := d.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	updated, err := sjson.SetBytes(data, path, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	d.Data = updated
	return nil
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	clone := *d
	clone.Data = append(json.RawMessage(nil), d.Data...)
	return &clone
}

// Ref addresses an entity inside a collection.
type Ref struct {
	Collection string
	ID         string
}

// String formats the ref as collection/id.
func (r Ref) String() string {
	return r.Collection + "/" + r.ID
}
