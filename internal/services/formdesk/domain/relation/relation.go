// Package relation models relation references between entities.
package relation

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strconv"

	apperrors "github.com/louisbranch/formdesk/internal/platform/errors"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/entity"
)

// Element is the list/option projection of an entity.
type Element struct {
	ID     string
	Labels []string
}

// Relation is the set of target ids one relation field points at.
type Relation struct {
	Field      string
	Collection string
	IDs        []string
}

// Container holds the relation references persisted alongside an entity
// write.
type Container struct {
	Relations []Relation
}

// NewContainer builds a container, de-duplicating ids per relation while
// keeping first-seen order.
func NewContainer(relations ...Relation) Container {
	out := make([]Relation, 0, len(relations))
	for _, r := range relations {
		out = append(out, Relation{
			Field:      r.Field,
			Collection: r.Collection,
			IDs:        dedupe(r.IDs),
		})
	}
	return Container{Relations: out}
}

// Get returns the relation stored for field.
func (c Container) Get(field string) (Relation, bool) {
	for _, r := range c.Relations {
		if r.Field == field {
			return r, true
		}
	}
	return Relation{}, false
}

// Empty reports whether the container holds no relations.
func (c Container) Empty() bool {
	return len(c.Relations) == 0
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// IDsOf coerces a relation field value into identifiers. Accepted shapes
// are a slice of entities (live values or decoded JSON objects carrying an
// "id"), a slice of strings, or any slice or array of non-nil scalars.
// Numbers keep their plain decimal form. A nil value is the empty set.
// Anything else fails with an InvalidShape error.
func IDsOf(value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return []string{}, nil
	case []entity.Entity:
		ids := make([]string, 0, len(v))
		for _, e := range v {
			if e != nil {
				ids = append(ids, e.EntityID())
			}
		}
		return ids, nil
	case []string:
		return slices.Clone(v), nil
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, apperrors.New(apperrors.CodeInvalidShape,
			fmt.Sprintf("relation value of type %T is not enumerable", value))
	}
	ids := make([]string, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		item := rv.Index(i)
		if isNil(item) {
			continue
		}
		id, err := idOf(item.Interface())
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func idOf(elem any) (string, error) {
	switch v := elem.(type) {
	case entity.Entity:
		return v.EntityID(), nil
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case map[string]any:
		raw, ok := v["id"]
		if !ok || raw == nil {
			return "", apperrors.New(apperrors.CodeInvalidShape, "related object has no id")
		}
		if _, nested := raw.(map[string]any); nested {
			return "", apperrors.New(apperrors.CodeInvalidShape, "related object id is not a scalar")
		}
		return idOf(raw)
	}
	rv := reflect.ValueOf(elem)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Func, reflect.Chan:
		return "", apperrors.New(apperrors.CodeInvalidShape,
			fmt.Sprintf("relation element of type %T is not an identifier", elem))
	}
	return fmt.Sprint(elem), nil
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	default:
		return false
	}
}
