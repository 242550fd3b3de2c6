// Package editctx defines the per-request bundle of an entity and the UI
// context it is edited in.
package editctx

import (
	"io"

	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/collection"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/entity"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/relation"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/usage"
)

// Validator checks an entity against the fields it is edited with and
// returns a message per invalid field.
type Validator interface {
	Validate(e entity.Entity, fields []collection.Field) map[string]string
}

// RelationSource supplies the current reference ids of a relation field,
// typically a relation editor bound to the entity.
type RelationSource interface {
	RelatedIDs() []string
}

// Context is created for one request and never shared.
type Context struct {
	Entity  entity.Entity
	Variant entity.Variant
	Usage   usage.Usage
	Config  collection.UIConfig

	validator Validator
	errors    map[string]string
	validated bool

	sources map[string]RelationSource
}

// New builds an edit context. A nil validator treats every form as valid.
func New(e entity.Entity, v entity.Variant, u usage.Usage, cfg collection.UIConfig, validator Validator) *Context {
	return &Context{
		Entity:    e,
		Variant:   v,
		Usage:     u,
		Config:    cfg,
		validator: validator,
		sources:   make(map[string]RelationSource),
	}
}

// Fields returns the fields rendered for the context's variant.
func (c *Context) Fields() []collection.Field {
	return collection.Fields(c.Config, c.Variant)
}

// Errors validates once and returns the per-field messages.
func (c *Context) Errors() map[string]string {
	if !c.validated {
		c.validated = true
		if c.validator != nil {
			c.errors = c.validator.Validate(c.Entity, c.Fields())
		}
	}
	return c.errors
}

// IsValid reports whether the entity passes validation.
func (c *Context) IsValid() bool {
	return len(c.Errors()) == 0
}

// SetEntity swaps the entity, for example after binding submitted data,
// and clears cached validation.
func (c *Context) SetEntity(e entity.Entity) {
	c.Entity = e
	c.validated = false
	c.errors = nil
}

// RegisterRelation attaches the source for a relation field.
func (c *Context) RegisterRelation(field string, src RelationSource) {
	c.sources[field] = src
}

// Relation returns the source registered for field.
func (c *Context) Relation(field string) (RelationSource, bool) {
	src, ok := c.sources[field]
	return src, ok
}

// RelationContainer collects the references to persist with the entity.
// Registered sources win; otherwise the entity's own field value is used
// when present. Fields with neither are left untouched.
func (c *Context) RelationContainer() (relation.Container, error) {
	var rels []relation.Relation
	for _, f := range collection.RelationFields(c.Config, c.Variant) {
		if src, ok := c.sources[f.Name]; ok {
			rels = append(rels, relation.Relation{Field: f.Name, Collection: f.Relation.Collection, IDs: src.RelatedIDs()})
			continue
		}
		doc, ok := c.Entity.(*entity.Document)
		if !ok || !doc.Field(f.Name).Exists() {
			continue
		}
		ids, err := relation.IDsOf(doc.Value(f.Name))
		if err != nil {
			return relation.Container{}, err
		}
		rels = append(rels, relation.Relation{Field: f.Name, Collection: f.Relation.Collection, IDs: ids})
	}
	return relation.NewContainer(rels...), nil
}

// Close releases registered sources that hold resources.
func (c *Context) Close() error {
	var first error
	for field, src := range c.sources {
		if closer, ok := src.(io.Closer); ok {
			if err := closer.Close(); err != nil && first == nil {
				first = err
			}
		}
		delete(c.sources, field)
	}
	return first
}
