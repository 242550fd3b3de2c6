// Package collection holds the declarative configuration of each
// collection and the application context that indexes them.
package collection

import (
	"fmt"

	apperrors "github.com/louisbranch/formdesk/internal/platform/errors"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/entity"
	"github.com/louisbranch/formdesk/internal/services/formdesk/storage"
)

// Collection is a registered set of entities and how they are edited.
type Collection struct {
	Alias      string
	Name       string
	Repository storage.Repository
	Variants   *entity.Variants

	NodeView   *NodeConfig
	NodeEditor *NodeConfig
	ListView   *ListViewConfig
	ListEditor *ListEditorConfig
}

// Field finds a field declared in any pane of the collection's configs.
func (c *Collection) Field(name string) (Field, bool) {
	configs := []UIConfig{}
	if c.NodeEditor != nil {
		configs = append(configs, c.NodeEditor)
	}
	if c.NodeView != nil {
		configs = append(configs, c.NodeView)
	}
	if c.ListEditor != nil {
		configs = append(configs, c.ListEditor)
	}
	if c.ListView != nil {
		configs = append(configs, c.ListView)
	}
	for _, cfg := range configs {
		for _, v := range c.Variants.All() {
			for _, f := range Fields(cfg, v) {
				if f.Name == name {
					return f, true
				}
			}
		}
	}
	return Field{}, false
}

// Root is the application context: every collection, indexed by alias.
// It is built once at startup and read-only afterwards.
type Root struct {
	order   []*Collection
	byAlias map[string]*Collection
}

// NewRoot validates and indexes collections.
func NewRoot(collections ...*Collection) (*Root, error) {
	root := &Root{byAlias: make(map[string]*Collection, len(collections))}
	for _, c := range collections {
		if c == nil {
			continue
		}
		if c.Alias == "" {
			return nil, fmt.Errorf("collection alias is required")
		}
		if c.Repository == nil {
			return nil, fmt.Errorf("collection %q: repository is required", c.Alias)
		}
		if c.Variants == nil {
			return nil, fmt.Errorf("collection %q: variants are required", c.Alias)
		}
		if _, exists := root.byAlias[c.Alias]; exists {
			return nil, fmt.Errorf("duplicate collection alias %q", c.Alias)
		}
		root.byAlias[c.Alias] = c
		root.order = append(root.order, c)
	}
	for _, c := range root.order {
		if err := root.checkRelations(c); err != nil {
			return nil, err
		}
	}
	return root, nil
}

func (r *Root) checkRelations(c *Collection) error {
	for _, cfg := range []UIConfig{c.NodeEditor, c.ListEditor} {
		if IsNil(cfg) {
			continue
		}
		for _, v := range c.Variants.All() {
			for _, f := range RelationFields(cfg, v) {
				if _, ok := r.byAlias[f.Relation.Collection]; !ok {
					return fmt.Errorf("collection %q field %q: unknown relation collection %q",
						c.Alias, f.Name, f.Relation.Collection)
				}
			}
		}
	}
	return nil
}

// Collection returns the collection registered under alias.
func (r *Root) Collection(alias string) (*Collection, error) {
	c, ok := r.byAlias[alias]
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeNotFound,
			fmt.Sprintf("collection %q not found", alias),
			map[string]string{"Resource": "Collection"})
	}
	return c, nil
}

// Collections returns every collection in registration order.
func (r *Root) Collections() []*Collection {
	out := make([]*Collection, len(r.order))
	copy(out, r.order)
	return out
}
