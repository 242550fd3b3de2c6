package collection

import (
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/button"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/entity"
)

// Field is one editable property of an entity.
type Field struct {
	// Name is the gjson path of the value inside the document.
	Name  string
	Label string
	// Rules is a validator tag, for example "required,max=80".
	Rules string
	// Relation is set for multi-valued references to another collection.
	Relation *RelationField
}

// RelationField configures a reference field.
type RelationField struct {
	// Collection is the alias of the target collection.
	Collection string
	// Labels are the target fields shown for each element.
	Labels []string
	// ParentField is the owner field holding the target's parent scope.
	// Empty means the target collection is unscoped.
	ParentField string
}

// Pane groups fields and row buttons for one variant.
type Pane struct {
	// Variant is the alias the pane applies to. Empty applies to all.
	Variant string
	Fields  []Field
	Buttons []button.Button
}

// AppliesTo reports whether the pane renders for variant v.
func (p Pane) AppliesTo(v entity.Variant) bool {
	return p.Variant == "" || p.Variant == v.Alias
}

// UIConfig is the shared shape of node and list configurations.
type UIConfig interface {
	// TopButtons returns buttons outside any pane.
	TopButtons() []button.Button
	// PaneButtons returns every pane's buttons flattened in pane order.
	PaneButtons() []button.Button
	// PanesFor returns the panes that render for variant v.
	PanesFor(v entity.Variant) []Pane
}

// NodeConfig configures a single-entity view or editor.
type NodeConfig struct {
	Buttons []button.Button
	Panes   []Pane
}

func (c *NodeConfig) TopButtons() []button.Button { return c.Buttons }
func (c *NodeConfig) PaneButtons() []button.Button { return flatten(c.Panes) }
func (c *NodeConfig) PanesFor(v entity.Variant) []Pane { return panesFor(c.Panes, v) }

// ListViewConfig configures a read-only list.
type ListViewConfig struct {
	Buttons  []button.Button
	ViewPane *Pane
	PageSize int
}

func (c *ListViewConfig) TopButtons() []button.Button { return c.Buttons }

func (c *ListViewConfig) PaneButtons() []button.Button {
	if c.ViewPane == nil {
		return nil
	}
	return c.ViewPane.Buttons
}

func (c *ListViewConfig) PanesFor(v entity.Variant) []Pane {
	if c.ViewPane == nil || !c.ViewPane.AppliesTo(v) {
		return nil
	}
	return []Pane{*c.ViewPane}
}

// ListEditorConfig configures an inline-editable list.
type ListEditorConfig struct {
	Buttons  []button.Button
	Panes    []Pane
	PageSize int
}

func (c *ListEditorConfig) TopButtons() []button.Button { return c.Buttons }
func (c *ListEditorConfig) PaneButtons() []button.Button { return flatten(c.Panes) }
func (c *ListEditorConfig) PanesFor(v entity.Variant) []Pane { return panesFor(c.Panes, v) }

// Fields returns the fields rendered for variant v under cfg.
func Fields(cfg UIConfig, v entity.Variant) []Field {
	if IsNil(cfg) {
		return nil
	}
	var out []Field
	for _, pane := range cfg.PanesFor(v) {
		out = append(out, pane.Fields...)
	}
	return out
}

// RelationFields returns the relation fields rendered for variant v.
func RelationFields(cfg UIConfig, v entity.Variant) []Field {
	var out []Field
	for _, f := range Fields(cfg, v) {
		if f.Relation != nil {
			out = append(out, f)
		}
	}
	return out
}

func flatten(panes []Pane) []button.Button {
	var out []button.Button
	for _, p := range panes {
		out = append(out, p.Buttons...)
	}
	return out
}

func panesFor(panes []Pane, v entity.Variant) []Pane {
	var out []Pane
	for _, p := range panes {
		if p.AppliesTo(v) {
			out = append(out, p)
		}
	}
	return out
}

// IsNil reports whether cfg is absent, including typed nil pointers.
func IsNil(cfg UIConfig) bool {
	switch v := cfg.(type) {
	case *NodeConfig:
		return v == nil
	case *ListEditorConfig:
		return v == nil
	case *ListViewConfig:
		return v == nil
	default:
		return cfg == nil
	}
}
