package schema

// Document is the YAML declaration of every collection and the role
// policy.
type Document struct {
	Version     string           `yaml:"version"`
	Policy      []PolicyRule     `yaml:"policy,omitempty"`
	Collections []CollectionSpec `yaml:"collections"`

	baseDir string
}

// PolicyRule grants a role an operation on a collection. "*" matches any.
type PolicyRule struct {
	Role       string `yaml:"role"`
	Operation  string `yaml:"operation"`
	Collection string `yaml:"collection"`
}

// CollectionSpec declares one collection.
type CollectionSpec struct {
	Alias      string        `yaml:"alias"`
	Name       string        `yaml:"name,omitempty"`
	Variants   []VariantSpec `yaml:"variants"`
	NodeView   *NodeSpec     `yaml:"node_view,omitempty"`
	NodeEditor *NodeSpec     `yaml:"node_editor,omitempty"`
	ListView   *ListViewSpec `yaml:"list_view,omitempty"`
	ListEditor *ListEditSpec `yaml:"list_editor,omitempty"`
	// Filterable lists document fields usable in list filters.
	Filterable []FilterSpec `yaml:"filterable,omitempty"`
}

// VariantSpec declares an entity variant. The first one is the default.
type VariantSpec struct {
	Alias string `yaml:"alias"`
	Type  string `yaml:"type,omitempty"`
	Name  string `yaml:"name,omitempty"`
}

// FilterSpec declares a filterable field and its value type: string,
// number, or bool.
type FilterSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type,omitempty"`
}

// NodeSpec declares a node view or editor.
type NodeSpec struct {
	Buttons []ButtonSpec `yaml:"buttons,omitempty"`
	Panes   []PaneSpec   `yaml:"panes,omitempty"`
}

// ListViewSpec declares a read-only list.
type ListViewSpec struct {
	Buttons  []ButtonSpec `yaml:"buttons,omitempty"`
	Pane     *PaneSpec    `yaml:"pane,omitempty"`
	PageSize int          `yaml:"page_size,omitempty"`
}

// ListEditSpec declares an inline-editable list.
type ListEditSpec struct {
	Buttons  []ButtonSpec `yaml:"buttons,omitempty"`
	Panes    []PaneSpec   `yaml:"panes,omitempty"`
	PageSize int          `yaml:"page_size,omitempty"`
}

// PaneSpec declares a group of fields and row buttons.
type PaneSpec struct {
	Variant string       `yaml:"variant,omitempty"`
	Fields  []FieldSpec  `yaml:"fields,omitempty"`
	Buttons []ButtonSpec `yaml:"buttons,omitempty"`
}

// FieldSpec declares a field.
type FieldSpec struct {
	Name     string        `yaml:"name"`
	Label    string        `yaml:"label,omitempty"`
	Rules    string        `yaml:"rules,omitempty"`
	Relation *RelationSpec `yaml:"relation,omitempty"`
}

// RelationSpec declares a reference field.
type RelationSpec struct {
	Collection  string   `yaml:"collection"`
	Labels      []string `yaml:"labels,omitempty"`
	ParentField string   `yaml:"parent_field,omitempty"`
}

// ButtonSpec declares either a default button (Default set) or a custom
// one (ID and Crud set, with a Script, ScriptFile, or Handler).
type ButtonSpec struct {
	Default string `yaml:"default,omitempty"`
	ID      string `yaml:"id,omitempty"`
	Label   string `yaml:"label,omitempty"`
	Icon    string `yaml:"icon,omitempty"`
	// Variant is the target variant of New buttons.
	Variant string `yaml:"variant,omitempty"`

	Crud              string   `yaml:"crud,omitempty"`
	RequiresValidForm bool     `yaml:"requires_valid_form,omitempty"`
	Usages            []string `yaml:"usages,omitempty"`
	Script            string   `yaml:"script,omitempty"`
	ScriptFile        string   `yaml:"script_file,omitempty"`
	// Handler names a handler registered in Go.
	Handler string `yaml:"handler,omitempty"`
}
