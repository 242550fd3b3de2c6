package button

import (
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/crud"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/usage"
)

// DefaultType identifies a built-in button.
type DefaultType int

const (
	DefaultNone DefaultType = iota
	DefaultNew
	DefaultSaveNew
	DefaultSaveExisting
	DefaultSaveNewAndExisting
	DefaultDelete
	DefaultEdit
	DefaultView
)

type defaultSpec struct {
	name   string
	label  string
	icon   string
	usages []usage.Usage
	valid  bool
}

var defaultSpecs = map[DefaultType]defaultSpec{
	DefaultNew: {
		name: "new", label: "New", icon: "plus",
		usages: []usage.Usage{usage.List},
	},
	DefaultSaveNew: {
		name: "save-new", label: "Insert", icon: "hard-drive",
		usages: []usage.Usage{usage.New}, valid: true,
	},
	DefaultSaveExisting: {
		name: "save-existing", label: "Update", icon: "hard-drive",
		usages: []usage.Usage{usage.Edit | usage.Node}, valid: true,
	},
	DefaultSaveNewAndExisting: {
		name: "save", label: "Save", icon: "hard-drive",
		usages: []usage.Usage{usage.New | usage.Node, usage.Edit | usage.Node}, valid: true,
	},
	DefaultDelete: {
		name: "delete", label: "Delete", icon: "trash",
		usages: []usage.Usage{usage.Edit | usage.Node, usage.View | usage.Node},
	},
	DefaultEdit: {
		name: "edit", label: "Edit", icon: "pencil",
		usages: []usage.Usage{usage.List, usage.Node | usage.Edit, usage.Node | usage.View},
	},
	DefaultView: {
		name: "view", label: "View", icon: "magnifying-glass",
		usages: []usage.Usage{usage.List, usage.Node | usage.Edit, usage.Node | usage.View},
	},
}

// CrudType returns the effect of the default button in context u. Only
// SaveNewAndExisting depends on the context.
func (t DefaultType) CrudType(u usage.Usage) crud.Type {
	switch t {
	case DefaultNew:
		return crud.Create
	case DefaultSaveNew:
		return crud.Insert
	case DefaultSaveExisting:
		return crud.Update
	case DefaultSaveNewAndExisting:
		if u.Has(usage.New) {
			return crud.Insert
		}
		return crud.Update
	case DefaultDelete:
		return crud.Delete
	case DefaultEdit:
		return crud.Read
	case DefaultView:
		return crud.View
	default:
		return crud.Unspecified
	}
}

// String returns the declaration name, for example "save-new".
func (t DefaultType) String() string {
	if spec, ok := defaultSpecs[t]; ok {
		return spec.name
	}
	return "none"
}

// ParseDefaultType resolves a declaration name.
func ParseDefaultType(name string) (DefaultType, bool) {
	for t, spec := range defaultSpecs {
		if spec.name == name {
			return t, true
		}
	}
	return DefaultNone, false
}

// NewDefault builds a default button. Empty id, label, or icon take the
// type's defaults. metadata is the target variant of a New button.
func NewDefault(t DefaultType, id, label, icon string, metadata any) Button {
	spec := defaultSpecs[t]
	if id == "" {
		id = spec.name
	}
	if label == "" {
		label = spec.label
	}
	if icon == "" {
		icon = spec.icon
	}
	return Button{
		ID:                id,
		Kind:              KindDefault,
		Label:             label,
		Icon:              icon,
		DefaultType:       t,
		RequiresValidForm: spec.valid,
		Metadata:          metadata,
		Usages:            append([]usage.Usage(nil), spec.usages...),
	}
}
