package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/button"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/collection"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/crud"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/entity"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/usage"
	"github.com/louisbranch/formdesk/internal/services/formdesk/script"
	"github.com/louisbranch/formdesk/internal/services/formdesk/storage"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// BuildOptions supplies the runtime collaborators of declared collections.
type BuildOptions struct {
	// Repository returns the repository backing a collection alias.
	Repository func(alias string) storage.Repository
	// Handlers resolves custom buttons declared with a handler name.
	Handlers map[string]button.Handler
	Logger   *zap.Logger
}

// Build turns a validated declaration into the collection registry.
func Build(doc *Document, opts BuildOptions) (*collection.Root, error) {
	if doc == nil {
		return nil, fmt.Errorf("schema document is required")
	}
	if opts.Repository == nil {
		return nil, fmt.Errorf("repository source is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	b := builder{doc: doc, opts: opts, title: cases.Title(language.English)}

	cols := make([]*collection.Collection, 0, len(doc.Collections))
	for _, spec := range doc.Collections {
		col, err := b.collection(spec)
		if err != nil {
			return nil, fmt.Errorf("collection %q: %w", spec.Alias, err)
		}
		cols = append(cols, col)
	}
	return collection.NewRoot(cols...)
}

type builder struct {
	doc   *Document
	opts  BuildOptions
	title cases.Caser
}

func (b *builder) collection(spec CollectionSpec) (*collection.Collection, error) {
	variants := make([]entity.Variant, 0, len(spec.Variants))
	for _, v := range spec.Variants {
		name := v.Name
		if name == "" {
			name = b.humanize(v.Alias)
		}
		variants = append(variants, entity.Variant{Alias: v.Alias, Type: v.Type, Name: name})
	}
	registry, err := entity.NewVariants(variants[0], nil, variants[1:]...)
	if err != nil {
		return nil, err
	}
	repo := b.opts.Repository(spec.Alias)
	if repo == nil {
		return nil, fmt.Errorf("no repository")
	}
	name := spec.Name
	if name == "" {
		name = b.humanize(spec.Alias)
	}
	col := &collection.Collection{Alias: spec.Alias, Name: name, Repository: repo, Variants: registry}

	if spec.NodeView != nil {
		if col.NodeView, err = b.node(*spec.NodeView, registry); err != nil {
			return nil, fmt.Errorf("node_view: %w", err)
		}
	}
	if spec.NodeEditor != nil {
		if col.NodeEditor, err = b.node(*spec.NodeEditor, registry); err != nil {
			return nil, fmt.Errorf("node_editor: %w", err)
		}
	}
	if lv := spec.ListView; lv != nil {
		cfg := &collection.ListViewConfig{PageSize: lv.PageSize}
		if cfg.Buttons, err = b.buttons(lv.Buttons, registry); err != nil {
			return nil, fmt.Errorf("list_view: %w", err)
		}
		if lv.Pane != nil {
			pane, err := b.pane(*lv.Pane, registry)
			if err != nil {
				return nil, fmt.Errorf("list_view: %w", err)
			}
			cfg.ViewPane = &pane
		}
		col.ListView = cfg
	}
	if le := spec.ListEditor; le != nil {
		cfg := &collection.ListEditorConfig{PageSize: le.PageSize}
		if cfg.Buttons, err = b.buttons(le.Buttons, registry); err != nil {
			return nil, fmt.Errorf("list_editor: %w", err)
		}
		if cfg.Panes, err = b.panes(le.Panes, registry); err != nil {
			return nil, fmt.Errorf("list_editor: %w", err)
		}
		col.ListEditor = cfg
	}
	return col, nil
}

func (b *builder) node(spec NodeSpec, variants *entity.Variants) (*collection.NodeConfig, error) {
	buttons, err := b.buttons(spec.Buttons, variants)
	if err != nil {
		return nil, err
	}
	panes, err := b.panes(spec.Panes, variants)
	if err != nil {
		return nil, err
	}
	return &collection.NodeConfig{Buttons: buttons, Panes: panes}, nil
}

func (b *builder) panes(specs []PaneSpec, variants *entity.Variants) ([]collection.Pane, error) {
	out := make([]collection.Pane, 0, len(specs))
	for _, spec := range specs {
		pane, err := b.pane(spec, variants)
		if err != nil {
			return nil, err
		}
		out = append(out, pane)
	}
	return out, nil
}

func (b *builder) pane(spec PaneSpec, variants *entity.Variants) (collection.Pane, error) {
	if spec.Variant != "" {
		if _, err := variants.Resolve(spec.Variant); err != nil {
			return collection.Pane{}, fmt.Errorf("pane variant %q: %w", spec.Variant, err)
		}
	}
	pane := collection.Pane{Variant: spec.Variant}
	for _, f := range spec.Fields {
		field := collection.Field{Name: f.Name, Label: f.Label, Rules: f.Rules}
		if field.Label == "" {
			field.Label = b.humanize(f.Name)
		}
		if f.Relation != nil {
			field.Relation = &collection.RelationField{
				Collection:  f.Relation.Collection,
				Labels:      append([]string(nil), f.Relation.Labels...),
				ParentField: f.Relation.ParentField,
			}
		}
		pane.Fields = append(pane.Fields, field)
	}
	buttons, err := b.buttons(spec.Buttons, variants)
	if err != nil {
		return collection.Pane{}, err
	}
	pane.Buttons = buttons
	return pane, nil
}

func (b *builder) buttons(specs []ButtonSpec, variants *entity.Variants) ([]button.Button, error) {
	out := make([]button.Button, 0, len(specs))
	for _, spec := range specs {
		btn, err := b.button(spec, variants)
		if err != nil {
			return nil, err
		}
		out = append(out, btn)
	}
	return out, nil
}

func (b *builder) button(spec ButtonSpec, variants *entity.Variants) (button.Button, error) {
	if spec.Default != "" {
		t, ok := button.ParseDefaultType(spec.Default)
		if !ok {
			return button.Button{}, fmt.Errorf("unknown default button %q", spec.Default)
		}
		var metadata any
		if t == button.DefaultNew {
			v, err := variants.Resolve(spec.Variant)
			if err != nil {
				return button.Button{}, fmt.Errorf("button %q: %w", spec.Default, err)
			}
			metadata = v
		}
		return button.NewDefault(t, spec.ID, spec.Label, spec.Icon, metadata), nil
	}

	effect, ok := crud.Parse(spec.Crud)
	if !ok {
		return button.Button{}, fmt.Errorf("button %q: unknown crud effect %q", spec.ID, spec.Crud)
	}
	handler, err := b.handler(spec)
	if err != nil {
		return button.Button{}, err
	}
	label := spec.Label
	if label == "" {
		label = b.humanize(spec.ID)
	}
	btn := button.NewCustom(spec.ID, label, spec.Icon, effect, handler)
	btn.RequiresValidForm = spec.RequiresValidForm
	if effect == crud.Create {
		v, err := variants.Resolve(spec.Variant)
		if err != nil {
			return button.Button{}, fmt.Errorf("button %q: %w", spec.ID, err)
		}
		btn.Metadata = v
	}
	for _, name := range spec.Usages {
		u, err := usage.Parse(name)
		if err != nil {
			return button.Button{}, fmt.Errorf("button %q: %w", spec.ID, err)
		}
		btn.Usages = append(btn.Usages, u)
	}
	return btn, nil
}

func (b *builder) handler(spec ButtonSpec) (button.Handler, error) {
	switch {
	case spec.Handler != "":
		h, ok := b.opts.Handlers[spec.Handler]
		if !ok {
			return nil, fmt.Errorf("button %q: handler %q is not registered", spec.ID, spec.Handler)
		}
		return h, nil
	case spec.ScriptFile != "":
		path := spec.ScriptFile
		if !filepath.IsAbs(path) && b.doc.baseDir != "" {
			path = filepath.Join(b.doc.baseDir, path)
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("button %q: read script: %w", spec.ID, err)
		}
		return script.NewLuaHandler(spec.ID, string(src), b.opts.Logger)
	case strings.TrimSpace(spec.Script) != "":
		return script.NewLuaHandler(spec.ID, spec.Script, b.opts.Logger)
	default:
		return nil, nil
	}
}

// humanize turns "author_name" or "meta.author_name" into "Author Name".
func (b *builder) humanize(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	return b.title.String(name)
}
