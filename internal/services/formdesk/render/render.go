// Package render turns edit contexts into HTML components.
package render

import (
	"context"
	"io"
	"strings"

	"github.com/a-h/templ"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/button"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/collection"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/editctx"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/entity"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/relation"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/usage"
)

// Node is the input for rendering one entity.
type Node struct {
	Collection *collection.Collection
	Context    *editctx.Context
}

// List is the input for rendering a collection of rows.
type List struct {
	Collection *collection.Collection
	Config     collection.UIConfig
	Usage      usage.Usage
	Rows       []*editctx.Context
}

// Renderer produces opaque UI descriptions.
type Renderer interface {
	RenderNode(ctx context.Context, node Node) (templ.Component, error)
	RenderList(ctx context.Context, list List) (templ.Component, error)
}

// HTML renders plain semantic HTML fragments. Values are captured when the
// component is built, so later entity edits do not leak into it.
type HTML struct{}

var _ Renderer = HTML{}

type fieldView struct {
	name     string
	label    string
	value    string
	errorMsg string
	relation bool
}

type buttonView struct {
	id    string
	label string
	icon  string
	crud  string
}

type nodeView struct {
	collection string
	variant    string
	id         string
	usage      string
	fields     []fieldView
	buttons    []buttonView
}

// RenderNode implements Renderer.
func (HTML) RenderNode(_ context.Context, node Node) (templ.Component, error) {
	if node.Context == nil {
		return templ.NopComponent, nil
	}
	view := snapshotNode(node.Collection, node.Context, true)
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		return writeNode(w, view)
	}), nil
}

// RenderList implements Renderer.
func (HTML) RenderList(_ context.Context, list List) (templ.Component, error) {
	alias := ""
	if list.Collection != nil {
		alias = list.Collection.Alias
	}
	top := buttonViews(topButtons(list.Config), list.Usage)
	rows := make([]nodeView, 0, len(list.Rows))
	var columns []string
	for _, row := range list.Rows {
		view := snapshotNode(list.Collection, row, false)
		if columns == nil {
			for _, f := range view.fields {
				columns = append(columns, f.label)
			}
		}
		rows = append(rows, view)
	}
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		return writeList(w, alias, list.Usage.String(), columns, top, rows)
	}), nil
}

func topButtons(cfg collection.UIConfig) []button.Button {
	if collection.IsNil(cfg) {
		return nil
	}
	return cfg.TopButtons()
}

func snapshotNode(col *collection.Collection, ec *editctx.Context, withTop bool) nodeView {
	view := nodeView{
		variant: ec.Variant.Alias,
		usage:   ec.Usage.String(),
	}
	if col != nil {
		view.collection = col.Alias
	}
	if ec.Entity != nil {
		view.id = ec.Entity.EntityID()
	}
	errs := ec.Errors()
	for _, f := range ec.Fields() {
		view.fields = append(view.fields, fieldView{
			name:     f.Name,
			label:    labelOf(f),
			value:    valueOf(ec.Entity, f),
			errorMsg: errs[f.Name],
			relation: f.Relation != nil,
		})
	}
	var buttons []button.Button
	if withTop {
		buttons = append(buttons, topButtons(ec.Config)...)
	}
	for _, pane := range panesFor(ec) {
		buttons = append(buttons, pane.Buttons...)
	}
	view.buttons = buttonViews(buttons, ec.Usage)
	return view
}

func panesFor(ec *editctx.Context) []collection.Pane {
	if collection.IsNil(ec.Config) {
		return nil
	}
	return ec.Config.PanesFor(ec.Variant)
}

func buttonViews(buttons []button.Button, u usage.Usage) []buttonView {
	var out []buttonView
	for _, b := range button.Filter(buttons, u) {
		out = append(out, buttonView{id: b.ID, label: b.Label, icon: b.Icon, crud: b.CrudType(u).String()})
	}
	return out
}

func labelOf(f collection.Field) string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

func valueOf(e entity.Entity, f collection.Field) string {
	doc, ok := e.(*entity.Document)
	if !ok {
		return ""
	}
	if f.Relation != nil {
		ids, err := relation.IDsOf(doc.Value(f.Name))
		if err != nil {
			return ""
		}
		return strings.Join(ids, ",")
	}
	return doc.Field(f.Name).String()
}

func writeNode(w io.Writer, view nodeView) error {
	var b strings.Builder
	b.WriteString(`<form class="node" method="post"`)
	attr(&b, "data-collection", view.collection)
	attr(&b, "data-variant", view.variant)
	attr(&b, "data-usage", view.usage)
	if view.id != "" {
		attr(&b, "data-id", view.id)
	}
	b.WriteString(">")
	for _, f := range view.fields {
		b.WriteString(`<label>`)
		b.WriteString(templ.EscapeString(f.label))
		b.WriteString(`<input`)
		attr(&b, "name", f.name)
		attr(&b, "value", f.value)
		if f.relation {
			attr(&b, "data-relation", "true")
		}
		b.WriteString(`></label>`)
		if f.errorMsg != "" {
			b.WriteString(`<p class="field-error">`)
			b.WriteString(templ.EscapeString(f.errorMsg))
			b.WriteString(`</p>`)
		}
	}
	writeButtons(&b, view.buttons)
	b.WriteString(`</form>`)
	_, err := io.WriteString(w, b.String())
	return err
}

func writeList(w io.Writer, alias, usageName string, columns []string, top []buttonView, rows []nodeView) error {
	var b strings.Builder
	b.WriteString(`<section class="list"`)
	attr(&b, "data-collection", alias)
	attr(&b, "data-usage", usageName)
	b.WriteString(">")
	writeButtons(&b, top)
	b.WriteString(`<table><thead><tr>`)
	for _, c := range columns {
		b.WriteString(`<th>`)
		b.WriteString(templ.EscapeString(c))
		b.WriteString(`</th>`)
	}
	b.WriteString(`<th></th></tr></thead><tbody>`)
	for _, row := range rows {
		b.WriteString(`<tr`)
		attr(&b, "data-id", row.id)
		attr(&b, "data-variant", row.variant)
		attr(&b, "data-usage", row.usage)
		b.WriteString(">")
		for _, f := range row.fields {
			b.WriteString(`<td>`)
			b.WriteString(templ.EscapeString(f.value))
			b.WriteString(`</td>`)
		}
		b.WriteString(`<td>`)
		writeButtons(&b, row.buttons)
		b.WriteString(`</td></tr>`)
	}
	b.WriteString(`</tbody></table></section>`)
	_, err := io.WriteString(w, b.String())
	return err
}

func writeButtons(b *strings.Builder, buttons []buttonView) {
	for _, btn := range buttons {
		b.WriteString(`<button type="submit" name="button"`)
		attr(b, "value", btn.id)
		attr(b, "data-crud", btn.crud)
		if btn.icon != "" {
			attr(b, "data-icon", btn.icon)
		}
		b.WriteString(">")
		b.WriteString(templ.EscapeString(btn.label))
		b.WriteString(`</button>`)
	}
}

func attr(b *strings.Builder, name, value string) {
	b.WriteString(" ")
	b.WriteString(name)
	b.WriteString(`="`)
	b.WriteString(templ.EscapeString(value))
	b.WriteString(`"`)
}
