package render

import (
	"context"
	"strings"
	"testing"

	"github.com/a-h/templ"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/button"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/collection"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/editctx"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/entity"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/usage"
)

type failingValidator struct{}

func (failingValidator) Validate(entity.Entity, []collection.Field) map[string]string {
	return map[string]string{"title": "Title is required"}
}

func renderString(t *testing.T, c templ.Component) string {
	t.Helper()
	var b strings.Builder
	if err := c.Render(context.Background(), &b); err != nil {
		t.Fatalf("render: %v", err)
	}
	return b.String()
}

func postEditor() *collection.NodeConfig {
	return &collection.NodeConfig{
		Buttons: []button.Button{button.NewDefault(button.DefaultSaveNewAndExisting, "", "", "", nil)},
		Panes: []collection.Pane{{
			Fields: []collection.Field{
				{Name: "title", Label: "Title"},
				{Name: "tags", Relation: &collection.RelationField{Collection: "tags"}},
			},
			Buttons: []button.Button{button.NewDefault(button.DefaultDelete, "", "", "", nil)},
		}},
	}
}

func TestRenderNodeSnapshotsAndEscapes(t *testing.T) {
	t.Parallel()

	doc := &entity.Document{Collection: "posts", ID: "p1", Variant: "post", Data: []byte(`{"title":"<b>Hi</b>","tags":["t1","t2"]}`)}
	ec := editctx.New(doc, entity.Variant{Alias: "post"}, usage.Node|usage.Edit, postEditor(), failingValidator{})
	c, err := HTML{}.RenderNode(context.Background(), Node{Collection: &collection.Collection{Alias: "posts"}, Context: ec})
	if err != nil {
		t.Fatalf("RenderNode: %v", err)
	}
	if err := doc.Set("title", "changed"); err != nil {
		t.Fatalf("set: %v", err)
	}

	got := renderString(t, c)
	for _, want := range []string{
		`data-collection="posts"`,
		`data-id="p1"`,
		`value="&lt;b&gt;Hi&lt;/b&gt;"`,
		`value="t1,t2" data-relation="true"`,
		`<p class="field-error">Title is required</p>`,
		`value="save" data-crud="update"`,
		`value="delete" data-crud="delete"`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "changed") {
		t.Fatalf("render leaked a later edit:\n%s", got)
	}
}

func TestRenderNodeNilContext(t *testing.T) {
	t.Parallel()

	c, err := HTML{}.RenderNode(context.Background(), Node{})
	if err != nil {
		t.Fatalf("RenderNode: %v", err)
	}
	if got := renderString(t, c); got != "" {
		t.Fatalf("output = %q, want empty", got)
	}
}

func TestRenderListRowsAndTopButtons(t *testing.T) {
	t.Parallel()

	cfg := &collection.ListViewConfig{
		Buttons: []button.Button{button.NewDefault(button.DefaultNew, "", "", "", entity.Variant{Alias: "post"})},
		ViewPane: &collection.Pane{
			Fields:  []collection.Field{{Name: "title", Label: "Title"}},
			Buttons: []button.Button{button.NewDefault(button.DefaultEdit, "", "", "", nil)},
		},
	}
	var rows []*editctx.Context
	for _, id := range []string{"a", "b"} {
		doc := &entity.Document{ID: id, Variant: "post", Data: []byte(`{"title":"T-` + id + `"}`)}
		rows = append(rows, editctx.New(doc, entity.Variant{Alias: "post"}, usage.Node|usage.Edit, cfg, nil))
	}
	c, err := HTML{}.RenderList(context.Background(), List{
		Collection: &collection.Collection{Alias: "posts"},
		Config:     cfg,
		Usage:      usage.List | usage.Edit,
		Rows:       rows,
	})
	if err != nil {
		t.Fatalf("RenderList: %v", err)
	}
	got := renderString(t, c)
	for _, want := range []string{
		`<th>Title</th>`,
		`<tr data-id="a"`,
		`<td>T-b</td>`,
		`value="new" data-crud="create"`,
		`value="edit" data-crud="read"`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
}
