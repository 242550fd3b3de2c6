package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/louisbranch/formdesk/internal/services/formdesk/authz"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/button"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/collection"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/crud"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/entity"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/relation"
	"github.com/louisbranch/formdesk/internal/services/formdesk/form"
	"github.com/louisbranch/formdesk/internal/services/formdesk/notify"
	"github.com/louisbranch/formdesk/internal/services/formdesk/projection"
	"github.com/louisbranch/formdesk/internal/services/formdesk/storage"
	"github.com/louisbranch/formdesk/internal/services/formdesk/storage/memory"
)

// recorder keeps the order of collaborator calls across fakes.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) index(call string) int {
	for i, c := range r.snapshot() {
		if c == call {
			return i
		}
	}
	return -1
}

func (r *recorder) has(prefix string) bool {
	for _, c := range r.snapshot() {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// recordingRepo logs every call before delegating to the memory backend.
type recordingRepo struct {
	rec   *recorder
	alias string
	next  storage.Repository
}

func (r *recordingRepo) log(op string, args ...string) {
	r.rec.add(op + ":" + r.alias + ":" + strings.Join(args, ","))
}

func (r *recordingRepo) GetAll(ctx context.Context, parentID string, query storage.Query) ([]entity.Entity, error) {
	r.log("getAll", parentID)
	return r.next.GetAll(ctx, parentID, query)
}

func (r *recordingRepo) GetByID(ctx context.Context, id, parentID string) (entity.Entity, error) {
	r.log("getByID", id)
	return r.next.GetByID(ctx, id, parentID)
}

func (r *recordingRepo) New(ctx context.Context, parentID string, variant entity.Variant) (entity.Entity, error) {
	return r.next.New(ctx, parentID, variant)
}

func (r *recordingRepo) Insert(ctx context.Context, parentID string, e entity.Entity, rels relation.Container) (entity.Entity, error) {
	r.log("insert", parentID)
	return r.next.Insert(ctx, parentID, e, rels)
}

func (r *recordingRepo) Update(ctx context.Context, id, parentID string, e entity.Entity, rels relation.Container) error {
	r.log("update", id)
	return r.next.Update(ctx, id, parentID, e, rels)
}

func (r *recordingRepo) Delete(ctx context.Context, id, parentID string) error {
	r.log("delete", id)
	return r.next.Delete(ctx, id, parentID)
}

func (r *recordingRepo) GetAllRelated(ctx context.Context, owner storage.Owner) ([]entity.Entity, error) {
	r.log("getAllRelated", owner.ID)
	return r.next.GetAllRelated(ctx, owner)
}

func (r *recordingRepo) GetAllNonRelated(ctx context.Context, owner storage.Owner) ([]entity.Entity, error) {
	r.log("getAllNonRelated", owner.ID)
	return r.next.GetAllNonRelated(ctx, owner)
}

func (r *recordingRepo) AddRelation(ctx context.Context, owner storage.Owner, targetID string) error {
	r.log("addRelation", owner.ID, targetID)
	return r.next.AddRelation(ctx, owner, targetID)
}

func (r *recordingRepo) RemoveRelation(ctx context.Context, owner storage.Owner, targetID string) error {
	r.log("removeRelation", owner.ID, targetID)
	return r.next.RemoveRelation(ctx, owner, targetID)
}

func (r *recordingRepo) OnChange(fn func(storage.Change)) notify.Subscription {
	return r.next.OnChange(fn)
}

// fakeAuthorizer allows everything except the denied operations.
type fakeAuthorizer struct {
	rec  *recorder
	deny map[authz.Operation]bool
}

func (a *fakeAuthorizer) Authorize(_ context.Context, _ authz.Subject, resource authz.Resource, op authz.Operation) (authz.Decision, error) {
	a.rec.add("authorize:" + string(op))
	if a.deny[op] {
		return authz.Decision{Allowed: false, ReasonCode: authz.ReasonDenyNoMatchingRule}, nil
	}
	return authz.Decision{Allowed: true, ReasonCode: authz.ReasonAllowRole}, nil
}

// handlerCall captures one custom button invocation.
type handlerCall struct {
	parentID string
	id       string
	payload  any
}

type fixture struct {
	engine  *Engine
	store   *memory.Store
	rec     *recorder
	auth    *fakeAuthorizer
	handled *[]handlerCall
	cache   *projection.Cache
}

type fixtureOption func(*Deps)

func withProjections(d *Deps) {
	d.Projections = projection.NewCache(nil)
}

var (
	postVariant = entity.Variant{Alias: "post", Type: "post", Name: "Post"}
	pageVariant = entity.Variant{Alias: "page", Type: "page", Name: "Page"}
	tagVariant  = entity.Variant{Alias: "tag", Type: "tag", Name: "Tag"}
)

func custom(id string, effect crud.Type, handled *[]handlerCall, rec *recorder) button.Button {
	return button.NewCustom(id, id, "", effect, button.HandlerFunc(func(_ context.Context, parentID, entityID string, payload any) error {
		rec.add("handler:" + id)
		*handled = append(*handled, handlerCall{parentID: parentID, id: entityID, payload: payload})
		return nil
	}))
}

// newFixture registers a posts collection with a tags relation field and a
// tags collection, both backed by one memory store. Generated ids are
// "42", "43", and so on.
func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	next := 42
	store := memory.New(memory.WithIDGenerator(func() (string, error) {
		id := fmt.Sprint(next)
		next++
		return id, nil
	}))
	rec := &recorder{}
	handled := &[]handlerCall{}
	repo := func(alias string) storage.Repository {
		return &recordingRepo{rec: rec, alias: alias, next: store.Repository(alias)}
	}

	postVariants, err := entity.NewVariants(postVariant, nil, pageVariant)
	if err != nil {
		t.Fatalf("post variants: %v", err)
	}
	tagVariants, err := entity.NewVariants(tagVariant, nil)
	if err != nil {
		t.Fatalf("tag variants: %v", err)
	}

	fields := []collection.Field{
		{Name: "title", Label: "Title", Rules: "required"},
		{Name: "tags", Label: "Tags", Relation: &collection.RelationField{Collection: "tags", Labels: []string{"name"}}},
	}
	posts := &collection.Collection{
		Alias:      "posts",
		Name:       "Posts",
		Repository: repo("posts"),
		Variants:   postVariants,
		NodeView: &collection.NodeConfig{
			Buttons: []button.Button{button.NewDefault(button.DefaultEdit, "", "", "", nil)},
			Panes:   []collection.Pane{{Fields: fields[:1]}},
		},
		NodeEditor: &collection.NodeConfig{
			Buttons: []button.Button{
				button.NewDefault(button.DefaultSaveNewAndExisting, "", "", "", nil),
				button.NewDefault(button.DefaultDelete, "", "", "", nil),
				button.NewDefault(button.DefaultView, "", "", "", nil),
				custom("publish", crud.Update, handled, rec),
				custom("back", crud.Return, handled, rec),
				custom("ping", crud.None, handled, rec),
				custom("spawn", crud.Create, handled, rec),
			},
			Panes: []collection.Pane{{Fields: fields}},
		},
		ListView: &collection.ListViewConfig{
			Buttons: []button.Button{
				button.NewDefault(button.DefaultNew, "", "", "", pageVariant),
				custom("refresh", crud.Refresh, handled, rec),
			},
			ViewPane: &collection.Pane{
				Fields: fields[:1],
				Buttons: []button.Button{
					button.NewDefault(button.DefaultEdit, "", "", "", nil),
					button.NewDefault(button.DefaultView, "", "", "", nil),
				},
			},
		},
		ListEditor: &collection.ListEditorConfig{
			Buttons: []button.Button{
				button.NewDefault(button.DefaultNew, "", "", "", postVariant),
				custom("close", crud.Return, handled, rec),
			},
			Panes: []collection.Pane{{
				Fields: fields[:1],
				Buttons: []button.Button{
					button.NewDefault(button.DefaultSaveNewAndExisting, "", "", "", nil),
					button.NewDefault(button.DefaultDelete, "", "", "", nil),
				},
			}},
		},
	}
	tagFields := []collection.Field{{Name: "name", Label: "Name", Rules: "required"}}
	tags := &collection.Collection{
		Alias:      "tags",
		Name:       "Tags",
		Repository: repo("tags"),
		Variants:   tagVariants,
		ListView: &collection.ListViewConfig{
			Buttons: []button.Button{
				button.NewDefault(button.DefaultNew, "", "", "", tagVariant),
				custom("attach", crud.Add, handled, rec),
			},
			ViewPane: &collection.Pane{
				Fields: tagFields,
				Buttons: []button.Button{
					custom("pick", crud.Pick, handled, rec),
					custom("link", crud.Add, handled, rec),
					custom("remove", crud.Remove, handled, rec),
				},
			},
		},
		ListEditor: &collection.ListEditorConfig{
			Panes: []collection.Pane{{
				Fields: tagFields,
				Buttons: []button.Button{
					button.NewDefault(button.DefaultSaveNewAndExisting, "", "", "", nil),
					button.NewDefault(button.DefaultDelete, "", "", "", nil),
				},
			}},
		},
	}
	root, err := collection.NewRoot(tags, posts)
	if err != nil {
		t.Fatalf("NewRoot: %v", err)
	}

	auth := &fakeAuthorizer{rec: rec, deny: map[authz.Operation]bool{}}
	deps := Deps{Collections: root, Authorizer: auth, Validator: form.NewRuleValidator()}
	for _, opt := range opts {
		opt(&deps)
	}
	engine, err := New(deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if deps.Projections != nil {
		t.Cleanup(func() { _ = deps.Projections.Close() })
	}
	return &fixture{engine: engine, store: store, rec: rec, auth: auth, handled: handled, cache: deps.Projections}
}

func (f *fixture) seedPost(id, title string) {
	data, _ := json.Marshal(map[string]any{"title": title})
	f.store.Seed(&entity.Document{Collection: "posts", ID: id, Variant: "post", Data: data})
}

func (f *fixture) seedTag(id, name string) {
	data, _ := json.Marshal(map[string]any{"name": name})
	f.store.Seed(&entity.Document{Collection: "tags", ID: id, Variant: "tag", Data: data})
}

func (f *fixture) title(t *testing.T, id string) string {
	t.Helper()
	e, err := f.store.Repository("posts").GetByID(context.Background(), id, "")
	if err != nil {
		t.Fatalf("GetByID(%s): %v", id, err)
	}
	return e.(*entity.Document).Field("title").String()
}

// assertAuthorizedBefore checks that op was authorized before the first
// call starting with mutation.
func assertAuthorizedBefore(t *testing.T, rec *recorder, op authz.Operation, mutation string) {
	t.Helper()
	calls := rec.snapshot()
	authorized := -1
	for i, c := range calls {
		if c == "authorize:"+string(op) && authorized < 0 {
			authorized = i
		}
		if strings.HasPrefix(c, mutation) {
			if authorized < 0 {
				t.Fatalf("%s ran before authorize:%s; calls = %v", mutation, op, calls)
			}
			return
		}
	}
	t.Fatalf("no %s call; calls = %v", mutation, calls)
}
