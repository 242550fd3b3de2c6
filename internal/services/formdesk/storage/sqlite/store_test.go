package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/entity"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/relation"
	"github.com/louisbranch/formdesk/internal/services/formdesk/storage"
	"github.com/louisbranch/formdesk/internal/services/formdesk/storage/filter"
)

func openTempStore(t *testing.T, opts ...Option) *Store {
	t.Helper()

	next := 0
	tick := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	base := []Option{
		WithIDGenerator(func() (string, error) {
			next++
			return fmt.Sprintf("id-%d", next), nil
		}),
		WithClock(func() time.Time {
			tick = tick.Add(time.Millisecond)
			return tick
		}),
	}
	store, err := Open(filepath.Join(t.TempDir(), "formdesk.db"), append(base, opts...)...)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func insertDoc(t *testing.T, repo *Repository, parentID, data string) string {
	t.Helper()
	e, err := repo.Insert(context.Background(), parentID, &entity.Document{Variant: "default", Data: []byte(data)}, relation.Container{})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return e.EntityID()
}

func ids(entities []entity.Entity) []string {
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.EntityID())
	}
	return out
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestRepositoryIsCachedPerAlias(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	if store.Repository("posts") != store.Repository("posts") {
		t.Fatal("expected the same repository instance")
	}
}

func TestRepositoryCRUDRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTempStore(t)
	posts := store.Repository("posts")

	var changes []storage.ChangeKind
	sub := posts.OnChange(func(c storage.Change) { changes = append(changes, c.Kind) })
	defer sub.Unsubscribe()

	fresh, err := posts.New(ctx, "blog-1", entity.Variant{Alias: "post"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	doc := fresh.(*entity.Document)
	if err := doc.Set("title", "Hello"); err != nil {
		t.Fatalf("set: %v", err)
	}
	tags := relation.NewContainer(relation.Relation{Field: "tags", Collection: "tags", IDs: []string{"t2", "t1"}})
	inserted, err := posts.Insert(ctx, "blog-1", doc, tags)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if inserted.EntityID() != "id-1" {
		t.Fatalf("inserted id = %q", inserted.EntityID())
	}

	loaded, err := posts.GetByID(ctx, "id-1", "blog-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	loadedDoc := loaded.(*entity.Document)
	if loadedDoc.Variant != "post" || loadedDoc.ParentID != "blog-1" {
		t.Fatalf("loaded = %+v", loadedDoc)
	}
	if loadedDoc.Field("title").String() != "Hello" || loadedDoc.Field("tags.0").String() != "t2" {
		t.Fatalf("loaded data = %s", loadedDoc.Data)
	}
	if _, err := posts.GetByID(ctx, "id-1", "other"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found under another parent, got %v", err)
	}

	if err := loadedDoc.Set("title", "Bye"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := posts.Update(ctx, "id-1", "blog-1", loadedDoc, relation.Container{}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := posts.Update(ctx, "missing", "blog-1", loadedDoc, relation.Container{}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found on update, got %v", err)
	}

	all, err := posts.GetAll(ctx, "blog-1", storage.Query{})
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(all) != 1 || all[0].(*entity.Document).Field("title").String() != "Bye" {
		t.Fatalf("get all = %v", all)
	}
	if unscoped, err := posts.GetAll(ctx, "", storage.Query{}); err != nil || len(unscoped) != 0 {
		t.Fatalf("unscoped get all = %v, %v", unscoped, err)
	}

	if err := posts.Delete(ctx, "id-1", "blog-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := posts.Delete(ctx, "id-1", "blog-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}

	want := []storage.ChangeKind{storage.ChangeInsert, storage.ChangeUpdate, storage.ChangeDelete}
	if !reflect.DeepEqual(changes, want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
}

func TestGetAllFilterAndPageSize(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTempStore(t, WithFilterFields("posts", filter.Ident{Name: "status"}))
	posts := store.Repository("posts")
	insertDoc(t, posts, "", `{"status":"draft"}`)
	insertDoc(t, posts, "", `{"status":"live"}`)
	insertDoc(t, posts, "", `{"status":"draft"}`)

	drafts, err := posts.GetAll(ctx, "", storage.Query{Filter: `status = "draft"`})
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if got := ids(drafts); !reflect.DeepEqual(got, []string{"id-1", "id-3"}) {
		t.Fatalf("drafts = %v", got)
	}

	page, err := posts.GetAll(ctx, "", storage.Query{PageSize: 2})
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if got := ids(page); !reflect.DeepEqual(got, []string{"id-1", "id-2"}) {
		t.Fatalf("page = %v", got)
	}

	if _, err := posts.GetAll(ctx, "", storage.Query{Filter: `secret = "x"`}); !errors.Is(err, storage.ErrInvalidQuery) {
		t.Fatalf("expected invalid query, got %v", err)
	}
}

func TestRelationsPartitionAndOwnerField(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTempStore(t)
	posts := store.Repository("posts")
	tags := store.Repository("tags")

	t1 := insertDoc(t, tags, "", `{"name":"go"}`)
	t2 := insertDoc(t, tags, "", `{"name":"sql"}`)
	t3 := insertDoc(t, tags, "", `{"name":"lua"}`)
	postID := insertDoc(t, posts, "", `{"title":"Hello"}`)
	owner := storage.Owner{Collection: "posts", ID: postID, Field: "tags"}

	var tagChanges, postChanges []storage.ChangeKind
	defer tags.OnChange(func(c storage.Change) { tagChanges = append(tagChanges, c.Kind) }).Unsubscribe()
	defer posts.OnChange(func(c storage.Change) { postChanges = append(postChanges, c.Kind) }).Unsubscribe()

	for _, target := range []string{t3, t1, t3} {
		if err := tags.AddRelation(ctx, owner, target); err != nil {
			t.Fatalf("add relation %s: %v", target, err)
		}
	}
	related, err := tags.GetAllRelated(ctx, owner)
	if err != nil {
		t.Fatalf("related: %v", err)
	}
	if got := ids(related); !reflect.DeepEqual(got, []string{t1, t3}) {
		t.Fatalf("related = %v", got)
	}
	nonRelated, err := tags.GetAllNonRelated(ctx, owner)
	if err != nil {
		t.Fatalf("non related: %v", err)
	}
	if got := ids(nonRelated); !reflect.DeepEqual(got, []string{t2}) {
		t.Fatalf("non related = %v", got)
	}

	post, err := posts.GetByID(ctx, postID, "")
	if err != nil {
		t.Fatalf("get post: %v", err)
	}
	refs, err := relation.IDsOf(post.(*entity.Document).Value("tags"))
	if err != nil {
		t.Fatalf("ids of: %v", err)
	}
	if !reflect.DeepEqual(refs, []string{t3, t1}) {
		t.Fatalf("owner field = %v, want insertion order", refs)
	}

	if err := tags.RemoveRelation(ctx, owner, t3); err != nil {
		t.Fatalf("remove relation: %v", err)
	}
	if err := tags.AddRelation(ctx, owner, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found for missing target, got %v", err)
	}
	if err := tags.AddRelation(ctx, storage.Owner{Collection: "posts", ID: "nope", Field: "tags"}, t1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found for missing owner, got %v", err)
	}

	wantTags := []storage.ChangeKind{storage.ChangeRelate, storage.ChangeRelate, storage.ChangeRelate, storage.ChangeUnrelate}
	if !reflect.DeepEqual(tagChanges, wantTags) {
		t.Fatalf("tag changes = %v", tagChanges)
	}
	if len(postChanges) != len(wantTags) {
		t.Fatalf("post changes = %v", postChanges)
	}
}

func TestDeleteCascadesRelations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTempStore(t)
	posts := store.Repository("posts")
	tags := store.Repository("tags")

	t1 := insertDoc(t, tags, "", `{}`)
	postID := insertDoc(t, posts, "", `{}`)
	owner := storage.Owner{Collection: "posts", ID: postID, Field: "tags"}
	if err := tags.AddRelation(ctx, owner, t1); err != nil {
		t.Fatalf("add relation: %v", err)
	}
	t2 := insertDoc(t, tags, "", `{}`)
	if err := tags.AddRelation(ctx, owner, t2); err != nil {
		t.Fatalf("add relation: %v", err)
	}

	var ownerChanges []storage.Change
	sub := posts.OnChange(func(c storage.Change) { ownerChanges = append(ownerChanges, c) })
	defer sub.Unsubscribe()

	if err := tags.Delete(ctx, t1, ""); err != nil {
		t.Fatalf("delete: %v", err)
	}
	related, err := tags.GetAllRelated(ctx, owner)
	if err != nil {
		t.Fatalf("related: %v", err)
	}
	if got := ids(related); len(got) != 1 || got[0] != t2 {
		t.Fatalf("related after delete = %v", got)
	}

	post, err := posts.GetByID(ctx, postID, "")
	if err != nil {
		t.Fatalf("get owner: %v", err)
	}
	refs, err := relation.IDsOf(post.(*entity.Document).Value("tags"))
	if err != nil {
		t.Fatalf("owner refs: %v", err)
	}
	if len(refs) != 1 || refs[0] != t2 {
		t.Fatalf("owner tags = %v, want [%s]", refs, t2)
	}
	if len(ownerChanges) != 1 || ownerChanges[0].Kind != storage.ChangeUpdate || ownerChanges[0].ID != postID {
		t.Fatalf("owner changes = %+v", ownerChanges)
	}

	// The next owner save must not bring the deleted target back.
	if err := posts.Update(ctx, postID, "", post, relation.NewContainer(relation.Relation{Field: "tags", Collection: "tags", IDs: refs})); err != nil {
		t.Fatalf("update owner: %v", err)
	}
	related, err = tags.GetAllRelated(ctx, owner)
	if err != nil {
		t.Fatalf("related: %v", err)
	}
	if got := ids(related); len(got) != 1 || got[0] != t2 {
		t.Fatalf("related after owner update = %v", got)
	}
}
