// Package sqlite provides a SQLite-backed entity storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/formdesk/internal/platform/id"
	sqlitemigrate "github.com/louisbranch/formdesk/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/entity"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/relation"
	"github.com/louisbranch/formdesk/internal/services/formdesk/notify"
	"github.com/louisbranch/formdesk/internal/services/formdesk/storage"
	"github.com/louisbranch/formdesk/internal/services/formdesk/storage/filter"
	"github.com/louisbranch/formdesk/internal/services/formdesk/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists every collection's documents and relations in SQLite.
type Store struct {
	sqlDB *sql.DB
	newID func() (string, error)
	now   func() time.Time

	mu     sync.Mutex
	repos  map[string]*Repository
	buses  map[string]*notify.Bus[storage.Change]
	fields map[string][]filter.Ident
}

// Option customizes a Store.
type Option func(*Store)

// WithIDGenerator overrides identifier generation.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(s *Store) { s.newID = fn }
}

// WithClock overrides the timestamp source.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) { s.now = fn }
}

// WithFilterFields declares the document fields collection can be
// filtered on.
func WithFilterFields(collection string, fields ...filter.Ident) Option {
	return func(s *Store) { s.fields[collection] = append(s.fields[collection], fields...) }
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// Open opens a SQLite entity store and applies embedded migrations.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	s := &Store{
		sqlDB:  sqlDB,
		newID:  id.NewID,
		now:    time.Now,
		repos:  make(map[string]*Repository),
		buses:  make(map[string]*notify.Bus[storage.Change]),
		fields: make(map[string][]filter.Ident),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Repository returns the repository for collection alias. Repeated calls
// return the same instance.
func (s *Store) Repository(alias string) *Repository {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, ok := s.repos[alias]
	if !ok {
		repo = &Repository{store: s, collection: alias}
		s.repos[alias] = repo
	}
	return repo
}

func (s *Store) bus(collection string) *notify.Bus[storage.Change] {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buses[collection]
	if !ok {
		b = &notify.Bus[storage.Change]{}
		s.buses[collection] = b
	}
	return b
}

func (s *Store) publish(changes ...storage.Change) {
	for _, change := range changes {
		s.bus(change.Collection).Publish(change)
	}
}

func (s *Store) filterFields(collection string) []filter.Ident {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fields[collection]
}

// inTx runs fn in a transaction and commits when it returns nil.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Repository is one collection's view of a Store.
type Repository struct {
	store      *Store
	collection string
}

var _ storage.Repository = (*Repository)(nil)

const entityColumns = `id, parent_id, variant, data`

// GetAll returns the collection's documents in creation order.
func (r *Repository) GetAll(ctx context.Context, parentID string, query storage.Query) ([]entity.Entity, error) {
	cond, err := filter.Parse(query.Filter, r.store.filterFields(r.collection))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidQuery, err)
	}
	stmt := `SELECT ` + entityColumns + ` FROM entities WHERE collection = ? AND parent_id = ?`
	args := []any{r.collection, parentID}
	if !cond.Empty() {
		stmt += " AND " + cond.Clause
		args = append(args, cond.Params...)
	}
	stmt += " ORDER BY created_at, rowid"
	if query.PageSize > 0 {
		stmt += " LIMIT ?"
		args = append(args, query.PageSize)
	}
	return r.queryDocuments(ctx, stmt, args...)
}

func (r *Repository) GetByID(ctx context.Context, id, parentID string) (entity.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row := r.store.sqlDB.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE collection = ? AND id = ?`,
		r.collection, id,
	)
	doc, err := r.scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", r.collection, id, err)
	}
	if parentID != "" && doc.ParentID != parentID {
		return nil, storage.ErrNotFound
	}
	return doc, nil
}

func (r *Repository) New(_ context.Context, parentID string, variant entity.Variant) (entity.Entity, error) {
	return &entity.Document{
		Collection: r.collection,
		ParentID:   parentID,
		Variant:    variant.Alias,
		Data:       []byte("{}"),
	}, nil
}

func (r *Repository) Insert(ctx context.Context, parentID string, e entity.Entity, relations relation.Container) (entity.Entity, error) {
	doc, err := asDocument(e)
	if err != nil {
		return nil, err
	}
	doc = doc.Clone()
	doc.Collection = r.collection
	doc.ParentID = parentID
	if doc.ID == "" {
		newID, err := r.store.newID()
		if err != nil {
			return nil, fmt.Errorf("generate id: %w", err)
		}
		doc.ID = newID
	}
	if err := applyRelations(doc, relations); err != nil {
		return nil, err
	}

	now := toMillis(r.store.now())
	err = r.store.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entities (collection, id, parent_id, variant, data, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.collection, doc.ID, doc.ParentID, doc.Variant, string(doc.Data), now, now,
		); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("insert %s: duplicate id", doc.Ref())
			}
			return fmt.Errorf("insert %s: %w", doc.Ref(), err)
		}
		return r.replaceRelations(ctx, tx, doc.ID, relations)
	})
	if err != nil {
		return nil, err
	}

	r.store.publish(storage.Change{Collection: r.collection, Kind: storage.ChangeInsert, ID: doc.ID, ParentID: parentID})
	return doc.Clone(), nil
}

func (r *Repository) Update(ctx context.Context, id, parentID string, e entity.Entity, relations relation.Container) error {
	doc, err := asDocument(e)
	if err != nil {
		return err
	}
	doc = doc.Clone()
	doc.Collection = r.collection
	doc.ID = id
	doc.ParentID = parentID
	if err := applyRelations(doc, relations); err != nil {
		return err
	}

	err = r.store.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE entities SET parent_id = ?, variant = ?, data = ?, updated_at = ?
			 WHERE collection = ? AND id = ?`,
			doc.ParentID, doc.Variant, string(doc.Data), toMillis(r.store.now()), r.collection, id,
		)
		if err != nil {
			return fmt.Errorf("update %s: %w", doc.Ref(), err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return storage.ErrNotFound
		}
		return r.replaceRelations(ctx, tx, id, relations)
	})
	if err != nil {
		return err
	}

	r.store.publish(storage.Change{Collection: r.collection, Kind: storage.ChangeUpdate, ID: id, ParentID: parentID})
	return nil
}

// Delete removes the entity and every relation row touching it. Owners that
// referenced it get their reference field rewritten in the same
// transaction and are published as updated.
func (r *Repository) Delete(ctx context.Context, id, parentID string) error {
	var owners []ownerRef
	err := r.store.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE collection = ? AND id = ?`, r.collection, id)
		if err != nil {
			return fmt.Errorf("delete %s/%s: %w", r.collection, id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return storage.ErrNotFound
		}
		owners, err = referencingOwners(ctx, tx, r.collection, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM relations
			 WHERE (owner_collection = ? AND owner_id = ?) OR (target_collection = ? AND target_id = ?)`,
			r.collection, id, r.collection, id,
		); err != nil {
			return fmt.Errorf("delete relations of %s/%s: %w", r.collection, id, err)
		}
		for i := range owners {
			ownerParent, err := r.rewriteOwnerField(ctx, tx, owners[i].owner)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			owners[i].parentID = ownerParent
			owners[i].rewritten = true
		}
		return nil
	})
	if err != nil {
		return err
	}

	changes := []storage.Change{{Collection: r.collection, Kind: storage.ChangeDelete, ID: id, ParentID: parentID}}
	for _, o := range owners {
		if o.rewritten {
			changes = append(changes, storage.Change{
				Collection: o.owner.Collection, Kind: storage.ChangeUpdate, ID: o.owner.ID, ParentID: o.parentID,
			})
		}
	}
	r.store.publish(changes...)
	return nil
}

type ownerRef struct {
	owner     storage.Owner
	parentID  string
	rewritten bool
}

// referencingOwners lists the owner fields pointing at collection/id,
// excluding the entity's own rows.
func referencingOwners(ctx context.Context, tx *sql.Tx, collection, id string) ([]ownerRef, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT DISTINCT owner_collection, owner_id, field FROM relations
		 WHERE target_collection = ? AND target_id = ?
		   AND NOT (owner_collection = ? AND owner_id = ?)`,
		collection, id, collection, id,
	)
	if err != nil {
		return nil, fmt.Errorf("list referencing owners: %w", err)
	}
	defer rows.Close()
	var out []ownerRef
	for rows.Next() {
		var o storage.Owner
		if err := rows.Scan(&o.Collection, &o.ID, &o.Field); err != nil {
			return nil, fmt.Errorf("scan referencing owner: %w", err)
		}
		out = append(out, ownerRef{owner: o})
	}
	return out, rows.Err()
}

func (r *Repository) GetAllRelated(ctx context.Context, owner storage.Owner) ([]entity.Entity, error) {
	return r.queryDocuments(ctx,
		`SELECT `+entityColumns+` FROM entities e
		 WHERE e.collection = ? AND EXISTS (`+relatedSubquery+`)
		 ORDER BY e.created_at, e.rowid`,
		r.collection, owner.Collection, owner.ID, owner.Field,
	)
}

func (r *Repository) GetAllNonRelated(ctx context.Context, owner storage.Owner) ([]entity.Entity, error) {
	return r.queryDocuments(ctx,
		`SELECT `+entityColumns+` FROM entities e
		 WHERE e.collection = ? AND NOT EXISTS (`+relatedSubquery+`)
		 ORDER BY e.created_at, e.rowid`,
		r.collection, owner.Collection, owner.ID, owner.Field,
	)
}

const relatedSubquery = `SELECT 1 FROM relations r
	WHERE r.owner_collection = ? AND r.owner_id = ? AND r.field = ?
	  AND r.target_collection = e.collection AND r.target_id = e.id`

func (r *Repository) AddRelation(ctx context.Context, owner storage.Owner, targetID string) error {
	return r.mutateRelation(ctx, owner, targetID, storage.ChangeRelate, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO relations (owner_collection, owner_id, field, target_collection, target_id, position)
			 SELECT ?, ?, ?, ?, ?, COALESCE(MAX(position) + 1, 0) FROM relations
			 WHERE owner_collection = ? AND owner_id = ? AND field = ? AND target_collection = ?`,
			owner.Collection, owner.ID, owner.Field, r.collection, targetID,
			owner.Collection, owner.ID, owner.Field, r.collection,
		)
		return err
	})
}

func (r *Repository) RemoveRelation(ctx context.Context, owner storage.Owner, targetID string) error {
	return r.mutateRelation(ctx, owner, targetID, storage.ChangeUnrelate, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM relations
			 WHERE owner_collection = ? AND owner_id = ? AND field = ? AND target_collection = ? AND target_id = ?`,
			owner.Collection, owner.ID, owner.Field, r.collection, targetID,
		)
		return err
	})
}

// mutateRelation applies fn and rewrites the owner's reference field in the
// same transaction.
func (r *Repository) mutateRelation(ctx context.Context, owner storage.Owner, targetID string, kind storage.ChangeKind, fn func(tx *sql.Tx) error) error {
	var targetParent, ownerParent string
	err := r.store.inTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			`SELECT parent_id FROM entities WHERE collection = ? AND id = ?`, r.collection, targetID,
		).Scan(&targetParent); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("load relation target: %w", err)
		}
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM entities WHERE collection = ? AND id = ?`, owner.Collection, owner.ID,
		).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("load relation owner: %w", err)
		}
		if err := fn(tx); err != nil {
			return fmt.Errorf("%s %s/%s: %w", kind, r.collection, targetID, err)
		}
		var err error
		ownerParent, err = r.rewriteOwnerField(ctx, tx, owner)
		return err
	})
	if err != nil {
		return err
	}

	r.store.publish(
		storage.Change{Collection: r.collection, Kind: kind, ID: targetID, ParentID: targetParent},
		storage.Change{Collection: owner.Collection, Kind: storage.ChangeUpdate, ID: owner.ID, ParentID: ownerParent},
	)
	return nil
}

// rewriteOwnerField stores the owner's current relation rows into its
// document field and returns the owner's parent id.
func (r *Repository) rewriteOwnerField(ctx context.Context, tx *sql.Tx, owner storage.Owner) (string, error) {
	var ownerParent, data string
	if err := tx.QueryRowContext(ctx,
		`SELECT parent_id, data FROM entities WHERE collection = ? AND id = ?`, owner.Collection, owner.ID,
	).Scan(&ownerParent, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("load relation owner: %w", err)
	}
	ids, err := relatedIDs(ctx, tx, owner, r.collection)
	if err != nil {
		return "", err
	}
	ownerDoc := &entity.Document{Collection: owner.Collection, ID: owner.ID, Data: []byte(data)}
	if err := ownerDoc.Set(owner.Field, ids); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET data = ?, updated_at = ? WHERE collection = ? AND id = ?`,
		string(ownerDoc.Data), toMillis(r.store.now()), owner.Collection, owner.ID,
	); err != nil {
		return "", fmt.Errorf("update relation owner: %w", err)
	}
	return ownerParent, nil
}

func (r *Repository) OnChange(fn func(storage.Change)) notify.Subscription {
	return r.store.bus(r.collection).Subscribe(fn)
}

func (r *Repository) replaceRelations(ctx context.Context, tx *sql.Tx, ownerID string, relations relation.Container) error {
	for _, rel := range relations.Relations {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM relations WHERE owner_collection = ? AND owner_id = ? AND field = ? AND target_collection = ?`,
			r.collection, ownerID, rel.Field, rel.Collection,
		); err != nil {
			return fmt.Errorf("clear relation %s: %w", rel.Field, err)
		}
		for position, targetID := range rel.IDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO relations (owner_collection, owner_id, field, target_collection, target_id, position)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				r.collection, ownerID, rel.Field, rel.Collection, targetID, position,
			); err != nil {
				return fmt.Errorf("store relation %s: %w", rel.Field, err)
			}
		}
	}
	return nil
}

func relatedIDs(ctx context.Context, tx *sql.Tx, owner storage.Owner, targetCollection string) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT target_id FROM relations
		 WHERE owner_collection = ? AND owner_id = ? AND field = ? AND target_collection = ?
		 ORDER BY position`,
		owner.Collection, owner.ID, owner.Field, targetCollection,
	)
	if err != nil {
		return nil, fmt.Errorf("list relation ids: %w", err)
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan relation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanDocument(row rowScanner) (*entity.Document, error) {
	var (
		doc  entity.Document
		data string
	)
	if err := row.Scan(&doc.ID, &doc.ParentID, &doc.Variant, &data); err != nil {
		return nil, err
	}
	doc.Collection = r.collection
	doc.Data = []byte(data)
	return &doc, nil
}

func (r *Repository) queryDocuments(ctx context.Context, stmt string, args ...any) ([]entity.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := r.store.sqlDB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", r.collection, err)
	}
	defer rows.Close()
	var out []entity.Entity
	for rows.Next() {
		doc, err := r.scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", r.collection, err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", r.collection, err)
	}
	return out, nil
}

func applyRelations(doc *entity.Document, relations relation.Container) error {
	for _, rel := range relations.Relations {
		ids := rel.IDs
		if ids == nil {
			ids = []string{}
		}
		if err := doc.Set(rel.Field, ids); err != nil {
			return err
		}
	}
	return nil
}

func asDocument(e entity.Entity) (*entity.Document, error) {
	doc, ok := e.(*entity.Document)
	if !ok || doc == nil {
		return nil, fmt.Errorf("sqlite storage requires *entity.Document, got %T", e)
	}
	return doc, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
