// Package memory is an in-process storage backend holding documents in maps.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/louisbranch/formdesk/internal/platform/id"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/entity"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/relation"
	"github.com/louisbranch/formdesk/internal/services/formdesk/notify"
	"github.com/louisbranch/formdesk/internal/services/formdesk/storage"
)

type relationKey struct {
	ownerCollection  string
	ownerID          string
	field            string
	targetCollection string
}

// Store holds every collection's documents and relations.
type Store struct {
	mu        sync.Mutex
	docs      map[string][]*entity.Document
	relations map[relationKey][]string
	buses     map[string]*notify.Bus[storage.Change]
	repos     map[string]*Repository
	newID     func() (string, error)
}

// Option customizes a Store.
type Option func(*Store)

// WithIDGenerator overrides identifier generation.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(s *Store) { s.newID = fn }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		docs:      make(map[string][]*entity.Document),
		relations: make(map[relationKey][]string),
		buses:     make(map[string]*notify.Bus[storage.Change]),
		repos:     make(map[string]*Repository),
		newID:     id.NewID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
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

// Seed stores documents as-is without publishing changes. Reference
// fields already present on a seeded owner count as its relations until
// the first relation write for that field.
func (s *Store) Seed(docs ...*entity.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range docs {
		s.docs[doc.Collection] = append(s.docs[doc.Collection], doc.Clone())
	}
}

// SeedRelation records owner's references to targetCollection without
// publishing changes.
func (s *Store) SeedRelation(owner storage.Owner, targetCollection string, ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := relationKey{
		ownerCollection:  owner.Collection,
		ownerID:          owner.ID,
		field:            owner.Field,
		targetCollection: targetCollection,
	}
	s.relations[key] = slices.Clone(ids)
}

func (s *Store) bus(collection string) *notify.Bus[storage.Change] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busLocked(collection)
}

func (s *Store) busLocked(collection string) *notify.Bus[storage.Change] {
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

// Repository is one collection's view of a Store.
type Repository struct {
	store      *Store
	collection string
}

var _ storage.Repository = (*Repository)(nil)

// GetAll returns the collection's documents in insertion order. Filters
// are not supported by this backend and are ignored.
func (r *Repository) GetAll(_ context.Context, parentID string, query storage.Query) ([]entity.Entity, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []entity.Entity
	for _, doc := range r.store.docs[r.collection] {
		if doc.ParentID != parentID {
			continue
		}
		out = append(out, doc.Clone())
		if query.PageSize > 0 && len(out) == query.PageSize {
			break
		}
	}
	return out, nil
}

func (r *Repository) GetByID(_ context.Context, id, parentID string) (entity.Entity, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	doc, _ := r.findLocked(id)
	if doc == nil || (parentID != "" && doc.ParentID != parentID) {
		return nil, storage.ErrNotFound
	}
	return doc.Clone(), nil
}

func (r *Repository) New(_ context.Context, parentID string, variant entity.Variant) (entity.Entity, error) {
	return &entity.Document{
		Collection: r.collection,
		ParentID:   parentID,
		Variant:    variant.Alias,
		Data:       []byte("{}"),
	}, nil
}

func (r *Repository) Insert(_ context.Context, parentID string, e entity.Entity, relations relation.Container) (entity.Entity, error) {
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
			return nil, err
		}
		doc.ID = newID
	}
	if err := applyRelations(doc, relations); err != nil {
		return nil, err
	}

	r.store.mu.Lock()
	if existing, _ := r.findLocked(doc.ID); existing != nil {
		r.store.mu.Unlock()
		return nil, fmt.Errorf("insert %s: duplicate id", doc.Ref())
	}
	r.store.docs[r.collection] = append(r.store.docs[r.collection], doc)
	r.storeRelationsLocked(doc.ID, relations)
	r.store.mu.Unlock()

	r.store.publish(storage.Change{Collection: r.collection, Kind: storage.ChangeInsert, ID: doc.ID, ParentID: parentID})
	return doc.Clone(), nil
}

func (r *Repository) Update(_ context.Context, id, parentID string, e entity.Entity, relations relation.Container) error {
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

	r.store.mu.Lock()
	existing, index := r.findLocked(id)
	if existing == nil {
		r.store.mu.Unlock()
		return storage.ErrNotFound
	}
	r.store.docs[r.collection][index] = doc
	r.storeRelationsLocked(id, relations)
	r.store.mu.Unlock()

	r.store.publish(storage.Change{Collection: r.collection, Kind: storage.ChangeUpdate, ID: id, ParentID: parentID})
	return nil
}

func (r *Repository) Delete(_ context.Context, id, parentID string) error {
	r.store.mu.Lock()
	existing, index := r.findLocked(id)
	if existing == nil {
		r.store.mu.Unlock()
		return storage.ErrNotFound
	}
	r.store.docs[r.collection] = slices.Delete(r.store.docs[r.collection], index, index+1)
	changes := []storage.Change{{Collection: r.collection, Kind: storage.ChangeDelete, ID: id, ParentID: parentID}}
	for key, ids := range r.store.relations {
		if key.ownerCollection == r.collection && key.ownerID == id {
			delete(r.store.relations, key)
			continue
		}
		if key.targetCollection != r.collection || !slices.Contains(ids, id) {
			continue
		}
		ids = slices.DeleteFunc(slices.Clone(ids), func(v string) bool { return v == id })
		r.store.relations[key] = ids
		ownerDoc, _ := r.store.findLocked(key.ownerCollection, key.ownerID)
		if ownerDoc == nil {
			continue
		}
		if err := ownerDoc.Set(key.field, ids); err != nil {
			r.store.mu.Unlock()
			return err
		}
		changes = append(changes, storage.Change{
			Collection: key.ownerCollection, Kind: storage.ChangeUpdate, ID: key.ownerID, ParentID: ownerDoc.ParentID,
		})
	}
	r.store.mu.Unlock()

	r.store.publish(changes...)
	return nil
}

func (r *Repository) GetAllRelated(_ context.Context, owner storage.Owner) ([]entity.Entity, error) {
	return r.partition(owner, true), nil
}

func (r *Repository) GetAllNonRelated(_ context.Context, owner storage.Owner) ([]entity.Entity, error) {
	return r.partition(owner, false), nil
}

func (r *Repository) partition(owner storage.Owner, related bool) []entity.Entity {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	ids := r.relationIDsLocked(owner)
	var out []entity.Entity
	for _, doc := range r.store.docs[r.collection] {
		if slices.Contains(ids, doc.ID) == related {
			out = append(out, doc.Clone())
		}
	}
	return out
}

func (r *Repository) AddRelation(_ context.Context, owner storage.Owner, targetID string) error {
	return r.mutateRelation(owner, targetID, storage.ChangeRelate, func(ids []string) []string {
		if slices.Contains(ids, targetID) {
			return ids
		}
		return append(ids, targetID)
	})
}

func (r *Repository) RemoveRelation(_ context.Context, owner storage.Owner, targetID string) error {
	return r.mutateRelation(owner, targetID, storage.ChangeUnrelate, func(ids []string) []string {
		return slices.DeleteFunc(ids, func(v string) bool { return v == targetID })
	})
}

func (r *Repository) mutateRelation(owner storage.Owner, targetID string, kind storage.ChangeKind, fn func([]string) []string) error {
	r.store.mu.Lock()
	target, _ := r.findLocked(targetID)
	if target == nil {
		r.store.mu.Unlock()
		return storage.ErrNotFound
	}
	ownerDoc, _ := r.store.findLocked(owner.Collection, owner.ID)
	if ownerDoc == nil {
		r.store.mu.Unlock()
		return storage.ErrNotFound
	}
	ids := fn(r.relationIDsLocked(owner))
	r.store.relations[r.keyFor(owner)] = ids
	err := ownerDoc.Set(owner.Field, ids)
	r.store.mu.Unlock()
	if err != nil {
		return err
	}

	r.store.publish(
		storage.Change{Collection: r.collection, Kind: kind, ID: targetID, ParentID: target.ParentID},
		storage.Change{Collection: owner.Collection, Kind: storage.ChangeUpdate, ID: owner.ID, ParentID: ownerDoc.ParentID},
	)
	return nil
}

func (r *Repository) OnChange(fn func(storage.Change)) notify.Subscription {
	return r.store.bus(r.collection).Subscribe(fn)
}

// relationIDsLocked returns a copy of owner's references into this
// collection. Owners never written through a relation call fall back to the
// ids held in their reference field.
func (r *Repository) relationIDsLocked(owner storage.Owner) []string {
	if ids, ok := r.store.relations[r.keyFor(owner)]; ok {
		return slices.Clone(ids)
	}
	ownerDoc, _ := r.store.findLocked(owner.Collection, owner.ID)
	if ownerDoc == nil {
		return []string{}
	}
	ids, err := relation.IDsOf(ownerDoc.Value(owner.Field))
	if err != nil {
		return []string{}
	}
	return ids
}

func (r *Repository) keyFor(owner storage.Owner) relationKey {
	return relationKey{
		ownerCollection:  owner.Collection,
		ownerID:          owner.ID,
		field:            owner.Field,
		targetCollection: r.collection,
	}
}

func (r *Repository) findLocked(id string) (*entity.Document, int) {
	return r.store.findLocked(r.collection, id)
}

func (s *Store) findLocked(collection, id string) (*entity.Document, int) {
	for i, doc := range s.docs[collection] {
		if doc.ID == id {
			return doc, i
		}
	}
	return nil, -1
}

func (r *Repository) storeRelationsLocked(ownerID string, relations relation.Container) {
	for _, rel := range relations.Relations {
		key := relationKey{
			ownerCollection:  r.collection,
			ownerID:          ownerID,
			field:            rel.Field,
			targetCollection: rel.Collection,
		}
		r.store.relations[key] = slices.Clone(rel.IDs)
	}
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
		return nil, fmt.Errorf("memory storage requires *entity.Document, got %T", e)
	}
	return doc, nil
}
