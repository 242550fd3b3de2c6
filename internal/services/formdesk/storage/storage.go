// Package storage defines the persistence contract collections read and
// write through.
package storage

import (
	"context"
	"errors"

	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/entity"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/relation"
	"github.com/louisbranch/formdesk/internal/services/formdesk/notify"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidQuery indicates a filter the backend cannot evaluate.
	ErrInvalidQuery = errors.New("invalid query")
)

// Query narrows GetAll results.
type Query struct {
	// Filter is an AIP-160 expression over the collection's fields.
	Filter string
	// PageSize caps the result; zero means no cap.
	PageSize int
}

// Owner addresses the relation field of an owning entity.
type Owner struct {
	Collection string
	ID         string
	Field      string
}

// ChangeKind describes a committed write.
type ChangeKind string

const (
	ChangeInsert   ChangeKind = "insert"
	ChangeUpdate   ChangeKind = "update"
	ChangeDelete   ChangeKind = "delete"
	ChangeRelate   ChangeKind = "relate"
	ChangeUnrelate ChangeKind = "unrelate"
)

// Change is published after every committed write affecting a collection.
type Change struct {
	Collection string
	Kind       ChangeKind
	ID         string
	ParentID   string
}

// Repository reads and writes one collection. An empty parentID means the
// unscoped collection.
type Repository interface {
	GetAll(ctx context.Context, parentID string, query Query) ([]entity.Entity, error)
	GetByID(ctx context.Context, id, parentID string) (entity.Entity, error)
	New(ctx context.Context, parentID string, variant entity.Variant) (entity.Entity, error)
	Insert(ctx context.Context, parentID string, e entity.Entity, relations relation.Container) (entity.Entity, error)
	Update(ctx context.Context, id, parentID string, e entity.Entity, relations relation.Container) error
	Delete(ctx context.Context, id, parentID string) error

	GetAllRelated(ctx context.Context, owner Owner) ([]entity.Entity, error)
	GetAllNonRelated(ctx context.Context, owner Owner) ([]entity.Entity, error)
	AddRelation(ctx context.Context, owner Owner, targetID string) error
	RemoveRelation(ctx context.Context, owner Owner, targetID string) error

	// OnChange registers fn for every committed write affecting this
	// collection, including relation writes made through other
	// repositories.
	OnChange(fn func(Change)) notify.Subscription
}
