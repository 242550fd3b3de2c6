package projection

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/louisbranch/formdesk/internal/platform/errors"
	"github.com/louisbranch/formdesk/internal/platform/timeouts"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/entity"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/relation"
	"github.com/louisbranch/formdesk/internal/services/formdesk/notify"
	"github.com/louisbranch/formdesk/internal/services/formdesk/storage"
)

// Options configures how a provider reads owners and target entities.
type Options struct {
	// Labels are document paths rendered for each element. Ignored when
	// LabelFunc is set.
	Labels []string
	// LabelFunc computes element labels.
	LabelFunc func(entity.Entity) []string
	// ParentIDOf returns the target collection scope for an owner. Nil
	// means the target collection is unscoped.
	ParentIDOf func(owner entity.Entity) string
	// FieldValue reads a relation field from an owner. Defaults to the
	// decoded document value.
	FieldValue func(owner entity.Entity, field string) any
	Logger     *zap.Logger
}

// Provider is one relation editor's view over a shared snapshot: the full
// element list plus the subset the bound owner references.
type Provider struct {
	cache *Cache
	repo  storage.Repository
	opts  Options

	changed notify.Bus[struct{}]

	mu         sync.Mutex
	closed     bool
	bound      bool
	owner      entity.Entity
	parentID   string
	watch      notify.Subscription
	ownerWatch notify.Subscription
	loadSeq    uint64
	elements   []relation.Element
	relatedIDs []string
	current    []relation.Element
}

// NewProvider returns an unbound provider over repo.
func NewProvider(cache *Cache, repo storage.Repository, opts Options) *Provider {
	if opts.LabelFunc == nil {
		opts.LabelFunc = documentLabels(opts.Labels)
	}
	if opts.ParentIDOf == nil {
		opts.ParentIDOf = func(entity.Entity) string { return "" }
	}
	if opts.FieldValue == nil {
		opts.FieldValue = documentValue
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Provider{cache: cache, repo: repo, opts: opts}
}

// BindOwner loads the snapshot for owner's scope and starts following its
// changes. Rebinding to a different scope moves the watch.
func (p *Provider) BindOwner(ctx context.Context, owner entity.Entity) error {
	parentID := p.opts.ParentIDOf(owner)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.owner = owner
	if !p.bound || parentID != p.parentID {
		if p.watch != nil {
			p.watch.Unsubscribe()
		}
		p.parentID = parentID
		p.watch = p.cache.Watch(p.repo, parentID, p.onChange)
		p.bound = true
	}
	p.mu.Unlock()

	return p.load(ctx)
}

// SetRelationReferences binds owner and takes its field value as the set of
// related ids. The value must be enumerable; see relation.IDsOf.
func (p *Provider) SetRelationReferences(ctx context.Context, owner entity.Entity, field string) error {
	ids, err := relation.IDsOf(p.opts.FieldValue(owner, field))
	if err != nil {
		return err
	}
	if err := p.BindOwner(ctx, owner); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.relatedIDs = ids
	p.current = p.relatedLocked()
	return nil
}

// FollowOwner re-reads the bound owner from owners whenever it is updated
// and takes field as its new set of related ids. Pending element edits are
// replaced by the stored references.
func (p *Provider) FollowOwner(owners storage.Repository, field string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.ownerWatch != nil {
		p.ownerWatch.Unsubscribe()
	}
	p.ownerWatch = owners.OnChange(func(change storage.Change) {
		p.onOwnerChange(owners, field, change)
	})
	return nil
}

// Refresh reloads the snapshot now instead of waiting for a change.
func (p *Provider) Refresh(ctx context.Context) error {
	return p.load(ctx)
}

// AvailableElements returns the full snapshot. It is never nil.
func (p *Provider) AvailableElements() []relation.Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]relation.Element, len(p.elements))
	copy(out, p.elements)
	return out
}

// RelatedElements returns the snapshot elements whose ids are referenced,
// in snapshot order.
func (p *Provider) RelatedElements() []relation.Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.relatedLocked()
}

// CurrentRelatedElements returns the editable related list, including
// pending adds in the order they were made. The result is a copy taken
// now; a later snapshot rebuild replaces the list.
func (p *Provider) CurrentRelatedElements() []relation.Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]relation.Element, len(p.current))
	copy(out, p.current)
	return out
}

// RelatedIDs returns the referenced ids, duplicates included.
func (p *Provider) RelatedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.relatedIDs))
	copy(out, p.relatedIDs)
	return out
}

// AddElement appends the snapshot element with id. Duplicates are kept.
// It is a no-op before an owner is bound.
func (p *Provider) AddElement(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.bound {
		return nil
	}
	el, err := p.findLocked(id)
	if err != nil {
		return err
	}
	p.current = append(p.current, el)
	p.relatedIDs = append(p.relatedIDs, id)
	return nil
}

// RemoveElement strips every related entry with id.
func (p *Provider) RemoveElement(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = slices.DeleteFunc(p.current, func(el relation.Element) bool { return el.ID == id })
	p.relatedIDs = slices.DeleteFunc(p.relatedIDs, func(v string) bool { return v == id })
}

// SetElement replaces the related list with the single element id.
func (p *Provider) SetElement(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.bound {
		return nil
	}
	el, err := p.findLocked(id)
	if err != nil {
		return err
	}
	p.current = []relation.Element{el}
	p.relatedIDs = []string{id}
	return nil
}

// DataChanged registers fn to run after each snapshot rebuild triggered by
// a repository change, and after a followed owner is re-read.
func (p *Provider) DataChanged(fn func()) notify.Subscription {
	return p.changed.Subscribe(func(struct{}) { fn() })
}

// Close stops following changes. Calling Close more than once is a no-op.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.watch != nil {
		p.watch.Unsubscribe()
		p.watch = nil
	}
	if p.ownerWatch != nil {
		p.ownerWatch.Unsubscribe()
		p.ownerWatch = nil
	}
	return nil
}

func (p *Provider) onChange() {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.RelationLoad)
	defer cancel()
	if err := p.load(ctx); err != nil {
		p.opts.Logger.Warn("relation snapshot rebuild failed", zap.Error(err))
		return
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if !closed {
		p.changed.Publish(struct{}{})
	}
}

func (p *Provider) onOwnerChange(owners storage.Repository, field string, change storage.Change) {
	if change.Kind != storage.ChangeUpdate {
		return
	}
	p.mu.Lock()
	owner := p.owner
	closed := p.closed
	p.mu.Unlock()
	if closed || owner == nil || owner.EntityID() != change.ID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeouts.RelationLoad)
	defer cancel()
	fresh, err := owners.GetByID(ctx, change.ID, change.ParentID)
	if err != nil {
		p.opts.Logger.Warn("relation owner reload failed", zap.String("owner_id", change.ID), zap.Error(err))
		return
	}
	if err := p.SetRelationReferences(ctx, fresh, field); err != nil {
		p.opts.Logger.Warn("relation owner references rejected", zap.String("owner_id", change.ID), zap.Error(err))
		return
	}
	p.mu.Lock()
	closed = p.closed
	p.mu.Unlock()
	if !closed {
		p.changed.Publish(struct{}{})
	}
}

func (p *Provider) load(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	if !p.bound {
		p.mu.Unlock()
		return nil
	}
	parentID := p.parentID
	p.loadSeq++
	seq := p.loadSeq
	p.mu.Unlock()

	entities, err := p.cache.Entities(ctx, p.repo, parentID)
	if err != nil {
		return err
	}
	elements := make([]relation.Element, 0, len(entities))
	for _, e := range entities {
		elements = append(elements, relation.Element{ID: e.EntityID(), Labels: p.opts.LabelFunc(e)})
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || seq != p.loadSeq {
		return nil
	}
	p.elements = elements
	p.current = p.relatedLocked()
	return nil
}

func (p *Provider) relatedLocked() []relation.Element {
	out := []relation.Element{}
	if len(p.relatedIDs) == 0 {
		return out
	}
	wanted := make(map[string]struct{}, len(p.relatedIDs))
	for _, id := range p.relatedIDs {
		wanted[id] = struct{}{}
	}
	for _, el := range p.elements {
		if _, ok := wanted[el.ID]; ok {
			out = append(out, el)
		}
	}
	return out
}

func (p *Provider) findLocked(id string) (relation.Element, error) {
	for _, el := range p.elements {
		if el.ID == id {
			return el, nil
		}
	}
	return relation.Element{}, apperrors.WithMetadata(apperrors.CodeNotFound,
		fmt.Sprintf("element %q not in snapshot", id),
		map[string]string{"Resource": "Element"})
}

func documentLabels(paths []string) func(entity.Entity) []string {
	return func(e entity.Entity) []string {
		doc, ok := e.(*entity.Document)
		if !ok || len(paths) == 0 {
			return []string{e.EntityID()}
		}
		labels := make([]string, 0, len(paths))
		for _, path := range paths {
			labels = append(labels, doc.Field(path).String())
		}
		return labels
	}
}

func documentValue(owner entity.Entity, field string) any {
	doc, ok := owner.(*entity.Document)
	if !ok {
		return nil
	}
	return doc.Value(field)
}
