// Package projection keeps cached, change-invalidated snapshots of
// collections and derives related/available element sets from them for
// relation editors.
package projection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/entity"
	"github.com/louisbranch/formdesk/internal/services/formdesk/notify"
	"github.com/louisbranch/formdesk/internal/services/formdesk/storage"
)

// ErrClosed is returned after the cache or a provider is closed.
var ErrClosed = errors.New("projection closed")

// Cache holds one full snapshot per (repository, parent scope). It is the
// only subscriber to each repository's change feed: a change evicts the
// repository's snapshots and then notifies the watchers of each scope.
//
// Repositories are used as map keys, so implementations must be comparable
// (pointer receivers are).
type Cache struct {
	logger *zap.Logger
	group  singleflight.Group

	mu       sync.Mutex
	closed   bool
	nextRepo uint64
	repos    map[storage.Repository]*repoState
}

type repoState struct {
	id      uint64
	gen     uint64
	sub     notify.Subscription
	entries map[string][]entity.Entity

	nextWatcher uint64
	watchers    map[string]map[uint64]func()
}

// NewCache returns an empty cache. A nil logger discards output.
func NewCache(logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		logger: logger,
		repos:  make(map[storage.Repository]*repoState),
	}
}

// Entities returns the snapshot for (repo, parentID), loading it on a miss.
// Concurrent misses share one load. A load that started before an
// invalidation is returned to its callers but never cached.
func (c *Cache) Entities(ctx context.Context, repo storage.Repository, parentID string) ([]entity.Entity, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	st := c.stateLocked(repo)
	if snapshot, ok := st.entries[parentID]; ok {
		c.mu.Unlock()
		return snapshot, nil
	}
	gen := st.gen
	key := fmt.Sprintf("%d/%d/%s", st.id, gen, parentID)
	c.mu.Unlock()

	value, err, _ := c.group.Do(key, func() (any, error) {
		loaded, err := repo.GetAll(ctx, parentID, storage.Query{})
		if err != nil {
			return nil, err
		}
		if loaded == nil {
			loaded = []entity.Entity{}
		}
		c.mu.Lock()
		if !c.closed && st.gen == gen {
			st.entries[parentID] = loaded
		}
		c.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return value.([]entity.Entity), nil
}

// Watch registers fn to run after any change to repo's data affecting the
// parentID scope. fn runs on its own goroutine.
func (c *Cache) Watch(repo storage.Repository, parentID string, fn func()) notify.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return notify.SubscriptionFunc(nil)
	}
	st := c.stateLocked(repo)
	st.nextWatcher++
	id := st.nextWatcher
	if st.watchers[parentID] == nil {
		st.watchers[parentID] = make(map[uint64]func())
	}
	st.watchers[parentID][id] = fn

	var once sync.Once
	return notify.SubscriptionFunc(func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if scoped, ok := st.watchers[parentID]; ok {
				delete(scoped, id)
				if len(scoped) == 0 {
					delete(st.watchers, parentID)
				}
			}
		})
	})
}

// Invalidate evicts repo's snapshots and notifies its watchers.
func (c *Cache) Invalidate(repo storage.Repository) {
	c.mu.Lock()
	st, ok := c.repos[repo]
	if !ok || c.closed {
		c.mu.Unlock()
		return
	}
	fns := c.evictLocked(st)
	c.mu.Unlock()
	for _, fn := range fns {
		go fn()
	}
}

// Close unsubscribes from every repository and drops all snapshots.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for repo, st := range c.repos {
		st.sub.Unsubscribe()
		delete(c.repos, repo)
	}
	return nil
}

func (c *Cache) stateLocked(repo storage.Repository) *repoState {
	st, ok := c.repos[repo]
	if ok {
		return st
	}
	c.nextRepo++
	st = &repoState{
		id:       c.nextRepo,
		entries:  make(map[string][]entity.Entity),
		watchers: make(map[string]map[uint64]func()),
	}
	st.sub = repo.OnChange(func(change storage.Change) {
		c.logger.Debug("projection snapshot invalidated",
			zap.String("collection", change.Collection),
			zap.String("kind", string(change.Kind)),
			zap.String("id", change.ID))
		c.Invalidate(repo)
	})
	c.repos[repo] = st
	return st
}

func (c *Cache) evictLocked(st *repoState) []func() {
	st.gen++
	st.entries = make(map[string][]entity.Entity)
	var fns []func()
	for _, scoped := range st.watchers {
		for _, fn := range scoped {
			fns = append(fns, fn)
		}
	}
	return fns
}
