package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/apoorv-echos11/polling-app/internal/models"
	"github.com/apoorv-echos11/polling-app/internal/store"
)

// Repository resolves polls through an in-process cache backed by the store.
// Reads fall back to the store on a cache miss and populate the cache; writes
// go through to both synchronously so a successful Put is immediately visible
// to later reads in the same process.
type Repository struct {
	mu    sync.RWMutex
	cache map[string]*models.Poll
	store *store.Store
}

// NewRepository builds a repository over a store with an empty cache.
func NewRepository(st *store.Store) *Repository {
	return &Repository{
		cache: make(map[string]*models.Poll),
		store: st,
	}
}

// Get resolves one poll: cache first, then store. Returns ErrNotFound when
// neither has it. A store failure on a cache miss surfaces as
// ErrStoreUnavailable; with a cache hit the store is never consulted.
func (r *Repository) Get(ctx context.Context, pollID string) (*models.Poll, error) {
	r.mu.RLock()
	cached, ok := r.cache[pollID]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	poll, err := r.store.GetPoll(ctx, pollID)
	if errors.Is(err, store.ErrMissing) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	r.mu.Lock()
	r.cache[pollID] = poll
	r.mu.Unlock()
	return poll, nil
}

// Put writes a poll to store and cache. The store write is awaited before
// returning so callers can treat success as durable, and the cache entry is
// only replaced after it succeeds: a failed write leaves the previous copy
// in place instead of caching state the store never saw.
func (r *Repository) Put(ctx context.Context, poll *models.Poll) error {
	if err := r.store.SetPoll(ctx, poll); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	r.mu.Lock()
	r.cache[poll.ID] = poll
	r.mu.Unlock()
	return nil
}

// ListAll enumerates every poll in the store and backfills the cache with any
// the process has not seen yet. Cached polls win over their stored copy so a
// just-written poll is not shadowed by a stale read.
func (r *Repository) ListAll(ctx context.Context) ([]*models.Poll, error) {
	stored, err := r.store.ListPolls(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Poll, 0, len(stored))
	for _, poll := range stored {
		if cached, ok := r.cache[poll.ID]; ok {
			out = append(out, cached)
			continue
		}
		r.cache[poll.ID] = poll
		out = append(out, poll)
	}
	return out, nil
}

// Cached returns a snapshot of every poll currently in the cache. The
// deactivation sweep walks this before reconciling against the store, since
// cache and store can disagree after multi-instance operation.
func (r *Repository) Cached() []*models.Poll {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Poll, 0, len(r.cache))
	for _, poll := range r.cache {
		out = append(out, poll)
	}
	return out
}

// Delete removes a poll from cache and store and purges all its vote markers
// under both the current and the legacy key scheme. Returns how many marker
// keys were purged.
func (r *Repository) Delete(ctx context.Context, pollID string) (int, error) {
	r.mu.Lock()
	delete(r.cache, pollID)
	r.mu.Unlock()

	if err := r.store.DeletePoll(ctx, pollID); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	purged := 0
	for _, prefix := range []string{store.MarkerPrefix(pollID), store.LegacyMarkerPrefix(pollID)} {
		n, err := r.store.DeleteByPrefix(ctx, prefix)
		if err != nil {
			return purged, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		purged += n
	}
	return purged, nil
}

// Reset empties the cache. Used by the master wipe.
func (r *Repository) Reset() {
	r.mu.Lock()
	r.cache = make(map[string]*models.Poll)
	r.mu.Unlock()
}
