package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/apoorv-echos11/polling-app/internal/models"
	"github.com/apoorv-echos11/polling-app/internal/store"
)

func newTestRepo(t *testing.T) (*Repository, *store.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.New(rdb)
	return NewRepository(st), st, mr
}

func TestRepositoryReadThrough(t *testing.T) {
	repo, st, _ := newTestRepo(t)
	ctx := context.Background()

	// Written behind the repository's back, as another instance would.
	if err := st.SetPoll(ctx, &models.Poll{ID: "p1", Title: "Stored"}); err != nil {
		t.Fatalf("SetPoll: %v", err)
	}

	got, err := repo.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "Stored" {
		t.Errorf("unexpected poll: %+v", got)
	}

	// Now cached: removing the stored copy does not break reads.
	if err := st.DeletePoll(ctx, "p1"); err != nil {
		t.Fatalf("DeletePoll: %v", err)
	}
	if _, err := repo.Get(ctx, "p1"); err != nil {
		t.Errorf("cached read should survive store deletion: %v", err)
	}
}

func TestRepositoryGetMissing(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	if _, err := repo.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRepositoryPutReadYourWrites(t *testing.T) {
	repo, st, _ := newTestRepo(t)
	ctx := context.Background()

	poll := &models.Poll{ID: "p1", Title: "Mine", Active: true}
	if err := repo.Put(ctx, poll); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := repo.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get after Put: %v", err)
	}
	if got != poll {
		t.Error("same-process read should hit the cached instance")
	}

	// And the write went through to the store.
	stored, err := st.GetPoll(ctx, "p1")
	if err != nil {
		t.Fatalf("store GetPoll: %v", err)
	}
	if stored.Title != "Mine" {
		t.Errorf("store copy mismatch: %+v", stored)
	}
}

func TestRepositoryListAllPrefersCached(t *testing.T) {
	repo, st, _ := newTestRepo(t)
	ctx := context.Background()

	cached := &models.Poll{ID: "p1", Title: "Cached", TotalParticipants: 5}
	if err := repo.Put(ctx, cached); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// A stale copy lands in the store, as if written by another instance
	// before ours.
	if err := st.SetPoll(ctx, &models.Poll{ID: "p1", Title: "Stale"}); err != nil {
		t.Fatalf("SetPoll: %v", err)
	}
	if err := st.SetPoll(ctx, &models.Poll{ID: "p2", Title: "Other"}); err != nil {
		t.Fatalf("SetPoll p2: %v", err)
	}

	polls, err := repo.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(polls) != 2 {
		t.Fatalf("expected 2 polls, got %d", len(polls))
	}
	for _, p := range polls {
		if p.ID == "p1" && p.TotalParticipants != 5 {
			t.Error("cached poll should shadow its stored copy")
		}
	}
}

func TestRepositoryDeletePurgesMarkers(t *testing.T) {
	repo, st, _ := newTestRepo(t)
	ctx := context.Background()

	if err := repo.Put(ctx, &models.Poll{ID: "p1", Title: "T"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	st.ReserveMarker(ctx, "p1", "v1", time.Hour)
	st.ReserveMarker(ctx, "p1", "v2", time.Hour)

	purged, err := repo.Delete(ctx, "p1")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if purged != 2 {
		t.Errorf("expected 2 purged markers, got %d", purged)
	}
	if _, err := repo.Get(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestRepositoryPutFailureLeavesCacheUntouched(t *testing.T) {
	repo, _, mr := newTestRepo(t)
	ctx := context.Background()

	original := &models.Poll{ID: "p1", Title: "Original"}
	if err := repo.Put(ctx, original); err != nil {
		t.Fatalf("Put: %v", err)
	}

	mr.SetError("boom")
	if err := repo.Put(ctx, &models.Poll{ID: "p1", Title: "Doomed"}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	mr.SetError("")

	got, err := repo.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != original {
		t.Error("failed write should not replace the cached poll")
	}
	if got.Title != "Original" {
		t.Errorf("cache holds %q, want the pre-failure poll", got.Title)
	}
}
