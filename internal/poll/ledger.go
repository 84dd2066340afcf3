package poll

import (
	"context"
	"fmt"
	"time"

	"github.com/apoorv-echos11/polling-app/internal/store"
)

// MarkerTTL bounds how long a vote marker blocks a repeat vote. Markers
// expire rather than live forever so the key space stays proportional to
// recent activity, not all-time activity.
const MarkerTTL = 7 * 24 * time.Hour

// Ledger tracks which voters have already voted on which poll, as expiring
// marker keys in the store.
type Ledger struct {
	store *store.Store
}

// NewLedger builds a ledger over the store.
func NewLedger(st *store.Store) *Ledger {
	return &Ledger{store: st}
}

// Reserve atomically claims the (poll, voter) marker. It returns false when
// the marker already existed. Reserving before any tally mutation is what
// closes the window between two concurrent submissions from the same voter.
func (l *Ledger) Reserve(ctx context.Context, pollID, voterID string) (bool, error) {
	ok, err := l.store.ReserveMarker(ctx, pollID, voterID, MarkerTTL)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ok, nil
}

// Release rolls back a reservation after a failed submission so the voter
// can try again.
func (l *Ledger) Release(ctx context.Context, pollID, voterID string) error {
	if err := l.store.ReleaseMarker(ctx, pollID, voterID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// PurgePoll removes every marker for one poll, current and legacy scheme.
// Returns the number of keys removed.
func (l *Ledger) PurgePoll(ctx context.Context, pollID string) (int, error) {
	purged := 0
	for _, prefix := range []string{store.MarkerPrefix(pollID), store.LegacyMarkerPrefix(pollID)} {
		n, err := l.store.DeleteByPrefix(ctx, prefix)
		if err != nil {
			return purged, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		purged += n
	}
	return purged, nil
}
