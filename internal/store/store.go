package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/apoorv-echos11/polling-app/internal/models"
)

// ErrMissing is returned when a key does not exist in the store.
var ErrMissing = errors.New("store: key not found")

// Key layout. Poll documents live under poll:<id> as JSON. Vote markers live
// under pollvote:<pollID>:<voterID> with a TTL; the vote:<pollID>: prefix is
// the retired per-question marker scheme from the single-question era and is
// only ever swept, never written.
const (
	pollPrefix         = "poll:"
	markerPrefix       = "pollvote:"
	legacyMarkerPrefix = "vote:"
)

// PollKey returns the storage key for a poll document.
func PollKey(pollID string) string { return pollPrefix + pollID }

// MarkerKey returns the vote-marker key for a (poll, voter) pair.
func MarkerKey(pollID, voterID string) string {
	return fmt.Sprintf("%s%s:%s", markerPrefix, pollID, voterID)
}

// MarkerPrefix returns the prefix matching every vote marker of a poll.
func MarkerPrefix(pollID string) string { return markerPrefix + pollID + ":" }

// LegacyMarkerPrefix returns the retired marker prefix for a poll, swept on
// deletion and reset so old deployments leave nothing behind.
func LegacyMarkerPrefix(pollID string) string { return legacyMarkerPrefix + pollID + ":" }

// Store is the system of record: a Redis-backed document store for polls plus
// expiring vote markers.
type Store struct {
	rdb *redis.Client
}

// Open connects to Redis at the given URL and verifies the connection.
func Open(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("connected to redis", "addr", opts.Addr)
	return &Store{rdb: rdb}, nil
}

// New wraps an existing client. Used by tests to point the store at miniredis.
func New(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.rdb.Close() }

// GetPoll loads and decodes one poll document. Returns ErrMissing if the key
// is absent.
func (s *Store) GetPoll(ctx context.Context, pollID string) (*models.Poll, error) {
	data, err := s.rdb.Get(ctx, PollKey(pollID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMissing
	}
	if err != nil {
		return nil, fmt.Errorf("get poll %s: %w", pollID, err)
	}
	var poll models.Poll
	if err := json.Unmarshal(data, &poll); err != nil {
		return nil, fmt.Errorf("decode poll %s: %w", pollID, err)
	}
	return &poll, nil
}

// SetPoll encodes and writes one poll document. Poll documents never expire.
func (s *Store) SetPoll(ctx context.Context, poll *models.Poll) error {
	data, err := json.Marshal(poll)
	if err != nil {
		return fmt.Errorf("encode poll %s: %w", poll.ID, err)
	}
	if err := s.rdb.Set(ctx, PollKey(poll.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("set poll %s: %w", poll.ID, err)
	}
	return nil
}

// DeletePoll removes one poll document.
func (s *Store) DeletePoll(ctx context.Context, pollID string) error {
	if err := s.rdb.Del(ctx, PollKey(pollID)).Err(); err != nil {
		return fmt.Errorf("delete poll %s: %w", pollID, err)
	}
	return nil
}

// ListPolls scans the poll namespace and decodes every document. Polls are
// low-cardinality operational objects, so a KEYS scan is acceptable here.
func (s *Store) ListPolls(ctx context.Context) ([]*models.Poll, error) {
	keys, err := s.rdb.Keys(ctx, pollPrefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("scan polls: %w", err)
	}
	polls := make([]*models.Poll, 0, len(keys))
	for _, key := range keys {
		data, err := s.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // deleted between KEYS and GET
		}
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", key, err)
		}
		var poll models.Poll
		if err := json.Unmarshal(data, &poll); err != nil {
			slog.Warn("skipping undecodable poll document", "key", key, "error", err)
			continue
		}
		polls = append(polls, &poll)
	}
	return polls, nil
}

// ReserveMarker atomically writes the vote marker for (poll, voter) with the
// given TTL. Returns false if the marker already existed, meaning this voter
// has already voted on this poll.
func (s *Store) ReserveMarker(ctx context.Context, pollID, voterID string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, MarkerKey(pollID, voterID), "true", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve marker: %w", err)
	}
	return ok, nil
}

// ReleaseMarker removes a marker written by ReserveMarker. Used to roll back
// a reservation when the rest of the submission fails.
func (s *Store) ReleaseMarker(ctx context.Context, pollID, voterID string) error {
	if err := s.rdb.Del(ctx, MarkerKey(pollID, voterID)).Err(); err != nil {
		return fmt.Errorf("release marker: %w", err)
	}
	return nil
}

// HasMarker reports whether a vote marker exists for (poll, voter).
func (s *Store) HasMarker(ctx context.Context, pollID, voterID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, MarkerKey(pollID, voterID)).Result()
	if err != nil {
		return false, fmt.Errorf("check marker: %w", err)
	}
	return n > 0, nil
}

// DeleteByPrefix removes every key under a prefix and reports how many were
// deleted. Used to purge a poll's markers (both key schemes) and for the
// master wipe.
func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := s.rdb.Keys(ctx, prefix+"*").Result()
	if err != nil {
		return 0, fmt.Errorf("scan %s*: %w", prefix, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("delete %s*: %w", prefix, err)
	}
	return len(keys), nil
}
