package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

// WaitingEntry is one participant waiting for the host to let them in.
type WaitingEntry struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	RequestedAt time.Time `json:"requested_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// WaitingStore keeps pending entry requests and the host's decisions per meeting.
// Put is an upsert keyed by user id, so a waiting list never holds one
// user twice no matter how often they poll. It reports whether the entry is new.
// An entry not refreshed within the store's ttl counts as new again.
type WaitingStore interface {
	Put(ctx context.Context, meeting string, entry WaitingEntry) (bool, error)
	List(ctx context.Context, meeting string, since time.Time) ([]WaitingEntry, error)
	Admit(ctx context.Context, meeting string, user string) error
	IsAdmitted(ctx context.Context, meeting string, user string) (bool, error)
	Deny(ctx context.Context, meeting string, user string) error
	IsDenied(ctx context.Context, meeting string, user string) (bool, error)
	Sweep(ctx context.Context, before time.Time) (int64, error)
}

func isStaleEntry(prev WaitingEntry, now time.Time, ttl time.Duration) bool {
	return ttl > 0 && prev.LastSeenAt.Before(now.Add(-ttl))
}

// Memory implementation

type memoryWaitingStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	pending  map[string]map[string]WaitingEntry
	admitted map[string]map[string]struct{}
	denied   map[string]map[string]struct{}
}

func NewMemoryWaitingStore(ttl time.Duration) WaitingStore {
	return &memoryWaitingStore{
		ttl:      ttl,
		pending:  make(map[string]map[string]WaitingEntry),
		admitted: make(map[string]map[string]struct{}),
		denied:   make(map[string]map[string]struct{}),
	}
}

func (v *memoryWaitingStore) Put(_ context.Context, meeting string, entry WaitingEntry) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.pending[meeting]; !ok {
		v.pending[meeting] = make(map[string]WaitingEntry)
	}
	prev, exists := v.pending[meeting][entry.ID]
	fresh := exists && !isStaleEntry(prev, entry.LastSeenAt, v.ttl)
	if fresh {
		entry.RequestedAt = prev.RequestedAt
	}
	v.pending[meeting][entry.ID] = entry
	return !fresh, nil
}

func (v *memoryWaitingStore) List(_ context.Context, meeting string, since time.Time) ([]WaitingEntry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	entries := lo.Filter(lo.Values(v.pending[meeting]), func(item WaitingEntry, _ int) bool {
		return !item.LastSeenAt.Before(since)
	})
	sortWaitingEntries(entries)
	return entries, nil
}

func addMember(sets map[string]map[string]struct{}, meeting, user string) {
	if _, ok := sets[meeting]; !ok {
		sets[meeting] = make(map[string]struct{})
	}
	sets[meeting][user] = struct{}{}
}

func (v *memoryWaitingStore) Admit(_ context.Context, meeting string, user string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.pending[meeting], user)
	delete(v.denied[meeting], user)
	addMember(v.admitted, meeting, user)
	return nil
}

func (v *memoryWaitingStore) IsAdmitted(_ context.Context, meeting string, user string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.admitted[meeting][user]
	return ok, nil
}

func (v *memoryWaitingStore) Deny(_ context.Context, meeting string, user string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.pending[meeting], user)
	delete(v.admitted[meeting], user)
	addMember(v.denied, meeting, user)
	return nil
}

func (v *memoryWaitingStore) IsDenied(_ context.Context, meeting string, user string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.denied[meeting][user]
	return ok, nil
}

func (v *memoryWaitingStore) Sweep(_ context.Context, before time.Time) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var count int64
	for meeting, entries := range v.pending {
		for id, entry := range entries {
			if entry.LastSeenAt.Before(before) {
				delete(entries, id)
				count++
			}
		}
		if len(entries) == 0 {
			delete(v.pending, meeting)
		}
	}
	return count, nil
}

// Redis implementation
//
// waiting:<meeting>          sorted set, member user id, score last poll (unix ms)
// waiting:<meeting>:entries  hash, user id -> entry json
// waiting:<meeting>:admitted set of user ids
// waiting:<meeting>:denied   set of user ids
// waiting:meetings           set of meetings with pending entries

type redisWaitingStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisWaitingStore keeps pending keys alive for ten request ttls
// after the last poll, decisions for a day.
func NewRedisWaitingStore(rdb *redis.Client, ttl time.Duration) WaitingStore {
	return &redisWaitingStore{rdb: rdb, ttl: ttl}
}

func waitingKey(meeting string) string         { return fmt.Sprintf("waiting:%s", meeting) }
func waitingEntriesKey(meeting string) string  { return fmt.Sprintf("waiting:%s:entries", meeting) }
func waitingAdmittedKey(meeting string) string { return fmt.Sprintf("waiting:%s:admitted", meeting) }
func waitingDeniedKey(meeting string) string   { return fmt.Sprintf("waiting:%s:denied", meeting) }

const (
	waitingMeetingsKey = "waiting:meetings"
	waitingDecisionTTL = 24 * time.Hour
	waitingPutAttempts = 5
)

func (v *redisWaitingStore) Put(ctx context.Context, meeting string, entry WaitingEntry) (bool, error) {
	for attempt := 0; attempt < waitingPutAttempts; attempt++ {
		created, err := v.put(ctx, meeting, entry)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return created, err
	}
	return false, redis.TxFailedErr
}

// put reads and writes the entry under WATCH, so of two polls racing
// on a new entry only one reports it as created.
func (v *redisWaitingStore) put(ctx context.Context, meeting string, entry WaitingEntry) (bool, error) {
	created := true
	err := v.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, waitingEntriesKey(meeting), entry.ID).Result()
		if err == nil {
			var prev WaitingEntry
			if jsoniter.UnmarshalFromString(raw, &prev) == nil && !isStaleEntry(prev, entry.LastSeenAt, v.ttl) {
				entry.RequestedAt = prev.RequestedAt
				created = false
			}
		} else if !errors.Is(err, redis.Nil) {
			return err
		}

		data, err := jsoniter.MarshalToString(entry)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZAdd(ctx, waitingKey(meeting), redis.Z{Score: float64(entry.LastSeenAt.UnixMilli()), Member: entry.ID})
			pipe.HSet(ctx, waitingEntriesKey(meeting), entry.ID, data)
			pipe.SAdd(ctx, waitingMeetingsKey, meeting)
			if v.ttl > 0 {
				pipe.Expire(ctx, waitingKey(meeting), 10*v.ttl)
				pipe.Expire(ctx, waitingEntriesKey(meeting), 10*v.ttl)
			}
			return nil
		})
		return err
	}, waitingEntriesKey(meeting))
	return created, err
}

func (v *redisWaitingStore) List(ctx context.Context, meeting string, since time.Time) ([]WaitingEntry, error) {
	ids, err := v.rdb.ZRangeByScore(ctx, waitingKey(meeting), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", since.UnixMilli()),
		Max: "+inf",
	}).Result()
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	raws, err := v.rdb.HMGet(ctx, waitingEntriesKey(meeting), ids...).Result()
	if err != nil {
		return nil, err
	}

	var entries []WaitingEntry
	for _, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var entry WaitingEntry
		if err := jsoniter.UnmarshalFromString(str, &entry); err == nil {
			entries = append(entries, entry)
		}
	}
	sortWaitingEntries(entries)
	return entries, nil
}

func (v *redisWaitingStore) Admit(ctx context.Context, meeting string, user string) error {
	_, err := v.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, waitingKey(meeting), user)
		pipe.HDel(ctx, waitingEntriesKey(meeting), user)
		pipe.SRem(ctx, waitingDeniedKey(meeting), user)
		pipe.SAdd(ctx, waitingAdmittedKey(meeting), user)
		pipe.Expire(ctx, waitingAdmittedKey(meeting), waitingDecisionTTL)
		return nil
	})
	return err
}

func (v *redisWaitingStore) IsAdmitted(ctx context.Context, meeting string, user string) (bool, error) {
	return v.rdb.SIsMember(ctx, waitingAdmittedKey(meeting), user).Result()
}

func (v *redisWaitingStore) Deny(ctx context.Context, meeting string, user string) error {
	_, err := v.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, waitingKey(meeting), user)
		pipe.HDel(ctx, waitingEntriesKey(meeting), user)
		pipe.SRem(ctx, waitingAdmittedKey(meeting), user)
		pipe.SAdd(ctx, waitingDeniedKey(meeting), user)
		pipe.Expire(ctx, waitingDeniedKey(meeting), waitingDecisionTTL)
		return nil
	})
	return err
}

func (v *redisWaitingStore) IsDenied(ctx context.Context, meeting string, user string) (bool, error) {
	return v.rdb.SIsMember(ctx, waitingDeniedKey(meeting), user).Result()
}

func (v *redisWaitingStore) Sweep(ctx context.Context, before time.Time) (int64, error) {
	meetings, err := v.rdb.SMembers(ctx, waitingMeetingsKey).Result()
	if err != nil {
		return 0, err
	}

	var count int64
	upper := fmt.Sprintf("(%d", before.UnixMilli())
	for _, meeting := range meetings {
		stale, err := v.rdb.ZRangeByScore(ctx, waitingKey(meeting), &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
		if err != nil {
			return count, err
		}
		if len(stale) > 0 {
			if err := v.rdb.HDel(ctx, waitingEntriesKey(meeting), stale...).Err(); err != nil {
				return count, err
			}
			removed, err := v.rdb.ZRemRangeByScore(ctx, waitingKey(meeting), "-inf", upper).Result()
			if err != nil {
				return count, err
			}
			count += removed
		}
		if left, err := v.rdb.ZCard(ctx, waitingKey(meeting)).Result(); err == nil && left == 0 {
			v.rdb.SRem(ctx, waitingMeetingsKey, meeting)
		}
	}
	return count, nil
}

func sortWaitingEntries(entries []WaitingEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].RequestedAt.Equal(entries[j].RequestedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].RequestedAt.Before(entries[j].RequestedAt)
	})
}
