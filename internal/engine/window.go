package engine

import (
	"hash/maphash"
	"sync"
	"time"
)

// hashSeed is the global seed for maphash operations, initialized once at
// package load for consistent shard selection across the process lifetime.
var hashSeed = maphash.MakeSeed()

func shardHash(s string) uint64 {
	var h maphash.Hash
	h.SetSeed(hashSeed)
	h.WriteString(s)
	return h.Sum64()
}

// keyWindow is the per-key timestamp deque, ordered oldest-first.
// Timestamps are Unix nanoseconds.
//
// Thread Safety: NOT thread-safe. Caller must hold the shard lock.
type keyWindow struct {
	ts []int64
}

// insert places t in sorted position. Streams are roughly ordered, so the
// common case is a plain append; small clock skew between log sources is
// absorbed by scanning back from the tail.
func (k *keyWindow) insert(t int64) {
	n := len(k.ts)
	if n == 0 || k.ts[n-1] <= t {
		k.ts = append(k.ts, t)
		return
	}
	i := n
	for i > 0 && k.ts[i-1] > t {
		i--
	}
	k.ts = append(k.ts, 0)
	copy(k.ts[i+1:], k.ts[i:])
	k.ts[i] = t
}

// evict drops timestamps strictly older than cutoff. The retained range is
// [cutoff, ...], keeping the window boundary inclusive.
func (k *keyWindow) evict(cutoff int64) {
	drop := 0
	for drop < len(k.ts) && k.ts[drop] < cutoff {
		drop++
	}
	if drop > 0 {
		k.ts = k.ts[:copy(k.ts, k.ts[drop:])]
	}
}

// windowShard holds the key map for one shard of the tracker.
type windowShard struct {
	mu   sync.Mutex
	keys map[string]*keyWindow
}

// SlidingWindowTracker maintains per-key (source address) timestamped
// event logs and counts events within a trailing window.
//
// Invariant: after any access to a key, all retained timestamps for that
// key lie within [reference - window, reference], where reference is the
// newest timestamp seen (on Record) or the supplied now (on queries).
// Eviction is lazy and amortized O(1) per Record because timestamps are
// non-decreasing apart from small skew.
//
// Thread Safety: all methods are safe for concurrent use. Keys are
// distributed over shards to reduce lock contention.
type SlidingWindowTracker struct {
	window     time.Duration
	shards     []*windowShard
	shardCount int
}

const defaultShardCount = 16

// NewSlidingWindowTracker creates a tracker counting events over the given
// trailing window.
func NewSlidingWindowTracker(window time.Duration) *SlidingWindowTracker {
	return NewShardedWindowTracker(window, defaultShardCount)
}

// NewShardedWindowTracker creates a tracker with an explicit shard count.
func NewShardedWindowTracker(window time.Duration, shardCount int) *SlidingWindowTracker {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	shards := make([]*windowShard, shardCount)
	for i := range shards {
		shards[i] = &windowShard{keys: make(map[string]*keyWindow)}
	}
	return &SlidingWindowTracker{
		window:     window,
		shards:     shards,
		shardCount: shardCount,
	}
}

func (t *SlidingWindowTracker) shard(key string) *windowShard {
	return t.shards[shardHash(key)%uint64(t.shardCount)]
}

// Record appends an event for key at ts and evicts entries that have
// fallen out of the window relative to the newest timestamp for the key.
func (t *SlidingWindowTracker) Record(key string, ts time.Time) {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	kw, ok := s.keys[key]
	if !ok {
		kw = &keyWindow{}
		s.keys[key] = kw
	}
	kw.insert(ts.UnixNano())

	newest := kw.ts[len(kw.ts)-1]
	kw.evict(newest - t.window.Nanoseconds())
}

// CountInWindow returns the number of retained events for key with
// timestamps in [now - window, now]. Stale entries are evicted first;
// events newer than now (skewed ahead) are retained but not counted.
func (t *SlidingWindowTracker) CountInWindow(key string, now time.Time) int {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	kw, ok := s.keys[key]
	if !ok {
		return 0
	}

	limit := now.UnixNano()
	kw.evict(limit - t.window.Nanoseconds())

	count := 0
	for _, v := range kw.ts {
		if v <= limit {
			count++
		}
	}
	return count
}

// PruneIdle removes keys with no retained events as of now, bounding
// memory under sustained low or no traffic.
//
// Returns the number of keys removed.
func (t *SlidingWindowTracker) PruneIdle(now time.Time) int {
	cutoff := now.UnixNano() - t.window.Nanoseconds()
	pruned := 0
	for _, s := range t.shards {
		s.mu.Lock()
		for key, kw := range s.keys {
			kw.evict(cutoff)
			if len(kw.ts) == 0 {
				delete(s.keys, key)
				pruned++
			}
		}
		s.mu.Unlock()
	}
	return pruned
}

// Reset discards all retained events for key. Used on manual unblock so an
// operator decision is not immediately overturned by stale window history.
func (t *SlidingWindowTracker) Reset(key string) {
	s := t.shard(key)
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()
}

// KeyCount returns the number of tracked keys across all shards.
func (t *SlidingWindowTracker) KeyCount() int {
	total := 0
	for _, s := range t.shards {
		s.mu.Lock()
		total += len(s.keys)
		s.mu.Unlock()
	}
	return total
}

// Window returns the configured window duration.
func (t *SlidingWindowTracker) Window() time.Duration {
	return t.window
}
