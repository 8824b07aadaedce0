package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/sshwarden/sshwarden/internal/domain"
)

// DefaultMaxBlockLifetime caps how far a block's expiry can drift from its
// creation instant, regardless of how many re-triggers extend it. It also
// bounds the damage of a system clock jumping backward: an entry can never
// look valid for longer than the cap, measured from CreatedAt.
const DefaultMaxBlockLifetime = 7 * 24 * time.Hour

// BlockRegistry owns the live map of blocked addresses. All mutations run
// in a single-writer critical section; values handed out are copies, never
// references into the map.
type BlockRegistry struct {
	mu          sync.Mutex
	entries     map[string]*domain.BlockEntry
	whitelist   *WhitelistIndex
	maxLifetime time.Duration
	generation  uint64
}

// NewBlockRegistry creates a registry that refuses to block addresses
// matched by whitelist. maxLifetime <= 0 selects DefaultMaxBlockLifetime.
func NewBlockRegistry(whitelist *WhitelistIndex, maxLifetime time.Duration) *BlockRegistry {
	if maxLifetime <= 0 {
		maxLifetime = DefaultMaxBlockLifetime
	}
	return &BlockRegistry{
		entries:     make(map[string]*domain.BlockEntry),
		whitelist:   whitelist,
		maxLifetime: maxLifetime,
	}
}

// capExpiry bounds expiry to createdAt + maxLifetime.
func (r *BlockRegistry) capExpiry(createdAt, expiresAt time.Time) time.Time {
	cap := createdAt.Add(r.maxLifetime)
	if expiresAt.After(cap) {
		return cap
	}
	return expiresAt
}

// Block creates or extends the block for address.
//
// Semantics:
//   - Whitelisted address: refused, applied=false, zero entry.
//   - Already blocked: expiry extended to max(existing, now+duration),
//     TriggerCount incremented, applied=false. The caller must NOT issue a
//     new enforcement action; the address is already enforced.
//   - Otherwise: new entry, applied=true. The caller must invoke the
//     enforcement adapter.
//
// Two near-simultaneous threshold evaluations are benign: the second call
// lands on the already-blocked path and extends instead of duplicating.
func (r *BlockRegistry) Block(address string, duration time.Duration, reason domain.BlockReason) (applied bool, entry domain.BlockEntry) {
	if r.whitelist != nil && r.whitelist.IsWhitelisted(address) {
		return false, domain.BlockEntry{}
	}

	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[address]; ok && !existing.Expired(now) {
		next := r.capExpiry(existing.CreatedAt, now.Add(duration))
		if next.After(existing.ExpiresAt) {
			existing.ExpiresAt = next
		}
		existing.TriggerCount++
		r.generation++
		return false, *existing
	}

	created := &domain.BlockEntry{
		Address:      address,
		CreatedAt:    now,
		ExpiresAt:    r.capExpiry(now, now.Add(duration)),
		TriggerCount: 1,
		Reason:       reason,
	}
	r.entries[address] = created
	r.generation++
	return true, *created
}

// Unblock removes the entry for address, reporting whether it existed.
// The caller invokes de-enforcement only when this returns true.
func (r *BlockRegistry) Unblock(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[address]; !ok {
		return false
	}
	delete(r.entries, address)
	r.generation++
	return true
}

// IsBlocked reports whether address has a live (unexpired) entry.
func (r *BlockRegistry) IsBlocked(address string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[address]
	return ok && !entry.Expired(now)
}

// Get returns a copy of the entry for address, if present.
func (r *BlockRegistry) Get(address string) (domain.BlockEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[address]
	if !ok {
		return domain.BlockEntry{}, false
	}
	return *entry, true
}

// SweepExpired removes and returns all entries whose expiry has passed.
// The caller must de-enforce each returned address.
func (r *BlockRegistry) SweepExpired(now time.Time) []domain.BlockEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []domain.BlockEntry
	for address, entry := range r.entries {
		if entry.Expired(now) {
			expired = append(expired, *entry)
			delete(r.entries, address)
		}
	}
	if len(expired) > 0 {
		r.generation++
		sort.Slice(expired, func(i, j int) bool {
			return expired[i].Address < expired[j].Address
		})
	}
	return expired
}

// Snapshot returns a point-in-time copy of the live entries, sorted by
// address for stable output.
func (r *BlockRegistry) Snapshot() domain.RegistrySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := domain.RegistrySnapshot{
		SavedAt: time.Now().UTC(),
		Blocked: make([]domain.BlockEntry, 0, len(r.entries)),
	}
	for _, entry := range r.entries {
		snap.Blocked = append(snap.Blocked, *entry)
	}
	sort.Slice(snap.Blocked, func(i, j int) bool {
		return snap.Blocked[i].Address < snap.Blocked[j].Address
	})
	return snap
}

// Restore loads entries from a snapshot, discarding any whose expiry has
// already passed as of now. Restoring is idempotent regardless of how long
// the process was down. Whitelisted addresses are dropped too, covering
// whitelist changes made while the process was stopped.
//
// Returns the number of entries restored.
func (r *BlockRegistry) Restore(snap domain.RegistrySnapshot, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	restored := 0
	for _, entry := range snap.Blocked {
		if entry.Expired(now) {
			continue
		}
		if r.whitelist != nil && r.whitelist.IsWhitelisted(entry.Address) {
			continue
		}
		e := entry
		e.ExpiresAt = r.capExpiry(e.CreatedAt, e.ExpiresAt)
		if e.Expired(now) {
			continue
		}
		r.entries[e.Address] = &e
		restored++
	}
	if restored > 0 {
		r.generation++
	}
	return restored
}

// Entries returns copies of all live entries, sorted by address.
func (r *BlockRegistry) Entries() []domain.BlockEntry {
	return r.Snapshot().Blocked
}

// Len returns the number of live entries.
func (r *BlockRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Generation increments on every mutation. The persistence loop uses it to
// skip snapshot writes when nothing changed.
func (r *BlockRegistry) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}
