package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshwarden/sshwarden/internal/domain"
)

func TestBlockRegistry_NewBlock(t *testing.T) {
	r := NewBlockRegistry(nil, 0)

	applied, entry := r.Block("1.2.3.4", time.Hour, domain.ReasonThresholdExceeded)

	assert.True(t, applied)
	assert.Equal(t, "1.2.3.4", entry.Address)
	assert.Equal(t, 1, entry.TriggerCount)
	assert.Equal(t, domain.ReasonThresholdExceeded, entry.Reason)
	assert.True(t, r.IsBlocked("1.2.3.4", time.Now()))
	assert.Equal(t, 1, r.Len())
}

func TestBlockRegistry_RepeatExtendsNeverDuplicates(t *testing.T) {
	r := NewBlockRegistry(nil, 0)

	applied, first := r.Block("1.2.3.4", time.Hour, domain.ReasonThresholdExceeded)
	require.True(t, applied)

	applied, second := r.Block("1.2.3.4", 2*time.Hour, domain.ReasonThresholdExceeded)

	assert.False(t, applied, "re-block must not request new enforcement")
	assert.Equal(t, 2, second.TriggerCount)
	assert.True(t, second.ExpiresAt.After(first.ExpiresAt))
	assert.Equal(t, 1, r.Len())
}

func TestBlockRegistry_ExtensionNeverShortens(t *testing.T) {
	r := NewBlockRegistry(nil, 0)

	_, first := r.Block("1.2.3.4", 10*time.Hour, domain.ReasonThresholdExceeded)
	_, second := r.Block("1.2.3.4", time.Minute, domain.ReasonThresholdExceeded)

	assert.Equal(t, first.ExpiresAt, second.ExpiresAt)
	assert.Equal(t, 2, second.TriggerCount)
}

func TestBlockRegistry_WhitelistRefusal(t *testing.T) {
	w := NewWhitelistIndex()
	w.Load([]string{"10.0.0.0/8"})
	r := NewBlockRegistry(w, 0)

	applied, entry := r.Block("10.1.2.3", time.Hour, domain.ReasonThresholdExceeded)

	assert.False(t, applied)
	assert.Empty(t, entry.Address)
	assert.False(t, r.IsBlocked("10.1.2.3", time.Now()))
	assert.Equal(t, 0, r.Len())
}

func TestBlockRegistry_MaxLifetimeCap(t *testing.T) {
	r := NewBlockRegistry(nil, time.Hour)

	_, entry := r.Block("1.2.3.4", 24*time.Hour, domain.ReasonThresholdExceeded)
	assert.Equal(t, time.Hour, entry.ExpiresAt.Sub(entry.CreatedAt))

	// Extensions saturate at the cap rather than drifting past it.
	_, entry = r.Block("1.2.3.4", 24*time.Hour, domain.ReasonThresholdExceeded)
	assert.Equal(t, time.Hour, entry.ExpiresAt.Sub(entry.CreatedAt))
}

func TestBlockRegistry_Unblock(t *testing.T) {
	r := NewBlockRegistry(nil, 0)
	r.Block("1.2.3.4", time.Hour, domain.ReasonManual)

	assert.True(t, r.Unblock("1.2.3.4"))
	assert.False(t, r.IsBlocked("1.2.3.4", time.Now()))
	assert.False(t, r.Unblock("1.2.3.4"), "second unblock finds nothing")
}

func TestBlockRegistry_SweepExpired(t *testing.T) {
	r := NewBlockRegistry(nil, 0)
	r.Block("9.9.9.9", time.Minute, domain.ReasonThresholdExceeded)
	r.Block("1.1.1.1", time.Minute, domain.ReasonThresholdExceeded)
	r.Block("5.5.5.5", time.Hour, domain.ReasonThresholdExceeded)

	future := time.Now().Add(10 * time.Minute)
	expired := r.SweepExpired(future)

	require.Len(t, expired, 2)
	assert.Equal(t, "1.1.1.1", expired[0].Address, "sweep output is sorted")
	assert.Equal(t, "9.9.9.9", expired[1].Address)
	assert.Equal(t, 1, r.Len())
	assert.True(t, r.IsBlocked("5.5.5.5", future))

	assert.Empty(t, r.SweepExpired(future), "second sweep finds nothing")
}

func TestBlockRegistry_ExpiredEntryCanBeReblocked(t *testing.T) {
	r := NewBlockRegistry(nil, 0)
	r.Block("1.2.3.4", time.Nanosecond, domain.ReasonThresholdExceeded)
	time.Sleep(time.Millisecond)

	applied, entry := r.Block("1.2.3.4", time.Hour, domain.ReasonThresholdExceeded)

	assert.True(t, applied, "an expired entry is replaced, not extended")
	assert.Equal(t, 1, entry.TriggerCount)
}

func TestBlockRegistry_SnapshotRestoreRoundTrip(t *testing.T) {
	r := NewBlockRegistry(nil, 0)
	r.Block("1.2.3.4", time.Hour, domain.ReasonThresholdExceeded)
	r.Block("5.6.7.8", time.Hour, domain.ReasonDistributedCluster)

	snap := r.Snapshot()
	require.Len(t, snap.Blocked, 2)
	assert.False(t, snap.SavedAt.IsZero())

	restored := NewBlockRegistry(nil, 0)
	n := restored.Restore(snap, time.Now())

	assert.Equal(t, 2, n)
	assert.True(t, restored.IsBlocked("1.2.3.4", time.Now()))
	assert.True(t, restored.IsBlocked("5.6.7.8", time.Now()))
}

func TestBlockRegistry_RestoreDiscardsExpired(t *testing.T) {
	r := NewBlockRegistry(nil, 0)
	r.Block("1.2.3.4", time.Minute, domain.ReasonThresholdExceeded)
	r.Block("5.6.7.8", 2*time.Hour, domain.ReasonThresholdExceeded)
	snap := r.Snapshot()

	restored := NewBlockRegistry(nil, 0)
	n := restored.Restore(snap, time.Now().Add(time.Hour))

	assert.Equal(t, 1, n)
	assert.False(t, restored.IsBlocked("1.2.3.4", time.Now().Add(time.Hour)))
	assert.True(t, restored.IsBlocked("5.6.7.8", time.Now().Add(time.Hour)))
}

func TestBlockRegistry_RestoreDiscardsNowWhitelisted(t *testing.T) {
	r := NewBlockRegistry(nil, 0)
	r.Block("10.1.2.3", time.Hour, domain.ReasonThresholdExceeded)
	snap := r.Snapshot()

	w := NewWhitelistIndex()
	w.Load([]string{"10.0.0.0/8"})
	restored := NewBlockRegistry(w, 0)

	assert.Equal(t, 0, restored.Restore(snap, time.Now()))
	assert.Equal(t, 0, restored.Len())
}

func TestBlockRegistry_RestoreReappliesLifetimeCap(t *testing.T) {
	created := time.Now().Add(-2 * time.Hour)
	snap := domain.RegistrySnapshot{
		SavedAt: time.Now(),
		Blocked: []domain.BlockEntry{{
			Address:      "1.2.3.4",
			CreatedAt:    created,
			ExpiresAt:    created.Add(100 * time.Hour),
			TriggerCount: 3,
			Reason:       domain.ReasonThresholdExceeded,
		}},
	}

	r := NewBlockRegistry(nil, time.Hour)
	n := r.Restore(snap, time.Now())

	// Capped expiry (created+1h) is already past, so nothing survives.
	assert.Equal(t, 0, n)
}

func TestBlockRegistry_GenerationTracksMutations(t *testing.T) {
	r := NewBlockRegistry(nil, 0)
	gen := r.Generation()

	r.Block("1.2.3.4", time.Hour, domain.ReasonThresholdExceeded)
	assert.Greater(t, r.Generation(), gen)

	gen = r.Generation()
	r.IsBlocked("1.2.3.4", time.Now())
	r.Snapshot()
	assert.Equal(t, gen, r.Generation(), "reads do not bump the generation")

	r.Unblock("1.2.3.4")
	assert.Greater(t, r.Generation(), gen)
}
