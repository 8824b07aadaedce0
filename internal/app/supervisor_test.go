package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshwarden/sshwarden/internal/adapters/enforce"
	"github.com/sshwarden/sshwarden/internal/adapters/input"
	"github.com/sshwarden/sshwarden/internal/adapters/output"
	"github.com/sshwarden/sshwarden/internal/adapters/state"
	"github.com/sshwarden/sshwarden/internal/domain"
	"github.com/sshwarden/sshwarden/internal/engine"
	"github.com/sshwarden/sshwarden/internal/ports"
)

// writeAuthLog produces n failure lines from addr, timestamped shortly in
// the past so they land inside the detection window.
func writeAuthLog(t *testing.T, path, addr, user string, n int) {
	t.Helper()
	var content string
	base := time.Now().Add(-time.Minute)
	for i := 0; i < n; i++ {
		ts := base.Add(time.Duration(i) * time.Second).Format("Jan _2 15:04:05")
		content += fmt.Sprintf("%s bastion sshd[%d]: Failed password for %s from %s port %d ssh2\n",
			ts, 1000+i, user, addr, 40000+i)
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestSupervisor_RunOnceEndToEnd(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "auth.log")
	statePath := filepath.Join(dir, "state.json")
	writeAuthLog(t, logPath, "203.0.113.7", "root", 6)

	cfg := engine.DefaultConfig()
	metrics := domain.NewEngineMetrics()

	sink := output.NewMemorySink(100)
	dispatcher := NewDispatcher(DefaultDispatcherConfig(), enforce.NewDryRunEnforcer(), []ports.DecisionSink{sink}, metrics)

	eng := engine.New(cfg, engine.Components{}, func(d domain.Decision) {
		dispatcher.Submit(d)
	}, metrics)

	tailer := input.NewAuthLogTailer(logPath, input.NewAuthLogParser(), true)
	store := state.NewFileStore(statePath)
	sup := NewSupervisor(eng, tailer, dispatcher, store, 30*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, sup.RunOnce(ctx, 500*time.Millisecond))

	// Six failures over threshold five: exactly one block decision.
	decisions := sink.Decisions()
	require.Len(t, decisions, 1)
	assert.Equal(t, domain.DecisionBlock, decisions[0].Kind)
	assert.Equal(t, "203.0.113.7", decisions[0].Address)

	// The block survived to disk.
	snap, err := store.Load()
	require.NoError(t, err)
	require.Len(t, snap.Blocked, 1)
	assert.Equal(t, "203.0.113.7", snap.Blocked[0].Address)
	assert.Equal(t, 2, snap.Blocked[0].TriggerCount)

	assert.Equal(t, int64(6), metrics.GetSnapshot().EventsIngested)
}

func TestSupervisor_RestorePicksUpPersistedBlocks(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")

	store := state.NewFileStore(statePath)
	now := time.Now()
	require.NoError(t, store.Save(domain.RegistrySnapshot{
		SavedAt: now,
		Blocked: []domain.BlockEntry{
			{Address: "203.0.113.7", CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(time.Hour), TriggerCount: 3, Reason: domain.ReasonThresholdExceeded},
			{Address: "203.0.113.8", CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute), TriggerCount: 1, Reason: domain.ReasonThresholdExceeded},
		},
	}))

	eng := engine.New(engine.DefaultConfig(), engine.Components{}, nil, nil)
	dispatcher := NewDispatcher(DefaultDispatcherConfig(), nil, nil, nil)
	sup := NewSupervisor(eng, nil, dispatcher, store, 30*time.Second)

	sup.Restore()

	assert.True(t, eng.Registry().IsBlocked("203.0.113.7", time.Now()))
	assert.False(t, eng.Registry().IsBlocked("203.0.113.8", time.Now()), "expired entries are discarded on restore")
	assert.Equal(t, 1, eng.Registry().Len())
}
