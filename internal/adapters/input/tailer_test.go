package input

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshwarden/sshwarden/internal/domain"
)

func TestAuthLogTailer_ReadsExistingLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.log")
	content := "Aug 26 10:15:42 bastion sshd[1]: Failed password for root from 203.0.113.7 port 1 ssh2\n" +
		"Aug 26 10:15:43 bastion CRON[2]: session opened\n" +
		"Aug 26 10:15:44 bastion sshd[3]: Failed password for invalid user oracle from 198.51.100.9 port 2 ssh2\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	tailer := NewAuthLogTailer(path, NewAuthLogParser(), true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, errs := tailer.Start(ctx)
	defer tailer.Stop()

	var got []domain.AttemptEvent
	timeout := time.After(3 * time.Second)
	for len(got) < 2 {
		select {
		case event := <-events:
			got = append(got, event)
		case err := <-errs:
			require.NoError(t, err)
		case <-timeout:
			t.Fatalf("timed out, got %d events", len(got))
		}
	}

	assert.Equal(t, "203.0.113.7", got[0].SourceAddr)
	assert.Equal(t, "root", got[0].TargetUser)
	assert.Equal(t, "198.51.100.9", got[1].SourceAddr)
	assert.Equal(t, "oracle", got[1].TargetUser)
}

func TestAuthLogTailer_MissingFileReportsError(t *testing.T) {
	dir := t.TempDir()
	tailer := NewAuthLogTailer(filepath.Join(dir, "auth.log"), NewAuthLogParser(), true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, errs := tailer.Start(ctx)

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("expected a tailer error for a missing file")
	}
	_ = tailer.Stop()
}

func TestAuthLogTailer_StopTerminates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.log")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	tailer := NewAuthLogTailer(path, NewAuthLogParser(), false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, _ := tailer.Start(ctx)
	require.NoError(t, tailer.Stop())

	select {
	case _, ok := <-events:
		assert.False(t, ok, "event channel closes after Stop")
	case <-time.After(3 * time.Second):
		t.Fatal("event channel did not close")
	}
}
