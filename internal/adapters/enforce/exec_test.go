package enforce

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu       sync.Mutex
	calls    [][]string
	failures int // fail this many calls before succeeding
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{name}, args...))
	if len(f.calls) <= f.failures {
		return errors.New("exit status 4")
	}
	return nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestEnforcer(runner CommandRunner, maxAttempts int) *ExecEnforcer {
	e := NewExecEnforcer(
		"iptables -I INPUT -s %IP% -j DROP",
		"iptables -D INPUT -s %IP% -j DROP",
		maxAttempts,
		time.Second,
	).WithRunner(runner)
	e.retryDelay = time.Millisecond
	return e
}

func TestExecEnforcer_RendersAddressIntoTemplate(t *testing.T) {
	runner := &fakeRunner{}
	e := newTestEnforcer(runner, 1)

	require.NoError(t, e.Block(context.Background(), "203.0.113.7"))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"iptables", "-I", "INPUT", "-s", "203.0.113.7", "-j", "DROP"}, runner.calls[0])
}

func TestExecEnforcer_UnblockUsesUnblockTemplate(t *testing.T) {
	runner := &fakeRunner{}
	e := newTestEnforcer(runner, 1)

	require.NoError(t, e.Unblock(context.Background(), "203.0.113.7"))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "-D", runner.calls[0][1])
}

func TestExecEnforcer_RetriesThenSucceeds(t *testing.T) {
	runner := &fakeRunner{failures: 2}
	e := newTestEnforcer(runner, 3)

	require.NoError(t, e.Block(context.Background(), "203.0.113.7"))
	assert.Equal(t, 3, runner.callCount())
}

func TestExecEnforcer_BoundedRetryReportsTypedError(t *testing.T) {
	runner := &fakeRunner{failures: 100}
	e := newTestEnforcer(runner, 3)

	err := e.Block(context.Background(), "203.0.113.7")

	var enfErr *EnforcementError
	require.ErrorAs(t, err, &enfErr)
	assert.Equal(t, "block", enfErr.Action)
	assert.Equal(t, "203.0.113.7", enfErr.Address)
	assert.Equal(t, 3, enfErr.Attempts)
	assert.Equal(t, 3, runner.callCount(), "retries stop at the bound")
}

func TestExecEnforcer_CancelledContextStopsRetrying(t *testing.T) {
	runner := &fakeRunner{failures: 100}
	e := newTestEnforcer(runner, 5)
	e.retryDelay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := e.Block(ctx, "203.0.113.7")

	var enfErr *EnforcementError
	require.ErrorAs(t, err, &enfErr)
	assert.Less(t, runner.callCount(), 5)
}

func TestExecEnforcer_NoCommandConfigured(t *testing.T) {
	e := NewExecEnforcer("", "", 3, time.Second).WithRunner(&fakeRunner{})

	var enfErr *EnforcementError
	require.ErrorAs(t, e.Block(context.Background(), "203.0.113.7"), &enfErr)
	assert.Equal(t, 0, enfErr.Attempts)
}

func TestDryRunEnforcer_NeverFails(t *testing.T) {
	e := NewDryRunEnforcer()
	assert.NoError(t, e.Block(context.Background(), "203.0.113.7"))
	assert.NoError(t, e.Unblock(context.Background(), "203.0.113.7"))
	assert.Equal(t, "dryrun", e.Name())
}
