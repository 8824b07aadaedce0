// Package enforce applies block and unblock decisions to the host firewall.
package enforce

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sshwarden/sshwarden/internal/ports"
)

// CommandRunner abstracts command execution so enforcement can be tested
// without touching the firewall.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w (output: %s)", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// EnforcementError reports a command that kept failing after bounded
// retries. The logical block entry remains in force regardless.
type EnforcementError struct {
	Action   string
	Address  string
	Attempts int
	Err      error
}

func (e *EnforcementError) Error() string {
	return fmt.Sprintf("enforce %s %s failed after %d attempts: %v", e.Action, e.Address, e.Attempts, e.Err)
}

func (e *EnforcementError) Unwrap() error { return e.Err }

// ExecEnforcer shells out to configured block/unblock commands. The address
// is substituted for every %IP% occurrence in the template.
type ExecEnforcer struct {
	blockTemplate   []string
	unblockTemplate []string
	runner          CommandRunner
	maxAttempts     int
	timeout         time.Duration
	retryDelay      time.Duration
}

var _ ports.Enforcer = (*ExecEnforcer)(nil)

// NewExecEnforcer builds an enforcer from command templates, e.g.
// "iptables -I INPUT -s %IP% -j DROP". Templates are split on whitespace.
func NewExecEnforcer(blockCmd, unblockCmd string, maxAttempts int, timeout time.Duration) *ExecEnforcer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ExecEnforcer{
		blockTemplate:   strings.Fields(blockCmd),
		unblockTemplate: strings.Fields(unblockCmd),
		runner:          execRunner{},
		maxAttempts:     maxAttempts,
		timeout:         timeout,
		retryDelay:      500 * time.Millisecond,
	}
}

// WithRunner swaps the command runner. Used by tests.
func (e *ExecEnforcer) WithRunner(r CommandRunner) *ExecEnforcer {
	e.runner = r
	return e
}

func (e *ExecEnforcer) Name() string { return "exec" }

func (e *ExecEnforcer) Block(ctx context.Context, address string) error {
	return e.run(ctx, "block", e.blockTemplate, address)
}

func (e *ExecEnforcer) Unblock(ctx context.Context, address string) error {
	return e.run(ctx, "unblock", e.unblockTemplate, address)
}

// run executes the rendered template with a bounded retry loop. Each attempt
// gets its own timeout; after maxAttempts the failure is reported as an
// EnforcementError and the caller decides what to do with it.
func (e *ExecEnforcer) run(ctx context.Context, action string, template []string, address string) error {
	if len(template) == 0 {
		return &EnforcementError{Action: action, Address: address, Attempts: 0, Err: fmt.Errorf("no command configured")}
	}
	args := renderTemplate(template, address)

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
		err := e.runner.Run(attemptCtx, args[0], args[1:]...)
		cancel()
		if err == nil {
			if attempt > 1 {
				log.Info().Str("action", action).Str("address", address).Int("attempt", attempt).Msg("enforcement succeeded after retry")
			}
			return nil
		}
		lastErr = err
		log.Warn().Err(err).Str("action", action).Str("address", address).Int("attempt", attempt).Msg("enforcement command failed")

		if attempt < e.maxAttempts {
			select {
			case <-time.After(e.retryDelay):
			case <-ctx.Done():
				return &EnforcementError{Action: action, Address: address, Attempts: attempt, Err: ctx.Err()}
			}
		}
	}
	return &EnforcementError{Action: action, Address: address, Attempts: e.maxAttempts, Err: lastErr}
}

func renderTemplate(template []string, address string) []string {
	args := make([]string, len(template))
	for i, tok := range template {
		args[i] = strings.ReplaceAll(tok, "%IP%", address)
	}
	return args
}
