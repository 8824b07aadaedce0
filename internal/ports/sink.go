package ports

import (
	"context"

	"github.com/sshwarden/sshwarden/internal/domain"
)

// DecisionSink receives decisions for delivery to an output destination
// (JSON stream, audit log, notification relay). Sinks are fire-and-forget
// from the engine's perspective: a failing sink never affects block state.
//
// Thread Safety: implementations MUST be safe for concurrent Send() calls.
type DecisionSink interface {
	// Send delivers one decision. Errors are logged by the dispatcher and
	// otherwise ignored.
	Send(ctx context.Context, decision domain.Decision) error

	// Flush forces pending output to be written. Called during shutdown.
	Flush() error

	// Close releases resources after a final flush.
	Close() error
}

// DecisionSubscriber is the push-based callback used for in-process
// observers (metrics, status views). OnDecision must return quickly.
type DecisionSubscriber interface {
	OnDecision(decision domain.Decision)
}
