package ports

import "context"

// Enforcer applies and removes the platform-level block for an address.
//
// Contract with the engine: enforcement failures do not roll back the
// logical block entry. The dispatcher retries enforcement with the existing
// entry's data; it never re-enters the engine to create a duplicate.
//
// Thread Safety: implementations MUST be safe for concurrent calls; the
// dispatcher invokes them from multiple workers.
type Enforcer interface {
	// Block installs a deny rule for the address.
	Block(ctx context.Context, address string) error

	// Unblock removes the deny rule for the address.
	Unblock(ctx context.Context, address string) error

	// Name returns the enforcer identifier for logging.
	Name() string
}
