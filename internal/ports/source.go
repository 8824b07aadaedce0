package ports

import (
	"context"

	"github.com/sshwarden/sshwarden/internal/domain"
)

// EventSource produces normalized authentication-failure events from a
// platform-specific log source. One implementation per platform/format,
// selected at startup by configuration.
type EventSource interface {
	Start(ctx context.Context) (<-chan domain.AttemptEvent, <-chan error)
	Stop() error
}

// EventParser normalizes a single raw log line into an AttemptEvent.
type EventParser interface {
	// Parse returns the normalized event, or an error for lines that are
	// not failed authentication attempts or cannot be understood.
	Parse(line string) (domain.AttemptEvent, error)

	// Format returns the identifier of the log format this parser handles.
	Format() string
}
