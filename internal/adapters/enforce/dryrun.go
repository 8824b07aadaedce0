package enforce

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/sshwarden/sshwarden/internal/ports"
)

// DryRunEnforcer logs what would be enforced without running anything.
type DryRunEnforcer struct{}

var _ ports.Enforcer = (*DryRunEnforcer)(nil)

func NewDryRunEnforcer() *DryRunEnforcer { return &DryRunEnforcer{} }

func (DryRunEnforcer) Name() string { return "dryrun" }

func (DryRunEnforcer) Block(_ context.Context, address string) error {
	log.Info().Str("address", address).Msg("dry-run: would block")
	return nil
}

func (DryRunEnforcer) Unblock(_ context.Context, address string) error {
	log.Info().Str("address", address).Msg("dry-run: would unblock")
	return nil
}
