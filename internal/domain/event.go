package domain

import (
	"net/netip"
	"time"
)

// AttemptEvent is a normalized authentication failure produced by a log
// source adapter. SourceAddr is kept as a string because adapters may hand
// over unvalidated input; the engine validates and normalizes it on ingest.
type AttemptEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	SourceAddr string    `json:"source_addr"`
	TargetUser string    `json:"target_user,omitempty"`
}

// NormalizedAddr parses and canonicalizes the source address.
// Returns the zero Addr and false for anything that is not a valid IP.
func (e AttemptEvent) NormalizedAddr() (netip.Addr, bool) {
	addr, err := netip.ParseAddr(e.SourceAddr)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
