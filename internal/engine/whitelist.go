// Package engine implements the adaptive brute-force detection and
// mitigation core: sliding-window failure tracking per source address,
// a TTL registry of blocked addresses with persistence, cross-source
// correlation for distributed attacks, and the orchestrating state machine
// that turns failed authentication events into block/unblock/alert
// decisions.
//
// The engine performs no I/O of its own. Log parsing, firewall commands,
// snapshot storage and alert delivery live behind the interfaces in
// internal/ports and are driven by internal/app.
package engine

import (
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// whitelistData holds one immutable generation of the whitelist. Replaced
// wholesale on reload so queries never observe a partial update.
type whitelistData struct {
	exact    map[netip.Addr]struct{}
	prefixes []netip.Prefix
}

// WhitelistIndex answers membership queries against exact addresses and
// CIDR ranges. Malformed addresses are treated as not whitelisted (fail
// closed), so a garbage source string can never escape blocking.
//
// Thread Safety: queries are lock-free via atomic pointer; Load() calls
// are serialized and swap the whole index atomically.
type WhitelistIndex struct {
	data   atomic.Pointer[whitelistData]
	loadMu sync.Mutex
}

func NewWhitelistIndex() *WhitelistIndex {
	w := &WhitelistIndex{}
	w.data.Store(&whitelistData{exact: make(map[netip.Addr]struct{})})
	return w
}

// Load replaces the whole index with the given entries. Each entry is an
// exact IP or a CIDR prefix. Invalid entries are skipped with a warning;
// a bad line never aborts the load.
//
// Returns the number of entries accepted.
func (w *WhitelistIndex) Load(entries []string) int {
	w.loadMu.Lock()
	defer w.loadMu.Unlock()

	next := &whitelistData{exact: make(map[netip.Addr]struct{}, len(entries))}
	loaded := 0

	for _, entry := range entries {
		if entry == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			next.prefixes = append(next.prefixes, prefix.Masked())
			loaded++
			continue
		}
		if addr, err := netip.ParseAddr(entry); err == nil {
			next.exact[addr.Unmap()] = struct{}{}
			loaded++
			continue
		}
		log.Warn().Str("entry", entry).Msg("Invalid whitelist entry, skipping")
	}

	w.data.Store(next)
	return loaded
}

// IsWhitelisted reports whether the address matches an exact entry or
// falls inside any whitelisted CIDR range.
func (w *WhitelistIndex) IsWhitelisted(address string) bool {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	data := w.data.Load()
	if _, ok := data.exact[addr]; ok {
		return true
	}
	for _, prefix := range data.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// Len returns the number of loaded entries (exact plus prefixes).
func (w *WhitelistIndex) Len() int {
	data := w.data.Load()
	return len(data.exact) + len(data.prefixes)
}
