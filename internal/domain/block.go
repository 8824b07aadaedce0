package domain

import "time"

// BlockEntry is the live record of a blocked source address. The registry
// exclusively owns the live map; values handed out are copies.
type BlockEntry struct {
	Address      string      `json:"address"`
	CreatedAt    time.Time   `json:"created_at"`
	ExpiresAt    time.Time   `json:"expires_at"`
	TriggerCount int         `json:"trigger_count"`
	Reason       BlockReason `json:"reason"`
}

func (e BlockEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// RegistrySnapshot is the only durable state the engine requires. Window
// and cluster state are intentionally not persisted; they rebuild from
// fresh traffic after a restart.
type RegistrySnapshot struct {
	SavedAt time.Time    `json:"saved_at"`
	Blocked []BlockEntry `json:"blocked_addresses"`
}

// Cluster describes a set of source addresses targeting the same identity
// within the correlation window.
type Cluster struct {
	TargetUser string    `json:"target_user"`
	Sources    []string  `json:"sources"` // sorted, distinct
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// Signature identifies the cluster membership. Two detections of the same
// cluster with no new addresses produce the same signature, which is how
// duplicate distributed alerts are suppressed.
func (c Cluster) Signature() string {
	sig := c.TargetUser + "|"
	for i, s := range c.Sources {
		if i > 0 {
			sig += ","
		}
		sig += s
	}
	return sig
}
