package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type DecisionKind string

const (
	DecisionBlock            DecisionKind = "BLOCK"
	DecisionUnblock          DecisionKind = "UNBLOCK"
	DecisionDistributedAlert DecisionKind = "DISTRIBUTED_ALERT"
)

type BlockReason string

const (
	ReasonThresholdExceeded  BlockReason = "THRESHOLD_EXCEEDED"
	ReasonDistributedCluster BlockReason = "DISTRIBUTED_CLUSTER"
	ReasonManual             BlockReason = "MANUAL"
	ReasonExpired            BlockReason = "EXPIRED"
)

// Decision is the engine's output value object. It is transient: the engine
// hands it to the dispatcher and keeps no reference.
type Decision struct {
	ID           string       `json:"id"`
	Kind         DecisionKind `json:"kind"`
	Address      string       `json:"address,omitempty"`
	Addresses    []string     `json:"addresses,omitempty"`
	TargetUser   string       `json:"target_user,omitempty"`
	Reason       BlockReason  `json:"reason"`
	TriggerCount int          `json:"trigger_count,omitempty"`
	ExpiresAt    time.Time    `json:"expires_at,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}

func NewDecision(kind DecisionKind, reason BlockReason) Decision {
	return Decision{
		ID:        uuid.NewString(),
		Kind:      kind,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}

func NewBlockDecision(entry BlockEntry) Decision {
	d := NewDecision(DecisionBlock, entry.Reason)
	d.Address = entry.Address
	d.TriggerCount = entry.TriggerCount
	d.ExpiresAt = entry.ExpiresAt
	return d
}

func NewUnblockDecision(address string, reason BlockReason) Decision {
	d := NewDecision(DecisionUnblock, reason)
	d.Address = address
	return d
}

func NewDistributedAlertDecision(c Cluster) Decision {
	d := NewDecision(DecisionDistributedAlert, ReasonDistributedCluster)
	d.Addresses = c.Sources
	d.TargetUser = c.TargetUser
	d.TriggerCount = len(c.Sources)
	return d
}

func (d Decision) ToJSON() ([]byte, error) {
	return json.Marshal(d)
}
