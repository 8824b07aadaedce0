package domain

import (
	"sync/atomic"
	"time"
)

type MetricsSnapshot struct {
	EventsIngested    int64
	EventsRejected    int64
	BlocksApplied     int64
	BlocksExtended    int64
	Unblocks          int64
	DistributedAlerts int64
	WhitelistRefusals int64
	EnforceFailures   int64
	Uptime            time.Duration
	StartTime         time.Time
}

type EngineMetrics struct {
	eventsIngested    atomic.Int64
	eventsRejected    atomic.Int64
	blocksApplied     atomic.Int64
	blocksExtended    atomic.Int64
	unblocks          atomic.Int64
	distributedAlerts atomic.Int64
	whitelistRefusals atomic.Int64
	enforceFailures   atomic.Int64
	startTime         time.Time
}

func NewEngineMetrics() *EngineMetrics {
	return &EngineMetrics{startTime: time.Now()}
}

func (m *EngineMetrics) IncrementIngested()          { m.eventsIngested.Add(1) }
func (m *EngineMetrics) IncrementRejected()          { m.eventsRejected.Add(1) }
func (m *EngineMetrics) IncrementBlocksApplied()     { m.blocksApplied.Add(1) }
func (m *EngineMetrics) IncrementBlocksExtended()    { m.blocksExtended.Add(1) }
func (m *EngineMetrics) IncrementUnblocks()          { m.unblocks.Add(1) }
func (m *EngineMetrics) IncrementDistributedAlerts() { m.distributedAlerts.Add(1) }
func (m *EngineMetrics) IncrementWhitelistRefusals() { m.whitelistRefusals.Add(1) }
func (m *EngineMetrics) IncrementEnforceFailures()   { m.enforceFailures.Add(1) }

func (m *EngineMetrics) EventsIngested() int64 { return m.eventsIngested.Load() }
func (m *EngineMetrics) BlocksApplied() int64  { return m.blocksApplied.Load() }

func (m *EngineMetrics) GetSnapshot() MetricsSnapshot {
	return MetricsSnapshot{
		EventsIngested:    m.eventsIngested.Load(),
		EventsRejected:    m.eventsRejected.Load(),
		BlocksApplied:     m.blocksApplied.Load(),
		BlocksExtended:    m.blocksExtended.Load(),
		Unblocks:          m.unblocks.Load(),
		DistributedAlerts: m.distributedAlerts.Load(),
		WhitelistRefusals: m.whitelistRefusals.Load(),
		EnforceFailures:   m.enforceFailures.Load(),
		Uptime:            time.Since(m.startTime),
		StartTime:         m.startTime,
	}
}
