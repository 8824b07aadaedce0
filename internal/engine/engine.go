package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sshwarden/sshwarden/internal/domain"
)

// ErrInvalidSourceAddress is returned by Ingest for events whose source
// address is not a parseable IP. The event is dropped without touching any
// tracker state.
var ErrInvalidSourceAddress = errors.New("invalid source address")

// Config is the detection tuning surface. It is consumed, not owned, by
// the engine; loading and validation happen in internal/app.
type Config struct {
	Threshold          int           // failed attempts within Window that trigger a block
	Window             time.Duration // trailing window for per-source counting
	BlockDuration      time.Duration // lifetime of a new block
	MaxBlockLifetime   time.Duration // hard cap on expiry extension
	CorrelationEnabled bool
	MinClusterSources  int           // distinct sources on one target that constitute a cluster
	CorrelationWindow  time.Duration // trailing window for cluster membership
}

func DefaultConfig() Config {
	return Config{
		Threshold:          5,
		Window:             5 * time.Minute,
		BlockDuration:      24 * time.Hour,
		MaxBlockLifetime:   DefaultMaxBlockLifetime,
		CorrelationEnabled: true,
		MinClusterSources:  5,
		CorrelationWindow:  60 * time.Minute,
	}
}

// Components are the engine's owned collaborators, injected explicitly so
// lifecycle (restore at start, snapshot at shutdown) is managed by the
// caller rather than hidden in package state.
type Components struct {
	Whitelist  *WhitelistIndex
	Tracker    *SlidingWindowTracker
	Registry   *BlockRegistry
	Correlator *AttackCorrelator
}

// DecisionFunc receives each emitted decision. It must not block: the
// app layer backs it with a bounded work queue so slow enforcement or
// alert delivery cannot stall ingestion.
type DecisionFunc func(domain.Decision)

// alertRecord remembers the last alerted membership signature per target
// identity, suppressing duplicate distributed alerts for an unchanged
// cluster.
type alertRecord struct {
	signature string
	seenAt    time.Time
}

// Engine is the orchestrator. Per source address it walks
// Clean -> Suspect -> Blocked -> (Expired | Unblocked) -> Clean, emitting
// Block, Unblock and DistributedAlert decisions.
//
// Thread Safety: Ingest is safe for concurrent calls from multiple log
// source adapters. The trackers serialize their own mutations; no global
// lock is held across them. The benign race where two concurrent
// evaluations both see the threshold crossed resolves in the registry:
// the second Block() is a no-op extension, not a duplicate enforcement.
type Engine struct {
	cfg        Config
	whitelist  *WhitelistIndex
	tracker    *SlidingWindowTracker
	registry   *BlockRegistry
	correlator *AttackCorrelator
	emit       DecisionFunc
	metrics    *domain.EngineMetrics

	alertedMu sync.Mutex
	alerted   map[string]alertRecord
}

// New creates the engine. Nil component fields are constructed from cfg;
// a nil emit func discards decisions (useful in tests that only inspect
// registry state).
func New(cfg Config, comps Components, emit DecisionFunc, metrics *domain.EngineMetrics) *Engine {
	if comps.Whitelist == nil {
		comps.Whitelist = NewWhitelistIndex()
	}
	if comps.Tracker == nil {
		comps.Tracker = NewSlidingWindowTracker(cfg.Window)
	}
	if comps.Registry == nil {
		comps.Registry = NewBlockRegistry(comps.Whitelist, cfg.MaxBlockLifetime)
	}
	if comps.Correlator == nil {
		comps.Correlator = NewAttackCorrelator(cfg.CorrelationWindow)
	}
	if emit == nil {
		emit = func(domain.Decision) {}
	}
	if metrics == nil {
		metrics = domain.NewEngineMetrics()
	}
	return &Engine{
		cfg:        cfg,
		whitelist:  comps.Whitelist,
		tracker:    comps.Tracker,
		registry:   comps.Registry,
		correlator: comps.Correlator,
		emit:       emit,
		metrics:    metrics,
		alerted:    make(map[string]alertRecord),
	}
}

// Ingest consumes one normalized failure event: records it in the window
// tracker and correlator, then evaluates the single-source threshold.
//
// Events are processed in arrival order. An event older than the window
// relative to now simply contributes nothing to the count; it is recorded
// and immediately evicted, never re-opening an expired block.
func (e *Engine) Ingest(event domain.AttemptEvent) error {
	addr, ok := event.NormalizedAddr()
	if !ok {
		e.metrics.IncrementRejected()
		return ErrInvalidSourceAddress
	}
	address := addr.String()

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	e.metrics.IncrementIngested()
	e.tracker.Record(address, ts)

	if e.cfg.CorrelationEnabled && event.TargetUser != "" {
		e.correlator.Record(event.TargetUser, address, ts)
	}

	now := time.Now()
	count := e.tracker.CountInWindow(address, now)
	if count >= e.cfg.Threshold {
		e.tryBlock(address, domain.ReasonThresholdExceeded)
	}
	return nil
}

// tryBlock asks the registry to block and emits a Block decision only when
// a new entry was created. An extension needs no enforcement action; a
// whitelist refusal is counted and logged.
func (e *Engine) tryBlock(address string, reason domain.BlockReason) {
	applied, entry := e.registry.Block(address, e.cfg.BlockDuration, reason)
	if applied {
		e.metrics.IncrementBlocksApplied()
		log.Warn().
			Str("address", address).
			Str("reason", string(reason)).
			Time("expires_at", entry.ExpiresAt).
			Msg("Source address blocked")
		e.emit(domain.NewBlockDecision(entry))
		return
	}
	if entry.Address == "" {
		e.metrics.IncrementWhitelistRefusals()
		log.Debug().Str("address", address).Msg("Block refused, address is whitelisted")
		return
	}
	e.metrics.IncrementBlocksExtended()
}

// DetectionCycle runs one periodic pass: expire blocks, prune idle window
// keys, and evaluate distributed clusters. Driven by the app-layer ticker,
// independent of ingestion.
func (e *Engine) DetectionCycle(now time.Time) {
	for _, entry := range e.registry.SweepExpired(now) {
		e.metrics.IncrementUnblocks()
		log.Info().
			Str("address", entry.Address).
			Time("expired_at", entry.ExpiresAt).
			Msg("Block expired")
		// Window history is deliberately kept: a fresh burst still inside
		// the window re-triggers immediately.
		e.emit(domain.NewUnblockDecision(entry.Address, domain.ReasonExpired))
	}

	e.tracker.PruneIdle(now)

	if e.cfg.CorrelationEnabled {
		e.detectDistributed(now)
	}
}

// detectDistributed evaluates clusters and emits one DistributedAlert per
// cluster per changed membership signature, plus a Block decision for
// every member not already blocked, even members below the single-source
// threshold.
func (e *Engine) detectDistributed(now time.Time) {
	clusters := e.correlator.DetectClusters(e.cfg.MinClusterSources, now)

	e.alertedMu.Lock()
	for target, rec := range e.alerted {
		if now.Sub(rec.seenAt) > 2*e.cfg.CorrelationWindow {
			delete(e.alerted, target)
		}
	}
	e.alertedMu.Unlock()

	for _, cluster := range clusters {
		sig := cluster.Signature()

		e.alertedMu.Lock()
		rec, seen := e.alerted[cluster.TargetUser]
		e.alerted[cluster.TargetUser] = alertRecord{signature: sig, seenAt: now}
		e.alertedMu.Unlock()

		if !seen || rec.signature != sig {
			e.metrics.IncrementDistributedAlerts()
			log.Warn().
				Str("target", cluster.TargetUser).
				Int("sources", len(cluster.Sources)).
				Msg("Distributed attack cluster detected")
			e.emit(domain.NewDistributedAlertDecision(cluster))
		}

		for _, address := range cluster.Sources {
			if e.registry.IsBlocked(address, now) {
				continue
			}
			e.tryBlock(address, domain.ReasonDistributedCluster)
		}
	}
}

// ManualUnblock removes the block for address at an operator's request and
// resets its window history, so stale failures cannot instantly overturn
// the operator's decision. Reports whether a block existed.
func (e *Engine) ManualUnblock(address string) bool {
	if !e.registry.Unblock(address) {
		return false
	}
	e.tracker.Reset(address)
	e.metrics.IncrementUnblocks()
	log.Info().Str("address", address).Msg("Manually unblocked")
	e.emit(domain.NewUnblockDecision(address, domain.ReasonManual))
	return true
}

// ManualBlock blocks address at an operator's request for the given
// duration (engine default when zero). Reports whether a new block was
// created; false means whitelisted or already blocked.
func (e *Engine) ManualBlock(address string, duration time.Duration) bool {
	if duration <= 0 {
		duration = e.cfg.BlockDuration
	}
	applied, entry := e.registry.Block(address, duration, domain.ReasonManual)
	if !applied {
		return false
	}
	e.metrics.IncrementBlocksApplied()
	log.Info().Str("address", address).Time("expires_at", entry.ExpiresAt).Msg("Manually blocked")
	e.emit(domain.NewBlockDecision(entry))
	return true
}

// Registry exposes the block registry for persistence wiring.
func (e *Engine) Registry() *BlockRegistry {
	return e.registry
}

// Metrics exposes the engine counters.
func (e *Engine) Metrics() *domain.EngineMetrics {
	return e.metrics
}
