// Package app wires the detection engine to its inputs and outputs and
// owns process lifecycle: the decision dispatcher, the supervisor loop,
// and configuration loading.
package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sshwarden/sshwarden/internal/domain"
	"github.com/sshwarden/sshwarden/internal/ports"
)

// Dispatcher consumes decisions from a bounded queue on a fixed set of
// worker goroutines: it applies block/unblock decisions through the
// enforcer and fans every decision out to sinks and subscribers.
//
// Enforcement failures are logged and counted, never propagated back to
// the engine: the logical block entry stays authoritative and a later
// sweep or restart reconciles the firewall.
//
// Thread Safety: All public methods are safe for concurrent access.
type Dispatcher struct {
	workerCount int
	queue       chan domain.Decision
	enforcer    ports.Enforcer
	sinks       []ports.DecisionSink
	subscribers []ports.DecisionSubscriber
	metrics     *domain.EngineMetrics
	bufferSize  int

	submitTimeout   time.Duration
	useBackpressure bool

	spill        *SpillWriter
	spillEntries atomic.Int64

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
	running  bool
	mu       sync.RWMutex
}

// DispatcherConfig defines dispatcher configuration options.
type DispatcherConfig struct {
	WorkerCount   int           // Number of worker goroutines (default: 4)
	BufferSize    int           // Decision queue buffer (default: 1024)
	SubmitTimeout time.Duration // Backpressure timeout (default: 100ms)
	SpillPath     string        // Path for spill file (empty disables)
}

// DefaultDispatcherConfig returns production-ready default configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		WorkerCount:   4,
		BufferSize:    1024,
		SubmitTimeout: 100 * time.Millisecond,
	}
}

// NewDispatcher creates a configured dispatcher. A nil enforcer disables
// enforcement; decisions still reach sinks and subscribers.
func NewDispatcher(config DispatcherConfig, enforcer ports.Enforcer, sinks []ports.DecisionSink, metrics *domain.EngineMetrics) *Dispatcher {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 4
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1024
	}
	if config.SubmitTimeout <= 0 {
		config.SubmitTimeout = 100 * time.Millisecond
	}

	d := &Dispatcher{
		workerCount:     config.WorkerCount,
		queue:           make(chan domain.Decision, config.BufferSize),
		enforcer:        enforcer,
		sinks:           sinks,
		metrics:         metrics,
		bufferSize:      config.BufferSize,
		submitTimeout:   config.SubmitTimeout,
		useBackpressure: config.SubmitTimeout > 0,
		stopChan:        make(chan struct{}),
	}

	if config.SpillPath != "" {
		spill, err := NewSpillWriter(config.SpillPath)
		if err != nil {
			log.Error().Err(err).Str("path", config.SpillPath).Msg("Failed to create spill writer")
		} else {
			d.spill = spill
		}
	}

	return d
}

// Start launches worker goroutines. Idempotent.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	for i := 0; i < d.workerCount; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}

	log.Info().
		Int("workers", d.workerCount).
		Bool("backpressure", d.useBackpressure).
		Msg("Decision dispatcher started")
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	log.Debug().Int("worker_id", id).Msg("Dispatcher worker started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopChan:
			return
		case decision, ok := <-d.queue:
			if !ok {
				return
			}
			d.process(ctx, decision)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, decision domain.Decision) {
	d.enforce(ctx, decision)

	for _, sink := range d.sinks {
		if err := sink.Send(ctx, decision); err != nil {
			log.Debug().Err(err).Str("decision_id", decision.ID).Msg("Decision send failed")
		}
	}

	d.mu.RLock()
	for _, sub := range d.subscribers {
		sub.OnDecision(decision)
	}
	d.mu.RUnlock()
}

func (d *Dispatcher) enforce(ctx context.Context, decision domain.Decision) {
	if d.enforcer == nil {
		return
	}

	var err error
	switch decision.Kind {
	case domain.DecisionBlock:
		err = d.enforcer.Block(ctx, decision.Address)
	case domain.DecisionUnblock:
		err = d.enforcer.Unblock(ctx, decision.Address)
	default:
		// Distributed alerts carry no enforcement action of their own;
		// each cluster member gets its own block decision.
		return
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		if d.metrics != nil {
			d.metrics.IncrementEnforceFailures()
		}
		log.Error().
			Err(err).
			Str("enforcer", d.enforcer.Name()).
			Str("kind", string(decision.Kind)).
			Str("address", decision.Address).
			Msg("Enforcement failed, logical entry unchanged")
	}
}

// Submit attempts non-blocking submission with backpressure fallback.
// Returns true if the decision was queued or spilled to disk.
func (d *Dispatcher) Submit(decision domain.Decision) bool {
	d.mu.RLock()
	running := d.running
	d.mu.RUnlock()

	if !running {
		return false
	}

	select {
	case d.queue <- decision:
		return true
	default:
	}

	if d.useBackpressure {
		timer := time.NewTimer(d.submitTimeout)
		select {
		case d.queue <- decision:
			timer.Stop()
			return true
		case <-timer.C:
		}
	}

	if d.spill != nil && d.spill.Enabled() {
		if err := d.spill.WriteDecision(decision); err != nil {
			log.Error().Err(err).Msg("Failed to write decision to spill file")
			return false
		}
		d.spillEntries.Add(1)
		return true
	}
	return false
}

// AddSubscriber registers a decision notification callback.
func (d *Dispatcher) AddSubscriber(sub ports.DecisionSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, sub)
}

// QueueLength returns decisions waiting in the queue.
func (d *Dispatcher) QueueLength() int {
	return len(d.queue)
}

// QueueCapacity returns the queue buffer size.
func (d *Dispatcher) QueueCapacity() int {
	return d.bufferSize
}

// SpillCount returns decisions written to the spill file.
func (d *Dispatcher) SpillCount() int64 {
	return d.spillEntries.Load()
}

// IsRunning returns true while the dispatcher is processing.
func (d *Dispatcher) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// Stop drains the queue, waits for workers, then flushes and closes the
// sinks. Idempotent via sync.Once.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()

		close(d.queue)

		// Let workers drain the closed queue rather than racing them with
		// the stop signal.
		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			close(d.stopChan)
			<-done
		}

		for _, sink := range d.sinks {
			if err := sink.Flush(); err != nil {
				log.Error().Err(err).Msg("Failed to flush decision sink")
			}
			if err := sink.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close decision sink")
			}
		}

		if d.spill != nil {
			if err := d.spill.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close spill writer")
			}
		}

		if n := d.spillEntries.Load(); n > 0 {
			log.Warn().Int64("spilled", n).Msg("Dispatcher stopped with decisions in spill file")
		} else {
			log.Info().Msg("Decision dispatcher stopped")
		}
	})
}
