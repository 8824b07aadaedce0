package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sshwarden/sshwarden/internal/adapters/state"
	"github.com/sshwarden/sshwarden/internal/engine"
	"github.com/sshwarden/sshwarden/internal/ports"
)

// Supervisor owns the run loop: it restores persisted state, pumps events
// from the source into the engine, drives the periodic sweep, and persists
// the registry when it changes.
type Supervisor struct {
	engine     *engine.Engine
	source     ports.EventSource
	dispatcher *Dispatcher
	store      *state.FileStore

	sweepInterval time.Duration

	lastSavedGen uint64

	stopChan chan struct{}
	stopOnce sync.Once
}

func NewSupervisor(eng *engine.Engine, source ports.EventSource, dispatcher *Dispatcher, store *state.FileStore, sweepInterval time.Duration) *Supervisor {
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	return &Supervisor{
		engine:        eng,
		source:        source,
		dispatcher:    dispatcher,
		store:         store,
		sweepInterval: sweepInterval,
		stopChan:      make(chan struct{}),
	}
}

// Restore loads the persisted registry snapshot. A corrupt snapshot is
// logged and skipped so a bad file never prevents startup; a missing file
// is a clean first run.
func (s *Supervisor) Restore() {
	if s.store == nil {
		return
	}
	snap, err := s.store.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Could not load persisted state, starting empty")
		return
	}
	if len(snap.Blocked) == 0 {
		return
	}
	restored := s.engine.Registry().Restore(snap, time.Now())
	s.lastSavedGen = s.engine.Registry().Generation()
	log.Info().
		Int("restored", restored).
		Int("discarded", len(snap.Blocked)-restored).
		Time("saved_at", snap.SavedAt).
		Msg("Restored block registry from snapshot")
}

// Run pumps events until the context is cancelled, the stop signal fires,
// or the source fails. Blocks until shutdown completes.
func (s *Supervisor) Run(ctx context.Context) error {
	s.Restore()
	s.dispatcher.Start(ctx)

	events, errs := s.source.Start(ctx)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	var runErr error

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-s.stopChan:
			break loop
		case event, ok := <-events:
			if !ok {
				log.Info().Msg("Event source closed")
				break loop
			}
			if err := s.engine.Ingest(event); err != nil {
				log.Debug().Err(err).Str("source", event.SourceAddr).Msg("Event rejected")
			}
			// A block is worth a write right away; the generation check
			// makes this a no-op for events that changed nothing.
			s.persistIfDirty()
		case err, ok := <-errs:
			if ok && err != nil {
				log.Error().Err(err).Msg("Event source failed")
				runErr = err
				break loop
			}
		case <-ticker.C:
			s.engine.DetectionCycle(time.Now())
			s.persistIfDirty()
		}
	}

	s.shutdown()
	return runErr
}

// RunOnce processes the source until it goes idle, runs a single detection
// cycle, persists, and returns. Used for batch analysis of a static file.
func (s *Supervisor) RunOnce(ctx context.Context, idleTimeout time.Duration) error {
	if idleTimeout <= 0 {
		idleTimeout = 2 * time.Second
	}

	s.Restore()
	s.dispatcher.Start(ctx)

	events, errs := s.source.Start(ctx)

	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()

	var runErr error

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case event, ok := <-events:
			if !ok {
				break loop
			}
			if err := s.engine.Ingest(event); err != nil {
				log.Debug().Err(err).Str("source", event.SourceAddr).Msg("Event rejected")
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(idleTimeout)
		case err, ok := <-errs:
			if ok && err != nil {
				runErr = err
				break loop
			}
		case <-idle.C:
			break loop
		}
	}

	s.engine.DetectionCycle(time.Now())
	s.shutdown()
	return runErr
}

func (s *Supervisor) persistIfDirty() {
	if s.store == nil {
		return
	}
	gen := s.engine.Registry().Generation()
	if gen == s.lastSavedGen {
		return
	}
	snap := s.engine.Registry().Snapshot()
	if err := s.store.Save(snap); err != nil {
		log.Error().Err(err).Str("path", s.store.Path()).Msg("Failed to persist state")
		return
	}
	s.lastSavedGen = gen
	log.Debug().Int("blocked", len(snap.Blocked)).Msg("State persisted")
}

func (s *Supervisor) shutdown() {
	if err := s.source.Stop(); err != nil {
		log.Warn().Err(err).Msg("Event source stop failed")
	}
	s.dispatcher.Stop()
	s.persistIfDirty()

	snapshot := s.engine.Metrics().GetSnapshot()
	log.Info().
		Int64("events_ingested", snapshot.EventsIngested).
		Int64("blocks_applied", snapshot.BlocksApplied).
		Int64("unblocks", snapshot.Unblocks).
		Int64("distributed_alerts", snapshot.DistributedAlerts).
		Dur("uptime", snapshot.Uptime).
		Msg("Shutdown complete")
}

// Stop signals the run loop to exit. Safe to call more than once.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// WaitForSignal blocks until SIGINT or SIGTERM, then stops the supervisor.
func (s *Supervisor) WaitForSignal() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	s.Stop()
}
