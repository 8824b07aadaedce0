package app

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sshwarden/sshwarden/internal/domain"
)

// SpillWriter appends decisions to disk when the dispatch queue saturates.
// Spilled decisions are not replayed automatically; the file exists so a
// saturated box never silently drops a block decision.
type SpillWriter struct {
	file    *os.File
	writer  *bufio.Writer
	mu      sync.Mutex
	count   atomic.Int64
	enabled bool
	path    string
}

type spillRecord struct {
	SpilledAt time.Time       `json:"spilled_at"`
	Decision  json.RawMessage `json:"decision"`
}

func NewSpillWriter(path string) (*SpillWriter, error) {
	if path == "" {
		return &SpillWriter{enabled: false}, nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	log.Info().Str("path", path).Msg("Spill writer initialized")

	return &SpillWriter{
		file:    file,
		writer:  bufio.NewWriterSize(file, 64*1024),
		enabled: true,
		path:    path,
	}, nil
}

func (w *SpillWriter) WriteDecision(decision domain.Decision) error {
	if !w.enabled {
		return nil
	}

	data, err := json.Marshal(decision)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	line, err := json.Marshal(spillRecord{SpilledAt: time.Now(), Decision: data})
	if err != nil {
		return err
	}

	if _, err := w.writer.Write(line); err != nil {
		return err
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return err
	}

	w.count.Add(1)

	// Block decisions are too important to sit in a buffer; sync each one.
	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

func (w *SpillWriter) Close() error {
	if !w.enabled {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}

	if count := w.count.Load(); count > 0 {
		log.Warn().
			Int64("spill_count", count).
			Str("path", w.path).
			Msg("Spill file contains undelivered decisions")
	}

	return w.file.Close()
}

func (w *SpillWriter) Count() int64 {
	return w.count.Load()
}

func (w *SpillWriter) Enabled() bool {
	return w.enabled
}
