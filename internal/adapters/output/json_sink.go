// Package output provides decision output adapters.
//
// This file implements decision destinations:
//   - JSONSink: Buffered JSON output to file or stdout
//   - MemorySink: In-memory ring buffer for inspection and tests
//
// Features:
//   - Buffered I/O for high throughput (64KB buffer)
//   - Periodic automatic flushing (1 second)
//   - File sync on flush for durability
//
// Thread Safety: All implementations are safe for concurrent Send() calls.
package output

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sshwarden/sshwarden/internal/domain"
)

// JSONSink writes decisions as JSON lines to a file or stdout.
type JSONSink struct {
	bufWriter *bufio.Writer
	file      *os.File // nil for stdout
	mu        sync.Mutex
	encoder   *json.Encoder
	stopFlush chan struct{}
	stopOnce  sync.Once
}

// JSONSinkConfig configures JSON decision output.
type JSONSinkConfig struct {
	FilePath string // Output file path (empty for discard)
	Stdout   bool   // Write to stdout instead of a file
	Pretty   bool   // Pretty-print JSON
}

// NewJSONSink creates a JSON decision output.
//
// Output Priority:
//  1. Stdout if config.Stdout is true
//  2. File if config.FilePath is set
//  3. io.Discard otherwise
//
// File Permissions: 0600 (owner read/write only)
func NewJSONSink(config JSONSinkConfig) (*JSONSink, error) {
	var writer io.Writer
	var file *os.File

	if config.Stdout {
		writer = os.Stdout
	} else if config.FilePath != "" {
		var err error
		file, err = os.OpenFile(config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, err
		}
		writer = file
	} else {
		writer = io.Discard
	}

	const bufferSize = 64 * 1024
	sink := &JSONSink{
		bufWriter: bufio.NewWriterSize(writer, bufferSize),
		file:      file,
		stopFlush: make(chan struct{}),
	}

	sink.encoder = json.NewEncoder(sink.bufWriter)
	if config.Pretty {
		sink.encoder.SetIndent("", "  ")
	}

	go sink.periodicFlush()

	return sink, nil
}

// periodicFlush flushes the buffer every second until Close() is called.
func (s *JSONSink) periodicFlush() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = s.Flush()
		case <-s.stopFlush:
			return
		}
	}
}

// Send writes one decision as a JSON line.
//
// Thread Safety: Safe for concurrent calls via mutex.
func (s *JSONSink) Send(_ context.Context, decision domain.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.encoder.Encode(decision)
}

// Flush forces buffered data to disk.
func (s *JSONSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.bufWriter.Flush(); err != nil {
		return err
	}
	if s.file != nil {
		return s.file.Sync()
	}
	return nil
}

// Close stops periodic flushing, flushes the remaining buffer, and closes
// the file if one is open.
func (s *JSONSink) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopFlush)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.bufWriter.Flush(); err != nil {
		return err
	}
	if s.file != nil {
		if err := s.file.Sync(); err != nil {
			return err
		}
		return s.file.Close()
	}
	return nil
}
