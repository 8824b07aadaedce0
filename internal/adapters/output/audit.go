package output

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sshwarden/sshwarden/internal/domain"
)

// AuditSink appends one human-readable line per decision to a rotating
// audit log. The log answers "what did we do to whom, and when" without
// needing a JSON parser.
type AuditSink struct {
	mu     sync.Mutex
	writer *lumberjack.Logger
}

// AuditSinkConfig configures the rotating audit log.
type AuditSinkConfig struct {
	FilePath   string // Audit log path
	MaxSizeMB  int    // Rotate after this many megabytes (default 10)
	MaxBackups int    // Rotated files to keep (default 5)
	MaxAgeDays int    // Days to retain rotated files (default 30)
}

func NewAuditSink(config AuditSinkConfig) *AuditSink {
	if config.MaxSizeMB <= 0 {
		config.MaxSizeMB = 10
	}
	if config.MaxBackups <= 0 {
		config.MaxBackups = 5
	}
	if config.MaxAgeDays <= 0 {
		config.MaxAgeDays = 30
	}
	return &AuditSink{
		writer: &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
		},
	}
}

func (s *AuditSink) Send(_ context.Context, d domain.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := fmt.Fprintln(s.writer, formatAuditLine(d))
	return err
}

func (s *AuditSink) Flush() error { return nil }

func (s *AuditSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.Close()
}

func formatAuditLine(d domain.Decision) string {
	ts := d.Timestamp.UTC().Format(time.RFC3339)
	switch d.Kind {
	case domain.DecisionBlock:
		return fmt.Sprintf("%s BLOCK %s reason=%s attempts=%d until=%s",
			ts, d.Address, d.Reason, d.TriggerCount, d.ExpiresAt.UTC().Format(time.RFC3339))
	case domain.DecisionUnblock:
		return fmt.Sprintf("%s UNBLOCK %s reason=%s", ts, d.Address, d.Reason)
	case domain.DecisionDistributedAlert:
		return fmt.Sprintf("%s DISTRIBUTED_ALERT target=%s sources=%s",
			ts, d.TargetUser, strings.Join(d.Addresses, ","))
	default:
		return fmt.Sprintf("%s %s %s", ts, d.Kind, d.Address)
	}
}
