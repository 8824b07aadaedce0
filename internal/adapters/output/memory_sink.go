package output

import (
	"context"
	"sync"

	"github.com/sshwarden/sshwarden/internal/domain"
)

// MemorySink stores decisions in a fixed-size ring buffer. Oldest entries
// are overwritten once the buffer fills.
//
// Thread Safety: Safe for concurrent access via RWMutex.
type MemorySink struct {
	decisions []domain.Decision
	head      int
	count     int
	max       int
	mu        sync.RWMutex
}

// NewMemorySink creates an in-memory decision buffer. A non-positive max
// defaults to 1000.
func NewMemorySink(max int) *MemorySink {
	if max <= 0 {
		max = 1000
	}
	return &MemorySink{
		decisions: make([]domain.Decision, max),
		max:       max,
	}
}

func (s *MemorySink) Send(_ context.Context, decision domain.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.decisions[s.head] = decision
	s.head = (s.head + 1) % s.max
	if s.count < s.max {
		s.count++
	}
	return nil
}

func (s *MemorySink) Flush() error { return nil }

func (s *MemorySink) Close() error { return nil }

// Decisions returns stored decisions in chronological order.
func (s *MemorySink) Decisions() []domain.Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Decision, s.count)
	if s.count == 0 {
		return result
	}

	start := 0
	if s.count == s.max {
		start = s.head
	}
	for i := 0; i < s.count; i++ {
		result[i] = s.decisions[(start+i)%s.max]
	}
	return result
}

// Count returns the number of stored decisions.
func (s *MemorySink) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Clear removes all stored decisions.
func (s *MemorySink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = 0
	s.count = 0
	for i := range s.decisions {
		s.decisions[i] = domain.Decision{}
	}
}

// OnDecision implements ports.DecisionSubscriber.
func (s *MemorySink) OnDecision(decision domain.Decision) {
	_ = s.Send(context.Background(), decision)
}
