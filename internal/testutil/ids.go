package testutil

import (
	"fmt"
	"sync"
)

// SequenceIDs hands out predictable ids: Prefix followed by a zero-padded
// counter starting at 1.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SequenceIDs struct {
	Prefix string

	mu sync.Mutex
	n  int
}

// NewID returns the next id in the sequence.
func (s *SequenceIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s%04d", s.Prefix, s.n), nil
}
