package logsink

import (
	"fmt"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// MaxStoreSize guards against accidental misconfiguration.
const MaxStoreSize uint32 = 1024 * 1024

// Store keeps the most recent records in an overlapped ring buffer so the
// CLI and tests can show what scripts logged.
type Store struct {
	buffer      mpmc.RichOverlappedRingBuffer[Record]
	overwritten int64
}

// NewStore creates a store holding up to size records.
func NewStore(size uint32) (*Store, error) {
	if size == 0 {
		return nil, fmt.Errorf("store size must be > 0")
	}
	if size > MaxStoreSize {
		return nil, fmt.Errorf("store size %d exceeds maximum %d", size, MaxStoreSize)
	}
	return &Store{buffer: mpmc.NewOverlappedRingBuffer[Record](size)}, nil
}

// Add appends rec, overwriting the oldest record when full.
func (s *Store) Add(rec Record) error {
	overwrites, err := s.buffer.EnqueueM(rec)
	if err != nil {
		return fmt.Errorf("store enqueue: %w", err)
	}
	atomic.AddInt64(&s.overwritten, int64(overwrites))
	return nil
}

// Drain removes and returns all buffered records, oldest first.
func (s *Store) Drain() ([]Record, error) {
	var out []Record
	for !s.buffer.IsEmpty() {
		rec, err := s.buffer.Dequeue()
		if err != nil {
			return out, fmt.Errorf("store dequeue: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Messages drains the store and returns only the message texts.
func (s *Store) Messages() []string {
	recs, _ := s.Drain()
	msgs := make([]string, 0, len(recs))
	for _, r := range recs {
		msgs = append(msgs, r.Message)
	}
	return msgs
}

// Overwritten reports how many records were lost to overflow.
func (s *Store) Overwritten() int64 {
	return atomic.LoadInt64(&s.overwritten)
}
