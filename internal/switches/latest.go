package switches

import (
	"sync"

	"github.com/sweeney/book-kiosk/internal/logic"
	"github.com/sweeney/book-kiosk/internal/metrics"
)

// Latest is a single-slot handoff between the reading producer and the
// render loop. Store overwrites; Load always sees the most recent reading.
type Latest struct {
	mu       sync.Mutex
	reading  logic.Reading
	seq      uint64
	consumed uint64
	dropped  uint64
}

// Store replaces the held reading. A reading that was never loaded is counted as dropped.
func (l *Latest) Store(r logic.Reading) {
	l.mu.Lock()
	if l.seq > l.consumed {
		l.dropped++
		metrics.ReadingsOverwrittenTotal.Inc()
	}
	l.reading = r
	l.seq++
	l.mu.Unlock()
}

// Load returns the most recent reading and its sequence number.
// ok is false until the first Store.
func (l *Latest) Load() (r logic.Reading, seq uint64, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seq == 0 {
		return logic.Reading{}, 0, false
	}
	l.consumed = l.seq
	return l.reading, l.seq, true
}

// Dropped returns how many readings were overwritten before being loaded.
func (l *Latest) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}
