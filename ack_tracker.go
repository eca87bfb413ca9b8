package pulsar

import (
	"sync"
	"time"
)

// ackTracker remembers delivered-but-unacknowledged message ids. It feeds
// the ack timeout sweep and negative acknowledgments, both of which end in
// a redelivery request to the broker.
type ackTracker struct {
	mu      sync.Mutex
	pending map[MessageID]time.Time // delivery time
	nacked  map[MessageID]time.Time // redelivery due time
}

func newAckTracker() *ackTracker {
	return &ackTracker{
		pending: make(map[MessageID]time.Time),
		nacked:  make(map[MessageID]time.Time),
	}
}

// track records a freshly delivered message.
func (t *ackTracker) track(id MessageID) {
	t.mu.Lock()
	t.pending[id] = time.Now()
	t.mu.Unlock()
}

// ack drops one id, reporting whether it was tracked.
func (t *ackTracker) ack(id MessageID) bool {
	t.mu.Lock()
	_, ok := t.pending[id]
	delete(t.pending, id)
	delete(t.nacked, id)
	t.mu.Unlock()
	return ok
}

// ackCumulative drops every id at or before the given position and returns
// how many were dropped.
func (t *ackTracker) ackCumulative(id MessageID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for tracked := range t.pending {
		if tracked.Compare(id) <= 0 {
			delete(t.pending, tracked)
			n++
		}
	}
	for tracked := range t.nacked {
		if tracked.Compare(id) <= 0 {
			delete(t.nacked, tracked)
		}
	}
	return n
}

// nack schedules id for redelivery after delay. The id stays tracked until
// redelivery is actually requested.
func (t *ackTracker) nack(id MessageID, delay time.Duration) {
	t.mu.Lock()
	delete(t.pending, id)
	t.nacked[id] = time.Now().Add(delay)
	t.mu.Unlock()
}

// sweep collects ids whose redelivery is due: nacked ids past their delay,
// plus pending ids delivered before ackCutoff (zero disables the timeout
// leg). Collected ids leave the tracker; the broker redelivers them with a
// bumped redelivery count and they are tracked again on arrival.
func (t *ackTracker) sweep(now time.Time, ackTimeout time.Duration) []MessageIdData {
	t.mu.Lock()
	defer t.mu.Unlock()
	var due []MessageIdData
	for id, at := range t.nacked {
		if !at.After(now) {
			due = append(due, id.toData())
			delete(t.nacked, id)
		}
	}
	if ackTimeout > 0 {
		cutoff := now.Add(-ackTimeout)
		for id, delivered := range t.pending {
			if delivered.Before(cutoff) {
				due = append(due, id.toData())
				delete(t.pending, id)
			}
		}
	}
	return due
}

// size returns how many ids are tracked in either state.
func (t *ackTracker) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending) + len(t.nacked)
}

// clear empties the tracker, returning how many ids were dropped.
func (t *ackTracker) clear() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.pending) + len(t.nacked)
	t.pending = make(map[MessageID]time.Time)
	t.nacked = make(map[MessageID]time.Time)
	return n
}
