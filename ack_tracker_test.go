package pulsar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAckTrackerIndividual(t *testing.T) {
	tr := newAckTracker()
	id := MessageID{LedgerID: 1, EntryID: 1}

	tr.track(id)
	assert.Equal(t, 1, tr.size())

	assert.True(t, tr.ack(id))
	assert.Zero(t, tr.size())
	assert.False(t, tr.ack(id), "double ack is not tracked")
}

func TestAckTrackerCumulative(t *testing.T) {
	tr := newAckTracker()
	for entry := uint64(1); entry <= 5; entry++ {
		tr.track(MessageID{LedgerID: 1, EntryID: entry})
	}
	tr.track(MessageID{LedgerID: 2, EntryID: 1})

	dropped := tr.ackCumulative(MessageID{LedgerID: 1, EntryID: 3})
	assert.Equal(t, 3, dropped)
	assert.Equal(t, 3, tr.size())

	// the later ledger survives
	assert.True(t, tr.ack(MessageID{LedgerID: 2, EntryID: 1}))
}

func TestAckTrackerNackSweep(t *testing.T) {
	tr := newAckTracker()
	id := MessageID{LedgerID: 1, EntryID: 7}
	tr.track(id)

	tr.nack(id, 10*time.Millisecond)
	assert.Equal(t, 1, tr.size())

	// not due yet
	assert.Empty(t, tr.sweep(time.Now(), 0))

	due := tr.sweep(time.Now().Add(20*time.Millisecond), 0)
	assert.Len(t, due, 1)
	assert.Equal(t, uint64(7), due[0].EntryID)
	assert.Zero(t, tr.size(), "swept ids leave the tracker")
}

func TestAckTrackerAckTimeout(t *testing.T) {
	tr := newAckTracker()
	tr.track(MessageID{LedgerID: 1, EntryID: 1})

	// within the timeout nothing is due
	assert.Empty(t, tr.sweep(time.Now(), time.Minute))

	// past the timeout the pending id is collected
	due := tr.sweep(time.Now().Add(2*time.Minute), time.Minute)
	assert.Len(t, due, 1)

	// a zero timeout disables the pending leg entirely
	tr.track(MessageID{LedgerID: 1, EntryID: 2})
	assert.Empty(t, tr.sweep(time.Now().Add(time.Hour), 0))
}

func TestAckTrackerAckCancelsNack(t *testing.T) {
	tr := newAckTracker()
	id := MessageID{LedgerID: 3, EntryID: 3}
	tr.track(id)
	tr.nack(id, time.Millisecond)
	tr.ack(id)

	assert.Empty(t, tr.sweep(time.Now().Add(time.Second), 0))
}

func TestAckTrackerClear(t *testing.T) {
	tr := newAckTracker()
	tr.track(MessageID{LedgerID: 1, EntryID: 1})
	tr.nack(MessageID{LedgerID: 1, EntryID: 2}, time.Minute)

	assert.Equal(t, 2, tr.clear())
	assert.Zero(t, tr.size())
}
