package pulsar

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlowControllerInitialGrant(t *testing.T) {
	fc := newFlowController(10)
	assert.Equal(t, uint32(10), fc.initial())
}

func TestFlowControllerTopUpAtHalfQueue(t *testing.T) {
	fc := newFlowController(10)
	fc.initial()

	// no grant until half the queue is consumed
	for i := 0; i < 4; i++ {
		assert.Zero(t, fc.consume(), "message %d", i+1)
	}
	assert.Equal(t, uint32(5), fc.consume())

	// the counter restarts after a grant
	for i := 0; i < 4; i++ {
		assert.Zero(t, fc.consume())
	}
	assert.Equal(t, uint32(5), fc.consume())
}

func TestFlowControllerGrantsNeverExceedConsumption(t *testing.T) {
	fc := newFlowController(8)
	granted := fc.initial()
	consumed := uint32(0)

	for i := 0; i < 100; i++ {
		consumed++
		granted += fc.consume()
	}
	// permits outstanding on the broker side must never go negative:
	// total grants minus consumption stays within one queue window
	assert.LessOrEqual(t, granted-consumed, uint32(8))
	assert.GreaterOrEqual(t, granted, consumed)
}

func TestFlowControllerTinyQueue(t *testing.T) {
	fc := newFlowController(1)
	assert.Equal(t, uint32(1), fc.initial())
	assert.Equal(t, uint32(1), fc.consume())
	assert.Equal(t, uint32(1), fc.consume())
}

func TestFlowControllerResetOnReconnect(t *testing.T) {
	fc := newFlowController(10)
	fc.initial()
	for i := 0; i < 3; i++ {
		fc.consume()
	}
	// re-subscribing grants a full window and forgets partial consumption
	assert.Equal(t, uint32(10), fc.initial())
	for i := 0; i < 4; i++ {
		assert.Zero(t, fc.consume())
	}
	assert.Equal(t, uint32(5), fc.consume())
}
