package pulsar

// flowController tracks message permits granted to the broker. The broker
// may push one message per permit; the consumer re-grants in half-queue
// chunks as it consumes, so the broker always sees between half and a full
// receiver queue of credit. Counts only ever move up by consumption and
// reset on grant, so the outstanding permit count can never go negative.
type flowController struct {
	queueSize uint32
	threshold uint32
	consumed  uint32
}

func newFlowController(queueSize uint32) *flowController {
	threshold := queueSize / 2
	if threshold == 0 {
		threshold = 1
	}
	return &flowController{queueSize: queueSize, threshold: threshold}
}

// initial returns the permit grant for a fresh (or re-established)
// subscription and clears the consumption count.
func (fc *flowController) initial() uint32 {
	fc.consumed = 0
	return fc.queueSize
}

// consume records one dispatched message and returns the number of permits
// to grant now: zero until consumption reaches half the queue, then the
// accumulated count.
func (fc *flowController) consume() uint32 {
	fc.consumed++
	if fc.consumed < fc.threshold {
		return 0
	}
	grant := fc.consumed
	fc.consumed = 0
	return grant
}
