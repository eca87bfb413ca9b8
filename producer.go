package pulsar

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Producer publishes messages to a single topic. Sends are pipelined:
// messages are batched, assigned contiguous sequence ids and acknowledged
// cumulatively by broker receipts, in order. On connection loss the producer
// re-registers under the same name and id and retransmits its unacknowledged
// batches with their original sequence ids, so the broker can deduplicate.
type Producer struct {
	client  *Client
	topic   string
	opts    *producerOptions
	id      uint64
	log     Logger
	limiter *rate.Limiter

	sendCh  chan *pendingSend
	flushCh chan chan error
	closeCh chan struct{}
	doneCh  chan struct{}
	closed  atomic.Bool

	name           string
	lastSequenceID atomic.Int64

	// conn is written by register and read by SendAsync's size check, so it
	// lives outside the run loop's exclusive state
	conn atomic.Pointer[Connection]

	// run loop state
	logicalAddr  string
	physicalAddr string
	events       chan *Frame
	seq          uint64
	batch        *batchBuilder
	inflight     []*inflightBatch
	lingerCh     <-chan time.Time
	flushWaiters []flushWaiter
	provider     CompressionProvider

	msgsSent  Counter
	bytesSent Counter
	sendFails Counter
}

type flushWaiter struct {
	seq  uint64
	done chan error
}

func newProducer(ctx context.Context, client *Client, topic string, opts *producerOptions) (*Producer, error) {
	provider, err := client.opts.compression.Provider(opts.compression)
	if err != nil {
		return nil, err
	}
	name := opts.name
	if name == "" {
		name = uuid.NewString()
	}
	labels := MetricLabels{"topic": topic}
	p := &Producer{
		client:   client,
		topic:    topic,
		opts:     opts,
		id:       client.nextProducerID(),
		log:      client.log.WithFields(LogFields{"topic": topic, "producer": name}),
		limiter:  rate.NewLimiter(opts.publishRate, opts.publishBurst),
		sendCh:   make(chan *pendingSend, opts.sendQueueSize),
		flushCh:  make(chan chan error, 1),
		closeCh:  make(chan struct{}),
		doneCh:   make(chan struct{}),
		name:     name,
		batch:    newBatchBuilder(),
		provider: provider,

		msgsSent:  client.opts.metrics.Counter("pulsar_producer_messages_sent", labels),
		bytesSent: client.opts.metrics.Counter("pulsar_producer_bytes_sent", labels),
		sendFails: client.opts.metrics.Counter("pulsar_producer_send_errors", labels),
	}
	p.lastSequenceID.Store(-1)

	if err := p.register(ctx); err != nil {
		return nil, err
	}
	client.opts.runtime.Spawn("producer-"+topic, p.run)
	return p, nil
}

// register looks up the topic's broker, obtains a pooled connection and
// registers the producer on it. On success p.conn carries the events
// channel for receipts and errors.
func (p *Producer) register(ctx context.Context) error {
	result, err := p.client.lookup.Lookup(ctx, p.topic)
	if err != nil {
		return err
	}
	conn, err := p.client.cm.GetConnection(ctx, result.logicalAddr, result.physicalAddr)
	if err != nil {
		return err
	}

	events := make(chan *Frame, 32)
	conn.RegisterProducerHandler(p.id, events)

	requestID := conn.NextRequestID()
	frame := &Frame{Command: &BaseCommand{
		Type: CommandTypeProducer,
		Producer: &CommandProducer{
			Topic:        p.topic,
			ProducerID:   p.id,
			RequestID:    requestID,
			ProducerName: p.name,
			Metadata:     propertiesFromMap(p.opts.properties),
		},
	}}
	reqCtx, cancel := context.WithTimeout(ctx, p.client.opts.operationTimeout)
	resp, err := conn.SendRequest(reqCtx, requestID, frame)
	cancel()
	if err != nil {
		conn.UnregisterProducerHandler(p.id)
		return err
	}
	if resp.Command.Type != CommandTypeProducerSuccess {
		conn.UnregisterProducerHandler(p.id)
		return newProtocolError("producer registration answered with %s", resp.Command.Type)
	}
	success := resp.Command.ProducerSuccess
	p.name = success.ProducerName
	if p.seq == 0 && success.LastSequenceID >= 0 {
		p.seq = uint64(success.LastSequenceID) + 1
		p.lastSequenceID.Store(success.LastSequenceID)
	}
	p.logicalAddr, p.physicalAddr = result.logicalAddr, result.physicalAddr
	p.conn.Store(conn)
	p.events = events
	p.log.Info("producer registered", LogFields{"broker": conn.LogicalAddr(), "producer_id": p.id})
	return nil
}

// Name returns the producer name registered on the broker.
func (p *Producer) Name() string { return p.name }

// Topic returns the topic this producer publishes to.
func (p *Producer) Topic() string { return p.topic }

// LastSequenceID returns the highest sequence id acknowledged by the
// broker, or -1 if nothing has been acknowledged yet.
func (p *Producer) LastSequenceID() int64 { return p.lastSequenceID.Load() }

// Send publishes msg and blocks until the broker acknowledges it.
func (p *Producer) Send(ctx context.Context, msg *ProducerMessage) (MessageID, error) {
	future, err := p.SendAsync(ctx, msg)
	if err != nil {
		return MessageID{}, err
	}
	return future.Wait(ctx)
}

// SendAsync enqueues msg for publishing and returns a future resolved by
// the broker receipt. The queue is bounded; when full, SendAsync fails with
// ErrSendQueueFull unless WithBlockIfQueueFull is set.
func (p *Producer) SendAsync(ctx context.Context, msg *ProducerMessage) (*SendFuture, error) {
	if p.closed.Load() {
		return nil, ErrProducerClosed
	}
	if max := p.maxMessageSize(); len(msg.Payload) > max {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrMessageTooLarge, len(msg.Payload), max)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ps := &pendingSend{msg: msg, future: newSendFuture(), enqueued: time.Now()}
	if p.opts.blockIfQueueFull {
		select {
		case p.sendCh <- ps:
			return ps.future, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.closeCh:
			return nil, ErrProducerClosed
		}
	}
	select {
	case p.sendCh <- ps:
		return ps.future, nil
	case <-p.closeCh:
		return nil, ErrProducerClosed
	default:
		return nil, ErrSendQueueFull
	}
}

// Flush forces the current batch out and blocks until every message
// accepted before the call is acknowledged.
func (p *Producer) Flush(ctx context.Context) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	done := make(chan error, 1)
	select {
	case p.flushCh <- done:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closeCh:
		return ErrProducerClosed
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending messages, waits for outstanding receipts, tells the
// broker to release the producer and stops the run loop.
func (p *Producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(p.closeCh)
	<-p.doneCh
	return nil
}

func (p *Producer) maxMessageSize() int {
	if conn := p.conn.Load(); conn != nil {
		if max := conn.MaxMessageSize(); max > 0 {
			return int(max)
		}
	}
	return 5 * 1024 * 1024
}

// run is the producer event loop. All batching, receipt and reconnect state
// is owned by this goroutine.
func (p *Producer) run() {
	defer close(p.doneCh)
	timeoutTicker := p.client.opts.runtime.NewTicker(time.Second)
	defer timeoutTicker.Stop()

	for {
		conn := p.conn.Load()
		select {
		case ps := <-p.sendCh:
			p.enqueue(ps)

		case <-p.lingerCh:
			p.lingerCh = nil
			p.flushBatch()

		case done := <-p.flushCh:
			p.flushBatch()
			if len(p.inflight) == 0 {
				done <- nil
			} else {
				p.flushWaiters = append(p.flushWaiters, flushWaiter{
					seq:  p.inflight[len(p.inflight)-1].highestSeq,
					done: done,
				})
			}

		case frame := <-p.events:
			p.handleEvent(frame)

		case <-timeoutTicker.C():
			p.expireStale()

		case <-conn.Done():
			p.log.Warn("producer connection lost", LogFields{"error": conn.Err()})
			if err := p.reconnect(); err != nil {
				p.shutdown(err)
				return
			}

		case <-p.closeCh:
			p.drainAndClose()
			return
		}
	}
}

// enqueue adds a queued send to the current batch, flushing when the batch
// fills or batching is disabled.
func (p *Producer) enqueue(ps *pendingSend) {
	seq := p.seq
	p.seq++
	wasEmpty := p.batch.empty()
	p.batch.add(seq, ps.msg, ps.future)

	switch {
	case !p.opts.batchingEnabled,
		p.batch.count >= p.opts.batchMaxMessages,
		p.batch.size() >= p.opts.batchMaxBytes:
		p.lingerCh = nil
		p.flushBatch()
	case wasEmpty && p.opts.batchLinger > 0:
		p.lingerCh = p.client.opts.runtime.After(p.opts.batchLinger)
	case p.opts.batchLinger <= 0:
		p.lingerCh = nil
		p.flushBatch()
	}
}

// flushBatch seals the current batch and writes it out.
func (p *Producer) flushBatch() {
	if p.batch.empty() {
		return
	}
	batch, err := p.batch.build(p.id, p.name, p.opts.compression, p.provider)
	if err != nil {
		p.sendFails.Inc()
		p.batch.fail(err)
		return
	}
	p.inflight = append(p.inflight, batch)
	if err := p.conn.Load().SendFrame(batch.frame); err != nil {
		// connection is going down; the reconnect path retransmits
		p.log.Debug("send deferred to reconnect", LogFields{"error": err})
	}
}

// handleEvent processes a pushed frame for this producer id.
func (p *Producer) handleEvent(frame *Frame) {
	switch frame.Command.Type {
	case CommandTypeSendReceipt:
		p.handleReceipt(frame.Command.SendReceipt)
	case CommandTypeSendError:
		p.handleSendError(frame.Command.SendError)
	case CommandTypeCloseProducer:
		p.log.Info("broker closed producer, reconnecting", nil)
		p.conn.Load().UnregisterProducerHandler(p.id)
		if err := p.reconnect(); err != nil {
			p.shutdown(err)
		}
	default:
		p.log.Warn("unexpected producer event", LogFields{"type": frame.Command.Type.String()})
	}
}

// handleReceipt resolves in-flight batches cumulatively: a receipt for
// sequence N confirms every batch whose range lies at or below N, oldest
// first. Each batch resolves exactly once.
func (p *Producer) handleReceipt(receipt *CommandSendReceipt) {
	var id MessageID
	if receipt.MessageID != nil {
		id = messageIDFromData(receipt.MessageID)
	}
	for len(p.inflight) > 0 && p.inflight[0].lowestSeq <= receipt.SequenceID {
		batch := p.inflight[0]
		p.inflight = p.inflight[1:]
		p.lastSequenceID.Store(int64(batch.highestSeq))
		batch.resolve(id)
		p.msgsSent.Add(float64(len(batch.futures)))
		p.bytesSent.Add(float64(len(batch.frame.Payload)))
		p.notifyFlushWaiters(batch.highestSeq, nil)
	}
}

// handleSendError fails the batch the broker rejected. Later batches stay
// in flight.
func (p *Producer) handleSendError(sendErr *CommandSendError) {
	err := &BrokerError{Code: sendErr.Error, Message: sendErr.Message}
	for i, batch := range p.inflight {
		if batch.lowestSeq == sendErr.SequenceID {
			p.inflight = append(p.inflight[:i], p.inflight[i+1:]...)
			batch.fail(err)
			p.sendFails.Inc()
			p.notifyFlushWaiters(batch.highestSeq, err)
			return
		}
	}
	p.log.Warn("send error for unknown sequence", LogFields{
		"sequence_id": sendErr.SequenceID,
		"error":       sendErr.Error.String(),
	})
}

func (p *Producer) notifyFlushWaiters(seq uint64, err error) {
	for len(p.flushWaiters) > 0 && p.flushWaiters[0].seq <= seq {
		p.flushWaiters[0].done <- err
		p.flushWaiters = p.flushWaiters[1:]
	}
}

// expireStale fails in-flight batches that outlived the send timeout.
// Receipts resolve in order, so only the head can be stale.
func (p *Producer) expireStale() {
	if p.opts.sendTimeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-p.opts.sendTimeout)
	for len(p.inflight) > 0 && p.inflight[0].sentAt.Before(cutoff) {
		batch := p.inflight[0]
		p.inflight = p.inflight[1:]
		batch.fail(fmt.Errorf("%w: no receipt within %s", ErrRequestTimeout, p.opts.sendTimeout))
		p.sendFails.Inc()
		p.notifyFlushWaiters(batch.highestSeq, ErrRequestTimeout)
	}
}

// reconnect re-registers the producer after a connection loss and
// retransmits the in-flight window in order with the original sequence ids.
// A non-retryable broker error aborts immediately; otherwise attempts run
// until the retry budget is exhausted.
func (p *Producer) reconnect() error {
	if conn := p.conn.Load(); conn != nil && conn.State() != ConnectionReady {
		p.client.cm.Invalidate(p.logicalAddr, p.physicalAddr)
	}
	bo := newBackoff(p.client.opts.backoffPolicy)
	for attempt := 1; ; attempt++ {
		if p.opts.maxReconnectAttempts > 0 && attempt > p.opts.maxReconnectAttempts {
			return ErrRetriesExhausted
		}
		select {
		case <-p.client.opts.runtime.After(bo.next()):
		case <-p.closeCh:
			return ErrProducerClosed
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.client.opts.operationTimeout)
		err := p.register(ctx)
		cancel()
		if err != nil {
			var brokerErr *BrokerError
			if errors.As(err, &brokerErr) && !brokerErr.Retryable() {
				p.log.Error("producer reconnect aborted", LogFields{"error": err})
				return err
			}
			p.log.Warn("producer reconnect failed", LogFields{"attempt": attempt, "error": err})
			continue
		}
		conn := p.conn.Load()
		for _, batch := range p.inflight {
			if err := conn.SendFrame(batch.frame); err != nil {
				break
			}
		}
		p.log.Info("producer reconnected", LogFields{"retransmitted": len(p.inflight)})
		return nil
	}
}

// drainAndClose flushes the open batch, waits briefly for outstanding
// receipts and releases the producer on the broker.
func (p *Producer) drainAndClose() {
	p.flushBatch()

	deadline := p.client.opts.runtime.After(p.client.opts.operationTimeout)
	for len(p.inflight) > 0 {
		select {
		case frame := <-p.events:
			p.handleEvent(frame)
		case <-p.conn.Load().Done():
			p.shutdown(ErrConnectionClosed)
			return
		case <-deadline:
			p.shutdown(ErrProducerClosed)
			return
		}
	}
	p.shutdown(ErrProducerClosed)
}

// shutdown releases broker-side state and fails whatever is still pending
// with err.
func (p *Producer) shutdown(err error) {
	conn := p.conn.Load()
	if conn != nil && conn.State() == ConnectionReady {
		requestID := conn.NextRequestID()
		frame := &Frame{Command: &BaseCommand{
			Type:          CommandTypeCloseProducer,
			CloseProducer: &CommandCloseProducer{ProducerID: p.id, RequestID: requestID},
		}}
		ctx, cancel := context.WithTimeout(context.Background(), p.client.opts.operationTimeout)
		if _, reqErr := conn.SendRequest(ctx, requestID, frame); reqErr != nil {
			p.log.Debug("close producer request failed", LogFields{"error": reqErr})
		}
		cancel()
	}
	if conn != nil {
		conn.UnregisterProducerHandler(p.id)
	}
	// closeCh unblocks senders waiting on a full queue when the run loop
	// dies on its own
	if p.closed.CompareAndSwap(false, true) {
		close(p.closeCh)
	}

	p.batch.fail(err)
	for _, batch := range p.inflight {
		batch.fail(err)
	}
	p.inflight = nil
	for _, w := range p.flushWaiters {
		w.done <- err
	}
	p.flushWaiters = nil
	for {
		select {
		case ps := <-p.sendCh:
			ps.future.complete(MessageID{}, err)
		default:
			p.log.Info("producer closed", nil)
			return
		}
	}
}
