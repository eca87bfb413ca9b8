package pulsar

import (
	"context"
	"encoding/binary"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Consumer receives messages from a topic under a named subscription.
// Delivery is credit-driven: the consumer grants the broker a window of
// message permits and tops it up as messages are dispatched, so the broker
// can never flood a slow receiver.
type Consumer struct {
	client       *Client
	topic        string
	subscription string
	opts         *consumerOptions
	id           uint64
	name         string
	log          Logger

	messages chan *Message
	events   chan *Frame
	closeCh  chan struct{}
	doneCh   chan struct{}
	closed   atomic.Bool

	// termErr is written once, before closeCh is closed, when the run loop
	// gives up; Receive surfaces it instead of ErrConsumerClosed
	termErr error

	// conn is written by subscribe and read by the ack and redelivery
	// paths on caller goroutines
	conn atomic.Pointer[Connection]

	logicalAddr  string
	physicalAddr string
	flow         *flowController
	acks         *ackTracker

	msgsReceived Counter
	acksSent     Counter
	redeliveries Counter
}

func newConsumer(ctx context.Context, client *Client, topic, subscription string, opts *consumerOptions) (*Consumer, error) {
	name := opts.name
	if name == "" {
		name = uuid.NewString()
	}
	labels := MetricLabels{"topic": topic, "subscription": subscription}
	c := &Consumer{
		client:       client,
		topic:        topic,
		subscription: subscription,
		opts:         opts,
		id:           client.nextConsumerID(),
		name:         name,
		log: client.log.WithFields(LogFields{
			"topic":        topic,
			"subscription": subscription,
		}),
		messages: make(chan *Message, opts.receiverQueueSize),
		// one slot of headroom so a CloseConsumer push fits behind a full
		// message window
		events:  make(chan *Frame, opts.receiverQueueSize+1),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
		flow:     newFlowController(opts.receiverQueueSize),
		acks:     newAckTracker(),

		msgsReceived: client.opts.metrics.Counter("pulsar_consumer_messages_received", labels),
		acksSent:     client.opts.metrics.Counter("pulsar_consumer_acks_sent", labels),
		redeliveries: client.opts.metrics.Counter("pulsar_consumer_redelivery_requests", labels),
	}

	if err := c.subscribe(ctx); err != nil {
		return nil, err
	}
	client.opts.runtime.Spawn("consumer-"+topic, c.run)
	return c, nil
}

// subscribe attaches the consumer to its topic's broker and grants the
// initial permit window. The Flow command is on the wire before subscribe
// returns, so the broker can start dispatching immediately.
func (c *Consumer) subscribe(ctx context.Context) error {
	result, err := c.client.lookup.Lookup(ctx, c.topic)
	if err != nil {
		return err
	}
	conn, err := c.client.cm.GetConnection(ctx, result.logicalAddr, result.physicalAddr)
	if err != nil {
		return err
	}

	conn.RegisterConsumerHandler(c.id, c.events)

	requestID := conn.NextRequestID()
	sub := &CommandSubscribe{
		Topic:           c.topic,
		Subscription:    c.subscription,
		SubType:         c.opts.subType,
		ConsumerID:      c.id,
		RequestID:       requestID,
		ConsumerName:    c.name,
		Durable:         c.opts.durable,
		Metadata:        propertiesFromMap(c.opts.properties),
		ReadCompacted:   c.opts.readCompacted,
		InitialPosition: c.opts.initialPosition,
	}
	if c.opts.startMessageID != nil {
		data := c.opts.startMessageID.toData()
		sub.StartMessageID = &data
	}
	frame := &Frame{Command: &BaseCommand{Type: CommandTypeSubscribe, Subscribe: sub}}

	reqCtx, cancel := context.WithTimeout(ctx, c.client.opts.operationTimeout)
	resp, err := conn.SendRequest(reqCtx, requestID, frame)
	cancel()
	if err != nil {
		conn.UnregisterConsumerHandler(c.id)
		return err
	}
	if resp.Command.Type != CommandTypeSuccess {
		conn.UnregisterConsumerHandler(c.id)
		return newProtocolError("subscribe answered with %s", resp.Command.Type)
	}

	c.logicalAddr, c.physicalAddr = result.logicalAddr, result.physicalAddr
	c.conn.Store(conn)
	if err := c.sendFlow(c.flow.initial()); err != nil {
		conn.UnregisterConsumerHandler(c.id)
		return err
	}
	c.log.Info("consumer subscribed", LogFields{"broker": conn.LogicalAddr(), "consumer_id": c.id})
	return nil
}

func (c *Consumer) sendFlow(permits uint32) error {
	if permits == 0 {
		return nil
	}
	return c.conn.Load().SendFrame(&Frame{Command: &BaseCommand{
		Type: CommandTypeFlow,
		Flow: &CommandFlow{ConsumerID: c.id, MessagePermits: permits},
	}})
}

// Topic returns the topic this consumer reads from.
func (c *Consumer) Topic() string { return c.topic }

// Subscription returns the subscription name.
func (c *Consumer) Subscription() string { return c.subscription }

// Receive blocks until a message is available, the context expires or the
// consumer closes.
func (c *Consumer) Receive(ctx context.Context) (*Message, error) {
	select {
	case msg := <-c.messages:
		return msg, nil
	default:
	}
	select {
	case msg := <-c.messages:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closeCh:
		if c.termErr != nil {
			return nil, c.termErr
		}
		return nil, ErrConsumerClosed
	}
}

// Chan exposes the delivery queue directly.
func (c *Consumer) Chan() <-chan *Message { return c.messages }

// Ack acknowledges a single message. The ack is fire-and-forget: the broker
// sends no response.
func (c *Consumer) Ack(msg *Message) error {
	return c.AckID(msg.ID)
}

// AckID acknowledges a single message by id.
func (c *Consumer) AckID(id MessageID) error {
	if c.closed.Load() {
		return ErrConsumerClosed
	}
	c.acks.ack(id)
	err := c.conn.Load().SendFrame(&Frame{Command: &BaseCommand{
		Type: CommandTypeAck,
		Ack: &CommandAck{
			ConsumerID: c.id,
			AckType:    AckTypeIndividual,
			MessageIDs: []MessageIdData{id.toData()},
		},
	}})
	if err == nil {
		c.acksSent.Inc()
	}
	return err
}

// AckCumulative acknowledges every message of the subscription up to and
// including id.
func (c *Consumer) AckCumulative(id MessageID) error {
	if c.closed.Load() {
		return ErrConsumerClosed
	}
	c.acks.ackCumulative(id)
	err := c.conn.Load().SendFrame(&Frame{Command: &BaseCommand{
		Type: CommandTypeAck,
		Ack: &CommandAck{
			ConsumerID: c.id,
			AckType:    AckTypeCumulative,
			MessageIDs: []MessageIdData{id.toData()},
		},
	}})
	if err == nil {
		c.acksSent.Inc()
	}
	return err
}

// Nack requests redelivery of msg after the configured delay.
func (c *Consumer) Nack(msg *Message) {
	c.NackID(msg.ID)
}

// NackID requests redelivery of a message by id after the configured delay.
func (c *Consumer) NackID(id MessageID) {
	c.acks.nack(id, c.opts.nackDelay)
}

// RedeliverUnacknowledged asks the broker to redeliver every tracked
// unacknowledged message immediately.
func (c *Consumer) RedeliverUnacknowledged() error {
	if c.closed.Load() {
		return ErrConsumerClosed
	}
	c.acks.clear()
	err := c.conn.Load().SendFrame(&Frame{Command: &BaseCommand{
		Type: CommandTypeRedeliverUnacknowledgedMessages,
		RedeliverUnacknowledgedMessages: &CommandRedeliverUnacknowledgedMessages{
			ConsumerID: c.id,
		},
	}})
	if err == nil {
		c.redeliveries.Inc()
	}
	return err
}

// Unsubscribe removes the subscription from the broker and closes the
// consumer.
func (c *Consumer) Unsubscribe(ctx context.Context) error {
	if c.closed.Load() {
		return ErrConsumerClosed
	}
	conn := c.conn.Load()
	requestID := conn.NextRequestID()
	frame := &Frame{Command: &BaseCommand{
		Type:        CommandTypeUnsubscribe,
		Unsubscribe: &CommandUnsubscribe{ConsumerID: c.id, RequestID: requestID},
	}}
	reqCtx, cancel := context.WithTimeout(ctx, c.client.opts.operationTimeout)
	resp, err := conn.SendRequest(reqCtx, requestID, frame)
	cancel()
	if err != nil {
		return err
	}
	if resp.Command.Type != CommandTypeSuccess {
		return newProtocolError("unsubscribe answered with %s", resp.Command.Type)
	}
	return c.Close()
}

// Close detaches the consumer from the broker and stops the run loop.
// Buffered messages still in the delivery queue are discarded.
func (c *Consumer) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.closeCh)
	<-c.doneCh
	return nil
}

// run is the consumer event loop: it decodes pushed message frames, tops up
// flow permits, sweeps overdue acknowledgments and drives reconnection.
func (c *Consumer) run() {
	defer close(c.doneCh)
	sweepTicker := c.client.opts.runtime.NewTicker(time.Second)
	defer sweepTicker.Stop()

	for {
		conn := c.conn.Load()
		select {
		case frame := <-c.events:
			c.handleEvent(frame)

		case <-sweepTicker.C():
			c.sweepRedeliveries()

		case <-conn.Done():
			c.log.Warn("consumer connection lost", LogFields{"error": conn.Err()})
			if err := c.reconnect(); err != nil {
				c.shutdown(err)
				return
			}

		case <-c.closeCh:
			c.detach()
			return
		}
	}
}

func (c *Consumer) handleEvent(frame *Frame) {
	switch frame.Command.Type {
	case CommandTypeMessage:
		if err := c.handleMessage(frame); err != nil {
			c.log.Error("dropping undecodable message", LogFields{"error": err})
		}
	case CommandTypeCloseConsumer:
		c.log.Info("broker closed consumer, reconnecting", nil)
		c.conn.Load().UnregisterConsumerHandler(c.id)
		if err := c.reconnect(); err != nil {
			c.shutdown(err)
		}
	default:
		c.log.Warn("unexpected consumer event", LogFields{"type": frame.Command.Type.String()})
	}
}

// handleMessage decodes a pushed message frame, unpacks batches and hands
// the messages to the delivery queue, topping up permits as it goes.
func (c *Consumer) handleMessage(frame *Frame) error {
	cmd := frame.Command.Message
	if cmd == nil || cmd.MessageID == nil || frame.Metadata == nil {
		return newProtocolError("message frame without id or metadata")
	}
	meta := frame.Metadata

	provider, err := c.client.opts.compression.Provider(meta.Compression)
	if err != nil {
		return err
	}
	payload, err := provider.Decompress(frame.Payload, int(meta.UncompressedSize))
	if err != nil {
		return err
	}

	base := messageIDFromData(cmd.MessageID)
	if meta.NumMessagesInBatch <= 1 {
		base.BatchIndex = -1
		msg := &Message{
			ID:              base,
			Payload:         payload,
			Key:             meta.PartitionKey,
			Properties:      propertiesToMap(meta.Properties),
			Topic:           c.topic,
			ProducerName:    meta.ProducerName,
			PublishTime:     time.UnixMilli(int64(meta.PublishTime)),
			RedeliveryCount: cmd.RedeliveryCount,
		}
		if meta.EventTime != 0 {
			msg.EventTime = time.UnixMilli(int64(meta.EventTime))
		}
		c.dispatch(msg)
		return nil
	}

	for i := int32(0); i < meta.NumMessagesInBatch; i++ {
		if len(payload) < 4 {
			return newProtocolError("truncated batch entry %d", i)
		}
		metaSize := binary.BigEndian.Uint32(payload)
		payload = payload[4:]
		if uint32(len(payload)) < metaSize {
			return newProtocolError("truncated batch entry %d", i)
		}
		var smm SingleMessageMetadata
		if err := smm.unmarshal(payload[:metaSize]); err != nil {
			return err
		}
		payload = payload[metaSize:]
		if smm.PayloadSize < 0 || len(payload) < int(smm.PayloadSize) {
			return newProtocolError("truncated batch entry %d", i)
		}
		body := payload[:smm.PayloadSize]
		payload = payload[smm.PayloadSize:]

		if smm.CompactedOut {
			continue
		}
		id := base
		id.BatchIndex = i
		msg := &Message{
			ID:              id,
			Payload:         body,
			Key:             smm.PartitionKey,
			Properties:      propertiesToMap(smm.Properties),
			Topic:           c.topic,
			ProducerName:    meta.ProducerName,
			PublishTime:     time.UnixMilli(int64(meta.PublishTime)),
			RedeliveryCount: cmd.RedeliveryCount,
		}
		if smm.EventTime != 0 {
			msg.EventTime = time.UnixMilli(int64(smm.EventTime))
		}
		c.dispatch(msg)
	}
	return nil
}

// dispatch routes one decoded message: dead-lettered when its redeliveries
// are spent, otherwise tracked and queued for Receive. The permit top-up
// happens here, after the message left the broker's window.
func (c *Consumer) dispatch(msg *Message) {
	c.msgsReceived.Inc()

	if c.opts.deadLetter != nil && msg.RedeliveryCount > c.opts.maxRedeliveries {
		if err := c.opts.deadLetter(msg); err != nil {
			c.log.Error("dead letter handler failed", LogFields{"id": msg.ID.String(), "error": err})
		} else if err := c.AckID(msg.ID); err != nil {
			c.log.Warn("dead letter ack failed", LogFields{"id": msg.ID.String(), "error": err})
		}
		c.topUp()
		return
	}

	c.acks.track(msg.ID)
	select {
	case c.messages <- msg:
		c.topUp()
	case <-c.closeCh:
	}
}

func (c *Consumer) topUp() {
	if permits := c.flow.consume(); permits > 0 {
		if err := c.sendFlow(permits); err != nil {
			c.log.Debug("flow grant deferred to reconnect", LogFields{"error": err})
		}
	}
}

// sweepRedeliveries requests redelivery of due negative acks and timed-out
// unacknowledged messages.
func (c *Consumer) sweepRedeliveries() {
	due := c.acks.sweep(time.Now(), c.opts.ackTimeout)
	if len(due) == 0 {
		return
	}
	err := c.conn.Load().SendFrame(&Frame{Command: &BaseCommand{
		Type: CommandTypeRedeliverUnacknowledgedMessages,
		RedeliverUnacknowledgedMessages: &CommandRedeliverUnacknowledgedMessages{
			ConsumerID: c.id,
			MessageIDs: due,
		},
	}})
	if err != nil {
		c.log.Debug("redelivery request deferred to reconnect", LogFields{"error": err})
		return
	}
	c.redeliveries.Inc()
}

// reconnect re-subscribes after a connection loss. The broker redelivers
// whatever the old session left unacknowledged, so local tracking restarts
// clean with a full permit window. A non-retryable broker error aborts
// immediately; otherwise attempts run until the retry budget is exhausted.
func (c *Consumer) reconnect() error {
	if conn := c.conn.Load(); conn != nil && conn.State() != ConnectionReady {
		c.client.cm.Invalidate(c.logicalAddr, c.physicalAddr)
	}
	c.acks.clear()
	bo := newBackoff(c.client.opts.backoffPolicy)
	for attempt := 1; ; attempt++ {
		if c.opts.maxReconnectAttempts > 0 && attempt > c.opts.maxReconnectAttempts {
			return ErrRetriesExhausted
		}
		select {
		case <-c.client.opts.runtime.After(bo.next()):
		case <-c.closeCh:
			return ErrConsumerClosed
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.client.opts.operationTimeout)
		err := c.subscribe(ctx)
		cancel()
		if err != nil {
			var brokerErr *BrokerError
			if errors.As(err, &brokerErr) && !brokerErr.Retryable() {
				c.log.Error("consumer reconnect aborted", LogFields{"error": err})
				return err
			}
			c.log.Warn("consumer reconnect failed", LogFields{"attempt": attempt, "error": err})
			continue
		}
		c.log.Info("consumer reconnected", nil)
		return nil
	}
}

// detach tells the broker to release the consumer and unregisters locally.
func (c *Consumer) detach() {
	conn := c.conn.Load()
	if conn != nil && conn.State() == ConnectionReady {
		requestID := conn.NextRequestID()
		frame := &Frame{Command: &BaseCommand{
			Type:          CommandTypeCloseConsumer,
			CloseConsumer: &CommandCloseConsumer{ConsumerID: c.id, RequestID: requestID},
		}}
		ctx, cancel := context.WithTimeout(context.Background(), c.client.opts.operationTimeout)
		if _, err := conn.SendRequest(ctx, requestID, frame); err != nil {
			c.log.Debug("close consumer request failed", LogFields{"error": err})
		}
		cancel()
	}
	c.shutdown(nil)
}

func (c *Consumer) shutdown(err error) {
	if conn := c.conn.Load(); conn != nil {
		conn.UnregisterConsumerHandler(c.id)
	}
	// termErr must be in place before closeCh closes so Receive observes it
	if c.closed.CompareAndSwap(false, true) {
		c.termErr = err
		close(c.closeCh)
	}
	c.acks.clear()
	c.log.Info("consumer closed", nil)
}
