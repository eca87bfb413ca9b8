package pulsar

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ConnectionState is the lifecycle state of a Connection.
type ConnectionState int32

// Connection lifecycle. Closed is the absorbing terminal state: every
// operation against a closed connection fails immediately.
const (
	// ConnectionConnecting means the transport is being established.
	ConnectionConnecting ConnectionState = iota
	// ConnectionAuthenticating means the Connect/Connected handshake is in
	// progress.
	ConnectionAuthenticating
	// ConnectionReady means the connection is established and serving
	// traffic.
	ConnectionReady
	// ConnectionClosing means teardown has started.
	ConnectionClosing
	// ConnectionClosed means the connection is gone.
	ConnectionClosed
)

// String returns the state name.
func (s ConnectionState) String() string {
	switch s {
	case ConnectionConnecting:
		return "connecting"
	case ConnectionAuthenticating:
		return "authenticating"
	case ConnectionReady:
		return "ready"
	case ConnectionClosing:
		return "closing"
	case ConnectionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type connectionConfig struct {
	auth              Authentication
	proxyToBrokerURL  string
	keepAliveInterval time.Duration
	maxFrameSize      uint32
	writeQueueSize    int
	runtime           Runtime
	logger            Logger
	metrics           Metrics
}

func (c *connectionConfig) withDefaults() {
	if c.auth == nil {
		c.auth = NewAuthNone()
	}
	if c.keepAliveInterval == 0 {
		c.keepAliveInterval = 30 * time.Second
	}
	if c.maxFrameSize == 0 {
		c.maxFrameSize = DefaultMaxFrameSize
	}
	if c.writeQueueSize == 0 {
		c.writeQueueSize = 128
	}
	if c.runtime == nil {
		c.runtime = NewGoRuntime()
	}
	if c.logger == nil {
		c.logger = NewNoOpLogger()
	}
	if c.metrics == nil {
		c.metrics = NewNoOpMetrics()
	}
}

// Connection multiplexes requests, producer sends and consumer pushes over
// one socket to one broker. Outgoing frames are serialized by a writer
// loop; incoming frames are correlated by request id or routed to the
// registered producer/consumer handlers.
type Connection struct {
	logicalAddr  string
	physicalAddr string
	conn         Conn
	cfg          connectionConfig
	log          Logger

	state     atomic.Int32
	requestID atomic.Uint64

	writeCh chan *Frame
	pongCh  chan struct{}

	closeOnce sync.Once
	closeCh   chan struct{}
	closeErr  atomic.Value // error

	mu        sync.Mutex
	pending   map[uint64]chan *Frame
	producers map[uint64]chan *Frame
	consumers map[uint64]chan *Frame

	// broker-announced limits from the Connected response
	serverVersion  string
	maxMessageSize int32

	framesRead    Counter
	framesWritten Counter
}

// newConnection performs the Connect handshake over an established
// transport and starts the read/write/keepalive loops.
func newConnection(ctx context.Context, conn Conn, logicalAddr, physicalAddr string, cfg connectionConfig) (*Connection, error) {
	cfg.withDefaults()
	c := &Connection{
		logicalAddr:  logicalAddr,
		physicalAddr: physicalAddr,
		conn:         conn,
		cfg:          cfg,
		log: cfg.logger.WithFields(LogFields{
			"remote": physicalAddr,
		}),
		writeCh:   make(chan *Frame, cfg.writeQueueSize),
		pongCh:    make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
		pending:   make(map[uint64]chan *Frame),
		producers: make(map[uint64]chan *Frame),
		consumers: make(map[uint64]chan *Frame),
		framesRead: cfg.metrics.Counter("pulsar_client_frames_read_total",
			MetricLabels{"remote": physicalAddr}),
		framesWritten: cfg.metrics.Counter("pulsar_client_frames_written_total",
			MetricLabels{"remote": physicalAddr}),
	}
	c.state.Store(int32(ConnectionConnecting))

	if err := c.handshake(ctx); err != nil {
		c.state.Store(int32(ConnectionClosed))
		conn.Close()
		return nil, err
	}

	c.state.Store(int32(ConnectionReady))
	c.log.Debug("connection established", LogFields{"server": c.serverVersion})

	cfg.runtime.Spawn("connection-read", c.readLoop)
	cfg.runtime.Spawn("connection-write", c.writeLoop)
	if cfg.keepAliveInterval > 0 {
		cfg.runtime.Spawn("connection-keepalive", c.keepAliveLoop)
	}
	return c, nil
}

// handshake sends Connect and waits for Connected before any other traffic.
func (c *Connection) handshake(ctx context.Context) error {
	c.state.Store(int32(ConnectionAuthenticating))

	frame, err := newConnectFrame(c.cfg.auth, c.cfg.proxyToBrokerURL)
	if err != nil {
		return fmt.Errorf("produce auth data: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}
	if _, err := WriteFrame(c.conn, frame, c.cfg.maxFrameSize); err != nil {
		return err
	}

	resp, _, err := ReadFrame(c.conn, c.cfg.maxFrameSize)
	if err != nil {
		return err
	}
	switch resp.Command.Type {
	case CommandTypeConnected:
		c.serverVersion = resp.Command.Connected.ServerVersion
		c.maxMessageSize = resp.Command.Connected.MaxMessageSize
		return nil
	case CommandTypeError:
		return &BrokerError{
			Code:    resp.Command.Error.Error,
			Message: resp.Command.Error.Message,
		}
	default:
		return fmt.Errorf("%w: %s during handshake", ErrUnexpectedResponse, resp.Command.Type)
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// LogicalAddr returns the broker address this connection was requested for.
func (c *Connection) LogicalAddr() string { return c.logicalAddr }

// PhysicalAddr returns the address the transport actually connected to.
func (c *Connection) PhysicalAddr() string { return c.physicalAddr }

// MaxMessageSize returns the broker-announced message size limit, or 0 if
// the broker did not announce one.
func (c *Connection) MaxMessageSize() int32 { return c.maxMessageSize }

// NextRequestID allocates a connection-unique request id.
func (c *Connection) NextRequestID() uint64 {
	return c.requestID.Add(1)
}

// Done returns a channel closed when the connection is torn down.
func (c *Connection) Done() <-chan struct{} { return c.closeCh }

// Err returns the error that closed the connection, or nil.
func (c *Connection) Err() error {
	if err, ok := c.closeErr.Load().(error); ok {
		return err
	}
	return nil
}

// SendFrame enqueues a frame for writing without waiting for any response.
func (c *Connection) SendFrame(f *Frame) error {
	select {
	case c.writeCh <- f:
		return nil
	case <-c.closeCh:
		return ErrConnectionClosed
	}
}

// SendRequest writes a request frame carrying the given request id and
// suspends until the matching response arrives, the context expires, or the
// connection closes. Error responses are converted to *BrokerError.
func (c *Connection) SendRequest(ctx context.Context, requestID uint64, f *Frame) (*Frame, error) {
	if c.State() != ConnectionReady {
		return nil, ErrConnectionClosed
	}
	ch := make(chan *Frame, 1)
	c.mu.Lock()
	c.pending[requestID] = ch
	c.mu.Unlock()

	if err := c.SendFrame(f); err != nil {
		c.removePending(requestID)
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Command.Type == CommandTypeError {
			return nil, &BrokerError{
				Code:    resp.Command.Error.Error,
				Message: resp.Command.Error.Message,
			}
		}
		return resp, nil
	case <-ctx.Done():
		c.removePending(requestID)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrRequestTimeout
		}
		return nil, ctx.Err()
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	}
}

func (c *Connection) removePending(requestID uint64) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}

// RegisterProducerHandler routes send receipts, send errors and broker-side
// close notifications for the producer id to ch. Frames for a full channel
// are dropped, so ch should be sized to the producer's in-flight limit.
func (c *Connection) RegisterProducerHandler(producerID uint64, ch chan *Frame) {
	c.mu.Lock()
	c.producers[producerID] = ch
	c.mu.Unlock()
}

// UnregisterProducerHandler removes the producer route.
func (c *Connection) UnregisterProducerHandler(producerID uint64) {
	c.mu.Lock()
	delete(c.producers, producerID)
	c.mu.Unlock()
}

// RegisterConsumerHandler routes pushed messages and broker-side close
// notifications for the consumer id to ch. Frames for a full channel are
// dropped, so ch should be sized to the consumer's receiver queue.
func (c *Connection) RegisterConsumerHandler(consumerID uint64, ch chan *Frame) {
	c.mu.Lock()
	c.consumers[consumerID] = ch
	c.mu.Unlock()
}

// UnregisterConsumerHandler removes the consumer route.
func (c *Connection) UnregisterConsumerHandler(consumerID uint64) {
	c.mu.Lock()
	delete(c.consumers, consumerID)
	c.mu.Unlock()
}

// Close tears the connection down. It is idempotent: pending requests fail
// with ErrConnectionClosed and registered handlers observe Done().
func (c *Connection) Close() {
	c.closeWithError(nil)
}

func (c *Connection) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(ConnectionClosing))
		if err != nil {
			c.closeErr.Store(err)
			c.log.Warn("connection closed", LogFields{"error": err})
		} else {
			c.log.Debug("connection closed", nil)
		}
		close(c.closeCh)
		c.conn.Close()

		c.mu.Lock()
		c.pending = make(map[uint64]chan *Frame)
		c.producers = make(map[uint64]chan *Frame)
		c.consumers = make(map[uint64]chan *Frame)
		c.mu.Unlock()

		c.state.Store(int32(ConnectionClosed))
	})
}

func (c *Connection) writeLoop() {
	for {
		select {
		case f := <-c.writeCh:
			if _, err := WriteFrame(c.conn, f, c.cfg.maxFrameSize); err != nil {
				c.closeWithError(err)
				return
			}
			c.framesWritten.Inc()
		case <-c.closeCh:
			return
		}
	}
}

func (c *Connection) readLoop() {
	r := bufio.NewReader(c.conn)
	for {
		frame, _, err := ReadFrame(r, c.cfg.maxFrameSize)
		if err != nil {
			c.closeWithError(err)
			return
		}
		c.framesRead.Inc()
		c.dispatch(frame)
	}
}

// dispatch routes one inbound frame. Responses are matched strictly by
// request id; producer and consumer traffic goes to the registered
// handlers; unmatched frames are logged and dropped.
func (c *Connection) dispatch(frame *Frame) {
	cmd := frame.Command
	switch cmd.Type {
	case CommandTypePing:
		if err := c.SendFrame(newPongFrame()); err != nil {
			c.log.Debug("dropping pong for closing connection", nil)
		}
	case CommandTypePong:
		select {
		case c.pongCh <- struct{}{}:
		default:
		}
	case CommandTypeSendReceipt:
		c.routeProducer(cmd.SendReceipt.ProducerID, frame)
	case CommandTypeSendError:
		c.routeProducer(cmd.SendError.ProducerID, frame)
	case CommandTypeCloseProducer:
		c.routeProducer(cmd.CloseProducer.ProducerID, frame)
	case CommandTypeMessage:
		c.routeConsumer(cmd.Message.ConsumerID, frame)
	case CommandTypeCloseConsumer:
		c.routeConsumer(cmd.CloseConsumer.ConsumerID, frame)
	default:
		if requestID, ok := cmd.requestID(); ok {
			c.mu.Lock()
			ch, found := c.pending[requestID]
			delete(c.pending, requestID)
			c.mu.Unlock()
			if found {
				ch <- frame
				return
			}
			// no caller is waiting; not fatal
			c.log.Warn("unmatched response id, dropping", LogFields{
				"requestID": requestID,
				"type":      cmd.Type.String(),
			})
			return
		}
		c.log.Warn("unexpected command, dropping", LogFields{"type": cmd.Type.String()})
	}
}

func (c *Connection) routeProducer(producerID uint64, frame *Frame) {
	c.mu.Lock()
	ch := c.producers[producerID]
	c.mu.Unlock()
	if ch == nil {
		c.log.Warn("frame for unregistered producer, dropping", LogFields{
			"producerID": producerID,
			"type":       frame.Command.Type.String(),
		})
		return
	}
	// never block the read loop on one stalled producer
	select {
	case ch <- frame:
	default:
		c.log.Warn("producer handler queue full, dropping frame", LogFields{
			"producerID": producerID,
			"type":       frame.Command.Type.String(),
		})
	}
}

func (c *Connection) routeConsumer(consumerID uint64, frame *Frame) {
	c.mu.Lock()
	ch := c.consumers[consumerID]
	c.mu.Unlock()
	if ch == nil {
		c.log.Warn("frame for unregistered consumer, dropping", LogFields{
			"consumerID": consumerID,
			"type":       frame.Command.Type.String(),
		})
		return
	}
	// never block the read loop on one stalled consumer; flow control keeps
	// a well-behaved broker inside the handler's buffer
	select {
	case ch <- frame:
	default:
		c.log.Warn("consumer handler queue full, dropping frame", LogFields{
			"consumerID": consumerID,
			"type":       frame.Command.Type.String(),
		})
	}
}

func (c *Connection) keepAliveLoop() {
	ticker := c.cfg.runtime.NewTicker(c.cfg.keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			// drain a pong left over from the previous round
			select {
			case <-c.pongCh:
			default:
			}
			if err := c.SendFrame(newPingFrame()); err != nil {
				return
			}
			select {
			case <-c.pongCh:
			case <-c.cfg.runtime.After(c.cfg.keepAliveInterval):
				c.closeWithError(ErrKeepAliveTimeout)
				return
			case <-c.closeCh:
				return
			}
		case <-c.closeCh:
			return
		}
	}
}
