package pulsar

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testBroker speaks just enough of the wire protocol to serve the client
// under test: it answers handshakes, lookups and registrations, records
// interesting inbound frames and lets tests push frames to the client.
type testBroker struct {
	t          *testing.T
	serviceURL string

	dials atomic.Int32

	// when set, producer and consumer registrations are refused with a
	// terminal broker error
	failRegistrations atomic.Bool

	sends   chan *Frame
	acks    chan *Frame
	flows   chan uint32
	redeliv chan *Frame

	mu       sync.Mutex
	sessions []*brokerSession
}

type brokerSession struct {
	conn net.Conn
	out  chan *Frame
	done chan struct{}
}

func newTestBroker(t *testing.T) *testBroker {
	return &testBroker{
		t:          t,
		serviceURL: "pulsar://broker:6650",
		sends:      make(chan *Frame, 64),
		acks:       make(chan *Frame, 64),
		flows:      make(chan uint32, 64),
		redeliv:    make(chan *Frame, 64),
	}
}

// Dial implements Dialer. Every call starts a fresh broker session over an
// in-memory pipe.
func (b *testBroker) Dial(_ context.Context, _ string) (Conn, error) {
	b.dials.Add(1)
	client, server := net.Pipe()
	s := &brokerSession{
		conn: server,
		out:  make(chan *Frame, 64),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.sessions = append(b.sessions, s)
	b.mu.Unlock()
	go b.serve(s)
	go b.write(s)
	return client, nil
}

// push sends a frame to the client over the most recent session.
func (b *testBroker) push(f *Frame) {
	b.mu.Lock()
	s := b.sessions[len(b.sessions)-1]
	b.mu.Unlock()
	select {
	case s.out <- f:
	case <-time.After(5 * time.Second):
		b.t.Error("test broker push stalled")
	}
}

// dropSessions severs every open session, simulating broker failure.
func (b *testBroker) dropSessions() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.sessions {
		s.conn.Close()
	}
	b.sessions = nil
}

func (b *testBroker) write(s *brokerSession) {
	for {
		select {
		case f := <-s.out:
			if _, err := WriteFrame(s.conn, f, DefaultMaxFrameSize); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (b *testBroker) serve(s *brokerSession) {
	defer close(s.done)
	for {
		frame, _, err := ReadFrame(s.conn, DefaultMaxFrameSize)
		if err != nil {
			if err != io.EOF {
				return
			}
			return
		}
		cmd := frame.Command
		switch cmd.Type {
		case CommandTypeConnect:
			s.out <- &Frame{Command: &BaseCommand{
				Type: CommandTypeConnected,
				Connected: &CommandConnected{
					ServerVersion:  "test-broker",
					MaxMessageSize: 1024 * 1024,
				},
			}}
		case CommandTypePing:
			s.out <- &Frame{Command: &BaseCommand{Type: CommandTypePong, Pong: &CommandPong{}}}
		case CommandTypeLookup:
			s.out <- &Frame{Command: &BaseCommand{
				Type: CommandTypeLookupResponse,
				LookupResponse: &CommandLookupTopicResponse{
					BrokerServiceURL: b.serviceURL,
					Response:         LookupResponseConnect,
					RequestID:        cmd.Lookup.RequestID,
				},
			}}
		case CommandTypePartitionedMetadata:
			s.out <- &Frame{Command: &BaseCommand{
				Type: CommandTypePartitionedMetadataResponse,
				PartitionedMetadataResponse: &CommandPartitionedTopicMetadataResponse{
					Partitions: 3,
					RequestID:  cmd.PartitionedMetadata.RequestID,
					Response:   PartitionedMetadataSuccess,
				},
			}}
		case CommandTypeGetTopicsOfNamespace:
			s.out <- &Frame{Command: &BaseCommand{
				Type: CommandTypeGetTopicsOfNamespaceResponse,
				GetTopicsOfNamespaceResponse: &CommandGetTopicsOfNamespaceResponse{
					RequestID: cmd.GetTopicsOfNamespace.RequestID,
					Topics:    []string{"persistent://public/default/a"},
				},
			}}
		case CommandTypeProducer:
			if b.failRegistrations.Load() {
				s.out <- &Frame{Command: &BaseCommand{
					Type: CommandTypeError,
					Error: &CommandError{
						RequestID: cmd.Producer.RequestID,
						Error:     ServerErrorTopicNotFound,
						Message:   "topic deleted",
					},
				}}
				continue
			}
			s.out <- &Frame{Command: &BaseCommand{
				Type: CommandTypeProducerSuccess,
				ProducerSuccess: &CommandProducerSuccess{
					RequestID:      cmd.Producer.RequestID,
					ProducerName:   cmd.Producer.ProducerName,
					LastSequenceID: -1,
				},
			}}
		case CommandTypeSubscribe:
			if b.failRegistrations.Load() {
				s.out <- &Frame{Command: &BaseCommand{
					Type: CommandTypeError,
					Error: &CommandError{
						RequestID: cmd.Subscribe.RequestID,
						Error:     ServerErrorTopicNotFound,
						Message:   "topic deleted",
					},
				}}
				continue
			}
			s.out <- &Frame{Command: &BaseCommand{
				Type:    CommandTypeSuccess,
				Success: &CommandSuccess{RequestID: cmd.Subscribe.RequestID},
			}}
		case CommandTypeFlow:
			b.flows <- cmd.Flow.MessagePermits
		case CommandTypeSend:
			b.sends <- frame
		case CommandTypeAck:
			b.acks <- frame
		case CommandTypeRedeliverUnacknowledgedMessages:
			b.redeliv <- frame
		case CommandTypeCloseProducer:
			s.out <- &Frame{Command: &BaseCommand{
				Type:    CommandTypeSuccess,
				Success: &CommandSuccess{RequestID: cmd.CloseProducer.RequestID},
			}}
		case CommandTypeCloseConsumer:
			s.out <- &Frame{Command: &BaseCommand{
				Type:    CommandTypeSuccess,
				Success: &CommandSuccess{RequestID: cmd.CloseConsumer.RequestID},
			}}
		case CommandTypeUnsubscribe:
			s.out <- &Frame{Command: &BaseCommand{
				Type:    CommandTypeSuccess,
				Success: &CommandSuccess{RequestID: cmd.Unsubscribe.RequestID},
			}}
		}
	}
}

// receipt pushes a send receipt for the given sequence id.
func (b *testBroker) receipt(producerID, sequenceID uint64, id MessageIdData) {
	b.push(&Frame{Command: &BaseCommand{
		Type: CommandTypeSendReceipt,
		SendReceipt: &CommandSendReceipt{
			ProducerID: producerID,
			SequenceID: sequenceID,
			MessageID:  &id,
		},
	}})
}

// deliver pushes a single message to the given consumer id.
func (b *testBroker) deliver(consumerID uint64, id MessageIdData, payload []byte) {
	b.push(&Frame{
		Command: &BaseCommand{
			Type: CommandTypeMessage,
			Message: &CommandMessage{
				ConsumerID: consumerID,
				MessageID:  &id,
			},
		},
		Metadata: &MessageMetadata{
			ProducerName: "test-producer",
			SequenceID:   id.EntryID,
			PublishTime:  uint64(time.Now().UnixMilli()),
		},
		Payload: payload,
	})
}

func recvFrame(t *testing.T, ch chan *Frame) *Frame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func recvPermits(t *testing.T, ch chan uint32) uint32 {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for flow permits")
		return 0
	}
}

// newTestClient wires a client to the broker through its in-memory dialer.
func newTestClient(t *testing.T, b *testBroker, opts ...ClientOption) *Client {
	t.Helper()
	opts = append([]ClientOption{
		WithDialer(b),
		WithLogger(NewNoOpLogger()),
		WithKeepAliveInterval(time.Minute),
	}, opts...)
	client, err := NewClient(b.serviceURL, opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}
