package pulsar

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialTestConnection establishes a Connection over an in-memory pipe against
// handler, which receives the server end after the handshake completed.
func dialTestConnection(t *testing.T, cfg connectionConfig, handler func(server net.Conn)) *Connection {
	t.Helper()
	client, server := net.Pipe()

	go func() {
		frame, _, err := ReadFrame(server, DefaultMaxFrameSize)
		if err != nil {
			return
		}
		if frame.Command.Type != CommandTypeConnect {
			server.Close()
			return
		}
		WriteFrame(server, &Frame{Command: &BaseCommand{
			Type:      CommandTypeConnected,
			Connected: &CommandConnected{ServerVersion: "test", MaxMessageSize: 1024},
		}}, DefaultMaxFrameSize)
		if handler != nil {
			handler(server)
		}
	}()

	if cfg.logger == nil {
		cfg.logger = NewNoOpLogger()
	}
	if cfg.keepAliveInterval == 0 {
		cfg.keepAliveInterval = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := newConnection(ctx, client, "broker:6650", "broker:6650", cfg)
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return conn
}

func TestConnectionHandshake(t *testing.T) {
	conn := dialTestConnection(t, connectionConfig{}, nil)
	assert.Equal(t, ConnectionReady, conn.State())
	assert.Equal(t, int32(1024), conn.MaxMessageSize())
	assert.Equal(t, "broker:6650", conn.LogicalAddr())
}

func TestConnectionHandshakeBrokerError(t *testing.T) {
	client, server := net.Pipe()
	go func() {
		frame, _, err := ReadFrame(server, DefaultMaxFrameSize)
		if err != nil || frame.Command.Type != CommandTypeConnect {
			return
		}
		WriteFrame(server, &Frame{Command: &BaseCommand{
			Type: CommandTypeError,
			Error: &CommandError{
				Error:   ServerErrorAuthentication,
				Message: "bad token",
			},
		}}, DefaultMaxFrameSize)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := newConnection(ctx, client, "broker:6650", "broker:6650", connectionConfig{
		logger:            NewNoOpLogger(),
		keepAliveInterval: time.Minute,
	})
	var brokerErr *BrokerError
	require.ErrorAs(t, err, &brokerErr)
	assert.Equal(t, ServerErrorAuthentication, brokerErr.Code)
}

func TestConnectionAuthDataInHandshake(t *testing.T) {
	client, server := net.Pipe()
	got := make(chan *CommandConnect, 1)
	go func() {
		frame, _, err := ReadFrame(server, DefaultMaxFrameSize)
		if err != nil {
			return
		}
		got <- frame.Command.Connect
		WriteFrame(server, &Frame{Command: &BaseCommand{
			Type:      CommandTypeConnected,
			Connected: &CommandConnected{},
		}}, DefaultMaxFrameSize)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := newConnection(ctx, client, "broker:6650", "broker:6650", connectionConfig{
		auth:              NewAuthToken("jwt-123"),
		proxyToBrokerURL:  "pulsar://target:6650",
		logger:            NewNoOpLogger(),
		keepAliveInterval: time.Minute,
	})
	require.NoError(t, err)
	defer conn.Close()

	connect := <-got
	assert.Equal(t, "token", connect.AuthMethodName)
	assert.Equal(t, []byte("jwt-123"), connect.AuthData)
	assert.Equal(t, "pulsar://target:6650", connect.ProxyToBrokerURL)
}

func TestConnectionRequestCorrelation(t *testing.T) {
	// the broker answers two concurrent lookups in reverse order; each
	// caller must still get its own response
	conn := dialTestConnection(t, connectionConfig{}, func(server net.Conn) {
		var requests []*Frame
		for len(requests) < 2 {
			frame, _, err := ReadFrame(server, DefaultMaxFrameSize)
			if err != nil {
				return
			}
			requests = append(requests, frame)
		}
		for i := len(requests) - 1; i >= 0; i-- {
			id := requests[i].Command.Lookup.RequestID
			WriteFrame(server, &Frame{Command: &BaseCommand{
				Type: CommandTypeLookupResponse,
				LookupResponse: &CommandLookupTopicResponse{
					BrokerServiceURL: "pulsar://broker:6650",
					Response:         LookupResponseConnect,
					RequestID:        id,
					Message:          requests[i].Command.Lookup.Topic,
				},
			}}, DefaultMaxFrameSize)
		}
	})

	var wg sync.WaitGroup
	for _, topic := range []string{"topic-a", "topic-b"} {
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			requestID := conn.NextRequestID()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			resp, err := conn.SendRequest(ctx, requestID, &Frame{Command: &BaseCommand{
				Type:   CommandTypeLookup,
				Lookup: &CommandLookupTopic{Topic: topic, RequestID: requestID},
			}})
			require.NoError(t, err)
			assert.Equal(t, requestID, resp.Command.LookupResponse.RequestID)
			assert.Equal(t, topic, resp.Command.LookupResponse.Message)
		}(topic)
	}
	wg.Wait()
}

func TestConnectionErrorResponseBecomesBrokerError(t *testing.T) {
	conn := dialTestConnection(t, connectionConfig{}, func(server net.Conn) {
		frame, _, err := ReadFrame(server, DefaultMaxFrameSize)
		if err != nil {
			return
		}
		WriteFrame(server, &Frame{Command: &BaseCommand{
			Type: CommandTypeError,
			Error: &CommandError{
				RequestID: frame.Command.Lookup.RequestID,
				Error:     ServerErrorTooManyRequests,
				Message:   "slow down",
			},
		}}, DefaultMaxFrameSize)
	})

	requestID := conn.NextRequestID()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := conn.SendRequest(ctx, requestID, &Frame{Command: &BaseCommand{
		Type:   CommandTypeLookup,
		Lookup: &CommandLookupTopic{Topic: "t", RequestID: requestID},
	}})
	var brokerErr *BrokerError
	require.ErrorAs(t, err, &brokerErr)
	assert.Equal(t, ServerErrorTooManyRequests, brokerErr.Code)
	assert.True(t, brokerErr.Retryable())
}

func TestConnectionPingAnsweredWithPong(t *testing.T) {
	pong := make(chan struct{})
	dialTestConnection(t, connectionConfig{}, func(server net.Conn) {
		WriteFrame(server, &Frame{Command: &BaseCommand{
			Type: CommandTypePing,
			Ping: &CommandPing{},
		}}, DefaultMaxFrameSize)
		for {
			frame, _, err := ReadFrame(server, DefaultMaxFrameSize)
			if err != nil {
				return
			}
			if frame.Command.Type == CommandTypePong {
				close(pong)
				return
			}
		}
	})

	select {
	case <-pong:
	case <-time.After(5 * time.Second):
		t.Fatal("ping was not answered")
	}
}

func TestConnectionUnmatchedResponseIgnored(t *testing.T) {
	conn := dialTestConnection(t, connectionConfig{}, func(server net.Conn) {
		// a response nobody asked for
		WriteFrame(server, &Frame{Command: &BaseCommand{
			Type:    CommandTypeSuccess,
			Success: &CommandSuccess{RequestID: 999},
		}}, DefaultMaxFrameSize)
		// then serve the real request
		frame, _, err := ReadFrame(server, DefaultMaxFrameSize)
		if err != nil {
			return
		}
		WriteFrame(server, &Frame{Command: &BaseCommand{
			Type:    CommandTypeSuccess,
			Success: &CommandSuccess{RequestID: frame.Command.Lookup.RequestID},
		}}, DefaultMaxFrameSize)
	})

	requestID := conn.NextRequestID()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := conn.SendRequest(ctx, requestID, &Frame{Command: &BaseCommand{
		Type:   CommandTypeLookup,
		Lookup: &CommandLookupTopic{Topic: "t", RequestID: requestID},
	}})
	require.NoError(t, err)
	assert.Equal(t, requestID, resp.Command.Success.RequestID)
	assert.Equal(t, ConnectionReady, conn.State())
}

func TestConnectionCloseFailsPending(t *testing.T) {
	started := make(chan struct{})
	conn := dialTestConnection(t, connectionConfig{}, func(server net.Conn) {
		ReadFrame(server, DefaultMaxFrameSize)
		close(started)
		// never respond
	})

	requestID := conn.NextRequestID()
	result := make(chan error, 1)
	go func() {
		_, err := conn.SendRequest(context.Background(), requestID, &Frame{Command: &BaseCommand{
			Type:   CommandTypeLookup,
			Lookup: &CommandLookupTopic{Topic: "t", RequestID: requestID},
		}})
		result <- err
	}()

	<-started
	conn.Close()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("pending request did not fail on close")
	}
	assert.Equal(t, ConnectionClosed, conn.State())
}

func TestConnectionRequestTimeout(t *testing.T) {
	conn := dialTestConnection(t, connectionConfig{}, func(server net.Conn) {
		ReadFrame(server, DefaultMaxFrameSize)
		// never respond
	})

	requestID := conn.NextRequestID()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := conn.SendRequest(ctx, requestID, &Frame{Command: &BaseCommand{
		Type:   CommandTypeLookup,
		Lookup: &CommandLookupTopic{Topic: "t", RequestID: requestID},
	}})
	assert.ErrorIs(t, err, ErrRequestTimeout)
}

func TestConnectionKeepAliveTimeout(t *testing.T) {
	conn := dialTestConnection(t, connectionConfig{
		keepAliveInterval: 30 * time.Millisecond,
	}, func(server net.Conn) {
		// swallow pings without answering
		for {
			if _, _, err := ReadFrame(server, DefaultMaxFrameSize); err != nil {
				return
			}
		}
	})

	select {
	case <-conn.Done():
		assert.ErrorIs(t, conn.Err(), ErrKeepAliveTimeout)
	case <-time.After(5 * time.Second):
		t.Fatal("missing pong did not close the connection")
	}
}

func TestConnectionFullHandlerDoesNotBlockDispatch(t *testing.T) {
	conn := dialTestConnection(t, connectionConfig{}, func(server net.Conn) {
		// flood the one-slot consumer handler before answering the lookup;
		// the response only reaches the caller if dispatch kept going
		frame, _, err := ReadFrame(server, DefaultMaxFrameSize)
		if err != nil || frame.Command.Type != CommandTypeLookup {
			return
		}
		for i := uint64(0); i < 3; i++ {
			WriteFrame(server, &Frame{Command: &BaseCommand{
				Type: CommandTypeMessage,
				Message: &CommandMessage{
					ConsumerID: 7,
					MessageID:  &MessageIdData{LedgerID: 1, EntryID: i, Partition: -1, BatchIndex: -1},
				},
			}}, DefaultMaxFrameSize)
		}
		WriteFrame(server, &Frame{Command: &BaseCommand{
			Type: CommandTypeLookupResponse,
			LookupResponse: &CommandLookupTopicResponse{
				RequestID:        frame.Command.Lookup.RequestID,
				Response:         LookupResponseConnect,
				BrokerServiceURL: "pulsar://broker:6650",
			},
		}}, DefaultMaxFrameSize)
	})

	ch := make(chan *Frame, 1)
	conn.RegisterConsumerHandler(7, ch)

	requestID := conn.NextRequestID()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := conn.SendRequest(ctx, requestID, &Frame{Command: &BaseCommand{
		Type:   CommandTypeLookup,
		Lookup: &CommandLookupTopic{Topic: "t", RequestID: requestID},
	}})
	require.NoError(t, err)
	assert.Equal(t, CommandTypeLookupResponse, resp.Command.Type)

	// only the first pushed frame fit the handler's buffer
	assert.Len(t, ch, 1)
}

func TestConnectionSocketDropCloses(t *testing.T) {
	conn := dialTestConnection(t, connectionConfig{}, func(server net.Conn) {
		server.Close()
	})

	select {
	case <-conn.Done():
		assert.Equal(t, ConnectionClosed, conn.State())
	case <-time.After(5 * time.Second):
		t.Fatal("dropped socket did not close the connection")
	}
}
