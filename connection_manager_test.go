package pulsar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServiceURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		hostport string
		useTLS   bool
		wantErr  bool
	}{
		{
			name:     "plain with port",
			url:      "pulsar://broker.example.com:6650",
			hostport: "broker.example.com:6650",
		},
		{
			name:     "plain default port",
			url:      "pulsar://broker.example.com",
			hostport: "broker.example.com:6650",
		},
		{
			name:     "tls default port",
			url:      "pulsar+ssl://broker.example.com",
			hostport: "broker.example.com:6651",
			useTLS:   true,
		},
		{
			name:     "tls with port",
			url:      "pulsar+ssl://broker:7000",
			hostport: "broker:7000",
			useTLS:   true,
		},
		{
			name:    "http scheme rejected",
			url:     "http://broker:8080",
			wantErr: true,
		},
		{
			name:    "missing host",
			url:     "pulsar://",
			wantErr: true,
		},
		{
			name:    "garbage",
			url:     "://nope",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, hostport, useTLS, err := parseServiceURL(tt.url)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidServiceURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.hostport, hostport)
			assert.Equal(t, tt.useTLS, useTLS)
		})
	}
}

func newTestManager(t *testing.T, b *testBroker) *ConnectionManager {
	t.Helper()
	dial := func(ctx context.Context, serviceURL string) (Conn, string, error) {
		_, hostport, _, err := parseServiceURL(serviceURL)
		if err != nil {
			return nil, "", err
		}
		conn, err := b.Dial(ctx, hostport)
		if err != nil {
			return nil, "", err
		}
		return conn, hostport, nil
	}
	m := newConnectionManager(dial, connectionConfig{
		logger:            NewNoOpLogger(),
		keepAliveInterval: time.Minute,
	})
	t.Cleanup(m.Close)
	return m
}

func TestConnectionManagerReuse(t *testing.T) {
	b := newTestBroker(t)
	m := newTestManager(t, b)
	ctx := context.Background()

	addr := b.serviceURL
	first, err := m.GetConnection(ctx, addr, addr)
	require.NoError(t, err)
	second, err := m.GetConnection(ctx, addr, addr)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), b.dials.Load())
}

func TestConnectionManagerConcurrentDemandSharesAttempt(t *testing.T) {
	b := newTestBroker(t)
	m := newTestManager(t, b)
	addr := b.serviceURL

	conns := make(chan *Connection, 8)
	for i := 0; i < 8; i++ {
		go func() {
			conn, err := m.GetConnection(context.Background(), addr, addr)
			if err != nil {
				conns <- nil
				return
			}
			conns <- conn
		}()
	}

	var first *Connection
	for i := 0; i < 8; i++ {
		conn := <-conns
		require.NotNil(t, conn)
		if first == nil {
			first = conn
		} else {
			assert.Same(t, first, conn)
		}
	}
	assert.Equal(t, int32(1), b.dials.Load(), "all callers share one handshake")
}

func TestConnectionManagerEvictsDeadConnection(t *testing.T) {
	b := newTestBroker(t)
	m := newTestManager(t, b)
	ctx := context.Background()
	addr := b.serviceURL

	first, err := m.GetConnection(ctx, addr, addr)
	require.NoError(t, err)

	b.dropSessions()
	select {
	case <-first.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("connection did not notice the drop")
	}

	second, err := m.GetConnection(ctx, addr, addr)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, ConnectionReady, second.State())
	assert.Equal(t, int32(2), b.dials.Load())
}

func TestConnectionManagerInvalidate(t *testing.T) {
	b := newTestBroker(t)
	m := newTestManager(t, b)
	ctx := context.Background()
	addr := b.serviceURL

	first, err := m.GetConnection(ctx, addr, addr)
	require.NoError(t, err)

	m.Invalidate(addr, addr)
	<-first.Done()

	second, err := m.GetConnection(ctx, addr, addr)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestConnectionManagerClose(t *testing.T) {
	b := newTestBroker(t)
	m := newTestManager(t, b)
	ctx := context.Background()
	addr := b.serviceURL

	conn, err := m.GetConnection(ctx, addr, addr)
	require.NoError(t, err)

	m.Close()
	<-conn.Done()

	_, err = m.GetConnection(ctx, addr, addr)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}
