package pulsar

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
)

// parseServiceURL validates a pulsar:// or pulsar+ssl:// URL and returns it
// together with its host:port (applying the scheme's default port) and
// whether the transport is TLS.
func parseServiceURL(s string) (*url.URL, string, bool, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, "", false, fmt.Errorf("%w: %v", ErrInvalidServiceURL, err)
	}
	if u.Host == "" {
		return nil, "", false, fmt.Errorf("%w: missing host in %q", ErrInvalidServiceURL, s)
	}
	var useTLS bool
	var defaultPort string
	switch u.Scheme {
	case "pulsar":
		defaultPort = "6650"
	case "pulsar+ssl":
		useTLS = true
		defaultPort = "6651"
	default:
		return nil, "", false, fmt.Errorf("%w: scheme %q", ErrInvalidServiceURL, u.Scheme)
	}
	hostport := u.Host
	if u.Port() == "" {
		hostport = net.JoinHostPort(strings.Trim(u.Hostname(), "[]"), defaultPort)
	}
	return u, hostport, useTLS, nil
}

type connectAttempt struct {
	done chan struct{}
	conn *Connection
	err  error
}

// ConnectionManager owns the pool of live broker connections, keyed by
// logical and physical address. Concurrent demand for the same address
// shares a single in-flight connect attempt, so only one TCP+TLS+auth
// handshake runs per address at a time.
type ConnectionManager struct {
	dial   func(ctx context.Context, serviceURL string) (Conn, string, error)
	cfg    connectionConfig
	log    Logger
	active Gauge

	mu         sync.Mutex
	pool       map[string]*Connection
	connecting map[string]*connectAttempt
	closed     bool
}

func newConnectionManager(dial func(ctx context.Context, serviceURL string) (Conn, string, error), cfg connectionConfig) *ConnectionManager {
	cfg.withDefaults()
	m := &ConnectionManager{
		dial:       dial,
		cfg:        cfg,
		log:        cfg.logger,
		active:     cfg.metrics.Gauge("pulsar_client_connections_active", nil),
		pool:       make(map[string]*Connection),
		connecting: make(map[string]*connectAttempt),
	}
	return m
}

// GetConnection returns a ready connection to logicalAddr, reachable at
// physicalAddr. The two differ only when connecting through a proxy, in
// which case the Connect handshake names the logical broker. A cached
// connection is reused; a dead cached connection is evicted and replaced.
func (m *ConnectionManager) GetConnection(ctx context.Context, logicalAddr, physicalAddr string) (*Connection, error) {
	key := logicalAddr + "\x00" + physicalAddr

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrConnectionClosed
		}
		if conn, ok := m.pool[key]; ok {
			if conn.State() == ConnectionReady {
				m.mu.Unlock()
				return conn, nil
			}
			// stale entry from a dead connection
			delete(m.pool, key)
			m.active.Dec()
		}
		if attempt, ok := m.connecting[key]; ok {
			m.mu.Unlock()
			select {
			case <-attempt.done:
				if attempt.err != nil {
					return nil, attempt.err
				}
				if attempt.conn.State() == ConnectionReady {
					return attempt.conn, nil
				}
				// the shared attempt died immediately; retry
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		attempt := &connectAttempt{done: make(chan struct{})}
		m.connecting[key] = attempt
		m.mu.Unlock()

		conn, err := m.connect(ctx, logicalAddr, physicalAddr)
		attempt.conn, attempt.err = conn, err

		m.mu.Lock()
		delete(m.connecting, key)
		if err == nil {
			if m.closed {
				conn.Close()
				attempt.conn, attempt.err = nil, ErrConnectionClosed
			} else {
				m.pool[key] = conn
				m.active.Inc()
			}
		}
		m.mu.Unlock()
		close(attempt.done)
		return attempt.conn, attempt.err
	}
}

func (m *ConnectionManager) connect(ctx context.Context, logicalAddr, physicalAddr string) (*Connection, error) {
	raw, hostport, err := m.dial(ctx, physicalAddr)
	if err != nil {
		return nil, err
	}
	cfg := m.cfg
	if logicalAddr != physicalAddr {
		cfg.proxyToBrokerURL = logicalAddr
	}
	conn, err := newConnection(ctx, raw, logicalAddr, hostport, cfg)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Invalidate drops the cached connection for the address pair, closing it.
// The next GetConnection performs a fresh handshake. Used when a lookup
// reports the topic moved off the broker.
func (m *ConnectionManager) Invalidate(logicalAddr, physicalAddr string) {
	key := logicalAddr + "\x00" + physicalAddr
	m.mu.Lock()
	conn, ok := m.pool[key]
	if ok {
		delete(m.pool, key)
		m.active.Dec()
	}
	m.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// Close closes every pooled connection. The manager refuses new demand
// afterwards.
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	conns := make([]*Connection, 0, len(m.pool))
	for _, conn := range m.pool {
		conns = append(conns, conn)
	}
	m.pool = make(map[string]*Connection)
	m.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
		m.active.Dec()
	}
}
