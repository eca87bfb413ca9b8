package pulsar

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// Conn represents a network connection to a broker.
type Conn interface {
	net.Conn
}

// Dialer establishes broker connections.
type Dialer interface {
	// Dial connects to the address with the given context.
	Dial(ctx context.Context, address string) (Conn, error)
}

// TCPDialer connects to brokers over plain TCP.
type TCPDialer struct {
	// Timeout is the maximum time to wait for a connection.
	// Zero means no timeout.
	Timeout time.Duration

	// KeepAlive is the TCP keepalive period. Zero uses the OS default.
	KeepAlive time.Duration
}

// Dial connects to the address.
func (d *TCPDialer) Dial(ctx context.Context, address string) (Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	return dialer.DialContext(ctx, "tcp", address)
}

// TLSDialer connects to brokers over TLS.
type TLSDialer struct {
	// Config is the TLS configuration. A nil config uses defaults, verifying
	// the broker certificate against the system roots.
	Config *tls.Config

	// Timeout is the maximum time to wait for the TCP connection and TLS
	// handshake. Zero means no timeout.
	Timeout time.Duration
}

// Dial connects to the address and performs the TLS handshake.
func (d *TLSDialer) Dial(ctx context.Context, address string) (Conn, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	dialer := net.Dialer{}
	raw, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	cfg := d.Config
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		host, _, splitErr := net.SplitHostPort(address)
		if splitErr == nil {
			cfg = cfg.Clone()
			cfg.ServerName = host
		}
	}
	conn := tls.Client(raw, cfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, err
	}
	return conn, nil
}
