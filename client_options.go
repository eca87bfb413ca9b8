package pulsar

import (
	"crypto/tls"
	"time"
)

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

// clientOptions holds configuration for a Client.
type clientOptions struct {
	dialer            Dialer
	tlsConfig         *tls.Config
	auth              Authentication
	connectTimeout    time.Duration
	operationTimeout  time.Duration
	keepAliveInterval time.Duration
	maxFrameSize      uint32
	logger            Logger
	metrics           Metrics
	runtime           Runtime
	compression       *CompressionRegistry
	backoffPolicy     BackoffPolicy
}

func applyClientOptions(opts ...ClientOption) *clientOptions {
	options := &clientOptions{
		auth:              NewAuthNone(),
		connectTimeout:    10 * time.Second,
		operationTimeout:  30 * time.Second,
		keepAliveInterval: 30 * time.Second,
		maxFrameSize:      DefaultMaxFrameSize,
		logger:            NewStdLogger(LogLevelInfo),
		metrics:           NewNoOpMetrics(),
		runtime:           NewGoRuntime(),
		compression:       NewCompressionRegistry(),
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// WithDialer sets a custom transport dialer, overriding the default TCP/TLS
// dialers. Use it to route connections through ProxyDialer or QUICDialer.
func WithDialer(d Dialer) ClientOption {
	return func(o *clientOptions) { o.dialer = d }
}

// WithTLS sets the TLS configuration used for pulsar+ssl connections.
func WithTLS(cfg *tls.Config) ClientOption {
	return func(o *clientOptions) { o.tlsConfig = cfg }
}

// WithAuthentication sets the authentication provider for the Connect
// handshake.
func WithAuthentication(auth Authentication) ClientOption {
	return func(o *clientOptions) { o.auth = auth }
}

// WithConnectTimeout bounds transport establishment plus handshake.
// Default: 10s.
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.connectTimeout = d }
}

// WithOperationTimeout bounds individual requests (lookup, producer and
// consumer registration). Default: 30s.
func WithOperationTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.operationTimeout = d }
}

// WithKeepAliveInterval sets the ping period; a ping unanswered within one
// interval closes the connection. Zero disables keepalive. Default: 30s.
func WithKeepAliveInterval(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.keepAliveInterval = d }
}

// WithMaxFrameSize bounds wire frames in both directions.
// Default: DefaultMaxFrameSize.
func WithMaxFrameSize(size uint32) ClientOption {
	return func(o *clientOptions) { o.maxFrameSize = size }
}

// WithLogger sets the logger. Default: StdLogger at Info.
func WithLogger(l Logger) ClientOption {
	return func(o *clientOptions) { o.logger = l }
}

// WithMetrics sets the metrics sink. Default: no-op.
func WithMetrics(m Metrics) ClientOption {
	return func(o *clientOptions) { o.metrics = m }
}

// WithRuntime sets the runtime driving background loops and timers.
// Default: goroutines and the time package.
func WithRuntime(r Runtime) ClientOption {
	return func(o *clientOptions) { o.runtime = r }
}

// WithCompressionProvider registers or replaces a payload codec.
func WithCompressionProvider(t CompressionType, p CompressionProvider) ClientOption {
	return func(o *clientOptions) { o.compression.Register(t, p) }
}

// WithBackoffPolicy sets the reconnect/retry backoff curve.
// Default: exponential from 100ms to 30s with jitter.
func WithBackoffPolicy(p BackoffPolicy) ClientOption {
	return func(o *clientOptions) { o.backoffPolicy = p }
}
