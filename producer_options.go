package pulsar

import (
	"time"

	"golang.org/x/time/rate"
)

// ProducerOption configures a Producer.
type ProducerOption func(*producerOptions)

type producerOptions struct {
	name                 string
	properties           map[string]string
	compression          CompressionType
	batchingEnabled      bool
	batchMaxMessages     int
	batchMaxBytes        int
	batchLinger          time.Duration
	sendQueueSize        int
	sendTimeout          time.Duration
	blockIfQueueFull     bool
	maxReconnectAttempts int
	publishRate          rate.Limit
	publishBurst         int
}

func applyProducerOptions(opts ...ProducerOption) *producerOptions {
	options := &producerOptions{
		batchingEnabled:  true,
		batchMaxMessages: 1000,
		batchMaxBytes:    128 * 1024,
		batchLinger:      10 * time.Millisecond,
		sendQueueSize:    1000,
		sendTimeout:      30 * time.Second,
		publishRate:      rate.Inf,
		publishBurst:     1,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// WithProducerName sets the producer name registered on the broker. The
// broker enforces uniqueness per topic. A random name is generated when
// unset.
func WithProducerName(name string) ProducerOption {
	return func(o *producerOptions) { o.name = name }
}

// WithProducerProperties attaches application-defined metadata to the
// producer registration.
func WithProducerProperties(props map[string]string) ProducerOption {
	return func(o *producerOptions) { o.properties = props }
}

// WithCompression selects the payload codec applied per batch.
// Default: none.
func WithCompression(t CompressionType) ProducerOption {
	return func(o *producerOptions) { o.compression = t }
}

// WithBatching toggles message batching. When disabled every Send travels
// in its own frame. Default: enabled.
func WithBatching(enabled bool) ProducerOption {
	return func(o *producerOptions) { o.batchingEnabled = enabled }
}

// WithBatchMaxMessages caps the number of messages per batch. Default: 1000.
func WithBatchMaxMessages(n int) ProducerOption {
	return func(o *producerOptions) { o.batchMaxMessages = n }
}

// WithBatchMaxBytes caps the uncompressed payload bytes per batch.
// Default: 128 KiB.
func WithBatchMaxBytes(n int) ProducerOption {
	return func(o *producerOptions) { o.batchMaxBytes = n }
}

// WithBatchLinger sets how long an incomplete batch waits for more messages
// before it is flushed. Default: 10ms.
func WithBatchLinger(d time.Duration) ProducerOption {
	return func(o *producerOptions) { o.batchLinger = d }
}

// WithSendQueueSize sets the capacity of the outgoing message queue.
// Default: 1000.
func WithSendQueueSize(n int) ProducerOption {
	return func(o *producerOptions) { o.sendQueueSize = n }
}

// WithSendTimeout bounds how long a message may stay unacknowledged,
// including retransmissions, before its send fails. Default: 30s.
func WithSendTimeout(d time.Duration) ProducerOption {
	return func(o *producerOptions) { o.sendTimeout = d }
}

// WithBlockIfQueueFull makes Send block until queue space frees up instead
// of failing with ErrSendQueueFull. Default: fail fast.
func WithBlockIfQueueFull(block bool) ProducerOption {
	return func(o *producerOptions) { o.blockIfQueueFull = block }
}

// WithMaxReconnectAttempts caps consecutive reconnect attempts before the
// producer gives up and fails its pending sends with ErrRetriesExhausted.
// Zero retries forever. Default: 0.
func WithMaxReconnectAttempts(n int) ProducerOption {
	return func(o *producerOptions) { o.maxReconnectAttempts = n }
}

// WithPublishRate throttles Send admission to r messages per second with
// the given burst. Default: unlimited.
func WithPublishRate(r rate.Limit, burst int) ProducerOption {
	return func(o *producerOptions) {
		o.publishRate = r
		if burst > 0 {
			o.publishBurst = burst
		}
	}
}
