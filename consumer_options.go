package pulsar

import (
	"time"
)

// DeadLetterHandler receives a message that exhausted its redeliveries.
// After the handler returns nil the message is acknowledged and never
// redelivered; a non-nil error leaves it unacknowledged.
type DeadLetterHandler func(msg *Message) error

// ConsumerOption configures a Consumer.
type ConsumerOption func(*consumerOptions)

type consumerOptions struct {
	name                 string
	subType              SubscriptionType
	initialPosition      InitialPosition
	durable              bool
	readCompacted        bool
	properties           map[string]string
	receiverQueueSize    uint32
	ackTimeout           time.Duration
	nackDelay            time.Duration
	maxRedeliveries      uint32
	deadLetter           DeadLetterHandler
	maxReconnectAttempts int
	startMessageID       *MessageID
}

func applyConsumerOptions(opts ...ConsumerOption) *consumerOptions {
	options := &consumerOptions{
		subType:           SubscriptionExclusive,
		initialPosition:   InitialPositionLatest,
		durable:           true,
		receiverQueueSize: 1000,
		nackDelay:         time.Minute,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// WithConsumerName sets the consumer name visible on the broker. A random
// name is generated when unset.
func WithConsumerName(name string) ConsumerOption {
	return func(o *consumerOptions) { o.name = name }
}

// WithSubscriptionType selects how the subscription dispatches messages.
// Default: exclusive.
func WithSubscriptionType(t SubscriptionType) ConsumerOption {
	return func(o *consumerOptions) { o.subType = t }
}

// WithInitialPosition sets where a brand-new subscription starts reading.
// Default: latest.
func WithInitialPosition(p InitialPosition) ConsumerOption {
	return func(o *consumerOptions) { o.initialPosition = p }
}

// WithNonDurable makes the subscription non-durable: the broker forgets its
// position once the consumer disconnects.
func WithNonDurable() ConsumerOption {
	return func(o *consumerOptions) { o.durable = false }
}

// WithReadCompacted reads from the compacted view of the topic.
func WithReadCompacted() ConsumerOption {
	return func(o *consumerOptions) { o.readCompacted = true }
}

// WithConsumerProperties attaches application-defined metadata to the
// subscription.
func WithConsumerProperties(props map[string]string) ConsumerOption {
	return func(o *consumerOptions) { o.properties = props }
}

// WithReceiverQueueSize sets the permit window granted to the broker and
// the capacity of the local delivery queue. Default: 1000.
func WithReceiverQueueSize(n uint32) ConsumerOption {
	return func(o *consumerOptions) {
		if n > 0 {
			o.receiverQueueSize = n
		}
	}
}

// WithAckTimeout requests redelivery of messages not acknowledged within d.
// Zero disables the timeout. Default: disabled.
func WithAckTimeout(d time.Duration) ConsumerOption {
	return func(o *consumerOptions) { o.ackTimeout = d }
}

// WithNackRedeliveryDelay sets how long a negatively acknowledged message
// waits before redelivery is requested. Default: 1m.
func WithNackRedeliveryDelay(d time.Duration) ConsumerOption {
	return func(o *consumerOptions) { o.nackDelay = d }
}

// WithDeadLetterPolicy hands messages redelivered more than maxRedeliveries
// times to handler instead of the receive queue.
func WithDeadLetterPolicy(maxRedeliveries uint32, handler DeadLetterHandler) ConsumerOption {
	return func(o *consumerOptions) {
		o.maxRedeliveries = maxRedeliveries
		o.deadLetter = handler
	}
}

// WithConsumerMaxReconnectAttempts caps consecutive reconnect attempts
// before the consumer shuts down. Zero retries forever. Default: 0.
func WithConsumerMaxReconnectAttempts(n int) ConsumerOption {
	return func(o *consumerOptions) { o.maxReconnectAttempts = n }
}

// WithStartMessageID positions a reader-style subscription at a specific
// message instead of the initial position.
func WithStartMessageID(id MessageID) ConsumerOption {
	return func(o *consumerOptions) { o.startMessageID = &id }
}
