package pulsar

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Client is the entry point of the library. It owns the connection pool, the
// lookup service and the id counters shared by every producer and consumer
// it creates.
type Client struct {
	serviceURL string
	useTLS     bool
	opts       *clientOptions
	cm         *ConnectionManager
	lookup     *lookupService
	log        Logger

	producerIDs atomic.Uint64
	consumerIDs atomic.Uint64
	closed      atomic.Bool
}

// NewClient validates serviceURL (pulsar:// or pulsar+ssl://) and builds a
// client. No connection is opened until a producer, consumer or lookup
// needs one.
func NewClient(serviceURL string, opts ...ClientOption) (*Client, error) {
	options := applyClientOptions(opts...)

	_, _, useTLS, err := parseServiceURL(serviceURL)
	if err != nil {
		return nil, err
	}
	if useTLS && options.tlsConfig == nil && options.dialer == nil {
		return nil, fmt.Errorf("%w: pulsar+ssl requires WithTLS or WithDialer", ErrInvalidServiceURL)
	}

	c := &Client{
		serviceURL: serviceURL,
		useTLS:     useTLS,
		opts:       options,
		log:        options.logger,
	}

	cfg := connectionConfig{
		auth:              options.auth,
		keepAliveInterval: options.keepAliveInterval,
		maxFrameSize:      options.maxFrameSize,
		runtime:           options.runtime,
		logger:            options.logger,
		metrics:           options.metrics,
	}
	c.cm = newConnectionManager(c.dialBroker, cfg)
	c.lookup = newLookupService(c.cm, serviceURL, useTLS, options.logger)
	return c, nil
}

// dialBroker opens a raw transport to the given service URL, picking the
// dialer by scheme unless one was injected.
func (c *Client) dialBroker(ctx context.Context, serviceURL string) (Conn, string, error) {
	_, hostport, useTLS, err := parseServiceURL(serviceURL)
	if err != nil {
		return nil, "", err
	}
	dialer := c.opts.dialer
	if dialer == nil {
		if useTLS {
			dialer = &TLSDialer{Config: c.opts.tlsConfig, Timeout: c.opts.connectTimeout}
		} else {
			dialer = &TCPDialer{Timeout: c.opts.connectTimeout}
		}
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.connectTimeout)
	defer cancel()
	conn, err := dialer.Dial(ctx, hostport)
	if err != nil {
		return nil, "", err
	}
	return conn, hostport, nil
}

// CreateProducer registers a producer on the broker owning topic and returns
// once the broker acknowledged it.
func (c *Client) CreateProducer(ctx context.Context, topic string, opts ...ProducerOption) (*Producer, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	return newProducer(ctx, c, topic, applyProducerOptions(opts...))
}

// Subscribe attaches a consumer to topic under the named subscription and
// returns once the broker acknowledged it. The initial flow permit grant is
// sent before Subscribe returns.
func (c *Client) Subscribe(ctx context.Context, topic, subscription string, opts ...ConsumerOption) (*Consumer, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	return newConsumer(ctx, c, topic, subscription, applyConsumerOptions(opts...))
}

// LookupTopic resolves the service URL of the broker owning topic.
func (c *Client) LookupTopic(ctx context.Context, topic string) (string, error) {
	if c.closed.Load() {
		return "", ErrConnectionClosed
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.operationTimeout)
	defer cancel()
	result, err := c.lookup.Lookup(ctx, topic)
	if err != nil {
		return "", err
	}
	return result.logicalAddr, nil
}

// TopicPartitions returns the partition names of topic, or the topic itself
// when it is not partitioned.
func (c *Client) TopicPartitions(ctx context.Context, topic string) ([]string, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.operationTimeout)
	defer cancel()
	partitions, err := c.lookup.PartitionedMetadata(ctx, topic)
	if err != nil {
		return nil, err
	}
	if partitions == 0 {
		return []string{topic}, nil
	}
	names := make([]string, partitions)
	for i := range names {
		names[i] = fmt.Sprintf("%s-partition-%d", topic, i)
	}
	return names, nil
}

// TopicsOfNamespace lists the topics of a namespace such as
// "public/default", filtered by mode.
func (c *Client) TopicsOfNamespace(ctx context.Context, namespace string, mode TopicsMode) ([]string, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.operationTimeout)
	defer cancel()
	return c.lookup.TopicsOfNamespace(ctx, namespace, mode)
}

// Close tears down every pooled connection. Producers and consumers created
// by this client stop working.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.cm.Close()
	c.log.Debug("client closed", LogFields{"service_url": c.serviceURL})
}

func (c *Client) nextProducerID() uint64 { return c.producerIDs.Add(1) }
func (c *Client) nextConsumerID() uint64 { return c.consumerIDs.Add(1) }
