// Package pulsar provides a client for Apache-Pulsar-protocol message brokers.
//
// The package implements the broker's binary wire protocol (length-prefixed
// frames carrying protobuf-encoded commands, with CRC32-C checksummed
// payloads) and exposes producer and consumer abstractions with
// at-least-once delivery semantics.
//
// # Features
//
//   - Binary frame codec with incremental decoding and checksum verification
//   - Multiplexed broker connections with request/response correlation
//   - Connection pooling with lookup-driven (re)connection
//   - Producer batching, sequence-id assignment and cumulative receipts
//   - Consumer credit-based flow control, individual/cumulative acks and
//     redelivery tracking
//   - Transport: TCP, TLS, SOCKS5/HTTP CONNECT proxies, QUIC
//   - Pluggable authentication, compression, logging and metrics
//
// # Client
//
// Use NewClient to connect to a broker or proxy, then create producers and
// consumers from it:
//
//	client, err := pulsar.NewClient("pulsar://localhost:6650")
//	defer client.Close()
//
//	producer, err := client.CreateProducer(ctx, "persistent://public/default/events")
//	msgID, err := producer.Send(ctx, &pulsar.ProducerMessage{Payload: data})
//
//	consumer, err := client.Subscribe(ctx, "persistent://public/default/events", "my-sub")
//	msg, err := consumer.Receive(ctx)
//	consumer.Ack(msg)
//
// TLS connections use the pulsar+ssl scheme:
//
//	client, err := pulsar.NewClient("pulsar+ssl://localhost:6651",
//	    pulsar.WithTLS(&tls.Config{}),
//	)
//
// # Wire protocol
//
// The low-level codec is exported for tooling and tests. Use ReadFrame and
// WriteFrame against a connection, or FrameDecoder for incremental decoding
// of a byte stream:
//
//	frame, n, err := pulsar.ReadFrame(conn, maxFrameSize)
//	n, err = pulsar.WriteFrame(conn, frame, maxFrameSize)
package pulsar
