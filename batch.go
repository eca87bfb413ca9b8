package pulsar

import (
	"context"
	"encoding/binary"
	"time"
)

// SendFuture resolves when the broker acknowledges (or rejects) a message
// handed to Producer.SendAsync.
type SendFuture struct {
	done chan struct{}
	id   MessageID
	err  error
}

func newSendFuture() *SendFuture {
	return &SendFuture{done: make(chan struct{})}
}

// Wait blocks until the send is resolved or ctx expires.
func (f *SendFuture) Wait(ctx context.Context) (MessageID, error) {
	select {
	case <-f.done:
		return f.id, f.err
	case <-ctx.Done():
		return MessageID{}, ctx.Err()
	}
}

// Done returns a channel closed once the send is resolved.
func (f *SendFuture) Done() <-chan struct{} { return f.done }

func (f *SendFuture) complete(id MessageID, err error) {
	f.id = id
	f.err = err
	close(f.done)
}

// pendingSend is a queued message waiting to be batched.
type pendingSend struct {
	msg      *ProducerMessage
	future   *SendFuture
	enqueued time.Time
}

// batchBuilder accumulates messages into one outgoing frame. Every message
// added gets the next sequence id, so a batch covers the contiguous range
// [lowestSeq, highestSeq].
type batchBuilder struct {
	entries    []byte
	count      int
	lowestSeq  uint64
	highestSeq uint64
	futures    []*SendFuture

	partitionKey string
	orderingKey  []byte
	firstPayload []byte
	firstMeta    *SingleMessageMetadata
}

func newBatchBuilder() *batchBuilder {
	return &batchBuilder{}
}

func (b *batchBuilder) empty() bool { return b.count == 0 }

func (b *batchBuilder) size() int { return len(b.entries) }

// add appends msg with the given sequence id. Keys are taken from the first
// message of the batch; callers must route conflicting keys into separate
// batches if they care.
func (b *batchBuilder) add(seq uint64, msg *ProducerMessage, future *SendFuture) {
	smm := &SingleMessageMetadata{
		Properties:   propertiesFromMap(msg.Properties),
		PartitionKey: msg.Key,
		PayloadSize:  int32(len(msg.Payload)),
		OrderingKey:  msg.OrderingKey,
	}
	if !msg.EventTime.IsZero() {
		smm.EventTime = uint64(msg.EventTime.UnixMilli())
	}
	if b.count == 0 {
		b.lowestSeq = seq
		b.partitionKey = msg.Key
		b.orderingKey = msg.OrderingKey
		b.firstPayload = msg.Payload
		b.firstMeta = smm
	}
	b.highestSeq = seq

	meta := smm.marshal(nil)
	var sz [4]byte
	binary.BigEndian.PutUint32(sz[:], uint32(len(meta)))
	b.entries = append(b.entries, sz[:]...)
	b.entries = append(b.entries, meta...)
	b.entries = append(b.entries, msg.Payload...)

	b.count++
	b.futures = append(b.futures, future)
}

// build serializes the batch into a Send frame and resets the builder. A
// single-message batch is sent unbatched: the payload travels bare and
// NumMessagesInBatch stays at its default.
func (b *batchBuilder) build(producerID uint64, producerName string, compression CompressionType, provider CompressionProvider) (*inflightBatch, error) {
	meta := &MessageMetadata{
		ProducerName: producerName,
		SequenceID:   b.lowestSeq,
		PublishTime:  uint64(time.Now().UnixMilli()),
		Compression:  compression,
	}

	var payload []byte
	if b.count == 1 {
		payload = b.firstPayload
		meta.PartitionKey = b.firstMeta.PartitionKey
		meta.OrderingKey = b.firstMeta.OrderingKey
		meta.EventTime = b.firstMeta.EventTime
		meta.Properties = b.firstMeta.Properties
	} else {
		payload = b.entries
		meta.NumMessagesInBatch = int32(b.count)
		meta.PartitionKey = b.partitionKey
		meta.OrderingKey = b.orderingKey
	}
	meta.UncompressedSize = uint32(len(payload))

	compressed, err := provider.Compress(payload)
	if err != nil {
		return nil, err
	}

	send := &CommandSend{
		ProducerID:  producerID,
		SequenceID:  b.lowestSeq,
		NumMessages: int32(b.count),
	}
	if b.count > 1 {
		send.HighestSequenceID = b.highestSeq
	}
	frame := &Frame{
		Command:  &BaseCommand{Type: CommandTypeSend, Send: send},
		Metadata: meta,
		Payload:  compressed,
	}

	batch := &inflightBatch{
		lowestSeq:  b.lowestSeq,
		highestSeq: b.highestSeq,
		frame:      frame,
		futures:    b.futures,
		sentAt:     time.Now(),
	}
	b.reset()
	return batch, nil
}

func (b *batchBuilder) reset() {
	b.entries = nil
	b.count = 0
	b.futures = nil
	b.partitionKey = ""
	b.orderingKey = nil
	b.firstPayload = nil
	b.firstMeta = nil
}

// fail resolves every queued future with err and resets the builder.
func (b *batchBuilder) fail(err error) {
	for _, f := range b.futures {
		f.complete(MessageID{}, err)
	}
	b.reset()
}

// inflightBatch is a sent batch awaiting its receipt. The producer keeps
// these in FIFO order; receipts resolve them cumulatively.
type inflightBatch struct {
	lowestSeq  uint64
	highestSeq uint64
	frame      *Frame
	futures    []*SendFuture
	sentAt     time.Time
}

// resolve completes the batch's futures from the broker receipt. Entry i of
// a multi-message batch gets batch index i on the receipt's message id.
func (ib *inflightBatch) resolve(id MessageID) {
	if len(ib.futures) == 1 {
		ib.futures[0].complete(id, nil)
		return
	}
	for i, f := range ib.futures {
		entry := id
		entry.BatchIndex = int32(i)
		f.complete(entry, nil)
	}
}

func (ib *inflightBatch) fail(err error) {
	for _, f := range ib.futures {
		f.complete(MessageID{}, err)
	}
}
