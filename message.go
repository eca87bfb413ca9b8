package pulsar

import (
	"fmt"
	"time"
)

// MessageID is the broker-assigned position of a persisted message, used for
// acknowledgment and position tracking. MessageIDs are totally ordered by
// (LedgerID, EntryID, BatchIndex).
type MessageID struct {
	LedgerID   uint64
	EntryID    uint64
	Partition  int32
	BatchIndex int32
}

// String returns "ledger:entry:partition:batchIndex".
func (id MessageID) String() string {
	return fmt.Sprintf("%d:%d:%d:%d", id.LedgerID, id.EntryID, id.Partition, id.BatchIndex)
}

// Compare orders ids by (LedgerID, EntryID, BatchIndex), returning -1, 0
// or 1.
func (id MessageID) Compare(other MessageID) int {
	switch {
	case id.LedgerID < other.LedgerID:
		return -1
	case id.LedgerID > other.LedgerID:
		return 1
	case id.EntryID < other.EntryID:
		return -1
	case id.EntryID > other.EntryID:
		return 1
	case id.BatchIndex < other.BatchIndex:
		return -1
	case id.BatchIndex > other.BatchIndex:
		return 1
	default:
		return 0
	}
}

func (id MessageID) toData() MessageIdData {
	return MessageIdData{
		LedgerID:   id.LedgerID,
		EntryID:    id.EntryID,
		Partition:  id.Partition,
		BatchIndex: id.BatchIndex,
	}
}

func messageIDFromData(d *MessageIdData) MessageID {
	return MessageID{
		LedgerID:   d.LedgerID,
		EntryID:    d.EntryID,
		Partition:  d.Partition,
		BatchIndex: d.BatchIndex,
	}
}

// ProducerMessage is a message handed to Producer.Send.
type ProducerMessage struct {
	// Payload is the message body.
	Payload []byte

	// Key is the optional partition/routing key.
	Key string

	// OrderingKey is the optional key used by key-shared subscriptions.
	OrderingKey []byte

	// Properties are application-defined string pairs.
	Properties map[string]string

	// EventTime is an optional application-level timestamp.
	EventTime time.Time
}

// Message is a message delivered to a consumer.
type Message struct {
	// ID is the broker-assigned message id, used for acknowledgment.
	ID MessageID

	// Payload is the decompressed message body.
	Payload []byte

	// Key is the partition/routing key, if set by the producer.
	Key string

	// Properties are application-defined string pairs.
	Properties map[string]string

	// Topic is the topic the message was received from.
	Topic string

	// ProducerName identifies the producer that published the message.
	ProducerName string

	// PublishTime is the broker-side publish timestamp.
	PublishTime time.Time

	// EventTime is the application-level timestamp, if set.
	EventTime time.Time

	// RedeliveryCount is how many times the broker has redelivered this
	// message to the subscription.
	RedeliveryCount uint32
}
