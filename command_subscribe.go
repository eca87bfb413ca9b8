package pulsar

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// SubscriptionType controls how a subscription distributes messages across
// its consumers.
type SubscriptionType int32

// Subscription types, as defined by the wire protocol.
const (
	// SubscriptionExclusive allows a single consumer on the subscription.
	SubscriptionExclusive SubscriptionType = 0
	// SubscriptionShared distributes messages round-robin across consumers.
	SubscriptionShared SubscriptionType = 1
	// SubscriptionFailover keeps one active consumer with standbys.
	SubscriptionFailover SubscriptionType = 2
	// SubscriptionKeyShared distributes messages by key across consumers.
	SubscriptionKeyShared SubscriptionType = 3
)

// InitialPosition selects where a new subscription starts reading.
type InitialPosition int32

// Initial positions, as defined by the wire protocol.
const (
	// InitialPositionLatest starts after the newest available message.
	InitialPositionLatest InitialPosition = 0
	// InitialPositionEarliest starts at the oldest available message.
	InitialPositionEarliest InitialPosition = 1
)

// CommandSubscribe attaches a consumer to a subscription. The broker answers
// with Success or Error.
type CommandSubscribe struct {
	Topic           string
	Subscription    string
	SubType         SubscriptionType
	ConsumerID      uint64
	RequestID       uint64
	ConsumerName    string
	PriorityLevel   int32
	Durable         bool
	StartMessageID  *MessageIdData
	Metadata        []KeyValue
	ReadCompacted   bool
	InitialPosition InitialPosition
}

func (c *CommandSubscribe) marshal(b []byte) []byte {
	b = appendStringField(b, 1, c.Topic)
	b = appendStringField(b, 2, c.Subscription)
	b = appendInt32Field(b, 3, int32(c.SubType))
	b = appendUvarintField(b, 4, c.ConsumerID)
	b = appendUvarintField(b, 5, c.RequestID)
	if c.ConsumerName != "" {
		b = appendStringField(b, 6, c.ConsumerName)
	}
	if c.PriorityLevel != 0 {
		b = appendInt32Field(b, 7, c.PriorityLevel)
	}
	// durable defaults to true on the wire; emit only the non-default
	if !c.Durable {
		b = appendBoolField(b, 8, false)
	}
	if c.StartMessageID != nil {
		b = appendBytesField(b, 9, c.StartMessageID.marshal(nil))
	}
	b = appendProperties(b, 10, c.Metadata)
	if c.ReadCompacted {
		b = appendBoolField(b, 11, true)
	}
	if c.InitialPosition != InitialPositionLatest {
		b = appendInt32Field(b, 13, int32(c.InitialPosition))
	}
	return b
}

func (c *CommandSubscribe) unmarshal(b []byte) error {
	c.Durable = true
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			c.Topic = d.stringv()
		case 2:
			c.Subscription = d.stringv()
		case 3:
			c.SubType = SubscriptionType(d.int32v())
		case 4:
			c.ConsumerID = d.uvarint()
		case 5:
			c.RequestID = d.uvarint()
		case 6:
			c.ConsumerName = d.stringv()
		case 7:
			c.PriorityLevel = d.int32v()
		case 8:
			c.Durable = d.boolv()
		case 9:
			c.StartMessageID = &MessageIdData{}
			if err := c.StartMessageID.unmarshal(d.bytesv()); err != nil {
				return err
			}
		case 10:
			var kv KeyValue
			if err := kv.unmarshal(d.bytesv()); err != nil {
				return err
			}
			c.Metadata = append(c.Metadata, kv)
		case 11:
			c.ReadCompacted = d.boolv()
		case 13:
			c.InitialPosition = InitialPosition(d.int32v())
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}

// CommandUnsubscribe removes the consumer's subscription.
type CommandUnsubscribe struct {
	ConsumerID uint64
	RequestID  uint64
}

func (c *CommandUnsubscribe) marshal(b []byte) []byte {
	b = appendUvarintField(b, 1, c.ConsumerID)
	b = appendUvarintField(b, 2, c.RequestID)
	return b
}

func (c *CommandUnsubscribe) unmarshal(b []byte) error {
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			c.ConsumerID = d.uvarint()
		case 2:
			c.RequestID = d.uvarint()
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}

// CommandCloseConsumer closes a consumer. Sent by the client to detach, or
// pushed by the broker when the topic is unloaded or migrated.
type CommandCloseConsumer struct {
	ConsumerID uint64
	RequestID  uint64
}

func (c *CommandCloseConsumer) marshal(b []byte) []byte {
	b = appendUvarintField(b, 1, c.ConsumerID)
	b = appendUvarintField(b, 2, c.RequestID)
	return b
}

func (c *CommandCloseConsumer) unmarshal(b []byte) error {
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			c.ConsumerID = d.uvarint()
		case 2:
			c.RequestID = d.uvarint()
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}

// CommandFlow grants the broker permits to push messages to a consumer.
type CommandFlow struct {
	ConsumerID     uint64
	MessagePermits uint32
}

func (c *CommandFlow) marshal(b []byte) []byte {
	b = appendUvarintField(b, 1, c.ConsumerID)
	b = appendUvarintField(b, 2, uint64(c.MessagePermits))
	return b
}

func (c *CommandFlow) unmarshal(b []byte) error {
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			c.ConsumerID = d.uvarint()
		case 2:
			c.MessagePermits = uint32(d.uvarint())
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}

// AckType distinguishes individual from cumulative acknowledgments.
type AckType int32

// Ack types, as defined by the wire protocol.
const (
	// AckTypeIndividual acknowledges exactly the listed message ids.
	AckTypeIndividual AckType = 0
	// AckTypeCumulative acknowledges everything up to and including the
	// given message id.
	AckTypeCumulative AckType = 1
)

// CommandAck acknowledges consumed messages. Fire-and-forget: the broker
// sends no response.
type CommandAck struct {
	ConsumerID uint64
	AckType    AckType
	MessageIDs []MessageIdData
}

func (c *CommandAck) marshal(b []byte) []byte {
	b = appendUvarintField(b, 1, c.ConsumerID)
	b = appendInt32Field(b, 2, int32(c.AckType))
	for i := range c.MessageIDs {
		b = appendBytesField(b, 3, c.MessageIDs[i].marshal(nil))
	}
	return b
}

func (c *CommandAck) unmarshal(b []byte) error {
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			c.ConsumerID = d.uvarint()
		case 2:
			c.AckType = AckType(d.int32v())
		case 3:
			var id MessageIdData
			if err := id.unmarshal(d.bytesv()); err != nil {
				return err
			}
			c.MessageIDs = append(c.MessageIDs, id)
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}

// CommandRedeliverUnacknowledgedMessages asks the broker to push the listed
// unacknowledged messages again. An empty list redelivers everything
// outstanding for the consumer.
type CommandRedeliverUnacknowledgedMessages struct {
	ConsumerID uint64
	MessageIDs []MessageIdData
}

func (c *CommandRedeliverUnacknowledgedMessages) marshal(b []byte) []byte {
	b = appendUvarintField(b, 1, c.ConsumerID)
	for i := range c.MessageIDs {
		b = appendBytesField(b, 2, c.MessageIDs[i].marshal(nil))
	}
	return b
}

func (c *CommandRedeliverUnacknowledgedMessages) unmarshal(b []byte) error {
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			c.ConsumerID = d.uvarint()
		case 2:
			var id MessageIdData
			if err := id.unmarshal(d.bytesv()); err != nil {
				return err
			}
			c.MessageIDs = append(c.MessageIDs, id)
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}

// CommandMessage is an unsolicited broker push delivering one message (or
// one batch) to a consumer. The frame carries MessageMetadata and payload.
type CommandMessage struct {
	ConsumerID      uint64
	MessageID       *MessageIdData
	RedeliveryCount uint32
}

func (c *CommandMessage) marshal(b []byte) []byte {
	b = appendUvarintField(b, 1, c.ConsumerID)
	if c.MessageID != nil {
		b = appendBytesField(b, 2, c.MessageID.marshal(nil))
	}
	if c.RedeliveryCount != 0 {
		b = appendUvarintField(b, 3, uint64(c.RedeliveryCount))
	}
	return b
}

func (c *CommandMessage) unmarshal(b []byte) error {
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			c.ConsumerID = d.uvarint()
		case 2:
			c.MessageID = &MessageIdData{}
			if err := c.MessageID.unmarshal(d.bytesv()); err != nil {
				return err
			}
		case 3:
			c.RedeliveryCount = uint32(d.uvarint())
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}
