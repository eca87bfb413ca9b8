package pulsar

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// CommandProducer registers a producer on a topic. The broker answers with
// ProducerSuccess or Error.
type CommandProducer struct {
	Topic        string
	ProducerID   uint64
	RequestID    uint64
	ProducerName string
	Encrypted    bool
	Metadata     []KeyValue
}

func (c *CommandProducer) marshal(b []byte) []byte {
	b = appendStringField(b, 1, c.Topic)
	b = appendUvarintField(b, 2, c.ProducerID)
	b = appendUvarintField(b, 3, c.RequestID)
	if c.ProducerName != "" {
		b = appendStringField(b, 4, c.ProducerName)
	}
	if c.Encrypted {
		b = appendBoolField(b, 5, true)
	}
	b = appendProperties(b, 6, c.Metadata)
	return b
}

func (c *CommandProducer) unmarshal(b []byte) error {
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			c.Topic = d.stringv()
		case 2:
			c.ProducerID = d.uvarint()
		case 3:
			c.RequestID = d.uvarint()
		case 4:
			c.ProducerName = d.stringv()
		case 5:
			c.Encrypted = d.boolv()
		case 6:
			var kv KeyValue
			if err := kv.unmarshal(d.bytesv()); err != nil {
				return err
			}
			c.Metadata = append(c.Metadata, kv)
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}

// CommandProducerSuccess acknowledges producer registration, carrying the
// (possibly broker-assigned) producer name.
type CommandProducerSuccess struct {
	RequestID      uint64
	ProducerName   string
	LastSequenceID int64
	SchemaVersion  []byte
}

func (c *CommandProducerSuccess) marshal(b []byte) []byte {
	b = appendUvarintField(b, 1, c.RequestID)
	b = appendStringField(b, 2, c.ProducerName)
	if c.LastSequenceID != -1 {
		b = appendInt64Field(b, 3, c.LastSequenceID)
	}
	if len(c.SchemaVersion) > 0 {
		b = appendBytesField(b, 4, c.SchemaVersion)
	}
	return b
}

func (c *CommandProducerSuccess) unmarshal(b []byte) error {
	c.LastSequenceID = -1
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			c.RequestID = d.uvarint()
		case 2:
			c.ProducerName = d.stringv()
		case 3:
			c.LastSequenceID = d.int64v()
		case 4:
			c.SchemaVersion = d.bytesv()
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}

// CommandSend publishes one batch. The frame carries MessageMetadata and the
// (possibly compressed) payload; sequence ids are producer-assigned.
type CommandSend struct {
	ProducerID        uint64
	SequenceID        uint64
	NumMessages       int32
	HighestSequenceID uint64
}

func (c *CommandSend) marshal(b []byte) []byte {
	b = appendUvarintField(b, 1, c.ProducerID)
	b = appendUvarintField(b, 2, c.SequenceID)
	if c.NumMessages > 1 {
		b = appendInt32Field(b, 3, c.NumMessages)
	}
	if c.HighestSequenceID != 0 {
		b = appendUvarintField(b, 6, c.HighestSequenceID)
	}
	return b
}

func (c *CommandSend) unmarshal(b []byte) error {
	c.NumMessages = 1
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			c.ProducerID = d.uvarint()
		case 2:
			c.SequenceID = d.uvarint()
		case 3:
			c.NumMessages = d.int32v()
		case 6:
			c.HighestSequenceID = d.uvarint()
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}

// CommandSendReceipt acknowledges a Send. Receipts are cumulative: a receipt
// for sequence N also confirms every pending batch with a lower sequence.
type CommandSendReceipt struct {
	ProducerID        uint64
	SequenceID        uint64
	MessageID         *MessageIdData
	HighestSequenceID uint64
}

func (c *CommandSendReceipt) marshal(b []byte) []byte {
	b = appendUvarintField(b, 1, c.ProducerID)
	b = appendUvarintField(b, 2, c.SequenceID)
	if c.MessageID != nil {
		b = appendBytesField(b, 3, c.MessageID.marshal(nil))
	}
	if c.HighestSequenceID != 0 {
		b = appendUvarintField(b, 4, c.HighestSequenceID)
	}
	return b
}

func (c *CommandSendReceipt) unmarshal(b []byte) error {
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			c.ProducerID = d.uvarint()
		case 2:
			c.SequenceID = d.uvarint()
		case 3:
			c.MessageID = &MessageIdData{}
			if err := c.MessageID.unmarshal(d.bytesv()); err != nil {
				return err
			}
		case 4:
			c.HighestSequenceID = d.uvarint()
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}

// CommandSendError reports a failed Send for one sequence id.
type CommandSendError struct {
	ProducerID uint64
	SequenceID uint64
	Error      ServerError
	Message    string
}

func (c *CommandSendError) marshal(b []byte) []byte {
	b = appendUvarintField(b, 1, c.ProducerID)
	b = appendUvarintField(b, 2, c.SequenceID)
	b = appendInt32Field(b, 3, int32(c.Error))
	b = appendStringField(b, 4, c.Message)
	return b
}

func (c *CommandSendError) unmarshal(b []byte) error {
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			c.ProducerID = d.uvarint()
		case 2:
			c.SequenceID = d.uvarint()
		case 3:
			c.Error = ServerError(d.int32v())
		case 4:
			c.Message = d.stringv()
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}

// CommandCloseProducer closes a producer. Sent by the client to unregister,
// or pushed by the broker when the topic is unloaded or migrated.
type CommandCloseProducer struct {
	ProducerID uint64
	RequestID  uint64
}

func (c *CommandCloseProducer) marshal(b []byte) []byte {
	b = appendUvarintField(b, 1, c.ProducerID)
	b = appendUvarintField(b, 2, c.RequestID)
	return b
}

func (c *CommandCloseProducer) unmarshal(b []byte) error {
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			c.ProducerID = d.uvarint()
		case 2:
			c.RequestID = d.uvarint()
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}
