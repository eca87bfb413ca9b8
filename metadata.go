package pulsar

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// KeyValue is a string property pair carried in message metadata and
// producer/consumer registration commands.
type KeyValue struct {
	Key   string
	Value string
}

func (kv *KeyValue) marshal(b []byte) []byte {
	b = appendStringField(b, 1, kv.Key)
	b = appendStringField(b, 2, kv.Value)
	return b
}

func (kv *KeyValue) unmarshal(b []byte) error {
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			kv.Key = d.stringv()
		case 2:
			kv.Value = d.stringv()
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}

func appendProperties(b []byte, num protowire.Number, props []KeyValue) []byte {
	for i := range props {
		b = appendBytesField(b, num, props[i].marshal(nil))
	}
	return b
}

func propertiesToMap(props []KeyValue) map[string]string {
	if len(props) == 0 {
		return nil
	}
	m := make(map[string]string, len(props))
	for _, kv := range props {
		m[kv.Key] = kv.Value
	}
	return m
}

func propertiesFromMap(m map[string]string) []KeyValue {
	if len(m) == 0 {
		return nil
	}
	props := make([]KeyValue, 0, len(m))
	for k, v := range m {
		props = append(props, KeyValue{Key: k, Value: v})
	}
	return props
}

// MessageIdData is the broker-assigned position of a persisted message.
type MessageIdData struct {
	LedgerID   uint64
	EntryID    uint64
	Partition  int32
	BatchIndex int32
}

func (m *MessageIdData) marshal(b []byte) []byte {
	b = appendUvarintField(b, 1, m.LedgerID)
	b = appendUvarintField(b, 2, m.EntryID)
	b = appendInt32Field(b, 3, m.Partition)
	b = appendInt32Field(b, 4, m.BatchIndex)
	return b
}

func (m *MessageIdData) unmarshal(b []byte) error {
	// partition and batch_index default to -1 when absent
	m.Partition = -1
	m.BatchIndex = -1
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			m.LedgerID = d.uvarint()
		case 2:
			m.EntryID = d.uvarint()
		case 3:
			m.Partition = d.int32v()
		case 4:
			m.BatchIndex = d.int32v()
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}

// MessageMetadata is the per-send metadata travelling with the payload in a
// checksummed frame.
type MessageMetadata struct {
	ProducerName        string
	SequenceID          uint64
	PublishTime         uint64 // milliseconds since epoch
	Properties          []KeyValue
	ReplicatedFrom      string
	PartitionKey        string
	Compression         CompressionType
	UncompressedSize    uint32
	NumMessagesInBatch  int32
	EventTime           uint64
	SchemaVersion       []byte
	OrderingKey         []byte
}

func (m *MessageMetadata) marshal(b []byte) []byte {
	b = appendStringField(b, 1, m.ProducerName)
	b = appendUvarintField(b, 2, m.SequenceID)
	b = appendUvarintField(b, 3, m.PublishTime)
	b = appendProperties(b, 4, m.Properties)
	if m.ReplicatedFrom != "" {
		b = appendStringField(b, 5, m.ReplicatedFrom)
	}
	if m.PartitionKey != "" {
		b = appendStringField(b, 6, m.PartitionKey)
	}
	if m.Compression != CompressionNone {
		b = appendUvarintField(b, 8, uint64(m.Compression))
	}
	if m.UncompressedSize != 0 {
		b = appendUvarintField(b, 9, uint64(m.UncompressedSize))
	}
	if m.NumMessagesInBatch > 1 {
		b = appendInt32Field(b, 11, m.NumMessagesInBatch)
	}
	if m.EventTime != 0 {
		b = appendUvarintField(b, 12, m.EventTime)
	}
	if len(m.SchemaVersion) > 0 {
		b = appendBytesField(b, 16, m.SchemaVersion)
	}
	if len(m.OrderingKey) > 0 {
		b = appendBytesField(b, 18, m.OrderingKey)
	}
	return b
}

func (m *MessageMetadata) unmarshal(b []byte) error {
	m.NumMessagesInBatch = 1
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			m.ProducerName = d.stringv()
		case 2:
			m.SequenceID = d.uvarint()
		case 3:
			m.PublishTime = d.uvarint()
		case 4:
			var kv KeyValue
			if err := kv.unmarshal(d.bytesv()); err != nil {
				return err
			}
			m.Properties = append(m.Properties, kv)
		case 5:
			m.ReplicatedFrom = d.stringv()
		case 6:
			m.PartitionKey = d.stringv()
		case 8:
			m.Compression = CompressionType(d.uvarint())
		case 9:
			m.UncompressedSize = uint32(d.uvarint())
		case 11:
			m.NumMessagesInBatch = d.int32v()
		case 12:
			m.EventTime = d.uvarint()
		case 16:
			m.SchemaVersion = d.bytesv()
		case 18:
			m.OrderingKey = d.bytesv()
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}

// SingleMessageMetadata precedes each entry of a batched payload.
type SingleMessageMetadata struct {
	Properties   []KeyValue
	PartitionKey string
	PayloadSize  int32
	CompactedOut bool
	EventTime    uint64
	OrderingKey  []byte
}

func (m *SingleMessageMetadata) marshal(b []byte) []byte {
	b = appendProperties(b, 1, m.Properties)
	if m.PartitionKey != "" {
		b = appendStringField(b, 2, m.PartitionKey)
	}
	b = appendInt32Field(b, 3, m.PayloadSize)
	if m.CompactedOut {
		b = appendBoolField(b, 4, true)
	}
	if m.EventTime != 0 {
		b = appendUvarintField(b, 5, m.EventTime)
	}
	if len(m.OrderingKey) > 0 {
		b = appendBytesField(b, 7, m.OrderingKey)
	}
	return b
}

func (m *SingleMessageMetadata) unmarshal(b []byte) error {
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			var kv KeyValue
			if err := kv.unmarshal(d.bytesv()); err != nil {
				return err
			}
			m.Properties = append(m.Properties, kv)
		case 2:
			m.PartitionKey = d.stringv()
		case 3:
			m.PayloadSize = d.int32v()
		case 4:
			m.CompactedOut = d.boolv()
		case 5:
			m.EventTime = d.uvarint()
		case 7:
			m.OrderingKey = d.bytesv()
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}
