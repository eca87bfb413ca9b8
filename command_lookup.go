package pulsar

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// CommandSuccess is the generic positive response to request-style commands
// without a dedicated response type.
type CommandSuccess struct {
	RequestID uint64
}

func (c *CommandSuccess) marshal(b []byte) []byte {
	return appendUvarintField(b, 1, c.RequestID)
}

func (c *CommandSuccess) unmarshal(b []byte) error {
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			c.RequestID = d.uvarint()
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}

// CommandError is the broker's negative response to a request.
type CommandError struct {
	RequestID uint64
	Error     ServerError
	Message   string
}

func (c *CommandError) marshal(b []byte) []byte {
	b = appendUvarintField(b, 1, c.RequestID)
	b = appendInt32Field(b, 2, int32(c.Error))
	b = appendStringField(b, 3, c.Message)
	return b
}

func (c *CommandError) unmarshal(b []byte) error {
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			c.RequestID = d.uvarint()
		case 2:
			c.Error = ServerError(d.int32v())
		case 3:
			c.Message = d.stringv()
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}

// CommandLookupTopic resolves the broker owning a topic.
type CommandLookupTopic struct {
	Topic         string
	RequestID     uint64
	Authoritative bool
}

func (c *CommandLookupTopic) marshal(b []byte) []byte {
	b = appendStringField(b, 1, c.Topic)
	b = appendUvarintField(b, 2, c.RequestID)
	if c.Authoritative {
		b = appendBoolField(b, 3, true)
	}
	return b
}

func (c *CommandLookupTopic) unmarshal(b []byte) error {
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			c.Topic = d.stringv()
		case 2:
			c.RequestID = d.uvarint()
		case 3:
			c.Authoritative = d.boolv()
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}

// LookupResponseType is the outcome of a topic lookup.
type LookupResponseType int32

// Lookup outcomes, as defined by the wire protocol.
const (
	// LookupResponseRedirect points at another broker to repeat the lookup
	// against.
	LookupResponseRedirect LookupResponseType = 0
	// LookupResponseConnect names the broker owning the topic.
	LookupResponseConnect LookupResponseType = 1
	// LookupResponseFailed reports a failed lookup; Error carries the code.
	LookupResponseFailed LookupResponseType = 2
)

// CommandLookupTopicResponse answers a topic lookup.
type CommandLookupTopicResponse struct {
	BrokerServiceURL       string
	BrokerServiceURLTLS    string
	Response               LookupResponseType
	RequestID              uint64
	Authoritative          bool
	Error                  ServerError
	Message                string
	ProxyThroughServiceURL bool
}

func (c *CommandLookupTopicResponse) marshal(b []byte) []byte {
	if c.BrokerServiceURL != "" {
		b = appendStringField(b, 1, c.BrokerServiceURL)
	}
	if c.BrokerServiceURLTLS != "" {
		b = appendStringField(b, 2, c.BrokerServiceURLTLS)
	}
	b = appendInt32Field(b, 3, int32(c.Response))
	b = appendUvarintField(b, 4, c.RequestID)
	if c.Authoritative {
		b = appendBoolField(b, 5, true)
	}
	if c.Response == LookupResponseFailed {
		b = appendInt32Field(b, 6, int32(c.Error))
		b = appendStringField(b, 7, c.Message)
	}
	if c.ProxyThroughServiceURL {
		b = appendBoolField(b, 8, true)
	}
	return b
}

func (c *CommandLookupTopicResponse) unmarshal(b []byte) error {
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			c.BrokerServiceURL = d.stringv()
		case 2:
			c.BrokerServiceURLTLS = d.stringv()
		case 3:
			c.Response = LookupResponseType(d.int32v())
		case 4:
			c.RequestID = d.uvarint()
		case 5:
			c.Authoritative = d.boolv()
		case 6:
			c.Error = ServerError(d.int32v())
		case 7:
			c.Message = d.stringv()
		case 8:
			c.ProxyThroughServiceURL = d.boolv()
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}

// CommandPartitionedTopicMetadata asks how many partitions a topic has.
type CommandPartitionedTopicMetadata struct {
	Topic     string
	RequestID uint64
}

func (c *CommandPartitionedTopicMetadata) marshal(b []byte) []byte {
	b = appendStringField(b, 1, c.Topic)
	b = appendUvarintField(b, 2, c.RequestID)
	return b
}

func (c *CommandPartitionedTopicMetadata) unmarshal(b []byte) error {
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			c.Topic = d.stringv()
		case 2:
			c.RequestID = d.uvarint()
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}

// PartitionedMetadataResponseType is the outcome of a partition metadata
// request.
type PartitionedMetadataResponseType int32

// Partition metadata outcomes, as defined by the wire protocol.
const (
	// PartitionedMetadataSuccess carries the partition count.
	PartitionedMetadataSuccess PartitionedMetadataResponseType = 0
	// PartitionedMetadataFailed reports a failure; Error carries the code.
	PartitionedMetadataFailed PartitionedMetadataResponseType = 1
)

// CommandPartitionedTopicMetadataResponse answers a partition metadata
// request.
type CommandPartitionedTopicMetadataResponse struct {
	Partitions uint32
	RequestID  uint64
	Response   PartitionedMetadataResponseType
	Error      ServerError
	Message    string
}

func (c *CommandPartitionedTopicMetadataResponse) marshal(b []byte) []byte {
	b = appendUvarintField(b, 1, uint64(c.Partitions))
	b = appendUvarintField(b, 2, c.RequestID)
	b = appendInt32Field(b, 3, int32(c.Response))
	if c.Response == PartitionedMetadataFailed {
		b = appendInt32Field(b, 4, int32(c.Error))
		b = appendStringField(b, 5, c.Message)
	}
	return b
}

func (c *CommandPartitionedTopicMetadataResponse) unmarshal(b []byte) error {
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			c.Partitions = uint32(d.uvarint())
		case 2:
			c.RequestID = d.uvarint()
		case 3:
			c.Response = PartitionedMetadataResponseType(d.int32v())
		case 4:
			c.Error = ServerError(d.int32v())
		case 5:
			c.Message = d.stringv()
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}

// TopicsMode filters the namespace topic listing.
type TopicsMode int32

// Namespace listing modes, as defined by the wire protocol.
const (
	// TopicsModePersistent lists persistent topics only.
	TopicsModePersistent TopicsMode = 0
	// TopicsModeNonPersistent lists non-persistent topics only.
	TopicsModeNonPersistent TopicsMode = 1
	// TopicsModeAll lists every topic of the namespace.
	TopicsModeAll TopicsMode = 2
)

// CommandGetTopicsOfNamespace lists the topics of a namespace.
type CommandGetTopicsOfNamespace struct {
	RequestID uint64
	Namespace string
	Mode      TopicsMode
}

func (c *CommandGetTopicsOfNamespace) marshal(b []byte) []byte {
	b = appendUvarintField(b, 1, c.RequestID)
	b = appendStringField(b, 2, c.Namespace)
	if c.Mode != TopicsModePersistent {
		b = appendInt32Field(b, 3, int32(c.Mode))
	}
	return b
}

func (c *CommandGetTopicsOfNamespace) unmarshal(b []byte) error {
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			c.RequestID = d.uvarint()
		case 2:
			c.Namespace = d.stringv()
		case 3:
			c.Mode = TopicsMode(d.int32v())
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}

// CommandGetTopicsOfNamespaceResponse answers a namespace topic listing.
type CommandGetTopicsOfNamespaceResponse struct {
	RequestID uint64
	Topics    []string
}

func (c *CommandGetTopicsOfNamespaceResponse) marshal(b []byte) []byte {
	b = appendUvarintField(b, 1, c.RequestID)
	for _, t := range c.Topics {
		b = appendStringField(b, 2, t)
	}
	return b
}

func (c *CommandGetTopicsOfNamespaceResponse) unmarshal(b []byte) error {
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			c.RequestID = d.uvarint()
		case 2:
			c.Topics = append(c.Topics, d.stringv())
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}
