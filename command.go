package pulsar

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// CommandType identifies a wire command. The numeric values are fixed by the
// broker protocol and double as the BaseCommand field numbers carrying the
// command body.
type CommandType uint32

// Wire command types.
const (
	CommandTypeConnect                         CommandType = 2
	CommandTypeConnected                       CommandType = 3
	CommandTypeSubscribe                       CommandType = 4
	CommandTypeProducer                        CommandType = 5
	CommandTypeSend                            CommandType = 6
	CommandTypeSendReceipt                     CommandType = 7
	CommandTypeSendError                       CommandType = 8
	CommandTypeMessage                         CommandType = 9
	CommandTypeAck                             CommandType = 10
	CommandTypeFlow                            CommandType = 11
	CommandTypeUnsubscribe                     CommandType = 12
	CommandTypeSuccess                         CommandType = 13
	CommandTypeError                           CommandType = 14
	CommandTypeCloseProducer                   CommandType = 15
	CommandTypeCloseConsumer                   CommandType = 16
	CommandTypeProducerSuccess                 CommandType = 17
	CommandTypePing                            CommandType = 18
	CommandTypePong                            CommandType = 19
	CommandTypeRedeliverUnacknowledgedMessages CommandType = 20
	CommandTypePartitionedMetadata             CommandType = 21
	CommandTypePartitionedMetadataResponse     CommandType = 22
	CommandTypeLookup                          CommandType = 23
	CommandTypeLookupResponse                  CommandType = 24
	CommandTypeGetTopicsOfNamespace            CommandType = 32
	CommandTypeGetTopicsOfNamespaceResponse    CommandType = 33
)

// String returns the protocol name of the command type.
func (t CommandType) String() string {
	switch t {
	case CommandTypeConnect:
		return "CONNECT"
	case CommandTypeConnected:
		return "CONNECTED"
	case CommandTypeSubscribe:
		return "SUBSCRIBE"
	case CommandTypeProducer:
		return "PRODUCER"
	case CommandTypeSend:
		return "SEND"
	case CommandTypeSendReceipt:
		return "SEND_RECEIPT"
	case CommandTypeSendError:
		return "SEND_ERROR"
	case CommandTypeMessage:
		return "MESSAGE"
	case CommandTypeAck:
		return "ACK"
	case CommandTypeFlow:
		return "FLOW"
	case CommandTypeUnsubscribe:
		return "UNSUBSCRIBE"
	case CommandTypeSuccess:
		return "SUCCESS"
	case CommandTypeError:
		return "ERROR"
	case CommandTypeCloseProducer:
		return "CLOSE_PRODUCER"
	case CommandTypeCloseConsumer:
		return "CLOSE_CONSUMER"
	case CommandTypeProducerSuccess:
		return "PRODUCER_SUCCESS"
	case CommandTypePing:
		return "PING"
	case CommandTypePong:
		return "PONG"
	case CommandTypeRedeliverUnacknowledgedMessages:
		return "REDELIVER_UNACKNOWLEDGED_MESSAGES"
	case CommandTypePartitionedMetadata:
		return "PARTITIONED_METADATA"
	case CommandTypePartitionedMetadataResponse:
		return "PARTITIONED_METADATA_RESPONSE"
	case CommandTypeLookup:
		return "LOOKUP"
	case CommandTypeLookupResponse:
		return "LOOKUP_RESPONSE"
	case CommandTypeGetTopicsOfNamespace:
		return "GET_TOPICS_OF_NAMESPACE"
	case CommandTypeGetTopicsOfNamespaceResponse:
		return "GET_TOPICS_OF_NAMESPACE_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// BaseCommand is the closed tagged union of wire commands. Exactly the
// field matching Type is set.
type BaseCommand struct {
	Type CommandType

	Connect                         *CommandConnect
	Connected                       *CommandConnected
	Subscribe                       *CommandSubscribe
	Producer                        *CommandProducer
	Send                            *CommandSend
	SendReceipt                     *CommandSendReceipt
	SendError                       *CommandSendError
	Message                         *CommandMessage
	Ack                             *CommandAck
	Flow                            *CommandFlow
	Unsubscribe                     *CommandUnsubscribe
	Success                         *CommandSuccess
	Error                           *CommandError
	CloseProducer                   *CommandCloseProducer
	CloseConsumer                   *CommandCloseConsumer
	ProducerSuccess                 *CommandProducerSuccess
	Ping                            *CommandPing
	Pong                            *CommandPong
	RedeliverUnacknowledgedMessages *CommandRedeliverUnacknowledgedMessages
	PartitionedMetadata             *CommandPartitionedTopicMetadata
	PartitionedMetadataResponse     *CommandPartitionedTopicMetadataResponse
	Lookup                          *CommandLookupTopic
	LookupResponse                  *CommandLookupTopicResponse
	GetTopicsOfNamespace            *CommandGetTopicsOfNamespace
	GetTopicsOfNamespaceResponse    *CommandGetTopicsOfNamespaceResponse
}

type commandBody interface {
	marshal(b []byte) []byte
	unmarshal(b []byte) error
}

func (c *BaseCommand) body() commandBody {
	switch c.Type {
	case CommandTypeConnect:
		return c.Connect
	case CommandTypeConnected:
		return c.Connected
	case CommandTypeSubscribe:
		return c.Subscribe
	case CommandTypeProducer:
		return c.Producer
	case CommandTypeSend:
		return c.Send
	case CommandTypeSendReceipt:
		return c.SendReceipt
	case CommandTypeSendError:
		return c.SendError
	case CommandTypeMessage:
		return c.Message
	case CommandTypeAck:
		return c.Ack
	case CommandTypeFlow:
		return c.Flow
	case CommandTypeUnsubscribe:
		return c.Unsubscribe
	case CommandTypeSuccess:
		return c.Success
	case CommandTypeError:
		return c.Error
	case CommandTypeCloseProducer:
		return c.CloseProducer
	case CommandTypeCloseConsumer:
		return c.CloseConsumer
	case CommandTypeProducerSuccess:
		return c.ProducerSuccess
	case CommandTypePing:
		return c.Ping
	case CommandTypePong:
		return c.Pong
	case CommandTypeRedeliverUnacknowledgedMessages:
		return c.RedeliverUnacknowledgedMessages
	case CommandTypePartitionedMetadata:
		return c.PartitionedMetadata
	case CommandTypePartitionedMetadataResponse:
		return c.PartitionedMetadataResponse
	case CommandTypeLookup:
		return c.Lookup
	case CommandTypeLookupResponse:
		return c.LookupResponse
	case CommandTypeGetTopicsOfNamespace:
		return c.GetTopicsOfNamespace
	case CommandTypeGetTopicsOfNamespaceResponse:
		return c.GetTopicsOfNamespaceResponse
	default:
		return nil
	}
}

func (c *BaseCommand) marshal(b []byte) ([]byte, error) {
	body := c.body()
	if body == nil {
		return nil, newProtocolError("cannot encode command type %s", c.Type)
	}
	b = appendUvarintField(b, 1, uint64(c.Type))
	b = appendBytesField(b, protowire.Number(c.Type), body.marshal(nil))
	return b, nil
}

func (c *BaseCommand) unmarshal(b []byte) error {
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	var bodyBytes []byte
	var bodyNum protowire.Number
	for d.next(&num, &typ) {
		switch {
		case num == 1:
			c.Type = CommandType(d.uvarint())
		case typ == protowire.BytesType:
			bodyBytes = d.bytesv()
			bodyNum = num
		default:
			d.skip(num, typ)
		}
	}
	if err := d.err(); err != nil {
		return err
	}
	if c.Type == 0 {
		return newProtocolError("command without type field")
	}
	if err := c.allocate(); err != nil {
		return err
	}
	body := c.body()
	if bodyBytes == nil {
		// Ping and Pong bodies are empty messages and may be elided
		if c.Type == CommandTypePing || c.Type == CommandTypePong {
			return nil
		}
		return newProtocolError("command %s without body", c.Type)
	}
	if bodyNum != protowire.Number(c.Type) {
		return newProtocolError("command %s with mismatched body field %d", c.Type, bodyNum)
	}
	return body.unmarshal(bodyBytes)
}

// allocate instantiates the union member matching Type.
func (c *BaseCommand) allocate() error {
	switch c.Type {
	case CommandTypeConnect:
		c.Connect = &CommandConnect{}
	case CommandTypeConnected:
		c.Connected = &CommandConnected{}
	case CommandTypeSubscribe:
		c.Subscribe = &CommandSubscribe{}
	case CommandTypeProducer:
		c.Producer = &CommandProducer{}
	case CommandTypeSend:
		c.Send = &CommandSend{}
	case CommandTypeSendReceipt:
		c.SendReceipt = &CommandSendReceipt{}
	case CommandTypeSendError:
		c.SendError = &CommandSendError{}
	case CommandTypeMessage:
		c.Message = &CommandMessage{}
	case CommandTypeAck:
		c.Ack = &CommandAck{}
	case CommandTypeFlow:
		c.Flow = &CommandFlow{}
	case CommandTypeUnsubscribe:
		c.Unsubscribe = &CommandUnsubscribe{}
	case CommandTypeSuccess:
		c.Success = &CommandSuccess{}
	case CommandTypeError:
		c.Error = &CommandError{}
	case CommandTypeCloseProducer:
		c.CloseProducer = &CommandCloseProducer{}
	case CommandTypeCloseConsumer:
		c.CloseConsumer = &CommandCloseConsumer{}
	case CommandTypeProducerSuccess:
		c.ProducerSuccess = &CommandProducerSuccess{}
	case CommandTypePing:
		c.Ping = &CommandPing{}
	case CommandTypePong:
		c.Pong = &CommandPong{}
	case CommandTypeRedeliverUnacknowledgedMessages:
		c.RedeliverUnacknowledgedMessages = &CommandRedeliverUnacknowledgedMessages{}
	case CommandTypePartitionedMetadata:
		c.PartitionedMetadata = &CommandPartitionedTopicMetadata{}
	case CommandTypePartitionedMetadataResponse:
		c.PartitionedMetadataResponse = &CommandPartitionedTopicMetadataResponse{}
	case CommandTypeLookup:
		c.Lookup = &CommandLookupTopic{}
	case CommandTypeLookupResponse:
		c.LookupResponse = &CommandLookupTopicResponse{}
	case CommandTypeGetTopicsOfNamespace:
		c.GetTopicsOfNamespace = &CommandGetTopicsOfNamespace{}
	case CommandTypeGetTopicsOfNamespaceResponse:
		c.GetTopicsOfNamespaceResponse = &CommandGetTopicsOfNamespaceResponse{}
	default:
		return newProtocolError("unknown command type %d", uint32(c.Type))
	}
	return nil
}

// requestID returns the request id of a response-style command, if it
// carries one.
func (c *BaseCommand) requestID() (uint64, bool) {
	switch c.Type {
	case CommandTypeSuccess:
		return c.Success.RequestID, true
	case CommandTypeError:
		return c.Error.RequestID, true
	case CommandTypeProducerSuccess:
		return c.ProducerSuccess.RequestID, true
	case CommandTypeLookupResponse:
		return c.LookupResponse.RequestID, true
	case CommandTypePartitionedMetadataResponse:
		return c.PartitionedMetadataResponse.RequestID, true
	case CommandTypeGetTopicsOfNamespaceResponse:
		return c.GetTopicsOfNamespaceResponse.RequestID, true
	default:
		return 0, false
	}
}
