package pulsar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTripCommand(t *testing.T, cmd *BaseCommand) *BaseCommand {
	t.Helper()
	buf, err := cmd.marshal(nil)
	require.NoError(t, err)
	decoded := &BaseCommand{}
	require.NoError(t, decoded.unmarshal(buf))
	assert.Equal(t, cmd.Type, decoded.Type)
	return decoded
}

func TestCommandRoundTrip(t *testing.T) {
	t.Run("connect", func(t *testing.T) {
		decoded := roundTripCommand(t, &BaseCommand{
			Type: CommandTypeConnect,
			Connect: &CommandConnect{
				ClientVersion:   clientVersionString,
				AuthMethodName:  "token",
				AuthData:        []byte("secret"),
				ProtocolVersion: protocolVersion,
			},
		})
		assert.Equal(t, "token", decoded.Connect.AuthMethodName)
		assert.Equal(t, []byte("secret"), decoded.Connect.AuthData)
		assert.Equal(t, int32(protocolVersion), decoded.Connect.ProtocolVersion)
	})

	t.Run("subscribe with defaults", func(t *testing.T) {
		decoded := roundTripCommand(t, &BaseCommand{
			Type: CommandTypeSubscribe,
			Subscribe: &CommandSubscribe{
				Topic:        "persistent://public/default/orders",
				Subscription: "workers",
				SubType:      SubscriptionShared,
				ConsumerID:   3,
				RequestID:    9,
				Durable:      true,
			},
		})
		// durable is the wire default and must survive being elided
		assert.True(t, decoded.Subscribe.Durable)
		assert.Equal(t, SubscriptionShared, decoded.Subscribe.SubType)
	})

	t.Run("non durable subscribe", func(t *testing.T) {
		decoded := roundTripCommand(t, &BaseCommand{
			Type: CommandTypeSubscribe,
			Subscribe: &CommandSubscribe{
				Topic:        "t",
				Subscription: "s",
				ConsumerID:   1,
				RequestID:    2,
				Durable:      false,
			},
		})
		assert.False(t, decoded.Subscribe.Durable)
	})

	t.Run("send single message default", func(t *testing.T) {
		decoded := roundTripCommand(t, &BaseCommand{
			Type: CommandTypeSend,
			Send: &CommandSend{ProducerID: 1, SequenceID: 5, NumMessages: 1},
		})
		assert.Equal(t, int32(1), decoded.Send.NumMessages)
		assert.Zero(t, decoded.Send.HighestSequenceID)
	})

	t.Run("send batch range", func(t *testing.T) {
		decoded := roundTripCommand(t, &BaseCommand{
			Type: CommandTypeSend,
			Send: &CommandSend{
				ProducerID:        1,
				SequenceID:        10,
				NumMessages:       3,
				HighestSequenceID: 12,
			},
		})
		assert.Equal(t, uint64(10), decoded.Send.SequenceID)
		assert.Equal(t, uint64(12), decoded.Send.HighestSequenceID)
		assert.Equal(t, int32(3), decoded.Send.NumMessages)
	})

	t.Run("producer success negative last sequence", func(t *testing.T) {
		decoded := roundTripCommand(t, &BaseCommand{
			Type: CommandTypeProducerSuccess,
			ProducerSuccess: &CommandProducerSuccess{
				RequestID:      4,
				ProducerName:   "p-1",
				LastSequenceID: -1,
			},
		})
		assert.Equal(t, int64(-1), decoded.ProducerSuccess.LastSequenceID)
	})

	t.Run("ack cumulative", func(t *testing.T) {
		decoded := roundTripCommand(t, &BaseCommand{
			Type: CommandTypeAck,
			Ack: &CommandAck{
				ConsumerID: 2,
				AckType:    AckTypeCumulative,
				MessageIDs: []MessageIdData{{LedgerID: 5, EntryID: 9, Partition: -1, BatchIndex: -1}},
			},
		})
		require.Len(t, decoded.Ack.MessageIDs, 1)
		assert.Equal(t, AckTypeCumulative, decoded.Ack.AckType)
		assert.Equal(t, int32(-1), decoded.Ack.MessageIDs[0].Partition)
		assert.Equal(t, int32(-1), decoded.Ack.MessageIDs[0].BatchIndex)
	})

	t.Run("lookup response", func(t *testing.T) {
		decoded := roundTripCommand(t, &BaseCommand{
			Type: CommandTypeLookupResponse,
			LookupResponse: &CommandLookupTopicResponse{
				BrokerServiceURL:       "pulsar://other:6650",
				Response:               LookupResponseRedirect,
				RequestID:              8,
				Authoritative:          true,
				ProxyThroughServiceURL: true,
			},
		})
		assert.Equal(t, LookupResponseRedirect, decoded.LookupResponse.Response)
		assert.True(t, decoded.LookupResponse.Authoritative)
		assert.True(t, decoded.LookupResponse.ProxyThroughServiceURL)
	})

	t.Run("error", func(t *testing.T) {
		decoded := roundTripCommand(t, &BaseCommand{
			Type: CommandTypeError,
			Error: &CommandError{
				RequestID: 3,
				Error:     ServerErrorServiceNotReady,
				Message:   "try later",
			},
		})
		assert.Equal(t, ServerErrorServiceNotReady, decoded.Error.Error)
		assert.Equal(t, "try later", decoded.Error.Message)
	})
}

func TestCommandPingPongElidedBody(t *testing.T) {
	// brokers may omit the empty Ping/Pong bodies entirely
	for _, typ := range []CommandType{CommandTypePing, CommandTypePong} {
		buf := appendUvarintField(nil, 1, uint64(typ))
		cmd := &BaseCommand{}
		require.NoError(t, cmd.unmarshal(buf))
		assert.Equal(t, typ, cmd.Type)
	}
}

func TestCommandBodyFieldMismatch(t *testing.T) {
	// type says Subscribe but the body arrives on the Producer field number
	buf := appendUvarintField(nil, 1, uint64(CommandTypeSubscribe))
	body := (&CommandProducer{Topic: "t", ProducerID: 1, RequestID: 2}).marshal(nil)
	buf = appendBytesField(buf, 5, body)

	cmd := &BaseCommand{}
	assert.Error(t, cmd.unmarshal(buf))
}

func TestCommandRequestID(t *testing.T) {
	tests := []struct {
		name string
		cmd  *BaseCommand
		want uint64
		ok   bool
	}{
		{
			name: "success",
			cmd: &BaseCommand{
				Type:    CommandTypeSuccess,
				Success: &CommandSuccess{RequestID: 7},
			},
			want: 7,
			ok:   true,
		},
		{
			name: "error",
			cmd: &BaseCommand{
				Type:  CommandTypeError,
				Error: &CommandError{RequestID: 8},
			},
			want: 8,
			ok:   true,
		},
		{
			name: "producer success",
			cmd: &BaseCommand{
				Type:            CommandTypeProducerSuccess,
				ProducerSuccess: &CommandProducerSuccess{RequestID: 9},
			},
			want: 9,
			ok:   true,
		},
		{
			name: "lookup response",
			cmd: &BaseCommand{
				Type:           CommandTypeLookupResponse,
				LookupResponse: &CommandLookupTopicResponse{RequestID: 10},
			},
			want: 10,
			ok:   true,
		},
		{
			name: "message push has no request id",
			cmd: &BaseCommand{
				Type:    CommandTypeMessage,
				Message: &CommandMessage{ConsumerID: 1},
			},
			ok: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.cmd.requestID()
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestMessageMetadataDefaults(t *testing.T) {
	meta := &MessageMetadata{
		ProducerName: "p",
		SequenceID:   1,
		PublishTime:  1700000000000,
	}
	decoded := &MessageMetadata{}
	require.NoError(t, decoded.unmarshal(meta.marshal(nil)))
	assert.Equal(t, int32(1), decoded.NumMessagesInBatch)
	assert.Equal(t, CompressionNone, decoded.Compression)
}
