package pulsar

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServerErrorString(t *testing.T) {
	assert.Equal(t, "ServiceNotReady", ServerErrorServiceNotReady.String())
	assert.Equal(t, "AuthenticationError", ServerErrorAuthentication.String())
	assert.Equal(t, "UnknownError", ServerErrorUnknown.String())
}

func TestBrokerErrorRetryable(t *testing.T) {
	tests := []struct {
		code ServerError
		want bool
	}{
		{ServerErrorServiceNotReady, true},
		{ServerErrorTooManyRequests, true},
		{ServerErrorConsumerBusy, true},
		{ServerErrorProducerBusy, true},
		{ServerErrorAuthentication, false},
		{ServerErrorTopicNotFound, false},
		{ServerErrorChecksum, false},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			e := &BrokerError{Code: tt.code, Message: "m"}
			assert.Equal(t, tt.want, e.Retryable())
		})
	}
}

func TestBrokerErrorMessage(t *testing.T) {
	e := &BrokerError{Code: ServerErrorTopicNotFound, Message: "gone"}
	assert.Contains(t, e.Error(), "TopicNotFound")
	assert.Contains(t, e.Error(), "gone")
}

func TestSentinelErrorsWrap(t *testing.T) {
	wrapped := fmt.Errorf("%w: extra context", ErrCorruptFrame)
	assert.ErrorIs(t, wrapped, ErrCorruptFrame)
	assert.False(t, errors.Is(wrapped, ErrFrameTooLarge))
}

func TestProtocolError(t *testing.T) {
	err := newProtocolError("saw %s", CommandTypePing)
	var protoErr *ProtocolError
	assert.ErrorAs(t, err, &protoErr)
	assert.Contains(t, err.Error(), "PING")
}
