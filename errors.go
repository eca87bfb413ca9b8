package pulsar

import (
	"errors"
	"fmt"
)

// Sentinel errors for the frame codec - check with errors.Is().
var (
	// ErrFrameTooLarge is returned when a frame exceeds the maximum size.
	ErrFrameTooLarge = errors.New("pulsar: frame exceeds maximum size")

	// ErrCorruptFrame is returned when a frame fails checksum or structural
	// validation. It is connection-fatal.
	ErrCorruptFrame = errors.New("pulsar: corrupt frame")

	// ErrIncompleteFrame is returned by DecodeFrame when the buffer does not
	// yet hold a complete frame.
	ErrIncompleteFrame = errors.New("pulsar: incomplete frame")
)

// Sentinel errors for connections - check with errors.Is().
var (
	// ErrConnectionClosed is returned when an operation is attempted on a
	// closed connection, or when closing a connection fails its pending
	// requests.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrKeepAliveTimeout is emitted when the broker does not answer a Ping
	// within the keepalive deadline.
	ErrKeepAliveTimeout = errors.New("keep-alive timeout")

	// ErrRequestTimeout is returned when a request receives no response
	// within its deadline.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrUnexpectedResponse is returned when the broker answers a request
	// with a command of the wrong type.
	ErrUnexpectedResponse = errors.New("unexpected response")

	// ErrInvalidServiceURL is returned for service URLs with an unknown
	// scheme or missing host.
	ErrInvalidServiceURL = errors.New("invalid service URL")

	// ErrTooManyRedirects is returned when a topic lookup follows more
	// redirects than allowed.
	ErrTooManyRedirects = errors.New("too many lookup redirects")
)

// Sentinel errors for producers and consumers - check with errors.Is().
var (
	// ErrProducerClosed is returned when sending on a closed producer.
	ErrProducerClosed = errors.New("producer closed")

	// ErrConsumerClosed is returned when receiving on a closed consumer.
	ErrConsumerClosed = errors.New("consumer closed")

	// ErrSendQueueFull is returned when the producer's pending queue is full
	// and blocking is disabled.
	ErrSendQueueFull = errors.New("producer send queue full")

	// ErrMessageTooLarge is returned when a single message exceeds the
	// maximum frame size.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrRetriesExhausted is returned when a batch's retry budget is spent
	// without a broker acknowledgment.
	ErrRetriesExhausted = errors.New("delivery failed: retries exhausted")
)

// ServerError is the broker-side error code carried by Error responses.
type ServerError int32

// Broker error codes, as defined by the wire protocol.
const (
	ServerErrorUnknown                      ServerError = 0
	ServerErrorMetadata                     ServerError = 1
	ServerErrorPersistence                  ServerError = 2
	ServerErrorAuthentication               ServerError = 3
	ServerErrorAuthorization                ServerError = 4
	ServerErrorConsumerBusy                 ServerError = 5
	ServerErrorServiceNotReady              ServerError = 6
	ServerErrorProducerBlockedQuotaExceeded ServerError = 7
	ServerErrorChecksum                     ServerError = 8
	ServerErrorUnsupportedVersion           ServerError = 9
	ServerErrorTopicNotFound                ServerError = 10
	ServerErrorSubscriptionNotFound         ServerError = 11
	ServerErrorConsumerNotFound             ServerError = 12
	ServerErrorTooManyRequests              ServerError = 13
	ServerErrorTopicTerminated              ServerError = 14
	ServerErrorProducerBusy                 ServerError = 15
	ServerErrorInvalidTopicName             ServerError = 16
)

// String returns the protocol name of the error code.
func (e ServerError) String() string {
	switch e {
	case ServerErrorMetadata:
		return "MetadataError"
	case ServerErrorPersistence:
		return "PersistenceError"
	case ServerErrorAuthentication:
		return "AuthenticationError"
	case ServerErrorAuthorization:
		return "AuthorizationError"
	case ServerErrorConsumerBusy:
		return "ConsumerBusy"
	case ServerErrorServiceNotReady:
		return "ServiceNotReady"
	case ServerErrorProducerBlockedQuotaExceeded:
		return "ProducerBlockedQuotaExceededError"
	case ServerErrorChecksum:
		return "ChecksumError"
	case ServerErrorUnsupportedVersion:
		return "UnsupportedVersionError"
	case ServerErrorTopicNotFound:
		return "TopicNotFound"
	case ServerErrorSubscriptionNotFound:
		return "SubscriptionNotFound"
	case ServerErrorConsumerNotFound:
		return "ConsumerNotFound"
	case ServerErrorTooManyRequests:
		return "TooManyRequests"
	case ServerErrorTopicTerminated:
		return "TopicTerminatedError"
	case ServerErrorProducerBusy:
		return "ProducerBusy"
	case ServerErrorInvalidTopicName:
		return "InvalidTopicName"
	default:
		return "UnknownError"
	}
}

// BrokerError is an explicit Error response from the broker.
// Extract with errors.As().
type BrokerError struct {
	Code    ServerError
	Message string
}

// Error implements the error interface.
func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker error %s: %s", e.Code, e.Message)
}

// Retryable reports whether the operation that caused the error may be
// retried transparently on the same or another connection.
func (e *BrokerError) Retryable() bool {
	switch e.Code {
	case ServerErrorServiceNotReady, ServerErrorTooManyRequests,
		ServerErrorConsumerBusy, ServerErrorProducerBusy:
		return true
	default:
		return false
	}
}

// ProtocolError is a violation of the wire protocol detected locally.
// It is connection-fatal: the connection it occurred on is torn down.
// Extract with errors.As().
type ProtocolError struct {
	Reason string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

func newProtocolError(format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}
