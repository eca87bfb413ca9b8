package pulsar

import (
	"context"
)

// defaultMaxLookupRedirects bounds how many Redirect responses a single
// topic lookup will follow.
const defaultMaxLookupRedirects = 20

// lookupResult names the broker owning a topic. logicalAddr is the broker's
// own service URL; physicalAddr is where the transport should connect,
// which is the original service URL when the broker asks to be reached
// through the proxy.
type lookupResult struct {
	logicalAddr  string
	physicalAddr string
}

// lookupService resolves topics to broker addresses over pooled
// connections, following redirects.
type lookupService struct {
	cm           *ConnectionManager
	serviceURL   string
	useTLS       bool
	maxRedirects int
	log          Logger
}

func newLookupService(cm *ConnectionManager, serviceURL string, useTLS bool, logger Logger) *lookupService {
	return &lookupService{
		cm:           cm,
		serviceURL:   serviceURL,
		useTLS:       useTLS,
		maxRedirects: defaultMaxLookupRedirects,
		log:          logger,
	}
}

// Lookup resolves the broker owning topic. Redirect responses trigger a
// fresh lookup against the named broker; a Failed response surfaces the
// broker error.
func (l *lookupService) Lookup(ctx context.Context, topic string) (*lookupResult, error) {
	addr := l.serviceURL
	authoritative := false

	for hop := 0; hop <= l.maxRedirects; hop++ {
		conn, err := l.cm.GetConnection(ctx, addr, addr)
		if err != nil {
			return nil, err
		}
		requestID := conn.NextRequestID()
		frame := &Frame{Command: &BaseCommand{
			Type: CommandTypeLookup,
			Lookup: &CommandLookupTopic{
				Topic:         topic,
				RequestID:     requestID,
				Authoritative: authoritative,
			},
		}}
		resp, err := conn.SendRequest(ctx, requestID, frame)
		if err != nil {
			return nil, err
		}
		if resp.Command.Type != CommandTypeLookupResponse {
			return nil, newProtocolError("lookup answered with %s", resp.Command.Type)
		}
		lr := resp.Command.LookupResponse

		switch lr.Response {
		case LookupResponseRedirect:
			authoritative = lr.Authoritative
			addr = l.brokerURL(lr)
			if addr == "" {
				return nil, newProtocolError("lookup redirect without broker URL")
			}
			l.log.Debug("lookup redirected", LogFields{"topic": topic, "broker": addr})

		case LookupResponseConnect:
			brokerAddr := l.brokerURL(lr)
			if brokerAddr == "" {
				return nil, newProtocolError("lookup response without broker URL")
			}
			result := &lookupResult{logicalAddr: brokerAddr, physicalAddr: brokerAddr}
			if lr.ProxyThroughServiceURL {
				result.physicalAddr = l.serviceURL
			}
			return result, nil

		case LookupResponseFailed:
			return nil, &BrokerError{Code: lr.Error, Message: lr.Message}

		default:
			return nil, newProtocolError("unknown lookup response %d", int32(lr.Response))
		}
	}
	return nil, ErrTooManyRedirects
}

func (l *lookupService) brokerURL(lr *CommandLookupTopicResponse) string {
	if l.useTLS {
		return lr.BrokerServiceURLTLS
	}
	return lr.BrokerServiceURL
}

// PartitionedMetadata returns how many partitions topic has; 0 means the
// topic is not partitioned.
func (l *lookupService) PartitionedMetadata(ctx context.Context, topic string) (uint32, error) {
	conn, err := l.cm.GetConnection(ctx, l.serviceURL, l.serviceURL)
	if err != nil {
		return 0, err
	}
	requestID := conn.NextRequestID()
	frame := &Frame{Command: &BaseCommand{
		Type: CommandTypePartitionedMetadata,
		PartitionedMetadata: &CommandPartitionedTopicMetadata{
			Topic:     topic,
			RequestID: requestID,
		},
	}}
	resp, err := conn.SendRequest(ctx, requestID, frame)
	if err != nil {
		return 0, err
	}
	if resp.Command.Type != CommandTypePartitionedMetadataResponse {
		return 0, newProtocolError("partition metadata answered with %s", resp.Command.Type)
	}
	pr := resp.Command.PartitionedMetadataResponse
	if pr.Response == PartitionedMetadataFailed {
		return 0, &BrokerError{Code: pr.Error, Message: pr.Message}
	}
	return pr.Partitions, nil
}

// TopicsOfNamespace lists the topics of a namespace, filtered by mode.
func (l *lookupService) TopicsOfNamespace(ctx context.Context, namespace string, mode TopicsMode) ([]string, error) {
	conn, err := l.cm.GetConnection(ctx, l.serviceURL, l.serviceURL)
	if err != nil {
		return nil, err
	}
	requestID := conn.NextRequestID()
	frame := &Frame{Command: &BaseCommand{
		Type: CommandTypeGetTopicsOfNamespace,
		GetTopicsOfNamespace: &CommandGetTopicsOfNamespace{
			RequestID: requestID,
			Namespace: namespace,
			Mode:      mode,
		},
	}}
	resp, err := conn.SendRequest(ctx, requestID, frame)
	if err != nil {
		return nil, err
	}
	if resp.Command.Type != CommandTypeGetTopicsOfNamespaceResponse {
		return nil, newProtocolError("namespace listing answered with %s", resp.Command.Type)
	}
	return resp.Command.GetTopicsOfNamespaceResponse.Topics, nil
}
