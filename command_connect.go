package pulsar

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// protocolVersion is the broker protocol revision this client speaks.
const protocolVersion = 12

// clientVersionString identifies the client in the Connect handshake.
const clientVersionString = "pulsar-go-0.1.0"

// CommandConnect opens the session. It must be the first command on a
// connection; the broker answers with Connected or Error.
type CommandConnect struct {
	ClientVersion    string
	AuthData         []byte
	ProtocolVersion  int32
	AuthMethodName   string
	ProxyToBrokerURL string
}

func (c *CommandConnect) marshal(b []byte) []byte {
	b = appendStringField(b, 1, c.ClientVersion)
	if len(c.AuthData) > 0 {
		b = appendBytesField(b, 3, c.AuthData)
	}
	if c.ProtocolVersion != 0 {
		b = appendInt32Field(b, 4, c.ProtocolVersion)
	}
	if c.AuthMethodName != "" {
		b = appendStringField(b, 5, c.AuthMethodName)
	}
	if c.ProxyToBrokerURL != "" {
		b = appendStringField(b, 6, c.ProxyToBrokerURL)
	}
	return b
}

func (c *CommandConnect) unmarshal(b []byte) error {
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			c.ClientVersion = d.stringv()
		case 3:
			c.AuthData = d.bytesv()
		case 4:
			c.ProtocolVersion = d.int32v()
		case 5:
			c.AuthMethodName = d.stringv()
		case 6:
			c.ProxyToBrokerURL = d.stringv()
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}

// CommandConnected acknowledges a Connect.
type CommandConnected struct {
	ServerVersion   string
	ProtocolVersion int32
	MaxMessageSize  int32
}

func (c *CommandConnected) marshal(b []byte) []byte {
	b = appendStringField(b, 1, c.ServerVersion)
	if c.ProtocolVersion != 0 {
		b = appendInt32Field(b, 2, c.ProtocolVersion)
	}
	if c.MaxMessageSize != 0 {
		b = appendInt32Field(b, 3, c.MaxMessageSize)
	}
	return b
}

func (c *CommandConnected) unmarshal(b []byte) error {
	d := newProtoDecoder(b)
	var num protowire.Number
	var typ protowire.Type
	for d.next(&num, &typ) {
		switch num {
		case 1:
			c.ServerVersion = d.stringv()
		case 2:
			c.ProtocolVersion = d.int32v()
		case 3:
			c.MaxMessageSize = d.int32v()
		default:
			d.skip(num, typ)
		}
	}
	return d.err()
}

// CommandPing is the keepalive probe. Either side may send it; the peer must
// answer with Pong.
type CommandPing struct{}

func (c *CommandPing) marshal(b []byte) []byte { return b }
func (c *CommandPing) unmarshal([]byte) error  { return nil }

// CommandPong answers a Ping.
type CommandPong struct{}

func (c *CommandPong) marshal(b []byte) []byte { return b }
func (c *CommandPong) unmarshal([]byte) error  { return nil }

// newConnectFrame builds the handshake frame from the injected
// authentication.
func newConnectFrame(auth Authentication, proxyToBrokerURL string) (*Frame, error) {
	connect := &CommandConnect{
		ClientVersion:    clientVersionString,
		ProtocolVersion:  protocolVersion,
		ProxyToBrokerURL: proxyToBrokerURL,
	}
	if auth != nil {
		data, err := auth.Data()
		if err != nil {
			return nil, err
		}
		connect.AuthMethodName = auth.Name()
		connect.AuthData = data
	}
	return &Frame{Command: &BaseCommand{Type: CommandTypeConnect, Connect: connect}}, nil
}

func newPingFrame() *Frame {
	return &Frame{Command: &BaseCommand{Type: CommandTypePing, Ping: &CommandPing{}}}
}

func newPongFrame() *Frame {
	return &Frame{Command: &BaseCommand{Type: CommandTypePong, Pong: &CommandPong{}}}
}
