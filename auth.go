package pulsar

import (
	"os"
	"strings"
)

// Authentication supplies the auth method name and opaque auth payload sent
// in the Connect handshake. Token acquisition and refresh (OAuth2 and the
// like) live behind this interface; the engine only transports the bytes.
type Authentication interface {
	// Name returns the auth method name announced to the broker,
	// e.g. "token" or "tls".
	Name() string

	// Data produces the auth payload for the next handshake. It is called
	// on every (re)connect, so providers backed by expiring credentials can
	// return fresh data.
	Data() ([]byte, error)
}

// AuthNone performs no authentication.
type AuthNone struct{}

// NewAuthNone creates an Authentication sending no credentials.
func NewAuthNone() *AuthNone { return &AuthNone{} }

// Name returns the empty method name.
func (a *AuthNone) Name() string { return "" }

// Data returns no payload.
func (a *AuthNone) Data() ([]byte, error) { return nil, nil }

// AuthToken authenticates with a bearer token.
type AuthToken struct {
	supplier func() (string, error)
}

// NewAuthToken creates a token Authentication from a static token.
func NewAuthToken(token string) *AuthToken {
	return &AuthToken{supplier: func() (string, error) { return token, nil }}
}

// NewAuthTokenFromSupplier creates a token Authentication calling the
// supplier on every handshake, allowing token rotation.
func NewAuthTokenFromSupplier(supplier func() (string, error)) *AuthToken {
	return &AuthToken{supplier: supplier}
}

// NewAuthTokenFromFile creates a token Authentication reading the token from
// a file on every handshake.
func NewAuthTokenFromFile(path string) *AuthToken {
	return &AuthToken{supplier: func() (string, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}}
}

// Name returns "token".
func (a *AuthToken) Name() string { return "token" }

// Data returns the current token bytes.
func (a *AuthToken) Data() ([]byte, error) {
	token, err := a.supplier()
	if err != nil {
		return nil, err
	}
	return []byte(token), nil
}

// AuthTLS authenticates with a TLS client certificate. The certificate is
// presented during the TLS handshake by the transport; the Connect command
// only names the method.
type AuthTLS struct{}

// NewAuthTLS creates a TLS client certificate Authentication. Configure the
// certificate on the TLSDialer's tls.Config.
func NewAuthTLS() *AuthTLS { return &AuthTLS{} }

// Name returns "tls".
func (a *AuthTLS) Name() string { return "tls" }

// Data returns no payload; the credential travels in the TLS handshake.
func (a *AuthTLS) Data() ([]byte, error) { return nil, nil }
