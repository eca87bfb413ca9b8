package pulsar

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthNone(t *testing.T) {
	a := NewAuthNone()
	assert.Empty(t, a.Name())
	data, err := a.Data()
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestAuthToken(t *testing.T) {
	t.Run("static token", func(t *testing.T) {
		a := NewAuthToken("my-jwt")
		assert.Equal(t, "token", a.Name())
		data, err := a.Data()
		require.NoError(t, err)
		assert.Equal(t, []byte("my-jwt"), data)
	})

	t.Run("supplier", func(t *testing.T) {
		calls := 0
		a := NewAuthTokenFromSupplier(func() (string, error) {
			calls++
			return "fresh-token", nil
		})
		data, err := a.Data()
		require.NoError(t, err)
		assert.Equal(t, []byte("fresh-token"), data)

		_, err = a.Data()
		require.NoError(t, err)
		assert.Equal(t, 2, calls, "supplier should be consulted on every handshake")
	})

	t.Run("supplier error", func(t *testing.T) {
		wantErr := errors.New("vault unavailable")
		a := NewAuthTokenFromSupplier(func() (string, error) { return "", wantErr })
		_, err := a.Data()
		assert.ErrorIs(t, err, wantErr)
	})

	t.Run("from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token")
		require.NoError(t, os.WriteFile(path, []byte("  file-token\n"), 0o600))

		a := NewAuthTokenFromFile(path)
		data, err := a.Data()
		require.NoError(t, err)
		assert.Equal(t, []byte("file-token"), data)
	})

	t.Run("from missing file", func(t *testing.T) {
		a := NewAuthTokenFromFile(filepath.Join(t.TempDir(), "absent"))
		_, err := a.Data()
		assert.Error(t, err)
	})
}

func TestAuthTLS(t *testing.T) {
	a := NewAuthTLS()
	assert.Equal(t, "tls", a.Name())
	data, err := a.Data()
	require.NoError(t, err)
	assert.Nil(t, data)
}
