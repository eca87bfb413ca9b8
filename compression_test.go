package pulsar

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressionRoundTrip(t *testing.T) {
	payloads := [][]byte{
		nil,
		[]byte("short"),
		bytes.Repeat([]byte("compressible data "), 512),
	}
	registry := NewCompressionRegistry()

	for _, typ := range []CompressionType{
		CompressionNone, CompressionLZ4, CompressionZlib, CompressionZstd, CompressionSnappy,
	} {
		t.Run(typ.String(), func(t *testing.T) {
			provider, err := registry.Provider(typ)
			require.NoError(t, err)

			for _, payload := range payloads {
				compressed, err := provider.Compress(payload)
				require.NoError(t, err)
				decompressed, err := provider.Decompress(compressed, len(payload))
				require.NoError(t, err)
				if len(payload) == 0 {
					assert.Empty(t, decompressed)
				} else {
					assert.Equal(t, payload, decompressed)
				}
			}
		})
	}
}

func TestCompressionActuallyShrinks(t *testing.T) {
	payload := bytes.Repeat([]byte("aaaaaaaabbbbbbbb"), 1024)
	registry := NewCompressionRegistry()
	for _, typ := range []CompressionType{CompressionLZ4, CompressionZlib, CompressionZstd, CompressionSnappy} {
		provider, err := registry.Provider(typ)
		require.NoError(t, err)
		compressed, err := provider.Compress(payload)
		require.NoError(t, err)
		assert.Less(t, len(compressed), len(payload), typ.String())
	}
}

func TestCompressionRegistryUnknown(t *testing.T) {
	registry := NewCompressionRegistry()
	_, err := registry.Provider(CompressionType(99))
	assert.Error(t, err)
}

func TestCompressionRegistryCustomProvider(t *testing.T) {
	registry := NewCompressionRegistry()
	registry.Register(CompressionType(99), noneProvider{})
	provider, err := registry.Provider(CompressionType(99))
	require.NoError(t, err)
	out, err := provider.Compress([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), out)
}
