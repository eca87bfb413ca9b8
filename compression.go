package pulsar

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType tags the codec applied to a message payload. The numeric
// values are fixed by the wire protocol and travel in MessageMetadata.
type CompressionType int32

// Compression codecs, as defined by the wire protocol.
const (
	CompressionNone   CompressionType = 0
	CompressionLZ4    CompressionType = 1
	CompressionZlib   CompressionType = 2
	CompressionZstd   CompressionType = 3
	CompressionSnappy CompressionType = 4
)

// String returns the codec name.
func (t CompressionType) String() string {
	switch t {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZlib:
		return "zlib"
	case CompressionZstd:
		return "zstd"
	case CompressionSnappy:
		return "snappy"
	default:
		return "unknown"
	}
}

// CompressionProvider implements one payload codec. The engine round-trips
// the CompressionType tag and delegates the bytes to the provider.
type CompressionProvider interface {
	// Compress returns the compressed form of data.
	Compress(data []byte) ([]byte, error)

	// Decompress restores data, given the uncompressed size recorded in the
	// message metadata (0 if unknown).
	Decompress(data []byte, uncompressedSize int) ([]byte, error)
}

// CompressionRegistry maps compression tags to providers. The zero registry
// handles CompressionNone only; NewCompressionRegistry registers the
// built-in codecs.
type CompressionRegistry struct {
	mu        sync.RWMutex
	providers map[CompressionType]CompressionProvider
}

// NewCompressionRegistry creates a registry with the built-in LZ4, zlib,
// zstd and snappy codecs registered.
func NewCompressionRegistry() *CompressionRegistry {
	r := &CompressionRegistry{providers: make(map[CompressionType]CompressionProvider)}
	r.Register(CompressionLZ4, lz4Provider{})
	r.Register(CompressionZlib, zlibProvider{})
	r.Register(CompressionZstd, newZstdProvider())
	r.Register(CompressionSnappy, snappyProvider{})
	return r
}

// Register installs a provider for the given tag, replacing any existing
// one.
func (r *CompressionRegistry) Register(t CompressionType, p CompressionProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.providers == nil {
		r.providers = make(map[CompressionType]CompressionProvider)
	}
	r.providers[t] = p
}

// Provider returns the provider for the given tag.
func (r *CompressionRegistry) Provider(t CompressionType) (CompressionProvider, error) {
	if t == CompressionNone {
		return noneProvider{}, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[t]
	if !ok {
		return nil, fmt.Errorf("no compression provider registered for %s", t)
	}
	return p, nil
}

type noneProvider struct{}

func (noneProvider) Compress(data []byte) ([]byte, error) { return data, nil }
func (noneProvider) Decompress(data []byte, _ int) ([]byte, error) {
	return data, nil
}

type lz4Provider struct{}

func (lz4Provider) Compress(data []byte) ([]byte, error) {
	buf := make([]byte, lz4.CompressBlockBound(len(data)))
	var c lz4.Compressor
	n, err := c.CompressBlock(data, buf)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// incompressible, stored as-is by the block format
		n = copy(buf, data)
	}
	return buf[:n], nil
}

func (lz4Provider) Decompress(data []byte, uncompressedSize int) ([]byte, error) {
	if uncompressedSize <= 0 {
		uncompressedSize = 4 * len(data)
	}
	out := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(data, out)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

type zlibProvider struct{}

func (zlibProvider) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (zlibProvider) Decompress(data []byte, _ int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

type zstdProvider struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdProvider() *zstdProvider {
	enc, _ := zstd.NewWriter(nil)
	dec, _ := zstd.NewReader(nil)
	return &zstdProvider{enc: enc, dec: dec}
}

func (p *zstdProvider) Compress(data []byte) ([]byte, error) {
	return p.enc.EncodeAll(data, nil), nil
}

func (p *zstdProvider) Decompress(data []byte, uncompressedSize int) ([]byte, error) {
	var dst []byte
	if uncompressedSize > 0 {
		dst = make([]byte, 0, uncompressedSize)
	}
	return p.dec.DecodeAll(data, dst)
}

type snappyProvider struct{}

func (snappyProvider) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyProvider) Decompress(data []byte, _ int) ([]byte, error) {
	return snappy.Decode(nil, data)
}
