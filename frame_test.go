package pulsar

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simpleFrame(requestID uint64) *Frame {
	return &Frame{Command: &BaseCommand{
		Type: CommandTypeLookup,
		Lookup: &CommandLookupTopic{
			Topic:     "persistent://public/default/orders",
			RequestID: requestID,
		},
	}}
}

func payloadFrame(payload []byte) *Frame {
	return &Frame{
		Command: &BaseCommand{
			Type: CommandTypeSend,
			Send: &CommandSend{ProducerID: 7, SequenceID: 42},
		},
		Metadata: &MessageMetadata{
			ProducerName: "producer-1",
			SequenceID:   42,
			PublishTime:  1700000000000,
		},
		Payload: payload,
	}
}

func TestFrameRoundTrip(t *testing.T) {
	t.Run("command only", func(t *testing.T) {
		buf, err := EncodeFrame(simpleFrame(11), DefaultMaxFrameSize)
		require.NoError(t, err)

		decoded, n, err := DecodeFrame(buf, DefaultMaxFrameSize)
		require.NoError(t, err)
		assert.Equal(t, len(buf), n)
		assert.Equal(t, CommandTypeLookup, decoded.Command.Type)
		assert.Equal(t, uint64(11), decoded.Command.Lookup.RequestID)
		assert.Nil(t, decoded.Metadata)
		assert.Nil(t, decoded.Payload)
	})

	t.Run("with metadata and payload", func(t *testing.T) {
		payload := []byte("hello pulsar")
		buf, err := EncodeFrame(payloadFrame(payload), DefaultMaxFrameSize)
		require.NoError(t, err)

		decoded, _, err := DecodeFrame(buf, DefaultMaxFrameSize)
		require.NoError(t, err)
		require.NotNil(t, decoded.Metadata)
		assert.Equal(t, "producer-1", decoded.Metadata.ProducerName)
		assert.Equal(t, uint64(42), decoded.Metadata.SequenceID)
		assert.Equal(t, payload, decoded.Payload)
	})

	t.Run("empty payload", func(t *testing.T) {
		buf, err := EncodeFrame(payloadFrame(nil), DefaultMaxFrameSize)
		require.NoError(t, err)
		decoded, _, err := DecodeFrame(buf, DefaultMaxFrameSize)
		require.NoError(t, err)
		assert.Empty(t, decoded.Payload)
	})
}

func TestFrameChecksumCorruption(t *testing.T) {
	buf, err := EncodeFrame(payloadFrame([]byte("important data")), DefaultMaxFrameSize)
	require.NoError(t, err)

	// flip one bit in the payload region; the checksum must catch it
	corrupted := make([]byte, len(buf))
	copy(corrupted, buf)
	corrupted[len(corrupted)-3] ^= 0x01

	_, _, err = DecodeFrame(corrupted, DefaultMaxFrameSize)
	assert.ErrorIs(t, err, ErrCorruptFrame)
}

func TestFrameBadMagic(t *testing.T) {
	buf, err := EncodeFrame(payloadFrame([]byte("x")), DefaultMaxFrameSize)
	require.NoError(t, err)

	// the magic sits right after the command body; find and clobber it
	for i := 8; i < len(buf)-1; i++ {
		if buf[i] == frameMagic[0] && buf[i+1] == frameMagic[1] {
			corrupted := make([]byte, len(buf))
			copy(corrupted, buf)
			corrupted[i] = 0xff
			_, _, err = DecodeFrame(corrupted, DefaultMaxFrameSize)
			assert.ErrorIs(t, err, ErrCorruptFrame)
			return
		}
	}
	t.Fatal("magic bytes not found in encoded frame")
}

func TestFrameTooLarge(t *testing.T) {
	t.Run("encode", func(t *testing.T) {
		big := payloadFrame(make([]byte, 1024))
		_, err := EncodeFrame(big, 64)
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("decode", func(t *testing.T) {
		buf, err := EncodeFrame(payloadFrame(make([]byte, 1024)), DefaultMaxFrameSize)
		require.NoError(t, err)
		_, _, err = DecodeFrame(buf, 64)
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})
}

func TestFrameIncomplete(t *testing.T) {
	buf, err := EncodeFrame(simpleFrame(1), DefaultMaxFrameSize)
	require.NoError(t, err)

	for _, cut := range []int{0, 1, 3, len(buf) / 2, len(buf) - 1} {
		_, n, err := DecodeFrame(buf[:cut], DefaultMaxFrameSize)
		assert.ErrorIs(t, err, ErrIncompleteFrame, "cut at %d", cut)
		assert.Zero(t, n)
	}
}

func TestWriteReadFrame(t *testing.T) {
	var buf bytes.Buffer
	_, err := WriteFrame(&buf, payloadFrame([]byte("abc")), DefaultMaxFrameSize)
	require.NoError(t, err)
	_, err = WriteFrame(&buf, simpleFrame(2), DefaultMaxFrameSize)
	require.NoError(t, err)

	first, _, err := ReadFrame(&buf, DefaultMaxFrameSize)
	require.NoError(t, err)
	assert.Equal(t, CommandTypeSend, first.Command.Type)

	second, _, err := ReadFrame(&buf, DefaultMaxFrameSize)
	require.NoError(t, err)
	assert.Equal(t, CommandTypeLookup, second.Command.Type)
}

func TestFrameDecoderIncremental(t *testing.T) {
	var stream []byte
	for i := uint64(1); i <= 3; i++ {
		buf, err := EncodeFrame(simpleFrame(i), DefaultMaxFrameSize)
		require.NoError(t, err)
		stream = append(stream, buf...)
	}

	d := NewFrameDecoder(DefaultMaxFrameSize)
	var got []uint64
	// drip the stream one byte at a time
	for _, b := range stream {
		d.Feed([]byte{b})
		for {
			frame, err := d.Next()
			require.NoError(t, err)
			if frame == nil {
				break
			}
			got = append(got, frame.Command.Lookup.RequestID)
		}
	}
	assert.Equal(t, []uint64{1, 2, 3}, got)
	assert.Zero(t, d.Buffered())
}
