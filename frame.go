package pulsar

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// DefaultMaxFrameSize bounds the total size of a wire frame, matching the
// broker's default limit.
const DefaultMaxFrameSize uint32 = 5*1024*1024 + 10*1024

// Checksummed frames carry a two-byte magic marker before the CRC32-C
// checksum.
var frameMagic = [2]byte{0x0e, 0x01}

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Frame is one unit of the wire protocol: a command, optionally followed by
// message metadata and a payload protected by a CRC32-C checksum.
//
// On the wire:
//
//	[totalSize u32][commandSize u32][command]
//	[magic 0x0e01][checksum u32][metadataSize u32][metadata][payload]
//
// where the second line is present only for frames with metadata, and the
// checksum covers metadataSize, metadata and payload. All integers are
// big-endian.
type Frame struct {
	Command  *BaseCommand
	Metadata *MessageMetadata
	Payload  []byte
}

// EncodeFrame encodes the frame, including the totalSize prefix. If maxSize
// is greater than 0, frames larger than maxSize return ErrFrameTooLarge.
func EncodeFrame(f *Frame, maxSize uint32) ([]byte, error) {
	cmd, err := f.Command.marshal(nil)
	if err != nil {
		return nil, err
	}

	totalSize := 4 + len(cmd)
	var meta []byte
	if f.Metadata != nil {
		meta = f.Metadata.marshal(nil)
		totalSize += 2 + 4 + 4 + len(meta) + len(f.Payload)
	} else if len(f.Payload) > 0 {
		return nil, newProtocolError("frame with payload but no metadata")
	}
	if maxSize > 0 && uint64(totalSize)+4 > uint64(maxSize) {
		return nil, ErrFrameTooLarge
	}

	out := make([]byte, 0, 4+totalSize)
	out = binary.BigEndian.AppendUint32(out, uint32(totalSize))
	out = binary.BigEndian.AppendUint32(out, uint32(len(cmd)))
	out = append(out, cmd...)

	if f.Metadata != nil {
		out = append(out, frameMagic[0], frameMagic[1])
		checksumAt := len(out)
		out = binary.BigEndian.AppendUint32(out, 0) // checksum placeholder
		out = binary.BigEndian.AppendUint32(out, uint32(len(meta)))
		out = append(out, meta...)
		out = append(out, f.Payload...)
		checksum := crc32.Checksum(out[checksumAt+4:], crc32cTable)
		binary.BigEndian.PutUint32(out[checksumAt:], checksum)
	}
	return out, nil
}

// WriteFrame encodes the frame and writes it to w.
func WriteFrame(w io.Writer, f *Frame, maxSize uint32) (int, error) {
	buf, err := EncodeFrame(f, maxSize)
	if err != nil {
		return 0, err
	}
	return w.Write(buf)
}

// ReadFrame reads one complete frame from r. If maxSize is greater than 0,
// frames larger than maxSize return ErrFrameTooLarge.
func ReadFrame(r io.Reader, maxSize uint32) (*Frame, int, error) {
	var sizeBuf [4]byte
	n, err := io.ReadFull(r, sizeBuf[:])
	if err != nil {
		return nil, n, err
	}
	totalSize := binary.BigEndian.Uint32(sizeBuf[:])
	if maxSize > 0 && uint64(totalSize)+4 > uint64(maxSize) {
		return nil, n, ErrFrameTooLarge
	}
	body := make([]byte, totalSize)
	bn, err := io.ReadFull(r, body)
	n += bn
	if err != nil {
		return nil, n, err
	}
	frame, err := parseFrameBody(body)
	return frame, n, err
}

// DecodeFrame decodes one frame from the front of buf, returning the number
// of bytes consumed. It returns ErrIncompleteFrame when buf does not yet
// hold a full frame, so it can be called repeatedly as bytes arrive.
func DecodeFrame(buf []byte, maxSize uint32) (*Frame, int, error) {
	if len(buf) < 4 {
		return nil, 0, ErrIncompleteFrame
	}
	totalSize := binary.BigEndian.Uint32(buf)
	if maxSize > 0 && uint64(totalSize)+4 > uint64(maxSize) {
		return nil, 0, ErrFrameTooLarge
	}
	if uint64(len(buf)) < 4+uint64(totalSize) {
		return nil, 0, ErrIncompleteFrame
	}
	frame, err := parseFrameBody(buf[4 : 4+totalSize])
	if err != nil {
		return nil, 0, err
	}
	return frame, 4 + int(totalSize), nil
}

func parseFrameBody(body []byte) (*Frame, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("%w: truncated command size", ErrCorruptFrame)
	}
	cmdSize := binary.BigEndian.Uint32(body)
	rest := body[4:]
	if uint64(cmdSize) > uint64(len(rest)) {
		return nil, fmt.Errorf("%w: command size exceeds frame", ErrCorruptFrame)
	}

	cmd := &BaseCommand{}
	if err := cmd.unmarshal(rest[:cmdSize]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
	}
	frame := &Frame{Command: cmd}

	rest = rest[cmdSize:]
	if len(rest) == 0 {
		return frame, nil
	}

	if len(rest) < 2+4+4 {
		return nil, fmt.Errorf("%w: truncated payload header", ErrCorruptFrame)
	}
	if rest[0] != frameMagic[0] || rest[1] != frameMagic[1] {
		return nil, fmt.Errorf("%w: bad magic number", ErrCorruptFrame)
	}
	checksum := binary.BigEndian.Uint32(rest[2:])
	checksummed := rest[6:]
	if crc32.Checksum(checksummed, crc32cTable) != checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptFrame)
	}

	metaSize := binary.BigEndian.Uint32(checksummed)
	if uint64(4+metaSize) > uint64(len(checksummed)) {
		return nil, fmt.Errorf("%w: metadata size exceeds frame", ErrCorruptFrame)
	}
	meta := &MessageMetadata{}
	if err := meta.unmarshal(checksummed[4 : 4+metaSize]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
	}
	frame.Metadata = meta

	payload := checksummed[4+metaSize:]
	if len(payload) > 0 {
		frame.Payload = make([]byte, len(payload))
		copy(frame.Payload, payload)
	}
	return frame, nil
}

// FrameDecoder decodes frames incrementally from a growing buffer, for
// callers that manage their own socket reads.
type FrameDecoder struct {
	buf     []byte
	maxSize uint32
}

// NewFrameDecoder creates a decoder enforcing the given maximum frame size.
func NewFrameDecoder(maxSize uint32) *FrameDecoder {
	return &FrameDecoder{maxSize: maxSize}
}

// Feed appends newly received bytes to the decoder's buffer.
func (d *FrameDecoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next decodes the next complete frame, or returns (nil, nil) when more
// bytes are needed. Decoding errors are fatal for the stream.
func (d *FrameDecoder) Next() (*Frame, error) {
	frame, n, err := DecodeFrame(d.buf, d.maxSize)
	if err != nil {
		if err == ErrIncompleteFrame {
			return nil, nil
		}
		return nil, err
	}
	d.buf = d.buf[n:]
	return frame, nil
}

// Buffered returns the number of bytes waiting in the decoder.
func (d *FrameDecoder) Buffered() int {
	return len(d.buf)
}
