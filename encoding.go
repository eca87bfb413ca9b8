package pulsar

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Command bodies use the broker's fixed protobuf schema. The field numbers
// are part of the wire contract and are spelled out at each call site; the
// low-level varint/tag/length-delimited plumbing is protowire.

func appendUvarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendInt32Field(b []byte, num protowire.Number, v int32) []byte {
	// proto2 int32 fields are sign-extended varints
	return appendUvarintField(b, num, uint64(int64(v)))
}

func appendInt64Field(b []byte, num protowire.Number, v int64) []byte {
	return appendUvarintField(b, num, uint64(v))
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	if v {
		return appendUvarintField(b, num, 1)
	}
	return appendUvarintField(b, num, 0)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// protoDecoder iterates the fields of a raw protobuf message. The zero
// decoder is not usable; construct with newProtoDecoder. After the field
// loop, check err().
type protoDecoder struct {
	buf     []byte
	failure error
}

func newProtoDecoder(b []byte) *protoDecoder {
	return &protoDecoder{buf: b}
}

// next advances to the next field, storing its number and wire type.
// It returns false at end of buffer or on malformed input.
func (d *protoDecoder) next(num *protowire.Number, typ *protowire.Type) bool {
	if d.failure != nil || len(d.buf) == 0 {
		return false
	}
	n, t, sz := protowire.ConsumeTag(d.buf)
	if sz < 0 {
		d.failure = protowire.ParseError(sz)
		return false
	}
	d.buf = d.buf[sz:]
	*num, *typ = n, t
	return true
}

func (d *protoDecoder) uvarint() uint64 {
	v, sz := protowire.ConsumeVarint(d.buf)
	if sz < 0 {
		d.failure = protowire.ParseError(sz)
		return 0
	}
	d.buf = d.buf[sz:]
	return v
}

func (d *protoDecoder) int32v() int32 {
	return int32(int64(d.uvarint()))
}

func (d *protoDecoder) int64v() int64 {
	return int64(d.uvarint())
}

func (d *protoDecoder) boolv() bool {
	return d.uvarint() != 0
}

// bytesv returns the field contents. The slice is copied, so it stays valid
// after the frame buffer is reused.
func (d *protoDecoder) bytesv() []byte {
	v, sz := protowire.ConsumeBytes(d.buf)
	if sz < 0 {
		d.failure = protowire.ParseError(sz)
		return nil
	}
	d.buf = d.buf[sz:]
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

func (d *protoDecoder) stringv() string {
	v, sz := protowire.ConsumeBytes(d.buf)
	if sz < 0 {
		d.failure = protowire.ParseError(sz)
		return ""
	}
	d.buf = d.buf[sz:]
	return string(v)
}

// skip discards a field of the given number and type.
func (d *protoDecoder) skip(num protowire.Number, typ protowire.Type) {
	sz := protowire.ConsumeFieldValue(num, typ, d.buf)
	if sz < 0 {
		d.failure = protowire.ParseError(sz)
		return
	}
	d.buf = d.buf[sz:]
}

func (d *protoDecoder) err() error {
	return d.failure
}
