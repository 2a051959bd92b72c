// Package packet implements the wire format spoken by the coordination host.
//
// A frame is a 4-byte big-endian length N, followed by N bytes: a 2-byte
// big-endian packet type and a payload. The payload is a serialized
// google.protobuf.Value, which gives the variant shape the host sends:
// nested lists of strings, numbers, booleans and nulls.
package packet

import (
	"encoding/binary"
	"fmt"
	"io"

	gerrors "github.com/mantonx/gstream/internal/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Type identifies what a frame's payload means
type Type uint16

const (
	// TypeStreamsUpdate carries the full list of streams and their state
	TypeStreamsUpdate Type = 1
)

func (t Type) String() string {
	switch t {
	case TypeStreamsUpdate:
		return "streams_update"
	default:
		return fmt.Sprintf("type_%d", uint16(t))
	}
}

const (
	lengthSize = 4
	typeSize   = 2

	// DefaultMaxFrameSize bounds the declared length of a single frame
	DefaultMaxFrameSize = 16 << 20
)

// Frame is one complete unit read off the wire
type Frame struct {
	Type    Type
	Payload []byte
}

// AppendFrame appends an encoded frame to dst
func AppendFrame(dst []byte, t Type, payload []byte) []byte {
	var hdr [lengthSize + typeSize]byte
	binary.BigEndian.PutUint32(hdr[:lengthSize], uint32(typeSize+len(payload)))
	binary.BigEndian.PutUint16(hdr[lengthSize:], uint16(t))
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// EncodeFrame serializes v and wraps it in a frame
func EncodeFrame(t Type, v *structpb.Value) ([]byte, error) {
	payload, err := MarshalPayload(v)
	if err != nil {
		return nil, err
	}
	return AppendFrame(nil, t, payload), nil
}

// WriteFrame encodes v and writes it as one frame
func WriteFrame(w io.Writer, t Type, v *structpb.Value) error {
	frame, err := EncodeFrame(t, v)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// MarshalPayload serializes a variant payload
func MarshalPayload(v *structpb.Value) ([]byte, error) {
	if v == nil {
		v = structpb.NewNullValue()
	}
	b, err := proto.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return b, nil
}

// UnmarshalPayload parses a frame payload into a variant value
func UnmarshalPayload(b []byte) (*structpb.Value, error) {
	v := &structpb.Value{}
	if err := proto.Unmarshal(b, v); err != nil {
		return nil, gerrors.Transport("unmarshal_payload", gerrors.ErrMalformedFrame, err)
	}
	return v, nil
}

// Decoder reassembles frames from a byte stream that may arrive in arbitrary
// pieces. It is not safe for concurrent use.
type Decoder struct {
	buf     []byte
	max     int
	discard int
}

// NewDecoder creates a decoder that rejects frames longer than maxFrameSize
func NewDecoder(maxFrameSize int) *Decoder {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Decoder{max: maxFrameSize}
}

// Feed appends received bytes
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes held for an incomplete frame
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next returns the next complete frame. ok is false when more input is
// needed. A non-nil error reports a malformed frame that was dropped; the
// caller should log it and call Next again.
func (d *Decoder) Next() (frame Frame, ok bool, err error) {
	if d.discard > 0 {
		n := d.discard
		if n > len(d.buf) {
			n = len(d.buf)
		}
		d.buf = d.buf[n:]
		d.discard -= n
		if d.discard > 0 {
			return Frame{}, false, nil
		}
	}

	if len(d.buf) < lengthSize {
		return Frame{}, false, nil
	}

	n := binary.BigEndian.Uint32(d.buf[:lengthSize])
	if n < typeSize || uint64(n) > uint64(d.max) {
		d.buf = d.buf[lengthSize:]
		d.discard = int(n)
		return Frame{}, false, gerrors.Transport("decode_frame", gerrors.ErrMalformedFrame,
			fmt.Errorf("declared length %d outside [%d, %d]", n, typeSize, d.max)).
			WithDetail("length", n)
	}

	total := lengthSize + int(n)
	if len(d.buf) < total {
		return Frame{}, false, nil
	}

	frame = Frame{
		Type:    Type(binary.BigEndian.Uint16(d.buf[lengthSize : lengthSize+typeSize])),
		Payload: append([]byte(nil), d.buf[lengthSize+typeSize:total]...),
	}
	d.buf = d.buf[total:]
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return frame, true, nil
}
