package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the size of the flags byte plus the length field.
const HeaderSize = 5

// ErrMalformedFrame indicates a frame whose header is inconsistent with the
// bytes available.
var ErrMalformedFrame = errors.New("malformed frame")

// Serialize encodes m. The output is always HeaderSize+len(m.Payload) bytes;
// the Length field is written as given, which lets ACK frames carry the
// acknowledged length without a payload.
func Serialize(m Message) []byte {
	buf := make([]byte, HeaderSize+len(m.Payload))
	buf[0] = byte(m.Flags)
	binary.LittleEndian.PutUint32(buf[1:HeaderSize], uint32(m.Length))
	copy(buf[HeaderSize:], m.Payload)
	return buf
}

// ParseHeader decodes the frame header at the start of b. A negative
// length is malformed unless the ACK bit is set: ACK frames echo a length
// and never carry a payload, so any value is accepted.
func ParseHeader(b []byte) (Flags, int32, error) {
	if len(b) < HeaderSize {
		return 0, 0, fmt.Errorf("%w: %d header bytes", ErrMalformedFrame, len(b))
	}
	flags := Flags(b[0])
	if !flags.Has(FlagMarker) {
		return 0, 0, fmt.Errorf("%w: marker bit clear in 0x%02x", ErrMalformedFrame, b[0])
	}
	length := int32(binary.LittleEndian.Uint32(b[1:HeaderSize]))
	if length < 0 && !flags.IsAck() {
		return 0, 0, fmt.Errorf("%w: negative length %d", ErrMalformedFrame, length)
	}
	return flags, length, nil
}

// FrameSize returns the total number of bytes the frame announced by header
// occupies on the wire.
func FrameSize(header []byte) (int, error) {
	flags, length, err := ParseHeader(header)
	if err != nil {
		return 0, err
	}
	if flags.IsAck() {
		return HeaderSize, nil
	}
	return HeaderSize + int(length), nil
}

// Deserialize decodes one complete frame from b. ACK frames always decode
// with a nil payload; bytes past the frame are ignored.
func Deserialize(b []byte) (Message, error) {
	flags, length, err := ParseHeader(b)
	if err != nil {
		return Message{}, err
	}
	m := Message{Flags: flags, Length: length}
	if flags.IsAck() || length == 0 {
		return m, nil
	}
	end := HeaderSize + int(length)
	if len(b) < end {
		return Message{}, fmt.Errorf("%w: need %d bytes, have %d", ErrMalformedFrame, end, len(b))
	}
	m.Payload = append([]byte(nil), b[HeaderSize:end]...)
	return m, nil
}
