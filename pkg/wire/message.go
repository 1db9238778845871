package wire

import "fmt"

// Flags is the first byte of every frame.
type Flags uint8

// Flag bits.
const (
	FlagMarker  Flags = 1 << 0
	FlagAck     Flags = 1 << 1
	FlagPairing Flags = 1 << 2
	FlagError   Flags = 1 << 3
)

// Frame flag combinations used by the protocol.
const (
	TypeData            = FlagMarker
	TypeAck             = FlagMarker | FlagAck
	TypePairingRequest  = FlagMarker | FlagPairing
	TypePairingResponse = FlagMarker | FlagAck | FlagPairing
	TypeError           = FlagMarker | FlagAck | FlagError
)

// Has reports whether every bit of f2 is set in f.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// IsAck reports whether the frame carries no payload.
func (f Flags) IsAck() bool {
	return f.Has(FlagAck)
}

// String returns the frame kind name.
func (f Flags) String() string {
	switch f {
	case TypeData:
		return "DATA"
	case TypeAck:
		return "ACK"
	case TypePairingRequest:
		return "PAIRING_REQUEST"
	case TypePairingResponse:
		return "PAIRING_RESPONSE"
	case TypeError:
		return "ERROR"
	default:
		return fmt.Sprintf("FLAGS(0x%02x)", uint8(f))
	}
}

// Message is one frame on the wire.
type Message struct {
	Flags Flags

	// Length is the payload length for payload-bearing frames. On ACK
	// frames it is the length of the frame being acknowledged.
	Length int32

	// Payload is nil for ACK frames and for empty payloads.
	Payload []byte
}

// NewData returns a data frame carrying payload.
func NewData(payload []byte) Message {
	return withPayload(TypeData, payload)
}

// NewPairingRequest returns a pairing request carrying the pairing secret.
func NewPairingRequest(secret []byte) Message {
	return withPayload(TypePairingRequest, secret)
}

// NewAck acknowledges a frame whose length field was length.
func NewAck(length int32) Message {
	return Message{Flags: TypeAck, Length: length}
}

// NewPairingResponse accepts a pairing request whose length field was length.
func NewPairingResponse(length int32) Message {
	return Message{Flags: TypePairingResponse, Length: length}
}

// NewError rejects a frame whose length field was length.
func NewError(length int32) Message {
	return Message{Flags: TypeError, Length: length}
}

func withPayload(flags Flags, payload []byte) Message {
	m := Message{Flags: flags, Length: int32(len(payload))}
	if len(payload) > 0 {
		m.Payload = append([]byte(nil), payload...)
	}
	return m
}

// IsAckOf reports whether m acknowledges a data frame of the given length.
func (m Message) IsAckOf(length int32) bool {
	return m.Flags == TypeAck && m.Length == length
}

// WireSize returns the number of bytes Serialize produces for m.
func (m Message) WireSize() int {
	return HeaderSize + len(m.Payload)
}
