package service

import (
	"context"
	"fmt"

	"github.com/localsync/localsync-go/pkg/transport"
	"github.com/localsync/localsync-go/pkg/wire"
)

// sendData writes one data frame and waits for its ACK.
func sendData(ctx context.Context, rw transport.MessageReadWriter, data []byte) error {
	m := wire.NewData(data)
	if err := rw.WriteMessage(ctx, m); err != nil {
		return err
	}

	ack, err := rw.ReadMessage(ctx)
	if err != nil {
		return err
	}
	if ack.Flags == wire.TypeError {
		return fmt.Errorf("%w: length %d", ErrFrameRejected, ack.Length)
	}
	if !ack.IsAckOf(m.Length) {
		return fmt.Errorf("%w: got %s with length %d, want ACK of %d",
			ErrUnexpectedFrame, ack.Flags, ack.Length, m.Length)
	}
	return nil
}

// receiveData reads one data frame and acknowledges it before returning
// the payload. Any other frame kind is answered with an Error frame.
func receiveData(ctx context.Context, rw transport.MessageReadWriter) ([]byte, error) {
	m, err := rw.ReadMessage(ctx)
	if err != nil {
		return nil, err
	}
	if m.Flags != wire.TypeData {
		_ = rw.WriteMessage(ctx, wire.NewError(m.Length))
		return nil, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedFrame, m.Flags, wire.TypeData)
	}
	if err := rw.WriteMessage(ctx, wire.NewAck(m.Length)); err != nil {
		return nil, err
	}
	if m.Payload == nil {
		return []byte{}, nil
	}
	return m.Payload, nil
}
