package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/localsync/localsync-go/pkg/log"
	"github.com/localsync/localsync-go/pkg/wire"
)

// chunkReader returns the configured chunks one Read at a time.
type chunkReader struct {
	chunks [][]byte
	reads  int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	c := r.chunks[0]
	n := copy(p, c)
	if n < len(c) {
		r.chunks[0] = c[n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	r.reads++
	return n, nil
}

// zeroReader reports a successful read of zero bytes.
type zeroReader struct{}

func (zeroReader) Read([]byte) (int, error) { return 0, nil }

// countingWriter records every Write call.
type countingWriter struct {
	bytes.Buffer
	writes int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	return w.Buffer.Write(p)
}

type recordingLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (r *recordingLogger) Log(e log.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingLogger) frames() []*log.FrameEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*log.FrameEvent
	for _, e := range r.events {
		if e.Frame != nil {
			out = append(out, e.Frame)
		}
	}
	return out
}

func TestDefaultReadTimeout(t *testing.T) {
	if DefaultReadTimeout != 30*time.Second {
		t.Errorf("DefaultReadTimeout = %v, want 30s", DefaultReadTimeout)
	}
	if ReadChunkSize != 2048 {
		t.Errorf("ReadChunkSize = %d, want 2048", ReadChunkSize)
	}
}

func TestReadMessageFragmentationEquivalence(t *testing.T) {
	payload := make([]byte, 2048)
	for i := range payload {
		payload[i] = byte(i)
	}
	frame := wire.Serialize(wire.NewData(payload))

	tests := []struct {
		name   string
		chunks [][]byte
	}{
		{"single chunk", [][]byte{frame}},
		{"2048+5 split", [][]byte{frame[:2048], frame[2048:]}},
		{"split header", [][]byte{frame[:2], frame[2:7], frame[7:]}},
		{"byte by byte header", [][]byte{frame[:1], frame[1:2], frame[2:3], frame[3:4], frame[4:5], frame[5:]}},
	}

	var want wire.Message
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewMessageReader(&chunkReader{chunks: tt.chunks})
			got, err := r.ReadMessage(context.Background())
			if err != nil {
				t.Fatalf("ReadMessage: %v", err)
			}
			if !bytes.Equal(got.Payload, payload) {
				t.Fatal("payload mismatch")
			}
			if i == 0 {
				want = got
				return
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("message differs from single-chunk read")
			}
		})
	}
}

func TestReadMessageKeepsTrailingFrames(t *testing.T) {
	var stream []byte
	stream = append(stream, wire.Serialize(wire.NewData([]byte("one")))...)
	stream = append(stream, wire.Serialize(wire.NewAck(3))...)
	stream = append(stream, wire.Serialize(wire.NewData([]byte("three")))...)

	r := NewMessageReader(&chunkReader{chunks: [][]byte{stream}})
	ctx := context.Background()

	first, err := r.ReadMessage(ctx)
	if err != nil || string(first.Payload) != "one" {
		t.Fatalf("first: %+v, %v", first, err)
	}
	second, err := r.ReadMessage(ctx)
	if err != nil || !second.IsAckOf(3) {
		t.Fatalf("second: %+v, %v", second, err)
	}
	third, err := r.ReadMessage(ctx)
	if err != nil || string(third.Payload) != "three" {
		t.Fatalf("third: %+v, %v", third, err)
	}
	if _, err := r.ReadMessage(ctx); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("after stream end: got %v, want ErrConnectionClosed", err)
	}
}

func TestReadMessageAckWithNegativeLength(t *testing.T) {
	var stream []byte
	stream = append(stream, 0x03, 0xFF, 0xFF, 0xFF, 0xFF)
	stream = append(stream, wire.Serialize(wire.NewData([]byte("next")))...)

	r := NewMessageReader(&chunkReader{chunks: [][]byte{stream}})
	ctx := context.Background()

	ack, err := r.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if !ack.IsAckOf(-1) || ack.Payload != nil {
		t.Errorf("ack = %+v, want empty ACK of -1", ack)
	}
	next, err := r.ReadMessage(ctx)
	if err != nil || string(next.Payload) != "next" {
		t.Fatalf("next: %+v, %v", next, err)
	}
}

func TestReadMessageChunkBound(t *testing.T) {
	frame := wire.Serialize(wire.NewData(make([]byte, 10000)))
	cr := &chunkReader{chunks: [][]byte{frame}}
	r := NewMessageReader(cr)

	if _, err := r.ReadMessage(context.Background()); err != nil {
		t.Fatal(err)
	}
	wantReads := (len(frame) + ReadChunkSize - 1) / ReadChunkSize
	if cr.reads != wantReads {
		t.Errorf("reads = %d, want %d", cr.reads, wantReads)
	}
}

func TestReadMessageErrors(t *testing.T) {
	tests := []struct {
		name   string
		reader io.Reader
		want   error
	}{
		{"zero bytes", zeroReader{}, ErrConnectionClosed},
		{"eof", &chunkReader{}, ErrConnectionClosed},
		{"eof mid frame", &chunkReader{chunks: [][]byte{{0x01, 0x10, 0, 0, 0, 1, 2}}}, ErrConnectionClosed},
		{"missing marker", &chunkReader{chunks: [][]byte{{0x00, 0, 0, 0, 0}}}, wire.ErrMalformedFrame},
		{"negative length", &chunkReader{chunks: [][]byte{{0x01, 0xFF, 0xFF, 0xFF, 0xFF}}}, wire.ErrMalformedFrame},
		{"oversize", &chunkReader{chunks: [][]byte{{0x01, 0x00, 0x00, 0x00, 0x7F}}}, wire.ErrMalformedFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMessageReader(tt.reader).ReadMessage(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReadMessageTimeout(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	r := NewMessageReader(local)
	r.SetReadTimeout(100 * time.Millisecond)

	start := time.Now()
	_, err := r.ReadMessage(context.Background())
	elapsed := time.Since(start)
	if !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("got %v, want ErrReadTimeout", err)
	}
	if elapsed < 100*time.Millisecond {
		t.Errorf("timed out early after %v", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Errorf("timed out late after %v", elapsed)
	}

	// The stream stays usable for a retry.
	go NewMessageWriter(remote).WriteMessage(context.Background(), wire.NewData([]byte("late")))
	r.SetReadTimeout(time.Second)
	m, err := r.ReadMessage(context.Background())
	if err != nil || string(m.Payload) != "late" {
		t.Errorf("retry: %+v, %v", m, err)
	}
}

func TestReadMessageTimeoutWithoutDeadlines(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	r := NewMessageReader(pr)
	r.SetReadTimeout(50 * time.Millisecond)

	if _, err := r.ReadMessage(context.Background()); !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("got %v, want ErrReadTimeout", err)
	}

	// The read left pending by the timeout delivers the next frame.
	go pw.Write(wire.Serialize(wire.NewData([]byte("after"))))
	r.SetReadTimeout(time.Second)
	m, err := r.ReadMessage(context.Background())
	if err != nil || string(m.Payload) != "after" {
		t.Errorf("retry: %+v, %v", m, err)
	}
}

func TestReadMessageCancellation(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := NewMessageReader(local).ReadMessage(ctx)
	if !errors.Is(err, ErrIOFailure) || !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want ErrIOFailure wrapping context.Canceled", err)
	}
}

func TestWriteMessageSingleWrite(t *testing.T) {
	w := &countingWriter{}
	mw := NewMessageWriter(w)

	if err := mw.WriteMessage(context.Background(), wire.NewData([]byte{0, 1, 2, 3})); err != nil {
		t.Fatal(err)
	}
	if w.writes != 1 {
		t.Errorf("writes = %d, want 1", w.writes)
	}
	want := []byte{0x01, 0x04, 0x00, 0x00, 0x00, 0, 1, 2, 3}
	if !bytes.Equal(w.Bytes(), want) {
		t.Errorf("got % x, want % x", w.Bytes(), want)
	}
}

func TestWriteMessageFailure(t *testing.T) {
	local, remote := net.Pipe()
	remote.Close()
	defer local.Close()

	err := NewMessageWriter(local).WriteMessage(context.Background(), wire.NewData([]byte("x")))
	if !errors.Is(err, ErrIOFailure) {
		t.Errorf("got %v, want ErrIOFailure", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = NewMessageWriter(&countingWriter{}).WriteMessage(ctx, wire.NewData([]byte("x")))
	if !errors.Is(err, ErrIOFailure) {
		t.Errorf("cancelled: got %v, want ErrIOFailure", err)
	}
}

func TestFramerLogsFrames(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	logger := &recordingLogger{}
	sender := NewFramer(local)
	sender.SetLogger(logger, "conn-1", log.RoleClient)
	receiver := NewFramer(remote)

	big := make([]byte, MaxLogFrameDataSize+100)
	done := make(chan error, 1)
	go func() { done <- sender.WriteMessage(context.Background(), wire.NewData(big)) }()
	if _, err := receiver.ReadMessage(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	frames := logger.frames()
	if len(frames) != 1 {
		t.Fatalf("got %d frame events, want 1", len(frames))
	}
	f := frames[0]
	if f.Flags != uint8(wire.TypeData) || f.Length != int32(len(big)) {
		t.Errorf("header: flags=%#x length=%d", f.Flags, f.Length)
	}
	if f.Size != wire.HeaderSize+len(big) || !f.Truncated || len(f.Data) != MaxLogFrameDataSize {
		t.Errorf("size=%d truncated=%v data=%d", f.Size, f.Truncated, len(f.Data))
	}
}
