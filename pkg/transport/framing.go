package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/localsync/localsync-go/pkg/log"
	"github.com/localsync/localsync-go/pkg/wire"
)

// Framing constants.
const (
	// ReadChunkSize is the largest single read issued against the stream.
	ReadChunkSize = 2048

	// DefaultReadTimeout bounds each individual chunk read.
	DefaultReadTimeout = 30 * time.Second

	// DefaultMaxPayloadSize is the largest payload a reader accepts (16 MiB).
	DefaultMaxPayloadSize = 16 << 20

	// MaxLogFrameDataSize is the maximum frame data included in log events.
	MaxLogFrameDataSize = 4096
)

// Stream errors.
var (
	// ErrReadTimeout indicates a chunk read did not complete within the
	// read timeout. Callers should treat it as fatal to the connection.
	ErrReadTimeout = errors.New("read timeout")

	// ErrConnectionClosed indicates the peer closed the stream.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrIOFailure indicates a failed or cancelled read or write.
	ErrIOFailure = errors.New("i/o failure")
)

// pastDeadline is used to unblock pending I/O immediately.
var pastDeadline = time.Unix(1, 0)

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// frameLogger emits frame events for one connection.
type frameLogger struct {
	logger log.Logger
	connID string
	role   log.Role
}

func (fl *frameLogger) logFrame(frame []byte, m wire.Message, direction log.Direction) {
	if fl.logger == nil {
		return
	}
	data := frame
	truncated := false
	if len(data) > MaxLogFrameDataSize {
		data = data[:MaxLogFrameDataSize]
		truncated = true
	}
	fl.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: fl.connID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		LocalRole:    fl.role,
		Frame: &log.FrameEvent{
			Flags:     uint8(m.Flags),
			Length:    m.Length,
			Size:      len(frame),
			Data:      append([]byte(nil), data...),
			Truncated: truncated,
		},
	})
}

// MessageWriter writes framed messages to a stream.
type MessageWriter struct {
	mu sync.Mutex
	w  io.Writer
	frameLogger
}

// NewMessageWriter creates a writer on w.
func NewMessageWriter(w io.Writer) *MessageWriter {
	return &MessageWriter{w: w}
}

// SetLogger configures protocol logging. Pass nil to disable it.
func (mw *MessageWriter) SetLogger(logger log.Logger, connID string, role log.Role) {
	mw.frameLogger = frameLogger{logger: logger, connID: connID, role: role}
}

// WriteMessage serializes m and writes the whole frame with a single Write.
// Cancelling ctx aborts a pending write when the stream supports deadlines.
func (mw *MessageWriter) WriteMessage(ctx context.Context, m wire.Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	frame := wire.Serialize(m)

	mw.mu.Lock()
	defer mw.mu.Unlock()

	if wd, ok := mw.w.(writeDeadliner); ok {
		stop := context.AfterFunc(ctx, func() {
			_ = wd.SetWriteDeadline(pastDeadline)
		})
		defer func() {
			if stop() {
				return
			}
			_ = wd.SetWriteDeadline(time.Time{})
		}()
	}

	n, err := mw.w.Write(frame)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ErrIOFailure, ctxErr)
		}
		return fmt.Errorf("%w: write: %w", ErrIOFailure, err)
	}
	if n != len(frame) {
		return fmt.Errorf("%w: short write %d of %d", ErrIOFailure, n, len(frame))
	}

	mw.logFrame(frame, m, log.DirectionOut)
	return nil
}

// MessageReader reads framed messages from a stream, reassembling frames
// delivered across several reads.
type MessageReader struct {
	r              io.Reader
	readTimeout    time.Duration
	maxPayloadSize int

	chunk []byte
	buf   []byte

	// inflight holds a read started by a previous call that timed out on a
	// stream without deadline support.
	inflight chan chunkResult

	frameLogger
}

type chunkResult struct {
	n   int
	err error
}

// NewMessageReader creates a reader on r with the default read timeout and
// payload limit.
func NewMessageReader(r io.Reader) *MessageReader {
	return &MessageReader{
		r:              r,
		readTimeout:    DefaultReadTimeout,
		maxPayloadSize: DefaultMaxPayloadSize,
		chunk:          make([]byte, ReadChunkSize),
	}
}

// SetReadTimeout changes the per-chunk read timeout. Zero restores the default.
func (mr *MessageReader) SetReadTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultReadTimeout
	}
	mr.readTimeout = d
}

// SetMaxPayloadSize changes the payload limit. Zero restores the default.
func (mr *MessageReader) SetMaxPayloadSize(n int) {
	if n <= 0 {
		n = DefaultMaxPayloadSize
	}
	mr.maxPayloadSize = n
}

// SetLogger configures protocol logging. Pass nil to disable it.
func (mr *MessageReader) SetLogger(logger log.Logger, connID string, role log.Role) {
	mr.frameLogger = frameLogger{logger: logger, connID: connID, role: role}
}

// ReadMessage returns the next complete message. Each chunk read is bounded
// by the read timeout. Bytes read past the end of the frame are kept for the
// next call.
func (mr *MessageReader) ReadMessage(ctx context.Context) (wire.Message, error) {
	for {
		if len(mr.buf) >= wire.HeaderSize {
			size, err := wire.FrameSize(mr.buf[:wire.HeaderSize])
			if err != nil {
				return wire.Message{}, err
			}
			if size-wire.HeaderSize > mr.maxPayloadSize {
				return wire.Message{}, fmt.Errorf("%w: payload %d exceeds %d",
					wire.ErrMalformedFrame, size-wire.HeaderSize, mr.maxPayloadSize)
			}
			if len(mr.buf) >= size {
				return mr.takeFrame(size)
			}
			if cap(mr.buf) < size {
				grown := make([]byte, len(mr.buf), size)
				copy(grown, mr.buf)
				mr.buf = grown
			}
		}

		n, err := mr.readChunk(ctx)
		if n > 0 {
			mr.buf = append(mr.buf, mr.chunk[:n]...)
		}
		if err != nil {
			return wire.Message{}, err
		}
	}
}

func (mr *MessageReader) takeFrame(size int) (wire.Message, error) {
	frame := mr.buf[:size]
	m, err := wire.Deserialize(frame)
	if err != nil {
		return wire.Message{}, err
	}
	mr.logFrame(frame, m, log.DirectionIn)

	if rest := mr.buf[size:]; len(rest) > 0 {
		mr.buf = append([]byte(nil), rest...)
	} else {
		mr.buf = nil
	}
	return m, nil
}

// readChunk performs one bounded read into mr.chunk.
func (mr *MessageReader) readChunk(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	if rd, ok := mr.r.(readDeadliner); ok && mr.inflight == nil {
		return mr.readChunkDeadline(ctx, rd)
	}
	return mr.readChunkAsync(ctx)
}

func (mr *MessageReader) readChunkDeadline(ctx context.Context, rd readDeadliner) (int, error) {
	if err := rd.SetReadDeadline(time.Now().Add(mr.readTimeout)); err != nil {
		return 0, fmt.Errorf("%w: set deadline: %w", ErrIOFailure, err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = rd.SetReadDeadline(pastDeadline)
	})
	n, err := mr.r.Read(mr.chunk)
	stop()
	_ = rd.SetReadDeadline(time.Time{})

	return n, mr.classify(ctx, n, err)
}

func (mr *MessageReader) readChunkAsync(ctx context.Context) (int, error) {
	if mr.inflight == nil {
		ch := make(chan chunkResult, 1)
		go func(buf []byte) {
			n, err := mr.r.Read(buf)
			ch <- chunkResult{n: n, err: err}
		}(mr.chunk)
		mr.inflight = ch
	}

	timer := time.NewTimer(mr.readTimeout)
	defer timer.Stop()

	select {
	case res := <-mr.inflight:
		mr.inflight = nil
		return res.n, mr.classify(ctx, res.n, res.err)
	case <-timer.C:
		return 0, fmt.Errorf("%w after %v", ErrReadTimeout, mr.readTimeout)
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %w", ErrIOFailure, ctx.Err())
	}
}

// classify maps the outcome of a single read to the stream error taxonomy.
func (mr *MessageReader) classify(ctx context.Context, n int, err error) error {
	switch {
	case err == nil && n == 0:
		return fmt.Errorf("%w: received 0 bytes", ErrConnectionClosed)
	case err == nil:
		return nil
	case n > 0 && errors.Is(err, io.EOF):
		// Deliver the data; the next read reports the close.
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", ErrIOFailure, ctx.Err())
	case errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("%w after %v", ErrReadTimeout, mr.readTimeout)
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	default:
		return fmt.Errorf("%w: read: %w", ErrIOFailure, err)
	}
}

// Framer combines a MessageReader and a MessageWriter on one stream.
type Framer struct {
	*MessageReader
	*MessageWriter
}

// NewFramer creates a framer for bidirectional communication on rw.
func NewFramer(rw io.ReadWriter) *Framer {
	return &Framer{
		MessageReader: NewMessageReader(rw),
		MessageWriter: NewMessageWriter(rw),
	}
}

// SetLogger configures logging for both directions.
func (f *Framer) SetLogger(logger log.Logger, connID string, role log.Role) {
	f.MessageReader.SetLogger(logger, connID, role)
	f.MessageWriter.SetLogger(logger, connID, role)
}
