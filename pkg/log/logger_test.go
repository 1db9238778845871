package log

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

type recordingLogger struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingLogger) Log(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestMultiLoggerFansOut(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	m := NewMultiLogger(a, nil, b, NoopLogger{})

	m.Log(Event{ConnectionID: "x"})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("events: a=%d b=%d, want 1 each", len(a.events), len(b.events))
	}
}

func TestSlogAdapterWritesAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	a := NewSlogAdapter(logger)

	a.Log(Event{
		ConnectionID: "conn-9",
		LocalRole:    RoleServer,
		Category:     CategoryMessage,
		Frame:        &FrameEvent{Flags: 0x03, Length: 5, Size: 5},
	})
	a.Log(Event{
		ConnectionID: "conn-9",
		Category:     CategoryState,
		StateChange:  &StateChangeEvent{Entity: StateEntityServer, OldState: "IDLE", NewState: "PAIRING_PREPARED"},
	})

	out := buf.String()
	for _, want := range []string{"msg=protocol", "conn_id=conn-9", "role=SERVER", "flags=3", "new_state=PAIRING_PREPARED", "entity=SERVER"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSlogAdapterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	NewSlogAdapter(logger).Log(Event{ConnectionID: "quiet"})
	if buf.Len() != 0 {
		t.Errorf("debug event leaked at info level: %s", buf.String())
	}
}
