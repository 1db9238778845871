package pairing

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// SecretSize is the length of a pairing secret in bytes.
	SecretSize = 8

	// DefaultWindowTimeout is how long an unused secret stays valid.
	DefaultWindowTimeout = 5 * time.Minute
)

// WindowState represents the state of the pairing window.
type WindowState uint8

const (
	// WindowClosed indicates no secret is armed.
	WindowClosed WindowState = iota

	// WindowOpen indicates a secret is waiting for a pairing request.
	WindowOpen

	// WindowVerifying indicates a pairing request is being checked.
	WindowVerifying
)

// String returns a human-readable state name.
func (s WindowState) String() string {
	switch s {
	case WindowClosed:
		return "CLOSED"
	case WindowOpen:
		return "OPEN"
	case WindowVerifying:
		return "VERIFYING"
	default:
		return "UNKNOWN"
	}
}

// Window errors.
var (
	ErrWindowClosed = errors.New("pairing window is closed")
	ErrWindowBusy   = errors.New("pairing already in progress")
	ErrNotVerifying = errors.New("no pairing in progress")
)

// Window is the pairing window state machine. It is safe for concurrent use.
type Window struct {
	mu sync.Mutex

	state    WindowState
	secret   []byte
	timeout  time.Duration
	timer    *time.Timer
	openedAt time.Time

	onStateChange func(oldState, newState WindowState)
	onTimeout     func()
}

// NewWindow creates a closed window with the default timeout.
func NewWindow() *Window {
	return &Window{timeout: DefaultWindowTimeout}
}

// SetTimeout sets how long an opened window stays open. Zero disables
// expiry. It applies from the next Open.
func (w *Window) SetTimeout(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("invalid timeout %v", d)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timeout = d
	return nil
}

// Timeout returns the configured timeout.
func (w *Window) Timeout() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timeout
}

// State returns the current window state.
func (w *Window) State() WindowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// IsOpen reports whether a secret is armed.
func (w *Window) IsOpen() bool {
	return w.State() == WindowOpen
}

// RemainingTime returns the time until an open window expires, or 0 when
// the window is closed or has no expiry.
func (w *Window) RemainingTime() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.remainingLocked()
}

func (w *Window) remainingLocked() time.Duration {
	if w.state == WindowClosed || w.timeout == 0 {
		return 0
	}
	if remaining := w.timeout - time.Since(w.openedAt); remaining > 0 {
		return remaining
	}
	return 0
}

// Open arms a fresh secret and returns a copy of it. Opening an already
// open window replaces the secret and restarts the timeout.
func (w *Window) Open() ([]byte, error) {
	secret := make([]byte, SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate pairing secret: %w", err)
	}

	w.mu.Lock()
	if w.state == WindowVerifying {
		w.mu.Unlock()
		return nil, ErrWindowBusy
	}
	old := w.state
	w.state = WindowOpen
	w.secret = secret
	w.openedAt = time.Now()
	w.stopTimerLocked()
	if w.timeout > 0 {
		w.timer = time.AfterFunc(w.timeout, w.handleTimeout)
	}
	notify := w.onStateChange
	w.mu.Unlock()

	if notify != nil && old != WindowOpen {
		notify(old, WindowOpen)
	}
	return bytes.Clone(secret), nil
}

// Secret returns a copy of the armed secret, or nil when none is armed.
func (w *Window) Secret() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == WindowClosed {
		return nil
	}
	return bytes.Clone(w.secret)
}

// Begin starts verifying a pairing request.
func (w *Window) Begin() error {
	w.mu.Lock()
	switch w.state {
	case WindowClosed:
		w.mu.Unlock()
		return ErrWindowClosed
	case WindowVerifying:
		w.mu.Unlock()
		return ErrWindowBusy
	}
	w.state = WindowVerifying
	notify := w.onStateChange
	w.mu.Unlock()

	if notify != nil {
		notify(WindowOpen, WindowVerifying)
	}
	return nil
}

// Verify reports whether candidate equals the armed secret. It only
// succeeds between Begin and End.
//
// The comparison is a plain byte comparison, not constant time.
func (w *Window) Verify(candidate []byte) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != WindowVerifying || len(w.secret) == 0 {
		return false
	}
	return bytes.Equal(w.secret, candidate)
}

// End finishes the verification started by Begin. The secret is discarded
// and the window closes whether or not pairing succeeded.
func (w *Window) End(success bool) error {
	w.mu.Lock()
	if w.state != WindowVerifying {
		w.mu.Unlock()
		return ErrNotVerifying
	}
	w.closeLocked()
	notify := w.onStateChange
	w.mu.Unlock()

	if notify != nil {
		notify(WindowVerifying, WindowClosed)
	}
	return nil
}

// Close discards any armed secret.
func (w *Window) Close() {
	w.mu.Lock()
	if w.state == WindowClosed {
		w.mu.Unlock()
		return
	}
	old := w.state
	w.closeLocked()
	notify := w.onStateChange
	w.mu.Unlock()

	if notify != nil {
		notify(old, WindowClosed)
	}
}

// OnStateChange sets a callback for state changes. Callbacks run outside
// the window lock.
func (w *Window) OnStateChange(fn func(oldState, newState WindowState)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onStateChange = fn
}

// OnTimeout sets a callback for when an open window expires.
func (w *Window) OnTimeout(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onTimeout = fn
}

func (w *Window) handleTimeout() {
	w.mu.Lock()
	// A verification in flight finishes through End.
	if w.state != WindowOpen || w.remainingLocked() > 0 {
		w.mu.Unlock()
		return
	}
	w.closeLocked()
	notify := w.onStateChange
	timeoutFn := w.onTimeout
	w.mu.Unlock()

	if notify != nil {
		notify(WindowOpen, WindowClosed)
	}
	if timeoutFn != nil {
		timeoutFn()
	}
}

func (w *Window) closeLocked() {
	w.state = WindowClosed
	clear(w.secret)
	w.secret = nil
	w.stopTimerLocked()
}

func (w *Window) stopTimerLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
