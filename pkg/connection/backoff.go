package connection

import (
	"math/rand"
	"sync"
	"time"
)

// Dial retry defaults.
const (
	// InitialBackoff is the wait before the second dial attempt.
	InitialBackoff = 500 * time.Millisecond

	// MaxBackoff caps the wait between dial attempts.
	MaxBackoff = 10 * time.Second

	// BackoffMultiplier grows the wait after every failed attempt.
	BackoffMultiplier = 2.0

	// JitterFactor is the default random extra wait, as a fraction of the
	// base wait.
	JitterFactor = 0.25

	// NoJitter disables the random extra wait when set as
	// BackoffConfig.Jitter.
	NoJitter = -1.0
)

// BackoffConfig tunes the wait between dial attempts. Zero fields take the
// package defaults; set Jitter to NoJitter for exact delays.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// DefaultBackoffConfig returns the waits a LocalSync client uses between
// dial attempts.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    InitialBackoff,
		Max:        MaxBackoff,
		Multiplier: BackoffMultiplier,
		Jitter:     JitterFactor,
	}
}

// withDefaults fills zero fields and clamps inconsistent ones.
func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = InitialBackoff
	}
	if c.Max <= 0 {
		c.Max = MaxBackoff
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Multiplier <= 1 {
		c.Multiplier = BackoffMultiplier
	}
	switch {
	case c.Jitter == 0:
		c.Jitter = JitterFactor
	case c.Jitter < 0:
		c.Jitter = 0
	}
	return c
}

// Backoff hands out growing waits between dial attempts. It is safe for
// concurrent use.
type Backoff struct {
	mu       sync.Mutex
	cfg      BackoffConfig
	base     time.Duration
	attempts int
	rng      *rand.Rand
}

// NewBackoff returns a Backoff with DefaultBackoffConfig.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(DefaultBackoffConfig())
}

// NewBackoffWithConfig returns a Backoff for cfg.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	cfg = cfg.withDefaults()
	return &Backoff{
		cfg:  cfg,
		base: cfg.Initial,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the wait before the next attempt and grows the base wait up
// to the maximum.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	wait := b.jittered(b.base)
	b.attempts++
	b.base = min(time.Duration(float64(b.base)*b.cfg.Multiplier), b.cfg.Max)
	return wait
}

// Peek returns a wait for the current base without advancing.
func (b *Backoff) Peek() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.jittered(b.base)
}

// Reset starts over from the initial wait. Retry calls it after a
// successful dial.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.base = b.cfg.Initial
	b.attempts = 0
}

// Attempts returns how many waits were handed out since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the base wait without jitter.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.base
}

func (b *Backoff) jittered(d time.Duration) time.Duration {
	if b.cfg.Jitter == 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.cfg.Jitter*b.rng.Float64())
}
