package chrome

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"invoice-printer/internal/infra/logging"
)

// ErrLimiterClosed is returned by Acquire after Close.
var ErrLimiterClosed = errors.New("engine limiter closed")

// Limiter bounds the number of headless Chrome processes running at once.
// Every process is a full OS process tree, so callers acquire a slot before
// launching and release it after the browser is closed.
type Limiter struct {
	sem chan struct{}

	mu     sync.Mutex
	closed bool

	launches    atomic.Int64
	failures    atomic.Int64
	lastFailure atomic.Int64 // unix nanos
}

// Slot is a held engine permit.
type Slot struct {
	acquiredAt time.Time
}

// Stats is a point-in-time view of the limiter.
type Stats struct {
	Enabled     bool   `json:"enabled"`
	Capacity    int    `json:"capacity"`
	Idle        int    `json:"idle"`
	InUse       int    `json:"in_use"`
	Launches    int64  `json:"launches"`
	Failures    int64  `json:"failures"`
	LastFailure string `json:"last_failure,omitempty"`
}

// NewLimiter creates a limiter with size slots.
func NewLimiter(size int) (*Limiter, error) {
	if size <= 0 {
		return nil, errors.New("engine limiter disabled (max_engines <= 0)")
	}
	l := &Limiter{sem: make(chan struct{}, size)}
	for i := 0; i < size; i++ {
		l.sem <- struct{}{}
	}
	return l, nil
}

// Acquire blocks until a slot is free, ctx is done, or the limiter is closed.
func (l *Limiter) Acquire(ctx context.Context) (*Slot, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil, ErrLimiterClosed
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.sem:
		l.launches.Add(1)
		return &Slot{acquiredAt: time.Now()}, nil
	}
}

// Release returns the slot. A non-nil err is counted as a failed attempt.
func (l *Limiter) Release(s *Slot, err error) {
	if s == nil {
		return
	}
	if err != nil {
		l.failures.Add(1)
		l.lastFailure.Store(time.Now().UnixNano())
	}
	logging.Debug("Engine slot released", "held_ms", time.Since(s.acquiredAt).Milliseconds(), "failed", err != nil)
	select {
	case l.sem <- struct{}{}:
	default:
	}
}

// Close rejects further Acquire calls. It is idempotent.
func (l *Limiter) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

// Stats reports capacity and usage.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()

	capacity := cap(l.sem)
	idle := len(l.sem)
	st := Stats{
		Enabled:  !closed && capacity > 0,
		Capacity: capacity,
		Idle:     idle,
		InUse:    capacity - idle,
		Launches: l.launches.Load(),
		Failures: l.failures.Load(),
	}
	if ts := l.lastFailure.Load(); ts > 0 {
		st.LastFailure = time.Unix(0, ts).UTC().Format(time.RFC3339)
	}
	return st
}
