package chrome

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewLimiter_Disabled(t *testing.T) {
	if _, err := NewLimiter(0); err == nil {
		t.Fatalf("expected disabled limiter error")
	}
}

func TestLimiterAcquireReleaseAndClose(t *testing.T) {
	l, err := NewLimiter(1)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	slot, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("expected acquire success, got %v", err)
	}
	if slot == nil {
		t.Fatalf("expected non-nil slot")
	}
	if len(l.sem) != 0 {
		t.Fatalf("expected token consumed after acquire")
	}

	l.Release(slot, nil)
	if len(l.sem) != 1 {
		t.Fatalf("expected token returned after release")
	}

	l.Close()
	if _, err := l.Acquire(context.Background()); !errors.Is(err, ErrLimiterClosed) {
		t.Fatalf("expected ErrLimiterClosed, got %v", err)
	}
}

func TestLimiterAcquireContextCanceled(t *testing.T) {
	l := &Limiter{sem: make(chan struct{}, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestLimiterAcquireTimesOutWhenNoCapacity(t *testing.T) {
	l := &Limiter{sem: make(chan struct{}, 1)}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected acquire deadline exceeded, got %v", err)
	}
}

func TestLimiterReleaseNilAndOverflow(t *testing.T) {
	l, _ := NewLimiter(1)
	l.Release(nil, nil)
	if len(l.sem) != 1 {
		t.Fatalf("nil release must not change capacity")
	}
	// A stray release on a full limiter must not block or grow it.
	l.Release(&Slot{acquiredAt: time.Now()}, nil)
	if len(l.sem) != 1 {
		t.Fatalf("expected capacity to stay at 1, got %d", len(l.sem))
	}
}

func TestLimiterStats(t *testing.T) {
	l, _ := NewLimiter(2)

	st := l.Stats()
	if !st.Enabled || st.Capacity != 2 || st.Idle != 2 || st.InUse != 0 {
		t.Fatalf("unexpected stats before acquire: %+v", st)
	}

	slot, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	st = l.Stats()
	if st.InUse != 1 || st.Launches != 1 {
		t.Fatalf("expected one in use, got %+v", st)
	}
	l.Release(slot, errors.New("chrome crashed"))

	st = l.Stats()
	if st.InUse != 0 || st.Failures != 1 || st.LastFailure == "" {
		t.Fatalf("expected failure recorded, got %+v", st)
	}

	l.Close()
	l.Close() // idempotent
	if l.Stats().Enabled {
		t.Fatalf("expected stats disabled after close")
	}
}
