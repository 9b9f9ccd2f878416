package producer

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPermitAcquireAfterRelease(t *testing.T) {
	p := newTestProducer(&stubChannel{}, Config{})
	permit := p.NewPermit()

	l := p.Acquire()
	defer l.Release()

	permit.Release()
	if err := permit.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() = %v, want nil with a permit available", err)
	}
}

func TestPermitBlocksUntilReleased(t *testing.T) {
	p := newTestProducer(&stubChannel{}, Config{})
	permit := p.NewPermit()

	acquired := make(chan error, 1)
	go func() {
		l := p.Acquire()
		defer l.Release()
		acquired <- permit.Acquire(context.Background())
	}()

	// Give the waiter time to park, then release from another goroutine.
	time.Sleep(20 * time.Millisecond)
	l := p.Acquire()
	permit.Release()
	l.Release()

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("Acquire() = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire did not return after Release")
	}
}

func TestPermitDrain(t *testing.T) {
	p := newTestProducer(&stubChannel{}, Config{})
	permit := p.NewPermit()

	l := p.Acquire()
	defer l.Release()

	permit.Release()
	permit.Release()
	permit.Drain()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := permit.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() after Drain = %v, want deadline exceeded", err)
	}
}

func TestPermitContextCancellation(t *testing.T) {
	p := newTestProducer(&stubChannel{}, Config{})
	permit := p.NewPermit()

	ctx, cancel := context.WithCancel(context.Background())
	acquired := make(chan error, 1)
	go func() {
		l := p.Acquire()
		defer l.Release()
		acquired <- permit.Acquire(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-acquired:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Acquire() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire did not return after context cancellation")
	}
}

func TestPermitOutsideLockPanics(t *testing.T) {
	p := newTestProducer(&stubChannel{}, Config{})
	permit := p.NewPermit()

	defer func() {
		if recover() == nil {
			t.Error("expected panic using a permit outside the lock")
		}
	}()
	permit.Release()
}
