package producer

import (
	"context"
	"sync"
)

// Permit is a counting wait/signal primitive operable only while the
// producer's lock is held; it is not a general-purpose semaphore. It lets
// a consumer goroutine park (releasing the lock while waiting, per
// condition-variable semantics) for content produced by another goroutine
// driving the non-blocking pipeline.
type Permit struct {
	p       *Producer
	cond    *sync.Cond
	permits int
}

// NewPermit returns a permit tied to the producer's lock.
func (p *Producer) NewPermit() *Permit {
	return &Permit{p: p, cond: sync.NewCond(&p.mu)}
}

func (s *Permit) check() {
	if !s.p.locked {
		panic("producer: permit used outside lock scope")
	}
}

// Drain resets the permit count to zero.
func (s *Permit) Drain() {
	s.check()
	s.permits = 0
}

// Release increments the permit count and wakes one waiter.
func (s *Permit) Release() {
	s.check()
	s.permits++
	s.cond.Signal()
}

// Acquire waits until the permit count is positive, then decrements it.
// The producer lock is released while waiting and re-held on return.
// Context cancellation propagates as an error without consuming a permit.
func (s *Permit) Acquire(ctx context.Context) error {
	s.check()
	if s.permits == 0 {
		stop := context.AfterFunc(ctx, func() {
			s.p.mu.Lock()
			s.cond.Broadcast()
			s.p.mu.Unlock()
		})
		defer stop()
		for s.permits == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			s.p.locked = false
			s.cond.Wait()
			s.p.locked = true
		}
	}
	s.permits--
	return nil
}
