package producer

import (
	"context"

	"github.com/pverhoef/intake/pkg/content"
)

// BlockingReader bridges the non-blocking producer to a synchronous
// consumption style. NextContent parks the calling goroutine on a Permit
// until the channel's demand callback signals that content became
// producible; the callback wakes the parked consumer instead of
// re-scheduling channel handling.
type BlockingReader struct {
	p      *Producer
	permit *Permit
}

// NewBlockingReader wraps the producer for blocking consumption. From this
// point on, satisfied demand wakes blocked NextContent callers rather than
// notifying the channel.
func NewBlockingReader(p *Producer) *BlockingReader {
	b := &BlockingReader{p: p, permit: p.NewPermit()}
	l := p.Acquire()
	p.onProducible = func(*Locked) bool {
		b.permit.Release()
		return false
	}
	l.Release()
	return b
}

// Producer returns the underlying non-blocking producer.
func (b *BlockingReader) Producer() *Producer { return b.p }

// NextContent blocks until the next transformed chunk is available and
// returns it, or returns the context's error if ctx is done first. The
// chunk stays owned by the producer; return it with Reclaim under a lock
// acquisition of your own.
func (b *BlockingReader) NextContent(ctx context.Context) (*content.Chunk, error) {
	l := b.p.Acquire()
	defer l.Release()
	for {
		if chunk := l.NextContent(); chunk != nil {
			return chunk, nil
		}
		// Stale permits from a previous wait must not satisfy this one.
		// Draining before IsReady keeps the release from the demand
		// callback, which may fire between IsReady and Acquire, intact.
		b.permit.Drain()
		if l.IsReady() {
			continue
		}
		if err := b.permit.Acquire(ctx); err != nil {
			return nil, err
		}
	}
}
