package http

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/pverhoef/intake/pkg/content"
	"github.com/pverhoef/intake/pkg/producer"
)

// Body is the io.ReadCloser installed in place of the request body by the
// pipeline middleware. Reads consume transformed chunks from a
// BlockingReader; while a read is parked waiting for content, the minimum
// data rate is re-checked every poll interval.
type Body struct {
	reader       *producer.BlockingReader
	channel      *bodyChannel
	ctx          context.Context
	pollInterval time.Duration

	chunk  *content.Chunk // currently borrowed, nil between chunks
	err    error          // latched, returned by every subsequent Read
	closed bool
}

var _ io.ReadCloser = (*Body)(nil)

func newBody(ctx context.Context, reader *producer.BlockingReader, channel *bodyChannel, pollInterval time.Duration) *Body {
	return &Body{reader: reader, channel: channel, ctx: ctx, pollInterval: pollInterval}
}

// Read implements io.Reader over the transformed content stream.
func (b *Body) Read(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	for {
		if b.chunk == nil {
			chunk, err := b.next()
			if err != nil {
				b.err = err
				return 0, err
			}
			b.chunk = chunk
		}

		chunk := b.chunk
		if cause := chunk.Err(); cause != nil {
			// Failure chunks stay held by the producer so the error stays
			// sticky; only the latched cause is surfaced.
			b.chunk = nil
			b.err = cause
			return 0, cause
		}
		if chunk.HasRemaining() {
			n := copy(p, chunk.Bytes())
			chunk.Skip(n)
			if !chunk.HasRemaining() {
				b.reclaim(chunk)
			}
			return n, nil
		}

		last := chunk.IsLast()
		b.reclaim(chunk)
		if last {
			b.err = io.EOF
			return 0, io.EOF
		}
	}
}

// next blocks for the following chunk, re-checking the minimum data rate
// each poll interval while parked.
func (b *Body) next() (*content.Chunk, error) {
	for {
		ctx := b.ctx
		cancel := context.CancelFunc(nil)
		if b.pollInterval > 0 {
			ctx, cancel = context.WithTimeout(b.ctx, b.pollInterval)
		}
		chunk, err := b.reader.NextContent(ctx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return chunk, nil
		}
		if b.pollInterval > 0 && errors.Is(err, context.DeadlineExceeded) && b.ctx.Err() == nil {
			l := b.reader.Producer().Acquire()
			rateErr := l.CheckMinDataRate()
			l.Release()
			if rateErr != nil {
				return nil, rateErr
			}
			continue
		}
		return nil, err
	}
}

func (b *Body) reclaim(chunk *content.Chunk) {
	b.chunk = nil
	l := b.reader.Producer().Acquire()
	l.Reclaim(chunk)
	l.Release()
}

// Close drains whatever content already arrived, recycles the producer,
// and detaches from the source. It never blocks waiting for a slow peer.
// Close is idempotent; the HTTP server calls it again after the handler
// returns.
func (b *Body) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true

	if b.chunk != nil {
		b.reclaim(b.chunk)
	}
	l := b.reader.Producer().Acquire()
	l.ConsumeAll()
	err := l.Recycle()
	l.Release()
	b.channel.close()
	return err
}
