// Package producer implements the non-blocking request-body content
// pipeline sitting between the request channel and the application code
// consuming the body.
//
// The Producer buffers at most one unconsumed raw chunk and one unconsumed
// transformed chunk, applies an optional Interceptor, enforces a minimum
// data rate against slow-body clients, and exposes a demand-driven
// readiness protocol so callers never block waiting for I/O. Blocking-style
// consumers are layered on top through BlockingReader and Permit.
//
// Every operation requires the producer's exclusive lock, modeled as the
// Locked handle returned by Acquire. Using a handle after Release is a
// caller defect and panics.
package producer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pverhoef/intake/pkg/content"
)

var recycledChunk = content.Failure(ErrRecycled)

// Config holds producer tuning knobs.
type Config struct {
	// MinDataRate is the minimum acceptable request body arrival rate in
	// bytes per second, measured from the first raw byte. Zero disables
	// the check.
	MinDataRate int64
}

// Producer drives chunk production, transformation, recycling, rate
// checking, and demand signaling for one request channel. A single
// instance is reused across successive requests on the same connection,
// bracketed by Recycle and Reopen.
type Producer struct {
	mu     sync.Mutex
	locked bool

	channel Channel
	cfg     Config
	log     *slog.Logger
	now     func() time.Time

	// onProducible is the effect of a satisfied demand callback. The
	// default notifies the channel; BlockingReader overrides it to wake
	// the parked consumer instead.
	onProducible func(*Locked) bool

	interceptor  Interceptor
	raw          *content.Chunk
	transformed  *content.Chunk
	errorLatched bool
	firstByteAt  time.Time
	bytesArrived int64
}

// New returns a producer for the given channel. A nil logger falls back to
// slog.Default.
func New(channel Channel, cfg Config, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Producer{
		channel: channel,
		cfg:     cfg,
		log:     logger,
		now:     time.Now,
	}
	p.onProducible = func(l *Locked) bool { return l.OnContentProducible() }
	return p
}

// Locked is the handle through which all producer state is accessed. It is
// valid from Acquire until Release.
type Locked struct {
	p    *Producer
	held bool
}

// Acquire takes the producer's exclusive lock and returns the handle
// exposing its operations.
func (p *Producer) Acquire() *Locked {
	p.mu.Lock()
	p.locked = true
	return &Locked{p: p, held: true}
}

// Release returns the lock. The handle must not be used afterwards.
func (l *Locked) Release() {
	l.check()
	l.held = false
	l.p.locked = false
	l.p.mu.Unlock()
}

func (l *Locked) check() {
	if !l.held || !l.p.locked {
		panic("producer: operation outside lock scope")
	}
}

// IsUnready reports whether the channel considers the input side currently
// awaiting demand.
func (p *Producer) IsUnready() bool {
	return p.channel.IsInputUnready()
}

// Recycle finalizes the instance between requests. It fails with
// ErrUnconsumedContent if either held chunk is non-terminal, destroys the
// interceptor, and leaves the producer returning a canonical "recycled"
// failure chunk until the next Reopen.
func (l *Locked) Recycle() error {
	l.check()
	p := l.p
	p.log.Debug("recycling content producer")

	if p.raw == nil {
		p.raw = recycledChunk
	} else if !p.raw.IsTerminal() {
		return ErrUnconsumedContent
	}
	if p.transformed == nil {
		p.transformed = recycledChunk
	} else if !p.transformed.IsTerminal() {
		return ErrUnconsumedContent
	}

	if d, ok := p.interceptor.(Destroyer); ok {
		d.Destroy()
	}
	p.interceptor = nil
	return nil
}

// Reopen resets all per-request state ahead of a new request.
func (l *Locked) Reopen() {
	l.check()
	p := l.p
	p.log.Debug("reopening content producer")
	p.raw = nil
	p.transformed = nil
	p.errorLatched = false
	p.firstByteAt = time.Time{}
	p.bytesArrived = 0
}

// Interceptor returns the installed transformation, or nil.
func (l *Locked) Interceptor() Interceptor {
	l.check()
	return l.p.interceptor
}

// SetInterceptor installs or replaces the transformation applied to raw
// chunks. The producer owns the interceptor from this point on.
func (l *Locked) SetInterceptor(i Interceptor) {
	l.check()
	l.p.interceptor = i
}

// Available returns the number of bytes consumable without producing new
// content, or 0 if none are ready.
func (l *Locked) Available() int {
	l.check()
	chunk := l.p.nextTransformed()
	if chunk == nil {
		return 0
	}
	return chunk.Remaining()
}

// HasContent reports whether a raw chunk is currently held, terminal
// chunks included.
func (l *Locked) HasContent() bool {
	l.check()
	return l.p.raw != nil
}

// IsError reports whether the latched error flag is set.
func (l *Locked) IsError() bool {
	l.check()
	return l.p.errorLatched
}

// RawBytesArrived returns the cumulative raw bytes received for the
// current request.
func (l *Locked) RawBytesArrived() int64 {
	l.check()
	return l.p.bytesArrived
}

// CheckMinDataRate enforces the configured minimum arrival rate measured
// from the first raw byte. On violation it aborts the channel if the
// response was already committed, releases all held content, and returns a
// *DataRateError. No-op when no minimum is configured or no bytes arrived.
func (l *Locked) CheckMinDataRate() error {
	l.check()
	p := l.p
	if p.cfg.MinDataRate <= 0 || p.firstByteAt.IsZero() {
		return nil
	}
	elapsed := p.now().Sub(p.firstByteAt)
	if elapsed <= 0 {
		return nil
	}
	minimum := p.cfg.MinDataRate * elapsed.Milliseconds() / 1000
	if p.bytesArrived >= minimum {
		return nil
	}
	err := &DataRateError{Rate: p.cfg.MinDataRate}
	p.log.Debug("minimum data rate check failed",
		"arrived", p.bytesArrived, "minimum", minimum, "elapsed", elapsed)
	if p.channel.IsResponseCommitted() {
		p.channel.Abort(err)
	}
	l.ReleaseContent()
	return err
}

// ConsumeAll drains and discards remaining raw content. It returns true if
// end-of-stream was reached and false if the channel stalled before it;
// the caller must retry later in that case. Any held content is released
// first, and nothing remains held on success.
func (l *Locked) ConsumeAll() bool {
	l.check()
	p := l.p
	if l.ReleaseContent() {
		p.raw = nil
		p.transformed = nil
		return true
	}
	for {
		chunk := p.channel.Read()
		if chunk == nil {
			return false
		}
		last := chunk.IsLast()
		chunk.Release()
		if last {
			p.raw = nil
			p.transformed = nil
			return true
		}
	}
}

// ReleaseContent disposes unconsumed transformed and raw content. A
// non-terminal raw chunk is released and replaced with nil, or with the
// canonical EOF if it was the last chunk. It reports whether the resulting
// raw state is end-of-stream.
func (l *Locked) ReleaseContent() bool {
	l.check()
	return l.p.releaseHeldContent()
}

func (p *Producer) releaseHeldContent() bool {
	if p.transformed != nil && !p.transformed.IsTerminal() {
		if p.transformed != p.raw {
			p.log.Debug("releasing held transformed content", "chunk", p.transformed)
			p.transformed.Skip(p.transformed.Remaining())
			p.transformed.Release()
		}
		p.transformed = nil
	}
	if p.raw != nil && !p.raw.IsTerminal() {
		p.log.Debug("releasing held raw content", "chunk", p.raw)
		last := p.raw.IsLast()
		p.raw.Release()
		if last {
			p.raw = content.EOF
		} else {
			p.raw = nil
		}
	}
	return p.raw != nil && p.raw.IsLast()
}

// OnContentProducible notifies the channel that previously registered
// demand has been satisfied and reports whether handling must resume.
func (l *Locked) OnContentProducible() bool {
	l.check()
	return l.p.channel.OnReadReady()
}

// NextContent returns the next transformed chunk if one is available or
// producible without blocking, or nil when the channel has no data ready.
// The returned chunk stays owned by the producer; give it back with
// Reclaim.
func (l *Locked) NextContent() *content.Chunk {
	l.check()
	p := l.p
	chunk := p.nextTransformed()
	p.log.Debug("next content", "chunk", chunk)
	if chunk != nil {
		p.channel.OnReadIdle()
	}
	return chunk
}

// Reclaim returns ownership of a chunk previously exposed by NextContent.
// If it is the currently exposed transformed chunk it is released and the
// corresponding slots cleared; otherwise Reclaim is a no-op.
func (l *Locked) Reclaim(chunk *content.Chunk) {
	l.check()
	p := l.p
	if p.transformed != chunk {
		return
	}
	p.log.Debug("reclaiming content", "chunk", chunk)
	chunk.Release()
	if p.transformed == p.raw {
		p.raw = nil
	}
	p.transformed = nil
}

// IsReady reports whether content is immediately available. When it is
// not, demand is registered with the channel; once satisfied, the demand
// callback re-enters through OnContentProducible (or the blocking
// consumer's override) and re-schedules channel handling as needed.
func (l *Locked) IsReady() bool {
	l.check()
	p := l.p
	if p.nextTransformed() != nil {
		p.log.Debug("ready, content available")
		return true
	}
	p.channel.OnReadUnready()
	p.channel.Demand(func() {
		lk := p.Acquire()
		resume := p.onProducible(lk)
		lk.Release()
		if resume {
			p.channel.Handle()
		}
	})
	p.log.Debug("not ready, demand registered")
	return false
}

// nextTransformedContent is the central production loop shared by
// Available, NextContent, and IsReady.
func (p *Producer) nextTransformed() *content.Chunk {
	for {
		if p.transformed != nil {
			if p.transformed.IsTerminal() || p.transformed.HasRemaining() {
				if p.transformed.Err() != nil && !p.errorLatched {
					// The channel may by now hold a more precise error
					// than the one we latched onto; re-query it once.
					// Once the latch is set the current error is
					// definitive and must stay stable.
					if refreshed := p.produceRaw(); refreshed != nil {
						p.raw = refreshed
						p.transformed = refreshed
					}
					p.errorLatched = p.raw.Err() != nil
					p.log.Debug("refreshed error content", "chunk", p.raw)
				}
				return p.transformed
			}

			// Depleted non-terminal chunk: hand it back before looping.
			p.log.Debug("transformed content depleted", "chunk", p.transformed)
			shared := p.transformed == p.raw
			p.transformed.Release()
			p.transformed = nil
			if shared {
				p.raw = nil
			}
		}

		if p.raw == nil {
			p.raw = p.produceRaw()
			if p.raw == nil {
				p.log.Debug("channel has no new raw content")
				return nil
			}
		}

		p.transformRaw()
	}
}

// transformRaw derives the transformed chunk from the held raw chunk.
func (p *Producer) transformRaw() {
	if p.interceptor == nil {
		// No transformation: an empty non-terminal raw chunk exposes
		// nothing, so recycle it now.
		if !p.raw.HasRemaining() && !p.raw.IsTerminal() {
			p.raw.Release()
			p.raw = nil
		}
		p.transformed = p.raw
		return
	}

	p.transformed = p.intercept()

	// A terminal chunk generated by the interceptor becomes authoritative
	// for both slots.
	if p.transformed != nil && p.transformed.IsTerminal() && p.transformed != p.raw {
		if p.raw != nil {
			p.raw.Release()
		}
		p.raw = p.transformed
		return
	}

	// The interceptor produced nothing from an empty non-terminal raw
	// chunk: it has no more bytes to offer, recycle it.
	if p.transformed == nil && p.raw != nil && !p.raw.HasRemaining() && !p.raw.IsTerminal() {
		p.raw.Release()
		p.raw = nil
		return
	}

	// The interceptor handed the raw chunk back and it is now empty.
	if p.transformed == p.raw && p.raw != nil && !p.raw.HasRemaining() && !p.raw.IsTerminal() {
		p.raw.Release()
		p.raw = nil
		p.transformed = nil
	}
}

// intercept invokes the interceptor on the raw chunk, policing the
// consumption rule and converting interceptor failures into latched
// terminal content.
func (p *Producer) intercept() *content.Chunk {
	raw := p.raw
	remainingBefore := raw.Remaining()

	chunk, err := p.readFromInterceptor(raw)
	if err != nil {
		failure := &BadContentError{Cause: err}
		if chunk != nil && chunk != raw {
			chunk.Release()
		}
		p.releaseHeldContent()
		p.errorLatched = true
		if p.channel.IsResponseCommitted() {
			p.channel.Abort(failure)
		}
		p.log.Debug("interceptor failed", "error", err)
		fc := content.Failure(failure)
		p.raw = fc
		return fc
	}

	if chunk != nil && chunk.IsTerminal() && !raw.IsTerminal() {
		// The interceptor may legitimately end the stream early. If it
		// ended it with a failure, that failure is definitive.
		if cause := chunk.Err(); cause != nil {
			p.errorLatched = true
			if p.channel.IsResponseCommitted() {
				p.channel.Abort(cause)
			}
		}
		p.log.Debug("interceptor generated terminal content", "chunk", chunk)
		return chunk
	}

	if chunk != raw && !raw.IsTerminal() && raw.HasRemaining() && raw.Remaining() == remainingBefore {
		failure := &InterceptorError{Remaining: raw.Remaining()}
		if chunk != nil {
			chunk.Release()
		}
		p.releaseHeldContent()
		p.errorLatched = true
		if p.channel.IsResponseCommitted() {
			p.channel.Abort(failure)
		}
		p.log.Debug("interceptor did not consume content", "error", failure)
		fc := content.Failure(failure)
		p.raw = fc
		return fc
	}

	return chunk
}

// readFromInterceptor shields the producer from a panicking interceptor,
// folding the panic into the error return.
func (p *Producer) readFromInterceptor(raw *content.Chunk) (chunk *content.Chunk, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("interceptor panic: %v", r)
		}
	}()
	return p.interceptor.ReadFrom(raw)
}

// produceRaw asks the channel for the next chunk, accounting arrival bytes
// and timing and emitting the lifecycle notifications.
func (p *Producer) produceRaw() *content.Chunk {
	chunk := p.channel.Read()
	if chunk == nil {
		return nil
	}
	p.bytesArrived += int64(chunk.Remaining())
	if p.firstByteAt.IsZero() {
		p.firstByteAt = p.now()
	}
	p.log.Debug("produced raw content", "chunk", chunk, "arrived", p.bytesArrived)

	if chunk.HasRemaining() {
		p.channel.OnContent(chunk)
	}
	if t := chunk.Trailers(); t != nil {
		p.channel.OnTrailers(t)
	}
	if chunk.IsLast() {
		p.channel.OnContentComplete()
	}
	return chunk
}
