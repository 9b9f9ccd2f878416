package http

import (
	"errors"
	"io"
	nethttp "net/http"
	"sync"

	"github.com/pverhoef/intake/pkg/content"
	"github.com/pverhoef/intake/pkg/producer"
)

type readState int

const (
	readIdle readState = iota
	readReady
	readUnready
)

// Hooks receives pipeline lifecycle notifications. All fields are optional.
type Hooks struct {
	// OnBytes is called with the size of every raw chunk carrying bytes.
	OnBytes func(n int)
	// OnTrailers is called when trailer headers arrive.
	OnTrailers func(trailers nethttp.Header)
	// OnComplete is called when the last chunk is produced.
	OnComplete func()
}

// bodyChannel implements producer.Channel over a request body. A reader
// goroutine fills pooled buffers from the source and hands them over one
// chunk at a time: the channel buffers at most one unconsumed chunk, plus
// a sticky terminal marker once the stream ends.
type bodyChannel struct {
	src       io.ReadCloser
	pool      *sync.Pool
	trailers  func() nethttp.Header
	committed func() bool
	hooks     Hooks

	mu       sync.Mutex
	cond     *sync.Cond // reader goroutine waits here for slot space
	slot     *content.Chunk
	terminal *content.Chunk
	demand   func()
	state    readState
	aborted  error
	closed   bool

	wg sync.WaitGroup
}

var _ producer.Channel = (*bodyChannel)(nil)

func newBodyChannel(src io.ReadCloser, chunkSize int, trailers func() nethttp.Header, committed func() bool, hooks Hooks) *bodyChannel {
	ch := &bodyChannel{
		src: src,
		pool: &sync.Pool{
			New: func() any {
				b := make([]byte, chunkSize)
				return &b
			},
		},
		trailers:  trailers,
		committed: committed,
		hooks:     hooks,
	}
	ch.cond = sync.NewCond(&ch.mu)
	return ch
}

// start launches the reader goroutine.
func (ch *bodyChannel) start() {
	ch.wg.Add(1)
	go func() {
		defer ch.wg.Done()
		ch.run()
	}()
}

func (ch *bodyChannel) run() {
	for {
		bufp := ch.pool.Get().(*[]byte)
		buf := *bufp
		n, err := ch.src.Read(buf)
		if n > 0 {
			chunk := content.NewWithRelease(buf[:n], false, func() { ch.pool.Put(bufp) })
			if !ch.deliver(chunk) {
				return
			}
		} else {
			ch.pool.Put(bufp)
		}
		if err != nil {
			ch.setTerminal(ch.terminalFor(err))
			return
		}
	}
}

func (ch *bodyChannel) terminalFor(err error) *content.Chunk {
	if errors.Is(err, io.EOF) {
		if t := ch.trailers(); len(t) > 0 {
			return content.FromTrailers(t)
		}
		return content.EOF
	}
	return content.Failure(err)
}

// deliver parks until the slot is free, then publishes the chunk and fires
// any registered demand. It reports false when the channel was closed and
// the chunk discarded.
func (ch *bodyChannel) deliver(chunk *content.Chunk) bool {
	ch.mu.Lock()
	for ch.slot != nil && !ch.closed {
		ch.cond.Wait()
	}
	if ch.closed {
		ch.mu.Unlock()
		chunk.Release()
		return false
	}
	ch.slot = chunk
	cb := ch.demand
	ch.demand = nil
	ch.mu.Unlock()
	if cb != nil {
		cb()
	}
	return true
}

func (ch *bodyChannel) setTerminal(chunk *content.Chunk) {
	ch.mu.Lock()
	if ch.terminal == nil || ch.terminal.Err() == nil {
		ch.terminal = chunk
	}
	cb := ch.demand
	ch.demand = nil
	ch.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// close stops the reader goroutine's hand-off. The source itself is closed
// by the HTTP server at the end of the request.
func (ch *bodyChannel) close() {
	ch.mu.Lock()
	ch.closed = true
	ch.cond.Broadcast()
	ch.mu.Unlock()
}

// Read implements producer.Channel. Data chunks are consumed at most once;
// the terminal marker is sticky.
func (ch *bodyChannel) Read() *content.Chunk {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.slot != nil {
		chunk := ch.slot
		ch.slot = nil
		ch.cond.Signal()
		return chunk
	}
	return ch.terminal
}

// Demand implements producer.Channel. The callback runs on the reader
// goroutine, or on a fresh goroutine when content is already available.
func (ch *bodyChannel) Demand(callback func()) {
	ch.mu.Lock()
	available := ch.slot != nil || ch.terminal != nil
	if !available {
		ch.demand = callback
	}
	ch.mu.Unlock()
	if available {
		go callback()
	}
}

func (ch *bodyChannel) OnContent(chunk *content.Chunk) {
	if ch.hooks.OnBytes != nil {
		ch.hooks.OnBytes(chunk.Remaining())
	}
}

func (ch *bodyChannel) OnTrailers(trailers nethttp.Header) {
	if ch.hooks.OnTrailers != nil {
		ch.hooks.OnTrailers(trailers)
	}
}

func (ch *bodyChannel) OnContentComplete() {
	if ch.hooks.OnComplete != nil {
		ch.hooks.OnComplete()
	}
}

func (ch *bodyChannel) OnReadReady() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	was := ch.state
	ch.state = readReady
	return was == readUnready
}

func (ch *bodyChannel) OnReadIdle() {
	ch.mu.Lock()
	ch.state = readIdle
	ch.mu.Unlock()
}

func (ch *bodyChannel) OnReadUnready() {
	ch.mu.Lock()
	ch.state = readUnready
	ch.mu.Unlock()
}

func (ch *bodyChannel) IsInputUnready() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state == readUnready
}

func (ch *bodyChannel) IsResponseCommitted() bool {
	return ch.committed()
}

// Abort implements producer.Channel: it latches the failure and closes the
// source to unblock the reader goroutine; the failure surfaces to the peer
// by tearing the exchange down.
func (ch *bodyChannel) Abort(cause error) {
	ch.mu.Lock()
	if ch.aborted == nil {
		ch.aborted = cause
	}
	ch.mu.Unlock()
	ch.setTerminal(content.Failure(cause))
	ch.src.Close()
}

// Handle implements producer.Channel. Blocking consumers resume through
// the permit instead of a handling loop, so there is nothing to schedule.
func (ch *bodyChannel) Handle() {}

// Aborted returns the latched abort cause, if any.
func (ch *bodyChannel) Aborted() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.aborted
}
