// Package content defines the unit of request-body data flowing through the
// intake pipeline.
//
// A Chunk is either a span of body bytes or a terminal marker: the canonical
// end-of-stream EOF, a trailers chunk carrying trailer headers, or a failure
// chunk carrying an error cause. Terminal chunks are sticky: a producer that
// observed one keeps returning it until it is recycled or reopened.
//
// Chunks are ownership-disciplined. A non-terminal chunk has exactly one
// owner at a time and must be released exactly once; releasing it twice is a
// caller defect and panics. Terminal chunks are shared markers and their
// Release is a no-op.
package content

import (
	"fmt"
	"net/http"
)

// Chunk is a unit of request-body bytes or a terminal marker.
type Chunk struct {
	data     []byte
	last     bool
	terminal bool
	err      error
	trailers http.Header
	release  func()
	released bool
}

// EOF is the canonical end-of-stream chunk.
var EOF = &Chunk{last: true, terminal: true}

// New returns a chunk over data. A chunk created with last set and no data
// is a terminal end-of-stream marker; a chunk created with data is never
// terminal, even once fully consumed.
func New(data []byte, last bool) *Chunk {
	return &Chunk{data: data, last: last, terminal: last && len(data) == 0}
}

// NewWithRelease returns a chunk over data whose Release invokes fn,
// typically to return a pooled buffer.
func NewWithRelease(data []byte, last bool, fn func()) *Chunk {
	c := New(data, last)
	c.release = fn
	return c
}

// Failure returns a terminal chunk carrying err as its cause.
func Failure(err error) *Chunk {
	return &Chunk{last: true, terminal: true, err: err}
}

// FromTrailers returns a terminal chunk carrying trailer headers.
func FromTrailers(trailers http.Header) *Chunk {
	return &Chunk{last: true, terminal: true, trailers: trailers}
}

// Bytes returns the unread remainder of the chunk. The returned slice is
// only valid until the chunk is released.
func (c *Chunk) Bytes() []byte { return c.data }

// Remaining returns the number of unread bytes.
func (c *Chunk) Remaining() int { return len(c.data) }

// HasRemaining reports whether any unread bytes remain.
func (c *Chunk) HasRemaining() bool { return len(c.data) > 0 }

// Skip consumes up to n bytes and returns the number consumed.
func (c *Chunk) Skip(n int) int {
	if n > len(c.data) {
		n = len(c.data)
	}
	c.data = c.data[n:]
	return n
}

// IsLast reports whether this chunk ends the stream.
func (c *Chunk) IsLast() bool { return c.last }

// IsTerminal reports whether this chunk is an end-of-stream, trailers, or
// failure marker.
func (c *Chunk) IsTerminal() bool { return c.terminal }

// Err returns the failure cause, or nil for non-failure chunks.
func (c *Chunk) Err() error { return c.err }

// Trailers returns the trailer headers, or nil for non-trailer chunks.
func (c *Chunk) Trailers() http.Header { return c.trailers }

// Release returns the chunk's resources to their owner. Terminal chunks are
// shared markers, so releasing them is a no-op. Releasing a non-terminal
// chunk twice panics: it indicates the caller lost track of ownership.
func (c *Chunk) Release() {
	if c.terminal {
		return
	}
	if c.released {
		panic("content: chunk released twice")
	}
	c.released = true
	if c.release != nil {
		c.release()
	}
}

func (c *Chunk) String() string {
	switch {
	case c.err != nil:
		return fmt.Sprintf("Chunk[failure: %v]", c.err)
	case c.trailers != nil:
		return fmt.Sprintf("Chunk[trailers, %d field(s)]", len(c.trailers))
	case c == EOF:
		return "Chunk[EOF]"
	default:
		return fmt.Sprintf("Chunk[%d byte(s), last=%t]", len(c.data), c.last)
	}
}
