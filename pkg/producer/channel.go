package producer

import (
	"net/http"

	"github.com/pverhoef/intake/pkg/content"
)

// Channel is the producer's view of the surrounding request channel: the
// collaborator that owns the transport connection, frames the body into
// chunks, and schedules request handling.
//
// Implementations may invoke a demand callback from any goroutine; the
// callback re-enters the producer under its own lock acquisition.
type Channel interface {
	// Read returns the next chunk of raw request content, or nil if none
	// is available without blocking. Each chunk is returned at most once,
	// except terminal chunks, which are sticky.
	Read() *content.Chunk

	// Demand registers a one-shot callback invoked when more raw content
	// becomes available. Registering replaces any previous callback.
	Demand(callback func())

	// OnContent is invoked for every produced chunk that carries bytes.
	OnContent(chunk *content.Chunk)

	// OnTrailers is invoked when a trailers chunk is produced.
	OnTrailers(trailers http.Header)

	// OnContentComplete is invoked when the last chunk is produced.
	OnContentComplete()

	// OnReadReady records that previously registered demand has been
	// satisfied and reports whether request handling must be re-scheduled.
	OnReadReady() bool

	// OnReadIdle records that content was handed to the consumer and the
	// input side is neither ready nor awaiting demand.
	OnReadIdle()

	// OnReadUnready records that the consumer is waiting for content.
	OnReadUnready()

	// IsInputUnready reports whether the input side is awaiting demand.
	IsInputUnready() bool

	// IsResponseCommitted reports whether response headers have been sent,
	// in which case a failure can no longer be turned into a status code.
	IsResponseCommitted() bool

	// Abort notifies the channel of an unrecoverable failure so it can
	// terminate the exchange.
	Abort(cause error)

	// Handle re-schedules request handling after demand was satisfied.
	Handle()
}

// Interceptor transforms raw chunks before they are exposed to the
// consumer, implementing request-body encodings such as decompression.
//
// ReadFrom must either consume at least one byte of a non-terminal chunk
// with remaining bytes, or return a terminal chunk; returning non-terminal
// content without consuming anything is a protocol violation surfaced to
// the consumer as an InterceptorError. Returning (nil, nil) means the
// interceptor needs more input before it can produce output.
type Interceptor interface {
	ReadFrom(chunk *content.Chunk) (*content.Chunk, error)
}

// Destroyer is implemented by interceptors holding disposable resources.
// Destroy is called exactly once, when the producer is recycled.
type Destroyer interface {
	Destroy()
}
