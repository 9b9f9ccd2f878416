package producer

import (
	"errors"
	"fmt"
)

// ErrRecycled is the cause carried by the chunk returned between Recycle
// and Reopen.
var ErrRecycled = errors.New("content producer has been recycled")

// ErrUnconsumedContent is returned by Recycle when the producer still holds
// non-terminal content that would be silently dropped.
var ErrUnconsumedContent = errors.New("content producer with unconsumed content cannot be recycled")

// DataRateError is returned by CheckMinDataRate when the request body
// arrives below the configured minimum rate. It maps to a request timeout
// (HTTP 408) at the transport layer.
type DataRateError struct {
	Rate int64 // configured minimum, bytes per second
}

func (e *DataRateError) Error() string {
	return fmt.Sprintf("request content data rate < %d B/s", e.Rate)
}

// Timeout reports true, following the net.Error convention for
// timeout-class failures.
func (e *DataRateError) Timeout() bool { return true }

// BadContentError wraps a failure raised by an interceptor while
// transforming a chunk.
type BadContentError struct {
	Cause error
}

func (e *BadContentError) Error() string { return "bad content: " + e.Cause.Error() }

func (e *BadContentError) Unwrap() error { return e.Cause }

// InterceptorError reports an interceptor that returned non-terminal
// content without consuming any of the raw chunk's remaining bytes.
type InterceptorError struct {
	Remaining int
}

func (e *InterceptorError) Error() string {
	return fmt.Sprintf("interceptor did not consume any of the %d remaining byte(s) of content", e.Remaining)
}
