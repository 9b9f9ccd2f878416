// Package intercept provides concrete body interceptors for the intake
// pipeline, most notably streaming decompression of gzip, deflate, and
// zstd request bodies.
package intercept

import (
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/pverhoef/intake/pkg/content"
	"github.com/pverhoef/intake/pkg/producer"
)

// Encodings lists the Content-Encoding values NewInflater accepts.
var Encodings = []string{"gzip", "deflate", "zstd"}

// Supported reports whether encoding can be decoded by an Inflater.
func Supported(encoding string) bool {
	switch strings.ToLower(encoding) {
	case "gzip", "deflate", "zstd":
		return true
	}
	return false
}

// Inflater is a producer.Interceptor that decompresses raw body chunks.
//
// The klauspost decompressors are pull-based readers, while the pipeline
// pushes one chunk at a time, so the Inflater runs the decompressor on its
// own goroutine behind a synchronized pull source: ReadFrom feeds the raw
// chunk's bytes in, waits until the decompressor has either stalled for
// more input or finished, and returns whatever output accumulated. It
// always consumes its input, and it never blocks on I/O, only on the
// decompression work itself.
//
// Terminal chunks pass through once the compressed stream's output has
// been drained; residual body bytes after the end of the compressed stream
// are discarded. A corrupt or truncated stream yields a terminal chunk
// carrying a *DecompressionError.
type Inflater struct {
	encoding string
	src      *pullSource
	started  bool
	drained  bool
	failed   bool
	wg       sync.WaitGroup
}

var _ producer.Interceptor = (*Inflater)(nil)
var _ producer.Destroyer = (*Inflater)(nil)

// NewInflater returns an Inflater for the given Content-Encoding value
// (gzip, deflate, or zstd, case-insensitive).
func NewInflater(encoding string) (*Inflater, error) {
	encoding = strings.ToLower(encoding)
	if !Supported(encoding) {
		return nil, &UnsupportedEncodingError{Encoding: encoding}
	}
	return &Inflater{encoding: encoding, src: newPullSource()}, nil
}

// ReadFrom implements producer.Interceptor.
func (f *Inflater) ReadFrom(chunk *content.Chunk) (*content.Chunk, error) {
	if chunk.Err() != nil {
		return chunk, nil
	}
	if f.drained || f.failed {
		// The compressed stream is finished; discard residual bytes and
		// pass terminal markers through.
		chunk.Skip(chunk.Remaining())
		if chunk.IsTerminal() {
			return chunk, nil
		}
		return nil, nil
	}

	if !f.started {
		f.started = true
		f.run()
	}

	if n := chunk.Remaining(); n > 0 {
		f.src.push(chunk.Bytes())
		chunk.Skip(n)
	}
	if chunk.IsLast() {
		f.src.closeInput()
	}

	out, done, err := f.src.collect()
	if err != nil {
		f.failed = true
		return content.Failure(&DecompressionError{Encoding: f.encoding, Err: err}), nil
	}
	if done {
		f.drained = true
	}
	if len(out) > 0 {
		return content.New(out, done && chunk.IsLast()), nil
	}
	if done && chunk.IsTerminal() {
		return chunk, nil
	}
	return nil, nil
}

// Destroy implements producer.Destroyer, tearing down the decompression
// goroutine. It must not be called concurrently with ReadFrom.
func (f *Inflater) Destroy() {
	if f.started {
		f.src.closeInput()
		f.wg.Wait()
	}
}

func (f *Inflater) run() {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()

		var (
			zr  io.Reader
			err error
		)
		switch f.encoding {
		case "gzip":
			zr, err = gzip.NewReader(f.src)
		case "deflate":
			zr, err = zlib.NewReader(f.src)
		case "zstd":
			var d *zstd.Decoder
			d, err = zstd.NewReader(f.src, zstd.WithDecoderConcurrency(1))
			if d != nil {
				defer d.Close()
				zr = d
			}
		}
		if err != nil {
			f.src.finish(err)
			return
		}

		buf := make([]byte, 8192)
		for {
			n, rerr := zr.Read(buf)
			if n > 0 {
				f.src.emit(buf[:n])
			}
			if rerr != nil {
				if rerr == io.EOF {
					rerr = nil
				}
				f.src.finish(rerr)
				return
			}
		}
	}()
}

// pullSource adapts push-style chunk delivery to the pull-style io.Reader
// the decompressors expect. The feeding side can observe when the reading
// side has drained all input and stalled, which bounds how long collect
// waits: only for decompression work already possible, never for I/O.
type pullSource struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	out     []byte
	closed  bool
	waiting bool
	done    bool
	err     error
}

func newPullSource() *pullSource {
	s := &pullSource{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Read implements io.Reader for the decompression goroutine.
func (s *pullSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf) == 0 && !s.closed {
		s.waiting = true
		s.cond.Broadcast()
		s.cond.Wait()
	}
	s.waiting = false
	if len(s.buf) > 0 {
		n := copy(p, s.buf)
		s.buf = s.buf[n:]
		return n, nil
	}
	return 0, io.EOF
}

// push appends a copy of data to the input buffer.
func (s *pullSource) push(data []byte) {
	s.mu.Lock()
	s.buf = append(s.buf, data...)
	s.cond.Broadcast()
	s.mu.Unlock()
}

// closeInput marks the end of the compressed input.
func (s *pullSource) closeInput() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// emit appends decompressed output.
func (s *pullSource) emit(data []byte) {
	s.mu.Lock()
	s.out = append(s.out, data...)
	s.cond.Broadcast()
	s.mu.Unlock()
}

// finish records the end of decompression, with err nil on a clean stream
// end.
func (s *pullSource) finish(err error) {
	s.mu.Lock()
	s.done = true
	s.err = err
	s.cond.Broadcast()
	s.mu.Unlock()
}

// collect waits until the decompressor has consumed all pushed input (or
// finished) and returns the accumulated output.
func (s *pullSource) collect() (out []byte, done bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.done && !(s.waiting && len(s.buf) == 0) {
		s.cond.Wait()
	}
	out = s.out
	s.out = nil
	return out, s.done, s.err
}
