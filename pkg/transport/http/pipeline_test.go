package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	gohttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/pverhoef/intake/pkg/intercept"
	"github.com/pverhoef/intake/pkg/producer"
)

func TestPipelinePlainBody(t *testing.T) {
	var got []byte
	handler := Pipeline(DefaultPipelineConfig())(gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("reading body: %v", err)
			return
		}
		got = body
	}))

	req := httptest.NewRequest("POST", "/", bytes.NewReader([]byte("plain payload")))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if string(got) != "plain payload" {
		t.Errorf("handler saw %q, want \"plain payload\"", got)
	}
}

func TestPipelineNoBodyPassesThrough(t *testing.T) {
	invoked := false
	handler := Pipeline(DefaultPipelineConfig())(gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
		invoked = true
		if _, ok := r.Body.(*Body); ok {
			t.Error("pipeline installed a Body for a bodyless request")
		}
	}))

	req := httptest.NewRequest("GET", "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !invoked {
		t.Fatal("handler not invoked")
	}
}

func TestPipelineDecodesBody(t *testing.T) {
	payload := bytes.Repeat([]byte("decode me "), 4096)

	encoders := map[string]func(io.Writer) io.WriteCloser{
		"gzip": func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) },
		"zstd": func(w io.Writer) io.WriteCloser {
			zw, err := zstd.NewWriter(w)
			if err != nil {
				t.Fatalf("zstd writer: %v", err)
			}
			return zw
		},
	}

	for encoding, newWriter := range encoders {
		t.Run(encoding, func(t *testing.T) {
			var compressed bytes.Buffer
			zw := newWriter(&compressed)
			if _, err := zw.Write(payload); err != nil {
				t.Fatalf("compress: %v", err)
			}
			zw.Close()

			var got []byte
			var seenEncoding string
			var seenLength int64
			handler := Pipeline(DefaultPipelineConfig())(gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
				seenEncoding = r.Header.Get("Content-Encoding")
				seenLength = r.ContentLength
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Errorf("reading body: %v", err)
					return
				}
				got = body
			}))

			req := httptest.NewRequest("POST", "/", bytes.NewReader(compressed.Bytes()))
			req.Header.Set("Content-Encoding", encoding)
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if !bytes.Equal(got, payload) {
				t.Errorf("handler saw %d bytes, want the %d decoded bytes", len(got), len(payload))
			}
			if seenEncoding != "identity" {
				t.Errorf("Content-Encoding seen by handler = %q, want \"identity\"", seenEncoding)
			}
			if seenLength != -1 {
				t.Errorf("ContentLength seen by handler = %d, want -1", seenLength)
			}
		})
	}
}

func TestPipelineDisabledEncodingPassesRawBody(t *testing.T) {
	payload := []byte("raw gzip bytes the handler wants untouched")
	var compressed bytes.Buffer
	zw := gzip.NewWriter(&compressed)
	zw.Write(payload)
	zw.Close()

	cfg := DefaultPipelineConfig()
	cfg.Encodings = []string{} // decoding disabled

	var got []byte
	var seenEncoding string
	handler := Pipeline(cfg)(gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
		seenEncoding = r.Header.Get("Content-Encoding")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("reading body: %v", err)
			return
		}
		got = body
	}))

	req := httptest.NewRequest("POST", "/", bytes.NewReader(compressed.Bytes()))
	req.Header.Set("Content-Encoding", "gzip")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !bytes.Equal(got, compressed.Bytes()) {
		t.Error("handler did not see the raw compressed bytes")
	}
	if seenEncoding != "gzip" {
		t.Errorf("Content-Encoding seen by handler = %q, want \"gzip\"", seenEncoding)
	}
}

func TestPipelineCorruptBody(t *testing.T) {
	handler := Pipeline(DefaultPipelineConfig())(gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
		_, err := io.ReadAll(r.Body)
		if err == nil {
			t.Error("expected a decode failure")
			return
		}
		var decErr *intercept.DecompressionError
		if !errors.As(err, &decErr) {
			t.Errorf("read error = %v, want *DecompressionError", err)
		}
		gohttp.Error(w, err.Error(), StatusFor(err))
	}))

	req := httptest.NewRequest("POST", "/", bytes.NewReader([]byte("definitely not gzip")))
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != gohttp.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", rec.Code)
	}
}

func TestPipelineEnforcesMinDataRate(t *testing.T) {
	cfg := DefaultPipelineConfig()
	cfg.MinDataRate = 100000
	cfg.RateCheckInterval = 20 * time.Millisecond

	handler := Pipeline(cfg)(gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
		_, err := io.ReadAll(r.Body)
		if err == nil {
			t.Error("expected a data rate failure")
			return
		}
		var rateErr *producer.DataRateError
		if !errors.As(err, &rateErr) {
			t.Errorf("read error = %v, want *DataRateError", err)
		}
		gohttp.Error(w, err.Error(), StatusFor(err))
	}))

	// Trickle two bytes, then stall forever.
	pr, pw := io.Pipe()
	defer pw.Close()
	go pw.Write([]byte("ab"))

	req := httptest.NewRequest("POST", "/", pr)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != gohttp.StatusRequestTimeout {
		t.Errorf("status = %d, want 408", rec.Code)
	}
}

func TestPipelineFeedsHooks(t *testing.T) {
	var rawBytes int
	complete := false

	cfg := DefaultPipelineConfig()
	cfg.Hooks = Hooks{
		OnBytes:    func(n int) { rawBytes += n },
		OnComplete: func() { complete = true },
	}

	handler := Pipeline(cfg)(gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
		io.Copy(io.Discard, r.Body)
	}))

	req := httptest.NewRequest("POST", "/", bytes.NewReader(bytes.Repeat([]byte("x"), 1000)))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if rawBytes != 1000 {
		t.Errorf("OnBytes saw %d bytes, want 1000", rawBytes)
	}
	if !complete {
		t.Error("OnComplete not invoked")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "data rate", err: &producer.DataRateError{Rate: 1000}, want: gohttp.StatusRequestTimeout},
		{name: "decompression", err: &intercept.DecompressionError{Encoding: "gzip"}, want: gohttp.StatusUnsupportedMediaType},
		{name: "wrapped decompression", err: &producer.BadContentError{Cause: &intercept.DecompressionError{Encoding: "zstd"}}, want: gohttp.StatusUnsupportedMediaType},
		{name: "deadline", err: context.DeadlineExceeded, want: gohttp.StatusRequestTimeout},
		{name: "canceled", err: context.Canceled, want: gohttp.StatusRequestTimeout},
		{name: "other", err: errors.New("chunked framing broken"), want: gohttp.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusFor(tt.err); got != tt.want {
				t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
