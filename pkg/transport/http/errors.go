package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/pverhoef/intake/pkg/intercept"
	"github.com/pverhoef/intake/pkg/producer"
)

// StatusFor maps a body read failure to the HTTP status code a handler
// should respond with: 408 for data-rate violations, 415 for content that
// could not be decoded, 400 for everything else the peer sent wrong.
func StatusFor(err error) int {
	var rateErr *producer.DataRateError
	if errors.As(err, &rateErr) {
		return http.StatusRequestTimeout
	}
	var decErr *intercept.DecompressionError
	if errors.As(err, &decErr) {
		return http.StatusUnsupportedMediaType
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return http.StatusRequestTimeout
	}
	return http.StatusBadRequest
}
