// Package transport provides the middleware chain for the intake HTTP
// transport layer.
//
// Middleware composes plain http.Handler values with Chain. Built-in
// middleware provides panic recovery, request ID assignment
// (X-Request-ID), structured logging via log/slog, and token-bucket
// request rate limiting. The body pipeline itself lives in
// pkg/transport/http and slots into the same chain.
package transport
