// Package ctxkey defines shared context key types used across packages.
// It must not import other internal packages, so it can sit below both
// the transport and service layers without cycles.
package ctxkey

// LoggerKey is the context key type for the request-scoped logger. HTTP
// middleware stores a logger enriched with the request id under this key;
// handlers retrieve it to keep one id across all lines of a request.
type LoggerKey struct{}
