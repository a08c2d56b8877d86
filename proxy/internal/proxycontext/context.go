// Package proxycontext carries the per-connection context through
// context.Context values, bridging the HTTP server's request handling and
// the connection-level relay code.
package proxycontext

import (
	"context"

	"github.com/denisvmedia/tokentap/proxy/internal/conn"
)

type contextKey struct{}

var connContextKey = contextKey{}

// WithConnContext returns a context carrying connCtx.
func WithConnContext(ctx context.Context, connCtx *conn.Context) context.Context {
	return context.WithValue(ctx, connContextKey, connCtx)
}

// GetConnContext extracts the connection context, if present.
func GetConnContext(ctx context.Context) (*conn.Context, bool) {
	connCtx, ok := ctx.Value(connContextKey).(*conn.Context)
	return connCtx, ok
}
