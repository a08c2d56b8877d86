package proxy

import (
	"context"
	"log/slog"
	"net"

	"github.com/denisvmedia/tokentap/proxy/internal/conn"
)

// tunnel relays encrypted bytes blindly between the client and the real
// destination. Non-target traffic (telemetry, pinned connections,
// unrelated APIs) goes through here so certificate substitution never
// breaks it. No TLS termination, no scanning.
func (p *Proxy) tunnel(ctx context.Context, cconn net.Conn, connCtx *conn.Context) {
	logger := slog.Default().With(
		"in", "Proxy.tunnel",
		"host", connCtx.Host,
		"conn", connCtx.ID(),
	)
	address := net.JoinHostPort(connCtx.Host, connCtx.Port)

	serverConn, err := p.dialUpstream(ctx, address)
	if err != nil {
		logger.Debug("upstream dial failed", "error", err)
		cconn.Close()
		return
	}

	p.relay(logger, serverConn, cconn, nil)
}
