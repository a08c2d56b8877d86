package proxy

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"

	"github.com/denisvmedia/tokentap/internal/helper"
	"github.com/denisvmedia/tokentap/proxy/internal/conn"
)

// intercept performs the dual TLS handshake for an allow-listed host: a
// genuine, verified client-side leg to the real destination and a forged
// server-side leg towards the monitored application, then relays bytes
// through the scanner in both directions.
//
// Every failure here is scoped to this connection. The monitored
// application may open many concurrent connections and only one needs to
// carry the credential.
func (p *Proxy) intercept(ctx context.Context, cconn net.Conn, connCtx *conn.Context) {
	logger := slog.Default().With(
		"in", "Proxy.intercept",
		"host", connCtx.Host,
		"conn", connCtx.ID(),
	)
	address := net.JoinHostPort(connCtx.Host, connCtx.Port)

	plainConn, err := p.dialUpstream(ctx, address)
	if err != nil {
		logger.Debug("upstream dial failed", "error", err)
		cconn.Close()
		return
	}

	handshakeCtx, cancel := context.WithTimeout(ctx, p.Opts.ConnTimeout)
	defer cancel()

	// Only the client-facing leg is forged; the upstream certificate is
	// validated normally unless SslInsecure is set.
	serverTLSConn := tls.Client(plainConn, &tls.Config{
		ServerName:         connCtx.Host,
		InsecureSkipVerify: p.Opts.SslInsecure,
		KeyLogWriter:       helper.GetTLSKeyLogWriter(),
	})
	if err := serverTLSConn.HandshakeContext(handshakeCtx); err != nil {
		logger.Debug("upstream TLS handshake failed", "error", err)
		plainConn.Close()
		cconn.Close()
		return
	}

	leaf, err := p.ca.GetCert(connCtx.Host)
	if err != nil {
		// Leaf issuance failure degrades this connection to blind
		// passthrough rather than breaking it.
		logger.Warn("leaf issuance failed, falling back to passthrough", "error", err)
		serverTLSConn.Close()
		p.tunnel(ctx, cconn, connCtx)
		return
	}

	clientTLSConn := tls.Server(cconn, &tls.Config{
		SessionTicketsDisabled: true,
		GetConfigForClient: func(chi *tls.ClientHelloInfo) (*tls.Config, error) {
			hostCert := leaf
			if chi.ServerName != "" && chi.ServerName != connCtx.Host {
				if c, err := p.ca.GetCert(chi.ServerName); err == nil {
					hostCert = c
				}
			}
			return &tls.Config{
				SessionTicketsDisabled: true,
				Certificates:           []tls.Certificate{*hostCert},
				NextProtos:             []string{"http/1.1"},
			}, nil
		},
	})
	if err := clientTLSConn.HandshakeContext(handshakeCtx); err != nil {
		logger.Debug("client TLS handshake failed", "error", err)
		clientTLSConn.Close()
		serverTLSConn.Close()
		return
	}

	p.relay(logger, serverTLSConn, clientTLSConn, p.session.Scan)
}
