// This file contains the proxy entry point: the listener wrapper, the
// HTTP server bridging accepted connections into the dispatcher, and the
// CONNECT routing decision.
//
// Request flow:
//
//	CONNECT (allow-listed host)  → handleConnect → Proxy.intercept
//	CONNECT (any other host)     → handleConnect → Proxy.tunnel
//	anything else                → plaintext scan-and-close fallback
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/denisvmedia/tokentap/internal/helper"
	"github.com/denisvmedia/tokentap/proxy/internal/conn"
	"github.com/denisvmedia/tokentap/proxy/internal/proxycontext"
)

// plaintextScanLimit bounds how much of a non-CONNECT request body is read
// for the fallback scan.
const plaintextScanLimit = 64 * 1024

// wrapListener decorates each accepted connection with its connection
// context before handing it to the HTTP server.
type wrapListener struct {
	net.Listener
	proxy *Proxy
}

func (l *wrapListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &wrapClientConn{
		Conn:    c,
		connCtx: conn.NewContext(conn.NewClientConn(c)),
	}, nil
}

// wrapClientConn carries the connection context alongside the raw socket.
type wrapClientConn struct {
	net.Conn
	connCtx *conn.Context
}

// entry is the HTTP server entry point; it implements http.Handler and
// routes each request to the tunnel dispatcher or the plaintext fallback.
type entry struct {
	proxy  *Proxy
	server *http.Server
	ln     net.Listener
}

func newEntry(proxy *Proxy) *entry {
	e := &entry{proxy: proxy}
	e.server = &http.Server{
		Addr:    proxy.Opts.Addr,
		Handler: e,
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			if wc, ok := c.(*wrapClientConn); ok {
				return proxycontext.WithConnContext(ctx, wc.connCtx)
			}
			return ctx
		},
	}
	return e
}

// start binds the listener and serves in the background. Bind errors are
// returned synchronously so the caller can abort the session.
func (e *entry) start() error {
	addr := e.server.Addr
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	e.ln = ln

	slog.Info("proxy listening", "addr", ln.Addr().String())
	pln := &wrapListener{
		Listener: ln,
		proxy:    e.proxy,
	}
	go func() {
		if err := e.server.Serve(pln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("proxy server exited", "error", err)
		}
	}()
	return nil
}

func (e *entry) addr() net.Addr {
	if e.ln == nil {
		return nil
	}
	return e.ln.Addr()
}

func (e *entry) close() error {
	return e.server.Close()
}

func (e *entry) shutdown(ctx context.Context) error {
	return e.server.Shutdown(ctx)
}

// ServeHTTP routes CONNECT requests into the dispatcher. Any other verb
// means the monitored application sent plaintext HTTP to the proxy; those
// bytes are scanned once and the connection is closed.
func (e *entry) ServeHTTP(res http.ResponseWriter, req *http.Request) {
	if req.Method == http.MethodConnect {
		e.handleConnect(res, req)
		return
	}

	e.scanPlaintext(req)
	res.Header().Set("Connection", "close")
	res.WriteHeader(http.StatusBadRequest)
	_, _ = io.WriteString(res, "This is a proxy server, direct requests are not allowed")
}

// scanPlaintext runs the scanner over the readable part of an unencrypted
// request. Robustness fallback; virtually all real traffic arrives via
// CONNECT.
func (e *entry) scanPlaintext(req *http.Request) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s %s\r\n", req.Method, req.RequestURI, req.Proto)
	_ = req.Header.Write(&buf)
	buf.WriteString("\r\n")
	_, _ = io.Copy(&buf, io.LimitReader(req.Body, plaintextScanLimit))
	e.proxy.session.Scan(buf.Bytes())
}

// handleConnect parses the tunnel target, decides intercept vs
// passthrough, establishes the tunnel, and hands the connection off.
func (e *entry) handleConnect(res http.ResponseWriter, req *http.Request) {
	proxy := e.proxy
	logger := slog.Default().With(
		"in", "Proxy.entry.handleConnect",
		"host", req.Host,
	)

	connCtx, ok := proxycontext.GetConnContext(req.Context())
	if !ok {
		panic("failed to get ConnContext from request context")
	}
	connCtx.Host, connCtx.Port = helper.HostPort(req.Host)
	connCtx.Host = strings.ToLower(connCtx.Host)
	connCtx.Intercept = helper.MatchHost(connCtx.Host, proxy.Opts.TargetHosts)

	cconn, err := e.establishConnection(res)
	if err != nil {
		logger.Error("establish connection failed", "error", err)
		return
	}

	if connCtx.Intercept {
		logger.Debug("begin intercept", "conn", connCtx.ID())
		proxy.intercept(req.Context(), cconn, connCtx)
		return
	}
	logger.Debug("begin passthrough", "conn", connCtx.ID())
	proxy.tunnel(req.Context(), cconn, connCtx)
}

// establishConnection hijacks the connection from the HTTP server and
// sends "200 Connection Established", per the CONNECT contract, before
// any routing-specific work happens.
func (e *entry) establishConnection(res http.ResponseWriter) (net.Conn, error) {
	cconn, _, err := res.(http.Hijacker).Hijack()
	if err != nil {
		res.WriteHeader(http.StatusBadGateway)
		return nil, err
	}
	_, err = io.WriteString(cconn, "HTTP/1.1 200 Connection Established\r\n\r\n")
	if err != nil {
		cconn.Close()
		return nil, err
	}
	return cconn, nil
}
