// Package proxy implements the local intercepting proxy: CONNECT
// dispatch, selective TLS interception for allow-listed hosts, and blind
// passthrough for everything else.
package proxy

import (
	"context"
	"crypto/x509"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/denisvmedia/tokentap/cert"
	"github.com/denisvmedia/tokentap/internal/helper"
)

// Options configures the proxy.
type Options struct {
	// Addr is the listen address, e.g. "127.0.0.1:8080".
	Addr string

	// TargetHosts is the allow-list of domains routed to interception.
	// Hostnames equal to, subdomains of, or wildcard-matching an entry
	// are intercepted; everything else is passed through.
	TargetHosts []string

	// ConnTimeout bounds per-connection dials, handshakes, and relay
	// idle time so a stalled peer cannot block teardown.
	ConnTimeout time.Duration

	// SslInsecure disables upstream certificate verification.
	SslInsecure bool

	// Upstream, when set, chains upstream dials through another proxy
	// (http, https or socks5 URL).
	Upstream string

	// DialContext overrides the upstream dialer. Used by tests to point
	// target hosts at simulated servers.
	DialContext func(ctx context.Context, network, address string) (net.Conn, error)
}

// Proxy accepts CONNECT tunnels and routes each one to interception or
// passthrough.
type Proxy struct {
	Opts *Options

	ca      cert.CA
	session *Session
	entry   *entry
}

// NewProxy creates a proxy around the given CA and session state.
func NewProxy(opts *Options, ca cert.CA, session *Session) (*Proxy, error) {
	if opts.ConnTimeout <= 0 {
		opts.ConnTimeout = 30 * time.Second
	}
	opts.TargetHosts = lo.Uniq(lo.FilterMap(opts.TargetHosts, func(host string, _ int) (string, bool) {
		host = strings.ToLower(strings.TrimSpace(host))
		return host, host != ""
	}))

	p := &Proxy{
		Opts:    opts,
		ca:      ca,
		session: session,
	}
	p.entry = newEntry(p)
	return p, nil
}

// Session returns the shared capture state.
func (p *Proxy) Session() *Session {
	return p.session
}

// GetCertificate returns the session root certificate.
func (p *Proxy) GetCertificate() x509.Certificate {
	return *p.ca.GetRootCA()
}

// Start binds the listener and begins serving in the background. A bind
// failure is returned synchronously; it is fatal to the session.
func (p *Proxy) Start() error {
	return p.entry.start()
}

// Addr returns the bound listener address.
func (p *Proxy) Addr() net.Addr {
	return p.entry.addr()
}

// Close stops the session and the listener immediately.
func (p *Proxy) Close() error {
	p.session.Stop()
	return p.entry.close()
}

// Shutdown stops accepting and waits for in-flight connections up to the
// context deadline.
func (p *Proxy) Shutdown(ctx context.Context) error {
	p.session.Stop()
	return p.entry.shutdown(ctx)
}

// dialUpstream opens the raw TCP leg towards the real destination,
// optionally through a configured upstream proxy.
func (p *Proxy) dialUpstream(ctx context.Context, address string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Opts.ConnTimeout)
	defer cancel()

	if p.Opts.DialContext != nil {
		return p.Opts.DialContext(ctx, "tcp", address)
	}
	if p.Opts.Upstream != "" {
		proxyURL, err := url.Parse(p.Opts.Upstream)
		if err != nil {
			return nil, err
		}
		return helper.GetProxyConn(ctx, proxyURL, address, p.Opts.SslInsecure)
	}
	return (&net.Dialer{}).DialContext(ctx, "tcp", address)
}
