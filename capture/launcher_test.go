package capture_test

import (
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/denisvmedia/tokentap/capture"
)

func TestProxyEnviron(t *testing.T) {
	c := qt.New(t)

	base := []string{
		"PATH=/usr/bin",
		"HOME=/home/op",
		"HTTP_PROXY=http://stale:3128",
		"https_proxy=http://stale:3128",
		"no_proxy=*",
		"NODE_TLS_REJECT_UNAUTHORIZED=0",
		"NODE_EXTRA_CA_CERTS=/stale/ca.pem",
	}
	env := capture.ProxyEnviron(base, "127.0.0.1:9090", "/tmp/session-root.pem")

	c.Assert(env, qt.Contains, "PATH=/usr/bin")
	c.Assert(env, qt.Contains, "HOME=/home/op")
	c.Assert(env, qt.Contains, "HTTP_PROXY=http://127.0.0.1:9090")
	c.Assert(env, qt.Contains, "HTTPS_PROXY=http://127.0.0.1:9090")
	c.Assert(env, qt.Contains, "NO_PROXY=169.254.169.254,localhost,127.0.0.1")
	c.Assert(env, qt.Contains, "NODE_EXTRA_CA_CERTS=/tmp/session-root.pem")

	for _, kv := range env {
		upper := strings.ToUpper(kv)
		c.Assert(strings.HasPrefix(upper, "NODE_TLS_REJECT_UNAUTHORIZED="), qt.IsFalse,
			qt.Commentf("TLS bypass must be scrubbed: %q", kv))
		if strings.HasPrefix(upper, "HTTP_PROXY=") || strings.HasPrefix(upper, "HTTPS_PROXY=") {
			c.Assert(strings.Contains(kv, "stale"), qt.IsFalse,
				qt.Commentf("inherited proxy must be replaced: %q", kv))
		}
	}
}

func TestProxyEnvironWithoutRootPath(t *testing.T) {
	c := qt.New(t)

	env := capture.ProxyEnviron([]string{"PATH=/usr/bin"}, "127.0.0.1:9090", "")
	for _, kv := range env {
		c.Assert(strings.HasPrefix(kv, "NODE_EXTRA_CA_CERTS="), qt.IsFalse)
	}
}
