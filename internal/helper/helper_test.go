package helper_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/denisvmedia/tokentap/internal/helper"
)

func TestHostPortDefaultsTo443(t *testing.T) {
	c := qt.New(t)

	host, port := helper.HostPort("api.example.com")
	c.Assert(host, qt.Equals, "api.example.com")
	c.Assert(port, qt.Equals, "443")
}

func TestHostPortPreservesExplicitPort(t *testing.T) {
	c := qt.New(t)

	host, port := helper.HostPort("api.example.com:8443")
	c.Assert(host, qt.Equals, "api.example.com")
	c.Assert(port, qt.Equals, "8443")
}

func TestIsTLSDetectsTLSHandshake(t *testing.T) {
	c := qt.New(t)

	bufTLS := []byte{0x16, 0x03, 0x03, 0x00}
	c.Assert(helper.IsTLS(bufTLS), qt.IsTrue)
}

func TestIsTLSRejectsNonTLS(t *testing.T) {
	c := qt.New(t)

	bufNonTLS := []byte{0x15, 0x03, 0x04, 0x00}
	c.Assert(helper.IsTLS(bufNonTLS), qt.IsFalse)
	c.Assert(helper.IsTLS([]byte{0x16}), qt.IsFalse)
}
