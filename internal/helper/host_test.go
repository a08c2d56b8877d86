package helper_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/denisvmedia/tokentap/internal/helper"
)

func TestMatchHost(t *testing.T) {
	c := qt.New(t)

	targets := []string{
		"api.github.com",
		"api.individual.githubcopilot.com",
		"copilot-proxy.githubusercontent.com",
	}

	// Exact match
	c.Assert(helper.MatchHost("api.github.com", targets), qt.IsTrue)

	// Subdomain of a target
	c.Assert(helper.MatchHost("east.api.github.com", targets), qt.IsTrue)

	// No match
	c.Assert(helper.MatchHost("example.com", targets), qt.IsFalse)
	c.Assert(helper.MatchHost("github.com", targets), qt.IsFalse)

	// A lookalike suffix without a label boundary must not match
	c.Assert(helper.MatchHost("notapi.github.com", targets), qt.IsFalse)

	// Wildcard pattern
	c.Assert(helper.MatchHost("test.github.com", []string{"*.github.com"}), qt.IsTrue)
	c.Assert(helper.MatchHost("test.google.com", []string{"*.github.com"}), qt.IsFalse)

	// Port-qualified pattern must match the address port
	c.Assert(helper.MatchHost("api.github.com:443", []string{"api.github.com:443"}), qt.IsTrue)
	c.Assert(helper.MatchHost("api.github.com:80", []string{"api.github.com:443"}), qt.IsFalse)

	// Pattern without port matches any port
	c.Assert(helper.MatchHost("api.github.com:8443", targets), qt.IsTrue)
}
