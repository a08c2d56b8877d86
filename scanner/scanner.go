// Package scanner implements the credential matcher run over decrypted
// relay chunks.
package scanner

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// DefaultPrefix is the lexical prefix of the primary credential.
	DefaultPrefix = "gho_"

	// DefaultMinBodyLen is the minimum length of the credential body
	// following the prefix.
	DefaultMinBodyLen = 20
)

// bearerPattern matches the secondary session token carried in an
// Authorization header, independent of header casing.
var bearerPattern = regexp.MustCompile(`(?i)authorization:\s*bearer\s+(tid=[^\r\n]+)`)

// Config controls the primary credential shape.
type Config struct {
	// Prefix is the fixed credential prefix. Defaults to DefaultPrefix.
	Prefix string

	// MinBodyLen is the minimum number of body characters after the
	// prefix. Defaults to DefaultMinBodyLen.
	MinBodyLen int
}

// Result holds what one chunk yielded.
type Result struct {
	// Credential is the primary credential, or "".
	Credential string

	// Bearer is the secondary bearer token, or "".
	Bearer string
}

// Empty reports whether the chunk yielded nothing.
func (r Result) Empty() bool {
	return r.Credential == "" && r.Bearer == ""
}

// Scanner detects credentials of a known lexical shape (fixed prefix plus
// an alphanumeric/underscore body) anywhere inside a chunk. Matching is
// scoped to a single chunk: a credential split across a read boundary is
// missed.
type Scanner struct {
	primary *regexp.Regexp
}

// New compiles a scanner for the configured credential shape.
func New(cfg Config) (*Scanner, error) {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	minBodyLen := cfg.MinBodyLen
	if minBodyLen <= 0 {
		minBodyLen = DefaultMinBodyLen
	}
	primary, err := regexp.Compile(fmt.Sprintf(`%s[A-Za-z0-9_]{%d,}`, regexp.QuoteMeta(prefix), minBodyLen))
	if err != nil {
		return nil, err
	}
	return &Scanner{primary: primary}, nil
}

// Scan matches one decrypted chunk. It never modifies the chunk.
func (s *Scanner) Scan(chunk []byte) Result {
	var res Result
	if m := s.primary.Find(chunk); m != nil {
		res.Credential = string(m)
	}
	if m := bearerPattern.FindSubmatch(chunk); m != nil {
		res.Bearer = strings.TrimSpace(string(m[1]))
	}
	return res
}
