package proxy

import (
	"log/slog"
	"sync"

	"go.uber.org/atomic"

	"github.com/denisvmedia/tokentap/scanner"
)

// Session is the process-wide capture state shared by every connection
// task. The primary credential slot is write-once: the first matching
// chunk wins and later matches are ignored. The running flag is the sole
// authority for whether relay loops continue.
type Session struct {
	scanner *scanner.Scanner

	running    atomic.Bool
	credential atomic.String
	bearer     atomic.String

	captureOnce sync.Once
	captured    chan struct{}
}

// NewSession creates a running session around the given scanner.
func NewSession(sc *scanner.Scanner) *Session {
	s := &Session{
		scanner:  sc,
		captured: make(chan struct{}),
	}
	s.running.Store(true)
	return s
}

// Scan feeds one decrypted chunk to the scanner and records any match.
// Forwarding is never blocked on the result; a match only marks the
// session.
func (s *Session) Scan(chunk []byte) {
	res := s.scanner.Scan(chunk)
	if res.Empty() {
		return
	}
	if res.Credential != "" && s.credential.CompareAndSwap("", res.Credential) {
		slog.Info("credential captured", "in", "Proxy.session", "length", len(res.Credential))
		s.captureOnce.Do(func() { close(s.captured) })
	}
	if res.Bearer != "" && s.bearer.CompareAndSwap("", res.Bearer) {
		slog.Info("bearer token captured", "in", "Proxy.session", "length", len(res.Bearer))
	}
}

// Credential returns the captured primary credential, or "".
func (s *Session) Credential() string {
	return s.credential.Load()
}

// Bearer returns the captured secondary bearer token, or "".
func (s *Session) Bearer() string {
	return s.bearer.Load()
}

// Captured returns a channel closed once when the primary credential is
// recorded.
func (s *Session) Captured() <-chan struct{} {
	return s.captured
}

// Running reports whether relay loops should continue.
func (s *Session) Running() bool {
	return s.running.Load()
}

// Stop clears the running flag; relay loops exit between reads.
func (s *Session) Stop() {
	s.running.Store(false)
}
