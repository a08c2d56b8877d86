// Package capture orchestrates one capture session: it builds the
// certificate authority, starts the proxy listener, launches the
// monitored application, waits for a credential or the deadline, and
// tears everything down.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/denisvmedia/tokentap/cert"
	"github.com/denisvmedia/tokentap/proxy"
	"github.com/denisvmedia/tokentap/scanner"
)

// State is the controller lifecycle state.
type State int

const (
	StateIdle State = iota
	StateListening
	StateLaunched
	StateCaptured
	StateTimedOut
	StateInterrupted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateLaunched:
		return "launched"
	case StateCaptured:
		return "captured"
	case StateTimedOut:
		return "timed out"
	case StateInterrupted:
		return "interrupted"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// DefaultTargetHosts returns the domains known to carry the credential.
func DefaultTargetHosts() []string {
	return []string{
		"api.github.com",
		"api.individual.githubcopilot.com",
		"copilot-proxy.githubusercontent.com",
	}
}

// Config describes one capture session.
type Config struct {
	// Addr is the proxy listen address. Defaults to 127.0.0.1:8080.
	Addr string

	// Timeout is the capture deadline. Defaults to 30s.
	Timeout time.Duration

	// AppCommand is the monitored application argv. Empty disables
	// launching (the operator starts the application manually).
	AppCommand []string

	// TargetHosts overrides the intercept allow-list.
	TargetHosts []string

	// TokenPrefix overrides the primary credential prefix.
	TokenPrefix string

	// CertDir holds the root material; "" means a session temp dir.
	CertDir string

	// LingerAfterCapture is the extra wait after the primary capture so
	// a bonus bearer token on a parallel connection can be recorded.
	// Defaults to 2s.
	LingerAfterCapture time.Duration

	SslInsecure bool
	Upstream    string
	ConnTimeout time.Duration

	// DialContext is passed through to the proxy (test seam).
	DialContext func(ctx context.Context, network, address string) (net.Conn, error)
}

// Result is what one session produced.
type Result struct {
	State      State
	Credential string
	Bearer     string
}

// Controller drives the session state machine
// Idle → Listening → Launched → (Captured|TimedOut|Interrupted) → Stopped.
type Controller struct {
	cfg Config

	mu    sync.Mutex
	state State

	ca         cert.CA
	session    *proxy.Session
	proxy      *proxy.Proxy
	cmd        *exec.Cmd
	scratchDir string

	stopOnce sync.Once
}

// NewController creates an idle controller.
func NewController(cfg Config) *Controller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.LingerAfterCapture <= 0 {
		cfg.LingerAfterCapture = 2 * time.Second
	}
	if len(cfg.TargetHosts) == 0 {
		cfg.TargetHosts = DefaultTargetHosts()
	}
	return &Controller{
		cfg:   cfg,
		state: StateIdle,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Addr returns the bound proxy address, or nil before listening.
func (c *Controller) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state < StateListening || c.proxy == nil {
		return nil
	}
	return c.proxy.Addr()
}

// Run drives one session to completion. Setup failures (certificate
// generation, listener bind) abort immediately; everything after that
// ends in one of the terminal outcomes. Teardown always runs.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	defer c.Stop()

	sc, err := scanner.New(scanner.Config{Prefix: c.cfg.TokenPrefix})
	if err != nil {
		return Result{State: c.State()}, err
	}

	ca, err := cert.NewSelfSignCA(c.cfg.CertDir)
	if err != nil {
		return Result{State: c.State()}, fmt.Errorf("generate root certificate: %w", err)
	}
	c.ca = ca

	c.session = proxy.NewSession(sc)
	p, err := proxy.NewProxy(&proxy.Options{
		Addr:        c.cfg.Addr,
		TargetHosts: c.cfg.TargetHosts,
		ConnTimeout: c.cfg.ConnTimeout,
		SslInsecure: c.cfg.SslInsecure,
		Upstream:    c.cfg.Upstream,
		DialContext: c.cfg.DialContext,
	}, ca, c.session)
	if err != nil {
		return Result{State: c.State()}, err
	}
	c.mu.Lock()
	c.proxy = p
	c.mu.Unlock()

	if err := p.Start(); err != nil {
		return Result{State: c.State()}, fmt.Errorf("bind proxy listener on %q (is the port taken? try another one): %w", c.cfg.Addr, err)
	}
	c.setState(StateListening)

	if len(c.cfg.AppCommand) > 0 {
		cmd, scratchDir, err := launchApp(c.cfg.AppCommand, p.Addr().String(), ca.RootCAPath())
		if err != nil {
			return Result{State: c.State()}, err
		}
		c.cmd = cmd
		c.scratchDir = scratchDir
	}
	c.setState(StateLaunched)

	timer := time.NewTimer(c.cfg.Timeout)
	defer timer.Stop()

	var outcome State
	select {
	case <-c.session.Captured():
		// Give a parallel connection a moment to deliver the bonus
		// bearer token before stopping.
		select {
		case <-time.After(c.cfg.LingerAfterCapture):
		case <-ctx.Done():
		}
		outcome = StateCaptured
	case <-timer.C:
		outcome = StateTimedOut
	case <-ctx.Done():
		outcome = StateInterrupted
	}
	c.setState(outcome)

	res := Result{
		State:      outcome,
		Credential: c.session.Credential(),
		Bearer:     c.session.Bearer(),
	}
	c.Stop()
	return res, nil
}

// Stop tears the session down: listener, launched application, generated
// certificate material, scratch workspace. Idempotent and best-effort;
// teardown errors never escalate.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		logger := slog.Default().With("in", "capture.Controller.Stop")

		if c.session != nil {
			c.session.Stop()
		}
		if c.proxy != nil {
			if err := c.proxy.Close(); err != nil {
				logger.Debug("close proxy", "error", err)
			}
		}
		c.terminateApp(logger)
		if c.ca != nil {
			if err := c.ca.Close(); err != nil {
				logger.Debug("remove certificate material", "error", err)
			}
		}
		if c.scratchDir != "" {
			if err := os.RemoveAll(c.scratchDir); err != nil {
				logger.Debug("remove scratch workspace", "error", err)
			}
		}
		c.setState(StateStopped)
	})
}

// terminateApp stops the launched application, if this controller started
// one. Graceful first, then a hard kill after a short grace period.
func (c *Controller) terminateApp(logger *slog.Logger) {
	if c.cmd == nil || c.cmd.Process == nil {
		return
	}
	if err := c.cmd.Process.Signal(os.Interrupt); err != nil {
		_ = c.cmd.Process.Kill()
	}

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()
	select {
	case err := <-done:
		logger.Debug("monitored application exited", "error", err)
	case <-time.After(5 * time.Second):
		_ = c.cmd.Process.Kill()
		<-done
	}
}
