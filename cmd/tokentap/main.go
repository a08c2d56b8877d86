package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/denisvmedia/tokentap/capture"
	"github.com/denisvmedia/tokentap/version"
)

type Config struct {
	version bool // show tokentap version

	Addr        string        // proxy listen addr
	Timeout     time.Duration // capture deadline
	App         string        // monitored application command; empty disables launching
	Domains     string        // comma-separated target domain override
	Save        string        // write the captured credential to this file
	Quiet       bool          // machine-readable output: credential only
	Verbose     bool          // print debug log
	SslInsecure bool          // not verify upstream server SSL/TLS certificates
	Upstream    string        // upstream proxy
	CertPath    string        // path of generated cert files
}

func loadConfig() *Config {
	config := &Config{}

	flag.BoolVar(&config.version, "version", false, "show tokentap version")
	flag.StringVar(&config.Addr, "addr", "127.0.0.1:8080", "proxy listen addr")
	flag.DurationVar(&config.Timeout, "timeout", 30*time.Second, "capture deadline")
	flag.StringVar(&config.App, "app", "code", "monitored application command; empty to launch it yourself")
	flag.StringVar(&config.Domains, "domains", "", "comma-separated target domain allow-list override")
	flag.StringVar(&config.Save, "save", "", "write the captured credential to this file")
	flag.BoolVar(&config.Quiet, "quiet", false, "print only the captured credential")
	flag.BoolVar(&config.Verbose, "verbose", false, "print debug log")
	flag.BoolVar(&config.SslInsecure, "ssl-insecure", false, "not verify upstream server SSL/TLS certificates")
	flag.StringVar(&config.Upstream, "upstream", "", "upstream proxy")
	flag.StringVar(&config.CertPath, "cert-path", "", "path of generated cert files (default: session temp dir)")
	flag.Parse()

	return config
}

func main() {
	config := loadConfig()

	// Configure global slog logger.
	level := slog.LevelInfo
	addSource := false
	if config.Verbose {
		level = slog.LevelDebug
		addSource = true // include file:line in debug mode only
	}
	if config.Quiet {
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: addSource,
	}))
	slog.SetDefault(logger)

	if config.version {
		fmt.Println("tokentap: " + version.String())
		os.Exit(0)
	}

	var domains []string
	if config.Domains != "" {
		domains = strings.Split(config.Domains, ",")
	}
	var appCommand []string
	if config.App != "" {
		appCommand = strings.Fields(config.App)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("tokentap started", slog.String("version", version.Version))

	controller := capture.NewController(capture.Config{
		Addr:        config.Addr,
		Timeout:     config.Timeout,
		AppCommand:  appCommand,
		TargetHosts: domains,
		CertDir:     config.CertPath,
		SslInsecure: config.SslInsecure,
		Upstream:    config.Upstream,
	})

	res, err := controller.Run(ctx)
	if err != nil {
		slog.Error("session failed", "error", err)
		os.Exit(1)
	}

	switch res.State {
	case capture.StateCaptured:
		// fall through to output
	case capture.StateTimedOut:
		slog.Error("no credential captured before the deadline",
			"hint", "try a longer -timeout, or check that the application is signed in")
		os.Exit(1)
	default:
		slog.Error("session ended without a credential", "state", res.State.String())
		os.Exit(1)
	}

	if config.Quiet {
		fmt.Println(res.Credential)
	} else {
		fmt.Println()
		fmt.Println("Credential: " + maskCredential(res.Credential))
		fmt.Println("Full:       " + res.Credential)
		if res.Bearer != "" {
			fmt.Println("Bearer:     " + res.Bearer)
		}
	}

	if config.Save != "" {
		if err := os.WriteFile(config.Save, []byte(res.Credential+"\n"), 0o600); err != nil {
			slog.Error("failed to save credential", "error", err)
			os.Exit(1)
		}
		if !config.Quiet {
			fmt.Println("Saved to:   " + config.Save)
		}
	}
}

// maskCredential keeps the prefix and tail visible for eyeballing without
// exposing the whole value in the summary line.
func maskCredential(token string) string {
	if len(token) <= 14 {
		return token
	}
	return token[:10] + "..." + token[len(token)-4:]
}
