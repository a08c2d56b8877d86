package capture

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// launchApp starts the monitored application with its traffic routed
// through the proxy and the session root injected as a trust anchor. The
// application runs in a fresh scratch directory so it does not load a
// heavyweight workspace.
func launchApp(argv []string, proxyAddr, rootCAPath string) (*exec.Cmd, string, error) {
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, "", fmt.Errorf("monitored application %q not found: %w", argv[0], err)
	}
	scratchDir, err := os.MkdirTemp("", "tokentap-ws-")
	if err != nil {
		return nil, "", err
	}

	cmd := exec.Command(path, argv[1:]...)
	cmd.Dir = scratchDir
	cmd.Env = ProxyEnviron(os.Environ(), proxyAddr, rootCAPath)
	if err := cmd.Start(); err != nil {
		_ = os.RemoveAll(scratchDir)
		return nil, "", fmt.Errorf("launch monitored application: %w", err)
	}

	slog.Info("monitored application launched",
		"in", "capture.launchApp",
		"command", argv[0],
		"pid", cmd.Process.Pid,
	)
	return cmd, scratchDir, nil
}

// ProxyEnviron applies the proxy environment contract on top of base:
// HTTP(S)_PROXY pointing at the listener, NO_PROXY covering loopback and
// the metadata address, NODE_EXTRA_CA_CERTS pointing at the session root,
// and any inherited proxy or TLS-bypass variables scrubbed.
func ProxyEnviron(base []string, proxyAddr, rootCAPath string) []string {
	managed := []string{
		"HTTP_PROXY=",
		"HTTPS_PROXY=",
		"NO_PROXY=",
		"NODE_EXTRA_CA_CERTS=",
		"NODE_TLS_REJECT_UNAUTHORIZED=",
	}

	env := make([]string, 0, len(base)+4)
outer:
	for _, kv := range base {
		for _, prefix := range managed {
			if strings.HasPrefix(strings.ToUpper(kv), prefix) {
				continue outer
			}
		}
		env = append(env, kv)
	}

	proxyURL := "http://" + proxyAddr
	env = append(env,
		"HTTP_PROXY="+proxyURL,
		"HTTPS_PROXY="+proxyURL,
		"NO_PROXY=169.254.169.254,localhost,127.0.0.1",
	)
	if rootCAPath != "" {
		env = append(env, "NODE_EXTRA_CA_CERTS="+rootCAPath)
	}
	return env
}
