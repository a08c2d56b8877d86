package helper

import (
	"net"
	"strings"

	"github.com/tidwall/match"
)

// HostPort splits a CONNECT target into host and port, defaulting to 443
// when the port is omitted.
func HostPort(target string) (host, port string) {
	host, port, err := net.SplitHostPort(target)
	if err != nil {
		return target, "443"
	}
	if port == "" {
		port = "443"
	}
	return host, port
}

// MatchHost reports whether address matches any of the patterns. A pattern
// may carry a port (which must then equal the address port), a wildcard
// ("*.example.com"), or a bare domain, in which case the address matches
// when it equals the domain or is a subdomain of it.
func MatchHost(address string, patterns []string) bool {
	host, port := splitAddress(address)
	for _, pattern := range patterns {
		patternHost, patternPort := splitAddress(pattern)
		if patternPort != "" && patternPort != port {
			continue
		}
		if hostMatches(host, patternHost) {
			return true
		}
	}
	return false
}

func hostMatches(host, pattern string) bool {
	if host == pattern {
		return true
	}
	if strings.ContainsAny(pattern, "*?") {
		return match.Match(host, pattern)
	}
	return strings.HasSuffix(host, "."+pattern)
}

func splitAddress(address string) (host, port string) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return address, ""
	}
	return host, port
}

// IsTLS reports whether buf starts with a TLS record.
// https://github.com/mitmproxy/mitmproxy/blob/main/mitmproxy/net/tls.py is_tls_record_magic
func IsTLS(buf []byte) bool {
	if len(buf) < 3 {
		return false
	}
	return buf[0] == 0x16 && buf[1] == 0x03 && buf[2] <= 0x03
}
