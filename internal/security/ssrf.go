// Package security validates outbound URLs supplied by operators or clients:
// feed endpoint overrides, relay targets and webhook targets.
package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// IsPrivateIP reports whether ipStr is a private, loopback or link-local
// address. Invalid strings are not private.
func IsPrivateIP(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

// IsLocalhost reports whether host names the local machine.
// Accepts: "localhost", "127.0.0.1", "::1", "[::1]", "0.0.0.0"
func IsLocalhost(host string) bool {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")

	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1", "0.0.0.0":
		return true
	}

	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ExtractHostWithoutPort strips the port from a host:port string.
//
// Examples:
//   - "example.com:8443" -> "example.com"
//   - "[::1]:8080" -> "::1"
//   - "192.168.1.1" -> "192.168.1.1"
func ExtractHostWithoutPort(host string) string {
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "[") {
		if end := strings.Index(host, "]"); end > 0 {
			return host[1:end]
		}
	}

	if i := strings.LastIndex(host, ":"); i > 0 {
		port := host[i+1:]
		if port != "" && strings.Trim(port, "0123456789") == "" {
			return host[:i]
		}
	}
	return host
}

// rule describes which URLs a caller accepts.
type rule struct {
	kind       string   // used in error messages
	schemes    []string // allowed schemes, lower case
	secure     string   // the scheme required for non-local hosts; "" allows any listed scheme
	allowLocal bool     // permit localhost
}

func (r rule) check(urlStr string) (*url.URL, error) {
	if strings.TrimSpace(urlStr) == "" {
		return nil, fmt.Errorf("URL is empty")
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	allowed := false
	for _, s := range r.schemes {
		if s == scheme {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("unsupported URL scheme: %q (allowed: %s)", parsed.Scheme, strings.Join(r.schemes, ", "))
	}

	host := ExtractHostWithoutPort(parsed.Host)
	if host == "" {
		return nil, fmt.Errorf("invalid URL: missing host")
	}

	local := IsLocalhost(host)
	if local {
		if !r.allowLocal {
			return nil, fmt.Errorf("localhost URLs are not allowed for %s", r.kind)
		}
		return parsed, nil
	}

	if r.secure != "" && scheme != r.secure {
		return nil, fmt.Errorf("%s is required for %s", strings.ToUpper(r.secure), r.kind)
	}

	if IsPrivateIP(host) {
		return nil, fmt.Errorf("private IP addresses are not allowed for %s", r.kind)
	}
	return parsed, nil
}
