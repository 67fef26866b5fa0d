package messaging

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// FormatURLForDisplay renders a tab URL for activity descriptions. The scheme,
// credentials, port, query and fragment are dropped and the host is reduced to
// its registrable domain. A non-root path is kept.
func FormatURLForDisplay(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return trimmed
	}

	host := strings.ToLower(parsed.Hostname())
	if net.ParseIP(host) == nil {
		if domain, domainErr := publicsuffix.EffectiveTLDPlusOne(host); domainErr == nil {
			host = domain
		}
	}

	path := strings.TrimSuffix(parsed.EscapedPath(), "/")
	if path == "" {
		return host
	}
	return host + path
}
