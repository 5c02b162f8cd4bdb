package types

import (
	"net"
	"net/url"
	"strings"
)

// StripHostPort returns host without its port. Bracketed IPv6 literals lose
// their brackets.
func StripHostPort(host string) string {
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
}

// OriginHost is the bare hostname of an Origin header value.
func OriginHost(origin string) string {
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		return StripHostPort(u.Host)
	}
	return StripHostPort(origin)
}

// OriginAllowed matches origin against an allow list. Entries may be "*",
// a full origin, a bare host, or a "*.suffix" wildcard. An empty list only
// admits origins whose host equals requestHost.
func OriginAllowed(origin, requestHost string, allowed []string) bool {
	if origin == "" {
		return true
	}
	host := OriginHost(origin)
	if len(allowed) == 0 {
		return host != "" && strings.EqualFold(host, StripHostPort(requestHost))
	}
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "":
			continue
		case entry == "*", strings.EqualFold(entry, origin):
			return true
		case strings.HasPrefix(entry, "*."):
			suffix := strings.TrimPrefix(entry, "*.")
			if host != "" && (strings.EqualFold(host, suffix) || strings.HasSuffix(strings.ToLower(host), "."+strings.ToLower(suffix))) {
				return true
			}
		default:
			if h := OriginHost(entry); h != "" && strings.EqualFold(h, host) {
				return true
			}
		}
	}
	return false
}
