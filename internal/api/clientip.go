package api

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/saveenergy/netguardian/internal/config"
)

// ClientIPResolver names the peer behind a request. Rate limits, the
// per-address viewer cap and phase logs are all keyed on its answer.
// A nil resolver uses the socket address.
type ClientIPResolver struct {
	proxies []netip.Prefix
}

// NewClientIPResolver honours X-Forwarded-For and X-Real-IP only when
// TrustProxyHeaders is set and the socket peer sits in a trusted CIDR.
func NewClientIPResolver(cfg *config.Config) *ClientIPResolver {
	r := &ClientIPResolver{}
	if cfg == nil || !cfg.TrustProxyHeaders {
		return r
	}
	for _, raw := range cfg.TrustedProxyCIDRs {
		if p, err := netip.ParsePrefix(strings.TrimSpace(raw)); err == nil {
			r.proxies = append(r.proxies, p.Masked())
		}
	}
	return r
}

// Resolve returns the client address, or the zero Addr when the request
// carries nothing parseable.
func (r *ClientIPResolver) Resolve(req *http.Request) netip.Addr {
	peer := parseAddr(req.RemoteAddr)
	if r == nil || !r.proxied(peer) {
		return peer
	}
	hops := strings.Split(req.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		// Hops left of the first untrusted one are client-controlled.
		if a := parseAddr(hops[i]); a.IsValid() && !r.proxied(a) {
			return a
		}
	}
	if a := parseAddr(req.Header.Get("X-Real-IP")); a.IsValid() {
		return a
	}
	return peer
}

// FromRequest is Resolve rendered for logs and map keys.
func (r *ClientIPResolver) FromRequest(req *http.Request) string {
	a := r.Resolve(req)
	if !a.IsValid() {
		return "unknown"
	}
	return a.String()
}

func (r *ClientIPResolver) proxied(a netip.Addr) bool {
	if !a.IsValid() {
		return false
	}
	for _, p := range r.proxies {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// parseAddr accepts a bare address, a bracketed IPv6 address or
// host:port. IPv4-mapped IPv6 collapses to IPv4 and zones are dropped.
func parseAddr(raw string) netip.Addr {
	s := strings.TrimSpace(raw)
	if s == "" {
		return netip.Addr{}
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}
	}
	return a.Unmap().WithZone("")
}
