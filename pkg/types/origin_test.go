package types

import "testing"

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		host    string
		allowed []string
		want    bool
	}{
		{"no origin header", "", "peer.local", nil, true},
		{"same origin", "http://peer.local:8080", "peer.local:8080", nil, true},
		{"cross origin without list", "http://evil.test", "peer.local", nil, false},
		{"star", "http://evil.test", "peer.local", []string{"*"}, true},
		{"wildcard subdomain", "https://foo.example.com", "x", []string{"*.example.com"}, true},
		{"wildcard apex", "https://example.com", "x", []string{"*.example.com"}, true},
		{"wildcard miss", "https://badexample.com", "x", []string{"*.example.com"}, false},
		{"host only entry", "https://foo.example.com:8443", "x", []string{"foo.example.com"}, true},
		{"full origin entry", "https://a.test", "x", []string{" https://a.test "}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OriginAllowed(tt.origin, tt.host, tt.allowed); got != tt.want {
				t.Fatalf("OriginAllowed(%q, %q, %v) = %v, want %v", tt.origin, tt.host, tt.allowed, got, tt.want)
			}
		})
	}
}

func TestStripHostPort(t *testing.T) {
	tests := map[string]string{
		"":                "",
		"host:80":         "host",
		"[::1]:443":       "::1",
		"[fe80::1]":       "fe80::1",
		"plain.host.name": "plain.host.name",
	}
	for in, want := range tests {
		if got := StripHostPort(in); got != want {
			t.Fatalf("StripHostPort(%q) = %q, want %q", in, got, want)
		}
	}
}
