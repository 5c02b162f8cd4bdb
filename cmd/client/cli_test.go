package client

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseFlagsPositionalServer(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantURL   string
		wantAlias string
		wantErr   bool
	}{
		{name: "url", args: []string{"https://peer.example.com"}, wantURL: "https://peer.example.com"},
		{name: "alias", args: []string{"home"}, wantAlias: "home"},
		{name: "query rejected", args: []string{"https://example.com?x=1"}, wantErr: true},
		{name: "bad port", args: []string{"http://example.com:70000"}, wantErr: true},
		{name: "two servers", args: []string{"https://example.com", "https://example.org"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mf, err := parseFlags(tt.args, io.Discard)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if mf.ServerURL != tt.wantURL || mf.Server != tt.wantAlias {
				t.Fatalf("url=%q alias=%q", mf.ServerURL, mf.Server)
			}
		})
	}
}

func TestParseFlagsRecordsShortFlagsByLongName(t *testing.T) {
	mf, err := parseFlags([]string{"-d", "upload", "-t", "3", "-s", "2", "-q", "--png", "out.png"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"direction", "duration", "streams", "quiet", "png"} {
		if !mf.set[name] {
			t.Errorf("%s not recorded as set", name)
		}
	}
	if mf.Direction != "upload" || mf.Duration != 3 || mf.Streams != 2 || mf.PNG != "out.png" {
		t.Fatalf("config = %+v", mf.Config)
	}
}

func TestParseFlagsHelp(t *testing.T) {
	var out strings.Builder
	if _, err := parseFlags([]string{"--help"}, &out); !errors.Is(err, errHelp) {
		t.Fatalf("err = %v, want errHelp", err)
	}
	if !strings.Contains(out.String(), "netguardian measure") {
		t.Fatalf("usage not printed: %q", out.String())
	}
}

func TestMergeConfigPrecedence(t *testing.T) {
	t.Setenv(envPrefix+"DIRECTION", "upload")
	t.Setenv(envPrefix+"DURATION", "7")
	t.Setenv(envPrefix+"STREAMS", "many")
	t.Setenv("NO_COLOR", "1")

	cf := &ConfigFile{
		DefaultServer: "lab",
		Servers: map[string]ServerConfig{
			"lab":  {URL: "http://10.0.0.2:8080", APIKey: "lab-key"},
			"edge": {URL: "https://edge.example.com", APIKey: "edge-key"},
		},
		Duration: 20,
		Streams:  8,
		Width:    300,
	}
	mf, err := parseFlags([]string{"-t", "4", "edge"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	var warn strings.Builder
	got := mergeConfig(mf.Config, cf, mf.set, &warn)

	if got.ServerURL != "https://edge.example.com" || got.APIKey != "edge-key" {
		t.Fatalf("server = %s key = %s", got.ServerURL, got.APIKey)
	}
	if got.Direction != "upload" {
		t.Fatalf("direction = %s, want env value", got.Direction)
	}
	if got.Duration != 4 {
		t.Fatalf("duration = %d, want flag value", got.Duration)
	}
	if got.Streams != 8 {
		t.Fatalf("streams = %d, want file value after bad env", got.Streams)
	}
	if !strings.Contains(warn.String(), "STREAMS") {
		t.Fatalf("missing warning: %q", warn.String())
	}
	if got.Width != 300 || got.Height != defaultHeight {
		t.Fatalf("size = %dx%d", got.Width, got.Height)
	}
	if !got.NoColor {
		t.Fatal("NO_COLOR ignored")
	}
	if err := validateConfig(got); err != nil {
		t.Fatalf("merged config invalid: %v", err)
	}
}

func TestMergeConfigDefaults(t *testing.T) {
	got := mergeConfig(&Config{}, nil, map[string]bool{}, io.Discard)
	if got.ServerURL != defaultServerURL || got.Direction != defaultDirection || got.Streams != defaultStreams {
		t.Fatalf("defaults = %+v", got)
	}
	if err := validateConfig(got); err != nil {
		t.Fatal(err)
	}
}

func TestValidateConfig(t *testing.T) {
	base := func() *Config {
		return mergeConfig(&Config{}, nil, map[string]bool{}, io.Discard)
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"direction", func(c *Config) { c.Direction = "sideways" }},
		{"duration", func(c *Config) { c.Duration = maxDuration + 1 }},
		{"streams", func(c *Config) { c.Streams = 0 }},
		{"chunk", func(c *Config) { c.ChunkSize = 10 }},
		{"timeout shorter than phase", func(c *Config) { c.Timeout = 5 }},
		{"waveform", func(c *Config) { c.Width = 8 }},
		{"json and ndjson", func(c *Config) { c.JSON, c.NDJSON = true, true }},
		{"server url", func(c *Config) { c.ServerURL = "ftp://example.com" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			if err := validateConfig(c); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()

	cf, err := loadConfigFile(filepath.Join(dir, "missing.yaml"))
	if err != nil || cf != nil {
		t.Fatalf("missing file = %v, %v", cf, err)
	}

	good := filepath.Join(dir, "client.yaml")
	if err := os.WriteFile(good, []byte("default_server: home\nservers:\n  home:\n    url: http://192.168.1.10:8080\n    name: Home\nstreams: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cf, err = loadConfigFile(good)
	if err != nil {
		t.Fatal(err)
	}
	if u, _, ok := resolveServer(cf, ""); !ok || u != "http://192.168.1.10:8080" {
		t.Fatalf("default server = %q %v", u, ok)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("server_url: https://example.com#frag\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfigFile(bad); err == nil {
		t.Fatal("expected fragment in server_url to be rejected")
	}
}

func TestListServersMarksDefault(t *testing.T) {
	var out strings.Builder
	listServers(&out, &ConfigFile{
		DefaultServer: "b",
		Servers: map[string]ServerConfig{
			"a": {URL: "http://a:8080"},
			"b": {URL: "http://b:8080", Name: "Bravo"},
		},
	})
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("output = %q", out.String())
	}
	if !strings.Contains(lines[2], "Bravo") || !strings.HasSuffix(lines[2], "*") {
		t.Fatalf("default not marked: %q", lines[2])
	}
}
