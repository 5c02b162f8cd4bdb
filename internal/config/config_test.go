package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/saveenergy/netguardian/internal/config"
	nerrors "github.com/saveenergy/netguardian/pkg/errors"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := config.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.SampleCapacity != 15 || cfg.GateInterval != 100*time.Millisecond || cfg.JitterWindow != 100 || cfg.WarmupSamples != 5 {
		t.Fatalf("unexpected analyzer defaults: %+v", cfg)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("NETGUARDIAN_SURFACE_WIDTH", "1280")
	t.Setenv("NETGUARDIAN_GATE_INTERVAL", "250ms")
	t.Setenv("NETGUARDIAN_WARMUP_SAMPLES", "0")

	cfg := config.DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "9090" || cfg.LogLevel != "debug" {
		t.Fatalf("port/log level not applied: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.SurfaceWidth != 1280 || cfg.GateInterval != 250*time.Millisecond || cfg.WarmupSamples != 0 {
		t.Fatalf("prefixed settings not applied: %+v", cfg)
	}
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port", "PORT", "http"},
		{"streams", "MAX_STREAMS", "0"},
		{"capacity", "NETGUARDIAN_SAMPLE_CAPACITY", "1"},
		{"duration", "NETGUARDIAN_GATE_INTERVAL", "fast"},
		{"negative duration", "MAX_TEST_DURATION", "-5s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if err := config.DefaultConfig().LoadFromEnv(); err == nil {
				t.Fatalf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
port: "7000"
log_level: warn
history_retention: 72h
surface:
  width: 320
  height: 96
  row_padding: 32
analyzer:
  gate_interval: 50ms
  warmup_samples: 0
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "7000" || cfg.LogLevel != "warn" || cfg.HistoryRetention != 72*time.Hour {
		t.Fatalf("top-level values not applied: %+v", cfg)
	}
	if cfg.SurfaceWidth != 320 || cfg.SurfaceHeight != 96 || cfg.SurfaceRowPadding != 32 {
		t.Fatalf("surface values not applied: %+v", cfg)
	}
	if cfg.GateInterval != 50*time.Millisecond || cfg.WarmupSamples != 0 {
		t.Fatalf("analyzer values not applied: %+v", cfg)
	}
	if cfg.JitterWindow != 100 {
		t.Fatal("unset values should keep defaults")
	}
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	_ = os.WriteFile(bad, []byte("analyzer:\n  gate_interval: soon\n"), 0o600)
	broken := filepath.Join(dir, "broken.yaml")
	_ = os.WriteFile(broken, []byte("port: [unterminated"), 0o600)

	for _, path := range []string{bad, broken, filepath.Join(dir, "missing.yaml")} {
		if err := config.DefaultConfig().LoadFile(path); !nerrors.HasCode(err, nerrors.CodeInvalidConfig) {
			t.Fatalf("%s: expected InvalidConfig, got %v", filepath.Base(path), err)
		}
	}
}

func TestLoadLayersFileThenEnv(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	_ = os.WriteFile(path, []byte("port: \"7000\"\nmax_streams: 8\n"), 0o600)
	t.Setenv("PORT", "7100")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "7100" || cfg.MaxStreams != 8 {
		t.Fatalf("Port = %s MaxStreams = %d", cfg.Port, cfg.MaxStreams)
	}

	if _, err := config.Load(""); err != nil {
		t.Fatalf("missing default file should be skipped: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty port", func(c *config.Config) { c.Port = "" }},
		{"port range", func(c *config.Config) { c.Port = "70000" }},
		{"log level", func(c *config.Config) { c.LogLevel = "loud" }},
		{"surface", func(c *config.Config) { c.SurfaceHeight = 0 }},
		{"capacity", func(c *config.Config) { c.SampleCapacity = 1 }},
		{"rate limits", func(c *config.Config) { c.GlobalRateLimit = 1 }},
		{"viewer cap", func(c *config.Config) { c.MaxViewersPerIP = -1 }},
		{"data dir", func(c *config.Config) { c.DataDir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
