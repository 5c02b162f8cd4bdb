package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/saveenergy/netguardian/internal/logging"
	"github.com/saveenergy/netguardian/internal/render"
	"github.com/saveenergy/netguardian/internal/traffic"
	nerrors "github.com/saveenergy/netguardian/pkg/errors"
)

const envPrefix = "NETGUARDIAN_"

type Config struct {
	Port        string
	BindAddress string
	LogLevel    string

	MaxTestDuration time.Duration
	MaxStreams      int
	ChunkSize       int

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration

	RateLimitPerIP    int
	GlobalRateLimit   int
	TrustProxyHeaders bool
	TrustedProxyCIDRs []string
	AllowedOrigins    []string

	WebSocketPingInterval time.Duration
	MaxViewersPerIP       int

	DataDir          string
	MaxStoredResults int
	HistoryRetention time.Duration

	SurfaceWidth      int
	SurfaceHeight     int
	SurfaceRowPadding int
	FrameFile         string
	FrameTimeout      time.Duration

	SampleCapacity int
	GateInterval   time.Duration
	JitterWindow   int
	WarmupSamples  int
}

func DefaultConfig() *Config {
	return &Config{
		Port:                  "8080",
		BindAddress:           "0.0.0.0",
		LogLevel:              "info",
		MaxTestDuration:       300 * time.Second,
		MaxStreams:            32,
		ChunkSize:             64 * 1024,
		ReadHeaderTimeout:     15 * time.Second,
		IdleTimeout:           60 * time.Second,
		RateLimitPerIP:        100,
		GlobalRateLimit:       1000,
		AllowedOrigins:        []string{"*"},
		WebSocketPingInterval: 30 * time.Second,
		MaxViewersPerIP:       8,
		DataDir:               "./data",
		MaxStoredResults:      10000,
		HistoryRetention:      30 * 24 * time.Hour,
		SurfaceWidth:          720,
		SurfaceHeight:         240,
		FrameTimeout:          render.DefaultFrameTimeout,
		SampleCapacity:        render.DefaultCapacity,
		GateInterval:          traffic.DefaultGateInterval,
		JitterWindow:          traffic.DefaultJitterWindow,
		WarmupSamples:         traffic.DefaultWarmupSamples,
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (skipped when path is empty and the default file does not exist),
// then the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultPath()
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPath is $XDG_CONFIG_HOME/netguardian/config.yaml.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "netguardian", "config.yaml")
}

type fileConfig struct {
	Port              string   `yaml:"port,omitempty"`
	BindAddress       string   `yaml:"bind_address,omitempty"`
	LogLevel          string   `yaml:"log_level,omitempty"`
	MaxTestDuration   string   `yaml:"max_test_duration,omitempty"`
	MaxStreams        int      `yaml:"max_streams,omitempty"`
	ChunkSize         int      `yaml:"chunk_size,omitempty"`
	RateLimitPerIP    int      `yaml:"rate_limit_per_ip,omitempty"`
	GlobalRateLimit   int      `yaml:"global_rate_limit,omitempty"`
	TrustProxyHeaders bool     `yaml:"trust_proxy_headers,omitempty"`
	TrustedProxyCIDRs []string `yaml:"trusted_proxy_cidrs,omitempty"`
	AllowedOrigins    []string `yaml:"allowed_origins,omitempty"`
	PingInterval      string   `yaml:"websocket_ping_interval,omitempty"`
	MaxViewersPerIP   *int     `yaml:"max_viewers_per_ip,omitempty"`
	DataDir           string   `yaml:"data_dir,omitempty"`
	MaxStoredResults  int      `yaml:"max_stored_results,omitempty"`
	HistoryRetention  string   `yaml:"history_retention,omitempty"`

	Surface struct {
		Width        int    `yaml:"width,omitempty"`
		Height       int    `yaml:"height,omitempty"`
		RowPadding   int    `yaml:"row_padding,omitempty"`
		FrameFile    string `yaml:"frame_file,omitempty"`
		FrameTimeout string `yaml:"frame_timeout,omitempty"`
	} `yaml:"surface,omitempty"`

	Analyzer struct {
		SampleCapacity int    `yaml:"sample_capacity,omitempty"`
		GateInterval   string `yaml:"gate_interval,omitempty"`
		JitterWindow   int    `yaml:"jitter_window,omitempty"`
		WarmupSamples  *int   `yaml:"warmup_samples,omitempty"`
	} `yaml:"analyzer,omitempty"`
}

// LoadFile overlays the YAML file at path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return nerrors.InvalidConfig("read config file", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nerrors.InvalidConfig("parse config file", err)
	}

	setString(&c.Port, fc.Port)
	setString(&c.BindAddress, fc.BindAddress)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.DataDir, fc.DataDir)
	setString(&c.FrameFile, fc.Surface.FrameFile)
	setInt(&c.MaxStreams, fc.MaxStreams)
	setInt(&c.ChunkSize, fc.ChunkSize)
	setInt(&c.RateLimitPerIP, fc.RateLimitPerIP)
	setInt(&c.GlobalRateLimit, fc.GlobalRateLimit)
	setInt(&c.MaxStoredResults, fc.MaxStoredResults)
	setInt(&c.SurfaceWidth, fc.Surface.Width)
	setInt(&c.SurfaceHeight, fc.Surface.Height)
	setInt(&c.SurfaceRowPadding, fc.Surface.RowPadding)
	setInt(&c.SampleCapacity, fc.Analyzer.SampleCapacity)
	setInt(&c.JitterWindow, fc.Analyzer.JitterWindow)
	if fc.MaxViewersPerIP != nil {
		c.MaxViewersPerIP = *fc.MaxViewersPerIP
	}
	if fc.Analyzer.WarmupSamples != nil {
		c.WarmupSamples = *fc.Analyzer.WarmupSamples
	}
	if fc.TrustProxyHeaders {
		c.TrustProxyHeaders = true
	}
	if len(fc.AllowedOrigins) > 0 {
		c.AllowedOrigins = fc.AllowedOrigins
	}
	if len(fc.TrustedProxyCIDRs) > 0 {
		c.TrustedProxyCIDRs = fc.TrustedProxyCIDRs
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"max_test_duration", fc.MaxTestDuration, &c.MaxTestDuration},
		{"websocket_ping_interval", fc.PingInterval, &c.WebSocketPingInterval},
		{"history_retention", fc.HistoryRetention, &c.HistoryRetention},
		{"surface.frame_timeout", fc.Surface.FrameTimeout, &c.FrameTimeout},
		{"analyzer.gate_interval", fc.Analyzer.GateInterval, &c.GateInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nerrors.InvalidConfig(fmt.Sprintf("invalid %s %q", d.key, d.raw), err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) LoadFromEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("invalid PORT %q: must be a number", port)
		}
		c.Port = port
	}
	if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
		c.BindAddress = addr
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.DataDir = dataDir
	}
	if trust := os.Getenv("TRUST_PROXY_HEADERS"); trust == "true" || trust == "1" {
		c.TrustProxyHeaders = true
	}
	if cidrs := os.Getenv("TRUSTED_PROXY_CIDRS"); cidrs != "" {
		c.TrustedProxyCIDRs = splitList(cidrs)
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = splitList(origins)
	}
	if frame := os.Getenv(envPrefix + "FRAME_FILE"); frame != "" {
		c.FrameFile = frame
	}

	ints := []struct {
		name string
		dst  *int
		min  int
	}{
		{"MAX_STREAMS", &c.MaxStreams, 1},
		{"RATE_LIMIT_PER_IP", &c.RateLimitPerIP, 1},
		{"GLOBAL_RATE_LIMIT", &c.GlobalRateLimit, 1},
		{"MAX_VIEWERS_PER_IP", &c.MaxViewersPerIP, 0},
		{"MAX_STORED_RESULTS", &c.MaxStoredResults, 1},
		{envPrefix + "CHUNK_SIZE", &c.ChunkSize, 1},
		{envPrefix + "SURFACE_WIDTH", &c.SurfaceWidth, 1},
		{envPrefix + "SURFACE_HEIGHT", &c.SurfaceHeight, 1},
		{envPrefix + "SURFACE_ROW_PADDING", &c.SurfaceRowPadding, 0},
		{envPrefix + "SAMPLE_CAPACITY", &c.SampleCapacity, 2},
		{envPrefix + "JITTER_WINDOW", &c.JitterWindow, 1},
		{envPrefix + "WARMUP_SAMPLES", &c.WarmupSamples, 0},
	}
	for _, e := range ints {
		raw := os.Getenv(e.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < e.min {
			return fmt.Errorf("invalid %s %q: must be an integer >= %d", e.name, raw, e.min)
		}
		*e.dst = v
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"MAX_TEST_DURATION", &c.MaxTestDuration},
		{"WEBSOCKET_PING_INTERVAL", &c.WebSocketPingInterval},
		{envPrefix + "HISTORY_RETENTION", &c.HistoryRetention},
		{envPrefix + "FRAME_TIMEOUT", &c.FrameTimeout},
		{envPrefix + "GATE_INTERVAL", &c.GateInterval},
	}
	for _, e := range durations {
		raw := os.Getenv(e.name)
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid %s %q: must be a positive duration (e.g. 30s)", e.name, raw)
		}
		*e.dst = d
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if p, err := strconv.Atoi(c.Port); err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid port %q: must be 1-65535", c.Port)
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if c.MaxTestDuration <= 0 {
		return fmt.Errorf("max test duration must be > 0")
	}
	if c.MaxStreams <= 0 || c.MaxStreams > 64 {
		return fmt.Errorf("max streams must be 1-64")
	}
	if c.ChunkSize <= 0 || c.ChunkSize > 4*1024*1024 {
		return fmt.Errorf("chunk size must be 1-4194304")
	}
	if c.RateLimitPerIP <= 0 {
		return fmt.Errorf("rate limit per IP must be > 0")
	}
	if c.GlobalRateLimit < c.RateLimitPerIP {
		return fmt.Errorf("global rate limit must be >= rate limit per IP")
	}
	if c.MaxViewersPerIP < 0 {
		return fmt.Errorf("max viewers per IP must be >= 0")
	}
	for _, cidr := range c.TrustedProxyCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid trusted proxy CIDR %q", cidr)
		}
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}
	if c.MaxStoredResults <= 0 {
		return fmt.Errorf("max stored results must be > 0")
	}
	if c.SurfaceWidth <= 0 || c.SurfaceHeight <= 0 {
		return fmt.Errorf("surface size must be positive, got %dx%d", c.SurfaceWidth, c.SurfaceHeight)
	}
	if c.SurfaceRowPadding < 0 {
		return fmt.Errorf("surface row padding cannot be negative")
	}
	if c.SampleCapacity < 2 {
		return fmt.Errorf("sample capacity must be >= 2")
	}
	if c.GateInterval <= 0 {
		return fmt.Errorf("gate interval must be > 0")
	}
	if c.JitterWindow <= 0 {
		return fmt.Errorf("jitter window must be > 0")
	}
	if c.WarmupSamples < 0 {
		return fmt.Errorf("warm-up samples cannot be negative")
	}
	return nil
}

func (c *Config) ListenAddress() string {
	return c.BindAddress + ":" + c.Port
}

// AnalyzerOptions returns the traffic analyzer settings.
func (c *Config) AnalyzerOptions() []traffic.Option {
	return []traffic.Option{
		traffic.WithGateInterval(c.GateInterval),
		traffic.WithJitterWindow(c.JitterWindow),
		traffic.WithWarmupSamples(c.WarmupSamples),
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func splitList(raw string) []string {
	entries := strings.Split(raw, ",")
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if v := strings.TrimSpace(entry); v != "" {
			out = append(out, v)
		}
	}
	return out
}
