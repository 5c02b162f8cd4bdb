package client

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	URL    string `yaml:"url"`
	Name   string `yaml:"name"`
	APIKey string `yaml:"api_key,omitempty"`
}

type ConfigFile struct {
	DefaultServer string                  `yaml:"default_server,omitempty"`
	Servers       map[string]ServerConfig `yaml:"servers,omitempty"`

	ServerURL   string `yaml:"server_url,omitempty"`
	APIKey      string `yaml:"api_key,omitempty"`
	Direction   string `yaml:"direction,omitempty"`
	Duration    int    `yaml:"duration,omitempty"`
	Streams     int    `yaml:"streams,omitempty"`
	ChunkSize   int    `yaml:"chunk_size,omitempty"`
	Timeout     int    `yaml:"timeout,omitempty"`
	PingSamples int    `yaml:"ping_samples,omitempty"`
	JSON        bool   `yaml:"json,omitempty"`
	Plain       bool   `yaml:"plain,omitempty"`
	Verbose     bool   `yaml:"verbose,omitempty"`
	Quiet       bool   `yaml:"quiet,omitempty"`
	NoColor     bool   `yaml:"no_color,omitempty"`
	NoProgress  bool   `yaml:"no_progress,omitempty"`
	NoHistory   bool   `yaml:"no_history,omitempty"`
	HistoryFile string `yaml:"history_file,omitempty"`
	Width       int    `yaml:"width,omitempty"`
	Height      int    `yaml:"height,omitempty"`
}

// configPath is $XDG_CONFIG_HOME/netguardian/client.yaml.
func configPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "netguardian", "client.yaml")
}

// loadConfigFile returns nil without error when path does not exist.
func loadConfigFile(path string) (*ConfigFile, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cf ConfigFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := validateConfigFile(&cf); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}
	return &cf, nil
}

// resolveServer maps an alias (or the configured default) to a URL and key.
func resolveServer(cf *ConfigFile, alias string) (string, string, bool) {
	if cf == nil {
		return "", "", false
	}
	if alias == "" {
		alias = cf.DefaultServer
	}
	if s, ok := cf.Servers[alias]; ok && alias != "" {
		return s.URL, s.APIKey, true
	}
	return "", "", false
}

// mergeConfig layers defaults, the config file, NETGUARDIAN_* variables and
// explicitly set flags, in that order.
func mergeConfig(flags *Config, cf *ConfigFile, set map[string]bool, warn io.Writer) *Config {
	out := &Config{
		ServerURL:   defaultServerURL,
		Direction:   defaultDirection,
		Duration:    defaultDuration,
		Streams:     defaultStreams,
		ChunkSize:   defaultChunkSize,
		Timeout:     defaultTimeout,
		PingSamples: defaultPingSamples,
		Width:       defaultWidth,
		Height:      defaultHeight,
	}

	if cf != nil {
		if u, key, ok := resolveServer(cf, ""); ok {
			out.ServerURL, out.APIKey = u, key
		}
		if cf.ServerURL != "" && cf.DefaultServer == "" {
			out.ServerURL = cf.ServerURL
		}
		if cf.APIKey != "" && out.APIKey == "" {
			out.APIKey = cf.APIKey
		}
		if cf.Direction != "" {
			out.Direction = cf.Direction
		}
		setPositive(&out.Duration, cf.Duration)
		setPositive(&out.Streams, cf.Streams)
		setPositive(&out.ChunkSize, cf.ChunkSize)
		setPositive(&out.Timeout, cf.Timeout)
		setPositive(&out.PingSamples, cf.PingSamples)
		setPositive(&out.Width, cf.Width)
		setPositive(&out.Height, cf.Height)
		out.JSON = cf.JSON
		out.Plain = cf.Plain
		out.Verbose = cf.Verbose
		out.Quiet = cf.Quiet
		out.NoColor = cf.NoColor
		out.NoProgress = cf.NoProgress
		out.NoHistory = cf.NoHistory
		out.HistoryFile = cf.HistoryFile
	}

	if v := os.Getenv(envPrefix + "SERVER_URL"); v != "" {
		out.ServerURL = v
	}
	if v := os.Getenv(envPrefix + "API_KEY"); v != "" {
		out.APIKey = v
	}
	if v := os.Getenv(envPrefix + "DIRECTION"); v != "" {
		out.Direction = v
	}
	if v := os.Getenv(envPrefix + "HISTORY_FILE"); v != "" {
		out.HistoryFile = v
	}
	for _, e := range []struct {
		name string
		dst  *int
	}{
		{"DURATION", &out.Duration},
		{"STREAMS", &out.Streams},
		{"CHUNK_SIZE", &out.ChunkSize},
		{"TIMEOUT", &out.Timeout},
	} {
		raw := os.Getenv(envPrefix + e.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			fmt.Fprintf(warn, "netguardian: warning: ignoring %s%s=%q (must be an integer)\n", envPrefix, e.name, raw)
			continue
		}
		*e.dst = n
	}
	if os.Getenv("NO_COLOR") != "" {
		out.NoColor = true
	}

	if set["server"] && flags.Server != "" {
		if u, key, ok := resolveServer(cf, flags.Server); ok {
			out.ServerURL = u
			if key != "" {
				out.APIKey = key
			}
		} else {
			out.ServerURL = flags.Server
		}
	}
	if set["server-url"] {
		out.ServerURL = flags.ServerURL
	}
	if set["api-key"] {
		out.APIKey = flags.APIKey
	}
	if set["direction"] {
		out.Direction = flags.Direction
	}
	if set["duration"] {
		out.Duration = flags.Duration
	}
	if set["streams"] {
		out.Streams = flags.Streams
	}
	if set["chunk-size"] {
		out.ChunkSize = flags.ChunkSize
	}
	if set["timeout"] {
		out.Timeout = flags.Timeout
	}
	if set["ping"] {
		out.PingSamples = flags.PingSamples
	}
	if set["width"] {
		out.Width = flags.Width
	}
	if set["height"] {
		out.Height = flags.Height
	}
	for _, b := range []struct {
		name     string
		dst, src *bool
	}{
		{"json", &out.JSON, &flags.JSON},
		{"ndjson", &out.NDJSON, &flags.NDJSON},
		{"plain", &out.Plain, &flags.Plain},
		{"verbose", &out.Verbose, &flags.Verbose},
		{"quiet", &out.Quiet, &flags.Quiet},
		{"no-color", &out.NoColor, &flags.NoColor},
		{"no-progress", &out.NoProgress, &flags.NoProgress},
		{"no-history", &out.NoHistory, &flags.NoHistory},
	} {
		if set[b.name] {
			*b.dst = *b.src
		}
	}
	if set["history-file"] {
		out.HistoryFile = flags.HistoryFile
	}
	out.PNG = flags.PNG
	out.Live = flags.Live
	return out
}

func setPositive(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func validateConfigFile(cf *ConfigFile) error {
	if cf.Direction != "" && cf.Direction != "download" && cf.Direction != "upload" {
		return fmt.Errorf("invalid direction %q (must be download or upload)", cf.Direction)
	}
	if cf.Duration != 0 && (cf.Duration < 1 || cf.Duration > maxDuration) {
		return fmt.Errorf("invalid duration %d (must be 1-%d seconds)", cf.Duration, maxDuration)
	}
	if cf.Streams != 0 && (cf.Streams < 1 || cf.Streams > maxStreams) {
		return fmt.Errorf("invalid streams %d (must be 1-%d)", cf.Streams, maxStreams)
	}
	if cf.ChunkSize != 0 && (cf.ChunkSize < minChunkSize || cf.ChunkSize > maxChunkSize) {
		return fmt.Errorf("invalid chunk size %d (must be %d-%d bytes)", cf.ChunkSize, minChunkSize, maxChunkSize)
	}
	if cf.Timeout < 0 {
		return fmt.Errorf("invalid timeout %d", cf.Timeout)
	}
	if cf.ServerURL != "" {
		if err := checkServerURL(cf.ServerURL); err != nil {
			return err
		}
	}
	for alias, s := range cf.Servers {
		if err := checkServerURL(s.URL); err != nil {
			return fmt.Errorf("server %s: %w", alias, err)
		}
	}
	return nil
}

// checkServerURL accepts absolute http(s) URLs without query or fragment.
func checkServerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid server url %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server url %q: must be http(s)://host", raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("invalid server url %q: query and fragment are not allowed", raw)
	}
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err != nil || n < 1 || n > 65535 {
			return fmt.Errorf("invalid server url %q: bad port", raw)
		}
	}
	return nil
}
