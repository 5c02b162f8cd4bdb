package client

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/saveenergy/netguardian/internal/measure"
)

const (
	exitSuccess   = 0
	exitFailure   = 1
	exitUsage     = 2
	exitInterrupt = 130

	envPrefix = "NETGUARDIAN_"
)

const (
	defaultServerURL   = "http://localhost:8080"
	defaultDirection   = "download"
	defaultDuration    = 10
	defaultStreams     = 4
	defaultChunkSize   = measure.DefaultChunkSize
	defaultTimeout     = 60
	defaultPingSamples = measure.DefaultPingSamples
	defaultWidth       = 720
	defaultHeight      = 240

	maxDuration  = 300
	maxStreams   = 64
	minChunkSize = 1024
	maxChunkSize = 4 * 1024 * 1024
)

var errHelp = errors.New("help requested")

// shortFlags maps single letter aliases to their long names.
var shortFlags = map[string]string{
	"d": "direction",
	"t": "duration",
	"s": "streams",
	"S": "server",
	"v": "verbose",
	"q": "quiet",
	"a": "auto",
	"h": "help",
}

type measureFlags struct {
	*Config
	set         map[string]bool
	auto        bool
	listServers bool
}

func parseFlags(args []string, out io.Writer) (*measureFlags, error) {
	cfg := &Config{}
	mf := &measureFlags{Config: cfg, set: map[string]bool{}}

	fs := flag.NewFlagSet("netguardian measure", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() { printUsage(out) }
	fs.StringVar(&cfg.Direction, "direction", "", "download or upload")
	fs.StringVar(&cfg.Direction, "d", "", "download or upload (short)")
	fs.IntVar(&cfg.Duration, "duration", 0, "Phase length in seconds (1-300)")
	fs.IntVar(&cfg.Duration, "t", 0, "Phase length in seconds (short)")
	fs.IntVar(&cfg.Streams, "streams", 0, "Parallel HTTP transfers (1-64)")
	fs.IntVar(&cfg.Streams, "s", 0, "Parallel HTTP transfers (short)")
	fs.IntVar(&cfg.ChunkSize, "chunk-size", 0, "Read and write size in bytes")
	fs.IntVar(&cfg.PingSamples, "ping", 0, "Latency probes before the phase (0 disables)")
	fs.StringVar(&cfg.Server, "server", "", "Server alias or URL")
	fs.StringVar(&cfg.Server, "S", "", "Server alias or URL (short)")
	fs.StringVar(&cfg.ServerURL, "server-url", "", "Server URL")
	fs.StringVar(&cfg.APIKey, "api-key", "", "Bearer token sent to the peer")
	fs.IntVar(&cfg.Timeout, "timeout", 0, "Overall timeout in seconds")
	fs.BoolVar(&cfg.JSON, "json", false, "Print the report as JSON")
	fs.BoolVar(&cfg.NDJSON, "ndjson", false, "Stream samples and the report as JSON lines")
	fs.BoolVar(&cfg.Plain, "plain", false, "key=value output")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "Print every committed sample")
	fs.BoolVar(&cfg.Verbose, "v", false, "Verbose (short)")
	fs.BoolVar(&cfg.Quiet, "quiet", false, "Errors only")
	fs.BoolVar(&cfg.Quiet, "q", false, "Errors only (short)")
	fs.BoolVar(&cfg.NoColor, "no-color", false, "Disable color")
	fs.BoolVar(&cfg.NoProgress, "no-progress", false, "Disable the live line")
	fs.BoolVar(&cfg.NoHistory, "no-history", false, "Do not save the phase locally")
	fs.StringVar(&cfg.HistoryFile, "history-file", "", "History database path")
	fs.StringVar(&cfg.PNG, "png", "", "Write the final waveform to this PNG file")
	fs.IntVar(&cfg.Width, "width", 0, "Waveform width in pixels")
	fs.IntVar(&cfg.Height, "height", 0, "Waveform height in pixels")
	fs.StringVar(&cfg.Live, "live", "", "Serve a live view on this address, e.g. 127.0.0.1:8090")
	fs.BoolVar(&mf.auto, "auto", false, "Pick the configured server with the lowest latency")
	fs.BoolVar(&mf.auto, "a", false, "Auto-select (short)")
	fs.BoolVar(&mf.listServers, "servers", false, "List configured servers")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, errHelp
		}
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		name := f.Name
		if long, ok := shortFlags[name]; ok {
			name = long
		}
		mf.set[name] = true
	})

	switch rest := fs.Args(); len(rest) {
	case 0:
	case 1:
		target := rest[0]
		if strings.Contains(target, "://") {
			if err := checkServerURL(target); err != nil {
				return nil, err
			}
			cfg.ServerURL = target
			mf.set["server-url"] = true
		} else {
			cfg.Server = target
			mf.set["server"] = true
		}
	default:
		return nil, fmt.Errorf("expected at most one server, got %d", len(rest))
	}
	return mf, nil
}

func validateConfig(c *Config) error {
	if c.Direction != "download" && c.Direction != "upload" {
		return fmt.Errorf("invalid direction %q\n\nUse: netguardian measure -d download  or  -d upload", c.Direction)
	}
	if c.Duration < 1 || c.Duration > maxDuration {
		return fmt.Errorf("invalid duration %d: must be 1-%d seconds", c.Duration, maxDuration)
	}
	if c.Streams < 1 || c.Streams > maxStreams {
		return fmt.Errorf("invalid streams %d: must be 1-%d", c.Streams, maxStreams)
	}
	if c.ChunkSize < minChunkSize || c.ChunkSize > maxChunkSize {
		return fmt.Errorf("invalid chunk size %d: must be %d-%d bytes", c.ChunkSize, minChunkSize, maxChunkSize)
	}
	if c.Timeout < c.Duration {
		return fmt.Errorf("timeout %ds is shorter than the %ds phase", c.Timeout, c.Duration)
	}
	if c.PingSamples < 0 || c.PingSamples > 100 {
		return fmt.Errorf("invalid ping count %d: must be 0-100", c.PingSamples)
	}
	if c.Width < 16 || c.Height < 16 || c.Width > 4096 || c.Height > 4096 {
		return fmt.Errorf("invalid waveform size %dx%d: each side must be 16-4096", c.Width, c.Height)
	}
	if c.JSON && c.NDJSON {
		return errors.New("--json and --ndjson are mutually exclusive")
	}
	return checkServerURL(c.ServerURL)
}

func listServers(w io.Writer, cf *ConfigFile) {
	if cf == nil || len(cf.Servers) == 0 {
		fmt.Fprintf(w, `No servers configured. Add them to %s:

  default_server: home
  servers:
    home:
      url: http://192.168.1.10:8080
      name: "Home lab"
`, configPath())
		return
	}
	aliases := make([]string, 0, len(cf.Servers))
	for alias := range cf.Servers {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	fmt.Fprintf(w, "  %-12s %-20s %s\n", "ALIAS", "NAME", "URL")
	for _, alias := range aliases {
		s := cf.Servers[alias]
		name := s.Name
		if name == "" {
			name = alias
		}
		mark := ""
		if alias == cf.DefaultServer {
			mark = " *"
		}
		fmt.Fprintf(w, "  %-12s %-20s %s%s\n", alias, name, s.URL, mark)
	}
}

type serverLatency struct {
	alias   string
	server  ServerConfig
	latency time.Duration
	err     error
}

// selectFastestServer pings every configured server concurrently and returns
// the one with the lowest median round trip.
func selectFastestServer(ctx context.Context, cf *ConfigFile) (string, ServerConfig, error) {
	if cf == nil || len(cf.Servers) == 0 {
		return "", ServerConfig{}, errors.New("no servers configured for auto-selection")
	}
	results := make(chan serverLatency, len(cf.Servers))
	var wg sync.WaitGroup
	for alias, s := range cf.Servers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			rtts, err := measure.Ping(pctx, nil, s.URL, 3)
			r := serverLatency{alias: alias, server: s, err: err}
			if err == nil && len(rtts) == 0 {
				r.err = errors.New("no replies")
			}
			if r.err == nil {
				sort.Slice(rtts, func(i, j int) bool { return rtts[i] < rtts[j] })
				r.latency = rtts[len(rtts)/2]
			}
			results <- r
		}()
	}
	wg.Wait()
	close(results)

	var best *serverLatency
	for r := range results {
		if r.err != nil {
			continue
		}
		if best == nil || r.latency < best.latency {
			best = &r
		}
	}
	if best == nil {
		return "", ServerConfig{}, errors.New("all servers unreachable")
	}
	return best.alias, best.server, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `Usage: netguardian measure [flags] [server]
       netguardian history [flags]

Measures download or upload throughput against a netguardian peer. Every
committed sample updates the live waveform; the finished phase is saved to
local history.

Server selection:
  netguardian measure <alias|url>
  -S, --server string      Server alias or URL
  --server-url string      Server URL
  -a, --auto               Lowest latency configured server
  --servers                List configured servers

Measurement:
  -d, --direction string   download or upload (default download)
  -t, --duration int       Phase length in seconds, 1-300 (default 10)
  -s, --streams int        Parallel transfers, 1-64 (default 4)
  --chunk-size int         Read and write size in bytes (default 65536)
  --ping int               Latency probes before the phase (default 5)
  --timeout int            Overall timeout in seconds (default 60)
  --api-key string         Bearer token sent to the peer

Output:
  --json | --ndjson | --plain
  -v, --verbose            Print every committed sample
  -q, --quiet              Errors only
  --no-color, --no-progress
  --png file               Write the final waveform as PNG
  --width, --height int    Waveform size (default 720x240)
  --live addr              Serve /ws and /frame.png while measuring
  --no-history             Do not save the phase
  --history-file path      History database (default %s)

Configuration file: %s
Environment: %sSERVER_URL, %sAPI_KEY, %sDIRECTION, %sDURATION, %sSTREAMS, NO_COLOR
`, "$XDG_DATA_HOME/netguardian/history.db", configPath(), envPrefix, envPrefix, envPrefix, envPrefix, envPrefix)
}
