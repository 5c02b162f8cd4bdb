// Package server implements `netguardian server`: the speed test peer with
// its live waveform view and phase history.
package server

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/saveenergy/netguardian/internal/api"
	"github.com/saveenergy/netguardian/internal/config"
	"github.com/saveenergy/netguardian/internal/history"
	"github.com/saveenergy/netguardian/internal/live"
	"github.com/saveenergy/netguardian/internal/logging"
	"github.com/saveenergy/netguardian/internal/measure"
	"github.com/saveenergy/netguardian/internal/render"
	"github.com/saveenergy/netguardian/internal/surface"
	"github.com/saveenergy/netguardian/internal/traffic"
)

const shutdownTimeout = 30 * time.Second

type serverFlagValues struct {
	configPath      string
	port            string
	bind            string
	logLevel        string
	dataDir         string
	maxTestDuration string
	allowedOrigins  string
	trustProxy      bool
	frameFile       string
	surfaceWidth    int
	surfaceHeight   int
	rowPadding      int
	pprofAddr       string
	statsInterval   string
}

func buildServerFlagSet(cfg *config.Config) (*flag.FlagSet, *serverFlagValues) {
	fs := flag.NewFlagSet("netguardian server", flag.ContinueOnError)
	fv := &serverFlagValues{}
	fs.StringVar(&fv.configPath, "config", "", "YAML config file (default "+config.DefaultPath()+" if present)")
	fs.StringVar(&fv.port, "port", cfg.Port, "HTTP port")
	fs.StringVar(&fv.bind, "bind", cfg.BindAddress, "Bind address")
	fs.StringVar(&fv.logLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&fv.dataDir, "data-dir", cfg.DataDir, "Directory for the history database")
	fs.StringVar(&fv.maxTestDuration, "max-test-duration", cfg.MaxTestDuration.String(), "Longest download a client may request")
	fs.StringVar(&fv.allowedOrigins, "allowed-origins", strings.Join(cfg.AllowedOrigins, ","), "Comma separated browser origins")
	fs.BoolVar(&fv.trustProxy, "trust-proxy-headers", cfg.TrustProxyHeaders, "Honor X-Forwarded-For from trusted proxies")
	fs.StringVar(&fv.frameFile, "frame-file", cfg.FrameFile, "Present frames into this file instead of memory")
	fs.IntVar(&fv.surfaceWidth, "surface-width", cfg.SurfaceWidth, "Waveform width in pixels")
	fs.IntVar(&fv.surfaceHeight, "surface-height", cfg.SurfaceHeight, "Waveform height in pixels")
	fs.IntVar(&fv.rowPadding, "surface-row-padding", cfg.SurfaceRowPadding, "Extra bytes per framebuffer row")
	fs.StringVar(&fv.pprofAddr, "pprof-addr", "", "Serve net/http/pprof on this address")
	fs.StringVar(&fv.statsInterval, "runtime-stats-interval", "0s", "Log runtime stats at this interval (0 disables)")
	return fs, fv
}

// applyServerFlagOverrides copies explicitly set flags onto cfg. Durations
// are parsed before anything is assigned so a bad value leaves cfg intact.
func applyServerFlagOverrides(cfg *config.Config, fs *flag.FlagSet, fv *serverFlagValues) error {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var maxTest time.Duration
	if set["max-test-duration"] {
		d, err := time.ParseDuration(fv.maxTestDuration)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid --max-test-duration %q", fv.maxTestDuration)
		}
		maxTest = d
	}
	if _, err := parseStatsInterval(fv.statsInterval); err != nil {
		return err
	}

	if set["port"] {
		cfg.Port = fv.port
	}
	if set["bind"] {
		cfg.BindAddress = fv.bind
	}
	if set["log-level"] {
		cfg.LogLevel = fv.logLevel
	}
	if set["data-dir"] {
		cfg.DataDir = fv.dataDir
	}
	if maxTest > 0 {
		cfg.MaxTestDuration = maxTest
	}
	if set["allowed-origins"] {
		var origins []string
		for _, o := range strings.Split(fv.allowedOrigins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.AllowedOrigins = origins
	}
	if set["trust-proxy-headers"] {
		cfg.TrustProxyHeaders = fv.trustProxy
	}
	if set["frame-file"] {
		cfg.FrameFile = fv.frameFile
	}
	if set["surface-width"] {
		cfg.SurfaceWidth = fv.surfaceWidth
	}
	if set["surface-height"] {
		cfg.SurfaceHeight = fv.surfaceHeight
	}
	if set["surface-row-padding"] {
		cfg.SurfaceRowPadding = fv.rowPadding
	}
	return nil
}

func parseStatsInterval(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid --runtime-stats-interval %q", raw)
	}
	return d, nil
}

// peer is the assembled server: HTTP handler plus everything that needs
// closing on shutdown.
type peer struct {
	handler http.Handler
	hub     *live.Hub
	store   *history.Store
	surface *surface.Surface
	window  surface.Window
	monitor *api.TrafficMonitor
}

func newPeer(cfg *config.Config, version string) (*peer, error) {
	store, err := history.Open(filepath.Join(cfg.DataDir, "history.db"), history.Options{
		MaxRecords: cfg.MaxStoredResults,
		Retention:  cfg.HistoryRetention,
	})
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	hub := live.NewHub()
	hub.SetAllowedOrigins(cfg.AllowedOrigins)
	hub.SetPingInterval(cfg.WebSocketPingInterval)

	pipeline := render.NewPipeline(render.NewSampleBuffer(cfg.SampleCapacity), nil)
	pipeline.SetFrameTimeout(cfg.FrameTimeout)

	p := &peer{hub: hub, store: store}
	window, frames, err := openWindow(cfg)
	if err != nil {
		p.close()
		return nil, err
	}
	p.window = window
	hub.SetFrameSource(frames)
	if p.surface, err = surface.Attach(pipeline, window, cfg.SurfaceWidth, cfg.SurfaceHeight); err != nil {
		p.close()
		return nil, fmt.Errorf("attach surface: %w", err)
	}

	session := measure.NewSession(
		traffic.NewAnalyzer(cfg.AnalyzerOptions()...),
		pipeline,
		measure.WithObserver(hub.PublishSample),
	)
	p.monitor = api.NewTrafficMonitor(session, hub, store)

	handler := api.NewHandler(store)
	handler.SetVersion(version)
	router := api.NewRouter(handler, cfg)
	router.SetRateLimiter(cfg)
	router.SetClientIPResolver(api.NewClientIPResolver(cfg))
	router.SetAllowedOrigins(cfg.AllowedOrigins)
	router.SetLiveHub(hub)
	router.SpeedTest().SetObserver(p.monitor)
	p.handler = router.SetupRoutes()
	return p, nil
}

func openWindow(cfg *config.Config) (surface.Window, live.FrameSource, error) {
	if cfg.FrameFile != "" {
		w, err := surface.OpenFileWindow(cfg.FrameFile)
		if err != nil {
			return nil, nil, fmt.Errorf("open frame file: %w", err)
		}
		return w, w, nil
	}
	w := surface.NewMemoryWindow(surface.WithRowPadding(cfg.SurfaceRowPadding))
	return w, w, nil
}

func (p *peer) close() {
	if p.surface != nil {
		p.surface.OnSurfaceDestroyed()
	}
	if fw, ok := p.window.(*surface.FileWindow); ok {
		if err := fw.Close(); err != nil {
			logging.Warn("close frame file", logging.Err(err))
		}
	}
	if p.hub != nil {
		p.hub.Close()
	}
	if p.store != nil {
		p.store.Close()
	}
}

func Run(args []string, version string) int {
	fs, fv := buildServerFlagSet(config.DefaultConfig())
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := config.Load(fv.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "netguardian server: %v\n", err)
		return 1
	}
	if err := applyServerFlagOverrides(cfg, fs, fv); err != nil {
		fmt.Fprintf(os.Stderr, "netguardian server: %v\n", err)
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "netguardian server: invalid configuration: %v\n", err)
		return 1
	}
	level, _ := logging.ParseLevel(cfg.LogLevel)
	logging.Init(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pprofServer := startPprofServer(fv.pprofAddr)
	statsInterval, _ := parseStatsInterval(fv.statsInterval)
	startRuntimeStatsLogger(ctx, statsInterval)

	p, err := newPeer(cfg, version)
	if err != nil {
		logging.Error("server setup failed", logging.Err(err))
		return 1
	}
	defer p.close()

	srv := &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           p.handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Info("server starting",
			logging.F("address", cfg.ListenAddress()),
			logging.F("version", version),
			logging.F("surface", fmt.Sprintf("%dx%d", cfg.SurfaceWidth, cfg.SurfaceHeight)),
			logging.F("frame_file", cfg.FrameFile))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logging.Error("server failed", logging.Err(err))
			return 1
		}
	case <-ctx.Done():
		logging.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("server shutdown error", logging.Err(err))
	}
	shutdownPprofServer(pprofServer, 5*time.Second)
	logging.Info("server stopped")
	return 0
}
