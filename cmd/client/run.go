// Package client implements `netguardian measure` and `netguardian history`.
package client

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/saveenergy/netguardian/internal/history"
	"github.com/saveenergy/netguardian/internal/live"
	"github.com/saveenergy/netguardian/internal/render"
	"github.com/saveenergy/netguardian/internal/report"
	"github.com/saveenergy/netguardian/internal/surface"
	"github.com/saveenergy/netguardian/pkg/client"
	"github.com/saveenergy/netguardian/pkg/diagnostic"
	"github.com/saveenergy/netguardian/pkg/types"
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr

	// terminalWidth reports the stdout width, or ok=false when stdout is not
	// a terminal.
	terminalWidth = func() (int, bool) {
		fd := int(os.Stdout.Fd())
		if !term.IsTerminal(fd) {
			return 0, false
		}
		w, _, err := term.GetSize(fd)
		if err != nil || w <= 0 {
			return 80, true
		}
		return w, true
	}
)

// Run handles the measure (default) and history verbs.
func Run(args []string, version string) int {
	if len(args) > 0 {
		switch args[0] {
		case "history":
			return runHistory(args[1:])
		case "measure":
			args = args[1:]
		}
	}
	return runMeasure(args)
}

func runMeasure(args []string) int {
	mf, err := parseFlags(args, stdout)
	if errors.Is(err, errHelp) {
		return exitSuccess
	}
	if err != nil {
		fmt.Fprintf(stderr, "netguardian measure: %v\n", err)
		return exitUsage
	}
	cf, err := loadConfigFile(configPath())
	if err != nil {
		fmt.Fprintf(stderr, "netguardian measure: warning: %v\n", err)
	}
	if mf.listServers {
		listServers(stdout, cf)
		return exitSuccess
	}
	cfg := mergeConfig(mf.Config, cf, mf.set, stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if mf.auto {
		alias, s, err := selectFastestServer(ctx, cf)
		if err != nil {
			fmt.Fprintf(stderr, "netguardian measure: %v\n", err)
			return exitFailure
		}
		cfg.ServerURL = s.URL
		if s.APIKey != "" {
			cfg.APIKey = s.APIKey
		}
		if !cfg.Quiet && !cfg.JSON && !cfg.NDJSON {
			fmt.Fprintf(stdout, "Auto-selected %s (%s)\n", alias, s.URL)
		}
	}
	if err := validateConfig(cfg); err != nil {
		fmt.Fprintf(stderr, "netguardian measure: %v\n", err)
		return exitUsage
	}

	out := createFormatter(cfg)
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Timeout)*time.Second)
	defer cancel()

	rep, err := measureOnce(runCtx, cfg, out)
	if err != nil {
		out.FormatError(err)
		if ctx.Err() != nil {
			return exitInterrupt
		}
		return exitFailure
	}
	out.FormatComplete(rep)
	return exitSuccess
}

func createFormatter(cfg *Config) OutputFormatter {
	switch {
	case cfg.JSON:
		return &JSONFormatter{Writer: stdout}
	case cfg.NDJSON:
		return &NDJSONFormatter{Writer: stdout}
	case cfg.Quiet:
		return quietFormatter{}
	case cfg.Plain:
		return NewPlainFormatter(stdout, cfg.Verbose)
	}
	width, ok := terminalWidth()
	if !ok {
		return NewPlainFormatter(stdout, cfg.Verbose)
	}
	return NewInteractiveFormatter(stdout, width, cfg.NoColor, cfg.NoProgress)
}

// measureOnce runs one phase with the waveform attached to an in-memory
// surface, so the final frame can be written out or served live.
func measureOnce(ctx context.Context, cfg *Config, out OutputFormatter) (*Report, error) {
	dir := types.Direction(cfg.Direction)
	duration := time.Duration(cfg.Duration) * time.Second
	id := uuid.NewString()

	pipeline := render.NewPipeline(nil, nil)
	window := surface.NewMemoryWindow()
	surf, err := surface.Attach(pipeline, window, cfg.Width, cfg.Height)
	if err != nil {
		return nil, fmt.Errorf("attach surface: %w", err)
	}
	defer surf.OnSurfaceDestroyed()

	observer := out.FormatSample
	var hub *live.Hub
	if cfg.Live != "" {
		var stopLive func()
		hub, stopLive, err = startLiveView(cfg.Live, window)
		if err != nil {
			return nil, err
		}
		defer stopLive()
		observer = func(stats types.SessionStats, samples []float64) {
			out.FormatSample(stats, samples)
			hub.PublishSample(stats, samples)
		}
		hub.PhaseStarted(id, dir)
	}

	opts := []client.Option{client.WithStreams(cfg.Streams), client.WithChunkSize(cfg.ChunkSize)}
	if cfg.APIKey != "" {
		opts = append(opts, client.WithAPIKey(cfg.APIKey))
	}
	c := client.New(cfg.ServerURL, opts...)
	out.FormatStart(c.ServerURL(), dir, duration)

	result, err := c.Measure(ctx, client.MeasureOptions{
		Direction:   dir,
		Duration:    duration,
		PingSamples: cfg.PingSamples,
		Pipeline:    pipeline,
		Observer:    observer,
		SessionID:   id,
	})
	if hub != nil {
		hub.PhaseFinished(result, err)
	}
	if err != nil {
		return nil, err
	}

	rep := &Report{
		SchemaVersion: SchemaVersion,
		PhaseResult:   result,
		AvgMbps:       types.KbpsToMbps(result.Stats.AvgKbps),
		MaxMbps:       types.KbpsToMbps(result.Stats.MaxKbps),
	}
	if dir == types.DirectionUpload {
		rep.Interpretation = diagnostic.Interpret(diagnostic.FromResults(nil, result))
	} else {
		rep.Interpretation = diagnostic.Interpret(diagnostic.FromResults(result, nil))
	}

	if cfg.PNG != "" {
		if err := writeFrame(cfg.PNG, window.Frame(), dir, result.Stats); err != nil {
			return nil, err
		}
		rep.FramePath = cfg.PNG
	}
	if !cfg.NoHistory {
		if err := saveHistory(ctx, historyFile(cfg.HistoryFile), result); err != nil {
			fmt.Fprintf(stderr, "netguardian measure: warning: history not saved: %v\n", err)
		}
	}
	return rep, nil
}

// startLiveView serves /ws and /frame.png on addr until the returned stop
// func is called.
func startLiveView(addr string, frames live.FrameSource) (*live.Hub, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("live view: %w", err)
	}
	hub := live.NewHub()
	hub.SetFrameSource(frames)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", hub.HandleWS)
	mux.HandleFunc("GET /frame.png", hub.HandleFrame)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	fmt.Fprintf(stderr, "Live view: http://%s/frame.png (websocket /ws)\n", ln.Addr())

	stop := func() {
		hub.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return hub, stop, nil
}

func writeFrame(path string, frame *image.RGBA, dir types.Direction, stats types.SessionStats) error {
	if frame == nil {
		return errors.New("no frame was presented")
	}
	img := image.NewRGBA(frame.Bounds())
	draw.Draw(img, img.Bounds(), frame, frame.Bounds().Min, draw.Src)
	report.AnnotateFrame(img, dir, stats)
	data, err := report.EncodePNG(img)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func historyFile(path string) string {
	if path != "" {
		return path
	}
	return history.DefaultPath()
}

func saveHistory(ctx context.Context, path string, result *types.PhaseResult) error {
	store, err := history.Open(path, history.Options{})
	if err != nil {
		return err
	}
	defer store.Close()
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_, err = store.Save(saveCtx, *result)
	return err
}
