// Package client runs netguardian measurements from Go code.
//
//	c := client.New("https://peer.example.com")
//	check, err := c.Check(ctx)
//	result, err := c.Measure(ctx, client.MeasureOptions{Direction: types.DirectionUpload})
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/saveenergy/netguardian/internal/measure"
	"github.com/saveenergy/netguardian/internal/render"
	"github.com/saveenergy/netguardian/internal/traffic"
	"github.com/saveenergy/netguardian/pkg/diagnostic"
	nerrors "github.com/saveenergy/netguardian/pkg/errors"
	"github.com/saveenergy/netguardian/pkg/types"
)

var (
	ErrDownloadMeasurementFailed = errors.New("download measurement failed")
	ErrUploadMeasurementFailed   = errors.New("upload measurement failed")
)

const (
	checkPhase      = 2 * time.Second
	defaultDuration = 10 * time.Second
	maxDuration     = 300 * time.Second
)

// Client measures against a single peer.
type Client struct {
	serverURL  string
	httpClient *http.Client
	apiKey     string
	streams    int
	chunkSize  int
}

type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient overrides the client used for health checks.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithStreams(n int) Option {
	return func(c *Client) { c.streams = n }
}

func WithChunkSize(n int) Option {
	return func(c *Client) { c.chunkSize = n }
}

func New(serverURL string, opts ...Option) *Client {
	c := &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{},
		streams:    measure.DefaultStreams,
		chunkSize:  measure.DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ServerURL() string {
	return c.serverURL
}

// Healthy probes the peer's /health endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+"/health", nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nerrors.ConnectionFailed("health check", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nerrors.ConnectionFailed(fmt.Sprintf("health check returned %d", resp.StatusCode), nil)
	}
	return nil
}

// MeasureOptions configures one phase.
type MeasureOptions struct {
	Direction types.Direction
	Duration  time.Duration
	// PingSamples probes latency before the transfer; 0 skips it.
	PingSamples int
	// Pipeline receives committed samples. Nil uses a private pipeline.
	Pipeline *render.Pipeline
	Observer measure.SampleObserver
	Analyzer []traffic.Option
	// SessionID is used for the result; empty picks a fresh UUID.
	SessionID string
}

// Measure runs one download or upload phase.
func (c *Client) Measure(ctx context.Context, opts MeasureOptions) (*types.PhaseResult, error) {
	if opts.Direction == "" {
		opts.Direction = types.DirectionDownload
	}
	if opts.Duration <= 0 {
		opts.Duration = defaultDuration
	}
	if opts.Duration > maxDuration {
		opts.Duration = maxDuration
	}

	var sessionOpts []measure.SessionOption
	if opts.Observer != nil {
		sessionOpts = append(sessionOpts, measure.WithObserver(opts.Observer))
	}
	session := measure.NewSession(traffic.NewAnalyzer(opts.Analyzer...), opts.Pipeline, sessionOpts...)
	engine, err := measure.NewEngine(measure.Config{
		ServerURL:   c.serverURL,
		Direction:   opts.Direction,
		Duration:    opts.Duration,
		Streams:     c.streams,
		ChunkSize:   c.chunkSize,
		StreamDelay: 100 * time.Millisecond,
		PingSamples: opts.PingSamples,
		APIKey:      c.apiKey,
		SessionID:   opts.SessionID,
	}, session)
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx)
}

// CheckResult is a short graded probe of the peer.
type CheckResult struct {
	Status         string                     `json:"status"`
	ServerURL      string                     `json:"server_url"`
	LatencyMs      float64                    `json:"latency_ms"`
	JitterMs       float64                    `json:"jitter_ms"`
	DownloadMbps   float64                    `json:"download_mbps"`
	UploadMbps     float64                    `json:"upload_mbps"`
	DurationMs     int64                      `json:"duration_ms"`
	Interpretation *diagnostic.Interpretation `json:"interpretation"`
}

// Check runs a ~5 second health, latency, download and upload probe.
func (c *Client) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()
	if err := c.Healthy(ctx); err != nil {
		return nil, err
	}
	down, up, err := c.both(ctx, checkPhase)
	if err != nil {
		return nil, err
	}
	p := diagnostic.FromResults(down, up)
	return &CheckResult{
		Status:         "ok",
		ServerURL:      c.serverURL,
		LatencyMs:      p.LatencyMs,
		JitterMs:       p.PingJitterMs,
		DownloadMbps:   p.DownloadMbps,
		UploadMbps:     p.UploadMbps,
		DurationMs:     time.Since(start).Milliseconds(),
		Interpretation: diagnostic.Interpret(p),
	}, nil
}

// DiagnoseResult carries both phases and their interpretation.
type DiagnoseResult struct {
	ServerURL      string                     `json:"server_url"`
	Download       *types.PhaseResult         `json:"download"`
	Upload         *types.PhaseResult         `json:"upload"`
	Interpretation *diagnostic.Interpretation `json:"interpretation"`
}

// Diagnose measures both directions for perPhase each.
func (c *Client) Diagnose(ctx context.Context, perPhase time.Duration) (*DiagnoseResult, error) {
	if perPhase <= 0 {
		perPhase = 5 * time.Second
	}
	down, up, err := c.both(ctx, perPhase)
	if err != nil {
		return nil, err
	}
	return &DiagnoseResult{
		ServerURL:      c.serverURL,
		Download:       down,
		Upload:         up,
		Interpretation: diagnostic.Interpret(diagnostic.FromResults(down, up)),
	}, nil
}

func (c *Client) both(ctx context.Context, perPhase time.Duration) (*types.PhaseResult, *types.PhaseResult, error) {
	down, err := c.Measure(ctx, MeasureOptions{
		Direction:   types.DirectionDownload,
		Duration:    perPhase,
		PingSamples: measure.DefaultPingSamples,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDownloadMeasurementFailed, err)
	}
	if down.Stats.TotalBytes == 0 {
		return nil, nil, ErrDownloadMeasurementFailed
	}
	up, err := c.Measure(ctx, MeasureOptions{Direction: types.DirectionUpload, Duration: perPhase})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUploadMeasurementFailed, err)
	}
	if up.Stats.TotalBytes == 0 {
		return nil, nil, ErrUploadMeasurementFailed
	}
	return down, up, nil
}
