package measure

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/saveenergy/netguardian/internal/logging"
	nerrors "github.com/saveenergy/netguardian/pkg/errors"
	"github.com/saveenergy/netguardian/pkg/types"
)

const (
	DefaultChunkSize   = 64 * 1024
	DefaultStreams     = 1
	DefaultPingSamples = 5
	uploadPayloadSize  = 4 * 1024 * 1024
)

type Config struct {
	ServerURL   string
	Direction   types.Direction
	Duration    time.Duration
	Streams     int
	ChunkSize   int
	StreamDelay time.Duration
	PingSamples int
	Timeout     time.Duration
	APIKey      string
	// SessionID names the phase; a random UUID is used when empty.
	SessionID string
}

func (c *Config) normalize() error {
	if c.ServerURL == "" {
		return nerrors.InvalidArgument("server url required")
	}
	if _, err := url.ParseRequestURI(c.ServerURL); err != nil {
		return nerrors.InvalidArgument("invalid server url: " + c.ServerURL)
	}
	if !c.Direction.Valid() {
		return nerrors.InvalidArgument(fmt.Sprintf("unsupported direction %q", c.Direction))
	}
	if c.Duration <= 0 {
		return nerrors.InvalidArgument("duration must be positive")
	}
	if c.Streams <= 0 {
		c.Streams = DefaultStreams
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.PingSamples < 0 {
		c.PingSamples = 0
	}
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	} else if _, err := uuid.Parse(c.SessionID); err != nil {
		return nerrors.InvalidArgument("session id must be a UUID")
	}
	c.ServerURL = strings.TrimRight(c.ServerURL, "/")
	return nil
}

// Engine drives one transfer phase against a peer.
type Engine struct {
	config        Config
	client        *http.Client
	session       *Session
	uploadPayload []byte
	bufferPool    sync.Pool
	running       atomic.Bool
	logger        *logging.Logger
}

func NewEngine(cfg Config, session *Session) (*Engine, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if session == nil {
		session = NewSession(nil, nil)
	}
	e := &Engine{
		config: cfg,
		client: &http.Client{
			Transport: &http.Transport{DisableCompression: true},
			Timeout:   cfg.Timeout,
		},
		session: session,
		logger:  logging.NewLogger("measure"),
	}
	chunk := cfg.ChunkSize
	e.bufferPool.New = func() interface{} {
		return make([]byte, chunk)
	}
	if cfg.Direction == types.DirectionUpload {
		e.uploadPayload = make([]byte, max(uploadPayloadSize, cfg.ChunkSize))
		_, _ = rand.Read(e.uploadPayload)
	}
	return e, nil
}

func (e *Engine) Session() *Session {
	return e.session
}

func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// Run resets the session, probes latency and transfers until the configured
// duration elapses or ctx is cancelled.
func (e *Engine) Run(ctx context.Context) (*types.PhaseResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, errors.New("phase already running")
	}
	defer e.running.Store(false)

	result := &types.PhaseResult{
		SessionID: e.config.SessionID,
		Direction: e.config.Direction,
		ServerURL: e.config.ServerURL,
		StartedAt: time.Now(),
	}

	if e.config.PingSamples > 0 {
		rtts, err := Ping(ctx, e.client, e.config.ServerURL, e.config.PingSamples, e.authorize)
		if err != nil {
			e.logger.Warn("latency probe failed", logging.Err(err))
		} else if len(rtts) > 0 {
			lat := types.SummarizeLatency(rtts)
			result.Latency = &lat
		}
	}

	e.session.Reset()
	phaseCtx, cancel := context.WithTimeout(ctx, e.config.Duration)
	defer cancel()

	e.logger.Info("phase started",
		logging.F("session_id", result.SessionID),
		logging.F("direction", string(e.config.Direction)),
		logging.F("streams", e.config.Streams))

	var err error
	switch e.config.Direction {
	case types.DirectionDownload:
		err = e.runStreams(phaseCtx, e.download)
	case types.DirectionUpload:
		err = e.runStreams(phaseCtx, e.upload)
	}

	result.Duration = time.Since(result.StartedAt)
	result.Stats = e.session.Stats()
	result.Samples = e.session.Pipeline().Snapshot()
	if err != nil && ctx.Err() == nil {
		return result, err
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	e.logger.Info("phase finished",
		logging.F("session_id", result.SessionID),
		logging.F("avg_kbps", result.Stats.AvgKbps),
		logging.F("total_bytes", result.Stats.TotalBytes))
	return result, nil
}

func (e *Engine) runStreams(ctx context.Context, stream func(context.Context) error) error {
	var wg sync.WaitGroup
	errCh := make(chan error, e.config.Streams)
	for i := 0; i < e.config.Streams; i++ {
		wg.Add(1)
		go func(delay time.Duration) {
			defer wg.Done()
			if delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
			}
			if err := stream(ctx); err != nil && ctx.Err() == nil {
				errCh <- err
			}
		}(time.Duration(i) * e.config.StreamDelay)
	}
	wg.Wait()
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func (e *Engine) download(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.downloadURL(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept-Encoding", "identity")
	e.authorize(req)

	resp, err := e.client.Do(req)
	if err != nil {
		return nerrors.ConnectionFailed("download request", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nerrors.ConnectionFailed("download failed: "+resp.Status, nil)
	}

	buf := e.bufferPool.Get().([]byte)
	defer e.bufferPool.Put(buf)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, rerr := e.session.RecordBuffer(buf[:n]); rerr != nil {
				return rerr
			}
		}
		if err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (e *Engine) upload(ctx context.Context) error {
	for ctx.Err() == nil {
		body := &countingReader{r: bytes.NewReader(e.uploadPayload), record: e.session.RecordChunk}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.ServerURL+"/api/v1/upload", body)
		if err != nil {
			return err
		}
		req.ContentLength = int64(len(e.uploadPayload))
		req.Header.Set("Content-Type", "application/octet-stream")
		e.authorize(req)

		resp, err := e.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return nerrors.ConnectionFailed("upload request", err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nerrors.ConnectionFailed("upload failed: "+resp.Status, nil)
		}
	}
	return nil
}

func (e *Engine) authorize(req *http.Request) {
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}
}

func (e *Engine) downloadURL() string {
	u, _ := url.Parse(e.config.ServerURL + "/api/v1/download")
	q := u.Query()
	q.Set("duration", strconv.Itoa(max(1, int(e.config.Duration.Seconds()+0.5))))
	q.Set("chunk", strconv.Itoa(e.config.ChunkSize))
	u.RawQuery = q.Encode()
	return u.String()
}

// countingReader reports every read to record as it is handed to the
// transport, so upload progress is sampled at socket granularity.
type countingReader struct {
	r      io.Reader
	record func(int64) (types.SessionStats, error)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		if _, rerr := c.record(int64(n)); rerr != nil {
			return n, rerr
		}
	}
	return n, err
}

// Ping measures round trips to the peer's ping endpoint. Failed probes are
// skipped. Each decorate func is applied to every probe request.
func Ping(ctx context.Context, client *http.Client, serverURL string, samples int, decorate ...func(*http.Request)) ([]time.Duration, error) {
	if samples <= 0 {
		return nil, nil
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	pingURL := strings.TrimRight(serverURL, "/") + "/api/v1/ping"
	results := make([]time.Duration, 0, samples)
	for i := 0; i < samples; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pingURL, nil)
		if err != nil {
			return results, err
		}
		for _, fn := range decorate {
			fn(req)
		}
		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			results = append(results, time.Since(start))
		}
	}
	return results, nil
}
