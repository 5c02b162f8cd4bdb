// Command loadtest drives many concurrent transfers or live viewers against
// a netguardian peer, to watch how the traffic monitor and waveform behave
// under overlapping phases.
package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type config struct {
	mode        string
	serverURL   string
	apiKey      string
	duration    time.Duration
	concurrency int
	chunkSize   int
	insecure    bool
}

type totals struct {
	sent     atomic.Int64
	recv     atomic.Int64
	messages atomic.Int64
	errors   atomic.Int64
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "loadtest: %v\n", err)
		os.Exit(2)
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.duration)
	defer cancel()

	t := run(ctx, cfg)
	fmt.Println(summary(cfg, t))
}

func parseFlags(args []string) (config, error) {
	var cfg config
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.StringVar(&cfg.mode, "mode", "download", "Mode: download, upload, live")
	fs.StringVar(&cfg.serverURL, "server-url", "http://127.0.0.1:8080", "Peer URL")
	fs.StringVar(&cfg.apiKey, "api-key", "", "Bearer token sent to the peer")
	fs.DurationVar(&cfg.duration, "duration", 10*time.Second, "Test duration (e.g. 10s)")
	fs.IntVar(&cfg.concurrency, "concurrency", 1, "Concurrent workers")
	fs.IntVar(&cfg.chunkSize, "chunk-size", 64*1024, "Upload body and download chunk size in bytes")
	fs.BoolVar(&cfg.insecure, "insecure", false, "Skip TLS verification")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	cfg.serverURL = strings.TrimRight(cfg.serverURL, "/")
	return cfg, validateConfig(cfg)
}

func validateConfig(cfg config) error {
	if cfg.concurrency <= 0 {
		return fmt.Errorf("concurrency must be > 0")
	}
	if cfg.duration <= 0 {
		return fmt.Errorf("duration must be > 0")
	}
	switch cfg.mode {
	case "download", "upload", "live":
	default:
		return fmt.Errorf("invalid mode: %s", cfg.mode)
	}
	u, err := url.Parse(cfg.serverURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server url %q", cfg.serverURL)
	}
	if cfg.chunkSize < 1024 {
		return fmt.Errorf("chunk-size must be >= 1024")
	}
	return nil
}

func run(ctx context.Context, cfg config) *totals {
	t := &totals{}
	hc := &http.Client{}
	if cfg.insecure {
		hc.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			var err error
			switch cfg.mode {
			case "download":
				err = runDownload(ctx, hc, cfg, t)
			case "upload":
				err = runUpload(ctx, hc, cfg, worker, t)
			case "live":
				err = runViewer(ctx, cfg, t)
			}
			if err != nil && ctx.Err() == nil {
				t.errors.Add(1)
			}
		}(i)
	}
	wg.Wait()
	return t
}

func summary(cfg config, t *totals) string {
	seconds := max(cfg.duration.Seconds(), 1)
	return fmt.Sprintf("mode=%s concurrency=%d duration=%s sent_bytes=%d recv_bytes=%d sent_mbps=%.2f recv_mbps=%.2f messages=%d errors=%d",
		cfg.mode,
		cfg.concurrency,
		cfg.duration,
		t.sent.Load(),
		t.recv.Load(),
		float64(t.sent.Load()*8)/seconds/1_000_000,
		float64(t.recv.Load()*8)/seconds/1_000_000,
		t.messages.Load(),
		t.errors.Load(),
	)
}

func authorize(cfg config, h http.Header) {
	if cfg.apiKey != "" {
		h.Set("Authorization", "Bearer "+cfg.apiKey)
	}
}

func runDownload(ctx context.Context, hc *http.Client, cfg config, t *totals) error {
	secs := max(1, int(cfg.duration.Seconds()+0.5))
	target := fmt.Sprintf("%s/api/v1/download?duration=%d&chunk=%d", cfg.serverURL, secs, cfg.chunkSize)
	buf := make([]byte, cfg.chunkSize)
	for ctx.Err() == nil {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		authorize(cfg, req.Header)
		resp, err := hc.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("download: %s", resp.Status)
		}
		for {
			n, err := resp.Body.Read(buf)
			t.recv.Add(int64(n))
			if err != nil {
				break
			}
		}
		resp.Body.Close()
	}
	return nil
}

func runUpload(ctx context.Context, hc *http.Client, cfg config, worker int, t *totals) error {
	payload := make([]byte, cfg.chunkSize)
	fillRandom(payload, worker)
	for ctx.Err() == nil {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.serverURL+"/api/v1/upload", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		authorize(cfg, req.Header)
		resp, err := hc.Do(req)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("upload: %s", resp.Status)
		}
		t.sent.Add(int64(len(payload)))
	}
	return nil
}

func liveURL(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "https://"):
		return "wss://" + strings.TrimPrefix(serverURL, "https://") + "/api/v1/live"
	default:
		return "ws://" + strings.TrimPrefix(serverURL, "http://") + "/api/v1/live"
	}
}

// runViewer holds one live connection open and counts the messages the
// peer pushes.
func runViewer(ctx context.Context, cfg config, t *totals) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: cfg.insecure},
	}
	header := http.Header{}
	authorize(cfg, header)
	conn, _, err := dialer.DialContext(ctx, liveURL(cfg.serverURL), header)
	if err != nil {
		return err
	}
	defer conn.Close()

	// A read error leaves the connection unusable, so the run deadline is
	// the read deadline.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	for ctx.Err() == nil {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil
			}
			return err
		}
		t.messages.Add(1)
		t.recv.Add(int64(len(data)))
	}
	return nil
}

func fillRandom(buf []byte, seed int) {
	r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(seed)))
	for i := range buf {
		buf[i] = byte(r.Intn(256))
	}
}
