package measure_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/saveenergy/netguardian/internal/measure"
	nerrors "github.com/saveenergy/netguardian/pkg/errors"
	"github.com/saveenergy/netguardian/pkg/types"
)

type countingSink struct {
	frames  int
	lastLen int
}

func (c *countingSink) DrawFrame(_ context.Context, samples []float64) error {
	c.frames++
	c.lastLen = len(samples)
	return nil
}

func newPeer(t *testing.T, uploaded *atomic.Int64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /api/v1/download", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		chunk := make([]byte, 16*1024)
		for i := 0; i < 64; i++ {
			if _, err := w.Write(chunk); err != nil {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	})
	mux.HandleFunc("POST /api/v1/upload", func(w http.ResponseWriter, r *http.Request) {
		n, _ := io.Copy(io.Discard, r.Body)
		uploaded.Add(n)
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestEngineDownloadPhase(t *testing.T) {
	var uploaded atomic.Int64
	srv := newPeer(t, &uploaded)

	engine, err := measure.NewEngine(measure.Config{
		ServerURL:   srv.URL + "/",
		Direction:   types.DirectionDownload,
		Duration:    2 * time.Second,
		PingSamples: 3,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.TotalBytes != 64*16*1024 {
		t.Fatalf("TotalBytes = %d, want %d", result.Stats.TotalBytes, 64*16*1024)
	}
	if result.SessionID == "" || result.Direction != types.DirectionDownload {
		t.Fatalf("result = %+v", result)
	}
	if result.Latency == nil || result.Latency.Samples != 3 {
		t.Fatalf("latency = %+v", result.Latency)
	}
	if result.Stats.Samples == 0 || len(result.Samples) == 0 {
		t.Fatal("expected committed samples over a ~320ms transfer")
	}
	if engine.IsRunning() {
		t.Fatal("engine still marked running")
	}
}

func TestEngineUploadPhase(t *testing.T) {
	var uploaded atomic.Int64
	srv := newPeer(t, &uploaded)

	engine, err := measure.NewEngine(measure.Config{
		ServerURL: srv.URL,
		Direction: types.DirectionUpload,
		Duration:  300 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.TotalBytes == 0 {
		t.Fatal("no upload bytes recorded")
	}
	if result.Stats.TotalBytes < uploaded.Load() {
		t.Fatalf("recorded %d bytes, peer received %d", result.Stats.TotalBytes, uploaded.Load())
	}
}

func TestEngineRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  measure.Config
	}{
		{"missing url", measure.Config{Direction: types.DirectionDownload, Duration: time.Second}},
		{"bad direction", measure.Config{ServerURL: "http://localhost", Direction: "sideways", Duration: time.Second}},
		{"zero duration", measure.Config{ServerURL: "http://localhost", Direction: types.DirectionUpload}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := measure.NewEngine(tt.cfg, nil); !nerrors.HasCode(err, nerrors.CodeInvalidArgument) {
				t.Fatalf("expected InvalidArgument, got %v", err)
			}
		})
	}
}

func TestEngineDownloadServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	engine, err := measure.NewEngine(measure.Config{
		ServerURL: srv.URL,
		Direction: types.DirectionDownload,
		Duration:  time.Second,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Run(context.Background()); !nerrors.HasCode(err, nerrors.CodeConnectionFailed) {
		t.Fatalf("expected ConnectionFailed, got %v", err)
	}
}

func TestPingSkipsFailedProbes(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1)%2 == 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rtts, err := measure.Ping(context.Background(), nil, srv.URL, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(rtts) != 2 {
		t.Fatalf("len(rtts) = %d, want 2", len(rtts))
	}
}
