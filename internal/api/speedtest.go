package api

import (
	"crypto/rand"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/saveenergy/netguardian/internal/logging"
	"github.com/saveenergy/netguardian/pkg/types"
)

const (
	payloadSize      = 4 * 1024 * 1024
	defaultChunkSize = 64 * 1024
	minChunkSize     = 1024
	maxChunkSize     = 4 * 1024 * 1024
	uploadBufferSize = 256 * 1024
	flushEvery       = 8
)

// SpeedTestHandler serves the transfer endpoints a measurement client runs
// against.
type SpeedTestHandler struct {
	activeDownloads atomic.Int64
	activeUploads   atomic.Int64
	maxConcurrent   int64
	maxDuration     time.Duration
	payload         []byte
	observer        TransferObserver
	resolver        *ClientIPResolver
}

func NewSpeedTestHandler(maxConcurrent int, maxDuration time.Duration) *SpeedTestHandler {
	if maxDuration <= 0 {
		maxDuration = 300 * time.Second
	}
	h := &SpeedTestHandler{
		maxConcurrent: int64(maxConcurrent),
		maxDuration:   maxDuration,
		payload:       make([]byte, payloadSize),
	}
	if _, err := rand.Read(h.payload); err != nil {
		logging.Warn("speedtest: random payload init failed", logging.Err(err))
	}
	return h
}

func (h *SpeedTestHandler) SetObserver(o TransferObserver) {
	h.observer = o
}

func (h *SpeedTestHandler) SetClientIPResolver(resolver *ClientIPResolver) {
	h.resolver = resolver
}

func (h *SpeedTestHandler) begin(r *http.Request, dir types.Direction) func() {
	if h.observer == nil {
		return func() {}
	}
	return h.observer.Begin(dir, h.clientIP(r))
}

func (h *SpeedTestHandler) record(n int64) {
	if h.observer != nil {
		h.observer.Record(n)
	}
}

// Download streams the random payload for ?duration seconds in ?chunk byte
// writes.
func (h *SpeedTestHandler) Download(w http.ResponseWriter, r *http.Request) {
	if v := h.activeDownloads.Add(1); v > h.maxConcurrent {
		h.activeDownloads.Add(-1)
		drainRequestBody(r)
		respondJSON(w, map[string]string{"error": "too many concurrent downloads"}, http.StatusServiceUnavailable)
		return
	}
	defer h.activeDownloads.Add(-1)

	duration, chunkSize, err := h.downloadParams(r)
	if err != nil {
		drainRequestBody(r)
		respondJSON(w, map[string]string{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "no-store")
	flusher, canFlush := w.(http.Flusher)

	end := h.begin(r, types.DirectionDownload)
	defer end()

	deadline := time.Now().Add(duration)
	offset := 0
	for writes := 1; time.Now().Before(deadline); writes++ {
		if r.Context().Err() != nil {
			return
		}
		n, err := writeChunk(w, h.payload, chunkSize, &offset)
		h.record(int64(n))
		if err != nil {
			return
		}
		if canFlush && writes%flushEvery == 0 {
			flusher.Flush()
		}
	}
	if canFlush {
		flusher.Flush()
	}
}

func (h *SpeedTestHandler) downloadParams(r *http.Request) (time.Duration, int, error) {
	q := r.URL.Query()
	duration := 10 * time.Second
	maxSec := int(h.maxDuration.Seconds())
	if raw := q.Get("duration"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d < 1 || d > maxSec {
			return 0, 0, errors.New("duration must be 1-" + strconv.Itoa(maxSec))
		}
		duration = time.Duration(d) * time.Second
	}
	chunk := defaultChunkSize
	if raw := q.Get("chunk"); raw != "" {
		c, err := strconv.Atoi(raw)
		if err != nil || c < minChunkSize || c > maxChunkSize {
			return 0, 0, errors.New("chunk must be " + strconv.Itoa(minChunkSize) + "-" + strconv.Itoa(maxChunkSize))
		}
		chunk = c
	}
	return duration, chunk, nil
}

// Upload consumes the request body and reports what it received.
func (h *SpeedTestHandler) Upload(w http.ResponseWriter, r *http.Request) {
	defer drainRequestBody(r)

	if v := h.activeUploads.Add(1); v > h.maxConcurrent {
		h.activeUploads.Add(-1)
		respondJSON(w, map[string]string{"error": "too many concurrent uploads"}, http.StatusServiceUnavailable)
		return
	}
	defer h.activeUploads.Add(-1)

	end := h.begin(r, types.DirectionUpload)
	defer end()

	start := time.Now()
	deadline := start.Add(h.maxDuration)
	buf := make([]byte, uploadBufferSize)
	var total int64
	for time.Now().Before(deadline) && r.Context().Err() == nil {
		n, err := r.Body.Read(buf)
		total += int64(n)
		h.record(int64(n))
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			respondJSON(w, map[string]string{"error": "upload failed"}, http.StatusInternalServerError)
			return
		}
	}

	elapsed := max(time.Since(start), time.Millisecond)
	respondJSON(w, map[string]any{
		"bytes":       total,
		"duration_ms": elapsed.Milliseconds(),
		"kbps":        float64(total*8) / 1024 / elapsed.Seconds(),
	}, http.StatusOK)
}

func (h *SpeedTestHandler) Ping(w http.ResponseWriter, r *http.Request) {
	drainRequestBody(r)
	clientIP := h.clientIP(r)
	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, map[string]any{
		"pong":      true,
		"timestamp": time.Now().UnixMilli(),
		"client_ip": clientIP,
		"ipv6":      strings.Contains(clientIP, ":"),
	}, http.StatusOK)
}

func (h *SpeedTestHandler) clientIP(r *http.Request) string {
	return h.resolver.FromRequest(r)
}

// writeChunk writes chunkSize bytes from source starting at *offset,
// wrapping as needed, and returns how many bytes were written.
func writeChunk(w io.Writer, source []byte, chunkSize int, offset *int) (int, error) {
	if len(source) == 0 || chunkSize <= 0 {
		return 0, errors.New("invalid chunk source")
	}
	written := 0
	for written < chunkSize {
		if *offset >= len(source) {
			*offset = 0
		}
		n := min(chunkSize-written, len(source)-*offset)
		m, err := w.Write(source[*offset : *offset+n])
		written += m
		*offset += m
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
