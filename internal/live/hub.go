// Package live pushes session stats and waveform snapshots to websocket
// viewers and serves the latest rendered frame.
package live

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saveenergy/netguardian/internal/logging"
	"github.com/saveenergy/netguardian/pkg/types"
)

const (
	sendQueue    = 16
	writeTimeout = 5 * time.Second
)

// FrameSource exposes the last presented frame.
type FrameSource interface {
	Frame() *image.RGBA
}

type Message struct {
	Type      string              `json:"type"`
	SessionID string              `json:"session_id,omitempty"`
	Direction types.Direction     `json:"direction,omitempty"`
	Stats     *types.SessionStats `json:"stats,omitempty"`
	Samples   []float64           `json:"samples,omitempty"`
	Result    *types.PhaseResult  `json:"result,omitempty"`
	Error     string              `json:"error,omitempty"`
	Time      int64               `json:"time"`
}

// Hub fans messages out to connected viewers. Publishing never blocks on a
// slow viewer; its queue overflows and the message is dropped for it.
type Hub struct {
	upgrader       websocket.Upgrader
	clients        map[*client]struct{}
	allowedOrigins []string
	pingInterval   time.Duration
	frames         FrameSource
	phase          Message
	viewerLimit    int
	viewerKey      func(*http.Request) string
	perKey         map[string]int
	stopCh         chan struct{}
	stopOnce       sync.Once
	wg             sync.WaitGroup
	mu             sync.RWMutex
	logger         *logging.Logger
}

type client struct {
	key  string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func NewHub() *Hub {
	h := &Hub{
		clients:      make(map[*client]struct{}),
		perKey:       make(map[string]int),
		pingInterval: 30 * time.Second,
		stopCh:       make(chan struct{}),
		logger:       logging.NewLogger("live"),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			h.mu.RLock()
			allowed := append([]string(nil), h.allowedOrigins...)
			h.mu.RUnlock()
			return types.OriginAllowed(r.Header.Get("Origin"), r.Host, allowed)
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
	h.startPingLoop()
	return h
}

func (h *Hub) SetAllowedOrigins(origins []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.allowedOrigins = origins
}

func (h *Hub) SetPingInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pingInterval = interval
}

func (h *Hub) SetFrameSource(src FrameSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = src
}

// SetViewerLimit caps concurrent viewers per key(r). A limit <= 0 or a nil
// key removes the cap.
func (h *Hub) SetViewerLimit(limit int, key func(*http.Request) string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.viewerLimit = limit
	h.viewerKey = key
}

// Viewers reports the connected viewers sharing key.
func (h *Hub) Viewers(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.perKey[key]
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and streams messages until the viewer
// disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	key, ok := h.reserve(r)
	if !ok {
		h.logger.Warn("viewer limit reached", logging.F("client", key))
		http.Error(w, "too many viewers", http.StatusTooManyRequests)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.release(key)
		h.logger.Error("websocket upgrade failed", logging.Err(err))
		return
	}
	// Viewers only read; inbound frames matter for disconnect detection.
	conn.SetReadLimit(4096)

	c := &client{key: key, conn: conn, send: make(chan []byte, sendQueue), done: make(chan struct{})}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	phase := h.phase
	h.mu.Unlock()
	h.logger.Debug("viewer connected", logging.F("client", key))

	c.enqueue(mustJSON(Message{Type: "connected", Time: time.Now().Unix()}))
	if phase.Type != "" {
		c.enqueue(mustJSON(phase))
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
}

// reserve counts r against its key's viewer slots before the upgrade.
func (h *Hub) reserve(r *http.Request) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.viewerKey == nil {
		return "", true
	}
	key := h.viewerKey(r)
	if key == "" {
		key = "unknown"
	}
	if h.viewerLimit > 0 && h.perKey[key] >= h.viewerLimit {
		return key, false
	}
	h.perKey[key]++
	return key, true
}

func (h *Hub) release(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releaseLocked(key)
}

func (h *Hub) releaseLocked(key string) {
	if key == "" {
		return
	}
	if h.perKey[key] <= 1 {
		delete(h.perKey, key)
		return
	}
	h.perKey[key]--
}

// HandleFrame serves the last presented frame as PNG.
func (h *Hub) HandleFrame(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	src := h.frames
	h.mu.RUnlock()
	if src == nil {
		http.Error(w, "no surface attached", http.StatusServiceUnavailable)
		return
	}
	frame := src.Frame()
	if frame == nil {
		http.Error(w, "no frame presented yet", http.StatusNotFound)
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, frame); err != nil {
		h.logger.Error("encode frame failed", logging.Err(err))
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

// PublishSample broadcasts a committed sample. Its signature matches
// measure.SampleObserver.
func (h *Hub) PublishSample(stats types.SessionStats, samples []float64) {
	h.broadcast(Message{Type: "sample", Stats: &stats, Samples: samples, Time: time.Now().Unix()})
}

// PhaseStarted announces a new phase; late viewers receive it on connect.
func (h *Hub) PhaseStarted(sessionID string, dir types.Direction) {
	msg := Message{Type: "phase_started", SessionID: sessionID, Direction: dir, Time: time.Now().Unix()}
	h.mu.Lock()
	h.phase = msg
	h.mu.Unlock()
	h.broadcast(msg)
}

// PhaseFinished broadcasts the outcome of a phase.
func (h *Hub) PhaseFinished(result *types.PhaseResult, err error) {
	msg := Message{Type: "phase_finished", Result: result, Time: time.Now().Unix()}
	if result != nil {
		msg.SessionID = result.SessionID
		msg.Direction = result.Direction
	}
	if err != nil {
		msg.Type = "error"
		msg.Error = err.Error()
	}
	h.mu.Lock()
	h.phase = Message{}
	h.mu.Unlock()
	h.broadcast(msg)
}

func (h *Hub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("live message marshal failed", logging.Err(err))
		return
	}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(data) {
			h.logger.Debug("viewer queue full; dropping message", logging.F("type", msg.Type))
		}
	}
}

func (h *Hub) startPingLoop() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		interval := h.getPingInterval()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stopCh:
				return
			case <-ticker.C:
				h.pingClients()
				if next := h.getPingInterval(); next != interval {
					interval = next
					ticker.Reset(interval)
				}
			}
		}
	}()
}

func (h *Hub) getPingInterval() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.pingInterval <= 0 {
		return 30 * time.Second
	}
	return h.pingInterval
}

func (h *Hub) pingClients() {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
			h.remove(c)
		}
	}
}

// Close disconnects every viewer and stops the ping loop.
func (h *Hub) Close() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.mu.Lock()
		targets := make([]*client, 0, len(h.clients))
		for c := range h.clients {
			targets = append(targets, c)
		}
		h.mu.Unlock()
		for _, c := range targets {
			h.remove(c)
		}
	})
	h.wg.Wait()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		h.releaseLocked(c.key)
	}
	h.mu.Unlock()
	c.close()
}

func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func mustJSON(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}
