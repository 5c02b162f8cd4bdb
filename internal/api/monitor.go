package api

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saveenergy/netguardian/internal/history"
	"github.com/saveenergy/netguardian/internal/live"
	"github.com/saveenergy/netguardian/internal/logging"
	"github.com/saveenergy/netguardian/internal/measure"
	"github.com/saveenergy/netguardian/pkg/types"
)

// TransferObserver sees the bytes the peer serves and receives. client is
// the resolved address of the peer running the transfer.
type TransferObserver interface {
	Begin(dir types.Direction, client string) (end func())
	Record(n int64)
}

// TrafficMonitor folds every active transfer into one server-side session.
// A phase starts when the first transfer begins on an idle server and ends
// when the last one finishes; the finished phase is broadcast and stored.
type TrafficMonitor struct {
	session *measure.Session
	hub     *live.Hub
	store   *history.Store

	mu      sync.Mutex
	active  int
	id      string
	dir     types.Direction
	started time.Time
	clients map[string]int

	logger *logging.Logger
}

func NewTrafficMonitor(session *measure.Session, hub *live.Hub, store *history.Store) *TrafficMonitor {
	return &TrafficMonitor{
		session: session,
		hub:     hub,
		store:   store,
		logger:  logging.NewLogger("monitor"),
	}
}

func (m *TrafficMonitor) Begin(dir types.Direction, client string) func() {
	m.mu.Lock()
	first := m.active == 0
	if first {
		m.session.Reset()
		m.id = uuid.NewString()
		m.dir = dir
		m.started = time.Now()
		m.clients = make(map[string]int)
	}
	m.active++
	m.clients[client]++
	joined := m.clients[client] == 1
	id := m.id
	m.mu.Unlock()

	switch {
	case first:
		m.logger.Info("phase started",
			logging.F("id", id),
			logging.F("direction", dir),
			logging.F("client", client))
		if m.hub != nil {
			m.hub.PhaseStarted(id, dir)
		}
	case joined:
		m.logger.Info("client joined phase", logging.F("id", id), logging.F("client", client))
	}

	var once sync.Once
	return func() { once.Do(m.end) }
}

func (m *TrafficMonitor) Record(n int64) {
	if n <= 0 {
		return
	}
	if _, err := m.session.RecordChunk(n); err != nil {
		m.logger.Debug("record chunk failed", logging.Err(err))
	}
}

// Clients lists the distinct addresses that ran transfers in the current
// phase, or in the last one once it has finished.
func (m *TrafficMonitor) Clients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.clients))
}

// Active reports the number of transfers in flight.
func (m *TrafficMonitor) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *TrafficMonitor) end() {
	m.mu.Lock()
	m.active--
	if m.active > 0 {
		m.mu.Unlock()
		return
	}
	result := &types.PhaseResult{
		SessionID: m.id,
		Direction: m.dir,
		Stats:     m.session.Stats(),
		StartedAt: m.started,
		Duration:  time.Since(m.started),
	}
	if p := m.session.Pipeline(); p != nil {
		result.Samples = p.Snapshot()
	}
	clients := len(m.clients)
	m.mu.Unlock()

	m.logger.Info("phase finished",
		logging.F("id", result.SessionID),
		logging.F("clients", clients),
		logging.F("avg_kbps", result.Stats.AvgKbps),
		logging.F("bytes", result.Stats.TotalBytes))
	if m.hub != nil {
		m.hub.PhaseFinished(result, nil)
	}
	if m.store != nil && result.Stats.TotalBytes > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := m.store.Save(ctx, *result); err != nil {
			m.logger.Warn("store phase failed", logging.Err(err))
		}
	}
}
