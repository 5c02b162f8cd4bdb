// Package history persists finished measurement phases in sqlite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/saveenergy/netguardian/internal/logging"
	nerrors "github.com/saveenergy/netguardian/pkg/errors"
	"github.com/saveenergy/netguardian/pkg/types"
)

const (
	DefaultRetention = 30 * 24 * time.Hour
	DefaultLimit     = 50
	cleanupInterval  = time.Hour
)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("history record not found")

// Record is a stored phase.
type Record struct {
	types.PhaseResult
	CreatedAt time.Time `json:"created_at"`
}

type Options struct {
	MaxRecords int
	Retention  time.Duration
}

type Store struct {
	db        *sql.DB
	opts      Options
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// DefaultPath is where the CLI keeps its own phases:
// $XDG_DATA_HOME/netguardian/history.db.
func DefaultPath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "history.db"
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "netguardian", "history.db")
}

// Open opens or creates the database at dbPath, creating its directory.
func Open(dbPath string, opts Options) (*Store, error) {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(3)
	db.SetMaxIdleConns(2)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	// modernc.org/sqlite takes PRAGMAs as statements, not DSN parameters.
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s := &Store{db: db, opts: opts, stopCh: make(chan struct{})}
	s.cleanup()
	s.wg.Add(1)
	go s.cleanupLoop()
	return s, nil
}

func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		if err := s.db.Close(); err != nil {
			logging.Warn("history store: close failed", logging.Err(err))
		}
	})
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS phases (
		id TEXT PRIMARY KEY,
		direction TEXT NOT NULL,
		server_url TEXT NOT NULL DEFAULT '',
		instant_kbps REAL NOT NULL,
		max_kbps REAL NOT NULL,
		min_kbps REAL NOT NULL,
		avg_kbps REAL NOT NULL,
		jitter_kbps REAL NOT NULL,
		total_bytes INTEGER NOT NULL,
		samples INTEGER NOT NULL,
		degraded INTEGER NOT NULL DEFAULT 0,
		waveform TEXT NOT NULL DEFAULT '[]',
		latency TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		duration_ms INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_phases_created_at ON phases(created_at)`)
	return err
}

// Save stores r and returns its id. A missing SessionID gets a fresh UUID.
func (s *Store) Save(ctx context.Context, r types.PhaseResult) (string, error) {
	if !r.Direction.Valid() {
		return "", nerrors.InvalidArgument(fmt.Sprintf("invalid direction %q", r.Direction))
	}
	id := r.SessionID
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		return "", nerrors.InvalidArgument(fmt.Sprintf("invalid session id %q", id))
	}

	waveform, err := json.Marshal(nonNil(r.Samples))
	if err != nil {
		return "", fmt.Errorf("encode waveform: %w", err)
	}
	latency := ""
	if r.Latency != nil {
		b, err := json.Marshal(r.Latency)
		if err != nil {
			return "", fmt.Errorf("encode latency: %w", err)
		}
		latency = string(b)
	}

	st := r.Stats
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO phases (id, direction, server_url, instant_kbps, max_kbps, min_kbps,
			avg_kbps, jitter_kbps, total_bytes, samples, degraded, waveform, latency,
			started_at, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(r.Direction), r.ServerURL, st.InstantKbps, st.MaxKbps, st.MinKbps,
		st.AvgKbps, st.JitterKbps, st.TotalBytes, st.Samples, st.Degraded, string(waveform), latency,
		r.StartedAt.UTC(), r.Duration.Milliseconds(), time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert phase: %w", err)
	}
	return id, nil
}

const selectColumns = `SELECT id, direction, server_url, instant_kbps, max_kbps, min_kbps,
	avg_kbps, jitter_kbps, total_bytes, samples, degraded, waveform, latency,
	started_at, duration_ms, created_at FROM phases`

func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query phase: %w", err)
	}
	return rec, nil
}

// Recent returns up to limit records, newest first. An empty direction
// matches both.
func (s *Store) Recent(ctx context.Context, limit int, direction types.Direction) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	query := selectColumns
	args := []any{}
	if direction != "" {
		query += ` WHERE direction = ?`
		args = append(args, string(direction))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query phases: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan phase: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec        Record
		direction  string
		waveform   string
		latency    string
		durationMs int64
	)
	st := &rec.Stats
	err := row.Scan(&rec.SessionID, &direction, &rec.ServerURL, &st.InstantKbps, &st.MaxKbps,
		&st.MinKbps, &st.AvgKbps, &st.JitterKbps, &st.TotalBytes, &st.Samples, &st.Degraded,
		&waveform, &latency, &rec.StartedAt, &durationMs, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.Direction = types.Direction(direction)
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	if err := json.Unmarshal([]byte(waveform), &rec.Samples); err != nil {
		return nil, fmt.Errorf("decode waveform: %w", err)
	}
	if latency != "" {
		var lat types.LatencyStats
		if err := json.Unmarshal([]byte(latency), &lat); err != nil {
			return nil, fmt.Errorf("decode latency: %w", err)
		}
		rec.Latency = &lat
	}
	return &rec, nil
}

func (s *Store) cleanup() {
	cutoff := time.Now().UTC().Add(-s.opts.Retention)
	res, err := s.db.Exec(`DELETE FROM phases WHERE created_at < ?`, cutoff)
	if err != nil {
		logging.Warn("history cleanup (age) failed", logging.Err(err))
	} else if n, _ := res.RowsAffected(); n > 0 {
		logging.Info("history cleanup: removed expired", logging.F("count", n))
	}

	if s.opts.MaxRecords > 0 {
		res, err = s.db.Exec(
			`DELETE FROM phases WHERE id NOT IN (
				SELECT id FROM phases ORDER BY created_at DESC LIMIT ?
			)`, s.opts.MaxRecords)
		if err != nil {
			logging.Warn("history cleanup (count) failed", logging.Err(err))
		} else if n, _ := res.RowsAffected(); n > 0 {
			logging.Info("history cleanup: trimmed to max",
				logging.F("removed", n),
				logging.F("max", s.opts.MaxRecords))
		}
	}
}

// Trim runs retention immediately.
func (s *Store) Trim() {
	s.cleanup()
}

func (s *Store) cleanupLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}
