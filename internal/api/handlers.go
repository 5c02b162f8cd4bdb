package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/saveenergy/netguardian/internal/history"
	"github.com/saveenergy/netguardian/internal/logging"
	"github.com/saveenergy/netguardian/internal/report"
	"github.com/saveenergy/netguardian/pkg/types"
)

const (
	maxHistoryLimit = 500
	chartRecords    = 200
	maxChartSide    = 2000
	minChartSide    = 100
)

// Handler serves stored phases.
type Handler struct {
	store   *history.Store
	version string
}

func NewHandler(store *history.Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) SetVersion(version string) {
	h.version = version
}

type VersionResponse struct {
	Version string `json:"version"`
}

type HistoryResponse struct {
	Results []history.Record `json:"results"`
}

func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	version := h.version
	if version == "" {
		version = "dev"
	}
	respondJSON(w, VersionResponse{Version: version}, http.StatusOK)
}

// ListHistory returns the newest phases. Query: limit (1-500), direction.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondJSON(w, map[string]string{"error": "history disabled"}, http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	limit := history.DefaultLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			respondJSON(w, map[string]string{"error": "limit must be 1-" + strconv.Itoa(maxHistoryLimit)}, http.StatusBadRequest)
			return
		}
		limit = n
	}
	dir := types.Direction(q.Get("direction"))
	if dir != "" && !dir.Valid() {
		respondJSON(w, map[string]string{"error": "direction must be download or upload"}, http.StatusBadRequest)
		return
	}

	records, err := h.store.Recent(r.Context(), limit, dir)
	if err != nil {
		logging.Error("history: list failed", logging.Err(err))
		respondJSON(w, map[string]string{"error": "internal error"}, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, HistoryResponse{Results: records}, http.StatusOK)
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondJSON(w, map[string]string{"error": "history disabled"}, http.StatusServiceUnavailable)
		return
	}
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		respondJSON(w, map[string]string{"error": "invalid id"}, http.StatusBadRequest)
		return
	}
	rec, err := h.store.Get(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		respondJSON(w, map[string]string{"error": "not found"}, http.StatusNotFound)
		return
	}
	if err != nil {
		logging.Error("history: get failed", logging.Err(err), logging.F("id", id))
		respondJSON(w, map[string]string{"error": "internal error"}, http.StatusInternalServerError)
		return
	}
	respondJSON(w, rec, http.StatusOK)
}

// HistoryChart renders recent phases as PNG. Query: width, height.
func (h *Handler) HistoryChart(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondJSON(w, map[string]string{"error": "history disabled"}, http.StatusServiceUnavailable)
		return
	}
	width, ok := chartSide(r, "width", report.DefaultWidth)
	if !ok {
		respondJSON(w, map[string]string{"error": "width must be 100-2000"}, http.StatusBadRequest)
		return
	}
	height, ok := chartSide(r, "height", report.DefaultHeight)
	if !ok {
		respondJSON(w, map[string]string{"error": "height must be 100-2000"}, http.StatusBadRequest)
		return
	}

	records, err := h.store.Recent(r.Context(), chartRecords, "")
	if err != nil {
		logging.Error("history: chart query failed", logging.Err(err))
		respondJSON(w, map[string]string{"error": "internal error"}, http.StatusInternalServerError)
		return
	}
	data, err := report.HistoryChart(records, width, height)
	if err != nil {
		logging.Error("history: chart render failed", logging.Err(err))
		respondJSON(w, map[string]string{"error": "internal error"}, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(data); err != nil {
		logging.Debug("history: write chart", logging.Err(err))
	}
}

func chartSide(r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < minChartSide || n > maxChartSide {
		return 0, false
	}
	return n, true
}

func respondJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Warn("JSON response encode failed", logging.Err(err))
	}
}

func drainRequestBody(r *http.Request) {
	if r == nil || r.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, 1<<20))
	_ = r.Body.Close()
}
