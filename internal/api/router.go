// Package api exposes the speed test peer, stored history and the live view
// over HTTP.
package api

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/saveenergy/netguardian/internal/config"
	"github.com/saveenergy/netguardian/internal/live"
	"github.com/saveenergy/netguardian/internal/logging"
	"github.com/saveenergy/netguardian/pkg/types"
)

type Router struct {
	handler        *Handler
	speedtest      *SpeedTestHandler
	hub            *live.Hub
	limiter        *RateLimiter
	allowedOrigins []string
	resolver       *ClientIPResolver
	maxViewers     int
}

// NewRouter wires the transfer endpoints with a concurrency cap of
// MaxStreams transfers per direction for a handful of simultaneous clients.
func NewRouter(handler *Handler, cfg *config.Config) *Router {
	return &Router{
		handler:        handler,
		speedtest:      NewSpeedTestHandler(cfg.MaxStreams*4, cfg.MaxTestDuration),
		allowedOrigins: cfg.AllowedOrigins,
		maxViewers:     cfg.MaxViewersPerIP,
	}
}

func (r *Router) SpeedTest() *SpeedTestHandler {
	return r.speedtest
}

func (r *Router) SetRateLimiter(cfg *config.Config) {
	r.limiter = NewRateLimiter(cfg)
}

func (r *Router) Limiter() *RateLimiter {
	return r.limiter
}

func (r *Router) SetClientIPResolver(resolver *ClientIPResolver) {
	r.resolver = resolver
	r.speedtest.SetClientIPResolver(resolver)
}

func (r *Router) SetLiveHub(hub *live.Hub) {
	r.hub = hub
}

func (r *Router) SetAllowedOrigins(origins []string) {
	r.allowedOrigins = origins
}

func (r *Router) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	v1 := func(method, path string, h http.HandlerFunc) {
		if r.limiter != nil {
			h = applyRateLimit(r.limiter, h)
		}
		mux.HandleFunc(method+" /api/v1"+path, h)
	}

	v1("GET", "/download", r.speedtest.Download)
	v1("POST", "/upload", r.speedtest.Upload)
	v1("GET", "/ping", r.speedtest.Ping)
	v1("GET", "/version", r.handler.GetVersion)

	v1("GET", "/history", r.handler.ListHistory)
	v1("GET", "/history/chart.png", r.handler.HistoryChart)
	v1("GET", "/history/{id}", r.handler.GetHistory)

	if r.hub != nil {
		r.hub.SetViewerLimit(r.maxViewers, r.clientIP)
		v1("GET", "/live", r.hub.HandleWS)
		mux.HandleFunc("GET /frame.png", r.hub.HandleFrame)
	}

	mux.HandleFunc("GET /health", r.HealthCheck)

	var handler http.Handler = mux
	handler = r.CORSMiddleware(handler)
	handler = SecurityHeadersMiddleware(handler)
	handler = r.LoggingMiddleware(handler)
	return handler
}

func (r *Router) HealthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
		logging.Warn("health: write response", logging.Err(err))
	}
}

func (r *Router) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := req.Header.Get("Origin")
		allowed := origin != "" && r.isAllowedOrigin(origin, req.Host)
		if allowed {
			allowOrigin := origin
			if r.allowsAll() {
				allowOrigin = "*"
			}
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
			if allowOrigin != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}
		if req.Method == http.MethodOptions {
			if origin != "" && !allowed {
				respondJSON(w, map[string]string{"error": "origin not allowed"}, http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// isAllowedOrigin never admits cross-origin requests when no origins are
// configured.
func (r *Router) isAllowedOrigin(origin, host string) bool {
	if len(r.allowedOrigins) == 0 {
		return false
	}
	return types.OriginAllowed(origin, host, r.allowedOrigins)
}

func (r *Router) allowsAll() bool {
	for _, o := range r.allowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working through the logging wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// LoggingMiddleware logs API requests except the transfer endpoints.
func (r *Router) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		path := req.URL.Path
		if !strings.HasPrefix(path, "/api/") || skipRateLimitPaths[path] || path == "/api/v1/live" {
			next.ServeHTTP(w, req)
			return
		}
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, req)
		logging.Info("HTTP request",
			logging.F("method", req.Method),
			logging.F("path", path),
			logging.F("status", rw.statusCode),
			logging.F("duration_ms", float64(time.Since(start).Microseconds())/1000),
			logging.F("ip", r.clientIP(req)),
		)
	})
}

func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; img-src 'self' data:; connect-src 'self' ws: wss:")
		next.ServeHTTP(w, r)
	})
}

func (r *Router) clientIP(req *http.Request) string {
	return r.resolver.FromRequest(req)
}
