package server

import (
	"context"
	"errors"
	"net/http"
	_ "net/http/pprof"
	"runtime"
	"time"

	"github.com/saveenergy/netguardian/internal/logging"
)

func startPprofServer(addr string) *http.Server {
	if addr == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.DefaultServeMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logging.Info("pprof server starting", logging.F("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("pprof server failed", logging.Err(err))
		}
	}()
	return srv
}

func shutdownPprofServer(srv *http.Server, timeout time.Duration) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("pprof server shutdown error", logging.Err(err))
	}
}

func startRuntimeStatsLogger(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var mem runtime.MemStats
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			runtime.ReadMemStats(&mem)
			logging.Info("runtime stats",
				logging.F("goroutines", runtime.NumGoroutine()),
				logging.F("heap_alloc_bytes", mem.HeapAlloc),
				logging.F("heap_inuse_bytes", mem.HeapInuse),
				logging.F("gc_count", mem.NumGC),
				logging.F("gc_pause_total_ns", mem.PauseTotalNs))
		}
	}()
}
