package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/saveenergy/netguardian/internal/api"
)

const testKey = "secret-token"

// newAuthPeer serves the transfer endpoints behind a bearer token check.
func newAuthPeer(t *testing.T) *httptest.Server {
	t.Helper()
	handler := api.NewSpeedTestHandler(10, 300*time.Second)
	guard := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+testKey {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", guard(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	mux.HandleFunc("GET /api/v1/ping", guard(handler.Ping))
	mux.HandleFunc("GET /api/v1/download", guard(handler.Download))
	mux.HandleFunc("POST /api/v1/upload", guard(handler.Upload))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func useTempHistory(t *testing.T) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	orig := historyPath
	historyPath = func() string { return path }
	t.Cleanup(func() { historyPath = orig })
}

func call(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}}
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content = %T", res.Content[0])
	}
	return tc.Text
}

func TestConnectivityCheckUsesAPIKey(t *testing.T) {
	srv := newAuthPeer(t)

	res, err := handleConnectivityCheck(context.Background(), call(map[string]any{"server_url": srv.URL}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("expected tool error without api_key")
	}

	res, err = handleConnectivityCheck(context.Background(), call(map[string]any{"server_url": srv.URL, "api_key": " " + testKey + " "}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("check failed: %s", text(t, res))
	}
}

func TestMeasureThroughputSavesHistory(t *testing.T) {
	useTempHistory(t)
	srv := newAuthPeer(t)

	res, err := handleMeasureThroughput(context.Background(), call(map[string]any{
		"server_url": srv.URL,
		"api_key":    testKey,
		"direction":  "upload",
		"duration":   1,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("measure failed: %s", text(t, res))
	}
	var out struct {
		Direction string `json:"direction"`
		Stats     struct {
			TotalBytes int64 `json:"total_bytes"`
		} `json:"stats"`
		Interpretation struct {
			Grade string `json:"grade"`
		} `json:"interpretation"`
	}
	if err := json.Unmarshal([]byte(text(t, res)), &out); err != nil {
		t.Fatal(err)
	}
	if out.Direction != "upload" || out.Stats.TotalBytes == 0 || out.Interpretation.Grade == "" {
		t.Fatalf("output = %+v", out)
	}

	res, err = handleRecentHistory(context.Background(), call(map[string]any{"direction": "upload"}))
	if err != nil || res.IsError {
		t.Fatalf("history: %v %v", err, res)
	}
	if !strings.Contains(text(t, res), `"direction": "upload"`) {
		t.Fatalf("history missing phase: %s", text(t, res))
	}
}

func TestInvalidDirection(t *testing.T) {
	useTempHistory(t)
	for _, h := range []func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		handleMeasureThroughput, handleRecentHistory,
	} {
		res, err := h(context.Background(), call(map[string]any{"direction": "sideways"}))
		if err != nil {
			t.Fatal(err)
		}
		if !res.IsError {
			t.Fatal("expected tool error")
		}
	}
}

func TestToolDefinitions(t *testing.T) {
	for _, tool := range ToolDefinitions() {
		if _, ok := handlers[tool.Name]; !ok {
			t.Fatalf("tool %s has no handler", tool.Name)
		}
		_, remote := tool.InputSchema.Properties["server_url"]
		if _, ok := tool.InputSchema.Properties["api_key"]; remote && !ok {
			t.Fatalf("tool %s missing api_key property", tool.Name)
		}
		if strings.TrimSpace(tool.Description) == "" {
			t.Fatalf("tool %s missing description", tool.Name)
		}
	}
}
