// Package mcp implements `netguardian mcp`, an MCP server on stdio so agents
// can run measurements and read past phases.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/saveenergy/netguardian/internal/history"
	"github.com/saveenergy/netguardian/internal/logging"
	"github.com/saveenergy/netguardian/pkg/client"
	"github.com/saveenergy/netguardian/pkg/diagnostic"
	"github.com/saveenergy/netguardian/pkg/types"
)

const defaultServerURL = "http://localhost:8080"

// historyPath is opened by recent_history and written by measure_throughput.
var historyPath = history.DefaultPath

func Run(version string) int {
	logging.Init(logging.LevelWarn)
	s := server.NewMCPServer("netguardian", version, server.WithToolCapabilities(true))
	for _, tool := range ToolDefinitions() {
		s.AddTool(tool, handlers[tool.Name])
	}
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "netguardian mcp: %v\n", err)
		return 1
	}
	return 0
}

var handlers = map[string]server.ToolHandlerFunc{
	"connectivity_check": handleConnectivityCheck,
	"measure_throughput": handleMeasureThroughput,
	"recent_history":     handleRecentHistory,
}

func ToolDefinitions() []mcp.Tool {
	peer := mcp.WithString("server_url", mcp.Description("Peer URL (default http://localhost:8080)"))
	key := mcp.WithString("api_key", mcp.Description("Bearer token sent to the peer"))
	return []mcp.Tool{
		mcp.NewTool("connectivity_check",
			mcp.WithDescription("About five seconds: pings plus short download and upload phases. Returns rates in Mbps, latency, an A-F grade and concerns."),
			peer, key,
		),
		mcp.NewTool("measure_throughput",
			mcp.WithDescription("One download or upload phase. Returns the analyzer statistics in kbps (current, average, min, max, jitter), the last samples and a graded interpretation. The phase is saved to local history."),
			peer, key,
			mcp.WithString("direction", mcp.Description("download or upload (default download)")),
			mcp.WithNumber("duration", mcp.Description("Seconds, 1-60 (default 10)")),
		),
		mcp.NewTool("recent_history",
			mcp.WithDescription("Phases previously measured from this machine, newest first."),
			mcp.WithNumber("limit", mcp.Description("Records to return, 1-100 (default 10)")),
			mcp.WithString("direction", mcp.Description("Only download or upload phases")),
		),
	}
}

func clientFromRequest(fallbackURL string, req mcp.CallToolRequest) *client.Client {
	var opts []client.Option
	if k := strings.TrimSpace(req.GetString("api_key", "")); k != "" {
		opts = append(opts, client.WithAPIKey(k))
	}
	return client.New(req.GetString("server_url", fallbackURL), opts...)
}

func handleConnectivityCheck(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	result, err := clientFromRequest(defaultServerURL, req).Check(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("connectivity check failed: %v", err)), nil
	}
	return jsonResult(result)
}

// MeasureOutput is what measure_throughput returns.
type MeasureOutput struct {
	*types.PhaseResult
	Interpretation *diagnostic.Interpretation `json:"interpretation"`
}

func handleMeasureThroughput(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dir := types.Direction(req.GetString("direction", string(types.DirectionDownload)))
	if !dir.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("direction must be download or upload, got %q", dir)), nil
	}
	seconds := min(max(req.GetInt("duration", 10), 1), 60)

	ctx, cancel := context.WithTimeout(ctx, time.Duration(seconds+15)*time.Second)
	defer cancel()
	result, err := clientFromRequest(defaultServerURL, req).Measure(ctx, client.MeasureOptions{
		Direction:   dir,
		Duration:    time.Duration(seconds) * time.Second,
		PingSamples: 3,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("measurement failed: %v", err)), nil
	}
	saveQuietly(ctx, result)

	down, up := result, (*types.PhaseResult)(nil)
	if dir == types.DirectionUpload {
		down, up = nil, result
	}
	return jsonResult(MeasureOutput{
		PhaseResult:    result,
		Interpretation: diagnostic.Interpret(diagnostic.FromResults(down, up)),
	})
}

func handleRecentHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := min(max(req.GetInt("limit", 10), 1), 100)
	dir := types.Direction(req.GetString("direction", ""))
	if dir != "" && !dir.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("direction must be download or upload, got %q", dir)), nil
	}
	store, err := history.Open(historyPath(), history.Options{})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("open history: %v", err)), nil
	}
	defer store.Close()
	records, err := store.Recent(ctx, limit, dir)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read history: %v", err)), nil
	}
	return jsonResult(map[string]any{"results": records})
}

func saveQuietly(ctx context.Context, result *types.PhaseResult) {
	store, err := history.Open(historyPath(), history.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "netguardian mcp: history unavailable: %v\n", err)
		return
	}
	defer store.Close()
	if _, err := store.Save(ctx, *result); err != nil {
		fmt.Fprintf(os.Stderr, "netguardian mcp: save phase: %v\n", err)
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
