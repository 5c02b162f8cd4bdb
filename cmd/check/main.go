// Package check implements `netguardian check`, a short graded probe of a
// peer for scripts and agents.
package check

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/saveenergy/netguardian/pkg/client"
)

const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2

	schemaVersion = "1.1"
)

// Output is what --json prints.
type Output struct {
	SchemaVersion string `json:"schema_version"`
	*client.CheckResult
}

type failure struct {
	SchemaVersion string `json:"schema_version"`
	Error         bool   `json:"error"`
	Code          string `json:"code"`
	Message       string `json:"message"`
}

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr

	runCheckFn = func(ctx context.Context, serverURL, apiKey string) (*client.CheckResult, error) {
		var opts []client.Option
		if apiKey != "" {
			opts = append(opts, client.WithAPIKey(apiKey))
		}
		return client.New(serverURL, opts...).Check(ctx)
	}
)

func Run(args []string, version string) int {
	fs := flag.NewFlagSet("netguardian check", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		serverURL string
		jsonOut   bool
		timeout   time.Duration
		apiKey    string
	)
	fs.StringVar(&serverURL, "server-url", "http://localhost:8080", "Peer URL")
	fs.StringVar(&serverURL, "S", "http://localhost:8080", "Peer URL (short)")
	fs.BoolVar(&jsonOut, "json", false, "Print JSON")
	fs.DurationVar(&timeout, "timeout", 15*time.Second, "Overall timeout")
	fs.StringVar(&apiKey, "api-key", "", "Bearer token sent to the peer")
	fs.Usage = func() { printUsage(stderr) }

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return exitSuccess
		}
		return exitUsage
	}
	if timeout < time.Second || timeout > 5*time.Minute {
		fmt.Fprintln(stderr, "netguardian check: timeout must be between 1s and 5m")
		return exitUsage
	}

	switch rest := fs.Args(); len(rest) {
	case 0:
	case 1:
		serverURL = rest[0]
	default:
		fmt.Fprintln(stderr, "netguardian check: at most one peer URL may be given")
		return exitUsage
	}
	if !isValidServerURL(serverURL) {
		fmt.Fprintf(stderr, "netguardian check: invalid peer URL %q\n", serverURL)
		return exitUsage
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := runCheckFn(ctx, serverURL, apiKey)
	if err != nil {
		if jsonOut {
			_ = json.NewEncoder(stdout).Encode(failure{
				SchemaVersion: schemaVersion,
				Error:         true,
				Code:          "check_failed",
				Message:       err.Error(),
			})
		} else {
			fmt.Fprintf(stderr, "netguardian check: %v\n", err)
		}
		return exitFailure
	}

	if jsonOut {
		if err := json.NewEncoder(stdout).Encode(Output{SchemaVersion: schemaVersion, CheckResult: result}); err != nil {
			fmt.Fprintf(stderr, "netguardian check: encode: %v\n", err)
			return exitFailure
		}
	} else {
		printHuman(stdout, result)
	}

	if in := result.Interpretation; in != nil && (in.Grade == "D" || in.Grade == "F") {
		return exitFailure
	}
	return exitSuccess
}

func printHuman(w io.Writer, r *client.CheckResult) {
	if r.Interpretation != nil {
		fmt.Fprintf(w, "Grade %s: %s\n", r.Interpretation.Grade, r.Interpretation.Summary)
	}
	fmt.Fprintf(w, "  Latency:  %.1f ms (jitter %.1f ms)\n", r.LatencyMs, r.JitterMs)
	fmt.Fprintf(w, "  Download: %.1f Mbps\n", r.DownloadMbps)
	fmt.Fprintf(w, "  Upload:   %.1f Mbps\n", r.UploadMbps)
	if r.Interpretation != nil {
		fmt.Fprintf(w, "  Stability: %s\n", r.Interpretation.StabilityRating)
		if len(r.Interpretation.Concerns) > 0 {
			fmt.Fprintf(w, "  Concerns: %s\n", strings.Join(r.Interpretation.Concerns, ", "))
		}
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: netguardian check [flags] [peer-url]

Runs a health probe, five pings and two 2-second transfers, then grades the link.

Flags:
  -S, --server-url string  Peer URL (default http://localhost:8080)
  --json                   Print JSON
  --timeout duration       Overall timeout (default 15s)
  --api-key string         Bearer token sent to the peer

Exit codes:
  0  grade A to C
  1  grade D or F, or the check failed
  2  usage error
`)
}

func isValidServerURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return false
		}
	}
	return true
}
