package client

import (
	"io"
	"sync"
	"time"

	"github.com/saveenergy/netguardian/pkg/diagnostic"
	"github.com/saveenergy/netguardian/pkg/types"
)

// OutputFormatter renders one measure run. FormatSample is called from the
// transfer goroutines after every committed sample.
type OutputFormatter interface {
	FormatStart(serverURL string, dir types.Direction, d time.Duration)
	FormatSample(stats types.SessionStats, samples []float64)
	FormatComplete(r *Report)
	FormatError(err error)
}

type JSONFormatter struct {
	Writer io.Writer
}

// NDJSONFormatter emits one line per committed sample and a final line with
// the report.
type NDJSONFormatter struct {
	Writer io.Writer
	mu     sync.Mutex
}

type PlainFormatter struct {
	writer  io.Writer
	verbose bool
}

func NewPlainFormatter(w io.Writer, verbose bool) *PlainFormatter {
	return &PlainFormatter{writer: w, verbose: verbose}
}

type InteractiveFormatter struct {
	writer     io.Writer
	width      int
	noColor    bool
	noProgress bool
	mu         sync.Mutex
	started    time.Time
	duration   time.Duration
}

func NewInteractiveFormatter(w io.Writer, width int, noColor, noProgress bool) *InteractiveFormatter {
	return &InteractiveFormatter{writer: w, width: width, noColor: noColor, noProgress: noProgress}
}

type Config struct {
	Direction   string
	Duration    int
	Streams     int
	ChunkSize   int
	ServerURL   string
	Server      string
	APIKey      string
	Timeout     int
	PingSamples int
	JSON        bool
	NDJSON      bool
	Plain       bool
	Verbose     bool
	Quiet       bool
	NoColor     bool
	NoProgress  bool
	NoHistory   bool
	HistoryFile string
	PNG         string
	Width       int
	Height      int
	Live        string
}

// SchemaVersion is the version of the JSON report. Bump major on breaking
// changes.
const SchemaVersion = "2.0"

// Report is the outcome of one measure run.
type Report struct {
	SchemaVersion string `json:"schema_version"`
	*types.PhaseResult
	AvgMbps        float64                    `json:"avg_mbps"`
	MaxMbps        float64                    `json:"max_mbps"`
	Interpretation *diagnostic.Interpretation `json:"interpretation,omitempty"`
	FramePath      string                     `json:"frame_path,omitempty"`
}

// JSONErrorResponse is the structured error emitted when --json is active.
type JSONErrorResponse struct {
	SchemaVersion string `json:"schema_version"`
	Error         bool   `json:"error"`
	Code          string `json:"code"`
	Message       string `json:"message"`
}
