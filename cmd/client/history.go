package client

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/saveenergy/netguardian/internal/history"
	"github.com/saveenergy/netguardian/internal/report"
	"github.com/saveenergy/netguardian/pkg/types"
)

// runHistory lists phases saved by previous measure runs.
func runHistory(args []string) int {
	fs := flag.NewFlagSet("netguardian history", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		limit     int
		direction string
		jsonOut   bool
		chartPath string
		width     int
		height    int
		file      string
	)
	fs.IntVar(&limit, "limit", 10, "Number of phases to show (1-100)")
	fs.StringVar(&direction, "direction", "", "Only show download or upload phases")
	fs.StringVar(&direction, "d", "", "Direction filter (short)")
	fs.BoolVar(&jsonOut, "json", false, "Print JSON")
	fs.StringVar(&chartPath, "chart", "", "Write a PNG chart of average rates to this file")
	fs.IntVar(&width, "width", 800, "Chart width")
	fs.IntVar(&height, "height", 300, "Chart height")
	fs.StringVar(&file, "history-file", "", "History database (default $XDG_DATA_HOME/netguardian/history.db)")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return exitSuccess
		}
		return exitUsage
	}
	if limit < 1 || limit > 100 {
		fmt.Fprintln(stderr, "netguardian history: --limit must be between 1 and 100")
		return exitUsage
	}
	dir := types.Direction(direction)
	if direction != "" && !dir.Valid() {
		fmt.Fprintf(stderr, "netguardian history: invalid direction %q\n", direction)
		return exitUsage
	}

	store, err := history.Open(historyFile(file), history.Options{})
	if err != nil {
		fmt.Fprintf(stderr, "netguardian history: %v\n", err)
		return exitFailure
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	records, err := store.Recent(ctx, limit, dir)
	if err != nil {
		fmt.Fprintf(stderr, "netguardian history: %v\n", err)
		return exitFailure
	}

	if chartPath != "" {
		data, err := report.HistoryChart(records, width, height)
		if err != nil {
			fmt.Fprintf(stderr, "netguardian history: chart: %v\n", err)
			return exitFailure
		}
		if err := os.WriteFile(chartPath, data, 0o644); err != nil {
			fmt.Fprintf(stderr, "netguardian history: %v\n", err)
			return exitFailure
		}
	}

	if jsonOut {
		if err := json.NewEncoder(stdout).Encode(records); err != nil {
			fmt.Fprintf(stderr, "netguardian history: encode: %v\n", err)
			return exitFailure
		}
		return exitSuccess
	}
	printHistory(records)
	return exitSuccess
}

func printHistory(records []history.Record) {
	if len(records) == 0 {
		fmt.Fprintln(stdout, "No measurements recorded yet.")
		return
	}
	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tDIRECTION\tAVG Mbps\tMAX Mbps\tJITTER Mbps\tBYTES\tPEER")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%.2f\t%.2f\t%s\t%s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.Direction,
			types.KbpsToMbps(r.Stats.AvgKbps),
			types.KbpsToMbps(r.Stats.MaxKbps),
			types.KbpsToMbps(r.Stats.JitterKbps),
			formatBytes(r.Stats.TotalBytes),
			r.ServerURL,
		)
	}
	_ = tw.Flush()
}
