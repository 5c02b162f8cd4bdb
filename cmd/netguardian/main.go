package main

import (
	"fmt"
	"os"
	"strings"

	check "github.com/saveenergy/netguardian/cmd/check"
	client "github.com/saveenergy/netguardian/cmd/client"
	mcpcmd "github.com/saveenergy/netguardian/cmd/mcp"
	server "github.com/saveenergy/netguardian/cmd/server"
)

var version = "dev"

var (
	runServer = server.Run
	runClient = client.Run
	runCheck  = check.Run
	runMCP    = mcpcmd.Run
)

func main() {
	os.Exit(run(os.Args[1:], version))
}

func run(args []string, version string) int {
	if len(args) == 0 {
		return runServer(nil, version)
	}
	switch args[0] {
	case "server":
		return runServer(args[1:], version)
	case "measure", "history":
		return runClient(args, version)
	case "check":
		return runCheck(args[1:], version)
	case "mcp":
		return runMCP(version)
	case "help", "-h", "--help":
		printUsage()
		return 0
	case "version", "--version":
		fmt.Printf("netguardian %s\n", version)
		return 0
	}
	if strings.HasPrefix(args[0], "-") {
		fmt.Fprintf(os.Stderr, "netguardian: flags must follow a command, got %q\n\n", args[0])
	} else {
		fmt.Fprintf(os.Stderr, "netguardian: unknown command %q\n\n", args[0])
	}
	printUsage()
	return 2
}

func printUsage() {
	fmt.Fprint(os.Stdout, `Usage: netguardian <command> [args]

Commands:
  server    Run the speed test peer with live waveform and history (default)
  measure   Measure throughput against a peer
  history   Show phases measured from this machine
  check     Graded five second probe of a peer
  mcp       MCP server on stdio for agents

Examples:
  netguardian server --frame-file /dev/shm/netguardian.fb
  netguardian measure -d upload -t 20 https://peer.example.com
  netguardian history --chart history.png
  netguardian check --json https://peer.example.com
`)
}
