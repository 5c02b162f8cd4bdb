package main

import "testing"

func TestRunDispatch(t *testing.T) {
	oldServer, oldClient, oldCheck, oldMCP := runServer, runClient, runCheck, runMCP
	t.Cleanup(func() {
		runServer, runClient, runCheck, runMCP = oldServer, oldClient, oldCheck, oldMCP
	})

	var got struct {
		target string
		args   []string
	}
	stub := func(name string, code int) func([]string, string) int {
		return func(args []string, _ string) int {
			got.target = name
			got.args = append([]string(nil), args...)
			return code
		}
	}
	runServer = stub("server", 11)
	runClient = stub("client", 12)
	runCheck = stub("check", 13)
	runMCP = func(string) int {
		got.target = "mcp"
		got.args = nil
		return 14
	}

	tests := []struct {
		name       string
		args       []string
		wantTarget string
		wantArgs   []string
		wantExit   int
	}{
		{"default server", nil, "server", nil, 11},
		{"server subcommand", []string{"server", "--port=1"}, "server", []string{"--port=1"}, 11},
		{"measure keeps verb", []string{"measure", "-d", "upload"}, "client", []string{"measure", "-d", "upload"}, 12},
		{"history keeps verb", []string{"history"}, "client", []string{"history"}, 12},
		{"check", []string{"check", "--json"}, "check", []string{"--json"}, 13},
		{"mcp", []string{"mcp"}, "mcp", nil, 14},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got.target, got.args = "", nil
			if code := run(tc.args, "test"); code != tc.wantExit {
				t.Fatalf("exit code = %d, want %d", code, tc.wantExit)
			}
			if got.target != tc.wantTarget {
				t.Fatalf("target = %q, want %q", got.target, tc.wantTarget)
			}
			if len(got.args) != len(tc.wantArgs) {
				t.Fatalf("args = %q, want %q", got.args, tc.wantArgs)
			}
			for i := range got.args {
				if got.args[i] != tc.wantArgs[i] {
					t.Fatalf("args = %q, want %q", got.args, tc.wantArgs)
				}
			}
		})
	}
}

func TestRunHelpVersionAndUnknown(t *testing.T) {
	tests := []struct {
		args []string
		want int
	}{
		{[]string{"help"}, 0},
		{[]string{"--help"}, 0},
		{[]string{"version"}, 0},
		{[]string{"unknown-cmd"}, 2},
		{[]string{"--port=1"}, 2},
	}
	for _, tt := range tests {
		if code := run(tt.args, "test"); code != tt.want {
			t.Errorf("run(%q) = %d, want %d", tt.args, code, tt.want)
		}
	}
}
