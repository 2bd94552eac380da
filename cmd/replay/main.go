package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fleet_traffic/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.fleet/config.toml)")
	dirFlag := flag.String("dir", "", "zstd event journal directory (default: coordinator event_log_dir)")
	kind := flag.String("kind", "events", "what to replay: events or ticks")
	agentFlag := flag.Int("agent", -1, "only show events for this agent")
	limit := flag.Int("limit", 0, "show only the last N records (0 = all)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	dir := strings.TrimSpace(*dirFlag)
	if dir == "" {
		dir = cfg.Coordinator.EventLogDir
	}
	if dir == "" {
		dir = "data/journal"
	}
	expanded, err := config.ExpandHome(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve journal dir: %v\n", err)
		os.Exit(1)
	}

	opts := replayOptions{kind: *kind, agent: *agentFlag, limit: *limit}
	if err := replay(os.Stdout, filepath.Clean(expanded), opts); err != nil {
		fmt.Fprintf(os.Stderr, "replay failed: %v\n", err)
		os.Exit(1)
	}
}
