package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCoordinatorSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	doc := `
[coordinator]
addr = "127.0.0.1:9000"
graph_path = "maps/warehouse.json"
level = "level2"
tick_interval_ms = 250
lane_weight = "distance"
resolve_deadlocks = false
event_buffer = 32

[monitor]
api = "http://127.0.0.1:9000"
refresh_ms = 500
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	c := cfg.Coordinator
	if c.Addr != "127.0.0.1:9000" || c.Level != "level2" || c.TickIntervalMS != 250 || c.LaneWeight != "distance" {
		t.Fatalf("unexpected coordinator config %+v", c)
	}
	if c.ResolveDeadlocks == nil || *c.ResolveDeadlocks {
		t.Fatalf("resolve_deadlocks not decoded: %v", c.ResolveDeadlocks)
	}
	if cfg.Monitor.RefreshMS != 500 {
		t.Fatalf("unexpected monitor config %+v", cfg.Monitor)
	}
	if !cfg.Found || cfg.Path != path {
		t.Fatalf("unexpected path bookkeeping found=%t path=%s", cfg.Found, cfg.Path)
	}
	section, ok := cfg.Raw["coordinator"].(map[string]any)
	if !ok || section["event_buffer"] != int64(32) {
		t.Fatalf("raw map missing coordinator section: %#v", cfg.Raw)
	}
}

func TestLoadMissingFiles(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("missing default config must not fail: %v", err)
	}
	if cfg.Found || cfg.Path != filepath.Join(home, ".fleet", "config.toml") {
		t.Fatalf("unexpected default config %+v", cfg)
	}
	if cfg.Coordinator.ResolveDeadlocks != nil {
		t.Fatalf("defaults must leave resolve_deadlocks unset")
	}

	if _, err := Load(filepath.Join(home, "nope.toml")); err == nil {
		t.Fatalf("expected error for explicit missing path")
	}
}

func TestLoadRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[coordinator\naddr = 1"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	got, err := ExpandHome("~/.fleet/fleet.db")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if got != filepath.Join(home, ".fleet", "fleet.db") {
		t.Fatalf("unexpected expansion %s", got)
	}
	if got, _ := ExpandHome("relative/x.db"); got != "relative/x.db" {
		t.Fatalf("relative path changed to %s", got)
	}
}
