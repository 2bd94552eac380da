package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Monitor     MonitorConfig     `toml:"monitor"`
	Raw         map[string]any    `toml:"-"`
	Path        string            `toml:"-"`
	// Found is false when the default file was absent and defaults apply.
	Found bool `toml:"-"`
}

type CoordinatorConfig struct {
	Addr             string `toml:"addr"`
	DBPath           string `toml:"db_path"`
	GraphPath        string `toml:"graph_path"`
	Level            string `toml:"level"`
	TickIntervalMS   int    `toml:"tick_interval_ms"`
	EventLogDir      string `toml:"event_log_dir"`
	ScenarioPath     string `toml:"scenario_path"`
	LaneWeight       string `toml:"lane_weight"`
	ResolveDeadlocks *bool  `toml:"resolve_deadlocks"`
	EventBuffer      int    `toml:"event_buffer"`
}

type MonitorConfig struct {
	API       string `toml:"api"`
	RefreshMS int    `toml:"refresh_ms"`
}

// Load reads path, or ~/.fleet/config.toml when path is empty. A missing
// default file yields an empty Config; a missing explicit path is an error.
func Load(path string) (Config, error) {
	resolved := path
	if resolved == "" {
		resolved = defaultConfigPath()
	}
	resolved, err := ExpandHome(resolved)
	if err != nil {
		return Config{}, err
	}
	resolved = filepath.Clean(resolved)

	bytes, err := os.ReadFile(resolved)
	if err != nil {
		if path == "" && errors.Is(err, fs.ErrNotExist) {
			return Config{Path: resolved}, nil
		}
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(bytes), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	var raw map[string]any
	if _, err := toml.Decode(string(bytes), &raw); err != nil {
		return Config{}, fmt.Errorf("decode raw config: %w", err)
	}
	cfg.Raw = raw
	cfg.Path = resolved
	cfg.Found = true
	return cfg, nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	trimmed := strings.TrimPrefix(p, "~")
	trimmed = strings.TrimPrefix(trimmed, "\\")
	trimmed = strings.TrimPrefix(trimmed, "/")
	return filepath.Join(home, trimmed), nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fleet/config.toml"
	}
	return filepath.Join(home, ".fleet", "config.toml")
}
