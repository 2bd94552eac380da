package scenario

import (
	"os"
	"path/filepath"
	"testing"
)

const swap = `
name: swap
description: two agents trade places over one lane
agents:
  - vertex: 0
    destination: 1
  - vertex: 1
    destination: 0
    path: [1, 0]
  - vertex: 2
`

func TestParseScenario(t *testing.T) {
	s, err := Parse([]byte(swap))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Name != "swap" || len(s.Agents) != 3 {
		t.Fatalf("unexpected scenario %+v", s)
	}
	if s.Agents[0].Destination == nil || *s.Agents[0].Destination != 1 || s.Agents[0].Path != nil {
		t.Fatalf("unexpected first agent %+v", s.Agents[0])
	}
	if len(s.Agents[1].Path) != 2 || s.Agents[1].Path[0] != 1 {
		t.Fatalf("unexpected explicit path %+v", s.Agents[1])
	}
	if s.Agents[2].Destination != nil {
		t.Fatalf("idle agent got a destination")
	}
}

func TestParseRejectsBadScenarios(t *testing.T) {
	cases := map[string]string{
		"unknown field":    "agents:\n  - vertex: 0\n    speed: 3\n",
		"negative vertex":  "agents:\n  - vertex: -1\n",
		"path without dst": "agents:\n  - vertex: 0\n    path: [0, 1]\n",
		"not a list":       "agents: 3\n",
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadScenarioFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swap.yaml")
	if err := os.WriteFile(path, []byte(swap), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(s.Agents) != 3 {
		t.Fatalf("agents=%d want=3", len(s.Agents))
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestEmptyScenarioIsValid(t *testing.T) {
	s, err := Parse(nil)
	if err != nil {
		t.Fatalf("parse empty: %v", err)
	}
	if len(s.Agents) != 0 {
		t.Fatalf("expected no agents")
	}
}
