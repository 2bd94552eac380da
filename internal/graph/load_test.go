package graph

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"fleet_traffic/internal/domain"
)

const sampleDocument = `{
	"levels": {
		"level1": {
			"vertices": [
				[0.0, 0.0, {"name": "dock"}],
				[4.5, 0.0, {"is_charger": true}],
				[4.5, 3.0, {}],
				[9.0, 3.0]
			],
			"lanes": [
				[0, 1, {"speed_limit": 2}],
				[1, 2, {}],
				[2, 3]
			]
		},
		"level2": {"vertices": [[1, 1, {}]], "lanes": []}
	}
}`

func TestParseDocument(t *testing.T) {
	g, err := Parse([]byte(sampleDocument), "level1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if g.Len() != 4 {
		t.Fatalf("expected 4 vertices, got %d", g.Len())
	}
	dock, _ := g.Vertex(0)
	if dock.Name != "dock" || dock.X != 0 {
		t.Fatalf("unexpected vertex 0: %+v", dock)
	}
	v2, _ := g.Vertex(2)
	if v2.Name != "V2" {
		t.Fatalf("expected default name V2, got %q", v2.Name)
	}
	chargers := g.Chargers()
	if len(chargers) != 1 || chargers[0].ID != 1 {
		t.Fatalf("unexpected chargers: %+v", chargers)
	}
	lane, ok := g.LaneBetween(1, 0)
	if !ok || lane.SpeedLimit != 2 {
		t.Fatalf("unexpected lane 0-1: %+v ok=%t", lane, ok)
	}
	if got := g.ShortestPath(0, 3); !reflect.DeepEqual(got, []domain.VertexID{0, 1, 2, 3}) {
		t.Fatalf("unexpected path: %v", got)
	}
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"not json":       `{"levels":`,
		"missing levels": `{"floors": {}}`,
		"bad vertex":     `{"levels": {"level1": {"vertices": [["a", 0, {}]], "lanes": []}}}`,
		"bad lane":       `{"levels": {"level1": {"vertices": [[0, 0]], "lanes": [[0]]}}}`,
		"dangling lane":  `{"levels": {"level1": {"vertices": [[0, 0], [1, 1]], "lanes": [[0, 7, {}]]}}}`,
		"no vertices":    `{"levels": {"level1": {"vertices": [], "lanes": []}}}`,
		"negative speed": `{"levels": {"level1": {"vertices": [[0, 0], [1, 1]], "lanes": [[0, 1, {"speed_limit": -1}]]}}}`,
		"missing level":  `{"levels": {"level9": {"vertices": [[0, 0]], "lanes": []}}}`,
		"charger flag":   `{"levels": {"level1": {"vertices": [[0, 0, {"is_charger": "yes"}]], "lanes": []}}}`,
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc), "level1"); !errors.Is(err, domain.ErrGraphLoad) {
			t.Fatalf("%s: expected ErrGraphLoad, got %v", name, err)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nav_graph.json")
	if err := os.WriteFile(path, []byte(sampleDocument), 0o644); err != nil {
		t.Fatalf("write graph: %v", err)
	}
	g, err := Load(path, "level2")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if g.Len() != 1 {
		t.Fatalf("expected single vertex level, got %d", g.Len())
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json"), "level1"); !errors.Is(err, domain.ErrGraphLoad) {
		t.Fatalf("expected ErrGraphLoad for missing file, got %v", err)
	}
}
