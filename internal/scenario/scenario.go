// Package scenario reads YAML files describing an initial fleet: where each
// agent spawns and, optionally, where it is sent.
//
//	name: swap
//	agents:
//	  - vertex: 0
//	    destination: 1
//	  - vertex: 1
//	    destination: 0
//	    path: [1, 0]
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"fleet_traffic/internal/domain"
)

type Scenario struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Agents      []Agent `yaml:"agents"`
}

type Agent struct {
	Vertex      domain.VertexID   `yaml:"vertex"`
	Destination *domain.VertexID  `yaml:"destination"`
	Path        []domain.VertexID `yaml:"path"`
}

func Load(path string) (Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Scenario{}, fmt.Errorf("scenario yaml: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Scenario{}, err
	}
	return s, nil
}

// Validate checks shape only; vertex ranges are checked against the graph
// when the scenario is applied.
func (s Scenario) Validate() error {
	for i, a := range s.Agents {
		if a.Vertex < 0 {
			return fmt.Errorf("scenario agent %d: negative vertex %d", i, a.Vertex)
		}
		if len(a.Path) > 0 && a.Destination == nil {
			return fmt.Errorf("scenario agent %d: path given without destination", i)
		}
		if a.Destination != nil && *a.Destination < 0 {
			return fmt.Errorf("scenario agent %d: negative destination %d", i, *a.Destination)
		}
	}
	return nil
}
