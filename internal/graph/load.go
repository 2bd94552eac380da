package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"fleet_traffic/internal/domain"
)

const fileSchemaJSON = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["levels"],
	"properties": {
		"levels": {
			"type": "object",
			"minProperties": 1,
			"additionalProperties": {"$ref": "#/definitions/level"}
		}
	},
	"definitions": {
		"level": {
			"type": "object",
			"required": ["vertices", "lanes"],
			"properties": {
				"vertices": {"type": "array", "items": {"$ref": "#/definitions/vertex"}},
				"lanes": {"type": "array", "items": {"$ref": "#/definitions/lane"}}
			}
		},
		"vertex": {
			"type": "array",
			"minItems": 2,
			"maxItems": 3,
			"items": [
				{"type": "number"},
				{"type": "number"},
				{
					"type": "object",
					"properties": {
						"name": {"type": "string"},
						"is_charger": {"type": "boolean"}
					}
				}
			]
		},
		"lane": {
			"type": "array",
			"minItems": 2,
			"maxItems": 3,
			"items": [
				{"type": "integer", "minimum": 0},
				{"type": "integer", "minimum": 0},
				{
					"type": "object",
					"properties": {
						"speed_limit": {"type": "integer", "minimum": 0}
					}
				}
			]
		}
	}
}`

var fileSchema = jsonschema.MustCompileString("graph.schema.json", fileSchemaJSON)

type vertexAttrs struct {
	Name      *string `json:"name"`
	IsCharger bool    `json:"is_charger"`
}

type laneAttrs struct {
	SpeedLimit int `json:"speed_limit"`
}

type levelFile struct {
	Vertices [][]json.RawMessage `json:"vertices"`
	Lanes    [][]json.RawMessage `json:"lanes"`
}

type documentFile struct {
	Levels map[string]levelFile `json:"levels"`
}

// Load reads a navigation graph document and builds the named level.
func Load(path, level string, opts ...Option) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrGraphLoad, path, err)
	}
	return Parse(data, level, opts...)
}

// Parse validates a navigation graph document and builds the named level.
// Vertex ids are array positions; missing names default to V<id>.
func Parse(data []byte, level string, opts ...Option) (*Graph, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", domain.ErrGraphLoad, err)
	}
	if err := fileSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGraphLoad, err)
	}

	var doc documentFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode document: %v", domain.ErrGraphLoad, err)
	}
	lvl, ok := doc.Levels[level]
	if !ok {
		return nil, fmt.Errorf("%w: level %q not found (have %v)", domain.ErrGraphLoad, level, levelNames(doc))
	}

	vertices := make([]domain.Vertex, 0, len(lvl.Vertices))
	for idx, item := range lvl.Vertices {
		v := domain.Vertex{ID: domain.VertexID(idx), Name: fmt.Sprintf("V%d", idx)}
		if err := json.Unmarshal(item[0], &v.X); err != nil {
			return nil, fmt.Errorf("%w: vertex %d x: %v", domain.ErrGraphLoad, idx, err)
		}
		if err := json.Unmarshal(item[1], &v.Y); err != nil {
			return nil, fmt.Errorf("%w: vertex %d y: %v", domain.ErrGraphLoad, idx, err)
		}
		if len(item) > 2 {
			var attrs vertexAttrs
			if err := json.Unmarshal(item[2], &attrs); err != nil {
				return nil, fmt.Errorf("%w: vertex %d attributes: %v", domain.ErrGraphLoad, idx, err)
			}
			if attrs.Name != nil && *attrs.Name != "" {
				v.Name = *attrs.Name
			}
			v.IsCharger = attrs.IsCharger
		}
		vertices = append(vertices, v)
	}

	lanes := make([]domain.Lane, 0, len(lvl.Lanes))
	for idx, item := range lvl.Lanes {
		var lane domain.Lane
		if err := json.Unmarshal(item[0], &lane.Start); err != nil {
			return nil, fmt.Errorf("%w: lane %d start: %v", domain.ErrGraphLoad, idx, err)
		}
		if err := json.Unmarshal(item[1], &lane.End); err != nil {
			return nil, fmt.Errorf("%w: lane %d end: %v", domain.ErrGraphLoad, idx, err)
		}
		if len(item) > 2 {
			var attrs laneAttrs
			if err := json.Unmarshal(item[2], &attrs); err != nil {
				return nil, fmt.Errorf("%w: lane %d attributes: %v", domain.ErrGraphLoad, idx, err)
			}
			lane.SpeedLimit = attrs.SpeedLimit
		}
		lanes = append(lanes, lane)
	}

	return New(vertices, lanes, opts...)
}

func levelNames(doc documentFile) []string {
	names := make([]string, 0, len(doc.Levels))
	for name := range doc.Levels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
