package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidVertex     = errors.New("invalid vertex")
	ErrUnknownAgent      = errors.New("unknown agent")
	ErrInvalidTask       = errors.New("invalid task")
	ErrGraphLoad         = errors.New("graph load error")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrPathNotFound      = errors.New("path not found")
)

type VertexID int

type AgentID int

type Vertex struct {
	ID        VertexID `json:"id"`
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	Name      string   `json:"name"`
	IsCharger bool     `json:"is_charger"`
}

type Lane struct {
	Start      VertexID `json:"start"`
	End        VertexID `json:"end"`
	SpeedLimit int      `json:"speed_limit"`
}

func (l Lane) Key() LaneKey {
	return NewLaneKey(l.Start, l.End)
}

// LaneKey identifies an undirected lane: A is always the smaller endpoint.
type LaneKey struct {
	A VertexID `json:"a"`
	B VertexID `json:"b"`
}

func NewLaneKey(a, b VertexID) LaneKey {
	if a > b {
		a, b = b, a
	}
	return LaneKey{A: a, B: b}
}

func (k LaneKey) String() string {
	return fmt.Sprintf("%d-%d", k.A, k.B)
}

func (k LaneKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *LaneKey) UnmarshalText(text []byte) error {
	var a, b VertexID
	if _, err := fmt.Sscanf(string(text), "%d-%d", &a, &b); err != nil {
		return fmt.Errorf("parse lane key %q: %w", string(text), err)
	}
	*k = NewLaneKey(a, b)
	return nil
}

type EventKind string

const (
	EventAgentSpawned     EventKind = "agent_spawned"
	EventTaskAssigned     EventKind = "task_assigned"
	EventPositionAdvanced EventKind = "position_advanced"
	EventWaitingEntered   EventKind = "waiting_entered"
	EventResumed          EventKind = "resumed"
	EventTaskCompleted    EventKind = "task_completed"
)

// Event is a fleet notification. The core fills Kind, AgentID, Vertex and the
// kind-specific fields; ID, Tick and CreatedAt are stamped by the driver.
type Event struct {
	ID          string     `json:"id"`
	Tick        uint64     `json:"tick"`
	Kind        EventKind  `json:"kind"`
	AgentID     AgentID    `json:"agent_id"`
	Vertex      VertexID   `json:"vertex"`
	From        *VertexID  `json:"from,omitempty"`
	Target      *VertexID  `json:"target,omitempty"`
	Destination *VertexID  `json:"destination,omitempty"`
	Path        []VertexID `json:"path,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (e Event) Detail() json.RawMessage {
	detail := map[string]any{}
	if e.From != nil {
		detail["from"] = *e.From
	}
	if e.Target != nil {
		detail["target"] = *e.Target
	}
	if e.Destination != nil {
		detail["destination"] = *e.Destination
	}
	if len(e.Path) > 0 {
		detail["path"] = e.Path
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

type TickReport struct {
	Tick      uint64        `json:"tick"`
	Agents    int           `json:"agents"`
	Granted   int           `json:"granted"`
	Denied    int           `json:"denied"`
	Resumed   int           `json:"resumed"`
	Released  int           `json:"released"`
	Deadlocks int           `json:"deadlocks"`
	Healed    int           `json:"healed"`
	Duration  time.Duration `json:"duration_ns"`
	CreatedAt time.Time     `json:"created_at"`
}

func VertexPtr(v VertexID) *VertexID {
	return &v
}
