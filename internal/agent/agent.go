// Package agent implements the per-robot state machine: status, current
// vertex and progress along an assigned path.
//
//	Idle ──AssignTask──▶ Moving ──SetWaiting──▶ Waiting
//	                      ▲  │                     │
//	                      │  └──Advance/Complete─▶ TaskComplete
//	                      └───────Resume───────────┘
//
// AssignTask is accepted from every status and is the only way out of
// TaskComplete. Charging is part of the status set but nothing drives it yet.
package agent

import (
	"fmt"

	"fleet_traffic/internal/domain"
)

type Status int

const (
	StatusIdle Status = iota
	StatusMoving
	StatusWaiting
	StatusCharging
	StatusTaskComplete
)

var statusNames = map[Status]string{
	StatusIdle:         "idle",
	StatusMoving:       "moving",
	StatusWaiting:      "waiting",
	StatusCharging:     "charging",
	StatusTaskComplete: "task_complete",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("unknown status %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", string(text))
}

type Task struct {
	Destination domain.VertexID   `json:"destination"`
	Path        []domain.VertexID `json:"path"`
	Cursor      int               `json:"cursor"`
}

func (t Task) clone() Task {
	t.Path = append([]domain.VertexID(nil), t.Path...)
	return t
}

type Agent struct {
	id     domain.AgentID
	vertex domain.VertexID
	status Status
	task   *Task
}

func New(id domain.AgentID, vertex domain.VertexID) *Agent {
	return &Agent{id: id, vertex: vertex, status: StatusIdle}
}

func (a *Agent) ID() domain.AgentID      { return a.id }
func (a *Agent) Vertex() domain.VertexID { return a.vertex }
func (a *Agent) Status() Status          { return a.status }

func (a *Agent) Task() (Task, bool) {
	if a.task == nil {
		return Task{}, false
	}
	return a.task.clone(), true
}

// AssignTask replaces any current task. The path must start at the agent's
// current vertex and end at destination.
func (a *Agent) AssignTask(destination domain.VertexID, path []domain.VertexID) error {
	if len(path) == 0 {
		return fmt.Errorf("%w: agent %d: empty path", domain.ErrInvalidTask, a.id)
	}
	if path[0] != a.vertex {
		return fmt.Errorf("%w: agent %d: path starts at %d, agent is at %d", domain.ErrInvalidTask, a.id, path[0], a.vertex)
	}
	if path[len(path)-1] != destination {
		return fmt.Errorf("%w: agent %d: path ends at %d, destination is %d", domain.ErrInvalidTask, a.id, path[len(path)-1], destination)
	}
	a.task = &Task{
		Destination: destination,
		Path:        append([]domain.VertexID(nil), path...),
	}
	a.status = StatusMoving
	return nil
}

// PeekNextVertex reports the vertex the agent would enter on its next
// advance.
func (a *Agent) PeekNextVertex() (domain.VertexID, bool) {
	if a.task == nil || a.task.Cursor+1 >= len(a.task.Path) {
		return 0, false
	}
	return a.task.Path[a.task.Cursor+1], true
}

// Advance moves one hop along the path. It returns the vertex that was left.
func (a *Agent) Advance() (domain.VertexID, error) {
	if a.status != StatusMoving {
		return a.vertex, fmt.Errorf("%w: agent %d: advance from %s", domain.ErrIllegalTransition, a.id, a.status)
	}
	next, ok := a.PeekNextVertex()
	if !ok {
		return a.vertex, fmt.Errorf("%w: agent %d: advance past end of path", domain.ErrIllegalTransition, a.id)
	}
	from := a.vertex
	a.vertex = next
	a.task.Cursor++
	if a.vertex == a.task.Destination || a.task.Cursor == len(a.task.Path)-1 {
		a.status = StatusTaskComplete
	}
	return from, nil
}

// Complete finishes a Moving agent that has nowhere left to go.
func (a *Agent) Complete() error {
	if a.status != StatusMoving {
		return fmt.Errorf("%w: agent %d: complete from %s", domain.ErrIllegalTransition, a.id, a.status)
	}
	if _, ok := a.PeekNextVertex(); ok {
		return fmt.Errorf("%w: agent %d: complete with path remaining", domain.ErrIllegalTransition, a.id)
	}
	a.status = StatusTaskComplete
	return nil
}

// SetWaiting parks a Moving agent. It reports whether the status changed;
// an agent already Waiting is left alone.
func (a *Agent) SetWaiting() (bool, error) {
	switch a.status {
	case StatusWaiting:
		return false, nil
	case StatusMoving:
		a.status = StatusWaiting
		return true, nil
	default:
		return false, fmt.Errorf("%w: agent %d: wait from %s", domain.ErrIllegalTransition, a.id, a.status)
	}
}

func (a *Agent) Resume() bool {
	if a.status != StatusWaiting {
		return false
	}
	a.status = StatusMoving
	return true
}

type Snapshot struct {
	ID         domain.AgentID   `json:"id"`
	Vertex     domain.VertexID  `json:"vertex"`
	Status     Status           `json:"status"`
	Task       *Task            `json:"task,omitempty"`
	NextVertex *domain.VertexID `json:"next_vertex,omitempty"`
}

func (a *Agent) Snapshot() Snapshot {
	s := Snapshot{ID: a.id, Vertex: a.vertex, Status: a.status}
	if task, ok := a.Task(); ok {
		s.Task = &task
	}
	if next, ok := a.PeekNextVertex(); ok {
		s.NextVertex = domain.VertexPtr(next)
	}
	return s
}

func (s Snapshot) Description() string {
	if s.Status == StatusWaiting && s.NextVertex != nil {
		return fmt.Sprintf("waiting to move to %d", *s.NextVertex)
	}
	if s.Status == StatusMoving && s.NextVertex != nil {
		return fmt.Sprintf("moving to %d", *s.NextVertex)
	}
	return s.Status.String()
}
