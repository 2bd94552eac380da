// Package fleet owns the authoritative agent table. A Registry is not safe
// for concurrent use; callers serialize access (see internal/simulation).
package fleet

import (
	"fmt"
	"sort"

	"fleet_traffic/internal/agent"
	"fleet_traffic/internal/domain"
)

type Sink interface {
	Emit(evt domain.Event)
}

type SinkFunc func(evt domain.Event)

func (f SinkFunc) Emit(evt domain.Event) { f(evt) }

type Topology interface {
	Valid(id domain.VertexID) bool
	LaneBetween(a, b domain.VertexID) (domain.Lane, bool)
}

type Registry struct {
	topo   Topology
	sink   Sink
	agents map[domain.AgentID]*agent.Agent
	nextID domain.AgentID
}

func NewRegistry(topo Topology, sink Sink) *Registry {
	if sink == nil {
		sink = SinkFunc(func(domain.Event) {})
	}
	return &Registry{
		topo:   topo,
		sink:   sink,
		agents: make(map[domain.AgentID]*agent.Agent),
	}
}

func (r *Registry) Spawn(vertex domain.VertexID) (domain.AgentID, error) {
	if !r.topo.Valid(vertex) {
		return -1, fmt.Errorf("%w: spawn at %d", domain.ErrInvalidVertex, vertex)
	}
	id := r.nextID
	r.nextID++
	r.agents[id] = agent.New(id, vertex)
	r.sink.Emit(domain.Event{Kind: domain.EventAgentSpawned, AgentID: id, Vertex: vertex})
	return id, nil
}

// AssignNavigationTask overwrites the agent's task. Nothing changes when it
// returns an error.
func (r *Registry) AssignNavigationTask(id domain.AgentID, destination domain.VertexID, path []domain.VertexID) error {
	a, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrUnknownAgent, id)
	}
	if !r.topo.Valid(destination) {
		return fmt.Errorf("%w: destination %d", domain.ErrInvalidVertex, destination)
	}
	for i, v := range path {
		if !r.topo.Valid(v) {
			return fmt.Errorf("%w: agent %d: path vertex %d out of range", domain.ErrInvalidTask, id, v)
		}
		if i == 0 {
			continue
		}
		if _, ok := r.topo.LaneBetween(path[i-1], v); !ok {
			return fmt.Errorf("%w: agent %d: no lane between %d and %d", domain.ErrInvalidTask, id, path[i-1], v)
		}
	}
	if err := a.AssignTask(destination, path); err != nil {
		return err
	}
	task, _ := a.Task()
	r.sink.Emit(domain.Event{
		Kind:        domain.EventTaskAssigned,
		AgentID:     id,
		Vertex:      a.Vertex(),
		Destination: domain.VertexPtr(destination),
		Path:        task.Path,
	})
	return nil
}

func (r *Registry) GetAgent(id domain.AgentID) (agent.Snapshot, bool) {
	a, ok := r.agents[id]
	if !ok {
		return agent.Snapshot{}, false
	}
	return a.Snapshot(), true
}

// ListAgents returns detached snapshots in ascending id order.
func (r *Registry) ListAgents() []agent.Snapshot {
	out := make([]agent.Snapshot, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	return len(r.agents)
}

// AdvancePosition moves a Moving agent one hop and reports whether its
// vertex changed. A Moving agent already at the end of its path is marked
// complete instead. Only the traffic coordinator calls this, after granting
// the move.
func (r *Registry) AdvancePosition(id domain.AgentID) bool {
	a, ok := r.agents[id]
	if !ok || a.Status() != agent.StatusMoving {
		return false
	}
	if _, ok := a.PeekNextVertex(); !ok {
		if err := a.Complete(); err != nil {
			return false
		}
		r.emitCompleted(a)
		return false
	}
	from, err := a.Advance()
	if err != nil {
		return false
	}
	r.sink.Emit(domain.Event{
		Kind:    domain.EventPositionAdvanced,
		AgentID: id,
		Vertex:  a.Vertex(),
		From:    domain.VertexPtr(from),
	})
	if a.Status() == agent.StatusTaskComplete {
		r.emitCompleted(a)
	}
	return true
}

// SetWaiting parks a Moving agent that was denied a move toward target.
// It reports whether the status changed.
func (r *Registry) SetWaiting(id domain.AgentID, target domain.VertexID) bool {
	a, ok := r.agents[id]
	if !ok {
		return false
	}
	changed, err := a.SetWaiting()
	if err != nil || !changed {
		return false
	}
	r.sink.Emit(domain.Event{
		Kind:    domain.EventWaitingEntered,
		AgentID: id,
		Vertex:  a.Vertex(),
		Target:  domain.VertexPtr(target),
	})
	return true
}

func (r *Registry) Resume(id domain.AgentID) bool {
	a, ok := r.agents[id]
	if !ok || !a.Resume() {
		return false
	}
	evt := domain.Event{Kind: domain.EventResumed, AgentID: id, Vertex: a.Vertex()}
	if next, ok := a.PeekNextVertex(); ok {
		evt.Target = domain.VertexPtr(next)
	}
	r.sink.Emit(evt)
	return true
}

func (r *Registry) emitCompleted(a *agent.Agent) {
	evt := domain.Event{Kind: domain.EventTaskCompleted, AgentID: a.ID(), Vertex: a.Vertex()}
	if task, ok := a.Task(); ok {
		evt.Destination = domain.VertexPtr(task.Destination)
	}
	r.sink.Emit(evt)
}
