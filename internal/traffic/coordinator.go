// Package traffic grants or denies agent moves once per tick so that no
// vertex holds more than one agent and no lane carries two agents at once.
//
// A tick runs in four steps:
//
//  1. resync occupancy from agent positions and heal the lane queues
//  2. resume Waiting agents that head their lane queue and whose target is free
//  3. advance Moving agents in ascending id order, parking the blocked ones
//  4. release each lane queue entry once its agent has crossed
//
// When deadlock resolution is enabled, wait-for cycles left after step 3 are
// broken before the tick ends.
package traffic

import (
	"log"
	"sort"
	"time"

	"fleet_traffic/internal/agent"
	"fleet_traffic/internal/domain"
)

// Fleet is the agent table the coordinator drives. *fleet.Registry
// satisfies it.
type Fleet interface {
	ListAgents() []agent.Snapshot
	GetAgent(id domain.AgentID) (agent.Snapshot, bool)
	AdvancePosition(id domain.AgentID) bool
	SetWaiting(id domain.AgentID, target domain.VertexID) bool
	Resume(id domain.AgentID) bool
}

type Topology interface {
	LaneBetween(a, b domain.VertexID) (domain.Lane, bool)
}

type Observer interface {
	ObserveTick(report domain.TickReport)
}

type Config struct {
	ResolveDeadlocks bool
}

func DefaultConfig() Config {
	return Config{ResolveDeadlocks: true}
}

type Coordinator struct {
	topo     Topology
	cfg      Config
	logger   *log.Logger
	observer Observer

	tick      uint64
	occupancy map[domain.VertexID]domain.AgentID
	reserved  map[domain.VertexID]domain.AgentID
	laneHolds map[domain.LaneKey]domain.AgentID
	queues    map[domain.LaneKey]*LaneQueue
	// yielded holds a vertex vacated by a head-on winner for the agent that
	// gave way, across ticks, until that agent has crossed into it.
	yielded map[domain.VertexID]domain.AgentID
	last    domain.TickReport
}

func New(topo Topology, cfg Config, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		topo:      topo,
		cfg:       cfg,
		logger:    logger,
		occupancy: make(map[domain.VertexID]domain.AgentID),
		reserved:  make(map[domain.VertexID]domain.AgentID),
		laneHolds: make(map[domain.LaneKey]domain.AgentID),
		queues:    make(map[domain.LaneKey]*LaneQueue),
		yielded:   make(map[domain.VertexID]domain.AgentID),
	}
}

// SetObserver registers o to receive every tick report. Pass nil to detach.
func (c *Coordinator) SetObserver(o Observer) {
	c.observer = o
}

// Tick runs one coordination round over f and returns its report.
func (c *Coordinator) Tick(f Fleet) domain.TickReport {
	started := time.Now()
	c.tick++
	report := domain.TickReport{Tick: c.tick}

	agents := f.ListAgents()
	report.Agents = len(agents)
	c.resync(f, agents, &report)

	for _, snap := range agents {
		if snap.Status == agent.StatusWaiting {
			c.tryResume(f, snap.ID, &report)
		}
	}

	for _, snap := range agents {
		current, ok := f.GetAgent(snap.ID)
		if !ok || current.Status != agent.StatusMoving {
			continue
		}
		c.tryMove(f, current, &report)
	}

	if c.cfg.ResolveDeadlocks {
		c.resolveWaitCycles(f, &report)
	}

	report.Duration = time.Since(started)
	report.CreatedAt = time.Now().UTC()
	c.last = report
	if c.observer != nil {
		c.observer.ObserveTick(report)
	}
	return report
}

func (c *Coordinator) TickCount() uint64 {
	return c.tick
}

func (c *Coordinator) LastReport() domain.TickReport {
	return c.last
}

// Occupancy returns a copy of the vertex occupancy as of the end of the last
// tick.
func (c *Coordinator) Occupancy() map[domain.VertexID]domain.AgentID {
	out := make(map[domain.VertexID]domain.AgentID, len(c.occupancy))
	for v, id := range c.occupancy {
		out[v] = id
	}
	return out
}

func (c *Coordinator) Queue(key domain.LaneKey) []domain.AgentID {
	q, ok := c.queues[key]
	if !ok {
		return nil
	}
	return q.Items()
}

// Queues returns a copy of every non-empty lane queue, front first.
func (c *Coordinator) Queues() map[domain.LaneKey][]domain.AgentID {
	out := make(map[domain.LaneKey][]domain.AgentID, len(c.queues))
	for key, q := range c.queues {
		if q.Len() > 0 {
			out[key] = q.Items()
		}
	}
	return out
}

func (c *Coordinator) resync(f Fleet, agents []agent.Snapshot, report *domain.TickReport) {
	clear(c.occupancy)
	clear(c.reserved)
	clear(c.laneHolds)

	waitingOn := make(map[domain.AgentID]domain.LaneKey)
	byID := make(map[domain.AgentID]agent.Snapshot, len(agents))
	for _, snap := range agents {
		byID[snap.ID] = snap
		if holder, taken := c.occupancy[snap.Vertex]; taken {
			c.logger.Printf("traffic: tick=%d vertex=%d shared by agents %d and %d, keeping %d", c.tick, snap.Vertex, holder, snap.ID, holder)
		} else {
			c.occupancy[snap.Vertex] = snap.ID
		}
		if snap.Status == agent.StatusWaiting && snap.NextVertex != nil {
			waitingOn[snap.ID] = domain.NewLaneKey(snap.Vertex, *snap.NextVertex)
		}
	}

	for v, id := range c.yielded {
		snap, ok := byID[id]
		if !ok || snap.Status != agent.StatusWaiting || snap.NextVertex == nil || *snap.NextVertex != v {
			delete(c.yielded, v)
			continue
		}
		c.reserved[v] = id
	}

	for _, key := range c.sortedQueueKeys() {
		q := c.queues[key]
		for _, id := range q.Items() {
			if lane, ok := waitingOn[id]; ok && lane == key {
				continue
			}
			q.Remove(id)
			report.Healed++
			c.logger.Printf("traffic: tick=%d dropped stale queue entry agent=%d lane=%s", c.tick, id, key)
		}
		if q.Len() == 0 {
			delete(c.queues, key)
		}
	}

	for _, snap := range agents {
		if snap.Status != agent.StatusWaiting {
			continue
		}
		if snap.NextVertex == nil {
			// Nothing left to wait for; the Moving pass completes it.
			f.Resume(snap.ID)
			report.Healed++
			c.logger.Printf("traffic: tick=%d agent=%d waiting with no next vertex, resumed", c.tick, snap.ID)
			continue
		}
		key := waitingOn[snap.ID]
		if c.queue(key).PushUnique(snap.ID) {
			report.Healed++
			c.logger.Printf("traffic: tick=%d re-queued waiting agent=%d lane=%s", c.tick, snap.ID, key)
		}
	}
}

func (c *Coordinator) tryResume(f Fleet, id domain.AgentID, report *domain.TickReport) {
	snap, ok := f.GetAgent(id)
	if !ok || snap.Status != agent.StatusWaiting || snap.NextVertex == nil {
		return
	}
	next := *snap.NextVertex
	key := domain.NewLaneKey(snap.Vertex, next)
	if head, ok := c.queue(key).PeekFront(); (!ok || head != id) && !c.yieldedTo(next, id) {
		return
	}
	if c.vertexBlocked(next, id) || c.laneBlocked(key, id) {
		return
	}
	if !f.Resume(id) {
		return
	}
	report.Resumed++
	c.reserved[next] = id
	c.laneHolds[key] = id
}

func (c *Coordinator) tryMove(f Fleet, snap agent.Snapshot, report *domain.TickReport) {
	if snap.NextVertex == nil {
		f.AdvancePosition(snap.ID)
		return
	}
	next := *snap.NextVertex
	key := domain.NewLaneKey(snap.Vertex, next)
	if _, ok := c.topo.LaneBetween(snap.Vertex, next); !ok {
		// Parked in place without a queue entry: there is no lane to queue on.
		c.logger.Printf("traffic: tick=%d agent=%d has no lane %s, holding in place", c.tick, snap.ID, key)
		report.Denied++
		return
	}
	if c.vertexBlocked(next, snap.ID) || c.laneBlocked(key, snap.ID) || c.queuedBehind(key, snap.ID) {
		c.deny(f, snap.ID, next, key, report)
		return
	}
	c.grant(f, snap.ID, snap.Vertex, next, key, report)
}

func (c *Coordinator) grant(f Fleet, id domain.AgentID, from, next domain.VertexID, key domain.LaneKey, report *domain.TickReport) {
	c.laneHolds[key] = id
	c.reserved[next] = id
	if !f.AdvancePosition(id) {
		return
	}
	report.Granted++
	c.moveOccupant(id, from, next)
	c.release(id, key, report)
}

func (c *Coordinator) deny(f Fleet, id domain.AgentID, target domain.VertexID, key domain.LaneKey, report *domain.TickReport) {
	f.SetWaiting(id, target)
	c.queue(key).PushUnique(id)
	report.Denied++
}

// release drops id from the lane queue after it has crossed.
func (c *Coordinator) release(id domain.AgentID, key domain.LaneKey, report *domain.TickReport) {
	q, ok := c.queues[key]
	if !ok {
		return
	}
	if head, _ := q.PeekFront(); head == id {
		q.PopFront()
		report.Released++
	} else if q.Remove(id) {
		report.Released++
	}
	if q.Len() == 0 {
		delete(c.queues, key)
	}
}

func (c *Coordinator) moveOccupant(id domain.AgentID, from, to domain.VertexID) {
	if c.occupancy[from] == id {
		delete(c.occupancy, from)
	}
	if holder, taken := c.occupancy[to]; !taken || id < holder {
		c.occupancy[to] = id
	}
}

func (c *Coordinator) vertexBlocked(v domain.VertexID, id domain.AgentID) bool {
	if holder, ok := c.occupancy[v]; ok && holder != id {
		return true
	}
	if holder, ok := c.reserved[v]; ok && holder != id {
		return true
	}
	return false
}

func (c *Coordinator) yieldedTo(v domain.VertexID, id domain.AgentID) bool {
	holder, ok := c.yielded[v]
	return ok && holder == id
}

func (c *Coordinator) laneBlocked(key domain.LaneKey, id domain.AgentID) bool {
	holder, ok := c.laneHolds[key]
	return ok && holder != id
}

// queuedBehind reports whether another agent has priority on the lane.
func (c *Coordinator) queuedBehind(key domain.LaneKey, id domain.AgentID) bool {
	q, ok := c.queues[key]
	if !ok {
		return false
	}
	head, ok := q.PeekFront()
	return ok && head != id
}

func (c *Coordinator) queue(key domain.LaneKey) *LaneQueue {
	q, ok := c.queues[key]
	if !ok {
		q = &LaneQueue{}
		c.queues[key] = q
	}
	return q
}

func (c *Coordinator) sortedQueueKeys() []domain.LaneKey {
	keys := make([]domain.LaneKey, 0, len(c.queues))
	for key := range c.queues {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].A != keys[j].A {
			return keys[i].A < keys[j].A
		}
		return keys[i].B < keys[j].B
	})
	return keys
}
