package traffic

import (
	"fleet_traffic/internal/agent"
	"fleet_traffic/internal/domain"
)

// resolveWaitCycles finds Waiting agents that block each other in a ring and
// lets them through. Two agents facing each other on one lane cross one at a
// time, lowest id first. Three or more agents rotating over distinct lanes
// all advance together. Anything else is logged and left waiting.
func (c *Coordinator) resolveWaitCycles(f Fleet, report *domain.TickReport) {
	waiting := make(map[domain.AgentID]agent.Snapshot)
	var order []domain.AgentID
	for _, snap := range f.ListAgents() {
		if snap.Status == agent.StatusWaiting && snap.NextVertex != nil {
			waiting[snap.ID] = snap
			order = append(order, snap.ID)
		}
	}
	if len(waiting) < 2 {
		return
	}

	for _, cycle := range c.waitCycles(waiting, order) {
		report.Deadlocks++
		var resolved bool
		if len(cycle) == 2 {
			resolved = c.resolveHeadOn(f, waiting[cycle[0]], waiting[cycle[1]], report)
		} else {
			resolved = c.resolveRotation(f, cycle, waiting, report)
		}
		if !resolved {
			c.logger.Printf("traffic: tick=%d unresolved wait cycle agents=%v", c.tick, cycle)
		}
	}
}

// blockerOf names the agent a Waiting agent is stuck behind.
func (c *Coordinator) blockerOf(snap agent.Snapshot) (domain.AgentID, bool) {
	next := *snap.NextVertex
	key := domain.NewLaneKey(snap.Vertex, next)
	if holder, ok := c.occupancy[next]; ok && holder != snap.ID {
		return holder, true
	}
	if holder, ok := c.reserved[next]; ok && holder != snap.ID {
		return holder, true
	}
	if holder, ok := c.laneHolds[key]; ok && holder != snap.ID {
		return holder, true
	}
	if q, ok := c.queues[key]; ok {
		if head, ok := q.PeekFront(); ok && head != snap.ID {
			return head, true
		}
	}
	return 0, false
}

// waitCycles walks the wait-for relation from every Waiting agent in id
// order. Each returned cycle lists agents so that cycle[i] waits on
// cycle[i+1], wrapping around.
func (c *Coordinator) waitCycles(waiting map[domain.AgentID]agent.Snapshot, order []domain.AgentID) [][]domain.AgentID {
	blockedBy := make(map[domain.AgentID]domain.AgentID, len(waiting))
	for _, id := range order {
		blocker, ok := c.blockerOf(waiting[id])
		if !ok {
			continue
		}
		if _, isWaiting := waiting[blocker]; isWaiting {
			blockedBy[id] = blocker
		}
	}

	const (
		unvisited = iota
		onPath
		done
	)
	state := make(map[domain.AgentID]int, len(waiting))
	var cycles [][]domain.AgentID
	for _, start := range order {
		if state[start] != unvisited {
			continue
		}
		var path []domain.AgentID
		for id := start; ; {
			if state[id] == onPath {
				for i, p := range path {
					if p == id {
						cycles = append(cycles, append([]domain.AgentID(nil), path[i:]...))
						break
					}
				}
				break
			}
			if state[id] == done {
				break
			}
			state[id] = onPath
			path = append(path, id)
			next, ok := blockedBy[id]
			if !ok {
				break
			}
			id = next
		}
		for _, id := range path {
			state[id] = done
		}
	}
	return cycles
}

func (c *Coordinator) resolveHeadOn(f Fleet, a, b agent.Snapshot, report *domain.TickReport) bool {
	if *a.NextVertex != b.Vertex || *b.NextVertex != a.Vertex {
		return false
	}
	winner, loser := a, b
	if b.ID < a.ID {
		winner, loser = b, a
	}
	target := *winner.NextVertex
	key := domain.NewLaneKey(winner.Vertex, target)
	pair := func(id domain.AgentID) bool { return id == winner.ID || id == loser.ID }
	if holder, ok := c.laneHolds[key]; ok && !pair(holder) {
		return false
	}
	if holder, ok := c.reserved[target]; ok && !pair(holder) {
		return false
	}
	if !f.Resume(winner.ID) {
		return false
	}
	report.Resumed++
	c.laneHolds[key] = winner.ID
	c.reserved[target] = winner.ID
	if f.AdvancePosition(winner.ID) {
		report.Granted++
		c.moveOccupant(winner.ID, winner.Vertex, target)
	}
	c.release(winner.ID, key, report)
	c.reserved[winner.Vertex] = loser.ID
	c.yielded[winner.Vertex] = loser.ID
	c.logger.Printf("traffic: tick=%d head-on deadlock lane=%s agent=%d crosses first, agent=%d waits", c.tick, key, winner.ID, loser.ID)
	return true
}

func (c *Coordinator) resolveRotation(f Fleet, cycle []domain.AgentID, waiting map[domain.AgentID]agent.Snapshot, report *domain.TickReport) bool {
	members := make(map[domain.AgentID]bool, len(cycle))
	for _, id := range cycle {
		members[id] = true
	}
	lanes := make(map[domain.LaneKey]bool, len(cycle))
	vertices := make(map[domain.VertexID]bool, len(cycle))
	for i, id := range cycle {
		snap := waiting[id]
		ahead := waiting[cycle[(i+1)%len(cycle)]]
		next := *snap.NextVertex
		if next != ahead.Vertex || vertices[snap.Vertex] {
			return false
		}
		vertices[snap.Vertex] = true
		key := domain.NewLaneKey(snap.Vertex, next)
		if lanes[key] {
			return false
		}
		lanes[key] = true
		if holder, ok := c.laneHolds[key]; ok && !members[holder] {
			return false
		}
		if holder, ok := c.reserved[next]; ok && !members[holder] {
			return false
		}
	}

	for _, id := range cycle {
		if f.Resume(id) {
			report.Resumed++
		}
	}
	for _, id := range cycle {
		if v := waiting[id].Vertex; c.occupancy[v] == id {
			delete(c.occupancy, v)
		}
	}
	for _, id := range cycle {
		snap := waiting[id]
		next := *snap.NextVertex
		key := domain.NewLaneKey(snap.Vertex, next)
		c.laneHolds[key] = id
		c.reserved[next] = id
		if f.AdvancePosition(id) {
			report.Granted++
		}
		c.occupancy[next] = id
		c.release(id, key, report)
	}
	c.logger.Printf("traffic: tick=%d rotated wait cycle agents=%v", c.tick, cycle)
	return true
}
