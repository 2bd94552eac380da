package traffic

import "fleet_traffic/internal/domain"

// LaneQueue is the FIFO of agents contending for one lane. An agent id
// appears at most once.
type LaneQueue struct {
	items []domain.AgentID
}

// PushUnique appends id unless it is already queued and reports whether it
// was added.
func (q *LaneQueue) PushUnique(id domain.AgentID) bool {
	if q.Contains(id) {
		return false
	}
	q.items = append(q.items, id)
	return true
}

func (q *LaneQueue) PeekFront() (domain.AgentID, bool) {
	if len(q.items) == 0 {
		return 0, false
	}
	return q.items[0], true
}

func (q *LaneQueue) PopFront() (domain.AgentID, bool) {
	if len(q.items) == 0 {
		return 0, false
	}
	id := q.items[0]
	q.items = q.items[1:]
	return id, true
}

// Remove drops id wherever it sits in the queue.
func (q *LaneQueue) Remove(id domain.AgentID) bool {
	for i, item := range q.items {
		if item == id {
			q.items = append(q.items[:i:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

func (q *LaneQueue) Contains(id domain.AgentID) bool {
	for _, item := range q.items {
		if item == id {
			return true
		}
	}
	return false
}

func (q *LaneQueue) Len() int {
	return len(q.items)
}

func (q *LaneQueue) Items() []domain.AgentID {
	return append([]domain.AgentID(nil), q.items...)
}
