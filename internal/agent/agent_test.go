package agent

import (
	"encoding/json"
	"errors"
	"testing"

	"fleet_traffic/internal/domain"
)

func TestAssignTaskPreconditions(t *testing.T) {
	a := New(1, 2)
	if err := a.AssignTask(4, nil); !errors.Is(err, domain.ErrInvalidTask) {
		t.Fatalf("expected ErrInvalidTask for empty path, got %v", err)
	}
	if err := a.AssignTask(4, []domain.VertexID{3, 4}); !errors.Is(err, domain.ErrInvalidTask) {
		t.Fatalf("expected ErrInvalidTask for wrong start, got %v", err)
	}
	if err := a.AssignTask(5, []domain.VertexID{2, 4}); !errors.Is(err, domain.ErrInvalidTask) {
		t.Fatalf("expected ErrInvalidTask for wrong end, got %v", err)
	}
	if a.Status() != StatusIdle {
		t.Fatalf("failed assignment changed status to %s", a.Status())
	}
	if _, ok := a.Task(); ok {
		t.Fatalf("failed assignment stored a task")
	}
}

func TestAdvanceToCompletion(t *testing.T) {
	a := New(0, 0)
	if err := a.AssignTask(2, []domain.VertexID{0, 1, 2}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if a.Status() != StatusMoving {
		t.Fatalf("expected moving, got %s", a.Status())
	}
	next, ok := a.PeekNextVertex()
	if !ok || next != 1 {
		t.Fatalf("expected next vertex 1, got %d ok=%t", next, ok)
	}
	from, err := a.Advance()
	if err != nil || from != 0 || a.Vertex() != 1 {
		t.Fatalf("first advance: from=%d vertex=%d err=%v", from, a.Vertex(), err)
	}
	if _, err := a.Advance(); err != nil {
		t.Fatalf("second advance: %v", err)
	}
	if a.Status() != StatusTaskComplete || a.Vertex() != 2 {
		t.Fatalf("expected task complete at 2, got %s at %d", a.Status(), a.Vertex())
	}
	task, _ := a.Task()
	if task.Cursor != 2 {
		t.Fatalf("expected cursor 2, got %d", task.Cursor)
	}
	if _, ok := a.PeekNextVertex(); ok {
		t.Fatalf("expected no next vertex at end of path")
	}
	if _, err := a.Advance(); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("expected illegal transition after completion, got %v", err)
	}
}

func TestWaitingAndResume(t *testing.T) {
	a := New(3, 0)
	if changed, err := a.SetWaiting(); err == nil || changed {
		t.Fatalf("idle agent must not enter waiting")
	}
	if a.Resume() {
		t.Fatalf("resume from idle must be refused")
	}
	if err := a.AssignTask(1, []domain.VertexID{0, 1}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	changed, err := a.SetWaiting()
	if err != nil || !changed {
		t.Fatalf("first wait: changed=%t err=%v", changed, err)
	}
	changed, err = a.SetWaiting()
	if err != nil || changed {
		t.Fatalf("second wait must be a no-op: changed=%t err=%v", changed, err)
	}
	if _, err := a.Advance(); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("waiting agent must not advance, got %v", err)
	}
	if !a.Resume() {
		t.Fatalf("expected resume from waiting")
	}
	if a.Resume() {
		t.Fatalf("second resume must report no transition")
	}
	if a.Status() != StatusMoving {
		t.Fatalf("expected moving, got %s", a.Status())
	}
}

func TestReassignmentReplacesTask(t *testing.T) {
	a := New(0, 0)
	if err := a.AssignTask(1, []domain.VertexID{0, 1}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := a.Advance(); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if a.Status() != StatusTaskComplete {
		t.Fatalf("expected completion, got %s", a.Status())
	}
	if err := a.AssignTask(0, []domain.VertexID{1, 0}); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	task, _ := a.Task()
	if a.Status() != StatusMoving || task.Cursor != 0 || task.Destination != 0 {
		t.Fatalf("unexpected state after reassignment: %s %+v", a.Status(), task)
	}
}

func TestSingleVertexPathCompletes(t *testing.T) {
	a := New(0, 4)
	if err := a.AssignTask(4, []domain.VertexID{4}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := a.Advance(); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("expected advance to fail at end of path, got %v", err)
	}
	if err := a.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if a.Status() != StatusTaskComplete {
		t.Fatalf("expected task complete, got %s", a.Status())
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	a := New(7, 0)
	if err := a.AssignTask(2, []domain.VertexID{0, 1, 2}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := a.SetWaiting(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	snap := a.Snapshot()
	snap.Task.Path[1] = 99
	task, _ := a.Task()
	if task.Path[1] != 1 {
		t.Fatalf("snapshot shares path storage with agent")
	}
	if got := snap.Description(); got != "waiting to move to 1" {
		t.Fatalf("unexpected description %q", got)
	}

	data, err := json.Marshal(a.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Status != StatusWaiting || decoded.NextVertex == nil || *decoded.NextVertex != 1 {
		t.Fatalf("unexpected decoded snapshot: %+v", decoded)
	}
}
