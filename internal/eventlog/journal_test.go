package eventlog

import (
	"path/filepath"
	"testing"
	"time"

	"fleet_traffic/internal/domain"
)

func TestJournalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(dir)

	events := []domain.Event{
		{ID: "a", Tick: 1, Kind: domain.EventAgentSpawned, AgentID: 0, Vertex: 2},
		{ID: "b", Tick: 1, Kind: domain.EventWaitingEntered, AgentID: 0, Vertex: 2, Target: domain.VertexPtr(3)},
	}
	if err := j.WriteEvents(events); err != nil {
		t.Fatalf("write events: %v", err)
	}
	if err := j.WriteTick(domain.TickReport{Tick: 1, Agents: 1, Denied: 1}); err != nil {
		t.Fatalf("write tick: %v", err)
	}

	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := ReadEvents(dir)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if len(got) != 2 || got[1].Target == nil || *got[1].Target != 3 {
		t.Fatalf("unexpected events: %+v", got)
	}

	ticks, err := ReadTicks(dir)
	if err != nil {
		t.Fatalf("read ticks: %v", err)
	}
	if len(ticks) != 1 || ticks[0].Denied != 1 {
		t.Fatalf("unexpected ticks: %+v", ticks)
	}
}

func TestWriterRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "events")
	clock := time.Date(2024, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	if err := w.Write(domain.Event{ID: "1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if err := w.Write(domain.Event{ID: "2"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.jsonl.zst"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 hourly files, got %v", files)
	}
	if filepath.Base(files[0]) != "events-2024-03-01-10.jsonl.zst" {
		t.Fatalf("unexpected file name %s", files[0])
	}

	lines := 0
	if err := readDir(dir, func([]byte) error {
		lines++
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if lines != 2 {
		t.Fatalf("expected 2 lines, got %d", lines)
	}
}
