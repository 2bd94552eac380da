package sqlite

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"fleet_traffic/internal/domain"
)

func TestAppendAndListEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	now := time.Now().UTC().Truncate(time.Millisecond)
	assigned := domain.Event{
		ID:          uuid.NewString(),
		Tick:        0,
		Kind:        domain.EventTaskAssigned,
		AgentID:     1,
		Vertex:      0,
		Destination: domain.VertexPtr(2),
		Path:        []domain.VertexID{0, 1, 2},
		CreatedAt:   now,
	}
	advanced := domain.Event{
		ID:        uuid.NewString(),
		Tick:      1,
		Kind:      domain.EventPositionAdvanced,
		AgentID:   1,
		Vertex:    1,
		From:      domain.VertexPtr(0),
		CreatedAt: now,
	}
	other := domain.Event{
		ID:        uuid.NewString(),
		Tick:      1,
		Kind:      domain.EventAgentSpawned,
		AgentID:   2,
		Vertex:    3,
		CreatedAt: now,
	}
	if err := store.AppendEvents(ctx, []domain.Event{assigned, advanced, other}); err != nil {
		t.Fatalf("append events: %v", err)
	}
	// Replaying a batch must not duplicate rows.
	if err := store.AppendEvents(ctx, []domain.Event{advanced}); err != nil {
		t.Fatalf("append duplicate: %v", err)
	}
	n, err := store.CountEvents(ctx)
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	if n != 3 {
		t.Fatalf("count=%d want=3", n)
	}

	all, err := store.ListEvents(ctx, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(all) != 3 || all[0].ID != other.ID || all[2].ID != assigned.ID {
		t.Fatalf("unexpected order: %+v", all)
	}

	mine, err := store.ListAgentEvents(ctx, 1, 10)
	if err != nil {
		t.Fatalf("list agent events: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("agent events=%d want=2", len(mine))
	}
	if !reflect.DeepEqual(mine[0], advanced) {
		t.Fatalf("advanced event round trip mismatch:\n got %+v\nwant %+v", mine[0], advanced)
	}
	if !reflect.DeepEqual(mine[1], assigned) {
		t.Fatalf("assigned event round trip mismatch:\n got %+v\nwant %+v", mine[1], assigned)
	}
}

func TestAppendEventsRejectsMissingID(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	err := store.AppendEvents(context.Background(), []domain.Event{{Kind: domain.EventResumed}})
	if err == nil {
		t.Fatalf("expected error for event without id")
	}
	n, _ := store.CountEvents(context.Background())
	if n != 0 {
		t.Fatalf("failed batch left %d rows", n)
	}
}

func TestRecordAndListTicks(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	for tick := uint64(1); tick <= 3; tick++ {
		if err := store.RecordTick(ctx, domain.TickReport{
			Tick:     tick,
			Agents:   2,
			Granted:  int(tick),
			Duration: 150 * time.Microsecond,
		}); err != nil {
			t.Fatalf("record tick %d: %v", tick, err)
		}
	}
	ticks, err := store.ListTicks(ctx, 2)
	if err != nil {
		t.Fatalf("list ticks: %v", err)
	}
	if len(ticks) != 2 || ticks[0].Tick != 3 || ticks[1].Tick != 2 {
		t.Fatalf("unexpected ticks: %+v", ticks)
	}
	if ticks[0].Granted != 3 || ticks[0].Duration != 150*time.Microsecond || ticks[0].CreatedAt.IsZero() {
		t.Fatalf("unexpected report: %+v", ticks[0])
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		t.Fatalf("migrate store: %v", err)
	}
	return store
}
