package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"fleet_traffic/internal/domain"
)

func TestObserveTick(t *testing.T) {
	c := New()
	c.ObserveTick(domain.TickReport{Tick: 1, Agents: 3, Granted: 2, Denied: 1, Deadlocks: 1, Duration: time.Millisecond})
	c.ObserveTick(domain.TickReport{Tick: 2, Agents: 3, Granted: 1, Healed: 2})

	if got := testutil.ToFloat64(c.ticksTotal); got != 2 {
		t.Fatalf("ticks=%v want=2", got)
	}
	if got := testutil.ToFloat64(c.decisions.WithLabelValues("granted")); got != 3 {
		t.Fatalf("granted=%v want=3", got)
	}
	if got := testutil.ToFloat64(c.decisions.WithLabelValues("denied")); got != 1 {
		t.Fatalf("denied=%v want=1", got)
	}
	if got := testutil.ToFloat64(c.deadlocks); got != 1 {
		t.Fatalf("deadlocks=%v want=1", got)
	}
	if got := testutil.ToFloat64(c.heals); got != 2 {
		t.Fatalf("heals=%v want=2", got)
	}
	if got := testutil.ToFloat64(c.agents); got != 3 {
		t.Fatalf("agents=%v want=3", got)
	}
}

func TestRecordEventsAndStatusCounts(t *testing.T) {
	c := New()
	c.RecordEvents([]domain.Event{
		{Kind: domain.EventAgentSpawned},
		{Kind: domain.EventAgentSpawned},
		{Kind: domain.EventTaskCompleted},
	})
	if got := testutil.ToFloat64(c.events.WithLabelValues(string(domain.EventAgentSpawned))); got != 2 {
		t.Fatalf("spawned=%v want=2", got)
	}

	c.SetStatusCounts(map[string]int{"moving": 2, "waiting": 1})
	c.SetStatusCounts(map[string]int{"idle": 3})
	if got := testutil.CollectAndCount(c.agentsByState); got != 1 {
		t.Fatalf("status series=%d want=1", got)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	c := New()
	c.ObserveTick(domain.TickReport{Tick: 1})

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "fleet_coordinator_ticks_total 1") {
		t.Fatalf("metrics output missing tick counter:\n%s", body)
	}
}
