package ws

import (
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"fleet_traffic/internal/domain"
	"fleet_traffic/internal/messaging/inproc"
)

func TestStreamForwardsFilteredEvents(t *testing.T) {
	bus := inproc.New(16)
	srv := httptest.NewServer(NewServer(bus, log.New(io.Discard, "", 0)).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?agent=2"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitSubscribers(t, bus, 1)
	if err := bus.Publish(domain.Event{ID: "skip", Kind: domain.EventAgentSpawned, AgentID: 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := bus.Publish(domain.Event{ID: "keep", Kind: domain.EventResumed, AgentID: 2, Target: domain.VertexPtr(4)}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got domain.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.ID != "keep" || got.Target == nil || *got.Target != 4 {
		t.Fatalf("unexpected event %+v", got)
	}

	conn.Close()
	waitSubscribers(t, bus, 0)
}

func TestRejectsBadAgentFilter(t *testing.T) {
	bus := inproc.New(1)
	srv := httptest.NewServer(NewServer(bus, log.New(io.Discard, "", 0)).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?agent=abc"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != 400 {
		t.Fatalf("expected 400 response, got %+v", resp)
	}
}

func waitSubscribers(t *testing.T, bus *inproc.Bus, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if bus.Subscribers() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscribers=%d want=%d", bus.Subscribers(), want)
}
