package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"fleet_traffic/internal/domain"
)

func TestParseCommand(t *testing.T) {
	cmd, err := parseCommand("  go 3 12 ")
	if err != nil {
		t.Fatalf("parse go: %v", err)
	}
	if cmd.kind != commandGo || cmd.agent != 3 || cmd.to != 12 {
		t.Fatalf("unexpected go command %+v", cmd)
	}
	cmd, err = parseCommand("SPAWN 4")
	if err != nil || cmd.kind != commandSpawn || cmd.to != 4 {
		t.Fatalf("unexpected spawn command %+v err=%v", cmd, err)
	}
	cmd, err = parseCommand("p 0 9")
	if err != nil || cmd.kind != commandPath || cmd.from != 0 || cmd.to != 9 {
		t.Fatalf("unexpected path command %+v err=%v", cmd, err)
	}

	for _, bad := range []string{"", "go 1", "spawn -1", "spawn x", "fly 1 2", "path 1 2 3"} {
		if _, err := parseCommand(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestRenderTraffic(t *testing.T) {
	out := renderTraffic(trafficView{
		Tick:      7,
		Occupancy: map[domain.VertexID]domain.AgentID{4: 1, 2: 0},
		Queues: map[domain.LaneKey][]domain.AgentID{
			domain.NewLaneKey(3, 2): {1, 2},
			domain.NewLaneKey(0, 1): {0},
		},
		Last: domain.TickReport{Tick: 7, Agents: 3, Denied: 1},
	})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("unexpected traffic render:\n%s", out)
	}
	if !strings.HasPrefix(lines[0], "tick=7 agents=3") || !strings.Contains(lines[0], "denied=1") {
		t.Fatalf("unexpected summary %q", lines[0])
	}
	if lines[1] != "occupied 2:0 4:1" {
		t.Fatalf("unexpected occupancy line %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "lane 0-1") || !strings.HasSuffix(lines[3], "[1 2]") {
		t.Fatalf("unexpected queue lines %q %q", lines[2], lines[3])
	}

	empty := renderTraffic(trafficView{})
	if !strings.Contains(empty, "no lane queues") {
		t.Fatalf("expected empty queue note, got %q", empty)
	}
}

func TestEventFeedKeepsNewestFirst(t *testing.T) {
	feed := &eventFeed{limit: 2}
	if feed.String() != "No events" {
		t.Fatalf("unexpected empty feed %q", feed.String())
	}
	for _, v := range []domain.VertexID{1, 2, 3} {
		feed.push(renderEvent(domain.Event{Kind: domain.EventPositionAdvanced, Vertex: v, From: domain.VertexPtr(v - 1)}))
	}
	lines := strings.Split(feed.String(), "\n")
	if len(lines) != 2 || !strings.HasSuffix(lines[0], "at 3 from 2") {
		t.Fatalf("unexpected feed %q", lines)
	}
}

func TestClientStreamsEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(domain.Event{Kind: domain.EventResumed, AgentID: 5, Vertex: 2})
		_, _, _ = conn.ReadMessage()
	})
	mux.HandleFunc("/agents/9/tasks", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unknown agent"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newClient(srv.URL + "/")
	if got, _ := c.streamURL(); got != "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws" {
		t.Fatalf("unexpected stream url %q", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan domain.Event, 1)
	go c.streamEvents(ctx, func(evt domain.Event) {
		select {
		case got <- evt:
		default:
		}
	}, func(string) {})

	select {
	case evt := <-got:
		if evt.AgentID != 5 || evt.Kind != domain.EventResumed {
			t.Fatalf("unexpected streamed event %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no event streamed")
	}

	if _, err := c.dispatch(9, 1); err == nil || !strings.Contains(err.Error(), "unknown agent") {
		t.Fatalf("expected dispatch error, got %v", err)
	}
}
