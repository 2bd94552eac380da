package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"fleet_traffic/internal/agent"
	"fleet_traffic/internal/domain"
)

type client struct {
	baseURL string
	http    *http.Client
}

type trafficView struct {
	Tick      uint64                              `json:"tick"`
	Occupancy map[domain.VertexID]domain.AgentID  `json:"occupancy"`
	Queues    map[domain.LaneKey][]domain.AgentID `json:"queues"`
	Last      domain.TickReport                   `json:"last_report"`
}

type taskResult struct {
	Agent agent.Snapshot    `json:"agent"`
	Path  []domain.VertexID `json:"path"`
}

type pathResult struct {
	Path []domain.VertexID `json:"path"`
	Hops int               `json:"hops"`
}

func newClient(baseURL string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *client) waitHealth(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		req, err := http.NewRequest(http.MethodGet, c.baseURL+"/healthz", nil)
		if err == nil {
			resp, err := c.http.Do(req)
			if err == nil {
				_ = resp.Body.Close()
				if resp.StatusCode < 300 {
					return nil
				}
			}
		}
		time.Sleep(400 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for /healthz")
}

func (c *client) listAgents() ([]agent.Snapshot, error) {
	var out []agent.Snapshot
	if err := c.getJSON("/agents", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) traffic() (trafficView, error) {
	var out trafficView
	err := c.getJSON("/traffic", &out)
	return out, err
}

func (c *client) listEvents(limit int) ([]domain.Event, error) {
	var out []domain.Event
	if err := c.getJSON(fmt.Sprintf("/events?limit=%d", limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) spawn(vertex domain.VertexID) (agent.Snapshot, error) {
	var out agent.Snapshot
	err := c.postJSON("/agents", map[string]any{"vertex": vertex}, &out)
	return out, err
}

func (c *client) dispatch(id domain.AgentID, destination domain.VertexID) (taskResult, error) {
	var out taskResult
	err := c.postJSON(fmt.Sprintf("/agents/%d/tasks", id), map[string]any{"destination": destination}, &out)
	return out, err
}

func (c *client) shortestPath(from, to domain.VertexID) (pathResult, error) {
	var out pathResult
	err := c.getJSON(fmt.Sprintf("/path?from=%d&to=%d", from, to), &out)
	return out, err
}

// streamEvents follows /ws until ctx ends, reconnecting after failures.
func (c *client) streamEvents(ctx context.Context, onEvent func(domain.Event), onState func(string)) {
	wsURL, err := c.streamURL()
	if err != nil {
		onState("stream disabled: " + err.Error())
		return
	}
	backoff := time.Second
	for ctx.Err() == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			onState("stream reconnecting: " + err.Error())
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}
		onState("stream connected")
		go func() {
			<-ctx.Done()
			_ = conn.Close()
		}()
		for {
			var evt domain.Event
			if err := conn.ReadJSON(&evt); err != nil {
				_ = conn.Close()
				if ctx.Err() == nil {
					onState("stream lost: " + err.Error())
				}
				break
			}
			onEvent(evt)
		}
	}
}

func (c *client) streamURL() (string, error) {
	parsed, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse api url: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/ws"
	return parsed.String(), nil
}

func (c *client) getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

func (c *client) postJSON(path string, in any, out any) error {
	var payload io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}
