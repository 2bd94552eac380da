package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fleet_traffic/internal/config"
	"fleet_traffic/internal/domain"
	"fleet_traffic/internal/simulation"
)

type app struct {
	cfg      config.Config
	svc      *simulation.Service
	stream   http.Handler
	metrics  http.Handler
	clients  func() int
	settings map[string]any
}

func (a *app) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/config", a.handleConfig)
	mux.HandleFunc("/graph", a.handleGraph)
	mux.HandleFunc("/agents", a.handleAgents)
	mux.HandleFunc("/agents/", a.handleAgentByID)
	mux.HandleFunc("/events", a.handleEvents)
	mux.HandleFunc("/ticks", a.handleTicks)
	mux.HandleFunc("/traffic", a.handleTraffic)
	mux.HandleFunc("/path", a.handlePath)
	if a.stream != nil {
		mux.Handle("/ws", a.stream)
	}
	if a.metrics != nil {
		mux.Handle("/metrics", a.metrics)
	}
	return mux
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	view := a.svc.Traffic()
	events, err := a.svc.EventCount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	clients := 0
	if a.clients != nil {
		clients = a.clients()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"time":           time.Now().UTC().Format(time.RFC3339),
		"run_id":         a.svc.RunID(),
		"tick":           view.Tick,
		"agents":         len(a.svc.ListAgents()),
		"events":         events,
		"stream_clients": clients,
	})
}

func (a *app) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"path":      a.cfg.Path,
		"found":     a.cfg.Found,
		"raw":       a.cfg.Raw,
		"effective": a.settings,
	})
}

func (a *app) handleGraph(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g := a.svc.Graph()
	writeJSON(w, http.StatusOK, map[string]any{
		"vertices": g.Vertices(),
		"lanes":    g.Lanes(),
		"chargers": g.Chargers(),
	})
}

func (a *app) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.svc.ListAgents())
	case http.MethodPost:
		var req struct {
			Vertex *int `json:"vertex"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
			return
		}
		if req.Vertex == nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("vertex is required"))
			return
		}
		id, err := a.svc.Spawn(r.Context(), domain.VertexID(*req.Vertex))
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		snap, err := a.svc.GetAgent(id)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, snap)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (a *app) handleAgentByID(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/agents/")
	parts := strings.Split(trimmed, "/")
	if parts[0] == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("agent id is required"))
		return
	}
	raw, err := strconv.Atoi(parts[0])
	if err != nil || raw < 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid agent id %q", parts[0]))
		return
	}
	id := domain.AgentID(raw)

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		snap, err := a.svc.GetAgent(id)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"agent":       snap,
			"description": snap.Description(),
		})
		return
	}

	action := parts[1]
	switch action {
	case "tasks":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Destination *int  `json:"destination"`
			Path        []int `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
			return
		}
		if req.Destination == nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("destination is required"))
			return
		}
		destination := domain.VertexID(*req.Destination)
		var path []domain.VertexID
		if len(req.Path) > 0 {
			path = make([]domain.VertexID, len(req.Path))
			for i, v := range req.Path {
				path[i] = domain.VertexID(v)
			}
			err = a.svc.AssignNavigationTask(r.Context(), id, destination, path)
		} else {
			path, err = a.svc.Dispatch(r.Context(), id, destination)
		}
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		snap, err := a.svc.GetAgent(id)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"agent": snap,
			"path":  path,
		})
	case "events":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		items, err := a.svc.AgentEvents(r.Context(), id, queryInt(r, "limit", 200))
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown action: %s", action))
	}
}

func (a *app) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	items, err := a.svc.Events(r.Context(), queryInt(r, "limit", 300))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *app) handleTicks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	items, err := a.svc.Ticks(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *app) handleTraffic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.svc.Traffic())
}

func (a *app) handlePath(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	from, errFrom := strconv.Atoi(r.URL.Query().Get("from"))
	to, errTo := strconv.Atoi(r.URL.Query().Get("to"))
	if errFrom != nil || errTo != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("from and to must be vertex ids"))
		return
	}
	path, err := a.svc.ShortestPath(domain.VertexID(from), domain.VertexID(to))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from": from,
		"to":   to,
		"path": path,
		"hops": len(path) - 1,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownAgent):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidVertex), errors.Is(err, domain.ErrInvalidTask):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPathNotFound):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
