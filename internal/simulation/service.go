// Package simulation drives the fleet: it owns the registry and the traffic
// coordinator behind one mutex, runs the tick loop, and fans events out to
// the configured sinks once the lock is released.
package simulation

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleet_traffic/internal/agent"
	"fleet_traffic/internal/domain"
	"fleet_traffic/internal/fleet"
	"fleet_traffic/internal/graph"
	"fleet_traffic/internal/scenario"
	"fleet_traffic/internal/traffic"
)

type Store interface {
	AppendEvents(ctx context.Context, events []domain.Event) error
	RecordTick(ctx context.Context, report domain.TickReport) error
	ListEvents(ctx context.Context, limit int) ([]domain.Event, error)
	ListAgentEvents(ctx context.Context, agentID domain.AgentID, limit int) ([]domain.Event, error)
	ListTicks(ctx context.Context, limit int) ([]domain.TickReport, error)
	CountEvents(ctx context.Context) (int, error)
}

type Journal interface {
	WriteEvents(events []domain.Event) error
	WriteTick(report domain.TickReport) error
}

type Bus interface {
	Publish(evt domain.Event) error
}

type Metrics interface {
	ObserveTick(report domain.TickReport)
	RecordEvents(events []domain.Event)
	SetStatusCounts(counts map[string]int)
}

// Deps are the optional sinks. Nil members are skipped.
type Deps struct {
	Store   Store
	Journal Journal
	Bus     Bus
	Metrics Metrics
}

type Config struct {
	TickInterval time.Duration
	Traffic      traffic.Config
	// HistoryLimit bounds the in-memory event and tick history served when
	// no Store is configured.
	HistoryLimit int
}

func DefaultConfig() Config {
	return Config{Traffic: traffic.DefaultConfig()}
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 500 * time.Millisecond
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 1000
	}
	return c
}

type Service struct {
	graph  *graph.Graph
	deps   Deps
	cfg    Config
	logger *log.Logger
	runID  string

	wg sync.WaitGroup

	mu       sync.Mutex
	registry *fleet.Registry
	coord    *traffic.Coordinator
	pending  []domain.Event

	// flushMu keeps sink writes in the order the events were raised.
	flushMu sync.Mutex
	histMu  sync.Mutex
	events  []domain.Event
	ticks   []domain.TickReport
	seen    int
}

func New(g *graph.Graph, deps Deps, cfg Config, logger *log.Logger) *Service {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Default()
	}
	s := &Service{
		graph:  g,
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		runID:  uuid.NewString(),
	}
	s.registry = fleet.NewRegistry(g, fleet.SinkFunc(func(evt domain.Event) {
		s.pending = append(s.pending, evt)
	}))
	s.coord = traffic.New(g, cfg.Traffic, logger)
	if deps.Metrics != nil {
		s.coord.SetObserver(deps.Metrics)
	}
	return s
}

func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tickLoop(ctx)
	}()
}

func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) RunID() string {
	return s.runID
}

func (s *Service) Graph() *graph.Graph {
	return s.graph
}

func (s *Service) Config() Config {
	return s.cfg
}

func (s *Service) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := s.Step(ctx)
			if report.Deadlocks > 0 || report.Healed > 0 {
				s.logger.Printf("tick=%d agents=%d granted=%d denied=%d deadlocks=%d healed=%d",
					report.Tick, report.Agents, report.Granted, report.Denied, report.Deadlocks, report.Healed)
			}
		}
	}
}

// Step runs exactly one coordination tick.
func (s *Service) Step(ctx context.Context) domain.TickReport {
	s.mu.Lock()
	report := s.coord.Tick(s.registry)
	events := s.drainLocked()
	counts := statusCounts(s.registry.ListAgents())
	s.flushMu.Lock()
	s.mu.Unlock()
	defer s.flushMu.Unlock()

	s.publish(ctx, events)
	s.recordTick(ctx, report, counts)
	return report
}

func (s *Service) Spawn(ctx context.Context, vertex domain.VertexID) (domain.AgentID, error) {
	s.mu.Lock()
	id, err := s.registry.Spawn(vertex)
	s.unlockAndPublish(ctx)
	return id, err
}

func (s *Service) AssignNavigationTask(ctx context.Context, id domain.AgentID, destination domain.VertexID, path []domain.VertexID) error {
	s.mu.Lock()
	err := s.registry.AssignNavigationTask(id, destination, path)
	s.unlockAndPublish(ctx)
	return err
}

// Dispatch plans a shortest path from the agent's current vertex and assigns
// it.
func (s *Service) Dispatch(ctx context.Context, id domain.AgentID, destination domain.VertexID) ([]domain.VertexID, error) {
	s.mu.Lock()
	path, err := s.dispatchLocked(id, destination)
	s.unlockAndPublish(ctx)
	return path, err
}

func (s *Service) dispatchLocked(id domain.AgentID, destination domain.VertexID) ([]domain.VertexID, error) {
	snap, ok := s.registry.GetAgent(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", domain.ErrUnknownAgent, id)
	}
	if !s.graph.Valid(destination) {
		return nil, fmt.Errorf("%w: destination %d", domain.ErrInvalidVertex, destination)
	}
	if snap.Vertex == destination {
		return nil, fmt.Errorf("%w: agent %d is already at %d", domain.ErrInvalidTask, id, destination)
	}
	path := s.graph.ShortestPath(snap.Vertex, destination)
	if path == nil {
		return nil, fmt.Errorf("%w: %d -> %d", domain.ErrPathNotFound, snap.Vertex, destination)
	}
	if err := s.registry.AssignNavigationTask(id, destination, path); err != nil {
		return nil, err
	}
	return path, nil
}

// LoadScenario spawns every scenario agent and sends the ones that name a
// destination. It stops at the first failure; agents created before it stay.
func (s *Service) LoadScenario(ctx context.Context, sc scenario.Scenario) ([]domain.AgentID, error) {
	ids := make([]domain.AgentID, 0, len(sc.Agents))
	for i, spec := range sc.Agents {
		id, err := s.Spawn(ctx, spec.Vertex)
		if err != nil {
			return ids, fmt.Errorf("scenario %q agent %d: %w", sc.Name, i, err)
		}
		ids = append(ids, id)
		if spec.Destination == nil {
			continue
		}
		if len(spec.Path) > 0 {
			err = s.AssignNavigationTask(ctx, id, *spec.Destination, spec.Path)
		} else if *spec.Destination != spec.Vertex {
			_, err = s.Dispatch(ctx, id, *spec.Destination)
		}
		if err != nil {
			return ids, fmt.Errorf("scenario %q agent %d: %w", sc.Name, i, err)
		}
	}
	s.logger.Printf("scenario loaded name=%q agents=%d", sc.Name, len(ids))
	return ids, nil
}

func (s *Service) GetAgent(id domain.AgentID) (agent.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.registry.GetAgent(id)
	if !ok {
		return agent.Snapshot{}, fmt.Errorf("%w: %d", domain.ErrUnknownAgent, id)
	}
	return snap, nil
}

func (s *Service) ListAgents() []agent.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.ListAgents()
}

type TrafficView struct {
	Tick      uint64                              `json:"tick"`
	Occupancy map[domain.VertexID]domain.AgentID  `json:"occupancy"`
	Queues    map[domain.LaneKey][]domain.AgentID `json:"queues"`
	Last      domain.TickReport                   `json:"last_report"`
}

func (s *Service) Traffic() TrafficView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return TrafficView{
		Tick:      s.coord.TickCount(),
		Occupancy: s.coord.Occupancy(),
		Queues:    s.coord.Queues(),
		Last:      s.coord.LastReport(),
	}
}

func (s *Service) ShortestPath(from, to domain.VertexID) ([]domain.VertexID, error) {
	if !s.graph.Valid(from) || !s.graph.Valid(to) {
		return nil, fmt.Errorf("%w: %d -> %d", domain.ErrInvalidVertex, from, to)
	}
	path := s.graph.ShortestPath(from, to)
	if path == nil {
		return nil, fmt.Errorf("%w: %d -> %d", domain.ErrPathNotFound, from, to)
	}
	return path, nil
}

// Events returns recent events, newest first.
func (s *Service) Events(ctx context.Context, limit int) ([]domain.Event, error) {
	if s.deps.Store != nil {
		return s.deps.Store.ListEvents(ctx, limit)
	}
	return s.recentEvents(limit, func(domain.Event) bool { return true }), nil
}

func (s *Service) AgentEvents(ctx context.Context, id domain.AgentID, limit int) ([]domain.Event, error) {
	if _, err := s.GetAgent(id); err != nil {
		return nil, err
	}
	if s.deps.Store != nil {
		return s.deps.Store.ListAgentEvents(ctx, id, limit)
	}
	return s.recentEvents(limit, func(evt domain.Event) bool { return evt.AgentID == id }), nil
}

// EventCount reports how many events this run has recorded: the durable
// count when a store is configured, otherwise the in-memory total.
func (s *Service) EventCount(ctx context.Context) (int, error) {
	if s.deps.Store != nil {
		return s.deps.Store.CountEvents(ctx)
	}
	s.histMu.Lock()
	defer s.histMu.Unlock()
	return s.seen, nil
}

// Ticks returns recent tick reports, newest first.
func (s *Service) Ticks(ctx context.Context, limit int) ([]domain.TickReport, error) {
	if s.deps.Store != nil {
		return s.deps.Store.ListTicks(ctx, limit)
	}
	if limit <= 0 {
		limit = 100
	}
	s.histMu.Lock()
	defer s.histMu.Unlock()
	out := make([]domain.TickReport, 0, min(limit, len(s.ticks)))
	for i := len(s.ticks) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.ticks[i])
	}
	return out, nil
}

// drainLocked stamps and takes the events raised since the last drain.
func (s *Service) drainLocked() []domain.Event {
	if len(s.pending) == 0 {
		return nil
	}
	events := s.pending
	s.pending = nil
	tick := s.coord.TickCount()
	now := time.Now().UTC()
	for i := range events {
		events[i].ID = uuid.NewString()
		events[i].Tick = tick
		events[i].CreatedAt = now
	}
	return events
}

func (s *Service) unlockAndPublish(ctx context.Context) {
	events := s.drainLocked()
	s.flushMu.Lock()
	s.mu.Unlock()
	defer s.flushMu.Unlock()
	s.publish(ctx, events)
}

func (s *Service) publish(ctx context.Context, events []domain.Event) {
	if len(events) == 0 {
		return
	}
	s.remember(events)

	if s.deps.Store != nil {
		var err error
		for attempt := 0; attempt < 6; attempt++ {
			err = s.deps.Store.AppendEvents(ctx, events)
			if err == nil || !isSQLiteBusy(err) {
				break
			}
			time.Sleep(time.Duration(30*(attempt+1)) * time.Millisecond)
		}
		if err != nil {
			s.logger.Printf("store events failed count=%d: %v", len(events), err)
		}
	}
	if s.deps.Journal != nil {
		if err := s.deps.Journal.WriteEvents(events); err != nil {
			s.logger.Printf("journal events failed count=%d: %v", len(events), err)
		}
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordEvents(events)
	}
	for _, evt := range events {
		if s.deps.Bus != nil {
			if err := s.deps.Bus.Publish(evt); err != nil {
				s.logger.Printf("bus publish dropped event=%s kind=%s: %v", evt.ID, evt.Kind, err)
			}
		}
		if evt.Kind != domain.EventPositionAdvanced {
			s.logger.Printf("fleet event kind=%s agent=%d vertex=%d tick=%d detail=%s", evt.Kind, evt.AgentID, evt.Vertex, evt.Tick, evt.Detail())
		}
	}
}

func (s *Service) recordTick(ctx context.Context, report domain.TickReport, counts map[string]int) {
	s.histMu.Lock()
	s.ticks = append(s.ticks, report)
	if over := len(s.ticks) - s.cfg.HistoryLimit; over > 0 {
		s.ticks = append(s.ticks[:0:0], s.ticks[over:]...)
	}
	s.histMu.Unlock()

	if s.deps.Store != nil {
		if err := s.deps.Store.RecordTick(ctx, report); err != nil {
			s.logger.Printf("store tick failed tick=%d: %v", report.Tick, err)
		}
	}
	if s.deps.Journal != nil {
		if err := s.deps.Journal.WriteTick(report); err != nil {
			s.logger.Printf("journal tick failed tick=%d: %v", report.Tick, err)
		}
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.SetStatusCounts(counts)
	}
}

func (s *Service) remember(events []domain.Event) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	s.events = append(s.events, events...)
	s.seen += len(events)
	if over := len(s.events) - s.cfg.HistoryLimit; over > 0 {
		s.events = append(s.events[:0:0], s.events[over:]...)
	}
}

func (s *Service) recentEvents(limit int, keep func(domain.Event) bool) []domain.Event {
	if limit <= 0 {
		limit = 300
	}
	s.histMu.Lock()
	defer s.histMu.Unlock()
	out := make([]domain.Event, 0, min(limit, len(s.events)))
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if keep(s.events[i]) {
			out = append(out, s.events[i])
		}
	}
	return out
}

func statusCounts(agents []agent.Snapshot) map[string]int {
	counts := make(map[string]int)
	for _, a := range agents {
		counts[a.Status.String()]++
	}
	return counts
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}
