package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"fleet_traffic/internal/config"
	"fleet_traffic/internal/eventlog"
	"fleet_traffic/internal/graph"
	"fleet_traffic/internal/messaging/inproc"
	"fleet_traffic/internal/metrics"
	"fleet_traffic/internal/scenario"
	"fleet_traffic/internal/simulation"
	sqlitestore "fleet_traffic/internal/store/sqlite"
	"fleet_traffic/internal/traffic"
	"fleet_traffic/internal/transport/ws"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.fleet/config.toml)")
	addrFlag := flag.String("addr", "", "http listen address override")
	dbPathFlag := flag.String("db", "", "sqlite database path override")
	graphFlag := flag.String("graph", "", "navigation graph JSON override")
	levelFlag := flag.String("level", "", "graph level to load override")
	tickFlag := flag.Int("tick-ms", 0, "tick interval in milliseconds override")
	eventsFlag := flag.String("events", "", "zstd event journal directory override")
	scenarioFlag := flag.String("scenario", "", "YAML scenario to load at startup")
	weightFlag := flag.String("weight", "", "lane weight: hops, distance or travel_time")
	resolveFlag := flag.String("resolve-deadlocks", "", "true or false; overrides config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cc := cfg.Coordinator

	addr := firstNonEmpty(*addrFlag, cc.Addr, ":8092")
	dbPath := firstNonEmpty(*dbPathFlag, cc.DBPath, "data/fleet.db")
	graphPath := firstNonEmpty(*graphFlag, cc.GraphPath, "configs/nav_graph.json")
	level := firstNonEmpty(*levelFlag, cc.Level, "level1")
	eventDir := firstNonEmpty(*eventsFlag, cc.EventLogDir, "data/journal")
	scenarioPath := firstNonEmpty(*scenarioFlag, cc.ScenarioPath)
	weightName := firstNonEmpty(*weightFlag, cc.LaneWeight, "hops")
	tickInterval := durationMS(intOrDefault(*tickFlag, cc.TickIntervalMS), 500*time.Millisecond)
	resolve := true
	if cc.ResolveDeadlocks != nil {
		resolve = *cc.ResolveDeadlocks
	}
	if raw := strings.TrimSpace(*resolveFlag); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			log.Fatalf("parse -resolve-deadlocks: %v", err)
		}
		resolve = v
	}

	for _, p := range []*string{&dbPath, &graphPath, &eventDir, &scenarioPath} {
		if *p == "" {
			continue
		}
		expanded, err := config.ExpandHome(*p)
		if err != nil {
			log.Fatalf("resolve path %s: %v", *p, err)
		}
		*p = filepath.Clean(expanded)
	}

	weight, err := graph.ParseWeight(weightName)
	if err != nil {
		log.Fatalf("lane weight: %v", err)
	}
	g, err := graph.Load(graphPath, level, graph.WithWeight(weight))
	if err != nil {
		log.Fatalf("load navigation graph: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		log.Fatalf("create db directory: %v", err)
	}
	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		log.Fatalf("open sqlite store: %v", err)
	}
	defer func() {
		_ = store.Close()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("migrate sqlite: %v", err)
	}

	journal := eventlog.NewJournal(eventDir)
	defer func() {
		if err := journal.Close(); err != nil {
			log.Printf("close journal: %v", err)
		}
	}()
	bus := inproc.New(intOrDefault(cc.EventBuffer, 256))
	collector := metrics.New()

	svc := simulation.New(g, simulation.Deps{
		Store:   store,
		Journal: journal,
		Bus:     bus,
		Metrics: collector,
	}, simulation.Config{
		TickInterval: tickInterval,
		Traffic:      traffic.Config{ResolveDeadlocks: resolve},
	}, log.Default())

	if scenarioPath != "" {
		sc, err := scenario.Load(scenarioPath)
		if err != nil {
			log.Fatalf("load scenario: %v", err)
		}
		if _, err := svc.LoadScenario(ctx, sc); err != nil {
			log.Fatalf("apply scenario: %v", err)
		}
	}
	svc.Start(ctx)

	a := &app{
		cfg:     cfg,
		svc:     svc,
		stream:  ws.NewServer(bus, log.Default()).Handler(),
		metrics: collector.Handler(),
		clients: bus.Subscribers,
		settings: map[string]any{
			"addr":              addr,
			"db_path":           dbPath,
			"graph_path":        graphPath,
			"level":             level,
			"tick_interval_ms":  tickInterval.Milliseconds(),
			"event_log_dir":     eventDir,
			"scenario_path":     scenarioPath,
			"lane_weight":       weightName,
			"resolve_deadlocks": resolve,
		},
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           loggingMiddleware(a.routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf(
		"fleet coordinator started addr=%s db=%s graph=%s level=%s vertices=%d lanes=%d tick=%s run=%s",
		addr,
		dbPath,
		graphPath,
		level,
		g.Len(),
		len(g.Lanes()),
		tickInterval,
		svc.RunID(),
	)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server failed: %v", err)
	}
	svc.Wait()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func durationMS(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}

func intOrDefault(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
