package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"fleet_traffic/internal/agent"
	"fleet_traffic/internal/config"
	"fleet_traffic/internal/domain"
)

type embeddedCoordinator struct {
	cmd *exec.Cmd
}

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.fleet/config.toml)")
	apiFlag := flag.String("api", "", "coordinator base URL")
	interval := flag.Duration("interval", 0, "refresh interval")
	embedded := flag.Bool("embedded", false, "start a coordinator alongside the monitor")
	coordinatorBinary := flag.String("coordinator-bin", "", "path to coordinator binary (optional in embedded mode)")
	graphPath := flag.String("graph", "configs/nav_graph.json", "navigation graph for the embedded coordinator")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	api := *apiFlag
	if strings.TrimSpace(api) == "" {
		api = cfg.Monitor.API
	}
	if strings.TrimSpace(api) == "" {
		api = "http://localhost:8092"
	}
	refreshEvery := *interval
	if refreshEvery <= 0 && cfg.Monitor.RefreshMS > 0 {
		refreshEvery = time.Duration(cfg.Monitor.RefreshMS) * time.Millisecond
	}
	if refreshEvery <= 0 {
		refreshEvery = time.Second
	}

	c := newClient(api)

	if *embedded {
		proc, err := startEmbeddedCoordinator(api, *coordinatorBinary, *graphPath, *configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start embedded coordinator: %v\n", err)
			os.Exit(1)
		}
		defer proc.Stop()
	}

	if err := c.waitHealth(30 * time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "coordinator health check failed: %v\n", err)
		os.Exit(1)
	}

	app := tview.NewApplication()
	agentsTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false)
	agentsTable.SetTitle("Agents (Enter select, F5 refresh, F10 quit)").SetBorder(true)

	trafficPane := tview.NewTextView().
		SetDynamicColors(false).
		SetWrap(false)
	trafficPane.SetTitle("Traffic").SetBorder(true)

	eventsView := tview.NewTextView().
		SetDynamicColors(false).
		SetWrap(false)
	eventsView.SetTitle("Events").SetBorder(true)

	commandInput := tview.NewInputField().
		SetLabel("Command: ")
	commandInput.SetBorder(true).SetTitle("spawn <vertex> | go <agent> <vertex> | path <from> <to>")

	statusView := tview.NewTextView().
		SetDynamicColors(false).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")
	statusView.SetText(fmt.Sprintf(
		"Connected to %s | embedded=%t | shortcuts: F10 quit, F5 refresh, Ctrl+L focus command, Ctrl+T focus agents",
		c.baseURL,
		*embedded,
	))

	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(trafficPane, 0, 1, false).
		AddItem(eventsView, 0, 2, false)

	mainLayout := tview.NewFlex().
		AddItem(agentsTable, 0, 1, false).
		AddItem(right, 0, 2, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 12, false).
		AddItem(commandInput, 3, 0, true).
		AddItem(statusView, 3, 0, false)

	// UI state is only touched from QueueUpdateDraw callbacks.
	var selected domain.AgentID = -1
	var lastAgents []agent.Snapshot
	feed := &eventFeed{limit: 300}

	setStatusUI := func(msg string) {
		statusView.SetText(msg)
	}
	setStatusAsync := func(msg string) {
		app.QueueUpdateDraw(func() {
			statusView.SetText(msg)
		})
	}

	refresh := func() {
		agents, agentsErr := c.listAgents()
		view, trafficErr := c.traffic()
		app.QueueUpdateDraw(func() {
			if agentsErr != nil {
				agentsTable.Clear()
				agentsTable.SetCell(0, 0, tview.NewTableCell(fmt.Sprintf("load error: %v", agentsErr)).SetTextColor(tview.Styles.ContrastSecondaryTextColor))
			} else {
				sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
				lastAgents = agents
				renderAgentsTable(agentsTable, agents, selected)
			}
			if trafficErr != nil {
				trafficPane.SetText(fmt.Sprintf("error: %v", trafficErr))
			} else {
				trafficPane.SetText(renderTraffic(view))
			}
		})
	}

	run := func(input string) {
		cmd, err := parseCommand(input)
		if err != nil {
			setStatusUI(err.Error())
			return
		}
		commandInput.SetText("")
		go func() {
			switch cmd.kind {
			case commandSpawn:
				snap, err := c.spawn(cmd.to)
				if err != nil {
					setStatusAsync("spawn failed: " + err.Error())
					return
				}
				setStatusAsync(fmt.Sprintf("agent %d spawned at %d", snap.ID, snap.Vertex))
			case commandGo:
				res, err := c.dispatch(cmd.agent, cmd.to)
				if err != nil {
					setStatusAsync("dispatch failed: " + err.Error())
					return
				}
				setStatusAsync(fmt.Sprintf("agent %d dispatched via %v", res.Agent.ID, res.Path))
			case commandPath:
				res, err := c.shortestPath(cmd.from, cmd.to)
				if err != nil {
					setStatusAsync("path failed: " + err.Error())
					return
				}
				setStatusAsync(fmt.Sprintf("path %d -> %d (%d hops): %v", cmd.from, cmd.to, res.Hops, res.Path))
			}
			refresh()
		}()
	}

	commandInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		run(commandInput.GetText())
	})

	agentsTable.SetSelectedFunc(func(row, _ int) {
		if row <= 0 || row > len(lastAgents) {
			return
		}
		picked := lastAgents[row-1]
		selected = picked.ID
		commandInput.SetText(fmt.Sprintf("go %d ", picked.ID))
		app.SetFocus(commandInput)
		setStatusUI(fmt.Sprintf("agent %d: %s", picked.ID, picked.Description()))
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if app.GetFocus() == commandInput {
			if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyTAB {
				app.SetFocus(agentsTable)
				setStatusUI("Focus -> agents")
				return nil
			}
			return event
		}

		switch event.Key() {
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF5:
			go refresh()
			setStatusUI("Manual refresh requested")
			return nil
		case tcell.KeyCtrlL, tcell.KeyTAB:
			app.SetFocus(commandInput)
			setStatusUI("Focus -> command")
			return nil
		case tcell.KeyCtrlT, tcell.KeyEscape:
			app.SetFocus(agentsTable)
			setStatusUI("Focus -> agents")
			return nil
		case tcell.KeyRune:
			app.SetFocus(commandInput)
			return event
		}
		return event
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if history, err := c.listEvents(100); err == nil {
		for i := len(history) - 1; i >= 0; i-- {
			feed.push(renderEvent(history[i]))
		}
		eventsView.SetText(feed.String())
	}

	go c.streamEvents(ctx, func(evt domain.Event) {
		line := renderEvent(evt)
		app.QueueUpdateDraw(func() {
			feed.push(line)
			eventsView.SetText(feed.String())
		})
	}, setStatusAsync)

	go func() {
		ticker := time.NewTicker(refreshEvery)
		defer ticker.Stop()
		refresh()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refresh()
			}
		}
	}()

	if err := app.SetRoot(root, true).EnableMouse(true).SetFocus(commandInput).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor failed: %v\n", err)
		os.Exit(1)
	}
}

func startEmbeddedCoordinator(api, binary, graphPath, configPath string) (*embeddedCoordinator, error) {
	parsed, err := url.Parse(api)
	if err != nil {
		return nil, fmt.Errorf("parse api: %w", err)
	}
	port := parsed.Port()
	if port == "" {
		return nil, fmt.Errorf("api must include explicit port, got %q", api)
	}
	args := []string{"-addr", ":" + port, "-graph", graphPath}
	if configPath != "" {
		args = append(args, "-config", configPath)
	}

	var cmd *exec.Cmd
	if strings.TrimSpace(binary) != "" {
		cmd = exec.Command(binary, args...)
	} else {
		self, err := os.Executable()
		if err == nil {
			sibling := filepath.Join(filepath.Dir(self), "coordinator")
			if fileExists(sibling) {
				cmd = exec.Command(sibling, args...)
			}
		}
		if cmd == nil {
			cmd = exec.Command("go", append([]string{"run", "./cmd/coordinator"}, args...)...)
		}
	}
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start coordinator process: %w", err)
	}
	return &embeddedCoordinator{cmd: cmd}, nil
}

func (e *embeddedCoordinator) Stop() {
	if e == nil || e.cmd == nil || e.cmd.Process == nil {
		return
	}
	_ = e.cmd.Process.Kill()
	_, _ = e.cmd.Process.Wait()
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
