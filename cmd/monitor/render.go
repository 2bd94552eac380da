package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"fleet_traffic/internal/agent"
	"fleet_traffic/internal/domain"
)

type commandKind int

const (
	commandSpawn commandKind = iota + 1
	commandGo
	commandPath
)

type command struct {
	kind  commandKind
	agent domain.AgentID
	from  domain.VertexID
	to    domain.VertexID
}

// parseCommand understands "spawn <vertex>", "go <agent> <vertex>" and
// "path <from> <to>".
func parseCommand(input string) (command, error) {
	fields := strings.Fields(strings.ToLower(input))
	if len(fields) == 0 {
		return command{}, fmt.Errorf("empty command")
	}
	nums := make([]int, 0, len(fields)-1)
	for _, f := range fields[1:] {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return command{}, fmt.Errorf("%q is not a non-negative id", f)
		}
		nums = append(nums, n)
	}
	switch fields[0] {
	case "spawn", "s":
		if len(nums) != 1 {
			return command{}, fmt.Errorf("usage: spawn <vertex>")
		}
		return command{kind: commandSpawn, to: domain.VertexID(nums[0])}, nil
	case "go", "g":
		if len(nums) != 2 {
			return command{}, fmt.Errorf("usage: go <agent> <vertex>")
		}
		return command{kind: commandGo, agent: domain.AgentID(nums[0]), to: domain.VertexID(nums[1])}, nil
	case "path", "p":
		if len(nums) != 2 {
			return command{}, fmt.Errorf("usage: path <from> <to>")
		}
		return command{kind: commandPath, from: domain.VertexID(nums[0]), to: domain.VertexID(nums[1])}, nil
	default:
		return command{}, fmt.Errorf("unknown command %q", fields[0])
	}
}

func statusColor(s agent.Status) tcell.Color {
	switch s {
	case agent.StatusMoving:
		return tcell.ColorGreen
	case agent.StatusWaiting:
		return tcell.ColorYellow
	case agent.StatusTaskComplete:
		return tcell.ColorAqua
	case agent.StatusCharging:
		return tcell.ColorFuchsia
	default:
		return tview.Styles.PrimaryTextColor
	}
}

func renderAgentsTable(table *tview.Table, agents []agent.Snapshot, selected domain.AgentID) {
	table.Clear()
	headers := []string{"Agent", "Vertex", "Status", "Next", "Destination", "Remaining"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, a := range agents {
		row := i + 1
		next, dest, remaining := "-", "-", "-"
		if a.NextVertex != nil {
			next = strconv.Itoa(int(*a.NextVertex))
		}
		if a.Task != nil {
			dest = strconv.Itoa(int(a.Task.Destination))
			remaining = strconv.Itoa(len(a.Task.Path) - 1 - a.Task.Cursor)
		}
		table.SetCell(row, 0, tview.NewTableCell(strconv.Itoa(int(a.ID))))
		table.SetCell(row, 1, tview.NewTableCell(strconv.Itoa(int(a.Vertex))))
		table.SetCell(row, 2, tview.NewTableCell(a.Status.String()).SetTextColor(statusColor(a.Status)))
		table.SetCell(row, 3, tview.NewTableCell(next))
		table.SetCell(row, 4, tview.NewTableCell(dest))
		table.SetCell(row, 5, tview.NewTableCell(remaining))
		if a.ID == selected {
			table.Select(row, 0)
		}
	}
}

func renderTraffic(view trafficView) string {
	var b strings.Builder
	last := view.Last
	b.WriteString(fmt.Sprintf(
		"tick=%d agents=%d granted=%d denied=%d resumed=%d released=%d deadlocks=%d healed=%d took=%s\n",
		view.Tick, last.Agents, last.Granted, last.Denied, last.Resumed, last.Released, last.Deadlocks, last.Healed, last.Duration,
	))

	vertices := make([]int, 0, len(view.Occupancy))
	for v := range view.Occupancy {
		vertices = append(vertices, int(v))
	}
	sort.Ints(vertices)
	parts := make([]string, 0, len(vertices))
	for _, v := range vertices {
		parts = append(parts, fmt.Sprintf("%d:%d", v, view.Occupancy[domain.VertexID(v)]))
	}
	b.WriteString("occupied " + trimLine(strings.Join(parts, " "), 160) + "\n")

	keys := make([]domain.LaneKey, 0, len(view.Queues))
	for k := range view.Queues {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].A != keys[j].A {
			return keys[i].A < keys[j].A
		}
		return keys[i].B < keys[j].B
	})
	if len(keys) == 0 {
		b.WriteString("no lane queues\n")
		return b.String()
	}
	for _, k := range keys {
		ids := make([]string, 0, len(view.Queues[k]))
		for _, id := range view.Queues[k] {
			ids = append(ids, strconv.Itoa(int(id)))
		}
		b.WriteString(fmt.Sprintf("lane %-7s [%s]\n", k, strings.Join(ids, " ")))
	}
	return b.String()
}

func renderEvent(evt domain.Event) string {
	line := fmt.Sprintf("[%s] t=%d agent=%d %s at %d",
		evt.CreatedAt.Local().Format("15:04:05"), evt.Tick, evt.AgentID, evt.Kind, evt.Vertex)
	switch evt.Kind {
	case domain.EventPositionAdvanced:
		if evt.From != nil {
			line += fmt.Sprintf(" from %d", *evt.From)
		}
	case domain.EventWaitingEntered:
		if evt.Target != nil {
			line += fmt.Sprintf(" for %d", *evt.Target)
		}
	case domain.EventTaskAssigned:
		if evt.Destination != nil {
			line += fmt.Sprintf(" -> %d via %v", *evt.Destination, evt.Path)
		}
	}
	return line
}

// eventFeed keeps the newest lines first, capped at limit.
type eventFeed struct {
	lines []string
	limit int
}

func (f *eventFeed) push(line string) {
	f.lines = append([]string{line}, f.lines...)
	if len(f.lines) > f.limit {
		f.lines = f.lines[:f.limit]
	}
}

func (f *eventFeed) String() string {
	if len(f.lines) == 0 {
		return "No events"
	}
	return strings.Join(f.lines, "\n")
}

func trimLine(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
