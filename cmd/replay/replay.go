package main

import (
	"fmt"
	"io"

	"fleet_traffic/internal/domain"
	"fleet_traffic/internal/eventlog"
)

type replayOptions struct {
	kind  string
	agent int
	limit int
}

// replay prints a closed journal directory, oldest record first. Files
// still held open by a running coordinator end in an unfinished zstd
// frame and fail to decode.
func replay(w io.Writer, dir string, opts replayOptions) error {
	switch opts.kind {
	case "", "events":
		events, err := eventlog.ReadEvents(dir)
		if err != nil {
			return fmt.Errorf("read events: %w", err)
		}
		if opts.agent >= 0 {
			kept := events[:0]
			for _, evt := range events {
				if evt.AgentID == domain.AgentID(opts.agent) {
					kept = append(kept, evt)
				}
			}
			events = kept
		}
		events = lastN(events, opts.limit)
		for _, evt := range events {
			fmt.Fprintln(w, formatEvent(evt))
		}
		fmt.Fprintf(w, "%d events\n", len(events))
	case "ticks":
		ticks, err := eventlog.ReadTicks(dir)
		if err != nil {
			return fmt.Errorf("read ticks: %w", err)
		}
		ticks = lastN(ticks, opts.limit)
		var granted, denied, deadlocks int
		for _, r := range ticks {
			fmt.Fprintf(w, "tick=%d agents=%d granted=%d denied=%d resumed=%d released=%d deadlocks=%d healed=%d took=%s\n",
				r.Tick, r.Agents, r.Granted, r.Denied, r.Resumed, r.Released, r.Deadlocks, r.Healed, r.Duration)
			granted += r.Granted
			denied += r.Denied
			deadlocks += r.Deadlocks
		}
		fmt.Fprintf(w, "%d ticks granted=%d denied=%d deadlocks=%d\n", len(ticks), granted, denied, deadlocks)
	default:
		return fmt.Errorf("unknown kind %q (want events or ticks)", opts.kind)
	}
	return nil
}

func formatEvent(evt domain.Event) string {
	line := fmt.Sprintf("t=%d agent=%d %s at %d", evt.Tick, evt.AgentID, evt.Kind, evt.Vertex)
	switch {
	case evt.From != nil:
		line += fmt.Sprintf(" from %d", *evt.From)
	case evt.Target != nil:
		line += fmt.Sprintf(" for %d", *evt.Target)
	case evt.Destination != nil:
		line += fmt.Sprintf(" -> %d via %v", *evt.Destination, evt.Path)
	}
	return line
}

func lastN[T any](items []T, n int) []T {
	if n <= 0 || len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
