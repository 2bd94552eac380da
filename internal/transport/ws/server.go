// Package ws streams fleet events to websocket clients.
package ws

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"fleet_traffic/internal/domain"
)

type Bus interface {
	Subscribe(name string) <-chan domain.Event
	Unsubscribe(name string)
}

type Server struct {
	bus    Bus
	logger *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(bus Bus, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler upgrades the request and forwards every published event as a JSON
// text frame. An optional ?agent=<id> restricts the stream to one agent.
func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		filter := -1
		if raw := r.URL.Query().Get("agent"); raw != "" {
			id, err := strconv.Atoi(raw)
			if err != nil || id < 0 {
				http.Error(rw, "invalid agent filter", http.StatusBadRequest)
				return
			}
			filter = id
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		name := fmt.Sprintf("ws-%d", s.nextID.Add(1))
		events := s.bus.Subscribe(name)
		defer s.bus.Unsubscribe(name)
		s.logger.Printf("ws subscriber connected name=%s remote=%s agent=%d", name, r.RemoteAddr, filter)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case evt, ok := <-events:
					if !ok {
						writeErr <- nil
						return
					}
					if filter >= 0 && int(evt.AgentID) != filter {
						continue
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteJSON(evt); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Clients only send control frames; reading keeps pings and close
		// handshakes flowing.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		s.logger.Printf("ws subscriber disconnected name=%s", name)
	}
}
