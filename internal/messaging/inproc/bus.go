package inproc

import (
	"errors"
	"sync"

	"fleet_traffic/internal/domain"
)

var ErrSubscriberQueueFull = errors.New("subscriber queue is full")

// Bus fans fleet events out to named subscribers. A slow subscriber drops
// events rather than stalling the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]chan domain.Event
	buffer int
}

func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[string]chan domain.Event),
		buffer: buffer,
	}
}

func (b *Bus) Subscribe(name string) <-chan domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[name]; ok {
		return ch
	}
	ch := make(chan domain.Event, b.buffer)
	b.subs[name] = ch
	return ch
}

func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subs[name]
	if !ok {
		return
	}
	delete(b.subs, name)
	close(ch)
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish offers evt to every subscriber. It returns ErrSubscriberQueueFull
// when at least one subscriber missed the event.
func (b *Bus) Publish(evt domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var err error
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			err = ErrSubscriberQueueFull
		}
	}
	return err
}
