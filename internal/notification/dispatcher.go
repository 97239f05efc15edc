package notification

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Dispatcher fans live notification events out to open connections. Rooms are
// keyed by account address; delivery is best-effort and events for absent or
// slow subscribers are dropped (the persisted row remains).
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*subscriber
	bufferSize  int
}

type subscriber struct {
	id     string
	stream chan Event
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[string]*subscriber),
		bufferSize:  16,
	}
}

// Subscribe joins the room for the given address until ctx is done or the
// returned cancel func is called.
func (d *Dispatcher) Subscribe(ctx context.Context, address string) (<-chan Event, func()) {
	room := roomKey(address)
	if room == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     uuid.NewString(),
		stream: make(chan Event, d.bufferSize),
	}
	d.register(room, sub)
	cleanup := func() {
		d.unregister(room, sub.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers the event to every connection joined to the address room.
func (d *Dispatcher) Publish(address string, event Event) {
	room := roomKey(address)
	if room == "" {
		return
	}
	d.mu.RLock()
	subs := d.subscribers[room]
	if len(subs) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subs))
	for _, sub := range subs {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- event:
		default:
		}
	}
}

func (d *Dispatcher) register(room string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[room]; !ok {
		d.subscribers[room] = make(map[string]*subscriber)
	}
	d.subscribers[room][sub.id] = sub
}

func (d *Dispatcher) unregister(room, subscriberID string) {
	d.mu.Lock()
	subs := d.subscribers[room]
	if subs != nil {
		delete(subs, subscriberID)
		if len(subs) == 0 {
			delete(d.subscribers, room)
		}
	}
	d.mu.Unlock()
}

// roomKey folds address case so checksummed and lowercase forms share a room.
func roomKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
