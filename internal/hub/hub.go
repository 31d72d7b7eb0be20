package hub

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"cohortlive/internal/websocket"
	"cohortlive/pkg/types"
)

// DefaultQueueSize is the event buffer between publishers and the hub loop.
const DefaultQueueSize = 1000

// Hub fans core events out to the websocket observers of each session.
// ARCHITECTURAL DISCOVERY: Publish only enqueues; delivery runs on the hub
// goroutine so a slow observer never holds up a store write.
type Hub struct {
	events          chan types.Event
	shutdownChannel chan struct{}
	done            chan struct{}

	registry *websocket.Registry

	delivered atomic.Int64
	dropped   atomic.Int64

	running bool
	mu      sync.RWMutex
}

// NewHub creates a hub delivering to registry.
func NewHub(registry *websocket.Registry) *Hub {
	return NewHubWithQueue(registry, DefaultQueueSize)
}

// NewHubWithQueue creates a hub with a custom event buffer.
func NewHubWithQueue(registry *websocket.Registry, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		events:   make(chan types.Event, queueSize),
		registry: registry,
	}
}

// Start begins hub processing.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.done = make(chan struct{})

	log.Println("hub: starting")
	go h.run(ctx, h.shutdownChannel, h.done)

	return nil
}

// Stop shuts the hub down after it has delivered the events already queued.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	done := h.done
	h.mu.Unlock()

	<-done
	log.Println("hub: stopped")
	return nil
}

// Publish queues event for delivery. It never blocks; events published while
// the hub is stopped or its queue is full are dropped and counted.
func (h *Hub) Publish(ctx context.Context, event types.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.running {
		h.drop(event, ErrHubNotRunning)
		return
	}

	select {
	case h.events <- event:
	default:
		h.drop(event, ErrEventChannelFull)
	}
}

func (h *Hub) drop(event types.Event, reason error) {
	h.dropped.Add(1)
	log.Printf("hub: dropped %s for session %s: %v", event.Type, event.SessionID, reason)
}

func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case event := <-h.events:
			h.deliver(event)

		case <-shutdown:
			h.drain()
			return

		case <-ctx.Done():
			log.Println("hub: context cancelled")
			h.drain()
			return
		}
	}
}

func (h *Hub) drain() {
	for {
		select {
		case event := <-h.events:
			h.deliver(event)
		default:
			return
		}
	}
}

// deliver writes event to every observer of its session. A SessionEnded
// event also detaches and closes those observers once it has been flushed.
func (h *Hub) deliver(event types.Event) {
	var conns []*websocket.Connection
	if event.Type == types.EventSessionEnded {
		conns = h.registry.RemoveSession(event.SessionID)
	} else {
		conns = h.registry.GetSessionConnections(event.SessionID)
	}

	for _, conn := range conns {
		if err := conn.WriteJSON(event); err != nil {
			log.Printf("hub: deliver %s to user=%s: %v", event.Type, conn.GetUserID(), err)
			h.registry.UnregisterConnection(conn)
			_ = conn.Close()
			continue
		}
		h.delivered.Add(1)

		if event.Type == types.EventSessionEnded {
			if err := conn.CloseAfterFlush(); err != nil {
				log.Printf("hub: close observer user=%s: %v", conn.GetUserID(), err)
			}
		}
	}
}

// Stats reports delivery counters together with the registry's.
func (h *Hub) Stats() map[string]int64 {
	stats := map[string]int64{
		"events_delivered": h.delivered.Load(),
		"events_dropped":   h.dropped.Load(),
		"events_queued":    int64(len(h.events)),
	}
	for k, v := range h.registry.GetStats() {
		stats[k] = int64(v)
	}
	return stats
}

// IsRunning reports whether the hub loop is active.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}
