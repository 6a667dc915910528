package hub

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"raidboard/internal/websocket"
	"raidboard/pkg/types"
)

// Hub fans committed session events out to feed subscribers
// ARCHITECTURAL DISCOVERY: Central coordination point between the session
// manager, which publishes outside its locks, and the WebSocket registry
type Hub struct {
	// FUNCTIONAL DISCOVERY: Buffered channel absorbs bursts; Publish never blocks
	eventChannel    chan *types.Event
	shutdownChannel chan struct{}
	done            chan struct{}

	registry *websocket.Registry

	published atomic.Int64
	dropped   atomic.Int64
	delivered atomic.Int64

	running bool
	mu      sync.RWMutex
}

// NewHub creates a new hub with the given event buffer size
func NewHub(registry *websocket.Registry, bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &Hub{
		eventChannel: make(chan *types.Event, bufferSize),
		registry:     registry,
	}
}

// Start begins hub processing
// FUNCTIONAL DISCOVERY: Single hub goroutine keeps per-session event order
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.done = make(chan struct{})

	log.Println("Starting event hub...")
	go h.run(ctx, h.shutdownChannel, h.done)

	return nil
}

// Stop shuts down the hub after it finishes the event in flight
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

	log.Println("Stopping event hub...")
	<-done
	return nil
}

// Publish implements interfaces.EventPublisher. Events are dropped when the
// hub is stopped or its buffer is full.
func (h *Hub) Publish(event *types.Event) {
	if err := h.Enqueue(event); err != nil {
		h.dropped.Add(1)
		log.Printf("Dropping event %s for session %s: %v", event.Type, event.SessionID, err)
	}
}

// Enqueue queues an event for delivery without blocking
func (h *Hub) Enqueue(event *types.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.running {
		return ErrHubNotRunning
	}

	// TECHNICAL DISCOVERY: Non-blocking send prevents a slow feed from stalling
	// the session manager
	select {
	case h.eventChannel <- event:
		h.published.Add(1)
		return nil
	default:
		return ErrEventChannelFull
	}
}

// GetStats returns delivery counters
func (h *Hub) GetStats() map[string]int64 {
	return map[string]int64{
		"published": h.published.Load(),
		"delivered": h.delivered.Load(),
		"dropped":   h.dropped.Load(),
	}
}

func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer log.Println("Hub processing stopped")

	for {
		select {
		case event := <-h.eventChannel:
			h.deliver(event)

		case <-shutdown:
			log.Println("Hub shutdown requested")
			return

		case <-ctx.Done():
			log.Println("Hub context cancelled")
			return
		}
	}
}

// deliver sends event to every subscriber of its session
// FUNCTIONAL DISCOVERY: A subscriber with a full buffer misses the event
// rather than holding up everyone else
func (h *Hub) deliver(event *types.Event) {
	for _, conn := range h.registry.GetSessionConnections(event.SessionID) {
		if err := conn.TrySend(event); err != nil {
			h.dropped.Add(1)
			log.Printf("Failed to deliver %s to player %s: %v", event.Type, conn.GetPlayerID(), err)
			continue
		}
		h.delivered.Add(1)
	}

	// Terminal events are the last a session emits; subscribers stay connected
	// until they hang up but no longer hold a slot in the registry
	if event.Type == types.EventEncounterResolved || event.Type == types.EventSessionAbandoned {
		if dropped := h.registry.DropSession(event.SessionID); len(dropped) > 0 {
			log.Printf("Released %d subscribers of closed session %s", len(dropped), event.SessionID)
		}
	}
}
