// Package ws broadcasts orchestrator events to websocket subscribers,
// such as dashboards watching task transitions and checkpoint activity.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/taskmesh/taskmesh/event"
)

// Envelope is the wire format for broadcast events.
type Envelope struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// sendBuffer bounds per-client queueing; slow clients drop events rather
// than stall the hub.
const sendBuffer = 64

type client struct {
	send chan []byte
}

// Hub fans bus events out to websocket connections. Each connection gets
// its own rate limiter so one greedy dashboard cannot starve the rest.
type Hub struct {
	bus    event.Bus
	logger *zap.Logger
	limit  rate.Limit
	burst  int

	mu      sync.Mutex
	clients map[*client]struct{}
	subs    []string
	closed  bool
}

// NewHub creates a hub subscribed to every orchestrator event type.
// limit <= 0 disables rate limiting.
func NewHub(bus event.Bus, limit float64, burst int, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		bus:     bus,
		logger:  logger.With(zap.String("component", "ws_hub")),
		limit:   rate.Limit(limit),
		burst:   burst,
		clients: make(map[*client]struct{}),
	}

	eventTypes := []event.EventType{
		event.EventTaskStateChange,
		event.EventCheckpointSaved,
		event.EventThreadReverted,
		event.EventThreadClosed,
		event.EventApprovalRequested,
		event.EventApprovalResolved,
	}
	for _, et := range eventTypes {
		h.subs = append(h.subs, bus.Subscribe(et, h.broadcast))
	}
	return h
}

// broadcast runs on the bus dispatch goroutine; it must never block.
func (h *Hub) broadcast(e event.Event) {
	data, err := json.Marshal(Envelope{
		Type:      string(e.Type()),
		Timestamp: e.Timestamp(),
		Data:      e,
	})
	if err != nil {
		h.logger.Error("failed to marshal event", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("dropping event for slow websocket client",
				zap.String("event_type", string(e.Type())),
			)
		}
	}
}

// ServeHTTP upgrades the request and streams events until the client
// disconnects or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	c := &client{send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "hub closed")
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain reads so pings are answered and disconnects surface.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	var limiter *rate.Limiter
	if h.limit > 0 {
		limiter = rate.NewLimiter(h.limit, h.burst)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
			}
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close unsubscribes from the bus and stops accepting connections.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	for _, sub := range h.subs {
		h.bus.Unsubscribe(sub)
	}
}
