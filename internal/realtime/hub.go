// Package realtime streams call evaluation to WebSocket clients.
//
// Supervisors watching a call subscribe once and receive every scored turn,
// every alert and every risk change as it happens:
// - turn_scored, alert, risk_updated per accepted turn, in that order
// - call_started and call_ended for lifecycle changes
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/callwatch/internal/calls"
	"github.com/mbd888/callwatch/internal/engine"
	"github.com/mbd888/callwatch/internal/eventlog"
	"github.com/mbd888/callwatch/internal/metrics"
	"github.com/mbd888/callwatch/internal/risk"
	"github.com/mbd888/callwatch/internal/security"
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

// EventType for real-time events
type EventType string

const (
	EventTurnScored  EventType = "turn_scored"
	EventAlert       EventType = "alert"
	EventRiskUpdated EventType = "risk_updated"
	EventCallStarted EventType = "call_started"
	EventCallEnded   EventType = "call_ended"
)

// Event represents a real-time event
type Event struct {
	Type      EventType `json:"type"`
	CallID    string    `json:"callId"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// RiskUpdate is the payload of a risk_updated event.
type RiskUpdate struct {
	risk.Snapshot
	Previous   risk.Snapshot `json:"previous"`
	Changed    bool          `json:"changed"`
	TurnNumber int           `json:"turnNumber"`
}

// Subscription filters for a client
type Subscription struct {
	AllEvents   bool              `json:"allEvents"`
	EventTypes  []EventType       `json:"eventTypes"`
	CallIDs     []string          `json:"callIds"`     // Watch specific calls
	MinSeverity eventlog.Severity `json:"minSeverity"` // Only alerts at or above this
}

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

// MaxClients is the maximum number of concurrent WebSocket connections.
const MaxClients = 10000

// Hub manages all WebSocket connections
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	done       chan struct{} // closed when Run exits; prevents upgrade race
	maxClients int
	now        func() time.Time

	// Stats
	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
	dropped      atomic.Int64
}

// Compile-time interface check
var _ calls.EventEmitter = (*Hub)(nil)

// NewHub creates a new WebSocket hub that accepts any origin.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, 1024),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     security.NewOrigins(nil).CheckOrigin,
		},
		done:       make(chan struct{}),
		maxClients: MaxClients,
		now:        time.Now,
	}
}

// WithOrigins restricts browser upgrades to the allowed origins.
func (h *Hub) WithOrigins(o security.Origins) *Hub {
	h.upgrader.CheckOrigin = o.CheckOrigin
	return h
}

// WithMaxClients overrides the connection limit.
func (h *Hub) WithMaxClients(n int) *Hub {
	if n > 0 {
		h.maxClients = n
	}
	return h
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("realtime hub shutting down, closing client connections")
			h.mu.Lock()
			for client := range h.clients {
				close(client.send) // writePump sends CloseMessage on closed channel
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.totalClients.Add(1)
			if current := int64(len(h.clients)); current > h.peakClients.Load() {
				h.peakClients.Store(current)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Info("client connected", "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Info("client disconnected", "total", n)

		case event := <-h.broadcast:
			h.totalEvents.Add(1)
			msg := h.serialize(event)
			if msg == nil {
				continue
			}
			h.mu.RLock()
			var slow []*Client
			for client := range h.clients {
				if h.shouldSend(client, event) {
					select {
					case client.send <- msg:
					default:
						slow = append(slow, client)
					}
				}
			}
			h.mu.RUnlock()
			// Remove slow clients under write lock
			if len(slow) > 0 {
				h.mu.Lock()
				for _, client := range slow {
					if _, ok := h.clients[client]; ok {
						close(client.send)
						delete(h.clients, client)
					}
				}
				h.mu.Unlock()
				h.logger.Warn("dropped slow websocket clients", "count", len(slow))
			}
		}
	}
}

// shouldSend checks if event matches client's subscription
func (h *Hub) shouldSend(client *Client, event *Event) bool {
	client.mu.RLock()
	sub := client.sub
	client.mu.RUnlock()

	if sub.AllEvents {
		return true
	}

	if len(sub.EventTypes) > 0 && !slices.Contains(sub.EventTypes, event.Type) {
		return false
	}

	if len(sub.CallIDs) > 0 && !slices.Contains(sub.CallIDs, event.CallID) {
		return false
	}

	// Severity only narrows alerts
	if sub.MinSeverity.Valid() && event.Type == EventAlert {
		if ev, ok := event.Data.(eventlog.Event); ok && ev.Severity.Rank() < sub.MinSeverity.Rank() {
			return false
		}
	}

	return true
}

func (h *Hub) serialize(event *Event) []byte {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to serialize event", "type", event.Type, "error", err)
		return nil
	}
	return data
}

// Broadcast sends an event to all matching clients
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.dropped.Add(1)
		h.logger.Warn("broadcast channel full, dropping event", "type", event.Type, "call_id", event.CallID)
	}
}

// EmitCallStarted broadcasts a call_started event.
func (h *Hub) EmitCallStarted(call *calls.Call) {
	h.Broadcast(&Event{Type: EventCallStarted, CallID: call.CallID, Timestamp: h.now(), Data: call})
}

// EmitTurn broadcasts the scored turn, its alerts in log order and the
// resulting risk snapshot.
func (h *Hub) EmitTurn(callID string, res *engine.Result) {
	ts := h.now()
	h.Broadcast(&Event{Type: EventTurnScored, CallID: callID, Timestamp: ts, Data: res.Turn})
	for _, ev := range res.Events {
		h.Broadcast(&Event{Type: EventAlert, CallID: callID, Timestamp: ts, Data: ev})
	}
	h.Broadcast(&Event{Type: EventRiskUpdated, CallID: callID, Timestamp: ts, Data: RiskUpdate{
		Snapshot:   res.Risk,
		Previous:   res.PrevRisk,
		Changed:    res.Risk != res.PrevRisk,
		TurnNumber: res.Turn.TurnNumber,
	}})
}

// EmitCallEnded broadcasts a call_ended event.
func (h *Hub) EmitCallEnded(call *calls.Call) {
	h.Broadcast(&Event{Type: EventCallEnded, CallID: call.CallID, Timestamp: h.now(), Data: call})
}

// Stats returns hub statistics
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]any{
		"connectedClients": len(h.clients),
		"totalEvents":      h.totalEvents.Load(),
		"totalClients":     h.totalClients.Load(),
		"peakClients":      h.peakClients.Load(),
		"droppedEvents":    h.dropped.Load(),
	}
}

// HandleWebSocket upgrades HTTP to WebSocket
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Reject upgrades after the hub has stopped to prevent orphaned connections.
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	// Enforce connection limit
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
		sub:  initialSubscription(r),
	}

	h.register <- client

	// Start goroutines for reading and writing
	go client.writePump()
	go client.readPump()
}

// initialSubscription lets a client narrow its stream from the URL, e.g.
// /ws?callId=abc, before sending any subscription message.
func initialSubscription(r *http.Request) Subscription {
	ids := r.URL.Query()["callId"]
	if len(ids) == 0 {
		return Subscription{AllEvents: true} // Default: all events
	}
	return Subscription{CallIDs: ids}
}

// readPump reads messages from WebSocket (subscriptions, pings)
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			break
		}

		// Parse subscription update
		var sub Subscription
		if err := json.Unmarshal(message, &sub); err == nil {
			c.mu.Lock()
			c.sub = sub
			c.mu.Unlock()
		}
	}
}

// writePump writes messages to WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
