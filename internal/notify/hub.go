// Package notify pushes memory events to display surfaces over WebSocket.
// Surfaces are read-only listeners; they never touch the store.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/kioku-ai/kioku/pkg/types"
)

// Event kinds pushed to subscribers.
const (
	EventMemoryCommitted = "memory_committed"
	EventSessionBoundary = "session_boundary"
	EventReminderDue     = "reminder_due"
)

// Event is the wire envelope for every notification.
type Event struct {
	Kind    string      `json:"kind"`
	At      time.Time   `json:"at"`
	Payload interface{} `json:"payload,omitempty"`
}

// subscriber allows both live connections and test doubles.
type subscriber interface {
	sendChannel() chan []byte
	shutdown()
}

// Hub fans events out to connected subscribers. Slow subscribers are
// dropped rather than allowed to back up the publishers.
type Hub struct {
	subscribers map[subscriber]bool
	events      chan Event
	register    chan subscriber
	unregister  chan subscriber
	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewHub creates a hub. Call Run in a goroutine before publishing.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		subscribers: make(map[subscriber]bool),
		events:      make(chan Event, 256),
		register:    make(chan subscriber),
		unregister:  make(chan subscriber),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run processes registrations and event fan-out until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub] = true
			count := len(h.subscribers)
			h.mu.Unlock()
			log.Printf("notify: subscriber connected (total: %d)", count)

		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub.sendChannel())
			}
			count := len(h.subscribers)
			h.mu.Unlock()
			log.Printf("notify: subscriber disconnected (total: %d)", count)

		case ev := <-h.events:
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("notify: marshal event: %v", err)
				continue
			}
			h.mu.Lock()
			for sub := range h.subscribers {
				select {
				case sub.sendChannel() <- data:
				default:
					// Full buffer means the surface stopped reading.
					close(sub.sendChannel())
					delete(h.subscribers, sub)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop shuts the hub down and disconnects every subscriber.
func (h *Hub) Stop() {
	h.cancel()
	h.mu.Lock()
	for sub := range h.subscribers {
		close(sub.sendChannel())
		sub.shutdown()
	}
	h.subscribers = make(map[subscriber]bool)
	h.mu.Unlock()
}

// MemoryCommitted announces that extraction wrote to the store.
func (h *Hub) MemoryCommitted(memories, goals, profile int) {
	h.publish(Event{
		Kind: EventMemoryCommitted,
		At:   time.Now().UTC(),
		Payload: map[string]int{
			"memories": memories,
			"goals":    goals,
			"profile":  profile,
		},
	})
}

// SessionBoundary announces an advanced context window.
func (h *Hub) SessionBoundary(sessionID, trigger string) {
	h.publish(Event{
		Kind: EventSessionBoundary,
		At:   time.Now().UTC(),
		Payload: map[string]string{
			"session_id": sessionID,
			"trigger":    trigger,
		},
	})
}

// ReminderDue announces a reminder whose time has arrived.
func (h *Hub) ReminderDue(r *types.Reminder) {
	h.publish(Event{Kind: EventReminderDue, At: time.Now().UTC(), Payload: r})
}

// drop unregisters a subscriber, giving up once the hub has stopped so a
// pump exiting after Stop never blocks on the unregister channel.
func (h *Hub) drop(sub subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.ctx.Done():
	}
}

func (h *Hub) publish(ev Event) {
	select {
	case h.events <- ev:
	default:
		log.Printf("notify: event buffer full, dropping %s", ev.Kind)
	}
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // local display surfaces only
	})
	if err != nil {
		log.Printf("notify: upgrade failed: %v", err)
		return
	}

	c := &wsClient{hub: h, ws: conn, send: make(chan []byte, 64)}
	h.register <- c
	go c.writePump()
	go c.readPump()
}

type wsClient struct {
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte
}

func (c *wsClient) sendChannel() chan []byte { return c.send }

func (c *wsClient) shutdown() {
	_ = c.ws.Close(websocket.StatusNormalClosure, "")
}

func (c *wsClient) writePump() {
	defer func() {
		c.hub.drop(c)
		_ = c.ws.Close(websocket.StatusNormalClosure, "")
	}()
	for msg := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.ws.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
}

// readPump drains the connection so close frames are seen.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.drop(c)
		_ = c.ws.Close(websocket.StatusNormalClosure, "")
	}()
	for {
		if _, _, err := c.ws.Read(context.Background()); err != nil {
			return
		}
	}
}
