package internal

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one item on the monitoring feed.
type Event struct {
	Kind     string `json:"kind"`
	Room     string `json:"room,omitempty"`
	Username string `json:"username,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Ts       int64  `json:"ts"`
}

// EventHub fans server events out to monitoring subscribers over
// websockets. Subscribers that cannot keep up are dropped rather than
// allowed to apply backpressure to the engine.
type EventHub struct {
	mu   sync.Mutex
	subs map[*eventSubscriber]bool
}

type eventSubscriber struct {
	conn *websocket.Conn
	send chan []byte
}

func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[*eventSubscriber]bool)}
}

// Publish delivers an event to every subscriber. Never blocks.
func (h *EventHub) Publish(evt Event) {
	if evt.Ts == 0 {
		evt.Ts = time.Now().Unix()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.send <- payload:
		default:
			close(sub.send)
			delete(h.subs, sub)
		}
	}
}

func (h *EventHub) add(sub *eventSubscriber) {
	h.mu.Lock()
	h.subs[sub] = true
	h.mu.Unlock()
}

func (h *EventHub) remove(sub *eventSubscriber) {
	h.mu.Lock()
	if _, exists := h.subs[sub]; exists {
		delete(h.subs, sub)
		close(sub.send)
	}
	h.mu.Unlock()
}

const (
	eventWriteWait  = 10 * time.Second
	eventPongWait   = 60 * time.Second
	eventPingPeriod = (eventPongWait * 9) / 10
)

var eventUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The admin listener binds loopback by default; tighten this if it
		// is ever exposed.
		return true
	},
}

// ServeEvents upgrades the request and streams events until the subscriber
// goes away.
func (h *EventHub) ServeEvents(w http.ResponseWriter, r *http.Request) {
	wsConn, err := eventUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("events upgrade: %v", err)
		return
	}
	sub := &eventSubscriber{conn: wsConn, send: make(chan []byte, 256)}
	h.add(sub)

	go sub.writePump()
	go sub.readPump(h)
}

func (sub *eventSubscriber) readPump(h *EventHub) {
	defer func() {
		h.remove(sub)
		sub.conn.Close()
	}()
	_ = sub.conn.SetReadDeadline(time.Now().Add(eventPongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(eventPongWait))
	})
	for {
		// Subscribers only listen; any inbound traffic besides pongs just
		// keeps the connection alive until it errors out.
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (sub *eventSubscriber) writePump() {
	ticker := time.NewTicker(eventPingPeriod)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
