// Package eventhub fans simulated blockchain events out to websocket subscribers.
//
// Each connection gets a reader goroutine and a writer goroutine, joined by a
// buffered send queue. Delivery to a single connection is FIFO; if a client
// can't keep up, frames addressed to it are dropped. We make no attempt to
// throttle or disconnect slow clients.
package eventhub

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
)

// Number of outbound messages that we will buffer per connection before
// dropping frames to that connection.
const SendQueueSize = 64

// ApiKeyResolver resolves an API key to a user ID. Returns 0 if the key is unknown.
type ApiKeyResolver interface {
	UserIDForApiKey(key string) int64
}

type Hub struct {
	log      logs.Log
	resolver ApiKeyResolver
	source   EventSource

	upgrader websocket.Upgrader

	lock  sync.Mutex
	conns map[*conn]bool
}

type conn struct {
	ws        *websocket.Conn
	sendQueue chan serverMessage
	closed    atomic.Bool
	userID    atomic.Int64

	// guarded by Hub.lock
	subscriptions map[string]bool
}

func NewHub(logger logs.Log, resolver ApiKeyResolver, source EventSource) *Hub {
	return &Hub{
		log:      logger,
		resolver: resolver,
		source:   source,
		conns:    map[*conn]bool{},
	}
}

// Run consumes the event source until it is stopped.
func (h *Hub) Run() {
	go func() {
		for ev := range h.source.Events() {
			h.Broadcast(ev.Channel, ev.Data)
		}
	}()
}

// Broadcast sends a data message to every open connection subscribed to channel.
// Connections with a full send queue miss this message.
func (h *Hub) Broadcast(channel string, data any) {
	msg := dataMessage(channel, data)
	h.lock.Lock()
	defer h.lock.Unlock()
	for c := range h.conns {
		if c.subscriptions[channel] && !c.closed.Load() {
			c.enqueue(msg)
		}
	}
}

// NumConnections returns the number of live connections (used by tests and /api/ping)
func (h *Hub) NumConnections() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.conns)
}

// HandleWebSocket upgrades the request and services the connection until the
// client goes away. Runs on the request's goroutine.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorf("websocket upgrade failed: %v", err)
		return
	}
	c := &conn{
		ws:            ws,
		sendQueue:     make(chan serverMessage, SendQueueSize),
		subscriptions: map[string]bool{},
	}
	h.lock.Lock()
	h.conns[c] = true
	h.lock.Unlock()
	h.log.Infof("websocket connected (%v live)", h.NumConnections())

	go c.writer(h.log)
	h.reader(c)

	// Remove the registry entry before anything else, so that a broadcast
	// racing with this close never sees the dead connection.
	c.closed.Store(true)
	h.lock.Lock()
	delete(h.conns, c)
	h.lock.Unlock()
	close(c.sendQueue)
	ws.Close()
	h.log.Infof("websocket disconnected (%v live)", h.NumConnections())
}

// enqueue adds a message to the connection's send queue, dropping it if the
// queue is full. Callers must hold Hub.lock or otherwise own the connection.
func (c *conn) enqueue(msg serverMessage) {
	select {
	case c.sendQueue <- msg:
	default:
	}
}

func (h *Hub) reader(c *conn) {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			c.enqueue(errorMessage("Expected a JSON text frame"))
			continue
		}
		msg := clientMessage{}
		if err := json.Unmarshal(data, &msg); err != nil {
			c.enqueue(errorMessage("Invalid JSON"))
			continue
		}
		// A protocol error never closes the connection; the client gets an
		// in-band error message and can retry.
		switch msg.Type {
		case "subscribe":
			h.subscribe(c, msg.Channel)
		case "unsubscribe":
			h.unsubscribe(c, msg.Channel)
		case "auth":
			h.authenticate(c, msg.ApiKey)
		case "":
			c.enqueue(errorMessage("Missing message type"))
		default:
			c.enqueue(errorMessage("Unknown message type '" + msg.Type + "'"))
		}
	}
}

// subscribe is idempotent. Re-subscribing just re-sends the acknowledgement;
// the initial snapshot goes out only on the first subscription, so the client
// is never left waiting for the channel's first event.
func (h *Hub) subscribe(c *conn, channel string) {
	if channel == "" {
		c.enqueue(errorMessage("Missing channel"))
		return
	}
	h.lock.Lock()
	already := c.subscriptions[channel]
	c.subscriptions[channel] = true
	h.lock.Unlock()
	c.enqueue(ackMessage("subscribed", channel))
	if !already {
		c.enqueue(dataMessage(channel, h.source.Snapshot(channel)))
	}
}

// unsubscribe is idempotent, and always acknowledged
func (h *Hub) unsubscribe(c *conn, channel string) {
	if channel == "" {
		c.enqueue(errorMessage("Missing channel"))
		return
	}
	h.lock.Lock()
	delete(c.subscriptions, channel)
	h.lock.Unlock()
	c.enqueue(ackMessage("unsubscribed", channel))
}

// authenticate is a best-effort association of a user with the connection.
// It does not gate subscriptions.
func (h *Hub) authenticate(c *conn, apiKey string) {
	userID := int64(0)
	if h.resolver != nil {
		userID = h.resolver.UserIDForApiKey(apiKey)
	}
	if userID == 0 {
		c.enqueue(errorMessage("Invalid API key"))
		return
	}
	c.userID.Store(userID)
	h.log.Infof("websocket authenticated as user %v", userID)
}

// writer drains the send queue until the queue is closed.
// A single writer per connection keeps delivery order FIFO.
func (c *conn) writer(log logs.Log) {
	for msg := range c.sendQueue {
		if c.closed.Load() {
			continue
		}
		buf, err := json.Marshal(&msg)
		if err != nil {
			log.Errorf("Failed to marshal websocket message: %v", err)
			continue
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, buf); err != nil {
			log.Infof("Error writing to websocket: %v", err)
		}
	}
}
