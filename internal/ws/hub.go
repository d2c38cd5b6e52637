package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/metricsheet/metricsheet/internal/api"
	"github.com/metricsheet/metricsheet/internal/board"
	"github.com/metricsheet/metricsheet/internal/history"
	"github.com/metricsheet/metricsheet/pkg/period"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins — callers should apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// snapshotMessage is sent once, immediately after the upgrade.
type snapshotMessage struct {
	Type string           `json:"type"`
	Data api.GridResponse `json:"data"`
}

// changesMessage carries one applied batch, filtered per client.
type changesMessage struct {
	Type    string               `json:"type"`
	Batch   string               `json:"batch"`
	Source  string               `json:"source"`
	Changes []api.ChangeResponse `json:"changes"`
}

// controlMessage is what clients send to manage their cell filter.
type controlMessage struct {
	Op     string `json:"op"`
	Metric string `json:"metric"`
	Period string `json:"period"`
}

// Hub manages WebSocket clients and pushes applied batches to them.
// A client with an empty filter receives every batch; a client that
// subscribed to cells receives only the changes touching those cells.
type Hub struct {
	board *board.Board

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected WebSocket client.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	filter map[string]struct{}
}

// New creates a Hub reading snapshots from b. Wire Publish into the
// board with b.OnApply to receive batches.
func New(b *board.Board) *Hub {
	return &Hub{
		board:   b,
		clients: make(map[*client]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Publish fans a batch out to every connected client whose filter
// matches at least one change. Safe to call from any goroutine.
func (h *Hub) Publish(batch history.Batch) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		data, ok := c.render(batch)
		if !ok {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Client's outgoing buffer is full — disconnect it.
			h.unregister(c)
		}
	}
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the
// client. It sends the full grid immediately on connect, then pushes
// batches as they are applied. Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, sendBufSize),
		filter: make(map[string]struct{}),
	}
	h.register(c)
	defer h.unregister(c)
	slog.Debug("ws client connected", "client", c.id, "remote", r.RemoteAddr)

	// Send the current grid immediately so the client has data right away.
	if data, err := json.Marshal(snapshotMessage{Type: "snapshot", Data: api.BuildGrid(h.board)}); err == nil {
		select {
		case c.send <- data:
		default:
		}
	}

	go c.writePump()
	c.readPump() // blocks until connection closes
	slog.Debug("ws client disconnected", "client", c.id)
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func cellKey(metric, periodKey string) string {
	return metric + "|" + periodKey
}

// render serializes batch for this client, honoring its filter. The
// second return is false when nothing in the batch matches.
func (c *client) render(batch history.Batch) ([]byte, bool) {
	changes := batch.Changes

	c.mu.Lock()
	if len(c.filter) > 0 {
		kept := changes[:0:0]
		for _, ch := range changes {
			if _, ok := c.filter[cellKey(ch.Metric, ch.Period.Key())]; ok {
				kept = append(kept, ch)
			}
		}
		changes = kept
	}
	c.mu.Unlock()

	if len(changes) == 0 {
		return nil, false
	}
	data, err := json.Marshal(changesMessage{
		Type:    "changes",
		Batch:   batch.ID,
		Source:  batch.Source,
		Changes: api.ChangeResponses(changes),
	})
	if err != nil {
		return nil, false
	}
	return data, true
}

// control applies one subscribe or unsubscribe frame to the filter.
// Malformed frames are ignored.
func (c *client) control(msg controlMessage) {
	p, err := period.FromKey(msg.Period)
	if err != nil || msg.Metric == "" {
		return
	}
	key := cellKey(msg.Metric, p.Key())

	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Op {
	case "subscribe":
		c.filter[key] = struct{}{}
	case "unsubscribe":
		delete(c.filter, key)
	}
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads control frames from the connection, keeping the cell
// filter current and detecting disconnects. Blocks until the
// connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		c.control(msg)
	}
}
