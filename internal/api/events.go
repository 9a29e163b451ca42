package api

import (
	"net/http"
	stdsync "sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"attendance-sync-service/internal/attendance"
	"attendance-sync-service/internal/logger"
	"attendance-sync-service/internal/sync"
)

const (
	EventHistory = "history"
	EventShift   = "shift"
	EventNotice  = "notice"

	writeWait  = 10 * time.Second
	sendBuffer = 32
)

// Event is one message on the /events websocket.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

// Hub fans Manager notifications out to websocket clients.
type Hub struct {
	upgrader websocket.Upgrader

	mu      stdsync.Mutex
	clients map[*client]struct{}
	unsubs  []func()
	closed  bool
}

func NewHub(manager *sync.Manager) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
	h.unsubs = append(h.unsubs,
		manager.OnHistoryChanged(func(history []attendance.Record) {
			h.broadcast(Event{Type: EventHistory, Data: history})
		}),
		manager.OnShiftChanged(func(rec *attendance.Record) {
			h.broadcast(Event{Type: EventShift, Data: rec})
		}),
		manager.OnNotice(func(n sync.Notice) {
			h.broadcast(Event{Type: EventNotice, Data: n})
		}),
	)
	return h
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	// The server's read timeout would otherwise close an idle stream.
	conn.SetReadDeadline(time.Time{})

	c := &client{conn: conn, send: make(chan Event, sendBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	logger.Log.Debug("Event client connected", zap.String("remote", r.RemoteAddr))

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop discards client messages and unregisters the client on close.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(ev); err != nil {
			logger.Log.Debug("Event write failed", zap.Error(err))
			h.remove(c)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// broadcast never blocks: a client whose buffer is full is dropped.
func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			logger.Log.Warn("Dropping slow event client")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Close() {
	for _, unsub := range h.unsubs {
		unsub()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
