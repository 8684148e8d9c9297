package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// event is pushed to websocket clients.
type event struct {
	Type   string     `json:"type"` // status, file, progress, log, done
	File   string     `json:"file,omitempty"`
	Page   int        `json:"page,omitempty"`
	Pages  int        `json:"pages,omitempty"`
	Line   string     `json:"line,omitempty"`
	Status *JobStatus `json:"status,omitempty"`
}

const (
	writeWait   = 10 * time.Second
	clientQueue = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan event
}

// hub fans events out to every connected client. A client that falls behind
// loses events rather than stalling the OCR run.
type hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	log     zerolog.Logger
}

func newHub(log zerolog.Logger) *hub {
	return &hub{clients: make(map[*client]struct{}), log: log}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) broadcast(e event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- e:
		default:
			h.log.Debug().Str("type", e.Type).Msg("websocket client lagging, event dropped")
		}
	}
}

func (h *hub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	c := &client{conn: conn, send: make(chan event, clientQueue)}
	snap := s.status.snapshot()
	c.send <- event{Type: "status", Status: &snap}
	s.hub.add(c)

	go c.writeLoop()
	c.readLoop()
	s.hub.remove(c)
}

func (c *client) writeLoop() {
	defer c.conn.Close()
	for e := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(e); err != nil {
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// readLoop discards client messages and returns when the connection closes.
func (c *client) readLoop() {
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// closeAll disconnects every client.
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
