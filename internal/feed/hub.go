// Package feed broadcasts progress events of all jobs to websocket subscribers.
package feed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"docpipe/internal/progress"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Message is the envelope written to subscribers.
type Message struct {
	Type  string         `json:"type"`
	Event progress.Event `json:"event"`
	Time  time.Time      `json:"time"`
}

type subscriber struct {
	conn   *websocket.Conn
	remote string
	send   chan []byte
	jobID  string // empty receives every job
	once  sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// Hub fans progress events out to connected websocket clients. Slow clients
// are disconnected rather than allowed to block publishers.
type Hub struct {
	upgrader websocket.Upgrader
	buffer   int

	mu      sync.Mutex
	clients map[*subscriber]struct{}
	closed  bool
}

// NewHub creates a hub with a per-client send buffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		buffer:  buffer,
		clients: make(map[*subscriber]struct{}),
	}
}

// Publish delivers ev to every subscriber interested in its job.
func (h *Hub) Publish(ev progress.Event) {
	data, err := json.Marshal(Message{Type: "progress", Event: ev, Time: time.Now().UTC()})
	if err != nil {
		slog.Error("Failed to marshal feed message", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.clients {
		if s.jobID != "" && s.jobID != ev.JobID {
			continue
		}
		select {
		case s.send <- data:
		default:
			slog.Warn("Dropping slow feed subscriber", "remote", s.remote)
			delete(h.clients, s)
			s.close()
		}
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until the client leaves.
// The optional jobId query parameter limits the feed to one job.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "error", err)
		return
	}

	s := &subscriber{
		conn:   conn,
		remote: conn.RemoteAddr().String(),
		send:   make(chan []byte, h.buffer),
		jobID:  r.URL.Query().Get("jobId"),
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[s] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	slog.Debug("Feed subscriber connected", "remote", s.remote, "jobId", s.jobID, "clients", count)

	go h.writePump(s)
	h.readPump(s)
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	if _, ok := h.clients[s]; ok {
		delete(h.clients, s)
		s.close()
	}
	h.mu.Unlock()
}

// readPump discards client messages and notices disconnects.
func (h *Hub) readPump(s *subscriber) {
	defer h.remove(s)

	s.conn.SetReadLimit(512)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(s)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(s)
				return
			}
		}
	}
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.clients {
		delete(h.clients, s)
		s.close()
	}
}
