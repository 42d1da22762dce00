package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"linguahub/internal/logger"
	"linguahub/models"
)

const (
	sendBuffer = 16
	writeWait  = 10 * time.Second
)

// ProgressionClient is one live connection of a learner. Only its writer
// goroutine writes to Conn; everyone else queues through send.
type ProgressionClient struct {
	Conn      *websocket.Conn
	UserID    string
	send      chan interface{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewProgressionClient(conn *websocket.Conn, userID string) *ProgressionClient {
	return &ProgressionClient{
		Conn:   conn,
		UserID: userID,
		send:   make(chan interface{}, sendBuffer),
		done:   make(chan struct{}),
	}
}

// enqueue reports false when the client's buffer is full
func (pc *ProgressionClient) enqueue(v interface{}) bool {
	select {
	case pc.send <- v:
		return true
	default:
		return false
	}
}

// writePump drains the send queue and pings until the client is closed or a write fails
func (pc *ProgressionClient) writePump(pingPeriod time.Duration) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-pc.done:
			return nil
		case v := <-pc.send:
			pc.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := pc.Conn.WriteJSON(v); err != nil {
				return err
			}
		case <-ticker.C:
			if err := pc.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		}
	}
}

func (pc *ProgressionClient) close() {
	pc.closeOnce.Do(func() {
		close(pc.done)
		if pc.Conn != nil {
			pc.Conn.Close()
		}
	})
}

// Hub fans progression events out to the connections of the learner they concern
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*ProgressionClient]bool
	log     *logger.Logger
}

func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		clients: make(map[string]map[*ProgressionClient]bool),
		log:     log.With("component", "ws_hub"),
	}
}

func (h *Hub) Register(client *ProgressionClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[client.UserID]
	if !ok {
		set = make(map[*ProgressionClient]bool)
		h.clients[client.UserID] = set
	}
	set[client] = true
	h.log.Debug("progression client registered", "user_id", client.UserID, "connections", len(set))
}

// Unregister removes the client and closes its connection
func (h *Hub) Unregister(client *ProgressionClient) {
	h.mu.Lock()
	set := h.clients[client.UserID]
	if set[client] {
		delete(set, client)
		if len(set) == 0 {
			delete(h.clients, client.UserID)
		}
	}
	h.mu.Unlock()
	client.close()
}

// Notify queues event for every connection of userID without blocking.
// A connection whose queue is full has stopped reading and is dropped.
func (h *Hub) Notify(userID string, event models.ProgressionEvent) {
	var stalled []*ProgressionClient
	h.mu.RLock()
	for c := range h.clients[userID] {
		if !c.enqueue(event) {
			stalled = append(stalled, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stalled {
		h.log.Warn("dropping progression client with a full send queue", "user_id", userID)
		h.Unregister(c)
	}
}

// Connections returns how many live connections userID has
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}
