package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tabwatch/tabwatch/watch"
)

// WebSocket timeout constants following Gorilla best practices
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

// Client is one connected websocket consumer of the status stream
type Client struct {
	conn    *websocket.Conn
	sendMsg chan interface{}
	once    sync.Once
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.sendMsg)
	})
}

// HandleWebSocket upgrades the connection and streams watch lifecycle
// events until the client disconnects.
func (s *TabwatchServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn:    conn,
		sendMsg: make(chan interface{}, 64),
	}

	s.mu.Lock()
	s.clients[client] = true
	clientCount := len(s.clients)
	s.mu.Unlock()

	s.logger.Infow("WebSocket client connected", "clients", clientCount)

	go s.writePump(client)
	go s.readPump(client)
}

// writePump sends queued messages and keepalive pings to one client
func (s *TabwatchServer) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.sendMsg:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteJSON(msg); err != nil {
				s.removeClient(client)
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.removeClient(client)
				return
			}
		}
	}
}

// readPump discards inbound messages and detects disconnects
func (s *TabwatchServer) readPump(client *Client) {
	defer func() {
		s.removeClient(client)
		client.conn.Close()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *TabwatchServer) removeClient(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		client.close()
	}
	clientCount := len(s.clients)
	s.mu.Unlock()
	s.logger.Debugw("WebSocket client disconnected", "clients", clientCount)
}

// broadcastMessage sends a message to all connected clients.
// Returns the number of clients that accepted the message.
func (s *TabwatchServer) broadcastMessage(msg interface{}) int {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		select {
		case client.sendMsg <- msg:
			sent++
		default:
			// Channel full - skip
		}
	}
	return sent
}

// wsEvent is the envelope for every message on the status stream
type wsEvent struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

func newEvent(eventType string, payload interface{}) wsEvent {
	return wsEvent{Type: eventType, Timestamp: time.Now(), Payload: payload}
}

// BroadcastWatchStarted implements schedule.ExecutionBroadcaster
func (s *TabwatchServer) BroadcastWatchStarted(tabID, executionID string) {
	s.broadcastMessage(newEvent("watch_started", map[string]string{
		"tab_id":       tabID,
		"execution_id": executionID,
	}))
}

// BroadcastWatchCompleted implements schedule.ExecutionBroadcaster
func (s *TabwatchServer) BroadcastWatchCompleted(tabID, executionID string, durationMs int) {
	s.broadcastMessage(newEvent("watch_completed", map[string]interface{}{
		"tab_id":       tabID,
		"execution_id": executionID,
		"duration_ms":  durationMs,
	}))
}

// BroadcastWatchFailed implements schedule.ExecutionBroadcaster
func (s *TabwatchServer) BroadcastWatchFailed(tabID, executionID, errorMsg string, errorDetails []string, durationMs int) {
	s.broadcastMessage(newEvent("watch_failed", map[string]interface{}{
		"tab_id":        tabID,
		"execution_id":  executionID,
		"error":         errorMsg,
		"error_details": errorDetails,
		"duration_ms":   durationMs,
	}))
}

// OnStatusChange streams status board transitions. Wired as the board's
// onChange hook.
func (s *TabwatchServer) OnStatusChange(status watch.Status) {
	s.broadcastMessage(newEvent("status", status))
}
