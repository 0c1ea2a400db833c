// Package websocket pushes dashboard events to connected browsers.
package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Event types.
const (
	TypeConnected    = "connected"
	TypePong         = "pong"
	TypeStatsUpdated = "stats_updated"
	TypeRunFinished  = "run_finished"
)

// Manager tracks websocket clients.
type Manager struct {
	clients    map[*websocket.Conn]bool
	clientsMux sync.Mutex
	upgrader   websocket.Upgrader
}

// NewManager returns a manager accepting any origin.
func NewManager() *Manager {
	return &Manager{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Message is one event sent to clients.
type Message struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// StatsUpdatedMessage announces that a data file was rewritten.
type StatsUpdatedMessage struct {
	File string `json:"file"`
}

// RunFinishedMessage announces the end of an API triggered update.
type RunFinishedMessage struct {
	RunID   string `json:"runId"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

func (m *Manager) AddClient(conn *websocket.Conn) {
	m.clientsMux.Lock()
	defer m.clientsMux.Unlock()
	m.clients[conn] = true
}

func (m *Manager) RemoveClient(conn *websocket.Conn) {
	m.clientsMux.Lock()
	defer m.clientsMux.Unlock()
	delete(m.clients, conn)
}

// Broadcast sends message to every client, dropping the ones that fail.
// Writes happen under the lock since a conn allows one writer at a time.
func (m *Manager) Broadcast(message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		return
	}

	m.clientsMux.Lock()
	defer m.clientsMux.Unlock()
	for client := range m.clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			delete(m.clients, client)
			client.Close()
		}
	}
}

// Send broadcasts an event of type typ stamped now.
func (m *Manager) Send(typ string, data interface{}) {
	m.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: data})
}

func (m *Manager) ClientCount() int {
	m.clientsMux.Lock()
	defer m.clientsMux.Unlock()
	return len(m.clients)
}

func (m *Manager) write(conn *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	m.clientsMux.Lock()
	defer m.clientsMux.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Handle upgrades the request and keeps the connection until the client
// leaves, answering {"type":"ping"} heartbeats.
func (m *Manager) Handle(c *gin.Context) {
	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket: upgrade failed: %v", err)
		return
	}
	defer func() {
		m.RemoveClient(conn)
		conn.Close()
	}()

	if err := m.write(conn, Message{Type: TypeConnected, Timestamp: time.Now(), Data: map[string]string{"message": "connected"}}); err != nil {
		return
	}
	m.AddClient(conn)
	log.Printf("websocket: client connected, total clients: %d", m.ClientCount())

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var clientMsg map[string]interface{}
		if json.Unmarshal(message, &clientMsg) == nil {
			if msgType, ok := clientMsg["type"].(string); ok && msgType == "ping" {
				if err := m.write(conn, Message{Type: TypePong, Timestamp: time.Now(), Data: map[string]string{"message": "pong"}}); err != nil {
					return
				}
			}
		}
	}
}
