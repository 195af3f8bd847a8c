package api

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	clientQueueSize = 16
	writeTimeout    = 10 * time.Second
)

// DecisionEvent describes websocket payloads emitted for every decision.
type DecisionEvent struct {
	Type      string       `json:"type"`
	RequestID string       `json:"request_id"`
	BatchID   uint         `json:"batch_id,omitempty"`
	Decision  *DecisionDTO `json:"decision,omitempty"`
	Processed int          `json:"processed,omitempty"`
	Total     int          `json:"total,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// wsClient owns a websocket connection and the queue drained by its writer.
type wsClient struct {
	conn *websocket.Conn
	send chan DecisionEvent
}

// DecisionNotifier keeps track of websocket clients and broadcasts decision events.
// Broadcast never blocks on a client: a client whose queue is full is dropped.
type DecisionNotifier struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	last    *DecisionEvent
}

// NewDecisionNotifier constructs a notifier instance.
func NewDecisionNotifier() *DecisionNotifier {
	return &DecisionNotifier{clients: make(map[*wsClient]struct{})}
}

// Register attaches a websocket connection, replays the last event to it and
// starts its writer.
func (n *DecisionNotifier) Register(conn *websocket.Conn) *wsClient {
	client := &wsClient{conn: conn, send: make(chan DecisionEvent, clientQueueSize)}
	n.mu.Lock()
	if n.last != nil {
		client.send <- *n.last
	}
	n.clients[client] = struct{}{}
	n.mu.Unlock()
	go n.writeLoop(client)
	return client
}

// Unregister removes the websocket client from the notifier and closes the socket.
func (n *DecisionNotifier) Unregister(client *wsClient) {
	if client == nil {
		return
	}
	n.mu.Lock()
	n.dropLocked(client)
	n.mu.Unlock()
	_ = client.conn.Close()
}

// dropLocked must be called with n.mu held. It is safe to call twice.
func (n *DecisionNotifier) dropLocked(client *wsClient) {
	if _, ok := n.clients[client]; !ok {
		return
	}
	delete(n.clients, client)
	close(client.send)
}

// Clients returns the number of connected websocket clients.
func (n *DecisionNotifier) Clients() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.clients)
}

// Broadcast queues the supplied event for all registered websocket clients.
func (n *DecisionNotifier) Broadcast(event DecisionEvent) {
	event.Timestamp = time.Now().UTC()

	n.mu.Lock()
	defer n.mu.Unlock()
	snapshot := event
	n.last = &snapshot
	for client := range n.clients {
		select {
		case client.send <- event:
		default:
			logrus.WithField("remote", client.conn.RemoteAddr().String()).Warn("decision websocket too slow, dropping")
			n.dropLocked(client)
			_ = client.conn.Close()
		}
	}
}

// LastEvent returns a copy of the most recently broadcast event.
func (n *DecisionNotifier) LastEvent() *DecisionEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.last == nil {
		return nil
	}
	copy := *n.last
	return &copy
}

func (n *DecisionNotifier) writeLoop(client *wsClient) {
	for event := range client.send {
		_ = client.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := client.conn.WriteJSON(event); err != nil {
			n.Unregister(client)
			return
		}
	}
}
