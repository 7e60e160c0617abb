package api

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"brand-diagnosis/internal/protocol"
)

// wsClient wraps a websocket connection with write locking.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// RunNotifier keeps track of the websocket clients watching one run and
// broadcasts its push messages.
type RunNotifier struct {
	runID      string
	mu         sync.Mutex
	clients    map[*wsClient]struct{}
	lastStatus *protocol.Message
	terminal   *protocol.Message
}

// NewRunNotifier constructs a notifier for one run.
func NewRunNotifier(runID string) *RunNotifier {
	return &RunNotifier{runID: runID, clients: make(map[*wsClient]struct{})}
}

// Register attaches a websocket connection and replays the latest progress
// and, once the run has ended, its terminal message.
func (n *RunNotifier) Register(conn *websocket.Conn) *wsClient {
	client := &wsClient{conn: conn}
	_ = client.writeJSON(protocol.Message{Type: protocol.TypeConnected, RunID: n.runID})

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lastStatus != nil {
		_ = client.writeJSON(*n.lastStatus)
	}
	if n.terminal != nil {
		_ = client.writeJSON(*n.terminal)
		return client
	}
	n.clients[client] = struct{}{}
	return client
}

// Unregister removes the websocket client from the notifier and closes the socket.
func (n *RunNotifier) Unregister(client *wsClient) {
	if client == nil {
		return
	}
	n.mu.Lock()
	delete(n.clients, client)
	n.mu.Unlock()
	_ = client.conn.Close()
}

// Broadcast sends the supplied message to all registered websocket clients.
func (n *RunNotifier) Broadcast(msg protocol.Message) {
	msg.RunID = n.runID

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.terminal != nil {
		return
	}
	switch msg.Type {
	case protocol.TypeProgress:
		snapshot := msg
		n.lastStatus = &snapshot
	case protocol.TypeComplete, protocol.TypeError:
		snapshot := msg
		n.terminal = &snapshot
	}

	for client := range n.clients {
		if err := client.writeJSON(msg); err != nil {
			delete(n.clients, client)
			_ = client.conn.Close()
		}
	}
}

// Finish broadcasts the terminal message and closes every client.
func (n *RunNotifier) Finish(msg protocol.Message) {
	n.Broadcast(msg)

	n.mu.Lock()
	defer n.mu.Unlock()
	for client := range n.clients {
		client.close()
		delete(n.clients, client)
	}
}

// LastStatus returns a copy of the latest progress message.
func (n *RunNotifier) LastStatus() *protocol.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lastStatus == nil {
		return nil
	}
	copy := *n.lastStatus
	return &copy
}

func (c *wsClient) writeJSON(payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(payload)
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"), deadline)
	_ = c.conn.Close()
}
