package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"brand-diagnosis/internal/protocol"
)

func notifierServer(t *testing.T, n *RunNotifier) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := n.Register(conn)
		defer n.Unregister(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func dialNotifier(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg protocol.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestRunNotifierReplaysLatestStatus(t *testing.T) {
	n := NewRunNotifier("run-1")
	n.Broadcast(protocol.Message{Type: protocol.TypeProgress, Progress: 12, Stage: "cleaned"})
	n.Broadcast(protocol.Message{Type: protocol.TypeStagePayload, Progress: 12, Stage: "cleaned"})
	n.Broadcast(protocol.Message{Type: protocol.TypeProgress, Progress: 25, Stage: "filled"})

	server := notifierServer(t, n)
	conn := dialNotifier(t, server)

	if msg := readMessage(t, conn); msg.Type != protocol.TypeConnected || msg.RunID != "run-1" {
		t.Fatalf("expected connected message, got %+v", msg)
	}
	if msg := readMessage(t, conn); msg.Type != protocol.TypeProgress || msg.Progress != 25 {
		t.Fatalf("expected replay of latest progress, got %+v", msg)
	}

	n.Finish(protocol.Message{Type: protocol.TypeComplete, Progress: 100, Report: []byte(`{"ok":true}`)})
	if msg := readMessage(t, conn); msg.Type != protocol.TypeComplete || string(msg.Report) != `{"ok":true}` {
		t.Fatalf("expected complete message, got %+v", msg)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close after finish, got %v", err)
	}
}

func TestRunNotifierLateSubscriberGetsTerminal(t *testing.T) {
	n := NewRunNotifier("run-2")
	n.Broadcast(protocol.Message{Type: protocol.TypeProgress, Progress: 62, Stage: "risk"})
	n.Finish(protocol.Message{Type: protocol.TypeError, Kind: "server", Error: "boom"})
	n.Broadcast(protocol.Message{Type: protocol.TypeProgress, Progress: 75, Stage: "attribution"})

	if last := n.LastStatus(); last == nil || last.Progress != 62 {
		t.Fatalf("messages after the terminal one must be dropped, got %+v", last)
	}

	conn := dialNotifier(t, notifierServer(t, n))
	want := []string{protocol.TypeConnected, protocol.TypeProgress, protocol.TypeError}
	for _, typ := range want {
		if msg := readMessage(t, conn); msg.Type != typ {
			t.Fatalf("expected %s, got %+v", typ, msg)
		}
	}
}
