package delivery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"brand-diagnosis/internal/protocol"
)

func TestWebSocketHandshakeClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected ErrorKind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusNotFound, KindDowngrade},
		{http.StatusUpgradeRequired, KindDowngrade},
		{http.StatusBadGateway, KindServer},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			transport, err := NewWebSocketTransport(server.URL, "")
			if err != nil {
				t.Fatalf("new transport: %v", err)
			}
			_, err = transport.Connect(context.Background(), "s1", "r1")
			if got := Classify(err); got != tc.expected {
				t.Fatalf("expected %s got %s (%v)", tc.expected, got, err)
			}
			if tc.expected == KindDowngrade && !errors.Is(err, ErrPushUnsupported) {
				t.Fatalf("downgrade should wrap ErrPushUnsupported: %v", err)
			}
		})
	}
}

func TestWebSocketStreamReceivesMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/diagnoses/r1/stream" || r.URL.Query().Get("session") != "s1" || r.Header.Get("X-API-Key") != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(protocol.Message{Type: protocol.TypeProgress, Progress: 25, Stage: "filled"})
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	transport, err := NewWebSocketTransport(server.URL, "secret")
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	stream, err := transport.Connect(context.Background(), "s1", "r1")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer stream.Close()

	msg, err := stream.Recv(context.Background())
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if msg.Type != protocol.TypeProgress || msg.Progress != 25 || msg.Stage != "filled" {
		t.Fatalf("unexpected message %+v", msg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := stream.Recv(ctx); Classify(err) != KindTimeout {
		t.Fatalf("expected timeout when ctx expires, got %v", err)
	}
}

func TestNewWebSocketTransportRejectsScheme(t *testing.T) {
	if _, err := NewWebSocketTransport("ftp://example.com", ""); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestHTTPPollTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/diagnoses/ok/status":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"progress":"37","stage":"scores","status":"running","detailed_results":[{}]}`))
		case "/api/diagnoses/denied/status":
			w.WriteHeader(http.StatusUnauthorized)
		case "/api/diagnoses/broken/status":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_, _ = w.Write([]byte(`not json`))
		}
	}))
	defer server.Close()

	transport := NewHTTPPollTransport(server.URL+"/", "", time.Second)

	status, err := transport.RequestStatus(context.Background(), "ok")
	if err != nil {
		t.Fatalf("request status: %v", err)
	}
	if status.Progress != 37 || status.Stage != "scores" || len(status.Results) != 1 {
		t.Fatalf("unexpected status %+v", status)
	}

	tests := map[string]ErrorKind{
		"denied":  KindAuth,
		"broken":  KindServer,
		"garbled": KindServer,
	}
	for runID, expected := range tests {
		_, err := transport.RequestStatus(context.Background(), runID)
		if got := Classify(err); got != expected {
			t.Fatalf("%s: expected %s got %s (%v)", runID, expected, got, err)
		}
	}
}
