package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"brand-diagnosis/internal/protocol"
)

// WebSocketTransport subscribes to a run's stage stream on the diagnosis server.
type WebSocketTransport struct {
	baseURL string
	apiKey  string
	dialer  *websocket.Dialer
}

// NewWebSocketTransport derives the websocket endpoint from an http(s) server URL.
func NewWebSocketTransport(serverURL, apiKey string) (*WebSocketTransport, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(serverURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return &WebSocketTransport{
		baseURL: u.String(),
		apiKey:  strings.TrimSpace(apiKey),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}, nil
}

// Connect dials the stream endpoint. Handshake failures are classified by
// status: 401/403 auth, 404/426 unsupported, 5xx server.
func (t *WebSocketTransport) Connect(ctx context.Context, sessionID, runID string) (PushStream, error) {
	endpoint := fmt.Sprintf("%s/api/diagnoses/%s/stream?session=%s", t.baseURL, url.PathEscape(runID), url.QueryEscape(sessionID))
	header := http.Header{}
	if t.apiKey != "" {
		header.Set("X-API-Key", t.apiKey)
	}

	conn, resp, err := t.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			kind := KindForStatus(resp.StatusCode)
			if kind == KindDowngrade {
				err = fmt.Errorf("%w: %v", ErrPushUnsupported, err)
			}
			return nil, &TransportError{Kind: kind, StatusCode: resp.StatusCode, Err: err}
		}
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return nil, &TransportError{Kind: KindTimeout, Err: err}
		}
		return nil, &TransportError{Kind: KindNetwork, Err: err}
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

// Recv reads one message, unblocking when ctx ends.
func (s *wsStream) Recv(ctx context.Context) (protocol.Message, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetReadDeadline(deadline)
	} else {
		_ = s.conn.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var msg protocol.Message
	if err := s.conn.ReadJSON(&msg); err != nil {
		if ctx.Err() != nil {
			return protocol.Message{}, &TransportError{Kind: KindTimeout, Err: ctx.Err()}
		}
		if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
			return protocol.Message{}, &TransportError{Kind: KindAuth, Err: err}
		}
		if websocket.IsCloseError(err, websocket.CloseInternalServerErr) {
			return protocol.Message{}, &TransportError{Kind: KindServer, Err: err}
		}
		return protocol.Message{}, &TransportError{Kind: KindNetwork, Err: err}
	}
	return msg, nil
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}
