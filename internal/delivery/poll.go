package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"brand-diagnosis/internal/protocol"
)

// HTTPPollTransport requests run status from the diagnosis server.
type HTTPPollTransport struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewHTTPPollTransport builds a poll transport against serverURL.
func NewHTTPPollTransport(serverURL, apiKey string, timeout time.Duration) *HTTPPollTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPPollTransport{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(strings.TrimSpace(serverURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
	}
}

// RequestStatus issues one status request.
func (t *HTTPPollTransport) RequestStatus(ctx context.Context, runID string) (protocol.StatusResponse, error) {
	endpoint := fmt.Sprintf("%s/api/diagnoses/%s/status", t.baseURL, url.PathEscape(runID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return protocol.StatusResponse{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if t.apiKey != "" {
		req.Header.Set("X-API-Key", t.apiKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		kind := KindNetwork
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			kind = KindTimeout
		}
		return protocol.StatusResponse{}, &TransportError{Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		kind := KindForStatus(resp.StatusCode)
		if kind == KindDowngrade {
			kind = KindServer
		}
		return protocol.StatusResponse{}, &TransportError{
			Kind:       kind,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("status endpoint: %s", strings.TrimSpace(string(body))),
		}
	}

	var status protocol.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return protocol.StatusResponse{}, &TransportError{Kind: KindServer, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode status: %w", err)}
	}
	return status, nil
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
