package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"brand-diagnosis/internal/ai"
	"brand-diagnosis/internal/delivery"
	"brand-diagnosis/internal/pipeline"
	"brand-diagnosis/internal/protocol"
	"brand-diagnosis/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const sampleBody = `{
  "brand_name": "Acme",
  "competitors": ["Rival"],
  "results": [
    {"brand": "Acme", "model": "chatgpt", "response": "Acme is a leader", "geoData": {
      "brandMentioned": true, "rank": 2, "sentiment": 0.5,
      "citedSources": [{"url": "https://www.review.example.com/acme", "sentiment": "negative"}]}},
    {"model": "gemini", "response": 42, "geoData": {"brandMentioned": true, "rank": -1, "sentiment": -0.2, "interception": "Rival"}},
    {"brand": "Rival", "model": "chatgpt", "response": "Rival is good", "geoData": {"brandMentioned": true, "rank": 1, "sentiment": 0.1}},
    {"brand": "Acme", "model": "perplexity", "error": "timeout"},
    {"brand": "Rival", "geoData": "garbage"}
  ]
}`

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	cfg.DBPath = filepath.Join(t.TempDir(), "api.db")
	cfg.SilentDB = true
	cfg.DisableAI = true
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	router, err := srv.Router()
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	ts := httptest.NewServer(router)
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})
	return srv, ts
}

func doRequest(t *testing.T, method, url, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func createDiagnosis(t *testing.T, baseURL string) CreateDiagnosisResponse {
	t.Helper()
	resp := doRequest(t, http.MethodPost, baseURL+"/api/diagnoses", sampleBody, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	return decode[CreateDiagnosisResponse](t, resp)
}

func waitForTerminal(t *testing.T, baseURL, runID string) protocol.StatusResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp := doRequest(t, http.MethodGet, baseURL+"/api/diagnoses/"+runID+"/status", "", nil)
		status := decode[protocol.StatusResponse](t, resp)
		if status.Stop {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish", runID)
	return protocol.StatusResponse{}
}

func TestCreateDiagnosisPersistsStagesAndReport(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	created := createDiagnosis(t, ts.URL)
	if created.RunID == "" || created.SessionID == "" {
		t.Fatalf("missing ids: %+v", created)
	}
	if created.StatusURL != "/api/diagnoses/"+created.RunID+"/status" {
		t.Fatalf("unexpected status url %s", created.StatusURL)
	}

	status := waitForTerminal(t, ts.URL, created.RunID)
	if status.Status != "completed" || status.Progress != 100 || len(status.Results) != 5 || len(status.Report) == 0 {
		t.Fatalf("unexpected final status %+v", status)
	}

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/diagnoses/"+created.RunID+"/report", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected report, got %d", resp.StatusCode)
	}
	report := decode[pipeline.FinalReport](t, resp)
	if report.BrandName != "Acme" || report.ScoreCards["Acme"].OverallScore != 63 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Narrative == nil || report.Narrative.Source != "heuristic" {
		t.Fatalf("expected heuristic narrative, got %+v", report.Narrative)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/diagnoses/"+created.RunID+"/stages", "", nil)
	stages := decode[struct {
		Items []StageDTO `json:"items"`
	}](t, resp)
	want := pipeline.Sequence()
	if len(stages.Items) != len(want) {
		t.Fatalf("expected %d stages, got %d", len(want), len(stages.Items))
	}
	for i, stage := range stages.Items {
		if stage.Name != string(want[i]) || len(stage.Payload) == 0 {
			t.Fatalf("unexpected stage %d: %+v", i, stage)
		}
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/diagnoses", "", nil)
	list := decode[RunListResponse](t, resp)
	if list.Total != 1 || list.Items[0].Status != "completed" || list.Items[0].Competitors[0] != "Rival" {
		t.Fatalf("unexpected run list %+v", list)
	}
}

func TestCreateDiagnosisRepairsExtraInputs(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	body := `{
		"brand_name": "Acme",
		"results": [{"brand":"Acme","model":"chatgpt","response":"ok","geoData":{"brandMentioned":true,"rank":1,"sentiment":0.3}}],
		"extra": {
			"negativeSources": [{"title":"Forum","sentiment":-0.8,"rank":"9"}, {"title":"Review","sentiment":"Negative"}],
			"interceptions": {"Gemini": {"interceptions":"3","totalMentions":"4"}}
		}
	}`
	resp := doRequest(t, http.MethodPost, ts.URL+"/api/diagnoses", body, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	created := decode[CreateDiagnosisResponse](t, resp)
	waitForTerminal(t, ts.URL, created.RunID)

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/diagnoses/"+created.RunID+"/report", "", nil)
	report := decode[pipeline.FinalReport](t, resp)
	if report.Attribution.ThreatCount != 2 {
		t.Fatalf("expected 2 threats, got %+v", report.Attribution)
	}
	patterns := report.Attribution.InterceptionPatterns
	if len(patterns) != 1 || patterns[0].Platform != "gemini" {
		t.Fatalf("expected gemini pattern, got %+v", patterns)
	}
}

func TestStreamReplayReadsFinishedRun(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	run := &store.DiagnosisRun{ID: "run-finished", SessionID: "s1", BrandName: "Acme"}
	if err := srv.db.CreateRun(run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	stale, err := srv.db.GetRun(run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if stale.Status != store.StatusRunning {
		t.Fatalf("expected running run, got %s", stale.Status)
	}
	if err := srv.db.FinishRun(run.ID, store.StatusCompleted, `{"brandName":"Acme"}`, ""); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	notifier, err := srv.streamNotifier(run.ID)
	if err != nil {
		t.Fatalf("stream notifier: %v", err)
	}
	if notifier.terminal == nil || notifier.terminal.Type != protocol.TypeComplete {
		t.Fatalf("expected terminal complete message, got %+v", notifier.terminal)
	}
	if last := notifier.LastStatus(); last == nil || last.Progress != 100 {
		t.Fatalf("expected final progress replay, got %+v", last)
	}

	if _, err := srv.streamNotifier("missing"); err == nil {
		t.Fatalf("expected error for unknown run")
	}
}

func TestRequestErrors(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"malformed body", http.MethodPost, "/api/diagnoses", `{"brand_name":`, http.StatusBadRequest},
		{"missing brand", http.MethodPost, "/api/diagnoses", `{"brand_name":"  ","results":[]}`, http.StatusBadRequest},
		{"unknown status", http.MethodGet, "/api/diagnoses/nope/status", "", http.StatusNotFound},
		{"unknown report", http.MethodGet, "/api/diagnoses/nope/report", "", http.StatusNotFound},
		{"unknown cancel", http.MethodDelete, "/api/diagnoses/nope", "", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := doRequest(t, tc.method, ts.URL+tc.path, tc.body, nil)
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, resp.StatusCode)
			}
			body := decode[map[string]string](t, resp)
			if body["error"] == "" {
				t.Fatalf("expected error body, got %v", body)
			}
		})
	}
}

func TestAPIKeyRequired(t *testing.T) {
	_, ts := newTestServer(t, Config{APIKey: "secret"})

	if resp := doRequest(t, http.MethodGet, ts.URL+"/api/healthz", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("health check should be open, got %d", resp.StatusCode)
	}
	if resp := doRequest(t, http.MethodPost, ts.URL+"/api/diagnoses", sampleBody, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", resp.StatusCode)
	}
	resp := doRequest(t, http.MethodPost, ts.URL+"/api/diagnoses", sampleBody, http.Header{"X-Api-Key": {"secret"}})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 with key, got %d", resp.StatusCode)
	}
	created := decode[CreateDiagnosisResponse](t, resp)

	if resp := doRequest(t, http.MethodGet, ts.URL+"/api/diagnoses/"+created.RunID+"/status?token=secret", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected token query to authorize, got %d", resp.StatusCode)
	}

	ws, err := delivery.NewWebSocketTransport(ts.URL, "wrong")
	if err != nil {
		t.Fatalf("transport: %v", err)
	}
	if _, err := ws.Connect(context.Background(), created.SessionID, created.RunID); delivery.Classify(err) != delivery.KindAuth {
		t.Fatalf("expected auth failure on stream handshake, got %v", err)
	}
}

func TestStreamRejectsForeignSession(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	created := createDiagnosis(t, ts.URL)
	resp := doRequest(t, http.MethodGet, ts.URL+"/api/diagnoses/"+created.RunID+"/stream?session=other", "", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

type blockingNarrator struct {
	once    sync.Once
	entered chan struct{}
}

func (b *blockingNarrator) Enabled() bool { return true }

func (b *blockingNarrator) Narrate(ctx context.Context, _ ai.NarrativeInput) (ai.Narrative, error) {
	b.once.Do(func() { close(b.entered) })
	<-ctx.Done()
	return ai.Narrative{}, ctx.Err()
}

func TestCancelDiagnosis(t *testing.T) {
	narrator := &blockingNarrator{entered: make(chan struct{})}
	_, ts := newTestServer(t, Config{Narrator: narrator})
	created := createDiagnosis(t, ts.URL)

	select {
	case <-narrator.entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("pipeline never reached the narrative")
	}

	if resp := doRequest(t, http.MethodGet, ts.URL+"/api/diagnoses/"+created.RunID+"/report", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before completion, got %d", resp.StatusCode)
	}
	if resp := doRequest(t, http.MethodDelete, ts.URL+"/api/diagnoses/"+created.RunID, "", nil); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 on cancel, got %d", resp.StatusCode)
	}

	status := waitForTerminal(t, ts.URL, created.RunID)
	if status.Status != "cancelled" || len(status.Report) != 0 || len(status.Results) == 0 {
		t.Fatalf("unexpected cancelled status %+v", status)
	}
	if resp := doRequest(t, http.MethodDelete, ts.URL+"/api/diagnoses/"+created.RunID, "", nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on finished run, got %d", resp.StatusCode)
	}

	// A stream opened after the job is gone replays the stored outcome.
	ws, err := delivery.NewWebSocketTransport(ts.URL, "")
	if err != nil {
		t.Fatalf("transport: %v", err)
	}
	ctrl := delivery.New(delivery.Config{RunID: created.RunID, SessionID: created.SessionID, HardTimeout: 5 * time.Second}, ws, nil)
	ctrl.Start(context.Background())
	var last delivery.Event
	for ev := range ctrl.Events() {
		last = ev
	}
	if last.Type != delivery.EventError || last.Kind != delivery.KindServer {
		t.Fatalf("expected server error event, got %+v", last)
	}
}

func TestDiagnosisDeliveredToController(t *testing.T) {
	for _, mode := range []string{"push", "poll"} {
		t.Run(mode, func(t *testing.T) {
			_, ts := newTestServer(t, Config{})
			created := createDiagnosis(t, ts.URL)

			var push delivery.PushTransport
			if mode == "push" {
				ws, err := delivery.NewWebSocketTransport(ts.URL, "")
				if err != nil {
					t.Fatalf("transport: %v", err)
				}
				push = ws
			}
			poll := delivery.NewHTTPPollTransport(ts.URL, "", time.Second)
			ctrl := delivery.New(delivery.Config{
				RunID:           created.RunID,
				SessionID:       created.SessionID,
				HardTimeout:     10 * time.Second,
				MinPollInterval: 5 * time.Millisecond,
				MaxPollInterval: 20 * time.Millisecond,
			}, push, poll)
			ctrl.Start(context.Background())

			var last delivery.Event
			for ev := range ctrl.Events() {
				last = ev
			}
			<-ctrl.Done()
			if last.Type != delivery.EventComplete || last.Partial {
				t.Fatalf("expected clean completion, got %+v", last)
			}
			var report pipeline.FinalReport
			if err := json.Unmarshal(last.Report, &report); err != nil {
				t.Fatalf("decode report: %v", err)
			}
			if report.BrandName != "Acme" || report.SOV.BrandMentions != 2 {
				t.Fatalf("unexpected report %+v", report)
			}
		})
	}
}
