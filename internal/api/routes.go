package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"brand-diagnosis/internal/ai"
	"brand-diagnosis/internal/protocol"
	"brand-diagnosis/internal/scoring"
	"brand-diagnosis/internal/store"
	"brand-diagnosis/internal/util"
)

// Config defines server dependencies.
type Config struct {
	DBPath         string
	AllowedOrigins []string
	SilentDB       bool
	APIKey         string
	AIConfig       ai.Config
	AIMaxRetries   int
	DisableAI      bool
	RiskThresholds scoring.ThresholdSet
	// Narrator replaces the narrator built from AIConfig when set.
	Narrator ai.Narrator
	Clock    util.Clock
}

// Server wires HTTP handlers with persistence and the diagnosis pipeline.
type Server struct {
	db             *store.Database
	allowedOrigins []string
	apiKey         string
	narrator       ai.Narrator
	thresholds     scoring.ThresholdSet
	clock          util.Clock
	jobMu          sync.Mutex
	jobs           map[string]*diagnosisJob
}

// NewServer constructs the API server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("db path required")
	}
	db, err := store.Open(cfg.DBPath, cfg.SilentDB)
	if err != nil {
		return nil, err
	}
	if n, err := db.MarkInterrupted(); err != nil {
		logrus.WithError(err).Warn("mark interrupted runs")
	} else if n > 0 {
		logrus.WithField("runs", n).Info("marked interrupted diagnosis runs as failed")
	}

	narrator := cfg.Narrator
	if narrator == nil {
		narrator = buildNarrator(cfg)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = util.SystemClock
	}

	return &Server{
		db:             db,
		allowedOrigins: cfg.AllowedOrigins,
		apiKey:         strings.TrimSpace(cfg.APIKey),
		narrator:       narrator,
		thresholds:     cfg.RiskThresholds,
		clock:          clock,
		jobs:           make(map[string]*diagnosisJob),
	}, nil
}

func buildNarrator(cfg Config) ai.Narrator {
	if cfg.DisableAI {
		logrus.Info("AI narrator disabled via configuration")
		return ai.HeuristicNarrator{}
	}
	client, err := ai.NewClient(cfg.AIConfig)
	if err != nil {
		if errors.Is(err, ai.ErrDisabled) {
			logrus.Info("AI narrator disabled - no API key configured")
		} else {
			logrus.WithError(err).Warn("ai client")
		}
		return ai.HeuristicNarrator{}
	}
	logrus.WithFields(logrus.Fields{
		"model":       cfg.AIConfig.Model,
		"max_retries": cfg.AIMaxRetries,
	}).Info("AI narrator enabled")
	return ai.WithRetry(client, ai.RetryPolicy{MaxAttempts: cfg.AIMaxRetries})
}

// Close cancels running diagnoses, waits for them, and closes the database.
func (s *Server) Close() error {
	s.jobMu.Lock()
	jobs := make([]*diagnosisJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.jobMu.Unlock()

	for _, job := range jobs {
		job.cancel()
		<-job.done
	}
	return s.db.Close()
}

// Router configures gin routes.
func (s *Server) Router() (*gin.Engine, error) {
	r := gin.Default()

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowCredentials = true
	if len(s.allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.allowedOrigins
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "X-API-Key"}
	corsCfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	r.Use(cors.New(corsCfg))

	r.GET("/api/healthz", s.handleHealth)

	api := r.Group("/api/diagnoses", s.requireAPIKey)
	{
		api.GET("", s.handleListRuns)
		api.POST("", s.handleCreateDiagnosis)
		api.GET("/:id", s.handleGetRun)
		api.DELETE("/:id", s.handleCancelDiagnosis)
		api.GET("/:id/status", s.handleStatus)
		api.GET("/:id/stream", s.handleStream)
		api.GET("/:id/report", s.handleReport)
		api.GET("/:id/stages", s.handleStages)
	}

	return r, nil
}

func (s *Server) requireAPIKey(c *gin.Context) {
	if s.apiKey == "" {
		c.Next()
		return
	}
	supplied := strings.TrimSpace(firstNonEmpty(c.GetHeader("X-API-Key"), c.Query("token")))
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.apiKey)) != 1 {
		s.renderError(c, http.StatusUnauthorized, errors.New("invalid or missing api key"))
		c.Abort()
		return
	}
	c.Next()
}

func (s *Server) handleHealth(c *gin.Context) {
	s.jobMu.Lock()
	running := len(s.jobs)
	s.jobMu.Unlock()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "running": running})
}

func (s *Server) handleCreateDiagnosis(c *gin.Context) {
	var req CreateDiagnosisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	input := req.input()
	if input.BrandName == "" {
		s.renderError(c, http.StatusBadRequest, errors.New("brand_name is required"))
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	run := &store.DiagnosisRun{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		BrandName: input.BrandName,
		StartedAt: s.clock(),
	}
	run.SetCompetitors(input.Competitors)
	if err := s.db.CreateRun(run); err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	s.startDiagnosis(run, input)

	base := "/api/diagnoses/" + run.ID
	c.JSON(http.StatusAccepted, CreateDiagnosisResponse{
		RunID:     run.ID,
		SessionID: run.SessionID,
		StreamURL: base + "/stream?session=" + run.SessionID,
		StatusURL: base + "/status",
		StartedAt: run.StartedAt,
	})
}

func (s *Server) handleListRuns(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, total, err := s.db.ListRuns(offset, limit)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	items := make([]RunDTO, 0, len(runs))
	for _, run := range runs {
		items = append(items, toRunDTO(run))
	}
	c.JSON(http.StatusOK, RunListResponse{Items: items, Total: total})
}

func (s *Server) handleGetRun(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toRunDTO(*run))
}

func (s *Server) handleCancelDiagnosis(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	if run.Terminal() {
		s.renderError(c, http.StatusConflict, fmt.Errorf("run %s already %s", run.ID, run.Status))
		return
	}

	s.jobMu.Lock()
	job := s.jobs[run.ID]
	s.jobMu.Unlock()
	if job == nil {
		s.renderError(c, http.StatusNotFound, errors.New("no diagnosis running"))
		return
	}

	job.cancel()
	logrus.WithField("run_id", run.ID).Info("diagnosis cancellation requested")
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

func (s *Server) handleStatus(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	resp := protocol.StatusResponse{
		RunID:    run.ID,
		Progress: run.Progress,
		Stage:    run.Stage,
		Status:   run.Status,
		Error:    run.Error,
		Stop:     run.Terminal(),
	}
	if strings.TrimSpace(run.RecordsJSON) != "" {
		var records []json.RawMessage
		if err := json.Unmarshal([]byte(run.RecordsJSON), &records); err != nil {
			logrus.WithError(err).WithField("run_id", run.ID).Warn("decode stored records")
		} else {
			resp.Results = records
		}
	}
	if strings.TrimSpace(run.ReportJSON) != "" {
		resp.Report = json.RawMessage(run.ReportJSON)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleReport(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	if strings.TrimSpace(run.ReportJSON) == "" {
		s.renderError(c, http.StatusNotFound, fmt.Errorf("report for run %s not available", run.ID))
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(run.ReportJSON))
}

func (s *Server) handleStages(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	stages, err := s.db.ListStages(run.ID)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	items := make([]StageDTO, 0, len(stages))
	for _, stage := range stages {
		items = append(items, toStageDTO(stage))
	}
	c.JSON(http.StatusOK, gin.H{"run_id": run.ID, "items": items})
}

func (s *Server) handleStream(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	if session := strings.TrimSpace(c.Query("session")); session != "" && session != run.SessionID {
		s.renderError(c, http.StatusForbidden, errors.New("session does not match run"))
		return
	}

	upgrader := websocket.Upgrader{
		HandshakeTimeout:  5 * time.Second,
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if len(s.allowedOrigins) == 0 || origin == "" {
				return true
			}
			for _, allowed := range s.allowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("upgrade websocket")
		return
	}
	log := logrus.WithFields(logrus.Fields{"run_id": run.ID, "remote": conn.RemoteAddr().String()})

	notifier, err := s.streamNotifier(run.ID)
	if err != nil {
		log.WithError(err).Warn("load run for replay")
		_ = conn.WriteJSON(protocol.Message{Type: protocol.TypeError, Kind: "server", Error: err.Error()})
		_ = conn.Close()
		return
	}
	client := notifier.Register(conn)
	log.Info("diagnosis websocket connected")
	defer notifier.Unregister(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Info("diagnosis websocket closed")
			} else {
				log.WithError(err).Warn("diagnosis websocket unexpected close")
			}
			break
		}
	}
}

// streamNotifier returns the live notifier for a running job. Once the job is
// gone it builds a replay notifier from a fresh read of the run, since the job
// may have finished after the caller loaded it.
func (s *Server) streamNotifier(runID string) (*RunNotifier, error) {
	if notifier := s.notifierFor(runID); notifier != nil {
		return notifier, nil
	}
	run, err := s.db.GetRun(runID)
	if err != nil {
		return nil, fmt.Errorf("reload run: %w", err)
	}
	notifier := NewRunNotifier(run.ID)
	notifier.Broadcast(protocol.Message{Type: protocol.TypeProgress, Progress: run.Progress, Stage: run.Stage})
	if msg, ok := terminalMessage(run); ok {
		notifier.Broadcast(msg)
	}
	return notifier, nil
}

func (s *Server) loadRun(c *gin.Context) (*store.DiagnosisRun, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		s.renderError(c, http.StatusBadRequest, errors.New("run id required"))
		return nil, false
	}
	run, err := s.db.GetRun(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.renderError(c, http.StatusNotFound, fmt.Errorf("run %s not found", id))
		} else {
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return nil, false
	}
	return run, true
}

func (s *Server) renderError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

// terminalMessage rebuilds the final push message of a stored run.
func terminalMessage(run *store.DiagnosisRun) (protocol.Message, bool) {
	switch run.Status {
	case store.StatusCompleted, store.StatusPartial:
		return protocol.Message{
			Type:     protocol.TypeComplete,
			Progress: 100,
			Stage:    "complete",
			Report:   json.RawMessage(run.ReportJSON),
			Partial:  run.Status == store.StatusPartial,
		}, true
	case store.StatusFailed, store.StatusCancelled:
		return protocol.Message{Type: protocol.TypeError, Kind: "server", Error: firstNonEmpty(run.Error, "diagnosis "+run.Status)}, true
	}
	return protocol.Message{}, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
