package api

import (
	"encoding/json"
	"strings"
	"time"

	"brand-diagnosis/internal/pipeline"
	"brand-diagnosis/internal/sanitize"
	"brand-diagnosis/internal/store"
)

// CreateDiagnosisRequest submits raw model results for one brand.
type CreateDiagnosisRequest struct {
	BrandName   string               `json:"brand_name"`
	Competitors []string             `json:"competitors"`
	Results     []sanitize.RawResult `json:"results"`
	Extra       pipeline.Extra       `json:"extra"`
	SessionID   string               `json:"session_id"`
}

func (r CreateDiagnosisRequest) input() pipeline.Input {
	return pipeline.Input{
		Results:     r.Results,
		BrandName:   strings.TrimSpace(r.BrandName),
		Competitors: r.Competitors,
		Extra:       r.Extra,
	}
}

// CreateDiagnosisResponse describes the asynchronous diagnosis kickoff payload.
type CreateDiagnosisResponse struct {
	RunID     string    `json:"run_id"`
	SessionID string    `json:"session_id"`
	StreamURL string    `json:"stream_url"`
	StatusURL string    `json:"status_url"`
	StartedAt time.Time `json:"started_at"`
}

// RunDTO is the API representation of a persisted run.
type RunDTO struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	BrandName   string     `json:"brand_name"`
	Competitors []string   `json:"competitors"`
	Status      string     `json:"status"`
	Stage       string     `json:"stage"`
	Progress    int        `json:"progress"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// RunListResponse holds a page of runs and the total count.
type RunListResponse struct {
	Items []RunDTO `json:"items"`
	Total int64    `json:"total"`
}

// StageDTO is one persisted stage snapshot.
type StageDTO struct {
	Name      string          `json:"name"`
	Progress  int             `json:"progress"`
	Degraded  bool            `json:"degraded,omitempty"`
	Warning   string          `json:"warning,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func toRunDTO(run store.DiagnosisRun) RunDTO {
	competitors := run.Competitors()
	if competitors == nil {
		competitors = []string{}
	}
	return RunDTO{
		ID:          run.ID,
		SessionID:   run.SessionID,
		BrandName:   run.BrandName,
		Competitors: competitors,
		Status:      run.Status,
		Stage:       run.Stage,
		Progress:    run.Progress,
		Error:       run.Error,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
	}
}

func toStageDTO(s store.StageSnapshot) StageDTO {
	dto := StageDTO{
		Name:      s.Name,
		Progress:  s.Progress,
		Degraded:  s.Degraded,
		Warning:   s.Warning,
		CreatedAt: s.CreatedAt,
	}
	if strings.TrimSpace(s.PayloadJSON) != "" {
		dto.Payload = json.RawMessage(s.PayloadJSON)
	}
	return dto
}
