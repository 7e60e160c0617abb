package store

import (
	"encoding/json"
	"strings"
	"time"
)

// Run statuses persisted on DiagnosisRun.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusPartial   = "partial_completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// DiagnosisRun is one submitted brand diagnosis and its latest state.
type DiagnosisRun struct {
	ID              string `gorm:"primaryKey;size:64"`
	SessionID       string `gorm:"size:64;index"`
	BrandName       string `gorm:"size:255;index"`
	CompetitorsJSON string `gorm:"type:text"`
	Status          string `gorm:"size:32;index"`
	Stage           string `gorm:"size:32"`
	Progress        int
	Error           string `gorm:"size:512"`
	RecordsJSON     string `gorm:"type:text"`
	ReportJSON      string `gorm:"type:text"`
	StartedAt       time.Time
	FinishedAt      *time.Time
	UpdatedAt       time.Time
}

// SetCompetitors stores the competitor list as JSON.
func (r *DiagnosisRun) SetCompetitors(names []string) {
	if names == nil {
		names = []string{}
	}
	payload, _ := json.Marshal(names)
	r.CompetitorsJSON = string(payload)
}

// Competitors returns the decoded competitor list.
func (r *DiagnosisRun) Competitors() []string {
	if strings.TrimSpace(r.CompetitorsJSON) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(r.CompetitorsJSON), &out); err != nil {
		return nil
	}
	return out
}

// Terminal reports whether the run has stopped.
func (r *DiagnosisRun) Terminal() bool {
	switch r.Status {
	case StatusCompleted, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// StageSnapshot records one produced stage of a run.
type StageSnapshot struct {
	ID          uint   `gorm:"primaryKey"`
	RunID       string `gorm:"size:64;index:idx_stage_run_name,unique"`
	Name        string `gorm:"size:32;index:idx_stage_run_name,unique"`
	Progress    int
	PayloadJSON string `gorm:"type:text"`
	Degraded    bool
	Warning     string    `gorm:"size:512"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}
