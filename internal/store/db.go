package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("diagnosis run not found")

// Database wraps the GORM DB handle and exposes repository helpers.
type Database struct {
	gorm *gorm.DB
	mu   sync.Mutex
}

// Open initializes the SQLite-backed database at the provided path.
func Open(path string, silent bool) (*Database, error) {
	cfg := &gorm.Config{}
	if silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&DiagnosisRun{}, &StageSnapshot{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		logrus.WithError(err).Warn("enable WAL mode")
	}
	if err := db.Exec("PRAGMA synchronous=NORMAL").Error; err != nil {
		logrus.WithError(err).Warn("set synchronous pragma")
	}
	return &Database{gorm: db}, nil
}

// Close closes the underlying database connection.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateRun inserts a new run in the running state.
func (d *Database) CreateRun(run *DiagnosisRun) error {
	if run == nil {
		return errors.New("run is nil")
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Create(run).Error
}

// UpdateRunProgress records the latest stage reached by a run.
func (d *Database) UpdateRunProgress(runID, stage string, progress int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := d.gorm.Model(&DiagnosisRun{}).Where("id = ?", runID).Updates(map[string]any{
		"stage":      stage,
		"progress":   progress,
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveStage upserts the snapshot for a run's stage.
func (d *Database) SaveStage(snapshot *StageSnapshot) error {
	if snapshot == nil {
		return errors.New("stage snapshot is nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"progress", "payload_json", "degraded", "warning"}),
	}).Create(snapshot).Error
}

// SaveRecords stores the sanitized records of a run.
func (d *Database) SaveRecords(runID, recordsJSON string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Model(&DiagnosisRun{}).Where("id = ?", runID).Update("records_json", recordsJSON).Error
}

// FinishRun marks a run terminal and stores its report or error.
func (d *Database) FinishRun(runID, status, reportJSON, errMsg string) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":      status,
		"error":       errMsg,
		"finished_at": &now,
		"updated_at":  now,
	}
	if reportJSON != "" {
		updates["report_json"] = reportJSON
		updates["progress"] = 100
		updates["stage"] = "complete"
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Model(&DiagnosisRun{}).Where("id = ?", runID).Updates(updates).Error
}

// GetRun loads a run by id.
func (d *Database) GetRun(runID string) (*DiagnosisRun, error) {
	var run DiagnosisRun
	if err := d.gorm.First(&run, "id = ?", runID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &run, nil
}

// ListStages returns a run's snapshots in production order.
func (d *Database) ListStages(runID string) ([]StageSnapshot, error) {
	var out []StageSnapshot
	err := d.gorm.Where("run_id = ?", runID).Order("progress ASC").Order("id ASC").Find(&out).Error
	return out, err
}

// ListRuns pages through runs, newest first.
func (d *Database) ListRuns(offset, limit int) ([]DiagnosisRun, int64, error) {
	var (
		items []DiagnosisRun
		total int64
	)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := d.gorm.Model(&DiagnosisRun{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Omit("records_json", "report_json").Order("started_at DESC").Offset(offset).Limit(limit).Find(&items).Error
	return items, total, err
}

// MarkInterrupted fails runs left running by a previous process.
func (d *Database) MarkInterrupted() (int64, error) {
	now := time.Now().UTC()
	d.mu.Lock()
	defer d.mu.Unlock()
	res := d.gorm.Model(&DiagnosisRun{}).Where("status = ?", StatusRunning).Updates(map[string]any{
		"status":      StatusFailed,
		"error":       "interrupted by server restart",
		"finished_at": &now,
	})
	return res.RowsAffected, res.Error
}
