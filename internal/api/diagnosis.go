package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"brand-diagnosis/internal/pipeline"
	"brand-diagnosis/internal/protocol"
	"brand-diagnosis/internal/store"
	"brand-diagnosis/internal/util"
)

// diagnosisJob tracks the state of a running diagnosis.
type diagnosisJob struct {
	id        string
	sessionID string
	cancel    context.CancelFunc
	startedAt time.Time
	notifier  *RunNotifier
	done      chan struct{}
}

// startDiagnosis launches the pipeline for a persisted run.
func (s *Server) startDiagnosis(run *store.DiagnosisRun, input pipeline.Input) *diagnosisJob {
	ctx, cancel := context.WithCancel(context.Background())
	job := &diagnosisJob{
		id:        run.ID,
		sessionID: run.SessionID,
		cancel:    cancel,
		startedAt: run.StartedAt,
		notifier:  NewRunNotifier(run.ID),
		done:      make(chan struct{}),
	}

	s.jobMu.Lock()
	s.jobs[job.id] = job
	s.jobMu.Unlock()

	go s.runDiagnosis(ctx, job, input)
	return job
}

func (s *Server) notifierFor(runID string) *RunNotifier {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if job, ok := s.jobs[runID]; ok {
		return job.notifier
	}
	return nil
}

func (s *Server) runDiagnosis(ctx context.Context, job *diagnosisJob, input pipeline.Input) {
	log := logrus.WithFields(logrus.Fields{"run_id": job.id, "brand": input.BrandName})
	timer := util.StartTimer()

	defer func() {
		job.cancel()
		s.jobMu.Lock()
		delete(s.jobs, job.id)
		s.jobMu.Unlock()
		close(job.done)
	}()

	log.WithFields(logrus.Fields{
		"results":     len(input.Results),
		"competitors": len(input.Competitors),
	}).Info("diagnosis job started")

	orch := pipeline.New(pipeline.Options{
		Clock:          s.clock,
		Narrator:       s.narrator,
		RiskThresholds: s.thresholds,
		Logger:         log,
		OnStage:        func(stage pipeline.Stage) { s.recordStage(job, stage, log) },
	})
	run := orch.Start(input)
	for range run.Stages(ctx) {
	}

	report, ok := run.Report()
	if !ok {
		s.finishDiagnosis(job, store.StatusCancelled, "", "diagnosis run cancelled", log)
		log.WithField("duration", timer.Elapsed()).Info("diagnosis job cancelled")
		return
	}

	payload, err := json.Marshal(report)
	if err != nil {
		s.finishDiagnosis(job, store.StatusFailed, "", "encode report: "+err.Error(), log)
		log.WithError(err).Error("encode report")
		return
	}
	status := store.StatusCompleted
	if report.Partial() {
		status = store.StatusPartial
	}
	s.finishDiagnosis(job, status, string(payload), "", log)
	log.WithFields(logrus.Fields{
		"duration": timer.Elapsed(),
		"partial":  report.Partial(),
		"warnings": len(report.Warnings),
	}).Info("diagnosis job completed")
}

// recordStage persists a produced stage and broadcasts it to subscribers.
func (s *Server) recordStage(job *diagnosisJob, stage pipeline.Stage, log *logrus.Entry) {
	entry := log.WithFields(logrus.Fields{"stage": stage.Name, "progress": stage.ProgressPercent})

	payload, err := json.Marshal(stage.Payload)
	if err != nil {
		entry.WithError(err).Warn("encode stage payload")
		payload = nil
	}

	if err := s.db.SaveStage(&store.StageSnapshot{
		RunID:       job.id,
		Name:        string(stage.Name),
		Progress:    stage.ProgressPercent,
		PayloadJSON: string(payload),
		Degraded:    stage.Degraded,
		Warning:     stage.Warning,
	}); err != nil {
		entry.WithError(err).Warn("save stage snapshot")
	}
	if err := s.db.UpdateRunProgress(job.id, string(stage.Name), stage.ProgressPercent); err != nil {
		entry.WithError(err).Warn("update run progress")
	}
	if cleaned, ok := stage.Payload.(pipeline.CleanedPayload); ok {
		if records, err := json.Marshal(cleaned.Records); err == nil {
			if err := s.db.SaveRecords(job.id, string(records)); err != nil {
				entry.WithError(err).Warn("save records")
			}
		}
	}

	if stage.Name == pipeline.StageComplete {
		return
	}
	job.notifier.Broadcast(protocol.Message{
		Type:     protocol.TypeProgress,
		Progress: stage.ProgressPercent,
		Stage:    string(stage.Name),
	})
	job.notifier.Broadcast(protocol.Message{
		Type:     protocol.TypeStagePayload,
		Progress: stage.ProgressPercent,
		Stage:    string(stage.Name),
		Data:     payload,
	})
	entry.Debug("broadcast stage")
}

func (s *Server) finishDiagnosis(job *diagnosisJob, status, reportJSON, errMsg string, log *logrus.Entry) {
	if err := s.db.FinishRun(job.id, status, reportJSON, errMsg); err != nil {
		log.WithError(err).Warn("finish run")
	}
	run, err := s.db.GetRun(job.id)
	if err != nil {
		log.WithError(err).Warn("reload finished run")
		run = &store.DiagnosisRun{ID: job.id, Status: status, Error: errMsg, ReportJSON: reportJSON}
	}
	if msg, ok := terminalMessage(run); ok {
		job.notifier.Finish(msg)
	}
}
