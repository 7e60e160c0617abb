package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "diagnosis.db"), true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)

	run := &DiagnosisRun{ID: "run-1", SessionID: "s-1", BrandName: "Acme"}
	run.SetCompetitors([]string{"Rival"})
	if err := db.CreateRun(run); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := db.UpdateRunProgress("run-1", "scores", 37); err != nil {
		t.Fatalf("progress: %v", err)
	}
	if err := db.SaveRecords("run-1", `[{"brand":"Acme"}]`); err != nil {
		t.Fatalf("records: %v", err)
	}

	got, err := db.GetRun("run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusRunning || got.Stage != "scores" || got.Progress != 37 || got.Terminal() {
		t.Fatalf("unexpected run %+v", got)
	}
	if c := got.Competitors(); len(c) != 1 || c[0] != "Rival" {
		t.Fatalf("unexpected competitors %v", c)
	}

	if err := db.FinishRun("run-1", StatusCompleted, `{"brandName":"Acme"}`, ""); err != nil {
		t.Fatalf("finish: %v", err)
	}
	got, _ = db.GetRun("run-1")
	if !got.Terminal() || got.Progress != 100 || got.ReportJSON == "" || got.FinishedAt == nil {
		t.Fatalf("unexpected finished run %+v", got)
	}
}

func TestMissingRun(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.GetRun("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := db.UpdateRunProgress("nope", "cleaned", 12); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStageSnapshotsUpsertAndOrder(t *testing.T) {
	db := openTestDB(t)
	if err := db.CreateRun(&DiagnosisRun{ID: "run-2", BrandName: "Acme"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, s := range []StageSnapshot{
		{RunID: "run-2", Name: "filled", Progress: 25, PayloadJSON: "{}"},
		{RunID: "run-2", Name: "cleaned", Progress: 12, PayloadJSON: "{}"},
		{RunID: "run-2", Name: "filled", Progress: 25, PayloadJSON: `{"v":2}`, Degraded: true, Warning: "filled stage degraded"},
	} {
		snap := s
		if err := db.SaveStage(&snap); err != nil {
			t.Fatalf("save stage: %v", err)
		}
	}
	stages, err := db.ListStages("run-2")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stages) != 2 || stages[0].Name != "cleaned" || stages[1].Name != "filled" {
		t.Fatalf("unexpected stages %+v", stages)
	}
	if !stages[1].Degraded || stages[1].PayloadJSON != `{"v":2}` {
		t.Fatalf("upsert did not replace snapshot: %+v", stages[1])
	}
}

func TestListRunsAndInterrupted(t *testing.T) {
	db := openTestDB(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := db.CreateRun(&DiagnosisRun{ID: id, BrandName: id}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := db.FinishRun("a", StatusCompleted, "{}", ""); err != nil {
		t.Fatalf("finish: %v", err)
	}
	runs, total, err := db.ListRuns(0, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(runs) != 2 {
		t.Fatalf("expected 2 of 3 runs, got %d of %d", len(runs), total)
	}
	n, err := db.MarkInterrupted()
	if err != nil || n != 2 {
		t.Fatalf("expected 2 interrupted runs, got %d (%v)", n, err)
	}
	b, _ := db.GetRun("b")
	if b.Status != StatusFailed || b.Error == "" {
		t.Fatalf("unexpected interrupted run %+v", b)
	}
}
