package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bryndle/hearth-core/internal/action"
	"github.com/bryndle/hearth-core/internal/schedule"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	schemaSQL := `
		CREATE TABLE scheduled_tasks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			schedule_type TEXT NOT NULL,
			schedule_config TEXT NOT NULL DEFAULT '{}',
			task_action TEXT NOT NULL DEFAULT '{}',
			enabled INTEGER NOT NULL DEFAULT 1,
			max_runs INTEGER NOT NULL DEFAULT 0,
			next_run_at TEXT,
			last_run_at TEXT,
			run_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			last_error_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;`
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func storedTask(id, name string) *Task {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	next := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &Task{
		ID:             id,
		Name:           name,
		ScheduleType:   schedule.TypeDaily,
		ScheduleConfig: schedule.Config{Time: "09:00"},
		Action: action.Action{
			Type:    action.TypeDeviceControl,
			Target:  "pump-1",
			Command: "cycle",
		},
		Enabled:   true,
		MaxRuns:   10,
		NextRunAt: &next,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSQLiteRepository_CreateGetRoundTrip(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	task := storedTask("t1", "Morning pump cycle")
	if err := repo.Create(ctx, task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != task.Name || !got.Enabled || got.MaxRuns != 10 {
		t.Errorf("got %+v", got)
	}
	if got.ScheduleType != schedule.TypeDaily || got.ScheduleConfig.Time != "09:00" {
		t.Errorf("schedule = %s %+v", got.ScheduleType, got.ScheduleConfig)
	}
	if got.Action.Target != "pump-1" || got.Action.Command != "cycle" {
		t.Errorf("action = %+v", got.Action)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(*task.NextRunAt) {
		t.Errorf("next run = %v", got.NextRunAt)
	}
	if got.LastRunAt != nil || got.RunCount != 0 {
		t.Errorf("fresh task carries run state: %+v", got)
	}
}

func TestSQLiteRepository_CreateDuplicateID(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, storedTask("t1", "first")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, storedTask("t1", "second")); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("Create = %v, want ErrDuplicateID", err)
	}
}

func TestSQLiteRepository_GetNotFound(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
}

func TestSQLiteRepository_UpdateAndDelete(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	task := storedTask("t1", "before")
	if err := repo.Create(ctx, task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	task.Name = "after"
	task.Enabled = false
	task.ScheduleType = schedule.TypeInterval
	task.ScheduleConfig = schedule.Config{Minutes: 15}
	if err := repo.Update(ctx, task); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := repo.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "after" || got.Enabled || got.ScheduleConfig.Minutes != 15 {
		t.Errorf("got %+v", got)
	}

	if err := repo.Delete(ctx, "t1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := repo.Delete(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestSQLiteRepository_RecordRun(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, storedTask("t1", "counting")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ranAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	next := ranAt.Add(24 * time.Hour)
	if err := repo.RecordRun(ctx, "t1", RunUpdate{
		Enabled:   true,
		NextRunAt: &next,
		LastRunAt: &ranAt,
		RunCount:  1,
	}); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	got, err := repo.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RunCount != 1 || got.LastRunAt == nil || !got.LastRunAt.Equal(ranAt) {
		t.Errorf("run state = %d %v", got.RunCount, got.LastRunAt)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(next) {
		t.Errorf("next run = %v", got.NextRunAt)
	}

	// Disabling clears the due time.
	if err := repo.RecordRun(ctx, "t1", RunUpdate{
		Enabled:   false,
		LastRunAt: &ranAt,
		RunCount:  1,
	}); err != nil {
		t.Fatalf("second RecordRun: %v", err)
	}
	got, _ = repo.Get(ctx, "t1")
	if got.Enabled || got.NextRunAt != nil {
		t.Errorf("disable not recorded: enabled=%v next=%v", got.Enabled, got.NextRunAt)
	}

	if err := repo.RecordRun(ctx, "missing", RunUpdate{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("RecordRun = %v, want ErrNotFound", err)
	}
}
