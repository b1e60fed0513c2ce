package rules

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bryndle/hearth-core/internal/action"
	"github.com/bryndle/hearth-core/internal/condition"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	schema := `
		CREATE TABLE rules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			conditions TEXT NOT NULL DEFAULT '[]',
			logic_operator TEXT NOT NULL DEFAULT 'AND',
			actions TEXT NOT NULL DEFAULT '[]',
			enabled INTEGER NOT NULL DEFAULT 1,
			priority INTEGER NOT NULL DEFAULT 50,
			cooldown_seconds INTEGER NOT NULL DEFAULT 0,
			max_executions_per_day INTEGER NOT NULL DEFAULT 0,
			last_executed_at TEXT,
			execution_count INTEGER NOT NULL DEFAULT 0,
			execution_count_today INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			last_error_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func storedRule(id, name string, priority int) *Rule {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	desc := "turns the boiler off when it runs hot"
	return &Rule{
		ID:            id,
		Name:          name,
		Description:   &desc,
		LogicOperator: condition.LogicAnd,
		Conditions: []condition.Condition{
			{
				Type:     condition.TypeSensorValue,
				Target:   "boiler-1",
				Property: "temperature",
				Operator: condition.OpGreaterThan,
				Value:    90.0,
			},
		},
		Actions: []action.Action{
			{Type: action.TypeDeviceControl, Target: "boiler-1", Command: "off"},
			{Type: action.TypeNotification, Target: "ops", Parameters: map[string]any{"message": "boiler shut down"}},
		},
		Enabled:             true,
		Priority:            priority,
		CooldownSeconds:     300,
		MaxExecutionsPerDay: 5,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func TestSQLiteRepository_CreateGetRoundTrip(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	rule := storedRule("r1", "Overheat shutdown", 80)
	if err := repo.Create(ctx, rule); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != rule.Name || got.Priority != 80 || !got.Enabled {
		t.Errorf("got %+v", got)
	}
	if got.Description == nil || *got.Description != *rule.Description {
		t.Errorf("description = %v", got.Description)
	}
	if len(got.Conditions) != 1 || got.Conditions[0].Operator != condition.OpGreaterThan {
		t.Errorf("conditions = %+v", got.Conditions)
	}
	if len(got.Actions) != 2 || got.Actions[1].Type != action.TypeNotification {
		t.Errorf("actions = %+v", got.Actions)
	}
	if got.CooldownSeconds != 300 || got.MaxExecutionsPerDay != 5 {
		t.Errorf("gating = %d/%d", got.CooldownSeconds, got.MaxExecutionsPerDay)
	}
	if got.LastExecutedAt != nil || got.LastError != nil {
		t.Errorf("fresh rule carries execution state: %+v", got)
	}
}

func TestSQLiteRepository_CreateDuplicateID(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, storedRule("r1", "first", 50)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := repo.Create(ctx, storedRule("r1", "second", 50))
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("Create = %v, want ErrDuplicateID", err)
	}
}

func TestSQLiteRepository_GetNotFound(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	_, err := repo.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
}

func TestSQLiteRepository_ListOrdersByPriority(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	for _, r := range []*Rule{
		storedRule("r1", "low", 10),
		storedRule("r2", "high", 90),
		storedRule("r3", "mid", 50),
	} {
		if err := repo.Create(ctx, r); err != nil {
			t.Fatalf("Create %s: %v", r.ID, err)
		}
	}

	rules, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rules) != 3 {
		t.Fatalf("len = %d, want 3", len(rules))
	}
	if rules[0].ID != "r2" || rules[1].ID != "r3" || rules[2].ID != "r1" {
		t.Errorf("order = %s, %s, %s", rules[0].ID, rules[1].ID, rules[2].ID)
	}
}

func TestSQLiteRepository_Update(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	rule := storedRule("r1", "before", 50)
	if err := repo.Create(ctx, rule); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rule.Name = "after"
	rule.Enabled = false
	rule.CooldownSeconds = 60
	if err := repo.Update(ctx, rule); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := repo.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "after" || got.Enabled || got.CooldownSeconds != 60 {
		t.Errorf("got %+v", got)
	}
}

func TestSQLiteRepository_UpdateNotFound(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	err := repo.Update(context.Background(), storedRule("ghost", "ghost", 50))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Update = %v, want ErrNotFound", err)
	}
}

func TestSQLiteRepository_Delete(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, storedRule("r1", "doomed", 50)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Delete(ctx, "r1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	if err := repo.Delete(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestSQLiteRepository_RecordExecution(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, storedRule("r1", "counting", 50)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	firedAt := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	errMsg := "device channel down"
	upd := ExecutionUpdate{
		LastExecutedAt:      firedAt,
		ExecutionCount:      7,
		ExecutionCountToday: 3,
		LastError:           &errMsg,
		LastErrorAt:         &firedAt,
	}
	if err := repo.RecordExecution(ctx, "r1", upd); err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}

	got, err := repo.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastExecutedAt == nil || !got.LastExecutedAt.Equal(firedAt) {
		t.Errorf("last executed = %v, want %v", got.LastExecutedAt, firedAt)
	}
	if got.ExecutionCount != 7 || got.ExecutionCountToday != 3 {
		t.Errorf("counts = %d/%d", got.ExecutionCount, got.ExecutionCountToday)
	}
	if got.LastError == nil || *got.LastError != errMsg {
		t.Errorf("last error = %v", got.LastError)
	}
}

func TestSQLiteRepository_RecordExecutionClearsError(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, storedRule("r1", "recovering", 50)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	firedAt := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	errMsg := "transient"
	if err := repo.RecordExecution(ctx, "r1", ExecutionUpdate{
		LastExecutedAt: firedAt, ExecutionCount: 1, ExecutionCountToday: 1,
		LastError: &errMsg, LastErrorAt: &firedAt,
	}); err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}

	// A clean firing wipes the stored error.
	later := firedAt.Add(time.Minute)
	if err := repo.RecordExecution(ctx, "r1", ExecutionUpdate{
		LastExecutedAt: later, ExecutionCount: 2, ExecutionCountToday: 2,
	}); err != nil {
		t.Fatalf("second RecordExecution: %v", err)
	}

	got, err := repo.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastError != nil || got.LastErrorAt != nil {
		t.Errorf("error not cleared: %v at %v", got.LastError, got.LastErrorAt)
	}
}

func TestSQLiteRepository_RecordExecutionNotFound(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	err := repo.RecordExecution(context.Background(), "missing", ExecutionUpdate{
		LastExecutedAt: time.Now().UTC(),
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("RecordExecution = %v, want ErrNotFound", err)
	}
}
