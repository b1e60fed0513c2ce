package rules

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testRegistry(t *testing.T) (*Registry, *SQLiteRepository) {
	t.Helper()
	repo := NewSQLiteRepository(setupTestDB(t))
	reg := NewRegistry(repo)
	reg.SetNow(func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) })
	return reg, repo
}

func TestRegistry_CreateAndGet(t *testing.T) {
	reg, _ := testRegistry(t)
	ctx := context.Background()

	rule := validRule()
	rule.ID = ""
	rule.Priority = 0
	if err := reg.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if rule.ID == "" {
		t.Fatal("CreateRule did not assign an ID")
	}
	if rule.Priority != defaultPriority {
		t.Errorf("priority = %d, want default %d", rule.Priority, defaultPriority)
	}

	got, err := reg.GetRule(ctx, rule.ID)
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if got.Name != rule.Name {
		t.Errorf("name = %q", got.Name)
	}

	// Returned copy must be isolated from the cache.
	got.Name = "mutated"
	again, _ := reg.GetRule(ctx, rule.ID)
	if again.Name == "mutated" {
		t.Error("GetRule returned a shared cache pointer")
	}
}

func TestRegistry_RefreshCacheLoadsFromRepo(t *testing.T) {
	reg, repo := testRegistry(t)
	ctx := context.Background()

	if err := repo.Create(ctx, storedRule("r1", "persisted", 50)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := reg.GetRule(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Fatal("cache unexpectedly warm before refresh")
	}

	if err := reg.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}
	if _, err := reg.GetRule(ctx, "r1"); err != nil {
		t.Errorf("GetRule after refresh: %v", err)
	}
	if reg.GetRuleCount() != 1 {
		t.Errorf("count = %d, want 1", reg.GetRuleCount())
	}
}

func TestRegistry_UpdatePreservesExecutionState(t *testing.T) {
	reg, repo := testRegistry(t)
	ctx := context.Background()

	rule := validRule()
	if err := reg.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	firedAt := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	if err := reg.recordExecution(ctx, rule.ID, ExecutionUpdate{
		LastExecutedAt: firedAt, ExecutionCount: 4, ExecutionCountToday: 2,
	}); err != nil {
		t.Fatalf("recordExecution: %v", err)
	}

	edit := validRule()
	edit.Name = "Renamed"
	edit.ExecutionCount = 0 // caller supplied stale state must not win
	if err := reg.UpdateRule(ctx, edit); err != nil {
		t.Fatalf("UpdateRule: %v", err)
	}

	got, err := repo.Get(ctx, rule.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Renamed" {
		t.Errorf("name = %q", got.Name)
	}
	if got.ExecutionCount != 4 || got.ExecutionCountToday != 2 {
		t.Errorf("execution state lost: %d/%d", got.ExecutionCount, got.ExecutionCountToday)
	}
	if got.LastExecutedAt == nil || !got.LastExecutedAt.Equal(firedAt) {
		t.Errorf("last executed = %v", got.LastExecutedAt)
	}
}

func TestRegistry_UpdateUnknownRule(t *testing.T) {
	reg, _ := testRegistry(t)

	if err := reg.UpdateRule(context.Background(), validRule()); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateRule = %v, want ErrNotFound", err)
	}
}

func TestRegistry_SetRuleEnabled(t *testing.T) {
	reg, repo := testRegistry(t)
	ctx := context.Background()

	rule := validRule()
	if err := reg.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	if err := reg.SetRuleEnabled(ctx, rule.ID, false); err != nil {
		t.Fatalf("SetRuleEnabled: %v", err)
	}
	got, _ := reg.GetRule(ctx, rule.ID)
	if got.Enabled {
		t.Error("rule still enabled in cache")
	}
	stored, _ := repo.Get(ctx, rule.ID)
	if stored.Enabled {
		t.Error("rule still enabled in repo")
	}

	// No-op toggle is fine.
	if err := reg.SetRuleEnabled(ctx, rule.ID, false); err != nil {
		t.Errorf("idempotent disable: %v", err)
	}

	if err := reg.SetRuleEnabled(ctx, "missing", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetRuleEnabled = %v, want ErrNotFound", err)
	}
}

func TestRegistry_DeleteRule(t *testing.T) {
	reg, _ := testRegistry(t)
	ctx := context.Background()

	rule := validRule()
	if err := reg.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if err := reg.DeleteRule(ctx, rule.ID); err != nil {
		t.Fatalf("DeleteRule: %v", err)
	}
	if _, err := reg.GetRule(ctx, rule.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRule after delete = %v, want ErrNotFound", err)
	}
}

func TestRegistry_ListEnabledFiltersAndSorts(t *testing.T) {
	reg, _ := testRegistry(t)
	ctx := context.Background()

	a := validRule()
	a.ID, a.Name, a.Priority = "a", "alpha", 20
	b := validRule()
	b.ID, b.Name, b.Priority = "b", "beta", 90
	c := validRule()
	c.ID, c.Name, c.Priority, c.Enabled = "c", "gamma", 99, false

	for _, r := range []*Rule{a, b, c} {
		if err := reg.CreateRule(ctx, r); err != nil {
			t.Fatalf("CreateRule %s: %v", r.ID, err)
		}
	}

	enabled := reg.ListEnabled(ctx)
	if len(enabled) != 2 {
		t.Fatalf("len = %d, want 2", len(enabled))
	}
	if enabled[0].ID != "b" || enabled[1].ID != "a" {
		t.Errorf("order = %s, %s", enabled[0].ID, enabled[1].ID)
	}
}
