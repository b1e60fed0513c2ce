package escalation

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bryndle/hearth-core/internal/telemetry"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	schema := `
		CREATE TABLE escalations (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			issue_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			level INTEGER NOT NULL DEFAULT 1,
			notified_contacts TEXT NOT NULL DEFAULT '[]',
			resolved INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			escalated_at TEXT NOT NULL,
			resolved_at TEXT
		) STRICT;`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// recordingNotifier captures every tier notification.
type recordingNotifier struct {
	sends []notifierCall
	fail  bool
}

type notifierCall struct {
	recipients []string
	title      string
}

func (n *recordingNotifier) Send(_ context.Context, _ string, recipients []string, title, _ string, _ map[string]any) error {
	n.sends = append(n.sends, notifierCall{recipients: recipients, title: title})
	if n.fail {
		return errors.New("notification channel down")
	}
	return nil
}

func testManager(t *testing.T) (*Manager, *SQLiteRepository, *recordingNotifier, *time.Time) {
	t.Helper()
	repo := NewSQLiteRepository(setupTestDB(t))
	notifier := &recordingNotifier{}
	mgr := NewManager(repo, notifier, nil)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mgr.SetNow(func() time.Time { return now })
	return mgr, repo, notifier, &now
}

func TestManager_OpenNotifiesFirstTier(t *testing.T) {
	mgr, repo, notifier, _ := testManager(t)
	ctx := context.Background()

	esc, err := mgr.Open(ctx, "m1", "temperature_high", "critical")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if esc.Level != 1 {
		t.Errorf("level = %d, want 1", esc.Level)
	}
	if len(notifier.sends) != 1 || len(notifier.sends[0].recipients) != 1 || notifier.sends[0].recipients[0] != "frontline" {
		t.Errorf("sends = %+v", notifier.sends)
	}

	stored, err := repo.Get(ctx, esc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(stored.NotifiedContacts) != 1 || stored.NotifiedContacts[0] != "frontline" {
		t.Errorf("notified contacts = %v", stored.NotifiedContacts)
	}
}

func TestManager_OpenIsIdempotentWhileUnresolved(t *testing.T) {
	mgr, _, notifier, _ := testManager(t)
	ctx := context.Background()

	first, err := mgr.Open(ctx, "m1", "temperature_high", "critical")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	second, err := mgr.Open(ctx, "m1", "temperature_high", "critical")
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if first.ID != second.ID {
		t.Error("second Open should return the existing escalation")
	}
	if len(notifier.sends) != 1 {
		t.Errorf("sends = %d, want 1", len(notifier.sends))
	}
}

func TestManager_SweepEscalatesOncePerSweep(t *testing.T) {
	mgr, repo, notifier, now := testManager(t)
	ctx := context.Background()

	esc, err := mgr.Open(ctx, "m1", "temperature_high", "critical")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// 31 minutes later: one sweep raises to level 2 exactly once.
	*now = now.Add(31 * time.Minute)
	if err := mgr.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	got, _ := repo.Get(ctx, esc.ID)
	if got.Level != 2 {
		t.Fatalf("level after first sweep = %d, want 2", got.Level)
	}

	// Immediate second sweep: interval not elapsed again, no change.
	if err := mgr.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	got, _ = repo.Get(ctx, esc.ID)
	if got.Level != 2 {
		t.Errorf("level after immediate re-sweep = %d, want 2", got.Level)
	}

	// Tier 2 contacts were notified on the raise.
	last := notifier.sends[len(notifier.sends)-1]
	if len(last.recipients) != 3 {
		t.Errorf("tier 2 recipients = %v", last.recipients)
	}
}

func TestManager_LevelCapsAtThree(t *testing.T) {
	mgr, repo, _, now := testManager(t)
	ctx := context.Background()

	esc, err := mgr.Open(ctx, "m1", "pressure_low", "critical")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Sweep far past the interval repeatedly; level must stop at 3.
	for i := 0; i < 5; i++ {
		*now = now.Add(31 * time.Minute)
		if err := mgr.Sweep(ctx); err != nil {
			t.Fatalf("Sweep %d: %v", i, err)
		}
	}

	got, _ := repo.Get(ctx, esc.ID)
	if got.Level != MaxLevel {
		t.Errorf("level = %d, want %d", got.Level, MaxLevel)
	}
	// Contact history accumulates each tier once.
	want := []string{"frontline", "supervisor", "manager", "director", "executive"}
	if len(got.NotifiedContacts) != len(want) {
		t.Errorf("contacts = %v, want %v", got.NotifiedContacts, want)
	}
}

func TestManager_ResolveStopsEscalation(t *testing.T) {
	mgr, repo, _, now := testManager(t)
	ctx := context.Background()

	esc, err := mgr.Open(ctx, "m1", "temperature_high", "critical")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := mgr.Resolve(ctx, esc.ID); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := mgr.Resolve(ctx, esc.ID); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("second Resolve = %v, want ErrAlreadyResolved", err)
	}

	*now = now.Add(time.Hour)
	if err := mgr.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	got, _ := repo.Get(ctx, esc.ID)
	if got.Level != 1 {
		t.Errorf("resolved issue escalated to %d", got.Level)
	}

	// A new alarm for the same pair opens a fresh escalation.
	fresh, err := mgr.Open(ctx, "m1", "temperature_high", "critical")
	if err != nil {
		t.Fatalf("Open after resolve: %v", err)
	}
	if fresh.ID == esc.ID {
		t.Error("resolved escalation should not be reused")
	}
}

func TestManager_AlarmRaisedOpensOnlyCritical(t *testing.T) {
	mgr, repo, _, _ := testManager(t)
	ctx := context.Background()

	mgr.AlarmRaised(ctx, telemetry.Alarm{
		DeviceID: "m1", AlarmType: "temperature_high", Severity: telemetry.SeverityWarning,
	})
	mgr.AlarmRaised(ctx, telemetry.Alarm{
		DeviceID: "m1", AlarmType: "temperature_high", Severity: telemetry.SeverityCritical,
	})

	open, err := repo.List(ctx, false, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(open) != 1 {
		t.Errorf("open escalations = %d, want 1 (warnings do not escalate)", len(open))
	}
}

func TestManager_NotifierFailureDoesNotBlockLevel(t *testing.T) {
	mgr, repo, notifier, now := testManager(t)
	notifier.fail = true
	ctx := context.Background()

	esc, err := mgr.Open(ctx, "m1", "temperature_high", "critical")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	*now = now.Add(31 * time.Minute)
	if err := mgr.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	got, _ := repo.Get(ctx, esc.ID)
	if got.Level != 2 {
		t.Errorf("level = %d, want 2 despite notifier failure", got.Level)
	}
}

func TestManager_PruneResolved(t *testing.T) {
	mgr, repo, _, now := testManager(t)
	ctx := context.Background()

	esc, err := mgr.Open(ctx, "m1", "temperature_high", "critical")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := mgr.Resolve(ctx, esc.ID); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// Not old enough yet.
	deleted, err := mgr.PruneResolved(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneResolved: %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0", deleted)
	}

	*now = now.Add(48 * time.Hour)
	deleted, err = mgr.PruneResolved(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneResolved: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, err := repo.Get(ctx, esc.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("pruned escalation still present: %v", err)
	}
}
