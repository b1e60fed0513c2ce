package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bryndle/hearth-core/internal/action"
	"github.com/bryndle/hearth-core/internal/schedule"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type countingChannel struct {
	mu    sync.Mutex
	sends int
	fail  bool
}

func (ch *countingChannel) Send(context.Context, string, string, map[string]any) (string, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.sends++
	if ch.fail {
		return "", errors.New("device unreachable")
	}
	return "ok", nil
}

func (ch *countingChannel) count() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.sends
}

type schedFixture struct {
	sched    *Scheduler
	registry *Registry
	channel  *countingChannel
	clock    *fakeClock
}

func testScheduler(t *testing.T) *schedFixture {
	t.Helper()

	// Sunday 08:00 UTC.
	clock := &fakeClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}

	reg := NewRegistry(NewSQLiteRepository(setupTestDB(t)))
	reg.SetNow(clock.Now)

	channel := &countingChannel{}
	dispatcher := action.NewDispatcher(action.Deps{Devices: channel})

	sched := NewScheduler(reg, dispatcher, nil, nil)
	sched.SetNow(clock.Now)

	return &schedFixture{sched: sched, registry: reg, channel: channel, clock: clock}
}

// waitForRuns polls until the task's run count reaches n.
func waitForRuns(t *testing.T, reg *Registry, id string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, err := reg.GetTask(context.Background(), id)
		if err == nil && task.RunCount >= n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("task %s never reached run count %d", id, n)
}

func TestScheduler_FiresDueTaskAndReschedules(t *testing.T) {
	fx := testScheduler(t)
	ctx := context.Background()

	task := newTask("morning cycle")
	if err := fx.registry.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	// Not yet due at 08:00.
	fx.sched.Tick(ctx)
	time.Sleep(20 * time.Millisecond)
	if fx.channel.count() != 0 {
		t.Fatalf("sends = %d before due time", fx.channel.count())
	}

	fx.clock.Advance(time.Hour) // 09:00
	fx.sched.Tick(ctx)
	waitForRuns(t, fx.registry, task.ID, 1)
	if fx.channel.count() != 1 {
		t.Fatalf("sends = %d, want 1", fx.channel.count())
	}

	got, _ := fx.registry.GetTask(ctx, task.ID)
	if got.LastRunAt == nil || !got.LastRunAt.Equal(fx.clock.Now()) {
		t.Errorf("last run = %v", got.LastRunAt)
	}
	wantNext := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if got.NextRunAt == nil || !got.NextRunAt.Equal(wantNext) {
		t.Errorf("next run = %v, want %v", got.NextRunAt, wantNext)
	}

	// Same tick instant again: the new due time is tomorrow.
	fx.sched.Tick(ctx)
	time.Sleep(20 * time.Millisecond)
	if fx.channel.count() != 1 {
		t.Errorf("sends = %d, want still 1", fx.channel.count())
	}
}

func TestScheduler_OnceTaskSelfDisables(t *testing.T) {
	fx := testScheduler(t)
	ctx := context.Background()

	task := newTask("one shot")
	task.ScheduleType = schedule.TypeOnce
	task.ScheduleConfig = schedule.Config{At: time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)}
	if err := fx.registry.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	fx.clock.Advance(30 * time.Minute)
	fx.sched.Tick(ctx)
	waitForRuns(t, fx.registry, task.ID, 1)

	got, _ := fx.registry.GetTask(ctx, task.ID)
	if got.Enabled {
		t.Error("once task still enabled after running")
	}
	if got.NextRunAt != nil {
		t.Errorf("next run = %v, want nil", got.NextRunAt)
	}

	// Further ticks never run it again.
	fx.clock.Advance(time.Hour)
	fx.sched.Tick(ctx)
	time.Sleep(20 * time.Millisecond)
	if fx.channel.count() != 1 {
		t.Errorf("sends = %d, want 1", fx.channel.count())
	}
}

func TestScheduler_MaxRunsDisablesWithoutExecuting(t *testing.T) {
	fx := testScheduler(t)
	ctx := context.Background()

	task := newTask("capped")
	task.ScheduleType = schedule.TypeInterval
	task.ScheduleConfig = schedule.Config{Minutes: 10}
	task.MaxRuns = 2
	if err := fx.registry.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	for i := 1; i <= 2; i++ {
		fx.clock.Advance(10 * time.Minute)
		fx.sched.Tick(ctx)
		waitForRuns(t, fx.registry, task.ID, i)
	}
	if fx.channel.count() != 2 {
		t.Fatalf("sends = %d, want 2", fx.channel.count())
	}

	// The third due tick disables instead of running.
	fx.clock.Advance(10 * time.Minute)
	fx.sched.Tick(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := fx.registry.GetTask(ctx, task.ID)
		if got != nil && !got.Enabled {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	got, _ := fx.registry.GetTask(ctx, task.ID)
	if got.Enabled {
		t.Error("capped task still enabled")
	}
	if got.RunCount != 2 || fx.channel.count() != 2 {
		t.Errorf("cap executed an extra run: count=%d sends=%d", got.RunCount, fx.channel.count())
	}
}

func TestScheduler_RecordsActionFailure(t *testing.T) {
	fx := testScheduler(t)
	fx.channel.fail = true
	ctx := context.Background()

	task := newTask("failing")
	if err := fx.registry.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	fx.clock.Advance(time.Hour)
	fx.sched.Tick(ctx)
	waitForRuns(t, fx.registry, task.ID, 1)

	got, _ := fx.registry.GetTask(ctx, task.ID)
	if got.LastError == nil || *got.LastError != "device unreachable" {
		t.Errorf("last error = %v", got.LastError)
	}
	if got.LastErrorAt == nil {
		t.Error("last error timestamp missing")
	}
}

func TestScheduler_TriggerNow(t *testing.T) {
	fx := testScheduler(t)
	ctx := context.Background()

	task := newTask("manual")
	if err := fx.registry.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	before, _ := fx.registry.GetTask(ctx, task.ID)

	if err := fx.sched.TriggerNow(ctx, task.ID); err != nil {
		t.Fatalf("TriggerNow: %v", err)
	}
	if fx.channel.count() != 1 {
		t.Errorf("sends = %d, want 1", fx.channel.count())
	}

	got, _ := fx.registry.GetTask(ctx, task.ID)
	if got.RunCount != 1 {
		t.Errorf("run count = %d, want 1", got.RunCount)
	}
	// The regular schedule is untouched by a manual run.
	if got.NextRunAt == nil || !got.NextRunAt.Equal(*before.NextRunAt) {
		t.Errorf("next run = %v, want %v", got.NextRunAt, before.NextRunAt)
	}

	if err := fx.sched.TriggerNow(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("TriggerNow = %v, want ErrNotFound", err)
	}

	if err := fx.registry.SetTaskEnabled(ctx, task.ID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if err := fx.sched.TriggerNow(ctx, task.ID); !errors.Is(err, ErrDisabled) {
		t.Errorf("TriggerNow = %v, want ErrDisabled", err)
	}
}

func TestScheduler_ManualOnceTaskSelfDisables(t *testing.T) {
	fx := testScheduler(t)
	ctx := context.Background()

	task := newTask("manual one shot")
	task.ScheduleType = schedule.TypeOnce
	task.ScheduleConfig = schedule.Config{At: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	if err := fx.registry.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if err := fx.sched.TriggerNow(ctx, task.ID); err != nil {
		t.Fatalf("TriggerNow: %v", err)
	}
	got, _ := fx.registry.GetTask(ctx, task.ID)
	if got.Enabled || got.NextRunAt != nil {
		t.Errorf("once task not closed out: enabled=%v next=%v", got.Enabled, got.NextRunAt)
	}
}
