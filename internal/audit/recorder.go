package audit

import (
	"context"

	"github.com/bryndle/hearth-core/internal/action"
	"github.com/bryndle/hearth-core/internal/rules"
	"github.com/bryndle/hearth-core/internal/telemetry"
)

// Logger is the minimal logging interface the recorder needs.
type Logger interface {
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}

// Recorder turns engine, scheduler, and monitor events into audit
// entries. A failed write is logged and dropped; the activity log is
// best-effort and never blocks a firing.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a recorder writing to the given repository.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{repo: repo, logger: logger}
}

// RuleFired records one completed rule firing.
func (r *Recorder) RuleFired(ctx context.Context, exec rules.Execution) {
	status := "completed"
	if exec.Failed > 0 {
		status = "partial"
	}
	details := map[string]any{
		"status":  status,
		"actions": len(exec.Results),
		"failed":  exec.Failed,
	}
	if exec.DurationMS != nil {
		details["duration_ms"] = *exec.DurationMS
	}
	r.write(ctx, &Entry{
		Action:     "fire",
		EntityType: "rule",
		EntityID:   exec.RuleID,
		Source:     "engine",
		Details:    details,
		CreatedAt:  exec.FiredAt,
	})
}

// TaskFired records one completed scheduled task run.
func (r *Recorder) TaskFired(ctx context.Context, taskID string, result action.Result) {
	details := map[string]any{
		"action_type": string(result.Type),
		"target":      result.Target,
		"ok":          result.OK(),
	}
	if result.Error != "" {
		details["error"] = result.Error
	}
	r.write(ctx, &Entry{
		Action:     "run",
		EntityType: "task",
		EntityID:   taskID,
		Source:     "scheduler",
		Details:    details,
	})
}

// AlarmRaised records a freshly created alarm.
func (r *Recorder) AlarmRaised(ctx context.Context, alarm telemetry.Alarm) {
	r.write(ctx, &Entry{
		Action:     "raise",
		EntityType: "alarm",
		EntityID:   alarm.ID,
		Source:     "monitor",
		Details: map[string]any{
			"device_id":  alarm.DeviceID,
			"alarm_type": alarm.AlarmType,
			"severity":   string(alarm.Severity),
			"message":    alarm.Message,
		},
		CreatedAt: alarm.Timestamp,
	})
}

// OperatorAction records an operator-initiated change via the API.
func (r *Recorder) OperatorAction(ctx context.Context, userID, verb, entityType, entityID string, details map[string]any) {
	r.write(ctx, &Entry{
		Action:     verb,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     userID,
		Source:     "api",
		Details:    details,
	})
}

func (r *Recorder) write(ctx context.Context, e *Entry) {
	if err := r.repo.Create(ctx, e); err != nil {
		r.logger.Error("failed to write audit entry",
			"action", e.Action,
			"entity_type", e.EntityType,
			"entity_id", e.EntityID,
			"error", err,
		)
	}
}
