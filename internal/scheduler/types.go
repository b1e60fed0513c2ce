package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bryndle/hearth-core/internal/action"
	"github.com/bryndle/hearth-core/internal/schedule"
)

// Task is a time-triggered job: one action fired by a schedule instead
// of a condition tree.
type Task struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Description (optional)
	Description *string `json:"description,omitempty"`

	// Trigger
	ScheduleType   schedule.Type   `json:"schedule_type"`
	ScheduleConfig schedule.Config `json:"schedule_config"`

	// Action fired when the task comes due
	Action action.Action `json:"action"`

	// Configuration
	Enabled bool `json:"enabled"`
	MaxRuns int  `json:"max_runs"` // 0 = unlimited

	// Execution state. Mutated only by the scheduler through the registry.
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	RunCount  int        `json:"run_count"`

	// Status view: most recent action failure, if any.
	LastError   *string    `json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates a complete independent copy of the Task.
func (t *Task) DeepCopy() *Task {
	if t == nil {
		return nil
	}

	cpy := *t
	cpy.Description = cloneStringPtr(t.Description)
	cpy.NextRunAt = cloneTimePtr(t.NextRunAt)
	cpy.LastRunAt = cloneTimePtr(t.LastRunAt)
	cpy.LastError = cloneStringPtr(t.LastError)
	cpy.LastErrorAt = cloneTimePtr(t.LastErrorAt)
	cpy.Action = t.Action.DeepCopy()
	return &cpy
}

// GenerateID returns a new unique task ID.
func GenerateID() string {
	return uuid.New().String()
}

// Validate checks structural correctness of a task at save time; a
// malformed schedule never reaches the tick loop.
func Validate(t *Task) error {
	if t == nil {
		return fmt.Errorf("%w: nil task", ErrInvalidTask)
	}
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidTask)
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTask)
	}
	if err := schedule.Validate(t.ScheduleType, t.ScheduleConfig); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	if err := action.Validate(t.Action); err != nil {
		return fmt.Errorf("%w: action: %v", ErrInvalidTask, err)
	}
	if t.MaxRuns < 0 {
		return fmt.Errorf("%w: max_runs must not be negative", ErrInvalidTask)
	}
	return nil
}

func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
