package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bryndle/hearth-core/internal/schedule"
)

// Repository defines the persistence interface for scheduled tasks.
type Repository interface {
	List(ctx context.Context) ([]Task, error)
	Get(ctx context.Context, id string) (*Task, error)
	Create(ctx context.Context, t *Task) error
	Update(ctx context.Context, t *Task) error
	Delete(ctx context.Context, id string) error

	// RecordRun persists post-run bookkeeping without rewriting the
	// whole task row.
	RecordRun(ctx context.Context, id string, upd RunUpdate) error
}

// RunUpdate carries the state written back after a task runs, or after
// the maxRuns guard disables it.
type RunUpdate struct {
	Enabled     bool
	NextRunAt   *time.Time
	LastRunAt   *time.Time
	RunCount    int
	LastError   *string
	LastErrorAt *time.Time
}

const taskColumns = `id, name, description, schedule_type, schedule_config, task_action,
			enabled, max_runs, next_run_at, last_run_at, run_count,
			last_error, last_error_at, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite. Schedule config
// and the action are stored as JSON documents.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// List retrieves all tasks ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM scheduled_tasks ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		task, scanErr := scanTask(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning task: %w", scanErr)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tasks: %w", err)
	}
	return tasks, nil
}

// Get retrieves a task by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM scheduled_tasks WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying task: %w", err)
	}
	return task, nil
}

// Create inserts a new task.
func (r *SQLiteRepository) Create(ctx context.Context, t *Task) error {
	cfg, act, err := encodeTaskDocs(t)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO scheduled_tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		t.ID,
		t.Name,
		nullableStrPtr(t.Description),
		string(t.ScheduleType),
		cfg,
		act,
		boolToInt(t.Enabled),
		t.MaxRuns,
		nullableTime(t.NextRunAt),
		nullableTime(t.LastRunAt),
		t.RunCount,
		nullableStrPtr(t.LastError),
		nullableTime(t.LastErrorAt),
		t.CreatedAt.Format(time.RFC3339),
		t.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateID
		}
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

// Update replaces an existing task.
func (r *SQLiteRepository) Update(ctx context.Context, t *Task) error {
	cfg, act, err := encodeTaskDocs(t)
	if err != nil {
		return err
	}

	query := `
		UPDATE scheduled_tasks SET
			name = ?, description = ?, schedule_type = ?, schedule_config = ?,
			task_action = ?, enabled = ?, max_runs = ?, next_run_at = ?,
			last_run_at = ?, run_count = ?, last_error = ?, last_error_at = ?,
			updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		t.Name,
		nullableStrPtr(t.Description),
		string(t.ScheduleType),
		cfg,
		act,
		boolToInt(t.Enabled),
		t.MaxRuns,
		nullableTime(t.NextRunAt),
		nullableTime(t.LastRunAt),
		t.RunCount,
		nullableStrPtr(t.LastError),
		nullableTime(t.LastErrorAt),
		t.UpdatedAt.Format(time.RFC3339),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a task by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM scheduled_tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordRun writes post-run state for a task.
func (r *SQLiteRepository) RecordRun(ctx context.Context, id string, upd RunUpdate) error {
	query := `
		UPDATE scheduled_tasks SET
			enabled = ?, next_run_at = ?, last_run_at = ?, run_count = ?,
			last_error = ?, last_error_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		boolToInt(upd.Enabled),
		nullableTime(upd.NextRunAt),
		nullableTime(upd.LastRunAt),
		upd.RunCount,
		nullableStrPtr(upd.LastError),
		nullableTime(upd.LastErrorAt),
		id,
	)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(scanner rowScanner) (*Task, error) {
	var t Task
	var description, nextRunAt, lastRunAt, lastError, lastErrorAt sql.NullString
	var scheduleType, cfg, act, createdAt, updatedAt string
	var enabled int

	err := scanner.Scan(
		&t.ID,
		&t.Name,
		&description,
		&scheduleType,
		&cfg,
		&act,
		&enabled,
		&t.MaxRuns,
		&nextRunAt,
		&lastRunAt,
		&t.RunCount,
		&lastError,
		&lastErrorAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Enabled = enabled != 0
	t.ScheduleType = schedule.Type(scheduleType)
	if description.Valid {
		t.Description = &description.String
	}
	if lastError.Valid {
		t.LastError = &lastError.String
	}

	if err := json.Unmarshal([]byte(cfg), &t.ScheduleConfig); err != nil {
		return nil, fmt.Errorf("decoding schedule config: %w", err)
	}
	if err := json.Unmarshal([]byte(act), &t.Action); err != nil {
		return nil, fmt.Errorf("decoding action: %w", err)
	}

	if ts, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
		t.CreatedAt = ts
	}
	if ts, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
		t.UpdatedAt = ts
	}
	t.NextRunAt = parseNullableTime(nextRunAt)
	t.LastRunAt = parseNullableTime(lastRunAt)
	t.LastErrorAt = parseNullableTime(lastErrorAt)
	return &t, nil
}

func encodeTaskDocs(t *Task) (cfg, act string, err error) {
	cfgBytes, err := json.Marshal(t.ScheduleConfig)
	if err != nil {
		return "", "", fmt.Errorf("encoding schedule config: %w", err)
	}
	actBytes, err := json.Marshal(t.Action)
	if err != nil {
		return "", "", fmt.Errorf("encoding action: %w", err)
	}
	return string(cfgBytes), string(actBytes), nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullableStrPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
