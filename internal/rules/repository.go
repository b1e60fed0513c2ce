package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bryndle/hearth-core/internal/action"
	"github.com/bryndle/hearth-core/internal/condition"
)

// Repository defines the persistence interface for rules.
type Repository interface {
	List(ctx context.Context) ([]Rule, error)
	Get(ctx context.Context, id string) (*Rule, error)
	Create(ctx context.Context, r *Rule) error
	Update(ctx context.Context, r *Rule) error
	Delete(ctx context.Context, id string) error

	// RecordExecution persists post-firing bookkeeping without rewriting
	// the whole rule row.
	RecordExecution(ctx context.Context, id string, upd ExecutionUpdate) error
}

// ExecutionUpdate carries the state written back after a rule fires.
type ExecutionUpdate struct {
	LastExecutedAt      time.Time
	ExecutionCount      int
	ExecutionCountToday int
	LastError           *string
	LastErrorAt         *time.Time
}

const ruleColumns = `id, name, description, conditions, logic_operator, actions,
			enabled, priority, cooldown_seconds, max_executions_per_day,
			last_executed_at, execution_count, execution_count_today,
			last_error, last_error_at, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite. Condition trees
// and action lists are stored as JSON documents.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// List retrieves all rules ordered by priority (highest first), then name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules ORDER BY priority DESC, name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		rule, scanErr := scanRule(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning rule: %w", scanErr)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rules: %w", err)
	}
	return rules, nil
}

// Get retrieves a rule by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying rule: %w", err)
	}
	return rule, nil
}

// Create inserts a new rule.
func (r *SQLiteRepository) Create(ctx context.Context, rule *Rule) error {
	conditions, actions, err := encodeRuleDocs(rule)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		rule.ID,
		rule.Name,
		nullableStrPtr(rule.Description),
		conditions,
		string(rule.LogicOperator),
		actions,
		boolToInt(rule.Enabled),
		rule.Priority,
		rule.CooldownSeconds,
		rule.MaxExecutionsPerDay,
		nullableTime(rule.LastExecutedAt),
		rule.ExecutionCount,
		rule.ExecutionCountToday,
		nullableStrPtr(rule.LastError),
		nullableTime(rule.LastErrorAt),
		rule.CreatedAt.Format(time.RFC3339),
		rule.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateID
		}
		return fmt.Errorf("inserting rule: %w", err)
	}
	return nil
}

// Update replaces an existing rule.
func (r *SQLiteRepository) Update(ctx context.Context, rule *Rule) error {
	conditions, actions, err := encodeRuleDocs(rule)
	if err != nil {
		return err
	}

	query := `
		UPDATE rules SET
			name = ?, description = ?, conditions = ?, logic_operator = ?,
			actions = ?, enabled = ?, priority = ?, cooldown_seconds = ?,
			max_executions_per_day = ?, last_executed_at = ?,
			execution_count = ?, execution_count_today = ?,
			last_error = ?, last_error_at = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		rule.Name,
		nullableStrPtr(rule.Description),
		conditions,
		string(rule.LogicOperator),
		actions,
		boolToInt(rule.Enabled),
		rule.Priority,
		rule.CooldownSeconds,
		rule.MaxExecutionsPerDay,
		nullableTime(rule.LastExecutedAt),
		rule.ExecutionCount,
		rule.ExecutionCountToday,
		nullableStrPtr(rule.LastError),
		nullableTime(rule.LastErrorAt),
		rule.UpdatedAt.Format(time.RFC3339),
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("updating rule: %w", err)
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

// Delete removes a rule by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting rule: %w", err)
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

// RecordExecution writes post-firing execution state for a rule.
func (r *SQLiteRepository) RecordExecution(ctx context.Context, id string, upd ExecutionUpdate) error {
	query := `
		UPDATE rules SET
			last_executed_at = ?, execution_count = ?, execution_count_today = ?,
			last_error = ?, last_error_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		upd.LastExecutedAt.Format(time.RFC3339),
		upd.ExecutionCount,
		upd.ExecutionCountToday,
		nullableStrPtr(upd.LastError),
		nullableTime(upd.LastErrorAt),
		id,
	)
	if err != nil {
		return fmt.Errorf("recording execution: %w", err)
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

func scanRule(scanner rowScanner) (*Rule, error) {
	var r Rule
	var description, lastExecutedAt, lastError, lastErrorAt sql.NullString
	var conditions, logic, actions, createdAt, updatedAt string
	var enabled int

	err := scanner.Scan(
		&r.ID,
		&r.Name,
		&description,
		&conditions,
		&logic,
		&actions,
		&enabled,
		&r.Priority,
		&r.CooldownSeconds,
		&r.MaxExecutionsPerDay,
		&lastExecutedAt,
		&r.ExecutionCount,
		&r.ExecutionCountToday,
		&lastError,
		&lastErrorAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Enabled = enabled != 0
	r.LogicOperator = condition.Logic(logic)
	if description.Valid {
		r.Description = &description.String
	}
	if lastError.Valid {
		r.LastError = &lastError.String
	}

	if err := json.Unmarshal([]byte(conditions), &r.Conditions); err != nil {
		return nil, fmt.Errorf("decoding conditions: %w", err)
	}
	if err := json.Unmarshal([]byte(actions), &r.Actions); err != nil {
		return nil, fmt.Errorf("decoding actions: %w", err)
	}

	if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
		r.CreatedAt = t
	}
	if t, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
		r.UpdatedAt = t
	}
	if lastExecutedAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339, lastExecutedAt.String); parseErr == nil {
			r.LastExecutedAt = &t
		}
	}
	if lastErrorAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339, lastErrorAt.String); parseErr == nil {
			r.LastErrorAt = &t
		}
	}
	return &r, nil
}

func encodeRuleDocs(r *Rule) (conditions, actions string, err error) {
	condList := r.Conditions
	if condList == nil {
		condList = []condition.Condition{}
	}
	condBytes, err := json.Marshal(condList)
	if err != nil {
		return "", "", fmt.Errorf("encoding conditions: %w", err)
	}

	actList := r.Actions
	if actList == nil {
		actList = []action.Action{}
	}
	actBytes, err := json.Marshal(actList)
	if err != nil {
		return "", "", fmt.Errorf("encoding actions: %w", err)
	}
	return string(condBytes), string(actBytes), nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

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
