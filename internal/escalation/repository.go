package escalation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository defines the persistence interface for escalations.
type Repository interface {
	Create(ctx context.Context, esc *Escalation) error
	Update(ctx context.Context, esc *Escalation) error
	Get(ctx context.Context, id string) (*Escalation, error)
	GetOpen(ctx context.Context, deviceID, issueType string) (*Escalation, error)
	List(ctx context.Context, includeResolved bool, limit int) ([]Escalation, error)

	// ListEscalatable returns unresolved issues below maxLevel whose last
	// level change is at or before the cutoff.
	ListEscalatable(ctx context.Context, cutoff time.Time, maxLevel int) ([]Escalation, error)

	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

const escalationColumns = `id, device_id, issue_type, severity, level,
			notified_contacts, resolved, created_at, escalated_at, resolved_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new escalation.
func (r *SQLiteRepository) Create(ctx context.Context, esc *Escalation) error {
	contactsJSON, err := json.Marshal(esc.NotifiedContacts)
	if err != nil {
		return fmt.Errorf("marshalling contacts: %w", err)
	}

	query := `
		INSERT INTO escalations (` + escalationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		esc.ID,
		esc.DeviceID,
		esc.IssueType,
		esc.Severity,
		esc.Level,
		string(contactsJSON),
		boolToInt(esc.Resolved),
		esc.CreatedAt.Format(time.RFC3339),
		esc.EscalatedAt.Format(time.RFC3339),
		nullableTime(esc.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting escalation: %w", err)
	}
	return nil
}

// Update modifies an existing escalation.
func (r *SQLiteRepository) Update(ctx context.Context, esc *Escalation) error {
	contactsJSON, err := json.Marshal(esc.NotifiedContacts)
	if err != nil {
		return fmt.Errorf("marshalling contacts: %w", err)
	}

	query := `
		UPDATE escalations SET
			severity = ?, level = ?, notified_contacts = ?,
			resolved = ?, escalated_at = ?, resolved_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		esc.Severity,
		esc.Level,
		string(contactsJSON),
		boolToInt(esc.Resolved),
		esc.EscalatedAt.Format(time.RFC3339),
		nullableTime(esc.ResolvedAt),
		esc.ID,
	)
	if err != nil {
		return fmt.Errorf("updating escalation: %w", err)
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

// Get retrieves an escalation by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Escalation, error) {
	query := `SELECT ` + escalationColumns + ` FROM escalations WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	esc, err := scanEscalation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying escalation: %w", err)
	}
	return esc, nil
}

// GetOpen retrieves the unresolved escalation for a device/issue pair.
func (r *SQLiteRepository) GetOpen(ctx context.Context, deviceID, issueType string) (*Escalation, error) {
	query := `SELECT ` + escalationColumns + ` FROM escalations
		WHERE device_id = ? AND issue_type = ? AND resolved = 0
		ORDER BY created_at DESC LIMIT 1`

	row := r.db.QueryRowContext(ctx, query, deviceID, issueType)
	esc, err := scanEscalation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying open escalation: %w", err)
	}
	return esc, nil
}

// List retrieves escalations, newest first.
func (r *SQLiteRepository) List(ctx context.Context, includeResolved bool, limit int) ([]Escalation, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	query := `SELECT ` + escalationColumns + ` FROM escalations`
	if !includeResolved {
		query += " WHERE resolved = 0"
	}
	query += " ORDER BY created_at DESC LIMIT ?"

	return r.queryEscalations(ctx, query, limit)
}

// ListEscalatable retrieves unresolved issues due for a level raise.
func (r *SQLiteRepository) ListEscalatable(ctx context.Context, cutoff time.Time, maxLevel int) ([]Escalation, error) {
	query := `SELECT ` + escalationColumns + ` FROM escalations
		WHERE resolved = 0 AND level < ? AND escalated_at <= ?
		ORDER BY created_at`
	return r.queryEscalations(ctx, query, maxLevel, cutoff.Format(time.RFC3339))
}

// DeleteResolvedBefore removes resolved escalations older than the cutoff.
func (r *SQLiteRepository) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM escalations WHERE resolved = 1 AND resolved_at < ?",
		cutoff.Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("deleting escalations: %w", err)
	}
	return result.RowsAffected()
}

func (r *SQLiteRepository) queryEscalations(ctx context.Context, query string, args ...any) ([]Escalation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying escalations: %w", err)
	}
	defer rows.Close()

	var escalations []Escalation
	for rows.Next() {
		esc, scanErr := scanEscalation(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning escalation: %w", scanErr)
		}
		escalations = append(escalations, *esc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating escalations: %w", err)
	}
	return escalations, nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEscalation(scanner rowScanner) (*Escalation, error) {
	var e Escalation
	var contactsJSON, createdAt, escalatedAt string
	var resolved int
	var resolvedAt sql.NullString

	err := scanner.Scan(
		&e.ID,
		&e.DeviceID,
		&e.IssueType,
		&e.Severity,
		&e.Level,
		&contactsJSON,
		&resolved,
		&createdAt,
		&escalatedAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Resolved = resolved != 0
	if contactsJSON != "" && contactsJSON != "null" {
		if jsonErr := json.Unmarshal([]byte(contactsJSON), &e.NotifiedContacts); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling contacts: %w", jsonErr)
		}
	}
	if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
		e.CreatedAt = t
	}
	if t, parseErr := time.Parse(time.RFC3339, escalatedAt); parseErr == nil {
		e.EscalatedAt = t
	}
	if resolvedAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339, resolvedAt.String); parseErr == nil {
			e.ResolvedAt = &t
		}
	}
	return &e, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

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
