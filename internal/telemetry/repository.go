package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines the persistence interface for thresholds and alarms.
type Repository interface {
	// Thresholds
	ListThresholds(ctx context.Context) ([]Threshold, error)
	UpsertThreshold(ctx context.Context, t *Threshold) error
	DeleteThreshold(ctx context.Context, deviceID, sensorType string) error

	// Alarms
	CreateAlarm(ctx context.Context, alarm *Alarm) error
	GetAlarm(ctx context.Context, id string) (*Alarm, error)
	ListAlarms(ctx context.Context, filter AlarmFilter) ([]Alarm, error)
	AcknowledgeAlarm(ctx context.Context, id, ackBy string, at time.Time) error
	DeleteAlarmsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AlarmFilter controls which alarms ListAlarms returns.
type AlarmFilter struct {
	DeviceID     string    // optional: filter by device
	Severity     Severity  // optional: filter by severity
	Unacked      bool      // only unacknowledged alarms
	Since        time.Time // optional: alarms at or after this instant
	Limit        int       // default 50, max 500
}

const alarmColumns = `id, device_id, alarm_type, severity, message, value,
			timestamp, acknowledged, acknowledged_at, acknowledged_by`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// ListThresholds retrieves all configured thresholds.
func (r *SQLiteRepository) ListThresholds(ctx context.Context) ([]Threshold, error) {
	query := `SELECT device_id, sensor_type, min, max, critical_min, critical_max, updated_at
		FROM thresholds ORDER BY device_id, sensor_type`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying thresholds: %w", err)
	}
	defer rows.Close()

	var thresholds []Threshold
	for rows.Next() {
		var t Threshold
		var minV, maxV, cMin, cMax sql.NullFloat64
		var updatedAt string
		if scanErr := rows.Scan(&t.DeviceID, &t.SensorType, &minV, &maxV, &cMin, &cMax, &updatedAt); scanErr != nil {
			return nil, fmt.Errorf("scanning threshold: %w", scanErr)
		}
		if minV.Valid {
			t.Min = &minV.Float64
		}
		if maxV.Valid {
			t.Max = &maxV.Float64
		}
		if cMin.Valid {
			t.CriticalMin = &cMin.Float64
		}
		if cMax.Valid {
			t.CriticalMax = &cMax.Float64
		}
		if ts, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
			t.UpdatedAt = ts
		}
		thresholds = append(thresholds, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating thresholds: %w", err)
	}
	return thresholds, nil
}

// UpsertThreshold inserts or replaces a threshold for a device sensor.
func (r *SQLiteRepository) UpsertThreshold(ctx context.Context, t *Threshold) error {
	query := `
		INSERT INTO thresholds (device_id, sensor_type, min, max, critical_min, critical_max, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id, sensor_type) DO UPDATE SET
			min = excluded.min, max = excluded.max,
			critical_min = excluded.critical_min, critical_max = excluded.critical_max,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		t.DeviceID,
		t.SensorType,
		nullableFloat(t.Min),
		nullableFloat(t.Max),
		nullableFloat(t.CriticalMin),
		nullableFloat(t.CriticalMax),
		t.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting threshold: %w", err)
	}
	return nil
}

// DeleteThreshold removes a threshold for a device sensor.
func (r *SQLiteRepository) DeleteThreshold(ctx context.Context, deviceID, sensorType string) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM thresholds WHERE device_id = ? AND sensor_type = ?", deviceID, sensorType)
	if err != nil {
		return fmt.Errorf("deleting threshold: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrThresholdNotFound
	}
	return nil
}

// CreateAlarm inserts a new alarm.
func (r *SQLiteRepository) CreateAlarm(ctx context.Context, alarm *Alarm) error {
	query := `
		INSERT INTO alarms (` + alarmColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		alarm.ID,
		alarm.DeviceID,
		alarm.AlarmType,
		string(alarm.Severity),
		alarm.Message,
		alarm.Value,
		alarm.Timestamp.Format(time.RFC3339),
		boolToInt(alarm.Acknowledged),
		nullableTime(alarm.AcknowledgedAt),
		nullableStr(alarm.AcknowledgedBy),
	)
	if err != nil {
		return fmt.Errorf("inserting alarm: %w", err)
	}
	return nil
}

// GetAlarm retrieves an alarm by ID.
func (r *SQLiteRepository) GetAlarm(ctx context.Context, id string) (*Alarm, error) {
	query := `SELECT ` + alarmColumns + ` FROM alarms WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	alarm, err := scanAlarm(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlarmNotFound
		}
		return nil, fmt.Errorf("querying alarm: %w", err)
	}
	return alarm, nil
}

// ListAlarms retrieves alarms matching the filter, newest first.
func (r *SQLiteRepository) ListAlarms(ctx context.Context, filter AlarmFilter) ([]Alarm, error) {
	query := `SELECT ` + alarmColumns + ` FROM alarms WHERE 1=1`
	var args []any

	if filter.DeviceID != "" {
		query += " AND device_id = ?"
		args = append(args, filter.DeviceID)
	}
	if filter.Severity != "" {
		query += " AND severity = ?"
		args = append(args, string(filter.Severity))
	}
	if filter.Unacked {
		query += " AND acknowledged = 0"
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.Format(time.RFC3339))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying alarms: %w", err)
	}
	defer rows.Close()

	var alarms []Alarm
	for rows.Next() {
		alarm, scanErr := scanAlarm(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning alarm: %w", scanErr)
		}
		alarms = append(alarms, *alarm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alarms: %w", err)
	}
	return alarms, nil
}

// AcknowledgeAlarm marks an alarm acknowledged by an operator.
func (r *SQLiteRepository) AcknowledgeAlarm(ctx context.Context, id, ackBy string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE alarms SET acknowledged = 1, acknowledged_at = ?, acknowledged_by = ? WHERE id = ?",
		at.Format(time.RFC3339), ackBy, id)
	if err != nil {
		return fmt.Errorf("acknowledging alarm: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAlarmNotFound
	}
	return nil
}

// DeleteAlarmsBefore removes alarms older than the cutoff (retention sweep).
func (r *SQLiteRepository) DeleteAlarmsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM alarms WHERE timestamp < ?", cutoff.Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("deleting alarms: %w", err)
	}
	return result.RowsAffected()
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlarm(scanner rowScanner) (*Alarm, error) {
	var a Alarm
	var severity, timestamp string
	var acknowledged int
	var ackAt, ackBy sql.NullString

	err := scanner.Scan(
		&a.ID,
		&a.DeviceID,
		&a.AlarmType,
		&severity,
		&a.Message,
		&a.Value,
		&timestamp,
		&acknowledged,
		&ackAt,
		&ackBy,
	)
	if err != nil {
		return nil, err
	}

	a.Severity = Severity(severity)
	a.Acknowledged = acknowledged != 0
	if t, parseErr := time.Parse(time.RFC3339, timestamp); parseErr == nil {
		a.Timestamp = t
	}
	if ackAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339, ackAt.String); parseErr == nil {
			a.AcknowledgedAt = &t
		}
	}
	if ackBy.Valid {
		a.AcknowledgedBy = ackBy.String
	}
	return &a, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func nullableStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
