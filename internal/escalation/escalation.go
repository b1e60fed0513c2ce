// Package escalation tracks unresolved issues and raises their
// notification tier over time.
//
// An issue opens at level 1 and climbs one level per sweep once it has
// been unresolved for the escalation interval, capping at level 3. Each
// level change notifies the contact tier mapped to the new level. Level 3
// issues are terminal: they are never re-escalated automatically, which
// avoids alert storms; re-checking is an operator action.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bryndle/hearth-core/internal/telemetry"
)

// MaxLevel is the escalation ceiling.
const MaxLevel = 3

// defaultInterval is how long an issue stays at a level before the next
// sweep raises it.
const defaultInterval = 30 * time.Minute

// Escalation is an unresolved issue and its notification history.
type Escalation struct {
	ID               string     `json:"id"`
	DeviceID         string     `json:"device_id"`
	IssueType        string     `json:"issue_type"`
	Severity         string     `json:"severity"`
	Level            int        `json:"level"`
	NotifiedContacts []string   `json:"notified_contacts"`
	Resolved         bool       `json:"resolved"`
	CreatedAt        time.Time  `json:"created_at"`
	EscalatedAt      time.Time  `json:"escalated_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
}

// Domain errors. Check with errors.Is().
var (
	ErrNotFound        = errors.New("escalation: not found")
	ErrAlreadyResolved = errors.New("escalation: already resolved")
)

// Notifier delivers tier notifications. Satisfied by any concrete
// notification sender.
type Notifier interface {
	Send(ctx context.Context, channel string, recipients []string, title, message string, metadata map[string]any) error
}

// Logger is the minimal logging interface the manager needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Tiers maps an escalation level to the contacts notified when an issue
// reaches that level.
type Tiers map[int][]string

// DefaultTiers returns the standard contact ladder.
func DefaultTiers() Tiers {
	return Tiers{
		1: {"frontline"},
		2: {"frontline", "supervisor", "manager"},
		3: {"director", "executive"},
	}
}

// Manager owns escalation state. Only the manager mutates Level and
// NotifiedContacts; everyone else reads through the repository.
type Manager struct {
	repo     Repository
	notifier Notifier
	tiers    Tiers
	interval time.Duration
	logger   Logger
	now      func() time.Time
}

// NewManager creates an escalation manager.
func NewManager(repo Repository, notifier Notifier, tiers Tiers) *Manager {
	if tiers == nil {
		tiers = DefaultTiers()
	}
	return &Manager{
		repo:     repo,
		notifier: notifier,
		tiers:    tiers,
		interval: defaultInterval,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// SetInterval overrides the per-level escalation interval.
func (m *Manager) SetInterval(interval time.Duration) {
	if interval > 0 {
		m.interval = interval
	}
}

// SetNow overrides the clock source. Intended for tests.
func (m *Manager) SetNow(now func() time.Time) {
	m.now = now
}

// AlarmRaised implements the telemetry alarm sink: a critical alarm opens
// an escalation for its device and issue type. Warnings stay with the
// alarm list; only critical breaches enter the escalation ladder.
func (m *Manager) AlarmRaised(ctx context.Context, alarm telemetry.Alarm) {
	if alarm.Severity != telemetry.SeverityCritical {
		return
	}
	if _, err := m.Open(ctx, alarm.DeviceID, alarm.AlarmType, string(alarm.Severity)); err != nil {
		m.logger.Error("failed to open escalation",
			"device_id", alarm.DeviceID,
			"issue_type", alarm.AlarmType,
			"error", err,
		)
	}
}

// Open creates a level-1 escalation for (deviceID, issueType) and notifies
// the first tier. An already-open issue for the same pair is returned
// unchanged so repeated alarms do not stack escalations.
func (m *Manager) Open(ctx context.Context, deviceID, issueType, severity string) (*Escalation, error) {
	if existing, err := m.repo.GetOpen(ctx, deviceID, issueType); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := m.now().UTC()
	esc := &Escalation{
		ID:          uuid.NewString(),
		DeviceID:    deviceID,
		IssueType:   issueType,
		Severity:    severity,
		Level:       1,
		CreatedAt:   now,
		EscalatedAt: now,
	}
	m.notifyTier(ctx, esc, 1)

	if err := m.repo.Create(ctx, esc); err != nil {
		return nil, fmt.Errorf("creating escalation: %w", err)
	}

	m.logger.Warn("escalation opened",
		"escalation_id", esc.ID,
		"device_id", deviceID,
		"issue_type", issueType,
	)
	return esc, nil
}

// Sweep raises every unresolved issue that has sat at its level for the
// full interval. Each qualifying issue climbs exactly one level per sweep;
// level-3 issues are skipped entirely.
func (m *Manager) Sweep(ctx context.Context) error {
	now := m.now().UTC()
	cutoff := now.Add(-m.interval)

	due, err := m.repo.ListEscalatable(ctx, cutoff, MaxLevel)
	if err != nil {
		return fmt.Errorf("listing escalatable issues: %w", err)
	}

	for i := range due {
		esc := &due[i]
		esc.Level++
		esc.EscalatedAt = now
		m.notifyTier(ctx, esc, esc.Level)

		if updateErr := m.repo.Update(ctx, esc); updateErr != nil {
			m.logger.Error("failed to persist escalation level",
				"escalation_id", esc.ID,
				"error", updateErr,
			)
			continue
		}

		m.logger.Warn("issue escalated",
			"escalation_id", esc.ID,
			"device_id", esc.DeviceID,
			"issue_type", esc.IssueType,
			"level", esc.Level,
		)
	}
	return nil
}

// Resolve closes an escalation.
func (m *Manager) Resolve(ctx context.Context, id string) error {
	esc, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if esc.Resolved {
		return ErrAlreadyResolved
	}

	now := m.now().UTC()
	esc.Resolved = true
	esc.ResolvedAt = &now
	if err := m.repo.Update(ctx, esc); err != nil {
		return fmt.Errorf("resolving escalation: %w", err)
	}

	m.logger.Info("escalation resolved", "escalation_id", id)
	return nil
}

// PruneResolved removes resolved escalations older than the cutoff.
func (m *Manager) PruneResolved(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := m.now().UTC().Add(-olderThan)
	return m.repo.DeleteResolvedBefore(ctx, cutoff)
}

// notifyTier sends the tier notification for a level and records the
// contacts on the escalation. Notification failure is logged, never
// propagated: the level change stands either way.
func (m *Manager) notifyTier(ctx context.Context, esc *Escalation, level int) {
	contacts := m.tiers[level]
	if len(contacts) == 0 {
		return
	}

	if m.notifier != nil {
		title := fmt.Sprintf("Escalation level %d: %s", level, esc.IssueType)
		message := fmt.Sprintf("device %s has an unresolved %s issue (severity %s)",
			esc.DeviceID, esc.IssueType, esc.Severity)
		metadata := map[string]any{
			"escalation_id": esc.ID,
			"device_id":     esc.DeviceID,
			"level":         level,
		}
		if err := m.notifier.Send(ctx, "escalation", contacts, title, message, metadata); err != nil {
			m.logger.Error("tier notification failed",
				"escalation_id", esc.ID,
				"level", level,
				"error", err,
			)
		}
	}

	esc.NotifiedContacts = appendUnique(esc.NotifiedContacts, contacts)
}

// appendUnique appends contacts not already present, preserving order.
func appendUnique(existing, add []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, c := range existing {
		seen[c] = struct{}{}
	}
	for _, c := range add {
		if _, ok := seen[c]; !ok {
			existing = append(existing, c)
			seen[c] = struct{}{}
		}
	}
	return existing
}
