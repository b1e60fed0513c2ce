// Package schedule computes the next run instant for time-triggered tasks.
//
// The calculator is a pure function of (schedule type, schedule config, now),
// which keeps it trivially testable with a fixed clock. Validation happens at
// save time; NextRun never returns an error, only "no next run".
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Type identifies how a task's next run is computed.
type Type string

const (
	TypeCron     Type = "cron"
	TypeInterval Type = "interval"
	TypeOnce     Type = "once"
	TypeDaily    Type = "daily"
	TypeWeekly   Type = "weekly"
)

// AllTypes returns all valid schedule types.
func AllTypes() []Type {
	return []Type{TypeCron, TypeInterval, TypeOnce, TypeDaily, TypeWeekly}
}

// Config holds the type-specific schedule parameters.
// Only the fields relevant to the schedule type are consulted.
type Config struct {
	// Expression is a standard 5-field cron expression (cron type).
	Expression string `json:"expression,omitempty"`

	// Minutes is the repeat interval in minutes (interval type).
	Minutes int `json:"minutes,omitempty"`

	// At is the absolute run instant (once type).
	At time.Time `json:"at,omitempty"`

	// Time is the wall-clock time "HH:MM" (daily and weekly types).
	Time string `json:"time,omitempty"`

	// Weekday is the target day name, e.g. "monday" (weekly type).
	Weekday string `json:"weekday,omitempty"`
}

// Validation errors returned at save time.
var (
	ErrUnknownType       = errors.New("schedule: unknown type")
	ErrInvalidExpression = errors.New("schedule: invalid cron expression")
	ErrInvalidInterval   = errors.New("schedule: interval must be positive")
	ErrInvalidInstant    = errors.New("schedule: once requires an instant")
	ErrInvalidTime       = errors.New("schedule: time must be HH:MM")
	ErrInvalidWeekday    = errors.New("schedule: invalid weekday")
)

// cronParser accepts the standard 5-field format (minute hour dom month dow).
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Validate checks a schedule config for the given type.
// A config that passes Validate is guaranteed not to be silently skipped
// by NextRun for structural reasons (a past "once" instant still yields
// no next run, which is correct behaviour rather than a config error).
func Validate(t Type, cfg Config) error {
	switch t {
	case TypeCron:
		sched, err := cronParser.Parse(cfg.Expression)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidExpression, cfg.Expression)
		}
		// Expressions like "0 0 30 2 *" (Feb 30) parse but never match;
		// robfig signals that with a zero next time.
		if sched.Next(time.Now()).IsZero() {
			return fmt.Errorf("%w: %q never matches", ErrInvalidExpression, cfg.Expression)
		}
	case TypeInterval:
		if cfg.Minutes <= 0 {
			return ErrInvalidInterval
		}
	case TypeOnce:
		if cfg.At.IsZero() {
			return ErrInvalidInstant
		}
	case TypeDaily:
		if _, _, err := parseClock(cfg.Time); err != nil {
			return err
		}
	case TypeWeekly:
		if _, _, err := parseClock(cfg.Time); err != nil {
			return err
		}
		if _, ok := weekdays[strings.ToLower(cfg.Weekday)]; !ok {
			return fmt.Errorf("%w: %q", ErrInvalidWeekday, cfg.Weekday)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	return nil
}

// NextRun computes the next run instant strictly after now.
// The second return value is false when no future run exists: an unknown
// type, a malformed config that slipped past validation, or a "once"
// instant already in the past.
func NextRun(t Type, cfg Config, now time.Time) (time.Time, bool) {
	switch t {
	case TypeCron:
		sched, err := cronParser.Parse(cfg.Expression)
		if err != nil {
			return time.Time{}, false
		}
		next := sched.Next(now)
		if next.IsZero() {
			// Unsatisfiable expression: no future occurrence exists.
			return time.Time{}, false
		}
		return next, true

	case TypeInterval:
		if cfg.Minutes <= 0 {
			return time.Time{}, false
		}
		return now.Add(time.Duration(cfg.Minutes) * time.Minute), true

	case TypeOnce:
		if cfg.At.After(now) {
			return cfg.At, true
		}
		return time.Time{}, false

	case TypeDaily:
		hh, mm, err := parseClock(cfg.Time)
		if err != nil {
			return time.Time{}, false
		}
		next := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next, true

	case TypeWeekly:
		hh, mm, err := parseClock(cfg.Time)
		if err != nil {
			return time.Time{}, false
		}
		target, ok := weekdays[strings.ToLower(cfg.Weekday)]
		if !ok {
			return time.Time{}, false
		}
		next := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
		days := (int(target) - int(now.Weekday()) + 7) % 7
		next = next.AddDate(0, 0, days)
		// Same day but the time already passed: roll a full week.
		if !next.After(now) {
			next = next.AddDate(0, 0, 7)
		}
		return next, true

	default:
		return time.Time{}, false
	}
}

// parseClock parses a "HH:MM" wall-clock string.
func parseClock(s string) (hour, minute int, err error) {
	parsed, parseErr := time.Parse("15:04", s)
	if parseErr != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return parsed.Hour(), parsed.Minute(), nil
}
