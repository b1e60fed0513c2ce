package rules

import "errors"

var (
	// ErrNotFound indicates the requested rule does not exist.
	ErrNotFound = errors.New("rules: not found")

	// ErrDuplicateID indicates a rule with the same ID already exists.
	ErrDuplicateID = errors.New("rules: duplicate id")

	// ErrInvalidRule indicates the rule failed validation.
	ErrInvalidRule = errors.New("rules: invalid rule")

	// ErrDisabled indicates the rule is disabled and cannot be triggered.
	ErrDisabled = errors.New("rules: rule disabled")
)
