package scheduler

import "errors"

var (
	// ErrNotFound indicates the requested task does not exist.
	ErrNotFound = errors.New("scheduler: not found")

	// ErrDuplicateID indicates a task with the same ID already exists.
	ErrDuplicateID = errors.New("scheduler: duplicate id")

	// ErrInvalidTask indicates the task failed validation.
	ErrInvalidTask = errors.New("scheduler: invalid task")

	// ErrDisabled indicates the task is disabled and cannot be triggered.
	ErrDisabled = errors.New("scheduler: task disabled")
)
