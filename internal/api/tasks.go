package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bryndle/hearth-core/internal/scheduler"
)

// handleListTasks returns all scheduled tasks ordered by next run time.
//
// Query parameters:
//   - enabled: "true" to return only enabled tasks
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.URL.Query().Get("enabled") == "true" {
		list := s.tasks.ListEnabled(ctx)
		writeJSON(w, http.StatusOK, map[string]any{"tasks": list, "count": len(list)})
		return
	}

	list, err := s.tasks.ListTasks(ctx)
	if err != nil {
		writeInternalError(w, "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": list, "count": len(list)})
}

// handleGetTask returns a single task by ID.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid task ID")
		return
	}

	task, err := s.tasks.GetTask(r.Context(), id)
	if err != nil {
		if errors.Is(err, scheduler.ErrNotFound) {
			writeNotFound(w, "task not found")
			return
		}
		writeInternalError(w, "failed to get task")
		return
	}

	writeJSON(w, http.StatusOK, task)
}

// handleCreateTask creates a new scheduled task. The next run time is
// computed from the schedule at creation.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var task scheduler.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.tasks.CreateTask(r.Context(), &task); err != nil {
		if errors.Is(err, scheduler.ErrInvalidTask) {
			writeValidationError(w, err.Error())
			return
		}
		if errors.Is(err, scheduler.ErrDuplicateID) {
			writeConflict(w, err.Error())
			return
		}
		writeInternalError(w, "failed to create task")
		return
	}

	s.operatorAction(r, "create", "task", task.ID, map[string]any{"name": task.Name})
	writeJSON(w, http.StatusCreated, task)
}

// handleUpdateTask replaces a task. Run bookkeeping is preserved and
// the next run time is recomputed from the (possibly changed) schedule.
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid task ID")
		return
	}

	var task scheduler.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	task.ID = id

	if err := s.tasks.UpdateTask(r.Context(), &task); err != nil {
		if errors.Is(err, scheduler.ErrNotFound) {
			writeNotFound(w, "task not found")
			return
		}
		if errors.Is(err, scheduler.ErrInvalidTask) {
			writeValidationError(w, err.Error())
			return
		}
		writeInternalError(w, "failed to update task")
		return
	}

	s.operatorAction(r, "update", "task", id, map[string]any{"name": task.Name})
	writeJSON(w, http.StatusOK, task)
}

// handleDeleteTask removes a task.
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid task ID")
		return
	}

	if err := s.tasks.DeleteTask(r.Context(), id); err != nil {
		if errors.Is(err, scheduler.ErrNotFound) {
			writeNotFound(w, "task not found")
			return
		}
		writeInternalError(w, "failed to delete task")
		return
	}

	s.operatorAction(r, "delete", "task", id, nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "id": id})
}

// handleEnableTask enables a task.
func (s *Server) handleEnableTask(w http.ResponseWriter, r *http.Request) {
	s.setTaskEnabled(w, r, true)
}

// handleDisableTask disables a task.
func (s *Server) handleDisableTask(w http.ResponseWriter, r *http.Request) {
	s.setTaskEnabled(w, r, false)
}

func (s *Server) setTaskEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid task ID")
		return
	}

	if err := s.tasks.SetTaskEnabled(r.Context(), id, enabled); err != nil {
		if errors.Is(err, scheduler.ErrNotFound) {
			writeNotFound(w, "task not found")
			return
		}
		writeInternalError(w, "failed to update task")
		return
	}

	verb := "disable"
	if enabled {
		verb = "enable"
	}
	s.operatorAction(r, verb, "task", id, nil)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": enabled})
}

// handleTriggerTask runs a task immediately, bypassing the due check.
// The run counts toward maxRuns but leaves the schedule untouched.
func (s *Server) handleTriggerTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid task ID")
		return
	}

	if s.scheduler == nil {
		writeInternalError(w, "scheduler not running")
		return
	}

	if err := s.scheduler.TriggerNow(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrNotFound):
			writeNotFound(w, "task not found")
		case errors.Is(err, scheduler.ErrDisabled):
			writeConflict(w, "task is disabled")
		default:
			writeInternalError(w, "failed to trigger task")
		}
		return
	}

	s.operatorAction(r, "trigger", "task", id, nil)
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "triggered", "id": id})
}
