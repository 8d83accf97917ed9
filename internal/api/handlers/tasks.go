// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/periodarr/periodarr/internal/scheduler"
)

// TasksHandler exposes the scheduler's task list and manual triggers.
type TasksHandler struct {
	scheduler *scheduler.Scheduler
}

func NewTasksHandler(s *scheduler.Scheduler) *TasksHandler {
	return &TasksHandler{scheduler: s}
}

func (h *TasksHandler) Routes(r chi.Router) {
	r.Get("/", h.ListTasks)
	r.Post("/{taskID}/run", h.RunTask)
}

func (h *TasksHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]any{
		"tasks": h.scheduler.Status(r.Context()),
	})
}

// RunTask requests an immediate run. A task already in flight rejects
// the trigger instead of queueing a second run.
func (h *TasksHandler) RunTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	if err := h.scheduler.Trigger(taskID); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrTaskNotFound):
			RespondError(w, http.StatusNotFound, "task not found")
		case errors.Is(err, scheduler.ErrTaskAlreadyRunning):
			RespondJSON(w, http.StatusConflict, map[string]string{
				"result": "rejected",
				"reason": "task is already running",
			})
		default:
			RespondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	RespondJSON(w, http.StatusAccepted, map[string]string{"result": "accepted"})
}
