// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/periodarr/periodarr/internal/downloads"
	"github.com/periodarr/periodarr/internal/matching"
	"github.com/periodarr/periodarr/internal/models"
)

// QueueHandler manages the submission queue: listing, retrying,
// removing, cleanup and direct single-issue enqueues.
type QueueHandler struct {
	store     *models.SubmissionStore
	downloads *downloads.Gateway
	matcher   *matching.Matcher
}

func NewQueueHandler(store *models.SubmissionStore, dl *downloads.Gateway, matcher *matching.Matcher) *QueueHandler {
	return &QueueHandler{
		store:     store,
		downloads: dl,
		matcher:   matcher,
	}
}

func (h *QueueHandler) Routes(r chi.Router) {
	r.Get("/", h.ListQueue)
	r.Post("/", h.EnqueueIssue)
	r.Get("/failed", h.ListFailed)
	r.Post("/cleanup/preview", h.CleanupPreview)
	r.Post("/cleanup", h.CleanupExecute)
	r.Post("/{submissionID}/retry", h.RetrySubmission)
	r.Delete("/{submissionID}", h.RemoveSubmission)
}

func (h *QueueHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	submissions, err := h.store.List(r.Context(), status)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list submissions")
		RespondError(w, http.StatusInternalServerError, "Failed to list submissions")
		return
	}

	counts, err := h.store.StatusCounts(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to count submissions")
		RespondError(w, http.StatusInternalServerError, "Failed to count submissions")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"submissions":  submissions,
		"statusCounts": counts,
	})
}

type enqueueIssueRequest struct {
	TrackingID *int   `json:"trackingId,omitempty"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	Provider   string `json:"provider"`
	Magazine   string `json:"magazine,omitempty"`
}

// EnqueueIssue records a single issue download and submits it to the
// download client right away instead of waiting for the next poll.
func (h *QueueHandler) EnqueueIssue(w http.ResponseWriter, r *http.Request) {
	var req enqueueIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Title == "" || req.URL == "" {
		RespondError(w, http.StatusBadRequest, "title and url are required")
		return
	}

	sub, err := h.store.Enqueue(r.Context(), &models.Submission{
		TrackingID: req.TrackingID,
		Title:      req.Title,
		URL:        req.URL,
		Provider:   req.Provider,
		Magazine:   req.Magazine,
		MatchGroup: h.matcher.GroupKey(req.Title),
	})
	if err != nil {
		if errors.Is(err, models.ErrDuplicateSubmission) {
			RespondError(w, http.StatusConflict, "An active submission already exists for this issue")
			return
		}
		log.Error().Err(err).Str("title", req.Title).Msg("Failed to enqueue submission")
		RespondError(w, http.StatusInternalServerError, "Failed to enqueue submission")
		return
	}

	jobID, err := h.downloads.Submit(r.Context(), sub.URL, sub.Title)
	if err != nil {
		log.Error().Err(err).Int("submissionId", sub.ID).Msg("Failed to submit to download client")
		if markErr := h.store.MarkFailed(r.Context(), sub.ID, err.Error()); markErr != nil {
			log.Error().Err(markErr).Int("submissionId", sub.ID).Msg("Failed to mark submission failed")
		}
		RespondError(w, http.StatusBadGateway, "Download client rejected the submission")
		return
	}

	if err := h.store.MarkDownloading(r.Context(), sub.ID, jobID); err != nil {
		log.Error().Err(err).Int("submissionId", sub.ID).Msg("Failed to mark submission downloading")
		RespondError(w, http.StatusInternalServerError, "Failed to update submission")
		return
	}

	RespondJSON(w, http.StatusCreated, map[string]any{
		"submissionId": sub.ID,
		"jobId":        jobID,
	})
}

func (h *QueueHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	includeBad := r.URL.Query().Get("includeBad") == "true"

	failed, err := h.store.ListFailed(r.Context(), false)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list failed submissions")
		RespondError(w, http.StatusInternalServerError, "Failed to list failed submissions")
		return
	}

	resp := map[string]any{"failedDownloads": failed}

	if includeBad {
		bad, err := h.store.BadFiles(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("Failed to list bad files")
			RespondError(w, http.StatusInternalServerError, "Failed to list bad files")
			return
		}
		resp["badFiles"] = bad
	}

	RespondJSON(w, http.StatusOK, resp)
}

func (h *QueueHandler) RetrySubmission(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "submissionID"))
	if err != nil || id <= 0 {
		RespondError(w, http.StatusBadRequest, "submissionID must be a positive integer")
		return
	}

	sub, err := h.store.Retry(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrSubmissionNotFound):
			RespondError(w, http.StatusNotFound, "Submission not found")
		case errors.Is(err, models.ErrSubmissionNotFailed):
			RespondError(w, http.StatusConflict, "Only failed submissions can be retried")
		case errors.Is(err, models.ErrSubmissionBadFile):
			RespondError(w, http.StatusConflict, "Submission is quarantined as a bad file; remove and re-enqueue it instead")
		default:
			log.Error().Err(err).Int("submissionId", id).Msg("Failed to retry submission")
			RespondError(w, http.StatusInternalServerError, "Failed to retry submission")
		}
		return
	}

	RespondJSON(w, http.StatusOK, sub)
}

func (h *QueueHandler) RemoveSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "submissionID"))
	if err != nil || id <= 0 {
		RespondError(w, http.StatusBadRequest, "submissionID must be a positive integer")
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrSubmissionNotFound) {
			RespondError(w, http.StatusNotFound, "Submission not found")
			return
		}
		log.Error().Err(err).Int("submissionId", id).Msg("Failed to delete submission")
		RespondError(w, http.StatusInternalServerError, "Failed to delete submission")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type cleanupRequest struct {
	Statuses       []string `json:"statuses,omitempty"`
	OlderThanHours int      `json:"olderThanHours"`
}

func (r *cleanupRequest) cutoff() (time.Time, bool) {
	if r.OlderThanHours <= 0 {
		return time.Time{}, false
	}
	return time.Now().UTC().Add(-time.Duration(r.OlderThanHours) * time.Hour), true
}

// CleanupPreview reports how many rows a cleanup would delete without
// touching anything.
func (h *QueueHandler) CleanupPreview(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cutoff, ok := req.cutoff()
	if !ok {
		RespondError(w, http.StatusBadRequest, "olderThanHours must be a positive integer")
		return
	}

	count, err := h.store.CleanupPreview(r.Context(), req.Statuses, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Failed to preview cleanup")
		RespondError(w, http.StatusInternalServerError, "Failed to preview cleanup")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (h *QueueHandler) CleanupExecute(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cutoff, ok := req.cutoff()
	if !ok {
		RespondError(w, http.StatusBadRequest, "olderThanHours must be a positive integer")
		return
	}

	removed, err := h.store.CleanupExecute(r.Context(), req.Statuses, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Failed to execute cleanup")
		RespondError(w, http.StatusInternalServerError, "Failed to execute cleanup")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
