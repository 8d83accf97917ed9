// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/periodarr/periodarr/internal/models"
	"github.com/periodarr/periodarr/internal/tracking"
)

// TrackingHandler manages tracked titles.
type TrackingHandler struct {
	engine *tracking.Engine
	store  *models.TrackingStore
}

func NewTrackingHandler(engine *tracking.Engine, store *models.TrackingStore) *TrackingHandler {
	return &TrackingHandler{
		engine: engine,
		store:  store,
	}
}

func (h *TrackingHandler) Routes(r chi.Router) {
	r.Get("/", h.ListTracking)
	r.Post("/", h.SaveTracking)
	r.Post("/merge", h.MergeTracking)
	r.Get("/{trackingID}", h.GetTracking)
	r.Patch("/{trackingID}", h.UpdateTracking)
	r.Delete("/{trackingID}", h.DeleteTracking)
}

func (h *TrackingHandler) ListTracking(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list tracking records")
		RespondError(w, http.StatusInternalServerError, "Failed to list tracking records")
		return
	}

	RespondJSON(w, http.StatusOK, records)
}

func (h *TrackingHandler) GetTracking(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "trackingID"))
	if err != nil || id <= 0 {
		RespondError(w, http.StatusBadRequest, "trackingID must be a positive integer")
		return
	}

	record, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrTrackingNotFound) {
			RespondError(w, http.StatusNotFound, "Tracking record not found")
			return
		}
		log.Error().Err(err).Int("trackingId", id).Msg("Failed to get tracking record")
		RespondError(w, http.StatusInternalServerError, "Failed to get tracking record")
		return
	}

	RespondJSON(w, http.StatusOK, record)
}

func (h *TrackingHandler) SaveTracking(w http.ResponseWriter, r *http.Request) {
	var record models.TrackingRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	created, err := h.engine.Save(r.Context(), &record)
	if err != nil {
		if errors.Is(err, models.ErrTrackingDuplicate) {
			RespondError(w, http.StatusConflict, "A tracking record already exists for this title")
			return
		}
		log.Error().Err(err).Str("title", record.Title).Msg("Failed to save tracking record")
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	RespondJSON(w, http.StatusCreated, created)
}

func (h *TrackingHandler) UpdateTracking(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "trackingID"))
	if err != nil || id <= 0 {
		RespondError(w, http.StatusBadRequest, "trackingID must be a positive integer")
		return
	}

	var fields tracking.UpdateFields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	updated, err := h.engine.Update(r.Context(), id, fields)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrTrackingNotFound):
			RespondError(w, http.StatusNotFound, "Tracking record not found")
		case errors.Is(err, models.ErrTrackingDuplicate):
			RespondError(w, http.StatusConflict, "A tracking record already exists for this title")
		default:
			log.Error().Err(err).Int("trackingId", id).Msg("Failed to update tracking record")
			RespondError(w, http.StatusInternalServerError, "Failed to update tracking record")
		}
		return
	}

	RespondJSON(w, http.StatusOK, updated)
}

type mergeRequest struct {
	TargetID  int   `json:"targetId"`
	SourceIDs []int `json:"sourceIds"`
}

// MergeTracking collapses duplicate tracking records into one. The merge
// is all-or-nothing.
func (h *TrackingHandler) MergeTracking(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.TargetID <= 0 {
		RespondError(w, http.StatusBadRequest, "targetId must be a positive integer")
		return
	}
	if len(req.SourceIDs) == 0 {
		RespondError(w, http.StatusBadRequest, "sourceIds must not be empty")
		return
	}

	result, err := h.engine.Merge(r.Context(), req.TargetID, req.SourceIDs)
	if err != nil {
		if errors.Is(err, models.ErrTrackingNotFound) {
			RespondError(w, http.StatusNotFound, "Tracking record not found")
			return
		}
		log.Error().Err(err).Int("targetId", req.TargetID).Msg("Failed to merge tracking records")
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	RespondJSON(w, http.StatusOK, result)
}

func (h *TrackingHandler) DeleteTracking(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "trackingID"))
	if err != nil || id <= 0 {
		RespondError(w, http.StatusBadRequest, "trackingID must be a positive integer")
		return
	}

	deleteIssues := r.URL.Query().Get("deleteIssues") == "true"

	if err := h.engine.Delete(r.Context(), id, tracking.DeleteOptions{DeleteIssues: deleteIssues}); err != nil {
		if errors.Is(err, models.ErrTrackingNotFound) {
			RespondError(w, http.StatusNotFound, "Tracking record not found")
			return
		}
		log.Error().Err(err).Int("trackingId", id).Msg("Failed to delete tracking record")
		RespondError(w, http.StatusInternalServerError, "Failed to delete tracking record")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
