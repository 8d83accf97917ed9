// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/periodarr/periodarr/internal/providers"
	"github.com/periodarr/periodarr/internal/tracking"
)

// SearchHandler fans a query out across the configured providers and
// flags results whose issue is already in the library.
type SearchHandler struct {
	gateway *providers.Gateway
	engine  *tracking.Engine
}

func NewSearchHandler(gateway *providers.Gateway, engine *tracking.Engine) *SearchHandler {
	return &SearchHandler{gateway: gateway, engine: engine}
}

func (h *SearchHandler) Routes(r chi.Router) {
	r.Get("/", h.Search)
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		RespondError(w, http.StatusBadRequest, "q is required")
		return
	}

	result, err := h.gateway.Search(r.Context(), query)
	if err != nil {
		if errors.Is(err, providers.ErrNoProviders) {
			RespondError(w, http.StatusServiceUnavailable, "No search providers are configured")
			return
		}
		log.Error().Err(err).Str("query", query).Msg("Provider search failed")
		RespondError(w, http.StatusInternalServerError, "Provider search failed")
		return
	}

	for i := range result.Candidates {
		owned, err := h.engine.InLibrary(r.Context(), result.Candidates[i].Title)
		if err != nil {
			log.Warn().Err(err).Str("candidate", result.Candidates[i].Title).Msg("Library lookup failed")
			continue
		}
		result.Candidates[i].AlreadyDownloaded = owned
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"found":          len(result.Candidates),
		"results":        result.Candidates,
		"providerErrors": result.ProviderErrors,
	})
}
