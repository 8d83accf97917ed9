// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/periodarr/periodarr/internal/importer"
)

// ImportHandler runs on-demand folder imports outside the scheduled
// folder-scan task.
type ImportHandler struct {
	importer   *importer.Importer
	sourceDir  string
	extensions map[string]bool
}

func NewImportHandler(imp *importer.Importer, sourceDir string) *ImportHandler {
	return &ImportHandler{
		importer:   imp,
		sourceDir:  sourceDir,
		extensions: map[string]bool{".pdf": true, ".epub": true, ".mobi": true, ".cbr": true, ".cbz": true},
	}
}

func (h *ImportHandler) Routes(r chi.Router) {
	r.Get("/status", h.ImportStatus)
	r.Post("/", h.RunImport)
}

type importRequest struct {
	// Path overrides the configured downloads directory.
	Path   string `json:"path,omitempty"`
	DryRun bool   `json:"dryRun,omitempty"`
}

func (h *ImportHandler) RunImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	dir := req.Path
	if dir == "" {
		dir = h.sourceDir
	}

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		RespondError(w, http.StatusBadRequest, "Import directory does not exist")
		return
	}

	report := h.importer.ImportFromFolder(r.Context(), dir, importer.Options{DryRun: req.DryRun})

	log.Info().
		Str("dir", dir).
		Bool("dryRun", req.DryRun).
		Int("imported", report.Imported).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("Manual import finished")

	RespondJSON(w, http.StatusOK, report)
}

// ImportStatus reports whether the source directory is ready and how
// many importable files are waiting in it.
func (h *ImportHandler) ImportStatus(w http.ResponseWriter, r *http.Request) {
	info, err := os.Stat(h.sourceDir)
	if err != nil || !info.IsDir() {
		RespondJSON(w, http.StatusOK, map[string]any{
			"ready":   false,
			"files":   0,
			"message": "Downloads directory does not exist",
		})
		return
	}

	files := 0
	walkErr := filepath.WalkDir(h.sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && h.extensions[strings.ToLower(filepath.Ext(path))] {
			files++
		}
		return nil
	})
	if walkErr != nil {
		log.Error().Err(walkErr).Str("dir", h.sourceDir).Msg("Failed to scan downloads directory")
		RespondError(w, http.StatusInternalServerError, "Failed to scan downloads directory")
		return
	}

	message := "Ready to import"
	if files == 0 {
		message = "No importable files found"
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"ready":   true,
		"files":   files,
		"message": message,
	})
}
