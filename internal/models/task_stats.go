// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/periodarr/periodarr/internal/dbinterface"
)

// TaskStats are per-task counters persisted across restarts.
type TaskStats struct {
	TaskID                   string     `json:"taskId"`
	TotalRuns                int        `json:"totalRuns"`
	ClientDownloadsProcessed int        `json:"clientDownloadsProcessed"`
	ClientDownloadsFailed    int        `json:"clientDownloadsFailed"`
	FolderFilesImported      int        `json:"folderFilesImported"`
	BadFilesDetected         int        `json:"badFilesDetected"`
	LastClientCheck          *time.Time `json:"lastClientCheck,omitempty"`
	LastFolderScan           *time.Time `json:"lastFolderScan,omitempty"`
	LastRun                  *time.Time `json:"lastRun,omitempty"`
	LastStatus               string     `json:"lastStatus"`
	LastError                *string    `json:"lastError,omitempty"`
	UpdatedAt                time.Time  `json:"updatedAt"`
}

// RunDelta is what one task run adds to the persisted counters.
type RunDelta struct {
	ClientDownloadsProcessed int
	ClientDownloadsFailed    int
	FolderFilesImported      int
	BadFilesDetected         int
	ClientChecked            bool
	FolderScanned            bool
	Status                   string
	Err                      error
}

type TaskStatsStore struct {
	db dbinterface.TxQuerier
}

func NewTaskStatsStore(db dbinterface.TxQuerier) *TaskStatsStore {
	return &TaskStatsStore{db: db}
}

func (s *TaskStatsStore) Get(ctx context.Context, taskID string) (*TaskStats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, total_runs, client_downloads_processed, client_downloads_failed,
			folder_files_imported, bad_files_detected, last_client_check, last_folder_scan,
			last_run, last_status, last_error, updated_at
		FROM task_stats WHERE task_id = ?`, taskID)

	var st TaskStats
	err := row.Scan(
		&st.TaskID, &st.TotalRuns, &st.ClientDownloadsProcessed, &st.ClientDownloadsFailed,
		&st.FolderFilesImported, &st.BadFilesDetected, &st.LastClientCheck, &st.LastFolderScan,
		&st.LastRun, &st.LastStatus, &st.LastError, &st.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &TaskStats{TaskID: taskID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task stats: %w", err)
	}
	return &st, nil
}

// RecordRun folds one run's delta into the persisted counters.
func (s *TaskStatsStore) RecordRun(ctx context.Context, taskID string, delta RunDelta) error {
	now := time.Now().UTC()

	var lastClientCheck, lastFolderScan *time.Time
	if delta.ClientChecked {
		lastClientCheck = &now
	}
	if delta.FolderScanned {
		lastFolderScan = &now
	}
	var lastError *string
	if delta.Err != nil {
		msg := delta.Err.Error()
		lastError = &msg
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_stats (task_id, total_runs, client_downloads_processed, client_downloads_failed,
			folder_files_imported, bad_files_detected, last_client_check, last_folder_scan,
			last_run, last_status, last_error, updated_at)
		VALUES (?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (task_id) DO UPDATE SET
			total_runs                 = total_runs + 1,
			client_downloads_processed = client_downloads_processed + excluded.client_downloads_processed,
			client_downloads_failed    = client_downloads_failed + excluded.client_downloads_failed,
			folder_files_imported      = folder_files_imported + excluded.folder_files_imported,
			bad_files_detected         = bad_files_detected + excluded.bad_files_detected,
			last_client_check          = COALESCE(excluded.last_client_check, task_stats.last_client_check),
			last_folder_scan           = COALESCE(excluded.last_folder_scan, task_stats.last_folder_scan),
			last_run                   = excluded.last_run,
			last_status                = excluded.last_status,
			last_error                 = excluded.last_error,
			updated_at                 = excluded.updated_at`,
		taskID, delta.ClientDownloadsProcessed, delta.ClientDownloadsFailed,
		delta.FolderFilesImported, delta.BadFilesDetected, lastClientCheck, lastFolderScan,
		now, delta.Status, lastError, now,
	)
	if err != nil {
		return fmt.Errorf("failed to record task run: %w", err)
	}
	return nil
}
