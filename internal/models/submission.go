// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/periodarr/periodarr/internal/dbinterface"
)

var (
	ErrSubmissionNotFound  = errors.New("submission not found")
	ErrSubmissionNotFailed = errors.New("submission is not in failed state")
	ErrSubmissionBadFile   = errors.New("submission exceeded the retry limit")
	ErrDuplicateSubmission = errors.New("an active submission already exists for this issue")
)

// Submission statuses. Transitions only move forward except for the
// explicit failed -> pending retry path.
const (
	SubmissionPending     = "pending"
	SubmissionDownloading = "downloading"
	SubmissionCompleted   = "completed"
	SubmissionFailed      = "failed"
	SubmissionSkipped     = "skipped"
)

// BadFileAttempts is the default attempt count at which a failed
// submission is considered a bad file and excluded from retries. The
// limit is configurable per store via NewSubmissionStore.
const BadFileAttempts = 3

type Submission struct {
	ID           int        `json:"id"`
	TrackingID   *int       `json:"trackingId,omitempty"`
	Title        string     `json:"title"`
	URL          string     `json:"url"`
	Provider     string     `json:"provider"`
	Magazine     string     `json:"magazine,omitempty"`
	Status       string     `json:"status"`
	AttemptCount int        `json:"attemptCount"`
	LastError    *string    `json:"lastError,omitempty"`
	JobID        *string    `json:"jobId,omitempty"`
	FilePath     *string    `json:"filePath,omitempty"`
	MatchGroup   string     `json:"matchGroup"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

type SubmissionStore struct {
	db          dbinterface.TxQuerier
	maxAttempts int
}

// NewSubmissionStore returns a store whose bad-file quarantine kicks in
// at maxAttempts failed downloads. Values below one fall back to
// BadFileAttempts.
func NewSubmissionStore(db dbinterface.TxQuerier, maxAttempts int) *SubmissionStore {
	if maxAttempts < 1 {
		maxAttempts = BadFileAttempts
	}
	return &SubmissionStore{db: db, maxAttempts: maxAttempts}
}

// IsBadFile reports whether the submission failed often enough to be
// quarantined from the retry path.
func (s *SubmissionStore) IsBadFile(sub *Submission) bool {
	return sub.Status == SubmissionFailed && sub.AttemptCount >= s.maxAttempts
}

const submissionColumns = `id, tracking_id, title, url, provider, magazine, status, attempt_count, last_error, job_id, file_path, match_group, created_at, updated_at, completed_at`

func scanSubmission(row interface{ Scan(...any) error }) (*Submission, error) {
	var s Submission
	err := row.Scan(
		&s.ID, &s.TrackingID, &s.Title, &s.URL, &s.Provider, &s.Magazine,
		&s.Status, &s.AttemptCount, &s.LastError, &s.JobID, &s.FilePath,
		&s.MatchGroup, &s.CreatedAt, &s.UpdatedAt, &s.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Enqueue inserts a new pending submission. When matchGroup is non-empty
// and another pending, downloading, or completed submission already
// carries the same group, ErrDuplicateSubmission is returned and nothing
// is inserted. Completed rows keep blocking until they are removed or
// cleaned up, so a finished download is not fetched a second time.
func (s *SubmissionStore) Enqueue(ctx context.Context, sub *Submission) (*Submission, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if sub.MatchGroup != "" {
		var existing int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM submissions WHERE match_group = ? AND status IN (?, ?, ?)`,
			sub.MatchGroup, SubmissionPending, SubmissionDownloading, SubmissionCompleted,
		).Scan(&existing)
		if err != nil {
			return nil, fmt.Errorf("failed to check for duplicate submission: %w", err)
		}
		if existing > 0 {
			return nil, ErrDuplicateSubmission
		}
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO submissions (tracking_id, title, url, provider, magazine, status, match_group)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING `+submissionColumns,
		sub.TrackingID, sub.Title, sub.URL, sub.Provider, sub.Magazine, SubmissionPending, sub.MatchGroup,
	)
	created, err := scanSubmission(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert submission: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return created, nil
}

func (s *SubmissionStore) Get(ctx context.Context, id int) (*Submission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// MarkDownloading records the download client job handle for a submission
// that was just handed to the client.
func (s *SubmissionStore) MarkDownloading(ctx context.Context, id int, jobID string) error {
	return s.updateStatus(ctx, id, SubmissionDownloading,
		`job_id = ?, last_error = NULL`, jobID)
}

// MarkCompleted records the final file path and the completion time.
func (s *SubmissionStore) MarkCompleted(ctx context.Context, id int, filePath string) error {
	return s.updateStatus(ctx, id, SubmissionCompleted,
		`file_path = ?, last_error = NULL, completed_at = CURRENT_TIMESTAMP`, filePath)
}

// MarkFailed records the failure reason and increments attempt_count.
// The increment happens only here, on the transition into failed, so a
// submission that fails once and is retried twice carries attempt_count 1
// until it fails again.
func (s *SubmissionStore) MarkFailed(ctx context.Context, id int, reason string) error {
	return s.updateStatus(ctx, id, SubmissionFailed,
		`last_error = ?, attempt_count = attempt_count + 1`, reason)
}

func (s *SubmissionStore) MarkSkipped(ctx context.Context, id int, reason string) error {
	return s.updateStatus(ctx, id, SubmissionSkipped, `last_error = ?`, reason)
}

func (s *SubmissionStore) updateStatus(ctx context.Context, id int, status, setClause string, args ...any) error {
	query := fmt.Sprintf(
		`UPDATE submissions SET status = ?, %s, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		setClause)
	queryArgs := append([]any{status}, args...)
	queryArgs = append(queryArgs, id)

	result, err := s.db.ExecContext(ctx, query, queryArgs...)
	if err != nil {
		return fmt.Errorf("failed to update submission status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSubmissionNotFound
	}
	return nil
}

// Retry moves a failed submission back to pending. The attempt count is
// deliberately left alone so repeated failures keep accumulating toward
// the bad-file limit. Bad files are rejected.
func (s *SubmissionStore) Retry(ctx context.Context, id int) (*Submission, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != SubmissionFailed {
		return nil, ErrSubmissionNotFailed
	}
	if s.IsBadFile(sub) {
		return nil, ErrSubmissionBadFile
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE submissions
		SET status = ?, last_error = NULL, job_id = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		SubmissionPending, id)
	if err != nil {
		return nil, fmt.Errorf("failed to retry submission: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *SubmissionStore) Delete(ctx context.Context, id int) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM submissions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete submission: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSubmissionNotFound
	}
	return nil
}

// List returns submissions in creation order, optionally filtered to one
// status. An empty status returns everything.
func (s *SubmissionStore) List(ctx context.Context, status string) ([]*Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	return s.queryMany(ctx, query, args...)
}

// ListFailed returns failed submissions. Bad files are excluded unless
// includeBad is set.
func (s *SubmissionStore) ListFailed(ctx context.Context, includeBad bool) ([]*Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE status = ?`
	args := []any{SubmissionFailed}
	if !includeBad {
		query += ` AND attempt_count < ?`
		args = append(args, s.maxAttempts)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	return s.queryMany(ctx, query, args...)
}

// BadFiles returns failed submissions at or over the retry limit.
func (s *SubmissionStore) BadFiles(ctx context.Context) ([]*Submission, error) {
	return s.queryMany(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		WHERE status = ? AND attempt_count >= ?
		ORDER BY created_at ASC, id ASC`,
		SubmissionFailed, s.maxAttempts)
}

func (s *SubmissionStore) queryMany(ctx context.Context, query string, args ...any) ([]*Submission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var subs []*Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// StatusCounts returns the number of submissions per status.
func (s *SubmissionStore) StatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM submissions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count submissions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// FindByJobID looks a submission up by its download client job handle.
func (s *SubmissionStore) FindByJobID(ctx context.Context, jobID string) (*Submission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE job_id = ?`, jobID)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// FindActiveByGroup returns the submissions carrying the given dedup
// group key that still block a re-download: pending, downloading, or
// completed but not yet cleaned up.
func (s *SubmissionStore) FindActiveByGroup(ctx context.Context, matchGroup string) ([]*Submission, error) {
	return s.queryMany(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		WHERE match_group = ? AND status IN (?, ?, ?)
		ORDER BY created_at ASC, id ASC`,
		matchGroup, SubmissionPending, SubmissionDownloading, SubmissionCompleted)
}

// ListByStatuses returns submissions in any of the given statuses, in
// creation order.
func (s *SubmissionStore) ListByStatuses(ctx context.Context, statuses ...string) ([]*Submission, error) {
	if len(statuses) == 0 {
		return s.List(ctx, "")
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}
	return s.queryMany(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		WHERE status IN (`+placeholders+`)
		ORDER BY created_at ASC, id ASC`, args...)
}

// CleanupPreview counts submissions that CleanupExecute would delete.
func (s *SubmissionStore) CleanupPreview(ctx context.Context, statuses []string, olderThan time.Time) (int, error) {
	query, args := cleanupFilter(statuses, olderThan)
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions`+query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to preview cleanup: %w", err)
	}
	return count, nil
}

// CleanupExecute deletes submissions matching the status filter whose last
// update is older than the cutoff, returning the number deleted.
func (s *SubmissionStore) CleanupExecute(ctx context.Context, statuses []string, olderThan time.Time) (int, error) {
	query, args := cleanupFilter(statuses, olderThan)
	result, err := s.db.ExecContext(ctx, `DELETE FROM submissions`+query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to execute cleanup: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

func cleanupFilter(statuses []string, olderThan time.Time) (string, []any) {
	query := ` WHERE updated_at < ?`
	args := []any{olderThan.UTC()}
	if len(statuses) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
		query += ` AND status IN (` + placeholders + `)`
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	return query, args
}
