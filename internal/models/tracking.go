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
	ErrTrackingNotFound  = errors.New("tracking record not found")
	ErrTrackingDuplicate = errors.New("a tracking record for this title already exists")
	ErrMergeNoSources    = errors.New("merge requires at least one source record")
)

// TrackingRecord marks a title whose new issues should be searched for
// and downloaded automatically.
type TrackingRecord struct {
	ID                           int       `json:"id"`
	Title                        string    `json:"title"`
	NormalizedTitle              string    `json:"normalizedTitle"`
	Publisher                    *string   `json:"publisher,omitempty"`
	ISSN                         string    `json:"issn"`
	TrackAllEditions             bool      `json:"trackAllEditions"`
	TrackNewOnly                 bool      `json:"trackNewOnly"`
	DeleteFromClientOnCompletion bool      `json:"deleteFromClientOnCompletion"`
	OrganizationPattern          *string   `json:"organizationPattern,omitempty"`
	CreatedAt                    time.Time `json:"createdAt"`
	UpdatedAt                    time.Time `json:"updatedAt"`
}

// MergeResult reports what a merge moved before deleting the sources.
type MergeResult struct {
	TargetID         int `json:"targetId"`
	SourcesDeleted   int `json:"sourcesDeleted"`
	MagazinesMoved   int `json:"magazinesMoved"`
	SubmissionsMoved int `json:"submissionsMoved"`
}

type TrackingStore struct {
	db dbinterface.TxQuerier
}

func NewTrackingStore(db dbinterface.TxQuerier) *TrackingStore {
	return &TrackingStore{db: db}
}

const trackingColumns = `id, title, normalized_title, publisher, issn, track_all_editions, track_new_only, delete_from_client_on_completion, organization_pattern, created_at, updated_at`

func scanTracking(row interface{ Scan(...any) error }) (*TrackingRecord, error) {
	var t TrackingRecord
	err := row.Scan(
		&t.ID, &t.Title, &t.NormalizedTitle, &t.Publisher, &t.ISSN,
		&t.TrackAllEditions, &t.TrackNewOnly, &t.DeleteFromClientOnCompletion,
		&t.OrganizationPattern, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *TrackingStore) Create(ctx context.Context, t *TrackingRecord) (*TrackingRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO tracking_records (title, normalized_title, publisher, issn, track_all_editions, track_new_only, delete_from_client_on_completion, organization_pattern)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING `+trackingColumns,
		t.Title, t.NormalizedTitle, t.Publisher, t.ISSN,
		t.TrackAllEditions, t.TrackNewOnly, t.DeleteFromClientOnCompletion, t.OrganizationPattern,
	)
	created, err := scanTracking(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrTrackingDuplicate
		}
		return nil, fmt.Errorf("failed to create tracking record: %w", err)
	}
	return created, nil
}

func (s *TrackingStore) Update(ctx context.Context, t *TrackingRecord) (*TrackingRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE tracking_records
		SET title = ?, normalized_title = ?, publisher = ?, issn = ?,
			track_all_editions = ?, track_new_only = ?,
			delete_from_client_on_completion = ?, organization_pattern = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		RETURNING `+trackingColumns,
		t.Title, t.NormalizedTitle, t.Publisher, t.ISSN,
		t.TrackAllEditions, t.TrackNewOnly, t.DeleteFromClientOnCompletion,
		t.OrganizationPattern, t.ID,
	)
	updated, err := scanTracking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTrackingNotFound
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrTrackingDuplicate
		}
		return nil, fmt.Errorf("failed to update tracking record: %w", err)
	}
	return updated, nil
}

func (s *TrackingStore) Get(ctx context.Context, id int) (*TrackingRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+trackingColumns+` FROM tracking_records WHERE id = ?`, id)
	t, err := scanTracking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTrackingNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *TrackingStore) List(ctx context.Context) ([]*TrackingRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+trackingColumns+` FROM tracking_records ORDER BY title COLLATE NOCASE ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracking records: %w", err)
	}
	defer rows.Close()

	var out []*TrackingRecord
	for rows.Next() {
		t, err := scanTracking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Delete removes a tracking record. When deleteIssues is set the owned
// periodical rows go with it; otherwise they are detached and kept.
func (s *TrackingStore) Delete(ctx context.Context, id int, deleteIssues bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if deleteIssues {
		if _, err := tx.ExecContext(ctx, `DELETE FROM periodicals WHERE tracking_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete tracked periodicals: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `UPDATE periodicals SET tracking_id = NULL WHERE tracking_id = ?`, id); err != nil {
			return fmt.Errorf("failed to detach tracked periodicals: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE submissions SET tracking_id = NULL WHERE tracking_id = ?`, id); err != nil {
		return fmt.Errorf("failed to detach submissions: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM tracking_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tracking record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTrackingNotFound
	}

	return tx.Commit()
}

// Merge moves the periodicals and submissions of every source record onto
// the target and deletes the sources, all in one transaction. Either
// everything moves or nothing does.
func (s *TrackingStore) Merge(ctx context.Context, targetID int, sourceIDs []int) (*MergeResult, error) {
	if len(sourceIDs) == 0 {
		return nil, ErrMergeNoSources
	}
	for _, id := range sourceIDs {
		if id == targetID {
			return nil, errors.New("merge target cannot be one of the sources")
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tracking_records WHERE id = ?`, targetID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, ErrTrackingNotFound
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(sourceIDs)), ", ")
	sourceArgs := make([]any, len(sourceIDs))
	for i, id := range sourceIDs {
		sourceArgs[i] = id
	}

	moveArgs := append([]any{targetID}, sourceArgs...)

	magResult, err := tx.ExecContext(ctx,
		`UPDATE periodicals SET tracking_id = ?, updated_at = CURRENT_TIMESTAMP WHERE tracking_id IN (`+placeholders+`)`,
		moveArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to reassign periodicals: %w", err)
	}
	magsMoved, err := magResult.RowsAffected()
	if err != nil {
		return nil, err
	}

	subResult, err := tx.ExecContext(ctx,
		`UPDATE submissions SET tracking_id = ?, updated_at = CURRENT_TIMESTAMP WHERE tracking_id IN (`+placeholders+`)`,
		moveArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to reassign submissions: %w", err)
	}
	subsMoved, err := subResult.RowsAffected()
	if err != nil {
		return nil, err
	}

	delResult, err := tx.ExecContext(ctx,
		`DELETE FROM tracking_records WHERE id IN (`+placeholders+`)`,
		sourceArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to delete source records: %w", err)
	}
	deleted, err := delResult.RowsAffected()
	if err != nil {
		return nil, err
	}
	if int(deleted) != len(sourceIDs) {
		return nil, fmt.Errorf("%w: expected to delete %d source records, deleted %d", ErrTrackingNotFound, len(sourceIDs), deleted)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit merge: %w", err)
	}

	return &MergeResult{
		TargetID:         targetID,
		SourcesDeleted:   int(deleted),
		MagazinesMoved:   int(magsMoved),
		SubmissionsMoved: int(subsMoved),
	}, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
