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

var ErrPeriodicalNotFound = errors.New("periodical not found")

// Periodical is one imported issue on disk. Importing the same issue
// again touches the existing row instead of creating a duplicate.
type Periodical struct {
	ID              int       `json:"id"`
	Title           string    `json:"title"`
	NormalizedTitle string    `json:"normalizedTitle"`
	Language        string    `json:"language"`
	Publisher       *string   `json:"publisher,omitempty"`
	ISSN            *string   `json:"issn,omitempty"`
	CoverPath       *string   `json:"coverPath,omitempty"`
	OrganizedPath   string    `json:"organizedPath"`
	IssueDate       time.Time `json:"issueDate"`
	IssueCount      int       `json:"issueCount"`
	TrackingID      *int      `json:"trackingId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type PeriodicalStore struct {
	db dbinterface.TxQuerier
}

func NewPeriodicalStore(db dbinterface.TxQuerier) *PeriodicalStore {
	return &PeriodicalStore{db: db}
}

const periodicalColumns = `id, title, normalized_title, language, publisher, issn, cover_path, organized_path, issue_date, issue_count, tracking_id, created_at, updated_at`

func scanPeriodical(row interface{ Scan(...any) error }) (*Periodical, error) {
	var p Periodical
	err := row.Scan(
		&p.ID, &p.Title, &p.NormalizedTitle, &p.Language, &p.Publisher,
		&p.ISSN, &p.CoverPath, &p.OrganizedPath, &p.IssueDate,
		&p.IssueCount, &p.TrackingID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Upsert inserts the periodical or, when the same issue already exists at
// the same organized path, bumps its issue_count and refreshes metadata
// fields that were previously empty.
func (s *PeriodicalStore) Upsert(ctx context.Context, p *Periodical) (*Periodical, error) {
	if p.Language == "" {
		p.Language = "English"
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO periodicals (title, normalized_title, language, publisher, issn, cover_path, organized_path, issue_date, tracking_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (normalized_title, language, organized_path) DO UPDATE SET
			issue_count = issue_count + 1,
			publisher   = COALESCE(periodicals.publisher, excluded.publisher),
			issn        = COALESCE(periodicals.issn, excluded.issn),
			cover_path  = COALESCE(periodicals.cover_path, excluded.cover_path),
			tracking_id = COALESCE(periodicals.tracking_id, excluded.tracking_id),
			updated_at  = CURRENT_TIMESTAMP
		RETURNING `+periodicalColumns,
		p.Title, p.NormalizedTitle, p.Language, p.Publisher, p.ISSN,
		p.CoverPath, p.OrganizedPath, p.IssueDate.UTC(), p.TrackingID,
	)
	created, err := scanPeriodical(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert periodical: %w", err)
	}
	return created, nil
}

func (s *PeriodicalStore) Get(ctx context.Context, id int) (*Periodical, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+periodicalColumns+` FROM periodicals WHERE id = ?`, id)
	p, err := scanPeriodical(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPeriodicalNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// List returns periodicals newest issue first.
func (s *PeriodicalStore) List(ctx context.Context) ([]*Periodical, error) {
	return s.queryMany(ctx,
		`SELECT `+periodicalColumns+` FROM periodicals ORDER BY issue_date DESC, id DESC`)
}

// ListByTracking returns the issues owned by one tracking record.
func (s *PeriodicalStore) ListByTracking(ctx context.Context, trackingID int) ([]*Periodical, error) {
	return s.queryMany(ctx,
		`SELECT `+periodicalColumns+` FROM periodicals WHERE tracking_id = ? ORDER BY issue_date DESC, id DESC`,
		trackingID)
}

// ListByNormalizedTitle returns the issues stored under one normalized
// title, whether or not a tracking record owns them.
func (s *PeriodicalStore) ListByNormalizedTitle(ctx context.Context, normalized string) ([]*Periodical, error) {
	return s.queryMany(ctx,
		`SELECT `+periodicalColumns+` FROM periodicals WHERE normalized_title = ? ORDER BY issue_date DESC, id DESC`,
		normalized)
}

// DistinctTitles returns every distinct title with its normalized form,
// for fuzzy matching against incoming files.
func (s *PeriodicalStore) DistinctTitles(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT title, normalized_title FROM periodicals`)
	if err != nil {
		return nil, fmt.Errorf("failed to query periodical titles: %w", err)
	}
	defer rows.Close()

	titles := make(map[string]string)
	for rows.Next() {
		var title, normalized string
		if err := rows.Scan(&title, &normalized); err != nil {
			return nil, err
		}
		titles[normalized] = title
	}
	return titles, rows.Err()
}

func (s *PeriodicalStore) Delete(ctx context.Context, id int) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM periodicals WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete periodical: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPeriodicalNotFound
	}
	return nil
}

func (s *PeriodicalStore) queryMany(ctx context.Context, query string, args ...any) ([]*Periodical, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query periodicals: %w", err)
	}
	defer rows.Close()

	var out []*Periodical
	for rows.Next() {
		p, err := scanPeriodical(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
