// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package tracking decides which issues of a tracked title should be
// downloaded and manages the tracking records themselves.
package tracking

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/periodarr/periodarr/internal/matching"
	"github.com/periodarr/periodarr/internal/models"
	"github.com/periodarr/periodarr/internal/parsing"
	"github.com/periodarr/periodarr/internal/providers"
)

// DefaultBatchCap limits how many issues one evaluation may queue.
const DefaultBatchCap = 10

// Searcher is the provider surface the engine needs.
type Searcher interface {
	Search(ctx context.Context, query string) (*providers.AggregateResult, error)
}

// UpdateFields is a partial tracking record update. Nil fields are left
// unchanged.
type UpdateFields struct {
	Title                        *string `json:"title,omitempty"`
	Publisher                    *string `json:"publisher,omitempty"`
	ISSN                         *string `json:"issn,omitempty"`
	TrackAllEditions             *bool   `json:"trackAllEditions,omitempty"`
	TrackNewOnly                 *bool   `json:"trackNewOnly,omitempty"`
	DeleteFromClientOnCompletion *bool   `json:"deleteFromClientOnCompletion,omitempty"`
	OrganizationPattern          *string `json:"organizationPattern,omitempty"`
}

// DeleteOptions controls what goes with a deleted tracking record.
type DeleteOptions struct {
	DeleteIssues bool `json:"deleteIssues"`
}

// Engine evaluates tracked titles against provider search results.
type Engine struct {
	records     *models.TrackingStore
	periodicals *models.PeriodicalStore
	submissions *models.SubmissionStore
	searcher    Searcher
	parser      *parsing.Parser
	matcher     *matching.Matcher
	batchCap    int
	log         zerolog.Logger
}

func NewEngine(
	records *models.TrackingStore,
	periodicals *models.PeriodicalStore,
	submissions *models.SubmissionStore,
	searcher Searcher,
	parser *parsing.Parser,
	matcher *matching.Matcher,
	batchCap int,
	logger zerolog.Logger,
) *Engine {
	if batchCap <= 0 {
		batchCap = DefaultBatchCap
	}
	return &Engine{
		records:     records,
		periodicals: periodicals,
		submissions: submissions,
		searcher:    searcher,
		parser:      parser,
		matcher:     matcher,
		batchCap:    batchCap,
		log:         logger.With().Str("module", "tracking").Logger(),
	}
}

// Evaluate searches providers for a tracked title and returns the
// candidates worth downloading: matching the title, not already owned,
// not already queued, newest first with English editions preferred, and
// capped per run.
func (e *Engine) Evaluate(ctx context.Context, record *models.TrackingRecord) ([]providers.Candidate, error) {
	result, err := e.searcher.Search(ctx, record.Title)
	if err != nil {
		return nil, errors.Wrapf(err, "provider search for %q failed", record.Title)
	}

	owned, err := e.ownedIssues(ctx, record)
	if err != nil {
		return nil, err
	}
	var newestOwned time.Time
	ownedKeys := make(map[string]struct{}, len(owned))
	for _, p := range owned {
		if p.IssueDate.After(newestOwned) {
			newestOwned = p.IssueDate
		}
		if issue, err := e.parser.ParseFile(p.OrganizedPath); err == nil {
			ownedKeys[issue.IdentityKey()] = struct{}{}
		}
	}

	type scored struct {
		candidate providers.Candidate
		issue     *parsing.ParsedIssue
	}
	var accepted []scored

	for _, candidate := range result.Candidates {
		issue, err := e.parser.ParseName(candidate.Title)
		if err != nil {
			e.log.Debug().Str("candidate", candidate.Title).Msg("Skipping unparseable candidate")
			continue
		}

		if !e.matcher.IsMatch(issue.Title, record.Title) {
			continue
		}
		if !record.TrackAllEditions && !isEnglish(candidate) {
			continue
		}
		if _, ok := ownedKeys[issue.IdentityKey()]; ok {
			continue
		}
		if record.TrackNewOnly && !newestOwned.IsZero() && !issue.IssueDate.After(newestOwned) {
			continue
		}

		active, err := e.submissions.FindActiveByGroup(ctx, e.matcher.GroupKey(candidate.Title))
		if err != nil {
			return nil, err
		}
		if len(active) > 0 {
			continue
		}

		accepted = append(accepted, scored{candidate: candidate, issue: issue})
	}

	// Newest first; English editions ahead of other languages at equal
	// dates so the batch cap spends its slots on the preferred edition.
	sort.SliceStable(accepted, func(a, b int) bool {
		if !accepted[a].issue.IssueDate.Equal(accepted[b].issue.IssueDate) {
			return accepted[a].issue.IssueDate.After(accepted[b].issue.IssueDate)
		}
		return isEnglish(accepted[a].candidate) && !isEnglish(accepted[b].candidate)
	})

	if len(accepted) > e.batchCap {
		accepted = accepted[:e.batchCap]
	}

	out := make([]providers.Candidate, len(accepted))
	for i, s := range accepted {
		out[i] = s.candidate
	}

	e.log.Debug().
		Str("title", record.Title).
		Int("candidates", len(result.Candidates)).
		Int("accepted", len(out)).
		Msg("Evaluated tracked title")
	return out, nil
}

// ownedIssues collects the library rows counting as already-owned for a
// tracked title: everything linked to the record, plus rows filed under
// the same normalized title with no tracking link, such as issues picked
// up by the folder scan before tracking started.
func (e *Engine) ownedIssues(ctx context.Context, record *models.TrackingRecord) ([]*models.Periodical, error) {
	linked, err := e.periodicals.ListByTracking(ctx, record.ID)
	if err != nil {
		return nil, err
	}
	byTitle, err := e.periodicals.ListByNormalizedTitle(ctx, record.NormalizedTitle)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]struct{}, len(linked))
	owned := make([]*models.Periodical, 0, len(linked)+len(byTitle))
	for _, p := range linked {
		seen[p.ID] = struct{}{}
		owned = append(owned, p)
	}
	for _, p := range byTitle {
		if _, ok := seen[p.ID]; !ok {
			owned = append(owned, p)
		}
	}
	return owned, nil
}

// InLibrary reports whether the issue a release title names is already
// on disk. Unparseable titles are treated as not owned.
func (e *Engine) InLibrary(ctx context.Context, releaseTitle string) (bool, error) {
	issue, err := e.parser.ParseName(releaseTitle)
	if err != nil {
		return false, nil
	}

	existing, err := e.periodicals.ListByNormalizedTitle(ctx, e.matcher.Normalize(issue.Title))
	if err != nil {
		return false, err
	}
	for _, p := range existing {
		if stored, err := e.parser.ParseFile(p.OrganizedPath); err == nil && stored.IdentityKey() == issue.IdentityKey() {
			return true, nil
		}
	}
	return false, nil
}

// EnqueueCandidates turns accepted candidates into pending submissions.
// Group-key duplicates surfacing between Evaluate and here are skipped.
func (e *Engine) EnqueueCandidates(ctx context.Context, record *models.TrackingRecord, candidates []providers.Candidate) (int, error) {
	queued := 0
	for _, c := range candidates {
		_, err := e.submissions.Enqueue(ctx, &models.Submission{
			TrackingID: &record.ID,
			Title:      c.Title,
			URL:        c.URL,
			Provider:   c.Provider,
			Magazine:   c.Magazine,
			MatchGroup: e.matcher.GroupKey(c.Title),
		})
		if errors.Is(err, models.ErrDuplicateSubmission) {
			continue
		}
		if err != nil {
			return queued, err
		}
		queued++
	}
	return queued, nil
}

// Save creates a tracking record from a title.
func (e *Engine) Save(ctx context.Context, record *models.TrackingRecord) (*models.TrackingRecord, error) {
	record.Title = strings.TrimSpace(record.Title)
	if record.Title == "" {
		return nil, errors.New("tracking title cannot be empty")
	}
	record.NormalizedTitle = e.matcher.Normalize(record.Title)
	return e.records.Create(ctx, record)
}

// Update applies a partial update to a tracking record.
func (e *Engine) Update(ctx context.Context, id int, fields UpdateFields) (*models.TrackingRecord, error) {
	record, err := e.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if fields.Title != nil {
		record.Title = strings.TrimSpace(*fields.Title)
		record.NormalizedTitle = e.matcher.Normalize(record.Title)
	}
	if fields.Publisher != nil {
		record.Publisher = fields.Publisher
	}
	if fields.ISSN != nil {
		record.ISSN = *fields.ISSN
	}
	if fields.TrackAllEditions != nil {
		record.TrackAllEditions = *fields.TrackAllEditions
	}
	if fields.TrackNewOnly != nil {
		record.TrackNewOnly = *fields.TrackNewOnly
	}
	if fields.DeleteFromClientOnCompletion != nil {
		record.DeleteFromClientOnCompletion = *fields.DeleteFromClientOnCompletion
	}
	if fields.OrganizationPattern != nil {
		record.OrganizationPattern = fields.OrganizationPattern
	}

	return e.records.Update(ctx, record)
}

// Merge folds source records into the target in one transaction.
func (e *Engine) Merge(ctx context.Context, targetID int, sourceIDs []int) (*models.MergeResult, error) {
	result, err := e.records.Merge(ctx, targetID, sourceIDs)
	if err != nil {
		return nil, errors.Wrap(err, "merge failed")
	}
	e.log.Info().
		Int("target", targetID).
		Int("magazinesMoved", result.MagazinesMoved).
		Int("submissionsMoved", result.SubmissionsMoved).
		Msg("Merged tracking records")
	return result, nil
}

// Delete removes a tracking record, optionally with its imported issues.
// Submissions keep a dangling tracking reference either way.
func (e *Engine) Delete(ctx context.Context, id int, opts DeleteOptions) error {
	return e.records.Delete(ctx, id, opts.DeleteIssues)
}

var languageTokens = map[string]bool{
	"german": true, "french": true, "spanish": true, "italian": true,
	"dutch": true, "portuguese": true, "russian": true, "polish": true,
}

// isEnglish treats anything without an explicit foreign language marker
// as English, matching how release names are labelled in practice.
func isEnglish(c providers.Candidate) bool {
	if lang, ok := c.Metadata["language"]; ok {
		return strings.EqualFold(lang, "english") || strings.EqualFold(lang, "en")
	}
	for _, tok := range strings.Fields(strings.ToLower(strings.NewReplacer(".", " ", "_", " ").Replace(c.Title))) {
		if languageTokens[tok] {
			return false
		}
	}
	return true
}
