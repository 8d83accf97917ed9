// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package importer moves downloaded files into the organized library and
// records them as periodicals, deduplicating against what is already owned.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/periodarr/periodarr/internal/matching"
	"github.com/periodarr/periodarr/internal/models"
	"github.com/periodarr/periodarr/internal/parsing"
)

// AmbiguousMatchError reports a file whose title sits between the match
// and no-match bands against an existing library entry. The file is left
// in place for a human decision.
type AmbiguousMatchError struct {
	Title    string
	Existing string
	Score    int
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("ambiguous match: %q scored %d against existing %q", e.Title, e.Score, e.Existing)
}

// OrganizeError wraps a filesystem failure while moving a file into the
// library. The source file is untouched and the import retried next scan.
type OrganizeError struct {
	Path string
	Err  error
}

func (e *OrganizeError) Error() string {
	return fmt.Sprintf("failed to organize %s: %v", e.Path, e.Err)
}

func (e *OrganizeError) Unwrap() error { return e.Err }

// Enricher fills metadata the filename parse could not provide. Parsed
// fields are never overridden, only empty ones filled.
type Enricher interface {
	Enrich(ctx context.Context, filePath string, issue *parsing.ParsedIssue) error
}

// categoryKeywords maps a category to the title keywords that select it.
var categoryKeywords = map[string][]string{
	"Magazines": {"magazine", "national geographic", "wired", "time", "newsweek", "economist", "pc gamer", "forbes"},
	"Comics":    {"comic", "marvel", "dc", "graphic novel", "comic book"},
	"Articles":  {"article", "paper", "journal", "report"},
	"News":      {"news", "daily", "newspaper"},
}

// categoryOrder keeps categorization deterministic.
var categoryOrder = []string{"Magazines", "Comics", "Articles", "News"}

// Categorize maps a title to its library category, defaulting to Magazines.
func Categorize(title string) string {
	lower := strings.ToLower(title)
	for _, category := range categoryOrder {
		for _, keyword := range categoryKeywords[category] {
			if strings.Contains(lower, keyword) {
				return category
			}
		}
	}
	return "Magazines"
}

var importableExtensions = map[string]bool{
	".pdf": true, ".epub": true, ".mobi": true, ".cbr": true, ".cbz": true,
}

// Options configures one import pass.
type Options struct {
	// DryRun parses and resolves every file but moves and records nothing.
	DryRun bool
}

// Report summarizes a folder import pass.
type Report struct {
	Scanned   int      `json:"scanned"`
	Imported  int      `json:"imported"`
	Skipped   int      `json:"skipped"`
	Ambiguous int      `json:"ambiguous"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// Importer parses, deduplicates, organizes and records files.
type Importer struct {
	periodicals *models.PeriodicalStore
	parser      *parsing.Parser
	matcher     *matching.Matcher
	enricher    Enricher

	organizeDir string
	pattern     string
	log         zerolog.Logger
}

type Config struct {
	OrganizeDir string
	Pattern     string
	Enricher    Enricher
}

func New(periodicals *models.PeriodicalStore, parser *parsing.Parser, matcher *matching.Matcher, cfg Config, logger zerolog.Logger) *Importer {
	pattern := cfg.Pattern
	if pattern == "" {
		pattern = "_{category}/{title}/{year}"
	}
	return &Importer{
		periodicals: periodicals,
		parser:      parser,
		matcher:     matcher,
		enricher:    cfg.Enricher,
		organizeDir: cfg.OrganizeDir,
		pattern:     pattern,
		log:         logger.With().Str("module", "importer").Logger(),
	}
}

// ImportFile parses one file, resolves its title against the library,
// moves it into the organized tree and upserts the periodical row.
// Importing the same file content twice is idempotent at the library
// level: the existing row is touched, no duplicate is created.
func (i *Importer) ImportFile(ctx context.Context, path string, opts Options) (*models.Periodical, error) {
	issue, err := i.parser.ParseFile(path)
	if err != nil {
		return nil, err
	}

	if i.enricher != nil {
		if err := i.enricher.Enrich(ctx, path, issue); err != nil {
			i.log.Warn().Err(err).Str("file", path).Msg("Enrichment failed, continuing with parsed metadata")
		}
	}

	title, err := i.resolveTitle(ctx, issue.Title)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		return &models.Periodical{
			Title:           title,
			NormalizedTitle: i.matcher.Normalize(title),
			OrganizedPath:   path,
			IssueDate:       issue.IssueDate,
		}, nil
	}

	targetPath, err := i.organize(path, title, issue)
	if err != nil {
		return nil, &OrganizeError{Path: path, Err: err}
	}

	periodical, err := i.periodicals.Upsert(ctx, &models.Periodical{
		Title:           title,
		NormalizedTitle: i.matcher.Normalize(title),
		OrganizedPath:   targetPath,
		IssueDate:       issue.IssueDate,
	})
	if err != nil {
		return nil, err
	}

	i.log.Info().
		Str("title", title).
		Str("file", targetPath).
		Int("year", issue.Year).
		Msg("Imported issue")
	return periodical, nil
}

// ErrNoFilePath is returned when a completed submission carries no file.
var ErrNoFilePath = errors.New("submission has no file path")

// ImportCompleted imports a finished download. The release title the
// submission was queued with usually parses better than the client's file
// name, so it is tried first.
func (i *Importer) ImportCompleted(ctx context.Context, sub *models.Submission) (*models.Periodical, error) {
	if sub.FilePath == nil || *sub.FilePath == "" {
		return nil, ErrNoFilePath
	}
	path := *sub.FilePath

	issue, err := i.parser.ParseName(sub.Title)
	if err != nil {
		issue, err = i.parser.ParseFile(path)
		if err != nil {
			return nil, err
		}
	}

	if i.enricher != nil {
		if err := i.enricher.Enrich(ctx, path, issue); err != nil {
			i.log.Warn().Err(err).Str("file", path).Msg("Enrichment failed, continuing with parsed metadata")
		}
	}

	title, err := i.resolveTitle(ctx, issue.Title)
	if err != nil {
		return nil, err
	}

	targetPath, err := i.organize(path, title, issue)
	if err != nil {
		return nil, &OrganizeError{Path: path, Err: err}
	}

	periodical, err := i.periodicals.Upsert(ctx, &models.Periodical{
		Title:           title,
		NormalizedTitle: i.matcher.Normalize(title),
		OrganizedPath:   targetPath,
		IssueDate:       issue.IssueDate,
		TrackingID:      sub.TrackingID,
	})
	if err != nil {
		return nil, err
	}

	i.log.Info().
		Str("title", title).
		Str("file", targetPath).
		Str("provider", sub.Provider).
		Msg("Imported completed download")
	return periodical, nil
}

// ImportFromFolder walks dir and imports every importable file, isolating
// per-file failures. Unparseable files are skipped, organize failures are
// counted and retried on the next scan.
func (i *Importer) ImportFromFolder(ctx context.Context, dir string, opts Options) Report {
	var report Report

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !importableExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		report.Scanned++
		if _, err := i.ImportFile(ctx, path, opts); err != nil {
			switch {
			case isUnparseable(err):
				report.Skipped++
				i.log.Debug().Str("file", path).Msg("Skipping unparseable file")
			case isAmbiguous(err):
				report.Ambiguous++
				report.Errors = append(report.Errors, err.Error())
			default:
				report.Failed++
				report.Errors = append(report.Errors, err.Error())
				i.log.Warn().Err(err).Str("file", path).Msg("Import failed")
			}
			return nil
		}
		report.Imported++
		return nil
	})
	if err != nil && !isContextErr(err) {
		report.Errors = append(report.Errors, err.Error())
	}

	return report
}

// resolveTitle matches a parsed title against existing library titles.
// A confident match adopts the existing canonical title so variants of
// the same publication land in one place; an ambiguous score stops the
// import for a human decision; anything lower keeps the parsed title.
func (i *Importer) resolveTitle(ctx context.Context, parsedTitle string) (string, error) {
	titles, err := i.periodicals.DistinctTitles(ctx)
	if err != nil {
		return "", err
	}

	bestScore := 0
	bestTitle := ""
	for _, existing := range titles {
		if score := i.matcher.Similarity(parsedTitle, existing); score > bestScore {
			bestScore = score
			bestTitle = existing
		}
	}

	verdict := matching.VerdictNoMatch
	if bestTitle != "" {
		verdict, _ = i.matcher.Classify(parsedTitle, bestTitle)
	}

	switch verdict {
	case matching.VerdictMatch:
		return bestTitle, nil
	case matching.VerdictAmbiguous:
		return "", &AmbiguousMatchError{Title: parsedTitle, Existing: bestTitle, Score: bestScore}
	default:
		return parsedTitle, nil
	}
}

// organize moves the file into the pattern-derived location and returns
// the final path. A same-filesystem rename is attempted first, then a
// copy with source removal.
func (i *Importer) organize(sourcePath, title string, issue *parsing.ParsedIssue) (string, error) {
	targetDir := filepath.Join(i.organizeDir, i.renderPattern(title, issue))
	targetPath := filepath.Join(targetDir, i.renderFilename(title, issue)+filepath.Ext(sourcePath))

	if sourcePath == targetPath {
		return targetPath, nil
	}

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return "", err
	}

	if err := os.Rename(sourcePath, targetPath); err == nil {
		return targetPath, nil
	}

	if err := copyFile(sourcePath, targetPath); err != nil {
		return "", err
	}
	if err := os.Remove(sourcePath); err != nil {
		i.log.Warn().Err(err).Str("file", sourcePath).Msg("Could not remove source after copy")
	}
	return targetPath, nil
}

func (i *Importer) renderPattern(title string, issue *parsing.ParsedIssue) string {
	replacer := strings.NewReplacer(
		"{category}", parsing.SanitizeFilename(Categorize(title)),
		"{title}", parsing.SanitizeFilename(title),
		"{year}", fmt.Sprintf("%d", issue.Year),
		"{month}", monthSegment(issue),
	)
	rendered := replacer.Replace(i.pattern)
	return filepath.FromSlash(strings.Trim(rendered, "/"))
}

// renderFilename yields "Title - Jan2024" style names, falling back to
// season or issue number when no month is known.
func (i *Importer) renderFilename(title string, issue *parsing.ParsedIssue) string {
	base := parsing.SanitizeFilename(title)
	switch {
	case issue.Season != "":
		return fmt.Sprintf("%s - %s %d", base, issue.Season, issue.Year)
	case issue.Month != 0:
		return fmt.Sprintf("%s - %s%d", base, issue.Month.String()[:3], issue.Year)
	case issue.Issue != 0:
		return fmt.Sprintf("%s - No %d %d", base, issue.Issue, issue.Year)
	default:
		return fmt.Sprintf("%s - %d", base, issue.Year)
	}
}

func monthSegment(issue *parsing.ParsedIssue) string {
	if issue.Month == 0 {
		return "01"
	}
	return fmt.Sprintf("%02d", int(issue.Month))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

func isUnparseable(err error) bool {
	return errors.Is(err, parsing.ErrUnparseable)
}

func isAmbiguous(err error) bool {
	var ambiguous *AmbiguousMatchError
	return errors.As(err, &ambiguous)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
