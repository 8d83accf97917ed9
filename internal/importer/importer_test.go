// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/periodarr/periodarr/internal/database"
	"github.com/periodarr/periodarr/internal/matching"
	"github.com/periodarr/periodarr/internal/models"
	"github.com/periodarr/periodarr/internal/parsing"
)

type importerFixture struct {
	importer     *Importer
	periodicals  *models.PeriodicalStore
	downloadsDir string
	organizeDir  string
}

func newImporterFixture(t *testing.T) *importerFixture {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	periodicals := models.NewPeriodicalStore(db.Conn())
	downloadsDir := t.TempDir()
	organizeDir := t.TempDir()

	imp := New(
		periodicals,
		parsing.NewParser(),
		matching.New(matching.DefaultThreshold, matching.DefaultAmbiguousThreshold),
		Config{OrganizeDir: organizeDir},
		zerolog.Nop(),
	)

	return &importerFixture{
		importer:     imp,
		periodicals:  periodicals,
		downloadsDir: downloadsDir,
		organizeDir:  organizeDir,
	}
}

func (f *importerFixture) writeFile(t *testing.T, name string) string {
	t.Helper()

	path := filepath.Join(f.downloadsDir, name)
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))
	return path
}

func TestImporter_ImportFile(t *testing.T) {
	f := newImporterFixture(t)
	ctx := context.Background()

	path := f.writeFile(t, "Wired.January.2024.pdf")

	periodical, err := f.importer.ImportFile(ctx, path, Options{})
	require.NoError(t, err)

	expectedPath := filepath.Join(f.organizeDir, "_Magazines", "Wired", "2024", "Wired - Jan2024.pdf")
	assert.Equal(t, expectedPath, periodical.OrganizedPath)
	assert.FileExists(t, expectedPath)
	assert.NoFileExists(t, path)
	assert.Equal(t, "Wired", periodical.Title)
	assert.Equal(t, 2024, periodical.IssueDate.Year())
	assert.Equal(t, time.January, periodical.IssueDate.Month())
}

func TestImporter_ImportFile_Idempotent(t *testing.T) {
	f := newImporterFixture(t)
	ctx := context.Background()

	first, err := f.importer.ImportFile(ctx, f.writeFile(t, "Wired.January.2024.pdf"), Options{})
	require.NoError(t, err)

	// The same issue arrives again under a slightly different name.
	second, err := f.importer.ImportFile(ctx, f.writeFile(t, "Wired January 2024 TruePDF.pdf"), Options{})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	all, err := f.periodicals.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 2, all[0].IssueCount)
}

func TestImporter_ImportFile_MergesIntoExistingTitle(t *testing.T) {
	f := newImporterFixture(t)
	ctx := context.Background()

	_, err := f.periodicals.Upsert(ctx, &models.Periodical{
		Title:           "PC Gamer US",
		NormalizedTitle: "pc gamer us",
		OrganizedPath:   "/library/_Magazines/PC Gamer US/2025/PC Gamer US - No 400 2025.pdf",
		IssueDate:       time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	periodical, err := f.importer.ImportFile(ctx, f.writeFile(t, "PC.Gamer.US.No.405.2026.pdf"), Options{})
	require.NoError(t, err)

	// Adopted the existing canonical title instead of creating a variant.
	assert.Equal(t, "PC Gamer US", periodical.Title)

	all, err := f.periodicals.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestImporter_ImportFile_AmbiguousMatch(t *testing.T) {
	f := newImporterFixture(t)
	ctx := context.Background()

	_, err := f.periodicals.Upsert(ctx, &models.Periodical{
		Title:           "National Geographic Kids",
		NormalizedTitle: "national geographic kids",
		OrganizedPath:   "/library/_Magazines/National Geographic Kids/2024/x.pdf",
		IssueDate:       time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	path := f.writeFile(t, "National.Geographic.Traveler.March.2024.pdf")

	_, err = f.importer.ImportFile(ctx, path, Options{})
	var ambiguous *AmbiguousMatchError
	require.ErrorAs(t, err, &ambiguous)

	// The file stays put for a human decision.
	assert.FileExists(t, path)
}

func TestImporter_ImportFile_CreatesNewTitle(t *testing.T) {
	f := newImporterFixture(t)
	ctx := context.Background()

	_, err := f.periodicals.Upsert(ctx, &models.Periodical{
		Title:           "Wired",
		NormalizedTitle: "wired",
		OrganizedPath:   "/library/_Magazines/Wired/2024/x.pdf",
		IssueDate:       time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	periodical, err := f.importer.ImportFile(ctx, f.writeFile(t, "New Scientist December 2024.pdf"), Options{})
	require.NoError(t, err)
	assert.Equal(t, "New Scientist", periodical.Title)

	all, err := f.periodicals.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestImporter_ImportFile_DryRun(t *testing.T) {
	f := newImporterFixture(t)
	ctx := context.Background()

	path := f.writeFile(t, "Wired.January.2024.pdf")

	periodical, err := f.importer.ImportFile(ctx, path, Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, "Wired", periodical.Title)

	assert.FileExists(t, path)
	all, err := f.periodicals.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestImporter_ImportFromFolder(t *testing.T) {
	f := newImporterFixture(t)
	ctx := context.Background()

	f.writeFile(t, "Wired.January.2024.pdf")
	f.writeFile(t, "New Scientist December 2024.pdf")
	f.writeFile(t, "meeting-notes.pdf") // no parseable identity
	f.writeFile(t, "readme.txt")        // not an importable extension

	report := f.importer.ImportFromFolder(ctx, f.downloadsDir, Options{})

	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 2, report.Imported)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Failed)
}

func TestImporter_ImportCompleted(t *testing.T) {
	f := newImporterFixture(t)
	ctx := context.Background()

	path := f.writeFile(t, "download-123.pdf")
	trackingID := 7
	sub := &models.Submission{
		Title:      "PC.Gamer.US.No.405.2026",
		TrackingID: &trackingID,
		FilePath:   &path,
	}

	periodical, err := f.importer.ImportCompleted(ctx, sub)
	require.NoError(t, err)

	// Identity comes from the release title, not the client's file name.
	assert.Equal(t, "PC Gamer US", periodical.Title)
	require.NotNil(t, periodical.TrackingID)
	assert.Equal(t, trackingID, *periodical.TrackingID)
	assert.NoFileExists(t, path)
}

func TestImporter_ImportCompleted_NoFilePath(t *testing.T) {
	f := newImporterFixture(t)

	_, err := f.importer.ImportCompleted(context.Background(), &models.Submission{Title: "Wired Jan 2024"})
	assert.ErrorIs(t, err, ErrNoFilePath)
}

func TestCategorize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		title    string
		expected string
	}{
		{"Wired", "Magazines"},
		{"Marvel Comics Presents", "Comics"},
		{"IEEE Journal of Things", "Articles"},
		{"The Daily Planet", "News"},
		{"2600", "Magazines"},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, Categorize(tt.title))
		})
	}
}
