// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/periodarr/periodarr/internal/database"
	"github.com/periodarr/periodarr/internal/downloads"
	"github.com/periodarr/periodarr/internal/importer"
	"github.com/periodarr/periodarr/internal/matching"
	"github.com/periodarr/periodarr/internal/models"
	"github.com/periodarr/periodarr/internal/parsing"
	"github.com/periodarr/periodarr/internal/providers"
	"github.com/periodarr/periodarr/internal/tracking"
)

type stubClient struct {
	submits  int
	statuses map[string]downloads.JobStatus
}

func (c *stubClient) Name() string { return "stub" }

func (c *stubClient) Submit(ctx context.Context, url, title string) (string, error) {
	c.submits++
	return fmt.Sprintf("job-%d", c.submits), nil
}

func (c *stubClient) Status(ctx context.Context, jobID string) (downloads.JobStatus, error) {
	if s, ok := c.statuses[jobID]; ok {
		return s, nil
	}
	return downloads.JobStatus{State: downloads.StateDownloading}, nil
}

func (c *stubClient) Remove(ctx context.Context, jobID string, deleteFiles bool) error {
	return nil
}

type stubSearcher struct{}

func (stubSearcher) Search(ctx context.Context, query string) (*providers.AggregateResult, error) {
	return &providers.AggregateResult{}, nil
}

type tasksFixture struct {
	tasks       *builtinTasks
	submissions *models.SubmissionStore
	periodicals *models.PeriodicalStore
	client      *stubClient
}

func newTasksFixture(t *testing.T) *tasksFixture {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn := db.Conn()
	matcher := matching.New(matching.DefaultThreshold, matching.DefaultAmbiguousThreshold)
	parser := parsing.NewParser()

	submissions := models.NewSubmissionStore(conn, 0)
	periodicals := models.NewPeriodicalStore(conn)
	records := models.NewTrackingStore(conn)

	client := &stubClient{statuses: map[string]downloads.JobStatus{}}
	gateway := downloads.NewGateway(client, time.Second, 1, zerolog.Nop())
	imp := importer.New(periodicals, parser, matcher, importer.Config{OrganizeDir: t.TempDir()}, zerolog.Nop())
	engine := tracking.NewEngine(records, periodicals, submissions, stubSearcher{}, parser, matcher, 10, zerolog.Nop())

	tasks := &builtinTasks{
		deps: TaskDeps{
			Submissions:  submissions,
			TrackingRecs: records,
			Downloads:    gateway,
			Importer:     imp,
			Engine:       engine,
			Matcher:      matcher,
			Logger:       zerolog.Nop(),
		},
		log: zerolog.Nop(),
	}

	return &tasksFixture{
		tasks:       tasks,
		submissions: submissions,
		periodicals: periodicals,
		client:      client,
	}
}

func TestClientPoll_SkipsIssuesAlreadyInLibrary(t *testing.T) {
	f := newTasksFixture(t)
	ctx := context.Background()

	_, err := f.periodicals.Upsert(ctx, &models.Periodical{
		Title:           "PC Gamer US",
		NormalizedTitle: "pc gamer us",
		OrganizedPath:   "/library/_Magazines/PC Gamer US/2026/PC Gamer US - No 405 2026.pdf",
		IssueDate:       time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	owned, err := f.submissions.Enqueue(ctx, &models.Submission{
		Title:    "PC.Gamer.US.No.405.2026",
		URL:      "https://a/405",
		Provider: "stub",
	})
	require.NoError(t, err)

	fresh, err := f.submissions.Enqueue(ctx, &models.Submission{
		Title:    "PC.Gamer.US.No.406.2026",
		URL:      "https://a/406",
		Provider: "stub",
	})
	require.NoError(t, err)

	delta, err := f.tasks.clientPoll(ctx)
	require.NoError(t, err)
	assert.True(t, delta.ClientChecked)

	// The issue that turned up in the library while queued is not sent
	// to the client.
	assert.Equal(t, 1, f.client.submits)

	got, err := f.submissions.Get(ctx, owned.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionSkipped, got.Status)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "issue already in library", *got.LastError)

	got, err = f.submissions.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionDownloading, got.Status)
	require.NotNil(t, got.JobID)
}
