// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scheduler

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/periodarr/periodarr/internal/downloads"
	"github.com/periodarr/periodarr/internal/importer"
	"github.com/periodarr/periodarr/internal/matching"
	"github.com/periodarr/periodarr/internal/models"
	"github.com/periodarr/periodarr/internal/tracking"
)

// TaskDeps wires the built-in tasks to the rest of the system.
type TaskDeps struct {
	Submissions  *models.SubmissionStore
	TrackingRecs *models.TrackingStore
	Downloads    *downloads.Gateway
	Importer     *importer.Importer
	Engine       *tracking.Engine
	Matcher      *matching.Matcher
	DownloadsDir string
	Logger       zerolog.Logger
}

// Intervals are the three task periods.
type Intervals struct {
	ClientPoll     time.Duration
	FolderScan     time.Duration
	IssueDiscovery time.Duration
}

// RegisterBuiltinTasks registers client-poll, folder-scan and
// issue-discovery on the scheduler.
func RegisterBuiltinTasks(s *Scheduler, deps TaskDeps, intervals Intervals) {
	tasks := &builtinTasks{deps: deps, log: deps.Logger.With().Str("module", "tasks").Logger()}
	s.Register(TaskClientPoll, intervals.ClientPoll, tasks.clientPoll)
	s.Register(TaskFolderScan, intervals.FolderScan, tasks.folderScan)
	s.Register(TaskIssueDiscovery, intervals.IssueDiscovery, tasks.issueDiscovery)
}

type builtinTasks struct {
	deps TaskDeps
	log  zerolog.Logger
}

// clientPoll submits pending downloads and advances active jobs through
// the client's reported states. Submissions are processed in creation
// order and per-item failures never stop the batch.
func (b *builtinTasks) clientPoll(ctx context.Context) (models.RunDelta, error) {
	delta := models.RunDelta{ClientChecked: true}

	subs, err := b.deps.Submissions.ListByStatuses(ctx, models.SubmissionPending, models.SubmissionDownloading)
	if err != nil {
		return delta, err
	}
	var pending, active []*models.Submission
	for _, sub := range subs {
		if sub.Status == models.SubmissionPending {
			pending = append(pending, sub)
		} else {
			active = append(active, sub)
		}
	}

	if err := b.submitPending(ctx, pending, &delta); err != nil {
		return delta, err
	}
	if err := b.pollDownloading(ctx, active, &delta); err != nil {
		return delta, err
	}
	return delta, nil
}

func (b *builtinTasks) submitPending(ctx context.Context, pending []*models.Submission, delta *models.RunDelta) error {
	for _, sub := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}

		// The folder scan may have imported this issue while the
		// submission sat in the queue.
		inLibrary, err := b.deps.Engine.InLibrary(ctx, sub.Title)
		if err != nil {
			b.log.Warn().Err(err).Int("submission", sub.ID).Msg("Library check failed")
		} else if inLibrary {
			if err := b.deps.Submissions.MarkSkipped(ctx, sub.ID, "issue already in library"); err != nil {
				b.log.Error().Err(err).Int("submission", sub.ID).Msg("Failed to mark submission skipped")
			} else {
				b.log.Info().Int("submission", sub.ID).Str("title", sub.Title).Msg("Skipped download of issue already in library")
			}
			continue
		}

		jobID, err := b.deps.Downloads.Submit(ctx, sub.URL, sub.Title)
		if err != nil {
			b.log.Warn().Err(err).Int("submission", sub.ID).Msg("Submit to download client failed")
			b.markFailed(ctx, sub, err.Error(), delta)
			continue
		}
		if err := b.deps.Submissions.MarkDownloading(ctx, sub.ID, jobID); err != nil {
			b.log.Error().Err(err).Int("submission", sub.ID).Msg("Failed to record job handle")
		}
	}
	return nil
}

func (b *builtinTasks) pollDownloading(ctx context.Context, active []*models.Submission, delta *models.RunDelta) error {
	if len(active) == 0 {
		return nil
	}

	jobIDs := make([]string, 0, len(active))
	for _, sub := range active {
		if sub.JobID != nil {
			jobIDs = append(jobIDs, *sub.JobID)
		}
	}
	statuses, statusErrs := b.deps.Downloads.StatusAll(ctx, jobIDs)

	for _, sub := range active {
		if err := ctx.Err(); err != nil {
			return err
		}
		if sub.JobID == nil {
			b.markFailed(ctx, sub, "submission has no job handle", delta)
			continue
		}

		if err, ok := statusErrs[*sub.JobID]; ok {
			// Transient client trouble; leave the job for the next poll.
			b.log.Warn().Err(err).Int("submission", sub.ID).Msg("Status check failed")
			continue
		}

		status := statuses[*sub.JobID]
		switch status.State {
		case downloads.StateCompleted:
			b.completeJob(ctx, sub, status.FilePath, delta)
		case downloads.StateFailed:
			reason := status.Error
			if reason == "" {
				reason = "download client reported failure"
			}
			b.removeFromClient(ctx, sub, true)
			b.markFailed(ctx, sub, reason, delta)
		case downloads.StateMissing:
			// The client forgot the job. If the file made it to disk the
			// download finished and was cleaned up; otherwise it is lost.
			if path := b.findDownloadedFile(sub.Title); path != "" {
				b.completeJob(ctx, sub, path, delta)
			} else {
				b.markFailed(ctx, sub, "job missing from download client", delta)
			}
		}
	}
	return nil
}

func (b *builtinTasks) completeJob(ctx context.Context, sub *models.Submission, filePath string, delta *models.RunDelta) {
	if filePath == "" {
		filePath = b.findDownloadedFile(sub.Title)
	}
	if filePath == "" {
		b.markFailed(ctx, sub, "completed download has no file on disk", delta)
		return
	}

	if err := b.deps.Submissions.MarkCompleted(ctx, sub.ID, filePath); err != nil {
		b.log.Error().Err(err).Int("submission", sub.ID).Msg("Failed to mark submission completed")
		return
	}
	sub.FilePath = &filePath

	if _, err := b.deps.Importer.ImportCompleted(ctx, sub); err != nil {
		b.log.Warn().Err(err).Int("submission", sub.ID).Msg("Import of completed download failed")
	}

	b.removeFromClient(ctx, sub, false)
	delta.ClientDownloadsProcessed++
}

// removeFromClient drops the job from the client when the owning
// tracking record asks for it. deleteFiles only on failures.
func (b *builtinTasks) removeFromClient(ctx context.Context, sub *models.Submission, deleteFiles bool) {
	if sub.JobID == nil || sub.TrackingID == nil {
		return
	}
	record, err := b.deps.TrackingRecs.Get(ctx, *sub.TrackingID)
	if err != nil || !record.DeleteFromClientOnCompletion {
		return
	}
	if err := b.deps.Downloads.Remove(ctx, *sub.JobID, deleteFiles); err != nil {
		b.log.Warn().Err(err).Str("jobID", *sub.JobID).Msg("Failed to remove job from client")
	}
}

func (b *builtinTasks) markFailed(ctx context.Context, sub *models.Submission, reason string, delta *models.RunDelta) {
	if err := b.deps.Submissions.MarkFailed(ctx, sub.ID, reason); err != nil {
		b.log.Error().Err(err).Int("submission", sub.ID).Msg("Failed to mark submission failed")
		return
	}
	delta.ClientDownloadsFailed++

	if updated, err := b.deps.Submissions.Get(ctx, sub.ID); err == nil && b.deps.Submissions.IsBadFile(updated) {
		delta.BadFilesDetected++
		b.log.Warn().Int("submission", sub.ID).Str("title", sub.Title).Msg("Submission quarantined as bad file")
	}
}

// findDownloadedFile searches the downloads directory for a file whose
// name matches the submission title.
func (b *builtinTasks) findDownloadedFile(title string) string {
	if b.deps.DownloadsDir == "" {
		return ""
	}

	var found string
	group := b.deps.Matcher.GroupKey(title)
	filepath.WalkDir(b.deps.DownloadsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || found != "" {
			return nil
		}
		stem := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		if b.deps.Matcher.GroupKey(stem) == group || b.deps.Matcher.IsMatch(stem, title) {
			found = path
		}
		return nil
	})
	return found
}

// folderScan imports whatever landed in the downloads directory outside
// the client flow.
func (b *builtinTasks) folderScan(ctx context.Context) (models.RunDelta, error) {
	delta := models.RunDelta{FolderScanned: true}

	report := b.deps.Importer.ImportFromFolder(ctx, b.deps.DownloadsDir, importer.Options{})
	delta.FolderFilesImported = report.Imported

	b.log.Info().
		Int("scanned", report.Scanned).
		Int("imported", report.Imported).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("Folder scan finished")
	return delta, nil
}

// issueDiscovery evaluates every tracked title and queues accepted
// candidates. A failing title does not stop the rest.
func (b *builtinTasks) issueDiscovery(ctx context.Context) (models.RunDelta, error) {
	var delta models.RunDelta

	records, err := b.deps.TrackingRecs.List(ctx)
	if err != nil {
		return delta, err
	}

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return delta, err
		}

		candidates, err := b.deps.Engine.Evaluate(ctx, record)
		if err != nil {
			b.log.Warn().Err(err).Str("title", record.Title).Msg("Issue discovery failed for title")
			continue
		}
		queued, err := b.deps.Engine.EnqueueCandidates(ctx, record, candidates)
		if err != nil {
			b.log.Warn().Err(err).Str("title", record.Title).Msg("Failed to queue candidates")
			continue
		}
		if queued > 0 {
			b.log.Info().Str("title", record.Title).Int("queued", queued).Msg("Queued new issues")
		}
	}
	return delta, nil
}
