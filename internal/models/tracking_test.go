// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestTracking(t *testing.T, store *TrackingStore, title, normalized string) *TrackingRecord {
	t.Helper()

	rec, err := store.Create(context.Background(), &TrackingRecord{
		Title:           title,
		NormalizedTitle: normalized,
	})
	require.NoError(t, err)
	return rec
}

func createTestPeriodical(t *testing.T, store *PeriodicalStore, title, normalized, path string, trackingID *int) *Periodical {
	t.Helper()

	p, err := store.Upsert(context.Background(), &Periodical{
		Title:           title,
		NormalizedTitle: normalized,
		OrganizedPath:   path,
		IssueDate:       time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		TrackingID:      trackingID,
	})
	require.NoError(t, err)
	return p
}

func TestTrackingStore_CreateAndDuplicate(t *testing.T) {
	store := NewTrackingStore(setupTestDB(t))

	createTestTracking(t, store, "Wired", "wired")

	_, err := store.Create(context.Background(), &TrackingRecord{
		Title:           "WIRED",
		NormalizedTitle: "wired",
	})
	assert.ErrorIs(t, err, ErrTrackingDuplicate)
}

func TestTrackingStore_Update(t *testing.T) {
	store := NewTrackingStore(setupTestDB(t))
	ctx := context.Background()

	rec := createTestTracking(t, store, "Wired", "wired")

	rec.TrackNewOnly = true
	rec.DeleteFromClientOnCompletion = true
	updated, err := store.Update(ctx, rec)
	require.NoError(t, err)

	assert.True(t, updated.TrackNewOnly)
	assert.True(t, updated.DeleteFromClientOnCompletion)

	rec.ID = 9999
	_, err = store.Update(ctx, rec)
	assert.ErrorIs(t, err, ErrTrackingNotFound)
}

func TestTrackingStore_DeleteDetachesIssues(t *testing.T) {
	db := setupTestDB(t)
	trackingStore := NewTrackingStore(db)
	periodicalStore := NewPeriodicalStore(db)
	ctx := context.Background()

	rec := createTestTracking(t, trackingStore, "Wired", "wired")
	p := createTestPeriodical(t, periodicalStore, "Wired", "wired", "/library/wired/jan2024.pdf", &rec.ID)

	require.NoError(t, trackingStore.Delete(ctx, rec.ID, false))

	kept, err := periodicalStore.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, kept.TrackingID)
}

func TestTrackingStore_DeleteWithIssues(t *testing.T) {
	db := setupTestDB(t)
	trackingStore := NewTrackingStore(db)
	periodicalStore := NewPeriodicalStore(db)
	ctx := context.Background()

	rec := createTestTracking(t, trackingStore, "Wired", "wired")
	p := createTestPeriodical(t, periodicalStore, "Wired", "wired", "/library/wired/jan2024.pdf", &rec.ID)

	require.NoError(t, trackingStore.Delete(ctx, rec.ID, true))

	_, err := periodicalStore.Get(ctx, p.ID)
	assert.ErrorIs(t, err, ErrPeriodicalNotFound)
}

func TestTrackingStore_Merge(t *testing.T) {
	db := setupTestDB(t)
	trackingStore := NewTrackingStore(db)
	periodicalStore := NewPeriodicalStore(db)
	submissionStore := NewSubmissionStore(db, 0)
	ctx := context.Background()

	target := createTestTracking(t, trackingStore, "PC Gamer", "pc gamer")
	sourceA := createTestTracking(t, trackingStore, "PC Gamer US", "pc gamer us")
	sourceB := createTestTracking(t, trackingStore, "PC Gamer UK", "pc gamer uk")

	createTestPeriodical(t, periodicalStore, "PC Gamer US", "pc gamer us", "/library/pcg/us-405.pdf", &sourceA.ID)
	createTestPeriodical(t, periodicalStore, "PC Gamer UK", "pc gamer uk", "/library/pcg/uk-390.pdf", &sourceB.ID)

	sub, err := submissionStore.Enqueue(ctx, &Submission{
		TrackingID: &sourceA.ID,
		Title:      "PC.Gamer.US.No.405.2026",
		URL:        "https://example.com/pcg",
		Provider:   "test-provider",
	})
	require.NoError(t, err)

	result, err := trackingStore.Merge(ctx, target.ID, []int{sourceA.ID, sourceB.ID})
	require.NoError(t, err)

	assert.Equal(t, 2, result.SourcesDeleted)
	assert.Equal(t, 2, result.MagazinesMoved)
	assert.Equal(t, 1, result.SubmissionsMoved)

	moved, err := periodicalStore.ListByTracking(ctx, target.ID)
	require.NoError(t, err)
	assert.Len(t, moved, 2)

	movedSub, err := submissionStore.Get(ctx, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, movedSub.TrackingID)
	assert.Equal(t, target.ID, *movedSub.TrackingID)

	_, err = trackingStore.Get(ctx, sourceA.ID)
	assert.ErrorIs(t, err, ErrTrackingNotFound)
}

func TestTrackingStore_MergeAllOrNothing(t *testing.T) {
	db := setupTestDB(t)
	trackingStore := NewTrackingStore(db)
	periodicalStore := NewPeriodicalStore(db)
	ctx := context.Background()

	target := createTestTracking(t, trackingStore, "PC Gamer", "pc gamer")
	source := createTestTracking(t, trackingStore, "PC Gamer US", "pc gamer us")
	createTestPeriodical(t, periodicalStore, "PC Gamer US", "pc gamer us", "/library/pcg/us-405.pdf", &source.ID)

	// One source is missing, so the whole merge must roll back.
	_, err := trackingStore.Merge(ctx, target.ID, []int{source.ID, 9999})
	require.ErrorIs(t, err, ErrTrackingNotFound)

	kept, err := trackingStore.Get(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, "PC Gamer US", kept.Title)

	issues, err := periodicalStore.ListByTracking(ctx, source.ID)
	require.NoError(t, err)
	assert.Len(t, issues, 1)

	moved, err := periodicalStore.ListByTracking(ctx, target.ID)
	require.NoError(t, err)
	assert.Empty(t, moved)
}

func TestTrackingStore_MergeValidation(t *testing.T) {
	store := NewTrackingStore(setupTestDB(t))
	ctx := context.Background()

	target := createTestTracking(t, store, "Wired", "wired")

	_, err := store.Merge(ctx, target.ID, nil)
	assert.ErrorIs(t, err, ErrMergeNoSources)

	_, err = store.Merge(ctx, target.ID, []int{target.ID})
	assert.Error(t, err)
}
