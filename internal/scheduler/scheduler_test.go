// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/periodarr/periodarr/internal/database"
	"github.com/periodarr/periodarr/internal/models"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return New(models.NewTaskStatsStore(db.Conn()), zerolog.Nop())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestScheduler_TriggerRunsTask(t *testing.T) {
	s := newTestScheduler(t)

	var mu sync.Mutex
	runs := 0
	s.Register("test-task", time.Hour, func(ctx context.Context) (models.RunDelta, error) {
		mu.Lock()
		runs++
		mu.Unlock()
		return models.RunDelta{ClientDownloadsProcessed: 2}, nil
	})

	s.Start(context.Background())
	defer s.Stop()

	require.NoError(t, s.Trigger("test-task"))
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs == 1
	})

	waitFor(t, func() bool {
		statuses := s.Status(context.Background())
		return len(statuses) == 1 && statuses[0].LastRun != nil
	})

	statuses := s.Status(context.Background())
	require.Len(t, statuses, 1)
	assert.Equal(t, "success", statuses[0].LastStatus)
	require.NotNil(t, statuses[0].Stats)
	assert.Equal(t, 1, statuses[0].Stats.TotalRuns)
	assert.Equal(t, 2, statuses[0].Stats.ClientDownloadsProcessed)
}

func TestScheduler_SetInterval(t *testing.T) {
	s := newTestScheduler(t)
	s.Register("test-task", time.Hour, func(ctx context.Context) (models.RunDelta, error) {
		return models.RunDelta{}, nil
	})

	require.NoError(t, s.SetInterval("test-task", time.Minute))
	assert.ErrorIs(t, s.SetInterval("missing", time.Minute), ErrTaskNotFound)

	// Non-positive intervals are ignored rather than applied.
	require.NoError(t, s.SetInterval("test-task", 0))

	status := s.Status(context.Background())
	require.Len(t, status, 1)
	assert.Equal(t, time.Minute, status[0].Interval)
}

func TestScheduler_TriggerUnknownTask(t *testing.T) {
	s := newTestScheduler(t)
	assert.ErrorIs(t, s.Trigger("nope"), ErrTaskNotFound)
}

func TestScheduler_ConcurrentTriggerOneWins(t *testing.T) {
	s := newTestScheduler(t)

	started := make(chan struct{})
	finish := make(chan struct{})
	s.Register("slow-task", time.Hour, func(ctx context.Context) (models.RunDelta, error) {
		close(started)
		<-finish
		return models.RunDelta{}, nil
	})

	s.Start(context.Background())
	defer s.Stop()

	require.NoError(t, s.Trigger("slow-task"))
	<-started

	// The task is mid-run; a second trigger must be rejected.
	assert.ErrorIs(t, s.Trigger("slow-task"), ErrTaskAlreadyRunning)
	close(finish)
}

func TestScheduler_FailedRunRecordsError(t *testing.T) {
	s := newTestScheduler(t)

	s.Register("failing-task", time.Hour, func(ctx context.Context) (models.RunDelta, error) {
		return models.RunDelta{}, errors.New("provider unreachable")
	})

	s.Start(context.Background())
	defer s.Stop()

	require.NoError(t, s.Trigger("failing-task"))
	waitFor(t, func() bool {
		statuses := s.Status(context.Background())
		return len(statuses) == 1 && statuses[0].LastStatus == "failed"
	})

	statuses := s.Status(context.Background())
	assert.Contains(t, statuses[0].LastError, "provider unreachable")
	require.NotNil(t, statuses[0].Stats)
	assert.Equal(t, "failed", statuses[0].Stats.LastStatus)
}

func TestScheduler_PanicDoesNotKillLoop(t *testing.T) {
	s := newTestScheduler(t)

	var mu sync.Mutex
	runs := 0
	s.Register("panicky-task", time.Hour, func(ctx context.Context) (models.RunDelta, error) {
		mu.Lock()
		runs++
		n := runs
		mu.Unlock()
		if n == 1 {
			panic("boom")
		}
		return models.RunDelta{}, nil
	})

	s.Start(context.Background())
	defer s.Stop()

	require.NoError(t, s.Trigger("panicky-task"))
	waitFor(t, func() bool {
		statuses := s.Status(context.Background())
		return len(statuses) == 1 && statuses[0].LastStatus == "failed"
	})

	// The loop survived and accepts another run.
	waitFor(t, func() bool { return s.Trigger("panicky-task") == nil })
	waitFor(t, func() bool {
		statuses := s.Status(context.Background())
		return statuses[0].LastStatus == "success"
	})
}

func TestScheduler_NextRunAdvancesAfterManualTrigger(t *testing.T) {
	s := newTestScheduler(t)

	s.Register("test-task", time.Hour, func(ctx context.Context) (models.RunDelta, error) {
		return models.RunDelta{}, nil
	})

	s.Start(context.Background())
	defer s.Stop()

	before := s.Status(context.Background())[0].NextRun

	require.NoError(t, s.Trigger("test-task"))
	waitFor(t, func() bool {
		status := s.Status(context.Background())[0]
		return status.LastRun != nil && status.NextRun.After(before)
	})
}

func TestScheduler_StopWaitsForInflightRun(t *testing.T) {
	s := newTestScheduler(t)

	done := false
	var mu sync.Mutex
	s.Register("slow-task", time.Hour, func(ctx context.Context) (models.RunDelta, error) {
		time.Sleep(100 * time.Millisecond)
		mu.Lock()
		done = true
		mu.Unlock()
		return models.RunDelta{}, nil
	})

	s.Start(context.Background())
	require.NoError(t, s.Trigger("slow-task"))

	waitFor(t, func() bool {
		return s.Status(context.Background())[0].Running
	})

	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, done)
}
