// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scheduler runs the recurring acquisition tasks: polling the
// download client, scanning the downloads folder, and discovering new
// issues for tracked titles.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/periodarr/periodarr/internal/models"
)

// Built-in task IDs.
const (
	TaskClientPoll     = "client-poll"
	TaskFolderScan     = "folder-scan"
	TaskIssueDiscovery = "issue-discovery"
)

var (
	ErrTaskNotFound       = errors.New("task not found")
	ErrTaskAlreadyRunning = errors.New("task is already running")
)

// TaskFunc is one unit of scheduled work. It reports what it did so the
// run can be folded into the persisted counters.
type TaskFunc func(ctx context.Context) (models.RunDelta, error)

// TaskStatus is a point-in-time snapshot of one task.
type TaskStatus struct {
	ID         string            `json:"id"`
	Interval   time.Duration     `json:"interval"`
	Running    bool              `json:"running"`
	NextRun    time.Time         `json:"nextRun"`
	LastRun    *time.Time        `json:"lastRun,omitempty"`
	LastStatus string            `json:"lastStatus,omitempty"`
	LastError  string            `json:"lastError,omitempty"`
	Stats      *models.TaskStats `json:"stats,omitempty"`
}

type task struct {
	id string
	fn TaskFunc

	mu         sync.Mutex
	interval   time.Duration
	running    bool
	nextRun    time.Time
	lastRun    *time.Time
	lastStatus string
	lastError  string

	trigger chan struct{}
}

// tryAcquire flips the running flag, failing when a run is in flight.
// Exactly one of two concurrent callers wins.
func (t *task) tryAcquire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return false
	}
	t.running = true
	return true
}

func (t *task) release(finished time.Time, status, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.lastRun = &finished
	t.lastStatus = status
	t.lastError = errMsg
	t.nextRun = finished.Add(t.interval)
}

func (t *task) currentInterval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// Scheduler owns the task goroutines. Stats are persisted per run.
type Scheduler struct {
	tasks   map[string]*task
	ordered []string
	stats   *models.TaskStatsStore
	log     zerolog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func New(stats *models.TaskStatsStore, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		tasks: make(map[string]*task),
		stats: stats,
		log:   logger.With().Str("module", "scheduler").Logger(),
	}
}

// Register adds a task. Must be called before Start.
func (s *Scheduler) Register(id string, interval time.Duration, fn TaskFunc) {
	s.tasks[id] = &task{
		id:       id,
		interval: interval,
		fn:       fn,
		trigger:  make(chan struct{}, 1),
	}
	s.ordered = append(s.ordered, id)
}

// SetInterval changes a task's period. The new interval takes effect
// when the current wait expires or the task next runs.
func (s *Scheduler) SetInterval(id string, interval time.Duration) error {
	t, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if interval <= 0 {
		return nil
	}

	t.mu.Lock()
	t.interval = interval
	t.mu.Unlock()
	s.log.Info().Str("task", id).Dur("interval", interval).Msg("Task interval updated")
	return nil
}

// Start launches one goroutine per task. The first run of each task
// happens one full interval after start.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel

		now := time.Now()
		for _, t := range s.tasks {
			t.mu.Lock()
			t.nextRun = now.Add(t.interval)
			t.mu.Unlock()

			s.wg.Add(1)
			go s.loop(runCtx, t)
		}
		s.log.Info().Int("tasks", len(s.tasks)).Msg("Scheduler started")
	})
}

// Stop cancels the task loops and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		s.log.Info().Msg("Scheduler stopped")
	})
}

// Trigger requests an immediate run. A run already in flight rejects the
// trigger with ErrTaskAlreadyRunning instead of queueing behind it.
func (s *Scheduler) Trigger(id string) error {
	t, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}

	t.mu.Lock()
	running := t.running
	t.mu.Unlock()
	if running {
		return ErrTaskAlreadyRunning
	}

	select {
	case t.trigger <- struct{}{}:
		return nil
	default:
		// A trigger is already queued; treat it like a running task.
		return ErrTaskAlreadyRunning
	}
}

// Status returns a snapshot of every task in registration order.
func (s *Scheduler) Status(ctx context.Context) []TaskStatus {
	out := make([]TaskStatus, 0, len(s.ordered))
	for _, id := range s.ordered {
		t := s.tasks[id]

		t.mu.Lock()
		status := TaskStatus{
			ID:         t.id,
			Interval:   t.interval,
			Running:    t.running,
			NextRun:    t.nextRun,
			LastRun:    t.lastRun,
			LastStatus: t.lastStatus,
			LastError:  t.lastError,
		}
		t.mu.Unlock()

		if stats, err := s.stats.Get(ctx, id); err == nil {
			status.Stats = stats
		}
		out = append(out, status)
	}
	return out
}

func (s *Scheduler) loop(ctx context.Context, t *task) {
	defer s.wg.Done()

	timer := time.NewTimer(t.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.run(ctx, t)
			timer.Reset(t.currentInterval())
		case <-t.trigger:
			s.run(ctx, t)
			// Manual runs push the next scheduled run a full interval out.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(t.currentInterval())
		}
	}
}

// run executes one task invocation with panic recovery. A panicking or
// failing run records last_status=failed and never takes the loop down.
func (s *Scheduler) run(ctx context.Context, t *task) {
	if !t.tryAcquire() {
		return
	}

	started := time.Now()
	s.log.Debug().Str("task", t.id).Msg("Task run started")

	var delta models.RunDelta
	var runErr error

	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("task panicked: %v", r)
				s.log.Error().Str("task", t.id).Interface("panic", r).Msg("Task run panicked")
			}
		}()
		delta, runErr = t.fn(ctx)
	}()

	status := "success"
	errMsg := ""
	if runErr != nil {
		status = "failed"
		errMsg = runErr.Error()
		s.log.Error().Err(runErr).Str("task", t.id).Msg("Task run failed")
	}

	delta.Status = status
	delta.Err = runErr
	if err := s.stats.RecordRun(ctx, t.id, delta); err != nil && ctx.Err() == nil {
		s.log.Error().Err(err).Str("task", t.id).Msg("Failed to persist task stats")
	}

	finished := time.Now()
	t.release(finished, status, errMsg)

	s.log.Debug().
		Str("task", t.id).
		Dur("elapsed", finished.Sub(started)).
		Str("status", status).
		Msg("Task run finished")
}
