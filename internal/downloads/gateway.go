// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloads

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
)

// ClientError wraps a download client failure with the client's name so
// callers can log and count it per client.
type ClientError struct {
	Client string
	Op     string
	Err    error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("download client %s: %s: %v", e.Client, e.Op, e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }

// Gateway wraps a Client with per-call timeouts and submit retries.
type Gateway struct {
	client         Client
	timeout        time.Duration
	submitAttempts uint
	log            zerolog.Logger
}

func NewGateway(client Client, timeout time.Duration, submitAttempts int, logger zerolog.Logger) *Gateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if submitAttempts <= 0 {
		submitAttempts = 3
	}
	return &Gateway{
		client:         client,
		timeout:        timeout,
		submitAttempts: uint(submitAttempts),
		log:            logger.With().Str("module", "downloads").Str("client", client.Name()).Logger(),
	}
}

func (g *Gateway) Name() string {
	return g.client.Name()
}

// Submit hands a URL to the client, retrying transient failures with
// backoff. The context is checked inside the retried call so cancellation
// cuts the retry loop short.
func (g *Gateway) Submit(ctx context.Context, url, title string) (string, error) {
	var jobID string

	err := retry.Do(
		func() error {
			if err := ctx.Err(); err != nil {
				return retry.Unrecoverable(err)
			}
			callCtx, cancel := context.WithTimeout(ctx, g.timeout)
			defer cancel()

			id, err := g.client.Submit(callCtx, url, title)
			if err != nil {
				return err
			}
			jobID = id
			return nil
		},
		retry.Attempts(g.submitAttempts),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", &ClientError{Client: g.client.Name(), Op: "submit", Err: err}
	}

	g.log.Debug().Str("jobID", jobID).Str("title", title).Msg("Submitted download")
	return jobID, nil
}

func (g *Gateway) Status(ctx context.Context, jobID string) (JobStatus, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	status, err := g.client.Status(callCtx, jobID)
	if err != nil {
		return JobStatus{}, &ClientError{Client: g.client.Name(), Op: "status", Err: err}
	}
	return status, nil
}

func (g *Gateway) Remove(ctx context.Context, jobID string, deleteFiles bool) error {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.client.Remove(callCtx, jobID, deleteFiles); err != nil {
		return &ClientError{Client: g.client.Name(), Op: "remove", Err: err}
	}
	return nil
}

// StatusAll fetches every job's status, collecting per-job errors instead
// of failing the batch. Result and error maps are keyed by job ID.
func (g *Gateway) StatusAll(ctx context.Context, jobIDs []string) (map[string]JobStatus, map[string]error) {
	statuses := make(map[string]JobStatus, len(jobIDs))
	errs := make(map[string]error)

	for _, jobID := range jobIDs {
		if err := ctx.Err(); err != nil {
			errs[jobID] = err
			continue
		}
		status, err := g.Status(ctx, jobID)
		if err != nil {
			errs[jobID] = err
			continue
		}
		statuses[jobID] = status
	}
	return statuses, errs
}
