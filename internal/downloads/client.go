// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package downloads defines the download client contract and a gateway
// adding retries and timeouts around it.
package downloads

import "context"

// State is a download job's lifecycle position as reported by the client.
type State string

const (
	StateQueued      State = "queued"
	StateDownloading State = "downloading"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	// StateMissing means the client no longer knows the job. The poller
	// decides whether that is a completion or a failure.
	StateMissing State = "missing"
)

// JobStatus is one job's progress snapshot.
type JobStatus struct {
	State    State   `json:"state"`
	Progress float64 `json:"progress"`
	FilePath string  `json:"filePath,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Client is a download client the system hands job URLs to.
type Client interface {
	Name() string
	Submit(ctx context.Context, url, title string) (jobID string, err error)
	Status(ctx context.Context, jobID string) (JobStatus, error)
	Remove(ctx context.Context, jobID string, deleteFiles bool) error
}
