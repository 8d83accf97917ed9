// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloads

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	submitFails int
	submitCalls int
	statuses    map[string]JobStatus
	statusErrs  map[string]error
	removed     []string
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) Submit(ctx context.Context, url, title string) (string, error) {
	f.submitCalls++
	if f.submitCalls <= f.submitFails {
		return "", errors.New("temporarily unavailable")
	}
	return "job-1", nil
}

func (f *fakeClient) Status(ctx context.Context, jobID string) (JobStatus, error) {
	if err, ok := f.statusErrs[jobID]; ok {
		return JobStatus{}, err
	}
	if status, ok := f.statuses[jobID]; ok {
		return status, nil
	}
	return JobStatus{State: StateMissing}, nil
}

func (f *fakeClient) Remove(ctx context.Context, jobID string, deleteFiles bool) error {
	f.removed = append(f.removed, jobID)
	return nil
}

func newTestGateway(client Client) *Gateway {
	return NewGateway(client, time.Second, 3, zerolog.Nop())
}

func TestGateway_SubmitRetries(t *testing.T) {
	t.Parallel()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		t.Parallel()

		client := &fakeClient{submitFails: 2}
		gw := newTestGateway(client)

		jobID, err := gw.Submit(context.Background(), "https://example.com/file", "Wired Jan 2024")
		require.NoError(t, err)
		assert.Equal(t, "job-1", jobID)
		assert.Equal(t, 3, client.submitCalls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		t.Parallel()

		client := &fakeClient{submitFails: 10}
		gw := newTestGateway(client)

		_, err := gw.Submit(context.Background(), "https://example.com/file", "Wired Jan 2024")
		require.Error(t, err)

		var clientErr *ClientError
		require.ErrorAs(t, err, &clientErr)
		assert.Equal(t, "fake", clientErr.Client)
		assert.Equal(t, 3, client.submitCalls)
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		t.Parallel()

		client := &fakeClient{submitFails: 10}
		gw := newTestGateway(client)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := gw.Submit(ctx, "https://example.com/file", "Wired Jan 2024")
		require.Error(t, err)
		assert.Zero(t, client.submitCalls)
	})
}

func TestGateway_StatusAll(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		statuses: map[string]JobStatus{
			"job-1": {State: StateCompleted, FilePath: "/downloads/wired.pdf"},
			"job-2": {State: StateDownloading, Progress: 0.4},
		},
		statusErrs: map[string]error{
			"job-3": errors.New("connection reset"),
		},
	}
	gw := newTestGateway(client)

	statuses, errs := gw.StatusAll(context.Background(), []string{"job-1", "job-2", "job-3"})

	require.Len(t, statuses, 2)
	assert.Equal(t, StateCompleted, statuses["job-1"].State)
	assert.Equal(t, StateDownloading, statuses["job-2"].State)

	require.Len(t, errs, 1)
	var clientErr *ClientError
	require.ErrorAs(t, errs["job-3"], &clientErr)
	assert.Equal(t, "status", clientErr.Op)
}

func TestMapState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected State
	}{
		{"queued", StateQueued},
		{"Downloading", StateDownloading},
		{"finished", StateCompleted},
		{"error", StateFailed},
		{"unknown-state", StateQueued},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, mapState(tt.input))
		})
	}
}
