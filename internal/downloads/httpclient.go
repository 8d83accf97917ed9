// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloads

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/periodarr/periodarr/internal/buildinfo"
)

// ErrJobNotFound is returned when the client no longer knows a job ID.
var ErrJobNotFound = errors.New("job not found")

// HTTPClient talks to a download manager exposing a small JSON API:
// POST /jobs, GET /jobs/{id}, DELETE /jobs/{id}.
type HTTPClient struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPClient(name, baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Name() string {
	return c.name
}

type jobResponse struct {
	ID       string  `json:"id"`
	State    string  `json:"state"`
	Progress float64 `json:"progress"`
	FilePath string  `json:"filePath"`
	Error    string  `json:"error"`
}

func (c *HTTPClient) Submit(ctx context.Context, url, title string) (string, error) {
	payload, err := json.Marshal(map[string]string{"url": url, "name": title})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build submit request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", statusError("submit", resp)
	}

	var job jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return "", fmt.Errorf("failed to decode submit response: %w", err)
	}
	if job.ID == "" {
		return "", errors.New("client returned an empty job id")
	}
	return job.ID, nil
}

func (c *HTTPClient) Status(ctx context.Context, jobID string) (JobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+jobID, nil)
	if err != nil {
		return JobStatus{}, fmt.Errorf("failed to build status request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return JobStatus{}, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return JobStatus{State: StateMissing}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return JobStatus{}, statusError("status", resp)
	}

	var job jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return JobStatus{}, fmt.Errorf("failed to decode status response: %w", err)
	}

	return JobStatus{
		State:    mapState(job.State),
		Progress: job.Progress,
		FilePath: job.FilePath,
		Error:    job.Error,
	}, nil
}

func (c *HTTPClient) Remove(ctx context.Context, jobID string, deleteFiles bool) error {
	endpoint := c.baseURL + "/jobs/" + jobID
	if deleteFiles {
		endpoint += "?deleteFiles=true"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build remove request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remove request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrJobNotFound
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return statusError("remove", resp)
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	req.Header.Set("Accept", "application/json")
	if req.Method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}

func mapState(state string) State {
	switch strings.ToLower(state) {
	case "queued", "waiting":
		return StateQueued
	case "downloading", "active", "running":
		return StateDownloading
	case "completed", "done", "finished":
		return StateCompleted
	case "failed", "error":
		return StateFailed
	default:
		return StateQueued
	}
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s returned status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
}
