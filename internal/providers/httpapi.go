// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/periodarr/periodarr/internal/buildinfo"
)

// HTTPProvider queries a JSON search endpoint of the form
// GET {baseURL}/search?q={query}&apikey={key}. Responses are a list of
// result objects; unknown fields are kept as string metadata.
type HTTPProvider struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPProvider(name, baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Name() string {
	return p.name
}

type searchResultItem struct {
	Title       string            `json:"title"`
	DownloadURL string            `json:"downloadUrl"`
	Link        string            `json:"link"`
	Magazine    string            `json:"magazine"`
	PublishDate string            `json:"publishDate"`
	Attributes  map[string]string `json:"attributes"`
}

func (p *HTTPProvider) Search(ctx context.Context, query string) ([]Candidate, error) {
	endpoint := fmt.Sprintf("%s/search?%s", p.baseURL, url.Values{
		"q":      {query},
		"apikey": {p.apiKey},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var items []searchResultItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	candidates := make([]Candidate, 0, len(items))
	for _, item := range items {
		link := item.DownloadURL
		if link == "" {
			link = item.Link
		}
		if item.Title == "" || link == "" {
			continue
		}
		c := Candidate{
			Title:    item.Title,
			URL:      link,
			Provider: p.name,
			Magazine: item.Magazine,
			Metadata: item.Attributes,
		}
		if item.PublishDate != "" {
			if ts, err := time.Parse(time.RFC3339, item.PublishDate); err == nil {
				c.PublicationDate = &ts
			}
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}
