// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package providers defines the search provider contract and the gateway
// that fans a query out across every enabled provider.
package providers

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// Candidate is one downloadable issue offered by a provider.
type Candidate struct {
	Title             string            `json:"title"`
	URL               string            `json:"url"`
	Provider          string            `json:"provider"`
	Magazine          string            `json:"magazine,omitempty"`
	PublicationDate   *time.Time        `json:"publicationDate,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	AlreadyDownloaded bool              `json:"alreadyDownloaded"`
}

// richness counts populated fields; the gateway keeps the richest
// candidate when providers offer the same issue.
func (c *Candidate) richness() int {
	n := 0
	if c.Magazine != "" {
		n++
	}
	if c.PublicationDate != nil {
		n++
	}
	n += len(c.Metadata)
	return n
}

// SearchProvider is one searchable source of issues.
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, query string) ([]Candidate, error)
}

var (
	reHexHash = regexp.MustCompile(`^[0-9a-fA-F]{16,}$`)
	reNoAlpha = regexp.MustCompile(`^[^A-Za-z]*$`)
)

// ValidTitle rejects releases whose name carries no usable identity:
// bare hashes, password-protected markers, or names with no letters.
func ValidTitle(title string) bool {
	t := strings.TrimSpace(title)
	if len(t) < 3 {
		return false
	}
	if reHexHash.MatchString(t) || reNoAlpha.MatchString(t) {
		return false
	}
	lower := strings.ToLower(t)
	if strings.Contains(lower, "password") || strings.Contains(lower, "encrypted") {
		return false
	}
	return true
}
