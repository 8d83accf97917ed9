// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package providers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/periodarr/periodarr/internal/matching"
)

// ErrNoProviders is returned when the gateway has nothing to search.
var ErrNoProviders = errors.New("no search providers configured")

// ProviderTimeoutError marks a provider that did not answer within its
// timeout. It is recorded per provider, never returned for the aggregate.
type ProviderTimeoutError struct {
	Provider string
	Timeout  time.Duration
}

func (e *ProviderTimeoutError) Error() string {
	return "provider " + e.Provider + " timed out after " + e.Timeout.String()
}

// AggregateResult is the merged outcome of one fan-out search.
type AggregateResult struct {
	Candidates     []Candidate       `json:"candidates"`
	ProviderErrors map[string]string `json:"providerErrors,omitempty"`
}

// Gateway fans a query out to every provider concurrently and merges the
// answers. A failing provider degrades the result instead of failing it.
type Gateway struct {
	providers []SearchProvider
	matcher   *matching.Matcher
	timeout   time.Duration
	log       zerolog.Logger
}

func NewGateway(providers []SearchProvider, matcher *matching.Matcher, timeout time.Duration, logger zerolog.Logger) *Gateway {
	return &Gateway{
		providers: providers,
		matcher:   matcher,
		timeout:   timeout,
		log:       logger.With().Str("module", "providers").Logger(),
	}
}

// Search queries every provider with an independent timeout. Candidates
// that fail title validation are dropped; near-identical candidates from
// different providers are collapsed, keeping the richest one.
func (g *Gateway) Search(ctx context.Context, query string) (*AggregateResult, error) {
	if len(g.providers) == 0 {
		return nil, ErrNoProviders
	}

	result := &AggregateResult{ProviderErrors: make(map[string]string)}

	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)

	for _, provider := range g.providers {
		eg.Go(func() error {
			searchCtx, cancel := context.WithTimeout(egCtx, g.timeout)
			defer cancel()

			candidates, err := provider.Search(searchCtx, query)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					err = &ProviderTimeoutError{Provider: provider.Name(), Timeout: g.timeout}
				}
				g.log.Warn().Err(err).Str("provider", provider.Name()).Str("query", query).Msg("Provider search failed")
				result.ProviderErrors[provider.Name()] = err.Error()
				return nil
			}

			for _, c := range candidates {
				if !ValidTitle(c.Title) {
					continue
				}
				if c.Provider == "" {
					c.Provider = provider.Name()
				}
				result.Candidates = append(result.Candidates, c)
			}
			return nil
		})
	}

	// Goroutines swallow provider errors, so this only propagates a
	// cancelled parent context.
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	result.Candidates = g.dedupe(result.Candidates)

	g.log.Debug().
		Str("query", query).
		Int("candidates", len(result.Candidates)).
		Int("providerErrors", len(result.ProviderErrors)).
		Msg("Aggregated provider search")

	if len(result.ProviderErrors) == 0 {
		result.ProviderErrors = nil
	}
	return result, nil
}

// dedupe collapses candidates whose titles score at or above the dedup
// threshold, keeping the one with the most populated metadata. First seen
// wins ties so the output order stays stable.
func (g *Gateway) dedupe(candidates []Candidate) []Candidate {
	if len(candidates) < 2 {
		return candidates
	}

	kept := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		merged := false
		for i := range kept {
			if g.matcher.Similarity(c.Title, kept[i].Title) >= matching.DedupeThreshold {
				if c.richness() > kept[i].richness() {
					kept[i] = c
				}
				merged = true
				break
			}
		}
		if !merged {
			kept = append(kept, c)
		}
	}
	return kept
}
