// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"github.com/go-playground/validator/v10"
)

// Config is the fully resolved application configuration. Loose key/value
// payloads from the config file are unmarshaled into these explicit fields so
// partial updates and validation stay statically checkable.
type Config struct {
	Version string `mapstructure:"-"`

	Host    string `mapstructure:"host" validate:"required"`
	Port    int    `mapstructure:"port" validate:"gt=0,lte=65535"`
	BaseURL string `mapstructure:"baseUrl"`

	LogLevel      string `mapstructure:"logLevel" validate:"omitempty,oneof=TRACE DEBUG INFO WARN ERROR trace debug info warn error"`
	LogPath       string `mapstructure:"logPath"`
	LogMaxSize    int    `mapstructure:"logMaxSize" validate:"gte=0"`
	LogMaxBackups int    `mapstructure:"logMaxBackups" validate:"gte=0"`

	DataDir string `mapstructure:"dataDir"`

	// DownloadsDir is scanned by the folder-scan task for completed files.
	DownloadsDir string `mapstructure:"downloadsDir"`
	// OrganizeDir is the root of the organized library.
	OrganizeDir string `mapstructure:"organizeDir"`
	// OrganizationPattern names the directory layout below OrganizeDir.
	// Supported placeholders: {category}, {title}, {year}, {month}.
	OrganizationPattern string `mapstructure:"organizationPattern"`

	// FuzzyThreshold is the minimum similarity score (0-100) for two titles
	// to be considered the same periodical.
	FuzzyThreshold int `mapstructure:"fuzzyThreshold" validate:"gte=0,lte=100"`
	// AmbiguousThreshold bounds the band below FuzzyThreshold in which a
	// match is surfaced for manual resolution instead of auto-merged.
	AmbiguousThreshold int `mapstructure:"ambiguousThreshold" validate:"gte=0,lte=100"`

	// MaxDownloadRetries is the failure count at which a submission is
	// quarantined as a bad file.
	MaxDownloadRetries int `mapstructure:"maxDownloadRetries" validate:"gt=0"`
	// MaxDownloadsPerBatch caps submissions per issue-discovery run.
	MaxDownloadsPerBatch int `mapstructure:"maxDownloadsPerBatch" validate:"gt=0"`

	ProviderTimeoutSeconds int `mapstructure:"providerTimeoutSeconds" validate:"gt=0"`
	ClientTimeoutSeconds   int `mapstructure:"clientTimeoutSeconds" validate:"gt=0"`

	ClientPollIntervalSeconds     int `mapstructure:"clientPollIntervalSeconds" validate:"gt=0"`
	FolderScanIntervalSeconds     int `mapstructure:"folderScanIntervalSeconds" validate:"gt=0"`
	IssueDiscoveryIntervalSeconds int `mapstructure:"issueDiscoveryIntervalSeconds" validate:"gt=0"`

	// SearchProviders are the HTTP search endpoints queried during issue
	// discovery. Issue discovery is a no-op when none are configured.
	SearchProviders []SearchProviderConfig `mapstructure:"searchProviders" validate:"dive"`

	// DownloadClient is the HTTP download client submissions are sent to.
	DownloadClient DownloadClientConfig `mapstructure:"downloadClient"`
}

// SearchProviderConfig points at one provider search endpoint.
type SearchProviderConfig struct {
	Name   string `mapstructure:"name" validate:"required"`
	URL    string `mapstructure:"url" validate:"required,url"`
	APIKey string `mapstructure:"apiKey"`
}

// DownloadClientConfig points at the download client API. An empty URL
// leaves client polling disabled.
type DownloadClientConfig struct {
	Name   string `mapstructure:"name"`
	URL    string `mapstructure:"url" validate:"omitempty,url"`
	APIKey string `mapstructure:"apiKey"`
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(c)
}
