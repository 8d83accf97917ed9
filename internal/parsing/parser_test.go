// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package parsing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_ParseName(t *testing.T) {
	t.Parallel()

	p := NewParser()

	tests := []struct {
		name     string
		input    string
		expected ParsedIssue
	}{
		{
			name:  "issue number with region and year",
			input: "PC.Gamer.US.No.405.2026",
			expected: ParsedIssue{
				Title: "PC Gamer US",
				Issue: 405,
				Year:  2026,
			},
		},
		{
			name:  "seasonal issue",
			input: "Scientific American Spring 2024",
			expected: ParsedIssue{
				Title:  "Scientific American",
				Season: "Spring",
				Year:   2024,
				Issue:  0,
			},
		},
		{
			name:  "volume and issue",
			input: "2600.Magazine.Vol.41.No.1.Spring.2024",
			expected: ParsedIssue{
				Title:  "2600",
				Volume: 41,
				Issue:  1,
				Season: "Spring",
				Year:   2024,
			},
		},
		{
			name:  "dash month-year",
			input: "National Geographic - Dec2024",
			expected: ParsedIssue{
				Title: "National Geographic",
				Month: time.December,
				Year:  2024,
			},
		},
		{
			name:  "dotted month",
			input: "Wired.January.2024.TruePDF-mag",
			expected: ParsedIssue{
				Title: "Wired",
				Month: time.January,
				Year:  2024,
			},
		},
		{
			name:  "spaced month and year",
			input: "New Scientist December 2024",
			expected: ParsedIssue{
				Title: "New Scientist",
				Month: time.December,
				Year:  2024,
			},
		},
		{
			name:  "numeric year-month",
			input: "National Geographic 2000-01",
			expected: ParsedIssue{
				Title: "National Geographic",
				Month: time.January,
				Year:  2000,
			},
		},
		{
			name:  "season over month priority",
			input: "Cricket Winter 2023",
			expected: ParsedIssue{
				Title:  "Cricket",
				Season: "Winter",
				Year:   2023,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := p.ParseName(tt.input)
			require.NoError(t, err)

			assert.Equal(t, tt.expected.Title, got.Title)
			assert.Equal(t, tt.expected.Year, got.Year)
			assert.Equal(t, tt.expected.Month, got.Month)
			assert.Equal(t, tt.expected.Season, got.Season)
			assert.Equal(t, tt.expected.Issue, got.Issue)
			assert.Equal(t, tt.expected.Volume, got.Volume)
		})
	}
}

func TestParser_ParseFile_DateOnlyUsesDirectory(t *testing.T) {
	t.Parallel()

	p := NewParser()

	got, err := p.ParseFile("/library/2600/2001/Apr2001.pdf")
	require.NoError(t, err)

	assert.Equal(t, "2600", got.Title)
	assert.Equal(t, 2001, got.Year)
	assert.Equal(t, time.April, got.Month)
}

func TestStripExtension(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
	}{
		{"Wired.Jan.2024.pdf", "Wired.Jan.2024"},
		{"National.Geographic.2024-03.EPUB", "National.Geographic.2024-03"},
		// A trailing dotted year is part of the release name, not an
		// extension.
		{"PC.Gamer.US.No.405.2026", "PC.Gamer.US.No.405.2026"},
		{"New.Scientist.2024.12.14", "New.Scientist.2024.12.14"},
		{"MacLife.June.2021.TruePDF", "MacLife.June.2021.TruePDF"},
		{"randomfile", "randomfile"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, stripExtension(tt.input))
		})
	}
}

func TestParser_ParseName_Unparseable(t *testing.T) {
	t.Parallel()

	p := NewParser()

	_, err := p.ParseName("randomfile")
	require.ErrorIs(t, err, ErrUnparseable)
}

func TestParser_IdentityKey(t *testing.T) {
	t.Parallel()

	p := NewParser()

	a, err := p.ParseName("PC.Gamer.US.No.405.2026")
	require.NoError(t, err)
	b, err := p.ParseName("PC Gamer US No 405 2026")
	require.NoError(t, err)

	assert.Equal(t, a.IdentityKey(), b.IdentityKey())
}

func TestCleanTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected string
	}{
		{"PC.Gamer.US", "PC Gamer US"},
		{"Wired.Magazine", "Wired"},
		{"new scientist", "New Scientist"},
		{"NationalGeographic", "National Geographic"},
		{"www.example.com - Wired", "Wired"},
		{"Linux.Format.TruePDF", "Linux Format"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, CleanTitle(tt.input))
		})
	}
}

func TestTitleFromPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{"skips year directory", "/library/2600/2001/Apr2001.pdf", "2600"},
		{"direct parent", "/library/Wired/Wired.Jan.2024.pdf", "Wired"},
		{"skips generic folders", "/downloads/complete/file.pdf", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, TitleFromPath(tt.path))
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Wired_ Jan", SanitizeFilename(`Wired: Jan`))
	assert.Equal(t, "untitled", SanitizeFilename("..."))
}
