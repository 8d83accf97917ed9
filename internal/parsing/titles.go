// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package parsing

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var monthNames = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

func monthByName(name string) (time.Month, bool) {
	m, ok := monthNames[strings.ToLower(name)]
	return m, ok
}

var (
	reWebsitePrefix = regexp.MustCompile(`(?i)^(?:www\.)?[a-z0-9-]+\.(?:com|net|org|info|me|cc)[.\s_-]+`)
	reReleaseGroup  = regexp.MustCompile(`-[A-Za-z0-9]+$`)
	reQualityTags   = regexp.MustCompile(`(?i)\b(?:720p|1080p|2160p|hybrid|webrip|web-dl|hdtv|retail|truepdf|true|hq|scan|ocr)\b`)
	reFormatTags    = regexp.MustCompile(`(?i)\b(?:pdf|epub|mobi|cbr|cbz|emag|ebook|digital|magazine|mag)\b`)
	reLanguageTags  = regexp.MustCompile(`(?i)\b(?:english|german|french|spanish|italian|dutch|eng|ger|fre|spa|ita)\b`)
	reIssueNoise    = regexp.MustCompile(`(?i)\b(?:no|number|issue|vol|volume|edition)[.\s]*\d*\b`)
	reCamelBoundary = regexp.MustCompile(`([a-z])([A-Z])`)
	reMultiSpace    = regexp.MustCompile(`\s{2,}`)
	reNonTitle      = regexp.MustCompile(`[^\p{L}\p{N}\s&'-]`)
)

// commonTitles maps normalized forms to canonical display titles for
// publications whose casing the generic title-caser gets wrong.
var commonTitles = map[string]string{
	"pc gamer":       "PC Gamer",
	"pc gamer us":    "PC Gamer US",
	"pc gamer uk":    "PC Gamer UK",
	"pc world":       "PC World",
	"gq":             "GQ",
	"wired":          "Wired",
	"2600":           "2600",
	"macworld":       "Macworld",
	"maximumpc":      "Maximum PC",
	"maximum pc":     "Maximum PC",
	"ieee spectrum":  "IEEE Spectrum",
	"mit technology": "MIT Technology",
}

var titleCaser = cases.Title(language.English, cases.NoLower)

// CleanTitle turns a raw captured title fragment into a display title:
// separators collapsed, website prefixes, quality, format, and language
// tags stripped, camelCase split, and title casing applied with overrides
// for publications with non-standard casing.
func CleanTitle(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	s = reWebsitePrefix.ReplaceAllString(s, "")
	s = reReleaseGroup.ReplaceAllString(s, "")
	s = strings.NewReplacer(".", " ", "_", " ").Replace(s)
	s = reCamelBoundary.ReplaceAllString(s, "$1 $2")
	s = reQualityTags.ReplaceAllString(s, "")
	s = reFormatTags.ReplaceAllString(s, "")
	s = reLanguageTags.ReplaceAllString(s, "")
	s = reIssueNoise.ReplaceAllString(s, "")
	s = reNonTitle.ReplaceAllString(s, " ")
	s = reMultiSpace.ReplaceAllString(s, " ")
	s = strings.TrimSpace(strings.Trim(s, "-– "))
	if s == "" {
		return ""
	}
	if canonical, ok := commonTitles[strings.ToLower(s)]; ok {
		return canonical
	}
	return titleCase(s)
}

// titleCase title-cases lowercase words but leaves existing uppercase runs
// (US, UK, IEEE) alone.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if w == strings.ToLower(w) {
			words[i] = titleCaser.String(w)
		}
	}
	return strings.Join(words, " ")
}

var skipDirNames = map[string]bool{
	"downloads": true, "complete": true, "completed": true, "incoming": true,
	"magazines": true, "periodicals": true, "import": true, "media": true,
	"books": true, "files": true, "tmp": true, "temp": true,
}

var reYearDir = regexp.MustCompile(`^(?:19|20)\d{2}$`)

// TitleFromPath walks parent directories upward and returns the first one
// that looks like a publication title, skipping year directories and
// generic library folders. Returns "" when nothing usable is found.
func TitleFromPath(path string) string {
	dir := filepath.Dir(path)
	for i := 0; i < 6 && dir != "." && dir != string(filepath.Separator); i++ {
		name := filepath.Base(dir)
		dir = filepath.Dir(dir)
		if reYearDir.MatchString(name) || skipDirNames[strings.ToLower(name)] {
			continue
		}
		if len(name) < 2 {
			continue
		}
		return name
	}
	return ""
}

var reUnsafeFilename = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// SanitizeFilename replaces characters that are unsafe in file and
// directory names across platforms.
func SanitizeFilename(name string) string {
	s := reUnsafeFilename.ReplaceAllString(name, "_")
	s = strings.Trim(s, ". ")
	if s == "" {
		return "untitled"
	}
	return s
}
