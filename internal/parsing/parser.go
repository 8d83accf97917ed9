// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package parsing extracts periodical issue identity (title, issue number,
// year, month, season) from release names and filenames. Extraction runs an
// ordered list of strategies; the first one that matches wins, so the
// priority order (season, volume+issue, month, issue number, bare year) is
// encoded in the list, not in nested conditionals.
package parsing

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/moistari/rls"
)

// ErrUnparseable is returned when no strategy can extract an issue identity.
var ErrUnparseable = errors.New("no issue identity could be parsed")

const (
	minValidYear = 1900
	maxValidYear = 2100
)

// ParsedIssue is the issue identity extracted from one name.
type ParsedIssue struct {
	Title     string
	RawTitle  string
	Year      int
	Month     time.Month // 0 when the name carries no month
	Season    string     // "" when not a seasonal issue
	Issue     int
	Volume    int
	IssueDate time.Time
	Special   bool
	Pattern   string // name of the strategy that matched
}

// IdentityKey is a comparable string for issue-level dedup: same key, same
// issue. Title is normalized lightly here; callers wanting fuzzy dedup
// should compare titles through the match engine instead.
func (p *ParsedIssue) IdentityKey() string {
	return fmt.Sprintf("%s|%d|%d|%s|%d|%d",
		strings.ToLower(p.Title), p.Year, int(p.Month), strings.ToLower(p.Season), p.Issue, p.Volume)
}

// parseInput carries the filename stem plus directory context for
// strategies that need a title fallback (date-only filenames).
type parseInput struct {
	stem     string
	dirTitle string
}

type strategy struct {
	name  string
	parse func(in parseInput) (*ParsedIssue, bool)
}

// Parser runs the strategy chain. Stateless and safe for concurrent use.
type Parser struct {
	strategies []strategy
}

func NewParser() *Parser {
	return &Parser{strategies: []strategy{
		{name: "volume_issue", parse: parseVolumeIssue},
		{name: "season_year", parse: parseSeasonYear},
		{name: "title_dash_monyear", parse: parseTitleDashMonYear},
		{name: "title_month_year", parse: parseTitleMonthYear},
		{name: "title_year_month", parse: parseTitleYearMonth},
		{name: "issue_number", parse: parseIssueNumber},
		{name: "date_only", parse: parseDateOnly},
		{name: "release_name", parse: parseReleaseName},
		{name: "bare_year", parse: parseBareYear},
	}}
}

// ParseName parses a bare release title or filename without path context.
func (p *Parser) ParseName(name string) (*ParsedIssue, error) {
	return p.parse(parseInput{stem: stripExtension(name)})
}

// ParseFile parses a file path; parent directories supply the title for
// date-only filenames like "Apr2001" under "2600/2001/".
func (p *Parser) ParseFile(path string) (*ParsedIssue, error) {
	return p.parse(parseInput{
		stem:     stripExtension(filepath.Base(path)),
		dirTitle: TitleFromPath(path),
	})
}

func (p *Parser) parse(in parseInput) (*ParsedIssue, error) {
	for _, s := range p.strategies {
		if parsed, ok := s.parse(in); ok {
			parsed.RawTitle = in.stem
			parsed.Pattern = s.name
			return parsed, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnparseable, in.stem)
}

var (
	// "2600.The.Hacker.Quarterly.Winter.2024", "Scientific American Spring 2024"
	reSeasonYear = regexp.MustCompile(`(?i)^(.+?)[.\s_-]+(spring|summer|fall|autumn|winter)[.\s_-]+((?:19|20)\d{2})\b`)
	// "2600.Magazine.Vol.41.No.1.Spring.2024"
	reVolumeIssue = regexp.MustCompile(`(?i)^(.+?)[.\s]+vol\.?[.\s]*(\d{1,3})[.\s]+no\.?[.\s]*(\d{1,3})(?:[.\s]+.*?)?[.\s]((?:19|20)\d{2})\b`)
	reSeason      = regexp.MustCompile(`(?i)\b(spring|summer|fall|autumn|winter)\b`)
	// "National Geographic - Dec2024"
	reTitleDashMonYear = regexp.MustCompile(`^(.+?)\s*-\s*([A-Za-z]{3,9})((?:19|20)\d{2})$`)
	// "Wired.January.2024", "Wired Magazine December 2024"
	reTitleMonthYear = regexp.MustCompile(`(?i)^(.+?)[.\s_]+([A-Za-z]{3,9})[.\s_]+((?:19|20)\d{2})\b`)
	// "National Geographic 2000-01", "PC Gamer 2023-06"
	reTitleYearMonth = regexp.MustCompile(`^(.+?)[.\s_]+((?:19|20)\d{2})-(\d{2})$`)
	// "PC.Gamer.US.No.405.2026", "Linux Format Issue 317 2024"
	reIssueNumber = regexp.MustCompile(`(?i)^(.+?)[.\s]+(?:no\.?|number|issue)[.\s]*(\d{1,4})[.\s]+((?:19|20)\d{2})(?:[.\s]+(.+))?$`)
	// "Apr2001", "April 2001"
	reDateOnly = regexp.MustCompile(`^([A-Za-z]{3,9})[\s]?((?:19|20)\d{2})$`)
	// any 4-digit year
	reBareYear = regexp.MustCompile(`((?:19|20)\d{2})`)
)

var seasonMonths = map[string]time.Month{
	"spring": time.March,
	"summer": time.June,
	"fall":   time.September,
	"autumn": time.September,
	"winter": time.December,
}

func parseSeasonYear(in parseInput) (*ParsedIssue, bool) {
	m := reSeasonYear.FindStringSubmatch(in.stem)
	if m == nil {
		return nil, false
	}
	season := titleCase(strings.ToLower(m[2]))
	year := atoi(m[3])
	month := seasonMonths[strings.ToLower(m[2])]
	return &ParsedIssue{
		Title:     CleanTitle(m[1]),
		Year:      year,
		Season:    season,
		IssueDate: date(year, month),
	}, true
}

func parseVolumeIssue(in parseInput) (*ParsedIssue, bool) {
	m := reVolumeIssue.FindStringSubmatch(in.stem)
	if m == nil {
		return nil, false
	}
	year := atoi(m[4])
	parsed := &ParsedIssue{
		Title:     CleanTitle(m[1]),
		Year:      year,
		Volume:    atoi(m[2]),
		Issue:     atoi(m[3]),
		IssueDate: date(year, time.January),
	}
	if sm := reSeason.FindString(in.stem); sm != "" {
		parsed.Season = titleCase(strings.ToLower(sm))
		parsed.IssueDate = date(year, seasonMonths[strings.ToLower(sm)])
	}
	return parsed, true
}

func parseTitleDashMonYear(in parseInput) (*ParsedIssue, bool) {
	m := reTitleDashMonYear.FindStringSubmatch(in.stem)
	if m == nil {
		return nil, false
	}
	month, ok := monthByName(m[2])
	if !ok {
		return nil, false
	}
	year := atoi(m[3])
	return &ParsedIssue{
		Title:     CleanTitle(m[1]),
		Year:      year,
		Month:     month,
		IssueDate: date(year, month),
	}, true
}

func parseTitleMonthYear(in parseInput) (*ParsedIssue, bool) {
	m := reTitleMonthYear.FindStringSubmatch(in.stem)
	if m == nil {
		return nil, false
	}
	month, ok := monthByName(m[2])
	if !ok {
		return nil, false
	}
	year := atoi(m[3])
	return &ParsedIssue{
		Title:     CleanTitle(m[1]),
		Year:      year,
		Month:     month,
		IssueDate: date(year, month),
	}, true
}

func parseTitleYearMonth(in parseInput) (*ParsedIssue, bool) {
	m := reTitleYearMonth.FindStringSubmatch(in.stem)
	if m == nil {
		return nil, false
	}
	monthNum := atoi(m[3])
	if monthNum < 1 || monthNum > 12 {
		return nil, false
	}
	year := atoi(m[2])
	month := time.Month(monthNum)
	return &ParsedIssue{
		Title:     CleanTitle(m[1]),
		Year:      year,
		Month:     month,
		IssueDate: date(year, month),
	}, true
}

func parseIssueNumber(in parseInput) (*ParsedIssue, bool) {
	m := reIssueNumber.FindStringSubmatch(in.stem)
	if m == nil {
		return nil, false
	}
	title := m[1]
	if suffix := cleanSuffix(m[4]); suffix != "" {
		title = title + " " + suffix
	}
	year := atoi(m[3])
	lower := strings.ToLower(in.stem)
	return &ParsedIssue{
		Title:     CleanTitle(title),
		Year:      year,
		Issue:     atoi(m[2]),
		IssueDate: date(year, time.January),
		Special:   strings.Contains(lower, "special") && strings.Contains(lower, "edition"),
	}, true
}

func parseDateOnly(in parseInput) (*ParsedIssue, bool) {
	m := reDateOnly.FindStringSubmatch(in.stem)
	if m == nil {
		return nil, false
	}
	month, ok := monthByName(m[1])
	if !ok {
		return nil, false
	}
	if in.dirTitle == "" {
		return nil, false
	}
	year := atoi(m[2])
	return &ParsedIssue{
		Title:     CleanTitle(in.dirTitle),
		Year:      year,
		Month:     month,
		IssueDate: date(year, month),
	}, true
}

// parseReleaseName falls back to the generic release-name parser for scene
// names the periodical patterns don't cover.
func parseReleaseName(in parseInput) (*ParsedIssue, bool) {
	r := rls.ParseString(in.stem)
	if r.Title == "" || r.Year < minValidYear || r.Year > maxValidYear {
		return nil, false
	}
	parsed := &ParsedIssue{
		Title:     CleanTitle(r.Title),
		Year:      r.Year,
		IssueDate: date(r.Year, time.Month(maxInt(int(time.January), r.Month))),
	}
	if r.Month >= 1 && r.Month <= 12 {
		parsed.Month = time.Month(r.Month)
	}
	return parsed, true
}

func parseBareYear(in parseInput) (*ParsedIssue, bool) {
	m := reBareYear.FindStringSubmatch(in.stem)
	if m == nil {
		return nil, false
	}
	year := atoi(m[1])
	if year < minValidYear || year > maxValidYear {
		return nil, false
	}
	title := in.dirTitle
	if title == "" {
		title = reBareYear.ReplaceAllString(in.stem, "")
	}
	title = CleanTitle(title)
	if title == "" {
		return nil, false
	}
	return &ParsedIssue{
		Title:     title,
		Year:      year,
		IssueDate: date(year, time.January),
	}, true
}

var reSuffixNoise = regexp.MustCompile(`(?i)\b(?:special[.\s]+edition|hybrid|magazine|digital|print|pdf)\b`)

func cleanSuffix(suffix string) string {
	if suffix == "" {
		return ""
	}
	cleaned := reSuffixNoise.ReplaceAllString(suffix, "")
	return strings.TrimSpace(cleaned)
}

// knownExtensions are the dot-suffixes safe to strip before parsing.
// Release names routinely end in a dotted year, so anything outside this
// set stays part of the name.
var knownExtensions = map[string]bool{
	".pdf": true, ".epub": true, ".mobi": true, ".cbr": true, ".cbz": true,
	".zip": true, ".rar": true, ".djvu": true,
}

func stripExtension(name string) string {
	ext := filepath.Ext(name)
	if knownExtensions[strings.ToLower(ext)] {
		return strings.TrimSuffix(name, ext)
	}
	return name
}

func date(year int, month time.Month) time.Time {
	if month == 0 {
		month = time.January
	}
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
