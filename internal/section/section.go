// Package section implements a heading-heuristic segmenter: an
// ordered regex-per-type heading catalog with an abstract-before-
// introduction special case.
package section

import (
	"regexp"
	"strings"

	"github.com/agentic-kg/knowledge-core/internal/models"
)

// DefaultMaxHeadingLength is the longest a line may be and still be
// tested as a heading candidate.
const DefaultMaxHeadingLength = 100

// DefaultMinWordCount is the floor below which a detected section is
// dropped as noise.
const DefaultMinWordCount = 20

type headingPattern struct {
	sectionType models.SectionType
	pattern     *regexp.Regexp
}

// headingCatalog is tested in order; the first match wins. Numbered
// prefixes ("1.", "I.", "3.2") are optional throughout.
var headingCatalog = []headingPattern{
	{models.SectionAbstract, regexp.MustCompile(`(?i)^\s*abstract\s*$`)},
	{models.SectionIntroduction, regexp.MustCompile(`(?i)^\s*(\d+\.?\s*)?introduction\s*$`)},
	{models.SectionRelatedWork, regexp.MustCompile(`(?i)^\s*(\d+\.?\s*)?(related work|background|prior work|literature review)\s*$`)},
	{models.SectionMethod, regexp.MustCompile(`(?i)^\s*(\d+\.?\s*)?(method(ology)?|approach|model|proposed (method|approach))\s*$`)},
	{models.SectionExperiments, regexp.MustCompile(`(?i)^\s*(\d+\.?\s*)?(experiments?|evaluation|results)\s*$`)},
	{models.SectionDiscussion, regexp.MustCompile(`(?i)^\s*(\d+\.?\s*)?discussion\s*$`)},
	{models.SectionLimitations, regexp.MustCompile(`(?i)^\s*(\d+\.?\s*)?limitations?\s*$`)},
	{models.SectionFutureWork, regexp.MustCompile(`(?i)^\s*(\d+\.?\s*)?future work\s*$`)},
	{models.SectionConclusion, regexp.MustCompile(`(?i)^\s*(\d+\.?\s*)?conclusions?\s*$`)},
	{models.SectionReferences, regexp.MustCompile(`(?i)^\s*(\d+\.?\s*)?(references|bibliography)\s*$`)},
}

// Config tunes the segmenter's thresholds.
type Config struct {
	MaxHeadingLength int
	MinWordCount     int
	MaxSectionPriority int // used by GetProblemSections
}

// DefaultConfig returns the segmenter's documented defaults.
func DefaultConfig() Config {
	return Config{MaxHeadingLength: DefaultMaxHeadingLength, MinWordCount: DefaultMinWordCount, MaxSectionPriority: models.PriorityOf(models.SectionRelatedWork)}
}

type headingHit struct {
	lineIndex int
	sType     models.SectionType
}

// Segment splits full text into labeled sections. If no headings are
// detected, the entire text is emitted as one Unknown section.
func Segment(text string, cfg Config) []models.Section {
	if cfg.MaxHeadingLength <= 0 {
		cfg.MaxHeadingLength = DefaultMaxHeadingLength
	}
	if cfg.MinWordCount <= 0 {
		cfg.MinWordCount = DefaultMinWordCount
	}

	lines := strings.Split(text, "\n")
	lineOffsets := computeLineOffsets(lines)

	var hits []headingHit
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || len(trimmed) > cfg.MaxHeadingLength {
			continue
		}
		if t, ok := matchHeading(trimmed); ok {
			hits = append(hits, headingHit{lineIndex: i, sType: t})
		}
	}

	if len(hits) == 0 {
		return []models.Section{{
			Type:      models.SectionUnknown,
			Content:   strings.TrimSpace(text),
			CharRange: models.CharRange{Start: 0, End: len(text)},
			Priority:  models.PriorityOf(models.SectionUnknown),
		}}
	}

	// Special case: an abstract preceding the first heading, when that
	// heading is an introduction, is captured even when it lacks its
	// own "Abstract" line.
	var sections []models.Section
	firstHeadingOffset := lineOffsets[hits[0].lineIndex]
	preamble := strings.TrimSpace(text[:firstHeadingOffset])
	if preamble != "" && hits[0].sType == models.SectionIntroduction && wordCount(preamble) >= cfg.MinWordCount {
		sections = append(sections, models.Section{
			Type:      models.SectionAbstract,
			Content:   preamble,
			CharRange: models.CharRange{Start: 0, End: firstHeadingOffset},
			Priority:  models.PriorityOf(models.SectionAbstract),
		})
	}

	for i, h := range hits {
		start := lineOffsets[h.lineIndex]
		end := len(text)
		if i+1 < len(hits) {
			end = lineOffsets[hits[i+1].lineIndex]
		}
		content := strings.TrimSpace(text[start:end])
		if wordCount(content) < cfg.MinWordCount {
			continue
		}
		sections = append(sections, models.Section{
			Type:      h.sType,
			Title:     strings.TrimSpace(lines[h.lineIndex]),
			Content:   content,
			CharRange: models.CharRange{Start: start, End: end},
			Priority:  models.PriorityOf(h.sType),
		})
	}

	if len(sections) == 0 {
		return []models.Section{{
			Type:      models.SectionUnknown,
			Content:   strings.TrimSpace(text),
			CharRange: models.CharRange{Start: 0, End: len(text)},
			Priority:  models.PriorityOf(models.SectionUnknown),
		}}
	}
	return sections
}

// GetProblemSections filters to only the high-priority sections
// (priority at or below cfg.MaxSectionPriority), preserving order.
func GetProblemSections(sections []models.Section, cfg Config) []models.Section {
	out := make([]models.Section, 0, len(sections))
	for _, s := range sections {
		if s.Priority <= cfg.MaxSectionPriority {
			out = append(out, s)
		}
	}
	return out
}

func matchHeading(line string) (models.SectionType, bool) {
	for _, hp := range headingCatalog {
		if hp.pattern.MatchString(line) {
			return hp.sectionType, true
		}
	}
	return "", false
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

func computeLineOffsets(lines []string) []int {
	offsets := make([]int, len(lines))
	pos := 0
	for i, line := range lines {
		offsets[i] = pos
		pos += len(line) + 1 // +1 for the '\n' joined back in
	}
	return offsets
}
